package contracts

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Metric is a value with an explicit validity flag.
// 분모가 0인 경우 NaN 대신 Valid=false + Reason
type Metric struct {
	Value  float64 `json:"value"`
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
}

// Defined wraps a finite value
func Defined(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined("non-finite")
	}
	return Metric{Value: v, Valid: true}
}

// Undefined returns the sentinel for an undefined metric
func Undefined(reason string) Metric {
	return Metric{Value: math.NaN(), Reason: reason}
}

// MarshalJSON renders undefined values as null
func (m Metric) MarshalJSON() ([]byte, error) {
	type out struct {
		Value  *float64 `json:"value"`
		Valid  bool     `json:"valid"`
		Reason string   `json:"reason,omitempty"`
	}
	o := out{Valid: m.Valid, Reason: m.Reason}
	if m.Valid {
		v := m.Value
		o.Value = &v
	}
	return json.Marshal(o)
}

// UnmarshalJSON restores NaN for null values
func (m *Metric) UnmarshalJSON(data []byte) error {
	var in struct {
		Value  *float64 `json:"value"`
		Valid  bool     `json:"valid"`
		Reason string   `json:"reason"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Valid, m.Reason = in.Valid, in.Reason
	m.Value = math.NaN()
	if in.Value != nil {
		m.Value = *in.Value
	}
	return nil
}

func (m Metric) String() string {
	if !m.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", m.Value)
}

// MetricSet is the output of the evaluation engine
type MetricSet struct {
	Days               int    `json:"days"`
	RebalancePeriods   int    `json:"rebalance_periods"`
	TotalReturn        Metric `json:"total_return"`
	CAGR               Metric `json:"cagr"`
	Volatility         Metric `json:"volatility"`
	Sharpe             Metric `json:"sharpe"`
	Sortino            Metric `json:"sortino"`
	MaxDrawdown        Metric `json:"max_drawdown"`
	Calmar             Metric `json:"calmar"`
	HitRate            Metric `json:"hit_rate"`
	AvgTurnover        Metric `json:"avg_turnover"`
	TotalTurnover      Metric `json:"total_turnover"`
	TrackingError      Metric `json:"tracking_error"`     // vs market index
	TrackingErrorCDI   Metric `json:"tracking_error_cdi"` // vs risk-free
	BenchmarkCAGR      Metric `json:"benchmark_cagr"`
	RiskFreeCAGR       Metric `json:"risk_free_cagr"`
	ExcessReturnOverRF Metric `json:"excess_return_over_rf"`
	VaR95              Metric `json:"var_95"`  // historical, daily loss
	CVaR95             Metric `json:"cvar_95"` // expected shortfall
}

// Map flattens the set into metric_name → value
func (m MetricSet) Map() map[string]Metric {
	return map[string]Metric{
		"total_return":          m.TotalReturn,
		"cagr":                  m.CAGR,
		"volatility":            m.Volatility,
		"sharpe":                m.Sharpe,
		"sortino":               m.Sortino,
		"max_drawdown":          m.MaxDrawdown,
		"calmar":                m.Calmar,
		"hit_rate":              m.HitRate,
		"avg_turnover":          m.AvgTurnover,
		"total_turnover":        m.TotalTurnover,
		"tracking_error":        m.TrackingError,
		"tracking_error_cdi":    m.TrackingErrorCDI,
		"benchmark_cagr":        m.BenchmarkCAGR,
		"risk_free_cagr":        m.RiskFreeCAGR,
		"excess_return_over_rf": m.ExcessReturnOverRF,
		"var_95":                m.VaR95,
		"cvar_95":               m.CVaR95,
	}
}

// Window identifies a walk-forward split
type Window struct {
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// ID renders the window tuple as a stable identifier
func (w Window) ID() string {
	const f = "20060102"
	return fmt.Sprintf("%s-%s_%s-%s", w.TrainStart.Format(f), w.TrainEnd.Format(f), w.TestStart.Format(f), w.TestEnd.Format(f))
}

// PerformanceRecord is the per-split metric record
type PerformanceRecord struct {
	WindowID string            `json:"window_id"`
	Window   Window            `json:"window"`
	Metrics  map[string]Metric `json:"metrics"`
}

// NewPerformanceRecord builds a record from a window and metric set
func NewPerformanceRecord(w Window, m MetricSet) PerformanceRecord {
	return PerformanceRecord{WindowID: w.ID(), Window: w, Metrics: m.Map()}
}
