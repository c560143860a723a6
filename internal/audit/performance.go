package audit

import (
	"math"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/risk"
)

// TradingDaysPerYear is the B3 annualization constant
const TradingDaysPerYear = 252.0

// Series is the evaluation input: aligned daily series for one run or split
type Series struct {
	Dates     []time.Time `json:"dates"`
	Returns   []float64   `json:"returns"`             // portfolio daily returns
	RiskFree  []float64   `json:"risk_free"`           // CDI daily rate per day
	Benchmark []float64   `json:"benchmark,omitempty"` // IBOV daily returns (nil if unavailable)

	RebalanceIdx []int     `json:"rebalance_idx"` // index into Returns of each rebalance day
	Turnovers    []float64 `json:"turnovers"`     // realized turnover per rebalance
}

// Len returns the number of daily observations
func (s Series) Len() int {
	return len(s.Returns)
}

// Concat appends other after s, shifting rebalance indices
func (s Series) Concat(other Series) Series {
	offset := len(s.Returns)
	out := Series{
		Dates:     append(append([]time.Time(nil), s.Dates...), other.Dates...),
		Returns:   append(append([]float64(nil), s.Returns...), other.Returns...),
		RiskFree:  append(append([]float64(nil), s.RiskFree...), other.RiskFree...),
		Turnovers: append(append([]float64(nil), s.Turnovers...), other.Turnovers...),
	}
	if (s.Benchmark != nil || offset == 0) && other.Benchmark != nil {
		out.Benchmark = append(append([]float64(nil), s.Benchmark...), other.Benchmark...)
	}
	out.RebalanceIdx = append([]int(nil), s.RebalanceIdx...)
	for _, i := range other.RebalanceIdx {
		out.RebalanceIdx = append(out.RebalanceIdx, i+offset)
	}
	return out
}

// Evaluate computes every metric for the series. It is pure; undefined
// values (zero variance, no drawdown, empty input) come back with Valid=false.
// ⭐ SSOT: 성과 지표 계산은 여기서만
func Evaluate(s Series) contracts.MetricSet {
	n := s.Len()
	m := contracts.MetricSet{Days: n, RebalancePeriods: len(s.RebalanceIdx)}
	if n == 0 {
		empty := contracts.Undefined("empty series")
		m.TotalReturn, m.CAGR, m.Volatility, m.Sharpe, m.Sortino = empty, empty, empty, empty, empty
		m.MaxDrawdown, m.Calmar, m.HitRate, m.AvgTurnover, m.TotalTurnover = empty, empty, empty, empty, empty
		m.TrackingError, m.TrackingErrorCDI, m.BenchmarkCAGR, m.RiskFreeCAGR, m.ExcessReturnOverRF = empty, empty, empty, empty, empty
		m.VaR95, m.CVaR95 = empty, empty
		return m
	}

	rf := aligned(s.RiskFree, n)
	excess := make([]float64, n)
	for i, r := range s.Returns {
		excess[i] = r - rf[i]
	}

	total := calculateTotalReturn(s.Returns)
	m.TotalReturn = contracts.Defined(total)
	m.CAGR = annualize(total, n)
	m.Volatility = calculateVolatility(s.Returns)
	m.Sharpe = calculateSharpe(excess)
	m.Sortino = calculateSortino(excess)
	m.MaxDrawdown = contracts.Defined(calculateMaxDrawdown(s.Returns))

	switch {
	case !m.CAGR.Valid:
		m.Calmar = contracts.Undefined("cagr undefined")
	case m.MaxDrawdown.Value == 0:
		m.Calmar = contracts.Undefined("zero drawdown")
	default:
		m.Calmar = contracts.Defined(m.CAGR.Value / m.MaxDrawdown.Value)
	}

	m.VaR95, m.CVaR95 = tailRisk(s.Returns)

	m.HitRate = calculateHitRate(s.Returns, s.RebalanceIdx)
	if len(s.Turnovers) == 0 {
		m.AvgTurnover = contracts.Undefined("no rebalances")
		m.TotalTurnover = contracts.Undefined("no rebalances")
	} else {
		sum := 0.0
		for _, t := range s.Turnovers {
			sum += t
		}
		m.TotalTurnover = contracts.Defined(sum)
		m.AvgTurnover = contracts.Defined(sum / float64(len(s.Turnovers)))
	}

	m.RiskFreeCAGR = annualize(calculateTotalReturn(rf), n)
	m.TrackingErrorCDI = trackingError(s.Returns, rf)
	if m.CAGR.Valid && m.RiskFreeCAGR.Valid {
		m.ExcessReturnOverRF = contracts.Defined(m.CAGR.Value - m.RiskFreeCAGR.Value)
	} else {
		m.ExcessReturnOverRF = contracts.Undefined("cagr undefined")
	}

	if len(s.Benchmark) == n {
		m.TrackingError = trackingError(s.Returns, s.Benchmark)
		m.BenchmarkCAGR = annualize(calculateTotalReturn(s.Benchmark), n)
	} else {
		m.TrackingError = contracts.Undefined("benchmark unavailable")
		m.BenchmarkCAGR = contracts.Undefined("benchmark unavailable")
	}

	return m
}

// tailRisk reports the 95% historical VaR/CVaR of daily returns
func tailRisk(returns []float64) (contracts.Metric, contracts.Metric) {
	if len(returns) < risk.MinObservations {
		u := contracts.Undefined("fewer than 20 days")
		return u, u
	}
	tail, ok := risk.HistoricalTail(returns, risk.DefaultConfidence)
	if !ok {
		u := contracts.Undefined("non-finite returns")
		return u, u
	}
	return contracts.Defined(tail.VaR), contracts.Defined(tail.CVaR)
}

// aligned pads or truncates xs to n values (missing → 0)
func aligned(xs []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, xs)
	return out
}

// calculateTotalReturn calculates cumulative return
func calculateTotalReturn(dailyReturns []float64) float64 {
	cumReturn := 1.0
	for _, r := range dailyReturns {
		cumReturn *= 1.0 + r
	}
	return cumReturn - 1.0
}

// annualize converts a total return over days to a compound annual rate
func annualize(totalReturn float64, days int) contracts.Metric {
	if days == 0 {
		return contracts.Undefined("empty series")
	}
	if 1+totalReturn <= 0 {
		return contracts.Undefined("capital wiped out")
	}
	return contracts.Defined(math.Pow(1.0+totalReturn, TradingDaysPerYear/float64(days)) - 1.0)
}

// zeroVarianceTol bounds float noise: a std at or below tol·max(1,|mean|) counts as zero.
// 전액 현금 + CDI 이자 구간의 초과수익은 1e-19 수준의 반올림 오차만 남음
const zeroVarianceTol = 1e-12

func negligible(std, mean float64) bool {
	return std <= zeroVarianceTol*math.Max(1, math.Abs(mean))
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var variance float64
	for _, x := range xs {
		diff := x - mean
		variance += diff * diff
	}
	variance /= float64(len(xs) - 1)
	return mean, math.Sqrt(variance)
}

// calculateVolatility calculates annualized volatility (sample std)
func calculateVolatility(dailyReturns []float64) contracts.Metric {
	if len(dailyReturns) < 2 {
		return contracts.Undefined("fewer than 2 observations")
	}
	_, std := meanStd(dailyReturns)
	return contracts.Defined(std * math.Sqrt(TradingDaysPerYear))
}

// calculateSharpe: mean(excess)/std(excess)·√252
func calculateSharpe(excess []float64) contracts.Metric {
	if len(excess) < 2 {
		return contracts.Undefined("fewer than 2 observations")
	}
	mean, std := meanStd(excess)
	if negligible(std, mean) {
		return contracts.Undefined("zero variance")
	}
	return contracts.Defined(mean / std * math.Sqrt(TradingDaysPerYear))
}

// calculateSortino: downside deviation over negative-excess days only
func calculateSortino(excess []float64) contracts.Metric {
	if len(excess) < 2 {
		return contracts.Undefined("fewer than 2 observations")
	}
	mean, std := meanStd(excess)
	if negligible(std, mean) {
		return contracts.Undefined("zero variance")
	}
	var sumSquaredNegative float64
	var countNegative int
	for _, e := range excess {
		if e < 0 {
			sumSquaredNegative += e * e
			countNegative++
		}
	}
	if countNegative == 0 {
		return contracts.Undefined("no downside observations")
	}
	downside := math.Sqrt(sumSquaredNegative / float64(countNegative))
	if negligible(downside, mean) {
		return contracts.Undefined("zero downside deviation")
	}
	return contracts.Defined(mean / downside * math.Sqrt(TradingDaysPerYear))
}

// calculateMaxDrawdown returns the largest peak-to-trough loss as a positive fraction
func calculateMaxDrawdown(dailyReturns []float64) float64 {
	cumValue := 1.0
	peak := 1.0
	maxDD := 0.0

	for _, r := range dailyReturns {
		cumValue *= 1.0 + r
		if cumValue > peak {
			peak = cumValue
		}
		if dd := (peak - cumValue) / peak; dd > maxDD {
			maxDD = dd
		}
	}

	return maxDD
}

// calculateHitRate: share of rebalance periods with a positive compounded return.
// A period runs from one rebalance day up to (excluding) the next.
func calculateHitRate(dailyReturns []float64, rebalanceIdx []int) contracts.Metric {
	if len(rebalanceIdx) == 0 {
		return contracts.Undefined("no rebalance periods")
	}
	hits := 0
	for i, start := range rebalanceIdx {
		end := len(dailyReturns)
		if i+1 < len(rebalanceIdx) {
			end = rebalanceIdx[i+1]
		}
		if start < 0 || start >= end || end > len(dailyReturns) {
			continue
		}
		if calculateTotalReturn(dailyReturns[start:end]) > 0 {
			hits++
		}
	}
	return contracts.Defined(float64(hits) / float64(len(rebalanceIdx)))
}

// trackingError: annualized std of daily return differences
func trackingError(returns, benchmark []float64) contracts.Metric {
	if len(returns) < 2 {
		return contracts.Undefined("fewer than 2 observations")
	}
	diffs := make([]float64, len(returns))
	for i := range returns {
		diffs[i] = returns[i] - benchmark[i]
	}
	_, std := meanStd(diffs)
	return contracts.Defined(std * math.Sqrt(TradingDaysPerYear))
}

// SharpeStability returns std/|mean| of split Sharpe ratios.
// Undefined with fewer than 2 valid values or a (numerically) zero mean.
func SharpeStability(sharpes []contracts.Metric) contracts.Metric {
	var values []float64
	for _, s := range sharpes {
		if s.Valid {
			values = append(values, s.Value)
		}
	}
	if len(values) < 2 {
		return contracts.Undefined("fewer than 2 valid splits")
	}
	mean, std := meanStd(values)
	if math.Abs(mean) <= zeroVarianceTol {
		return contracts.Undefined("zero mean sharpe")
	}
	return contracts.Defined(std / math.Abs(mean))
}
