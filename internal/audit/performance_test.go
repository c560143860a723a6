package audit

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/contracts"
)

func TestEvaluate_KnownValues(t *testing.T) {
	s := Series{
		Returns:      []float64{0.01, -0.02, 0.03, 0.0},
		RiskFree:     []float64{0, 0, 0, 0},
		Benchmark:    []float64{0.01, -0.02, 0.03, 0.0},
		RebalanceIdx: []int{0, 2},
		Turnovers:    []float64{1.0, 0.4},
	}
	m := Evaluate(s)

	assert.Equal(t, 4, m.Days)
	assert.Equal(t, 2, m.RebalancePeriods)
	assert.InDelta(t, 1.01*0.98*1.03-1, m.TotalReturn.Value, 1e-12)
	assert.InDelta(t, math.Pow(1.01*0.98*1.03, 252.0/4)-1, m.CAGR.Value, 1e-9)
	assert.InDelta(t, 0.02, m.MaxDrawdown.Value, 1e-12)

	std := math.Sqrt(0.0013 / 3)
	assert.InDelta(t, std*math.Sqrt(252), m.Volatility.Value, 1e-12)
	assert.InDelta(t, 0.005/std*math.Sqrt(252), m.Sharpe.Value, 1e-9)
	assert.InDelta(t, 0.005/0.02*math.Sqrt(252), m.Sortino.Value, 1e-9)
	assert.InDelta(t, m.CAGR.Value/0.02, m.Calmar.Value, 1e-9)

	// [0.01,-0.02] 손실, [0.03,0] 이익
	assert.InDelta(t, 0.5, m.HitRate.Value, 1e-12)
	assert.InDelta(t, 0.7, m.AvgTurnover.Value, 1e-12)
	assert.InDelta(t, 1.4, m.TotalTurnover.Value, 1e-12)

	assert.True(t, m.TrackingError.Valid)
	assert.InDelta(t, 0, m.TrackingError.Value, 1e-12)
	assert.InDelta(t, m.CAGR.Value, m.BenchmarkCAGR.Value, 1e-12)
	assert.InDelta(t, 0, m.RiskFreeCAGR.Value, 1e-12)
	assert.InDelta(t, m.CAGR.Value, m.ExcessReturnOverRF.Value, 1e-12)
}

func TestEvaluate_ExcessOverCDI(t *testing.T) {
	n := 252
	s := Series{Returns: make([]float64, n), RiskFree: make([]float64, n)}
	for i := range s.Returns {
		s.RiskFree[i] = 0.0004
		s.Returns[i] = 0.0004
		if i%2 == 0 {
			s.Returns[i] = 0.0014
		}
	}
	m := Evaluate(s)

	assert.InDelta(t, math.Pow(1.0004, 252)-1, m.RiskFreeCAGR.Value, 1e-12)
	assert.Greater(t, m.Sharpe.Value, 0.0)
	// 초과수익이 음수인 날이 없음
	assert.False(t, m.Sortino.Valid)
	assert.Equal(t, "no downside observations", m.Sortino.Reason)
	assert.False(t, m.TrackingError.Valid)
	assert.False(t, m.BenchmarkCAGR.Valid)
	assert.True(t, m.TrackingErrorCDI.Valid)
}

func TestEvaluate_UndefinedCases(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		m := Evaluate(Series{})
		for name, metric := range m.Map() {
			assert.False(t, metric.Valid, name)
			assert.True(t, math.IsNaN(metric.Value), name)
		}
	})

	t.Run("zero variance", func(t *testing.T) {
		s := Series{
			Returns:  []float64{0.001, 0.001, 0.001},
			RiskFree: []float64{0.001, 0.001, 0.001},
		}
		m := Evaluate(s)
		assert.False(t, m.Sharpe.Valid)
		assert.Equal(t, "zero variance", m.Sharpe.Reason)
		assert.True(t, m.MaxDrawdown.Valid)
		assert.Zero(t, m.MaxDrawdown.Value)
		assert.False(t, m.Calmar.Valid)
		assert.Equal(t, "zero drawdown", m.Calmar.Reason)
		assert.False(t, m.HitRate.Valid)
		assert.False(t, m.AvgTurnover.Valid)
	})

	t.Run("single observation", func(t *testing.T) {
		m := Evaluate(Series{Returns: []float64{0.01}})
		assert.True(t, m.TotalReturn.Valid)
		assert.False(t, m.Volatility.Valid)
		assert.False(t, m.Sharpe.Valid)
	})

	t.Run("wiped out", func(t *testing.T) {
		m := Evaluate(Series{Returns: []float64{-1, 0}})
		assert.False(t, m.CAGR.Valid)
		assert.False(t, m.Calmar.Valid)
		assert.InDelta(t, 1.0, m.MaxDrawdown.Value, 1e-12)
	})
}

// All-cash NAV compounding a varying CDI rate: excess returns are rounding noise only
func TestEvaluate_AllCashAccruingCDI(t *testing.T) {
	n := 60
	s := Series{Returns: make([]float64, n), RiskFree: make([]float64, n)}
	nav := 100_000.0
	for i := range s.Returns {
		rate := 0.0004 + 0.0000137*float64(i%7)
		next := nav * (1 + rate)
		s.RiskFree[i] = rate
		s.Returns[i] = next/nav - 1
		nav = next
	}

	m := Evaluate(s)
	assert.False(t, m.Sharpe.Valid)
	assert.Equal(t, "zero variance", m.Sharpe.Reason)
	assert.False(t, m.Sortino.Valid)
	assert.Equal(t, "zero variance", m.Sortino.Reason)
	assert.True(t, m.Volatility.Valid)
	assert.InDelta(t, m.RiskFreeCAGR.Value, m.CAGR.Value, 1e-9)
}

func TestNegligible(t *testing.T) {
	tests := []struct {
		name      string
		std, mean float64
		want      bool
	}{
		{"exact zero", 0, 0, true},
		{"rounding noise", 3e-19, 1e-19, true},
		{"scaled by mean", 5e-12, 10, true},
		{"real daily volatility", 1e-4, 0.0005, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, negligible(tt.std, tt.mean))
		})
	}
}

func TestCalculateHitRate(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.0, -0.01}
	m := calculateHitRate(returns, []int{0, 2, 4})
	assert.InDelta(t, 1.0/3.0, m.Value, 1e-12)
}

func TestSeries_Concat(t *testing.T) {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a := Series{
		Dates: []time.Time{d, d.AddDate(0, 0, 1)}, Returns: []float64{0.01, 0.02}, RiskFree: []float64{0, 0},
		Benchmark: []float64{0, 0}, RebalanceIdx: []int{0}, Turnovers: []float64{1},
	}
	b := Series{
		Dates: []time.Time{d.AddDate(0, 0, 2)}, Returns: []float64{0.03}, RiskFree: []float64{0},
		Benchmark: []float64{0.01}, RebalanceIdx: []int{0}, Turnovers: []float64{0.5},
	}

	c := Series{}.Concat(a).Concat(b)
	assert.Equal(t, []float64{0.01, 0.02, 0.03}, c.Returns)
	assert.Equal(t, []int{0, 2}, c.RebalanceIdx)
	assert.Equal(t, []float64{1, 0.5}, c.Turnovers)
	assert.Len(t, c.Benchmark, 3)

	b.Benchmark = nil
	assert.Nil(t, a.Concat(b).Benchmark)
}

func TestSharpeStability(t *testing.T) {
	m := SharpeStability([]contracts.Metric{contracts.Defined(1), contracts.Defined(3), contracts.Undefined("x")})
	require.True(t, m.Valid)
	assert.InDelta(t, math.Sqrt(2)/2, m.Value, 1e-12)

	assert.False(t, SharpeStability([]contracts.Metric{contracts.Defined(1)}).Valid)
	assert.False(t, SharpeStability([]contracts.Metric{contracts.Defined(1), contracts.Defined(-1)}).Valid)
	assert.False(t, SharpeStability([]contracts.Metric{contracts.Defined(1), contracts.Defined(-1 + 1e-15)}).Valid)
}

func TestAttributeTrades(t *testing.T) {
	trades := []contracts.Trade{
		{Ticker: "A", Side: contracts.SideBuy, Notional: 100, Cost: 0.05, Slippage: 0.1, Reason: contracts.ReasonRebalance},
		{Ticker: "A", Side: contracts.SideSell, Notional: 110, Cost: 0.05, Slippage: 0.1, Reason: contracts.ReasonExDate, PnL: 9.7},
		{Ticker: "B", Side: contracts.SideSell, Notional: 50, Reason: contracts.ReasonLiquidity, PnL: -2},
	}
	attrs := AttributeTrades(trades)
	require.Len(t, attrs, 3)
	assert.Equal(t, contracts.ReasonExDate, attrs[0].Reason)
	assert.Equal(t, 1.0, attrs[0].WinRate())
	assert.InDelta(t, 9.7, attrs[0].RealizedPnL, 1e-12)
	assert.Equal(t, contracts.ReasonLiquidity, attrs[1].Reason)
	assert.Equal(t, 0.0, attrs[1].WinRate())
	assert.Equal(t, contracts.ReasonRebalance, attrs[2].Reason)
	assert.InDelta(t, 0.15, attrs[2].Costs, 1e-12)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Latest(ctx, "")
	assert.ErrorIs(t, err, ErrReportNotFound)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, StoredReport{ID: "r1", Kind: KindBacktest, CreatedAt: base, Payload: []byte(`{}`)}))
	require.NoError(t, store.Save(ctx, StoredReport{ID: "r2", Kind: KindWalkForward, CreatedAt: base.Add(time.Hour), Payload: []byte(`{}`)}))

	latest, err := store.Latest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)
	assert.NotEmpty(t, latest.Payload)

	latest, err = store.Latest(ctx, KindBacktest)
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.ID)

	list, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r2", list[0].ID)
	assert.Nil(t, list[0].Payload)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestEvaluate_TailRisk(t *testing.T) {
	short := Evaluate(Series{Returns: []float64{-0.01, 0.02}, RiskFree: []float64{0, 0}})
	assert.False(t, short.VaR95.Valid)
	assert.Equal(t, "fewer than 20 days", short.VaR95.Reason)

	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.002
	}
	returns[3], returns[17], returns[31] = -0.03, -0.02, -0.01

	m := Evaluate(Series{Returns: returns, RiskFree: make([]float64, len(returns))})
	require.True(t, m.VaR95.Valid)
	require.True(t, m.CVaR95.Valid)
	// floor(0.05·40) = 2 → 3rd worst day; tail mean of the three losses
	assert.InDelta(t, 0.01, m.VaR95.Value, 1e-12)
	assert.InDelta(t, 0.02, m.CVaR95.Value, 1e-12)
}
