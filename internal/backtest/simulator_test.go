package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/s0_data"
)

func runWeek(t *testing.T, sim *Simulator, rebalance ...time.Time) *Record {
	t.Helper()
	rec, err := sim.Run(context.Background(), week, calendar.NewDateSet(rebalance))
	require.NoError(t, err)
	return rec
}

func TestSimulator_BuyCosts(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.5}}}
	sim := newSim(simStore(t, nil), nil, p, simConfig())

	point, err := sim.Step(context.Background(), week[0], true)
	require.NoError(t, err)

	trades := sim.record.Trades
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, contracts.SideBuy, tr.Side)
	assert.InDelta(t, 5000, tr.Shares, 1e-9)
	assert.InDelta(t, 10.01, tr.Price, 1e-12)
	assert.InDelta(t, 50050, tr.Notional, 1e-6)
	assert.InDelta(t, 25.025, tr.Cost, 1e-9)
	assert.InDelta(t, 50, tr.Slippage, 1e-9)

	assert.InDelta(t, 100_000-50_075.025, point.Cash, 1e-6)
	assert.InDelta(t, 99_924.975, point.NAV, 1e-6)
	assert.InDelta(t, -0.00075025, point.Return, 1e-12)
	assert.InDelta(t, 0.5, point.Turnover, 1e-12)
	assert.Equal(t, 1, point.Positions)

	pos := sim.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, contracts.StateHeld, pos[0].State)
	assert.Equal(t, week[0], pos[0].EntryDate)
}

func TestSimulator_ExDateHardExit(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.5}}}
	sim := newSim(simStore(t, nil), exitOn{"AAA3": week[2]}, p, simConfig())

	rec := runWeek(t, sim, week[0])

	require.Len(t, rec.Trades, 2)
	exit := rec.Trades[1]
	assert.Equal(t, contracts.SideSell, exit.Side)
	assert.Equal(t, contracts.ReasonExDate, exit.Reason)
	assert.Equal(t, week[2], exit.Date)
	assert.InDelta(t, 11.988, exit.Price, 1e-12)
	assert.InDelta(t, 59_910.03-50_075.025, exit.PnL, 1e-6)

	assert.Equal(t, 1, rec.Stats.ExDateExits)
	assert.Equal(t, 1, rec.Stats.WinningTrades)
	assert.Equal(t, 0, rec.Daily[2].Positions)
	assert.Empty(t, sim.Positions())
	// 청산 이후 NAV는 현금과 동일
	assert.Equal(t, rec.Daily[4].Cash, rec.Daily[4].NAV)
}

func TestSimulator_LiquidityStop(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.3, "BBB3": 0.3}}}
	sim := newSim(simStore(t, map[int]float64{3: 1}), nil, p, simConfig())

	rec := runWeek(t, sim, week[0])

	var stops []contracts.Trade
	for _, tr := range rec.Trades {
		if tr.Reason == contracts.ReasonLiquidity {
			stops = append(stops, tr)
		}
	}
	require.Len(t, stops, 1)
	assert.Equal(t, "BBB3", stops[0].Ticker)
	assert.Equal(t, week[3], stops[0].Date)
	assert.Equal(t, 1, rec.Stats.LiquidityExits)
	assert.Equal(t, 1, rec.Daily[4].Positions)
}

func TestSimulator_LiquidityUnavailable(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.5}}}
	sim := newSim(noLiquidityStore{simStore(t, nil)}, nil, p, simConfig())

	rec := runWeek(t, sim, week[0])

	assert.True(t, rec.Diagnostics.Has(contracts.DiagLiquidityUnavailable))
	assert.Equal(t, 1, rec.Daily[4].Positions)
	assert.Equal(t, 0, rec.Stats.LiquidityExits)
}

func TestSimulator_EmptyTargetsLiquidate(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{
		week[0]: {"AAA3": 0.4, "BBB3": 0.4},
		week[1]: {},
	}}
	sim := newSim(simStore(t, nil), nil, p, simConfig())

	rec := runWeek(t, sim, week[0], week[1])

	require.Len(t, rec.Rebalances, 2)
	assert.Equal(t, 2, rec.Rebalances[1].Trades)
	for _, tr := range rec.Trades[2:] {
		assert.Equal(t, contracts.SideSell, tr.Side)
		assert.Equal(t, contracts.ReasonRebalance, tr.Reason)
	}
	assert.Equal(t, 0, rec.Daily[1].Positions)
	assert.Equal(t, rec.Daily[1].NAV, rec.Daily[1].Cash)
	assert.Equal(t, 2, p.calls)
}

func TestSimulator_SellsBeforeBuys(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{
		week[0]: {"BBB3": 0.9},
		week[1]: {"AAA3": 0.9},
	}}
	sim := newSim(simStore(t, nil), nil, p, simConfig())

	rec := runWeek(t, sim, week[0], week[1])

	require.Len(t, rec.Trades, 3)
	assert.Equal(t, "BBB3", rec.Trades[1].Ticker)
	assert.Equal(t, contracts.SideSell, rec.Trades[1].Side)
	assert.Equal(t, "AAA3", rec.Trades[2].Ticker)
	assert.Equal(t, contracts.SideBuy, rec.Trades[2].Side)
}

func TestSimulator_PriceUnavailable(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.3, "CCC3": 0.3}}}
	sim := newSim(simStore(t, nil), nil, p, simConfig())

	rec := runWeek(t, sim, week[0])

	require.Len(t, rec.Trades, 1)
	assert.Equal(t, "AAA3", rec.Trades[0].Ticker)
	require.True(t, rec.Diagnostics.Has(contracts.DiagPriceUnavailable))
	assert.Equal(t, "CCC3", rec.Diagnostics[0].Ticker)
}

func TestSimulator_CashNeverNegative(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.5, "BBB3": 0.5}}}
	sim := newSim(simStore(t, nil), nil, p, simConfig())

	rec := runWeek(t, sim, week[0])

	for _, d := range rec.Daily {
		assert.GreaterOrEqual(t, d.Cash, 0.0)
	}
	assert.InDelta(t, 0, rec.Daily[0].Cash, 1e-6)
	assert.Equal(t, 2, rec.Daily[0].Positions)
}

func TestSimulator_MinTradeValue(t *testing.T) {
	cfg := simConfig()
	cfg.MinTradeValue = 1000
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.005}}}
	sim := newSim(simStore(t, nil), nil, p, cfg)

	rec := runWeek(t, sim, week[0])

	assert.Empty(t, rec.Trades)
	assert.Equal(t, 1, rec.Stats.SkippedDust)
}

func TestSimulator_CashAccruesCDI(t *testing.T) {
	cfg := simConfig()
	cfg.CashAccruesCDI = true
	sim := newSim(simStore(t, nil), nil, &staticProvider{}, cfg)

	rec := runWeek(t, sim)

	require.Len(t, rec.Daily, 5)
	for _, d := range rec.Daily {
		assert.InDelta(t, 0.0004, d.Return, 1e-12)
		assert.Equal(t, 0.0004, d.RiskFree)
	}
	assert.InDelta(t, 100_000*math.Pow(1.0004, 5), rec.Daily[4].NAV, 1e-6)
}

// 60일 전액 현금, 날마다 다른 CDI: Sharpe/Sortino는 정의되지 않아야 함
func TestSimulator_AllCashRiskAdjustedUndefined(t *testing.T) {
	cal, err := calendar.New(nil)
	require.NoError(t, err)
	days := calendar.TradingDays(cal, day("2024-01-02"), day("2024-06-28"))[:60]

	snap := &s0_data.Snapshot{Assets: []contracts.Asset{{Ticker: "AAA3", Sector: "Banks"}}}
	for i, d := range days {
		snap.Prices = append(snap.Prices, contracts.PriceBar{Ticker: "AAA3", Date: d, Close: 10, Volume: 1e6})
		snap.Benchmarks = append(snap.Benchmarks, contracts.BenchmarkObs{
			Series: contracts.SeriesCDI, Date: d, Value: 0.0004 + 0.0000137*float64(i%7),
		})
	}
	store, err := s0_data.NewStore(snap, 1)
	require.NoError(t, err)

	cfg := simConfig()
	cfg.CashAccruesCDI = true
	rec, err := newSim(store, nil, &staticProvider{}, cfg).Run(context.Background(), days, nil)
	require.NoError(t, err)

	s := audit.Series{}
	for _, p := range rec.Daily {
		s.Returns = append(s.Returns, p.Return)
		s.RiskFree = append(s.RiskFree, p.RiskFree)
	}
	m := audit.Evaluate(s)
	assert.False(t, m.Sharpe.Valid)
	assert.False(t, m.Sortino.Valid)
	assert.True(t, m.TotalReturn.Valid)
}

func TestSimulator_Divergence(t *testing.T) {
	store := brokenPriceStore{Store: simStore(t, nil), from: week[2]}
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.5}}}
	sim := newSim(store, nil, p, simConfig())

	_, err := sim.Run(context.Background(), week, calendar.NewDateSet([]time.Time{week[0]}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrSimulationDivergence))

	var div *contracts.DivergenceError
	require.True(t, errors.As(err, &div))
	assert.Equal(t, week[2], div.Date)
}

func TestSimulator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim := newSim(simStore(t, nil), nil, &staticProvider{}, simConfig())

	_, err := sim.Run(ctx, week, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_Deterministic(t *testing.T) {
	targets := map[time.Time]map[string]float64{
		week[0]: {"AAA3": 0.4, "BBB3": 0.4},
		week[2]: {"AAA3": 0.1, "BBB3": 0.6},
	}
	run := func() []byte {
		sim := newSim(simStore(t, nil), exitOn{"AAA3": week[3]}, &staticProvider{targets: targets}, simConfig())
		rec := runWeek(t, sim, week[0], week[2])
		b, err := json.Marshal(rec)
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, run(), run())
}

func TestSimulator_ResetClearsState(t *testing.T) {
	p := &staticProvider{targets: map[time.Time]map[string]float64{week[0]: {"AAA3": 0.5}}}
	sim := newSim(simStore(t, nil), nil, p, simConfig())
	runWeek(t, sim, week[0])
	require.NotEmpty(t, sim.Positions())

	sim.Reset(50_000)
	assert.Empty(t, sim.Positions())
	assert.Equal(t, 50_000.0, sim.NAV())
	assert.Equal(t, 50_000.0, sim.Cash())
	assert.Zero(t, sim.Stats().TotalTrades)
}
