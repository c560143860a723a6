package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/s0_data"
	"github.com/wonny/b3quant/pkg/logger"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// week: 2024-03-04 (Mon) .. 2024-03-08 (Fri)
var week = []time.Time{day("2024-03-04"), day("2024-03-05"), day("2024-03-06"), day("2024-03-07"), day("2024-03-08")}

// simStore: AAA3 closes 10, 11, 12, 12, 12; BBB3 flat at 20; CCC3 listed without prices.
// bbbVolume overrides BBB3 volume per day index.
func simStore(t *testing.T, bbbVolume map[int]float64) *s0_data.Store {
	t.Helper()
	snap := &s0_data.Snapshot{
		Assets: []contracts.Asset{
			{Ticker: "AAA3", Sector: "Banks"},
			{Ticker: "BBB3", Sector: "Utilities"},
			{Ticker: "CCC3", Sector: "Retail"},
		},
	}
	aaa := []float64{10, 11, 12, 12, 12}
	for i, d := range week {
		vol := 1e6
		if v, ok := bbbVolume[i]; ok {
			vol = v
		}
		snap.Prices = append(snap.Prices,
			contracts.PriceBar{Ticker: "AAA3", Date: d, Close: aaa[i], Volume: 1e6},
			contracts.PriceBar{Ticker: "BBB3", Date: d, Close: 20, Volume: vol},
		)
		snap.Benchmarks = append(snap.Benchmarks,
			contracts.BenchmarkObs{Series: contracts.SeriesCDI, Date: d, Value: 0.0004},
		)
	}
	store, err := s0_data.NewStore(snap, 1)
	require.NoError(t, err)
	return store
}

func simConfig() SimConfig {
	return SimConfig{
		InitialCapital:     100_000,
		CostBps:            5,
		SlippageBps:        10,
		MinTradeValue:      0,
		LiquidityThreshold: 5e6,
		CashAccruesCDI:     false,
		RiskFreeSeries:     contracts.SeriesCDI,
	}
}

// staticProvider returns fixed targets per date (empty portfolio otherwise)
type staticProvider struct {
	targets map[time.Time]map[string]float64
	calls   int
}

func (p *staticProvider) Targets(_ context.Context, date time.Time, current map[string]float64) (*contracts.TargetPortfolio, error) {
	p.calls++
	tp := &contracts.TargetPortfolio{Date: date}
	for _, ticker := range []string{"AAA3", "BBB3", "CCC3"} {
		if w, ok := p.targets[date][ticker]; ok && w > 0 {
			tp.Weights = append(tp.Weights, contracts.TargetWeight{Ticker: ticker, Date: date, Weight: w})
		}
	}
	tp.Cash = 1 - tp.TotalWeight()
	tp.Turnover = contracts.Turnover(tp.AsMap(), current)
	return tp, nil
}

// exitOn forces an exit for a ticker from a given date
type exitOn map[string]time.Time

func (e exitOn) ExitDue(ticker string, entryDate, date time.Time) bool {
	due, ok := e[ticker]
	return ok && entryDate.Before(due) && !date.Before(due)
}

// noLiquidityStore hides liquidity for every ticker
type noLiquidityStore struct{ *s0_data.Store }

func (s noLiquidityStore) Liquidity(ticker string, asOf time.Time) (contracts.LiquidityObs, error) {
	return contracts.LiquidityObs{}, &contracts.DataUnavailableError{Kind: contracts.KindLiquidity, Ticker: ticker, AsOf: asOf}
}

// brokenPriceStore returns a non-finite close from a date on
type brokenPriceStore struct {
	*s0_data.Store
	from time.Time
}

func (s brokenPriceStore) Price(ticker string, asOf time.Time) (contracts.PriceBar, error) {
	bar, err := s.Store.Price(ticker, asOf)
	if err == nil && !asOf.Before(s.from) {
		bar.Close = math.NaN()
	}
	return bar, err
}

func newSim(store contracts.PointInTimeReader, exit contracts.ExitRule, p contracts.TargetProvider, cfg SimConfig) *Simulator {
	if exit == nil {
		exit = exitOn{}
	}
	return NewSimulator(store, exit, p, cfg, logger.NewNop())
}
