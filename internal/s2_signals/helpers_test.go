package s2_signals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/s0_data"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func testCalendar(t *testing.T) *calendar.B3Calendar {
	t.Helper()
	cal, err := calendar.New(nil)
	require.NoError(t, err)
	return cal
}

// testStore: AAAA3 ex 03-15, BBBB3 ex 03-14, CCCC3 ex 03-14 announced on the
// ex-date itself, DDDD3 short interest published only after the test dates.
func testStore(t *testing.T) (*s0_data.Store, *calendar.B3Calendar) {
	t.Helper()
	cal := testCalendar(t)

	snap := &s0_data.Snapshot{
		Assets: []contracts.Asset{
			{Ticker: "AAAA3", Sector: "Banks"},
			{Ticker: "BBBB3", Sector: "Utilities"},
			{Ticker: "CCCC3", Sector: "Banks"},
			{Ticker: "DDDD3", Sector: "Retail"},
		},
		CorporateActions: []contracts.CorporateAction{
			{Ticker: "AAAA3", AnnounceDate: day("2024-03-01"), ExDate: day("2024-03-15"), Type: contracts.ActionDividend, Amount: 1},
			{Ticker: "BBBB3", AnnounceDate: day("2024-03-01"), ExDate: day("2024-03-14"), Type: contracts.ActionJCP, Amount: 0.5},
			{Ticker: "CCCC3", AnnounceDate: day("2024-03-14"), ExDate: day("2024-03-14"), Type: contracts.ActionDividend, Amount: 0.2},
		},
		ShortInterest: []contracts.ShortInterestObs{
			{Ticker: "AAAA3", ObservedDate: day("2024-03-01"), AvailableDate: day("2024-03-05"), Value: 1.0},
			{Ticker: "BBBB3", ObservedDate: day("2024-03-01"), AvailableDate: day("2024-03-05"), Value: 3.0},
			{Ticker: "CCCC3", ObservedDate: day("2024-03-01"), AvailableDate: day("2024-03-05"), Value: 2.0},
			{Ticker: "DDDD3", ObservedDate: day("2024-03-08"), AvailableDate: day("2024-03-20"), Value: 0.5},
		},
		Fundamentals: []contracts.FundamentalObs{
			{Ticker: "AAAA3", Field: contracts.FieldPE, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 6},
			{Ticker: "AAAA3", Field: contracts.FieldPB, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 0.9},
			{Ticker: "AAAA3", Field: contracts.FieldDividendYield, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 0.09},
			{Ticker: "AAAA3", Field: contracts.FieldROE, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 0.22},
			{Ticker: "AAAA3", Field: contracts.FieldNetDebtEBITDA, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 0.3},
			{Ticker: "BBBB3", Field: contracts.FieldPE, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 35},
			{Ticker: "BBBB3", Field: contracts.FieldNetDebtEBITDA, ReportDate: day("2023-12-31"), AvailableDate: day("2024-02-15"), Value: 4},
			// 미래 공시 (look-ahead 금지)
			{Ticker: "BBBB3", Field: contracts.FieldROE, ReportDate: day("2024-03-31"), AvailableDate: day("2024-05-15"), Value: 0.3},
		},
	}
	for _, d := range calendar.TradingDays(cal, day("2024-02-01"), day("2024-03-22")) {
		for _, tk := range []string{"AAAA3", "BBBB3", "CCCC3", "DDDD3"} {
			snap.Prices = append(snap.Prices, contracts.PriceBar{Ticker: tk, Date: d, Close: 10, Volume: 1e6})
		}
	}

	store, err := s0_data.NewStore(snap, 20)
	require.NoError(t, err)
	return store, cal
}

// fakeSource is a scripted ConvictionSource
type fakeSource struct {
	mu       sync.Mutex
	scores   map[string]float64
	errs     map[string]error
	delay    time.Duration
	calls    map[string]int
	inFlight int
	maxSeen  int
}

func newFakeSource(scores map[string]float64) *fakeSource {
	return &fakeSource{scores: scores, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSource) Score(ctx context.Context, ticker string, date time.Time) (contracts.ConvictionScore, error) {
	f.mu.Lock()
	f.calls[ticker]++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	err := f.errs[ticker]
	score := f.scores[ticker]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return contracts.ConvictionScore{}, ctx.Err()
		}
	}
	if err != nil {
		return contracts.ConvictionScore{}, err
	}
	return contracts.ConvictionScore{Ticker: ticker, Date: date, Score: score, Source: "fake"}, nil
}

func (f *fakeSource) callCount(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ticker]
}

func tieSnapshot() *s0_data.Snapshot {
	snap := &s0_data.Snapshot{}
	for _, tk := range []string{"TIEA3", "TIEB3", "TIEC3"} {
		snap.Assets = append(snap.Assets, contracts.Asset{Ticker: tk, Sector: "Banks"})
		snap.ShortInterest = append(snap.ShortInterest, contracts.ShortInterestObs{
			Ticker: tk, ObservedDate: day("2024-03-01"), AvailableDate: day("2024-03-05"), Value: 2.0,
		})
	}
	return snap
}

func mustStore(t *testing.T, snap *s0_data.Snapshot) *s0_data.Store {
	t.Helper()
	store, err := s0_data.NewStore(snap, 20)
	require.NoError(t, err)
	return store
}
