package s0_data

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
)

// ErrInvalidSnapshot is returned when ingested data violates a data invariant
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// DefaultLiquidityLookback is the number of bars averaged for liquidity
const DefaultLiquidityLookback = 20

// Snapshot is the raw ingested data handed to NewStore
type Snapshot struct {
	Assets           []contracts.Asset            `yaml:"assets" json:"assets"`
	Prices           []contracts.PriceBar         `yaml:"prices" json:"prices"`
	CorporateActions []contracts.CorporateAction  `yaml:"corporate_actions" json:"corporate_actions"`
	ShortInterest    []contracts.ShortInterestObs `yaml:"short_interest" json:"short_interest"`
	Fundamentals     []contracts.FundamentalObs   `yaml:"fundamentals" json:"fundamentals"`
	Benchmarks       []contracts.BenchmarkObs     `yaml:"benchmarks" json:"benchmarks"`
}

// Store is the point-in-time accessor over a frozen snapshot.
// 생성 이후 불변 → 동시 조회에 락 불필요
// ⭐ SSOT: look-ahead 방지는 이 타입에서만 보장
type Store struct {
	assets        map[string]contracts.Asset
	tickers       []string
	prices        map[string][]contracts.PriceBar         // by Date
	actions       map[string][]contracts.CorporateAction  // by AnnounceDate
	shortInterest map[string][]contracts.ShortInterestObs // by AvailableDate
	fundamentals  map[string][]contracts.FundamentalObs   // key ticker|field, by AvailableDate
	benchmarks    map[string][]contracts.BenchmarkObs     // by Date
	lookback      int
}

var _ contracts.PointInTimeReader = (*Store)(nil)

// NewStore validates, normalizes and freezes a snapshot
func NewStore(snap *Snapshot, liquidityLookback int) (*Store, error) {
	if liquidityLookback <= 0 {
		liquidityLookback = DefaultLiquidityLookback
	}

	s := &Store{
		assets:        make(map[string]contracts.Asset, len(snap.Assets)),
		prices:        make(map[string][]contracts.PriceBar),
		actions:       make(map[string][]contracts.CorporateAction),
		shortInterest: make(map[string][]contracts.ShortInterestObs),
		fundamentals:  make(map[string][]contracts.FundamentalObs),
		benchmarks:    make(map[string][]contracts.BenchmarkObs),
		lookback:      liquidityLookback,
	}

	for _, a := range snap.Assets {
		if a.Ticker == "" {
			return nil, fmt.Errorf("%w: asset with empty ticker", ErrInvalidSnapshot)
		}
		if _, dup := s.assets[a.Ticker]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidSnapshot, a.Ticker)
		}
		a.ListedFrom = normalize(a.ListedFrom)
		s.assets[a.Ticker] = a
		s.tickers = append(s.tickers, a.Ticker)
	}
	sort.Strings(s.tickers)

	if err := s.ingestPrices(snap.Prices); err != nil {
		return nil, err
	}
	if err := s.ingestActions(snap.CorporateActions); err != nil {
		return nil, err
	}
	if err := s.ingestShortInterest(snap.ShortInterest); err != nil {
		return nil, err
	}
	if err := s.ingestFundamentals(snap.Fundamentals); err != nil {
		return nil, err
	}
	if err := s.ingestBenchmarks(snap.Benchmarks); err != nil {
		return nil, err
	}
	return s, nil
}

func normalize(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return contracts.DateOnly(t)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s *Store) requireAsset(kind contracts.EntityKind, ticker string) error {
	if _, ok := s.assets[ticker]; !ok {
		return fmt.Errorf("%w: %s for unknown asset %q", ErrInvalidSnapshot, kind, ticker)
	}
	return nil
}

func (s *Store) ingestPrices(bars []contracts.PriceBar) error {
	for _, b := range bars {
		if err := s.requireAsset(contracts.KindPrice, b.Ticker); err != nil {
			return err
		}
		if !finite(b.Close) || b.Close <= 0 || !finite(b.Volume) || b.Volume < 0 {
			return fmt.Errorf("%w: bad price bar %s %s", ErrInvalidSnapshot, b.Ticker, b.Date.Format("2006-01-02"))
		}
		b.Date = contracts.DateOnly(b.Date)
		s.prices[b.Ticker] = append(s.prices[b.Ticker], b)
	}
	for ticker, series := range s.prices {
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		for i := 1; i < len(series); i++ {
			if series[i].Date.Equal(series[i-1].Date) {
				return fmt.Errorf("%w: duplicate price bar %s %s", ErrInvalidSnapshot, ticker, series[i].Date.Format("2006-01-02"))
			}
		}
	}
	return nil
}

func (s *Store) ingestActions(actions []contracts.CorporateAction) error {
	for _, a := range actions {
		if err := s.requireAsset(contracts.KindCorporateAction, a.Ticker); err != nil {
			return err
		}
		a.AnnounceDate = contracts.DateOnly(a.AnnounceDate)
		a.ExDate = contracts.DateOnly(a.ExDate)
		if a.ExDate.Before(a.AnnounceDate) {
			return fmt.Errorf("%w: %s ex_date %s before announce_date %s", ErrInvalidSnapshot,
				a.Ticker, a.ExDate.Format("2006-01-02"), a.AnnounceDate.Format("2006-01-02"))
		}
		if a.Type != contracts.ActionDividend && a.Type != contracts.ActionJCP {
			return fmt.Errorf("%w: %s unknown action type %q", ErrInvalidSnapshot, a.Ticker, a.Type)
		}
		s.actions[a.Ticker] = append(s.actions[a.Ticker], a)
	}
	for _, series := range s.actions {
		sort.Slice(series, func(i, j int) bool {
			if !series[i].AnnounceDate.Equal(series[j].AnnounceDate) {
				return series[i].AnnounceDate.Before(series[j].AnnounceDate)
			}
			return series[i].ExDate.Before(series[j].ExDate)
		})
	}
	return nil
}

func (s *Store) ingestShortInterest(obs []contracts.ShortInterestObs) error {
	for _, o := range obs {
		if err := s.requireAsset(contracts.KindShortInterest, o.Ticker); err != nil {
			return err
		}
		o.ObservedDate = contracts.DateOnly(o.ObservedDate)
		o.AvailableDate = normalize(o.AvailableDate)
		if o.AvailableDate.IsZero() {
			o.AvailableDate = o.ObservedDate
		}
		if o.AvailableDate.Before(o.ObservedDate) || !finite(o.Value) || o.Value < 0 {
			return fmt.Errorf("%w: bad short interest %s %s", ErrInvalidSnapshot, o.Ticker, o.ObservedDate.Format("2006-01-02"))
		}
		s.shortInterest[o.Ticker] = append(s.shortInterest[o.Ticker], o)
	}
	for _, series := range s.shortInterest {
		sort.Slice(series, func(i, j int) bool {
			if !series[i].AvailableDate.Equal(series[j].AvailableDate) {
				return series[i].AvailableDate.Before(series[j].AvailableDate)
			}
			return series[i].ObservedDate.Before(series[j].ObservedDate)
		})
	}
	return nil
}

func fundamentalKey(ticker, field string) string {
	return ticker + "|" + field
}

func (s *Store) ingestFundamentals(obs []contracts.FundamentalObs) error {
	for _, o := range obs {
		if err := s.requireAsset(contracts.KindFundamental, o.Ticker); err != nil {
			return err
		}
		o.ReportDate = contracts.DateOnly(o.ReportDate)
		o.AvailableDate = normalize(o.AvailableDate)
		if o.AvailableDate.IsZero() {
			o.AvailableDate = o.ReportDate
		}
		if o.Field == "" || o.AvailableDate.Before(o.ReportDate) || !finite(o.Value) {
			return fmt.Errorf("%w: bad fundamental %s %q", ErrInvalidSnapshot, o.Ticker, o.Field)
		}
		key := fundamentalKey(o.Ticker, o.Field)
		s.fundamentals[key] = append(s.fundamentals[key], o)
	}
	for _, series := range s.fundamentals {
		sort.Slice(series, func(i, j int) bool {
			if !series[i].AvailableDate.Equal(series[j].AvailableDate) {
				return series[i].AvailableDate.Before(series[j].AvailableDate)
			}
			return series[i].ReportDate.Before(series[j].ReportDate)
		})
	}
	return nil
}

func (s *Store) ingestBenchmarks(obs []contracts.BenchmarkObs) error {
	for _, o := range obs {
		if o.Series == "" || !finite(o.Value) {
			return fmt.Errorf("%w: bad benchmark point %q %s", ErrInvalidSnapshot, o.Series, o.Date.Format("2006-01-02"))
		}
		o.Date = contracts.DateOnly(o.Date)
		s.benchmarks[o.Series] = append(s.benchmarks[o.Series], o)
	}
	for _, series := range s.benchmarks {
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
	}
	return nil
}

func unavailable(kind contracts.EntityKind, ticker string, asOf time.Time) error {
	return &contracts.DataUnavailableError{Kind: kind, Ticker: ticker, AsOf: asOf}
}

// upTo returns how many leading elements of a series sorted by availability are visible as of asOf
func upTo(n int, availableAt func(i int) time.Time, asOf time.Time) int {
	return sort.Search(n, func(i int) bool { return availableAt(i).After(asOf) })
}

// Asset returns reference data if the asset is listed as of asOf
func (s *Store) Asset(ticker string, asOf time.Time) (contracts.Asset, error) {
	asOf = contracts.DateOnly(asOf)
	a, ok := s.assets[ticker]
	if !ok || a.ListedFrom.After(asOf) {
		return contracts.Asset{}, unavailable(contracts.KindAsset, ticker, asOf)
	}
	return a, nil
}

// Assets returns every asset listed as of asOf, sorted by ticker
func (s *Store) Assets(asOf time.Time) []contracts.Asset {
	asOf = contracts.DateOnly(asOf)
	out := make([]contracts.Asset, 0, len(s.tickers))
	for _, t := range s.tickers {
		if a := s.assets[t]; !a.ListedFrom.After(asOf) {
			out = append(out, a)
		}
	}
	return out
}

// Price returns the latest bar dated on or before asOf
func (s *Store) Price(ticker string, asOf time.Time) (contracts.PriceBar, error) {
	asOf = contracts.DateOnly(asOf)
	series := s.prices[ticker]
	n := upTo(len(series), func(i int) time.Time { return series[i].Date }, asOf)
	if n == 0 {
		return contracts.PriceBar{}, unavailable(contracts.KindPrice, ticker, asOf)
	}
	return series[n-1], nil
}

// ShortInterest returns the most recent observation whose AvailableDate <= asOf.
// 공시 지연 때문에 관측일이 아닌 가용일 기준으로 필터링
func (s *Store) ShortInterest(ticker string, asOf time.Time) (contracts.ShortInterestObs, error) {
	asOf = contracts.DateOnly(asOf)
	series := s.shortInterest[ticker]
	n := upTo(len(series), func(i int) time.Time { return series[i].AvailableDate }, asOf)
	if n == 0 {
		return contracts.ShortInterestObs{}, unavailable(contracts.KindShortInterest, ticker, asOf)
	}
	best := series[0]
	for _, o := range series[1:n] {
		if !o.ObservedDate.Before(best.ObservedDate) {
			best = o
		}
	}
	return best, nil
}

// Fundamental returns the most recent report of field available as of asOf
func (s *Store) Fundamental(ticker, field string, asOf time.Time) (contracts.FundamentalObs, error) {
	asOf = contracts.DateOnly(asOf)
	series := s.fundamentals[fundamentalKey(ticker, field)]
	n := upTo(len(series), func(i int) time.Time { return series[i].AvailableDate }, asOf)
	if n == 0 {
		return contracts.FundamentalObs{}, unavailable(contracts.KindFundamental, ticker, asOf)
	}
	best := series[0]
	for _, o := range series[1:n] {
		if !o.ReportDate.Before(best.ReportDate) {
			best = o
		}
	}
	return best, nil
}

// CorporateActions returns every action announced on or before asOf, ordered by ex-date
func (s *Store) CorporateActions(ticker string, asOf time.Time) ([]contracts.CorporateAction, error) {
	asOf = contracts.DateOnly(asOf)
	series := s.actions[ticker]
	n := upTo(len(series), func(i int) time.Time { return series[i].AnnounceDate }, asOf)
	if n == 0 {
		return nil, unavailable(contracts.KindCorporateAction, ticker, asOf)
	}
	out := make([]contracts.CorporateAction, n)
	copy(out, series[:n])
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExDate.Before(out[j].ExDate) })
	return out, nil
}

// Benchmark returns the latest benchmark point dated on or before asOf
func (s *Store) Benchmark(series string, asOf time.Time) (contracts.BenchmarkObs, error) {
	asOf = contracts.DateOnly(asOf)
	points := s.benchmarks[series]
	n := upTo(len(points), func(i int) time.Time { return points[i].Date }, asOf)
	if n == 0 {
		return contracts.BenchmarkObs{}, unavailable(contracts.KindBenchmark, series, asOf)
	}
	return points[n-1], nil
}

// Liquidity is the mean daily traded value (close × volume) over the last
// lookback bars dated on or before asOf
func (s *Store) Liquidity(ticker string, asOf time.Time) (contracts.LiquidityObs, error) {
	asOf = contracts.DateOnly(asOf)
	series := s.prices[ticker]
	n := upTo(len(series), func(i int) time.Time { return series[i].Date }, asOf)
	if n == 0 {
		return contracts.LiquidityObs{}, unavailable(contracts.KindLiquidity, ticker, asOf)
	}
	start := n - s.lookback
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, b := range series[start:n] {
		sum += b.Close * b.Volume
	}
	bars := n - start
	return contracts.LiquidityObs{
		Ticker: ticker,
		Date:   series[n-1].Date,
		Value:  sum / float64(bars),
		Bars:   bars,
	}, nil
}

// Query is the generic point-in-time contract.
// For KindFundamental the ticker argument is "TICKER:field".
// For KindCorporateAction the most recently announced action is returned.
func (s *Store) Query(kind contracts.EntityKind, ticker string, asOf time.Time) (contracts.Observation, error) {
	switch kind {
	case contracts.KindAsset:
		return s.Asset(ticker, asOf)
	case contracts.KindPrice:
		return s.Price(ticker, asOf)
	case contracts.KindShortInterest:
		return s.ShortInterest(ticker, asOf)
	case contracts.KindBenchmark:
		return s.Benchmark(ticker, asOf)
	case contracts.KindLiquidity:
		return s.Liquidity(ticker, asOf)
	case contracts.KindFundamental:
		symbol, field, ok := strings.Cut(ticker, ":")
		if !ok {
			return nil, fmt.Errorf("fundamental query needs TICKER:field, got %q", ticker)
		}
		return s.Fundamental(symbol, field, asOf)
	case contracts.KindCorporateAction:
		asOf = contracts.DateOnly(asOf)
		series := s.actions[ticker]
		n := upTo(len(series), func(i int) time.Time { return series[i].AnnounceDate }, asOf)
		if n == 0 {
			return nil, unavailable(kind, ticker, asOf)
		}
		return series[n-1], nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// Tickers returns all ingested tickers (listing dates ignored), sorted
func (s *Store) Tickers() []string {
	out := make([]string, len(s.tickers))
	copy(out, s.tickers)
	return out
}

// BenchmarkSeries lists ingested benchmark series names, sorted
func (s *Store) BenchmarkSeries() []string {
	out := make([]string, 0, len(s.benchmarks))
	for name := range s.benchmarks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
