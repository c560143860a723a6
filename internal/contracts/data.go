package contracts

import "time"

// EntityKind identifies which point-in-time series a query targets
type EntityKind string

const (
	KindAsset           EntityKind = "asset"
	KindPrice           EntityKind = "price"
	KindCorporateAction EntityKind = "corporate_action"
	KindShortInterest   EntityKind = "short_interest"
	KindFundamental     EntityKind = "fundamental"
	KindBenchmark       EntityKind = "benchmark"
	KindLiquidity       EntityKind = "liquidity"
)

// Observation is any record served by the point-in-time store.
// AvailableAt is the date from which the record may be used in a decision.
type Observation interface {
	Kind() EntityKind
	Symbol() string
	AvailableAt() time.Time
}

// DateOnly normalizes t to midnight UTC of its calendar date
// ⭐ SSOT: 시스템의 모든 날짜는 이 함수로 정규화
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Asset is immutable reference data for a listed instrument
type Asset struct {
	Ticker     string    `json:"ticker" yaml:"ticker"`
	Name       string    `json:"name,omitempty" yaml:"name"`
	Sector     string    `json:"sector" yaml:"sector"`
	ListedFrom time.Time `json:"listed_from" yaml:"listed_from"`
}

func (a Asset) Kind() EntityKind       { return KindAsset }
func (a Asset) Symbol() string         { return a.Ticker }
func (a Asset) AvailableAt() time.Time { return a.ListedFrom }

// PriceBar is a daily close/volume observation.
// 결측일은 0이 아니라 레코드 부재로 표현
type PriceBar struct {
	Ticker string    `json:"ticker" yaml:"ticker"`
	Date   time.Time `json:"date" yaml:"date"`
	Close  float64   `json:"close" yaml:"close"`
	Volume float64   `json:"volume" yaml:"volume"`
}

func (p PriceBar) Kind() EntityKind       { return KindPrice }
func (p PriceBar) Symbol() string         { return p.Ticker }
func (p PriceBar) AvailableAt() time.Time { return p.Date }

// ActionType is the corporate distribution type
type ActionType string

const (
	ActionDividend ActionType = "dividend"
	ActionJCP      ActionType = "jcp" // Juros sobre Capital Próprio
)

// CorporateAction is a declared distribution. ExDate >= AnnounceDate.
type CorporateAction struct {
	Ticker       string     `json:"ticker" yaml:"ticker"`
	AnnounceDate time.Time  `json:"announce_date" yaml:"announce_date"`
	ExDate       time.Time  `json:"ex_date" yaml:"ex_date"`
	Type         ActionType `json:"type" yaml:"type"`
	Amount       float64    `json:"amount" yaml:"amount"`
}

func (c CorporateAction) Kind() EntityKind       { return KindCorporateAction }
func (c CorporateAction) Symbol() string         { return c.Ticker }
func (c CorporateAction) AvailableAt() time.Time { return c.AnnounceDate }

// ShortInterestObs is reported with a lag: AvailableDate >= ObservedDate
type ShortInterestObs struct {
	Ticker        string    `json:"ticker" yaml:"ticker"`
	ObservedDate  time.Time `json:"observed_date" yaml:"observed_date"`
	AvailableDate time.Time `json:"available_date" yaml:"available_date"`
	Value         float64   `json:"value" yaml:"value"` // % of free float
}

func (s ShortInterestObs) Kind() EntityKind       { return KindShortInterest }
func (s ShortInterestObs) Symbol() string         { return s.Ticker }
func (s ShortInterestObs) AvailableAt() time.Time { return s.AvailableDate }

// FundamentalObs is one reported fundamental field (pe, roe, dividend_yield, ...)
type FundamentalObs struct {
	Ticker        string    `json:"ticker" yaml:"ticker"`
	Field         string    `json:"field" yaml:"field"`
	ReportDate    time.Time `json:"report_date" yaml:"report_date"`
	AvailableDate time.Time `json:"available_date" yaml:"available_date"`
	Value         float64   `json:"value" yaml:"value"`
}

func (f FundamentalObs) Kind() EntityKind       { return KindFundamental }
func (f FundamentalObs) Symbol() string         { return f.Ticker }
func (f FundamentalObs) AvailableAt() time.Time { return f.AvailableDate }

// Fundamental field names
const (
	FieldPE            = "pe"
	FieldPB            = "pb"
	FieldROE           = "roe"
	FieldDividendYield = "dividend_yield"
	FieldNetDebtEBITDA = "net_debt_ebitda"
)

// BenchmarkObs is a benchmark series point.
// cdi: 일간 금리 (소수), ibov: 지수 레벨
type BenchmarkObs struct {
	Series string    `json:"series" yaml:"series"`
	Date   time.Time `json:"date" yaml:"date"`
	Value  float64   `json:"value" yaml:"value"`
}

func (b BenchmarkObs) Kind() EntityKind       { return KindBenchmark }
func (b BenchmarkObs) Symbol() string         { return b.Series }
func (b BenchmarkObs) AvailableAt() time.Time { return b.Date }

// Benchmark series names
const (
	SeriesCDI  = "cdi"
	SeriesIBOV = "ibov"
)

// LiquidityObs is average daily traded value (BRL) derived from price bars
type LiquidityObs struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Value  float64   `json:"value"`
	Bars   int       `json:"bars"`
}

func (l LiquidityObs) Kind() EntityKind       { return KindLiquidity }
func (l LiquidityObs) Symbol() string         { return l.Ticker }
func (l LiquidityObs) AvailableAt() time.Time { return l.Date }
