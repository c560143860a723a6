package strategyconfig

import "time"

// Config는 배당 런업 전략 백테스트의 전체 설정 (실행 중 불변)
// ⭐ SSOT: 모든 컴포넌트는 생성 시 이 구조체의 해당 섹션을 받음
type Config struct {
	Meta        Meta        `yaml:"meta" json:"meta"`
	Universe    Universe    `yaml:"universe" json:"universe"`
	Calendar    Calendar    `yaml:"calendar" json:"calendar"`
	Signals     Signals     `yaml:"signals" json:"signals"`
	Portfolio   Portfolio   `yaml:"portfolio" json:"portfolio"`
	Costs       Costs       `yaml:"costs" json:"costs"`
	Simulation  Simulation  `yaml:"simulation" json:"simulation"`
	WalkForward WalkForward `yaml:"walk_forward" json:"walk_forward"`
}

// Meta 메타 정보
type Meta struct {
	StrategyID  string `yaml:"strategy_id" json:"strategy_id" default:"b3_dividend_runup" validate:"required"`
	Version     string `yaml:"version" json:"version" default:"1"`
	Description string `yaml:"description" json:"description"`
}

// Universe: 투자 가능 종목 및 벤치마크
type Universe struct {
	ID              string   `yaml:"id" json:"id" default:"b3_liquid_30"`
	Tickers         []string `yaml:"tickers" json:"tickers" validate:"omitempty,unique,dive,required"`
	MinHistoryBars  int      `yaml:"min_history_bars" json:"min_history_bars" default:"20" validate:"gte=1"`
	BenchmarkSeries string   `yaml:"benchmark_series" json:"benchmark_series" default:"ibov" validate:"required"`
	RiskFreeSeries  string   `yaml:"risk_free_series" json:"risk_free_series" default:"cdi" validate:"required"`
}

// Calendar: B3 휴장일 (비어 있으면 내장 목록 사용)
type Calendar struct {
	Holidays []string `yaml:"holidays" json:"holidays" validate:"dive,datetime=2006-01-02"`
}

// Signals: 이벤트 / 포지셔닝 / 컨빅션
type Signals struct {
	EventWindowDays            int           `yaml:"event_window_days" json:"event_window_days" default:"5" validate:"gte=1,lte=60"`
	EventSignalMode            string        `yaml:"event_signal_mode" json:"event_signal_mode" default:"graded" validate:"oneof=graded binary"`
	MinShortInterestPercentile float64       `yaml:"min_short_interest_percentile" json:"min_short_interest_percentile" default:"0.5" validate:"gte=0,lte=1"`
	LiquidityThreshold         float64       `yaml:"liquidity_threshold" json:"liquidity_threshold" default:"5000000" validate:"gte=0"`
	LiquidityLookback          int           `yaml:"liquidity_lookback" json:"liquidity_lookback" default:"20" validate:"gte=1"`
	ConvictionLambda           float64       `yaml:"conviction_lambda" json:"conviction_lambda" default:"0.3" validate:"gte=0,lte=0.5"`
	ConvictionLambdaGrid       []float64     `yaml:"conviction_lambda_grid" json:"conviction_lambda_grid" validate:"dive,gte=0,lte=0.5"`
	ConvictionTimeout          time.Duration `yaml:"conviction_timeout" json:"conviction_timeout" default:"5s" validate:"gt=0"`
	ConvictionConcurrency      int           `yaml:"conviction_concurrency" json:"conviction_concurrency" default:"8" validate:"gte=1,lte=64"`
}

// Portfolio: 리스크 캡 / 회전율 / 리밸런싱
type Portfolio struct {
	MaxWeightPerAsset  float64 `yaml:"max_weight_per_asset" json:"max_weight_per_asset" default:"0.2" validate:"gt=0,lte=1"`
	SectorCap          float64 `yaml:"sector_cap" json:"sector_cap" default:"0.4" validate:"gt=0,lte=1"`
	TurnoverBudget     float64 `yaml:"turnover_budget" json:"turnover_budget" default:"1.0" validate:"gt=0,lte=2"`
	MaxCapIterations   int     `yaml:"max_cap_iterations" json:"max_cap_iterations" default:"50" validate:"gte=1,lte=10000"`
	RebalanceFrequency string  `yaml:"rebalance_frequency" json:"rebalance_frequency" default:"weekly" validate:"required,rebalance"`
}

// Costs: 거래비용 (bps)
type Costs struct {
	CostBps       float64 `yaml:"cost_bps" json:"cost_bps" default:"5" validate:"gte=0,lte=500"`
	SlippageBps   float64 `yaml:"slippage_bps" json:"slippage_bps" default:"10" validate:"gte=0,lte=500"`
	MinTradeValue float64 `yaml:"min_trade_value" json:"min_trade_value" default:"1000" validate:"gte=0"`
}

// Simulation: 시뮬레이터 초기 상태
type Simulation struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" default:"1000000" validate:"gt=0"`
	CashAccruesCDI bool    `yaml:"cash_accrues_cdi" json:"cash_accrues_cdi" default:"true"`
}

// WalkForward: 분할 방식
type WalkForward struct {
	Mode              string `yaml:"mode" json:"mode" default:"rolling" validate:"oneof=rolling expanding"`
	TrainWindowLen    int    `yaml:"train_window_len" json:"train_window_len" default:"252" validate:"gte=1"`
	TestWindowLen     int    `yaml:"test_window_len" json:"test_window_len" default:"63" validate:"gte=2"`
	StepLen           int    `yaml:"step_len" json:"step_len" validate:"gte=0"` // 0 → test_window_len
	MaxParallelSplits int    `yaml:"max_parallel_splits" json:"max_parallel_splits" default:"4" validate:"gte=1,lte=64"`
}

// Step returns the effective split step
func (w WalkForward) Step() int {
	if w.StepLen > 0 {
		return w.StepLen
	}
	return w.TestWindowLen
}

// DefaultUniverse is the B3 liquid list used when universe.tickers is empty
var DefaultUniverse = []string{
	"PETR3", "PETR4", "PRIO3",
	"VALE3", "CSNA3", "GGBR4",
	"ITUB4", "BBDC4", "BBAS3", "SANB11", "BBDC3",
	"MGLU3", "LREN3",
	"ELET3", "ELET6", "CPFE3", "CMIG4",
	"ABEV3", "BRFS3",
	"VIVT3", "TIMS3",
	"SUZB3",
	"CYRE3", "MRVE3",
	"WEGE3", "RADL3", "B3SA3", "RENT3", "EMBR3",
}

// TickerList returns the configured universe or the default list
func (u Universe) TickerList() []string {
	if len(u.Tickers) > 0 {
		return u.Tickers
	}
	return DefaultUniverse
}
