package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/portfolio"
	"github.com/wonny/b3quant/internal/s0_data"
	"github.com/wonny/b3quant/internal/s1_universe"
	"github.com/wonny/b3quant/internal/s2_signals"
	"github.com/wonny/b3quant/internal/strategyconfig"
	"github.com/wonny/b3quant/pkg/logger"
	"github.com/wonny/b3quant/pkg/metrics"
)

// Engine runs backtesting simulations
// ⭐ SSOT: 백테스팅 실행은 여기서만
type Engine struct {
	store      contracts.PointInTimeReader
	calendar   contracts.Calendar
	config     *strategyconfig.Config
	conviction *s2_signals.ConvictionEngine // shared across runs for cache reuse; nil → no tilt input
	metrics    *metrics.Recorder
	logger     *logger.Logger
}

// RunConfig selects the window (and optional λ override) of one run
type RunConfig struct {
	Start  time.Time
	End    time.Time
	Lambda *float64 // nil → config.signals.conviction_lambda
}

// Result holds backtest results
type Result struct {
	RunID      string    `json:"run_id"`
	ConfigHash string    `json:"config_hash"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Lambda     float64   `json:"lambda"`
	Duration   string    `json:"duration"`

	Daily       []DailyPoint          `json:"daily"`
	Trades      []contracts.Trade     `json:"trades"`
	Rebalances  []RebalanceRecord     `json:"rebalances"`
	Diagnostics contracts.Diagnostics `json:"diagnostics,omitempty"`

	Series      audit.Series                `json:"-"`
	Metrics     contracts.MetricSet         `json:"metrics"`
	Stats       Stats                       `json:"stats"`
	Attribution []audit.Attribution         `json:"attribution"`
	Conviction  *s2_signals.ConvictionStats `json:"conviction,omitempty"`
}

// InitialNAV returns the starting capital of the run
func (r *Result) InitialNAV() float64 {
	if len(r.Daily) == 0 {
		return 0
	}
	first := r.Daily[0]
	return first.NAV / (1 + first.Return)
}

// FinalNAV returns the NAV on the last simulated day
func (r *Result) FinalNAV() float64 {
	if len(r.Daily) == 0 {
		return 0
	}
	return r.Daily[len(r.Daily)-1].NAV
}

// NewEngine creates a new backtest engine. conviction and rec may be nil.
func NewEngine(
	store contracts.PointInTimeReader,
	cal contracts.Calendar,
	config *strategyconfig.Config,
	conviction *s2_signals.ConvictionEngine,
	rec *metrics.Recorder,
	log *logger.Logger,
) *Engine {
	return &Engine{
		store:      store,
		calendar:   cal,
		config:     config,
		conviction: conviction,
		metrics:    rec,
		logger:     log.Component("backtest"),
	}
}

// Config returns the strategy config the engine was built with
func (e *Engine) Config() *strategyconfig.Config {
	return e.config
}

// Calendar returns the trading calendar
func (e *Engine) Calendar() contracts.Calendar {
	return e.calendar
}

// Run executes a backtest over the trading days in [Start, End]
func (e *Engine) Run(ctx context.Context, rc RunConfig) (*Result, error) {
	startTime := time.Now()

	cfg := e.config
	if rc.Lambda != nil {
		cfg = strategyconfig.WithLambda(cfg, *rc.Lambda)
	}
	hash, err := strategyconfig.Hash(cfg)
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}

	days := calendar.TradingDays(e.calendar, rc.Start, rc.End)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no trading days in [%s, %s]", contracts.ErrInvalidConfiguration,
			rc.Start.Format("2006-01-02"), rc.End.Format("2006-01-02"))
	}
	rebalanceDates, err := calendar.RebalanceDates(e.calendar, cfg.Portfolio.RebalanceFrequency, days[0], days[len(days)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrInvalidConfiguration, err)
	}

	e.logger.WithFields(map[string]interface{}{
		"start_date":      days[0].Format("2006-01-02"),
		"end_date":        days[len(days)-1].Format("2006-01-02"),
		"trading_days":    len(days),
		"rebalances":      len(rebalanceDates),
		"initial_capital": cfg.Simulation.InitialCapital,
		"lambda":          cfg.Signals.ConvictionLambda,
	}).Info("Starting backtest")

	cov := s0_data.CoverageAt(e.store, days[0])
	e.logger.WithFields(map[string]interface{}{
		"listed_assets": cov.ListedAssets,
		"quality_score": cov.QualityScore(),
	}).Debug("Data coverage at start")

	event := s2_signals.NewEventEngine(e.store, e.calendar, cfg.Signals.EventWindowDays, cfg.Signals.EventSignalMode, e.logger)
	provider := e.newPipeline(cfg, event)
	sim := NewSimulator(e.store, event, provider, SimConfigFromStrategy(cfg), e.logger)

	record, err := sim.Run(ctx, days, calendar.NewDateSet(rebalanceDates))
	if err != nil {
		e.metrics.RecordRun("backtest", "failed", time.Since(startTime))
		return nil, err
	}

	series := e.series(cfg, record)
	result := &Result{
		RunID:       uuid.New().String(),
		ConfigHash:  hash,
		Start:       days[0],
		End:         days[len(days)-1],
		Lambda:      cfg.Signals.ConvictionLambda,
		Daily:       record.Daily,
		Trades:      record.Trades,
		Rebalances:  record.Rebalances,
		Diagnostics: record.Diagnostics.Sorted(),
		Series:      series,
		Metrics:     audit.Evaluate(series),
		Stats:       record.Stats,
		Attribution: audit.AttributeTrades(record.Trades),
	}
	if e.conviction != nil {
		stats := e.conviction.Stats()
		result.Conviction = &stats
	}

	elapsed := time.Since(startTime)
	result.Duration = elapsed.String()
	e.record(result, elapsed)

	e.logger.WithFields(map[string]interface{}{
		"run_id":       result.RunID,
		"duration":     elapsed.Seconds(),
		"trading_days": len(result.Daily),
		"trades":       len(result.Trades),
		"total_return": result.Metrics.TotalReturn.String(),
		"sharpe_ratio": result.Metrics.Sharpe.String(),
		"max_drawdown": result.Metrics.MaxDrawdown.String(),
		"diagnostics":  len(result.Diagnostics),
	}).Info("Backtest completed")

	return result, nil
}

func (e *Engine) record(result *Result, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRun("backtest", "ok", elapsed)
	for _, r := range result.Rebalances {
		e.metrics.RecordTurnover(r.RealizedTurnover)
	}
	counts := make(map[string]int)
	for code, n := range result.Diagnostics.Counts() {
		counts[string(code)] = n
	}
	e.metrics.RecordDiagnostics(counts)
}

// series builds the evaluator input: portfolio, CDI and IBOV daily returns
func (e *Engine) series(cfg *strategyconfig.Config, record *Record) audit.Series {
	n := len(record.Daily)
	s := audit.Series{
		Dates:    make([]time.Time, n),
		Returns:  make([]float64, n),
		RiskFree: make([]float64, n),
	}
	for i, p := range record.Daily {
		s.Dates[i] = p.Date
		s.Returns[i] = p.Return
		s.RiskFree[i] = p.RiskFree
		if p.Rebalance {
			s.RebalanceIdx = append(s.RebalanceIdx, i)
		}
	}
	for _, r := range record.Rebalances {
		s.Turnovers = append(s.Turnovers, r.RealizedTurnover)
	}
	s.Benchmark = e.benchmarkReturns(cfg.Universe.BenchmarkSeries, s.Dates)
	return s
}

// benchmarkReturns returns level_t / level_{t-1} − 1 per day, nil if any level is missing
func (e *Engine) benchmarkReturns(series string, dates []time.Time) []float64 {
	if len(dates) == 0 {
		return nil
	}
	out := make([]float64, len(dates))
	level := 0.0
	// 시작일 이전 레벨이 없으면 첫날 수익률은 0
	if prev, err := e.store.Benchmark(series, dates[0].AddDate(0, 0, -1)); err == nil && prev.Value > 0 {
		level = prev.Value
	}
	for i, d := range dates {
		obs, err := e.store.Benchmark(series, d)
		if err != nil || obs.Value <= 0 {
			return nil
		}
		if level > 0 {
			out[i] = obs.Value/level - 1
		}
		level = obs.Value
	}
	return out
}

// pipeline: S1 universe → S2 signals → fusion
type pipeline struct {
	universe *s1_universe.Builder
	signals  *s2_signals.Builder
	fuser    *portfolio.Fuser
}

func (e *Engine) newPipeline(cfg *strategyconfig.Config, event *s2_signals.EventEngine) *pipeline {
	gate := contracts.Gate{
		MinPercentile:      cfg.Signals.MinShortInterestPercentile,
		LiquidityThreshold: cfg.Signals.LiquidityThreshold,
	}
	universe := s1_universe.NewBuilder(e.store, s1_universe.Config{
		Tickers:        cfg.Universe.TickerList(),
		MinHistoryBars: cfg.Universe.MinHistoryBars,
	}, e.logger)
	positioning := s2_signals.NewPositioningEngine(e.store, e.logger)
	signals := s2_signals.NewBuilder(e.store, event, positioning, e.conviction, gate, e.logger)
	fuser := portfolio.NewFuser(portfolio.FusionConfig{
		Gate:        gate,
		Lambda:      cfg.Signals.ConvictionLambda,
		Constraints: portfolio.ConstraintsFromConfig(cfg.Portfolio),
	}, e.logger)

	return &pipeline{universe: universe, signals: signals, fuser: fuser}
}

// Targets implements contracts.TargetProvider
func (p *pipeline) Targets(ctx context.Context, date time.Time, current map[string]float64) (*contracts.TargetPortfolio, error) {
	universe, err := p.universe.Build(date)
	if err != nil {
		return nil, fmt.Errorf("universe: %w", err)
	}
	set, err := p.signals.Build(ctx, universe)
	if err != nil {
		return nil, fmt.Errorf("signals: %w", err)
	}
	target := p.fuser.Fuse(set, current)
	target.Diagnostics = append(append(contracts.Diagnostics(nil), set.Diagnostics...), target.Diagnostics...)
	return target, nil
}

var _ contracts.TargetProvider = (*pipeline)(nil)

// Stored converts the result into a persistable report
func (r *Result) Stored(createdAt time.Time) (audit.StoredReport, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return audit.StoredReport{}, fmt.Errorf("marshal result: %w", err)
	}
	return audit.StoredReport{
		ID:         r.RunID,
		Kind:       audit.KindBacktest,
		CreatedAt:  createdAt,
		ConfigHash: r.ConfigHash,
		Summary:    r.Metrics,
		Payload:    payload,
	}, nil
}
