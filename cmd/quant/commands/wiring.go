package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/backtest"
	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/external/reasoning"
	"github.com/wonny/b3quant/internal/s0_data"
	"github.com/wonny/b3quant/internal/s2_signals"
	"github.com/wonny/b3quant/internal/strategyconfig"
	"github.com/wonny/b3quant/pkg/config"
	"github.com/wonny/b3quant/pkg/database"
	"github.com/wonny/b3quant/pkg/logger"
	"github.com/wonny/b3quant/pkg/metrics"
	"github.com/wonny/b3quant/pkg/redis"
)

// dataFlags select where the point-in-time snapshot comes from
type dataFlags struct {
	snapshot  string
	synthetic bool
	seed      int64
	warmup    int // calendar days loaded before --from
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "snapshot JSON file (기본: DATABASE_URL에서 로드)")
	cmd.Flags().BoolVar(&f.synthetic, "synthetic", false, "결정적 합성 데이터 사용 (데모)")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "synthetic data seed")
	cmd.Flags().IntVar(&f.warmup, "warmup-days", 120, "--from 이전에 로드할 달력일 수 (유동성/공매도 이력)")
}

func (f *dataFlags) source() string {
	switch {
	case f.snapshot != "":
		return "snapshot " + f.snapshot
	case f.synthetic:
		return fmt.Sprintf("synthetic (seed %d)", f.seed)
	default:
		return "postgres"
	}
}

// app bundles everything a command needs.
// ⭐ SSOT: 커맨드 의존성 조립은 여기서만
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	strategy *strategyconfig.Config
	calendar *calendar.B3Calendar
	db       *database.DB // nil when DATABASE_URL is empty
	redis    *redis.Client
	metrics  *metrics.Recorder
	reports  audit.ReportStore
	dataset  string // fingerprint of the loaded snapshot source
}

// newApp loads env config, the strategy file and optional infrastructure
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	strategy, _, err := strategyconfig.Load(strategyFile)
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	for _, w := range strategyconfig.Warn(strategy) {
		log.WithFields(map[string]interface{}{"code": w.Code}).Warn(w.Message)
	}

	cal, err := calendar.New(strategy.Calendar.Holidays)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		strategy: strategy,
		calendar: cal,
	}
	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	db, err := database.New(ctx, cfg.Database)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		log.Debug("DATABASE_URL not set, reports kept in memory")
		a.reports = audit.NewMemoryStore()
	case err != nil:
		return nil, fmt.Errorf("connect to database: %w", err)
	default:
		a.db = db
		a.reports = audit.NewRepository(db.Pool)
		log.Info("Connected to database")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		// 캐시는 선택 사항
		log.WithError(err).Warn("Redis unavailable, conviction cache is memory-only")
		rc = nil
	}
	a.redis = rc

	return a, nil
}

// Close releases infrastructure connections
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// loadStore builds the point-in-time store covering [from - warmup, to]
func (a *app) loadStore(ctx context.Context, f dataFlags, from, to time.Time) (*s0_data.Store, error) {
	var (
		snap *s0_data.Snapshot
		err  error
	)
	loadFrom := from.AddDate(0, 0, -f.warmup)
	tickers := a.strategy.Universe.TickerList()

	switch {
	case f.snapshot != "":
		snap, err = s0_data.LoadSnapshotFile(f.snapshot)
	case f.synthetic:
		snap = s0_data.GenerateSnapshot(s0_data.SyntheticConfig{
			Tickers:  tickers,
			Start:    loadFrom,
			End:      to,
			Seed:     f.seed,
			Calendar: a.calendar,
		})
	case a.db != nil:
		snap, err = s0_data.NewRepository(a.db.Pool, a.log).LoadSnapshot(ctx, tickers, loadFrom, to)
	default:
		return nil, fmt.Errorf("%w: no data source (use --snapshot, --synthetic or set DATABASE_URL)", contracts.ErrInvalidConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	store, err := s0_data.NewStore(snap, a.strategy.Signals.LiquidityLookback)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	if f.snapshot == "" && !f.synthetic {
		// Postgres는 시점 기준 append-only → 조회 구간이 아닌 DB로 식별
		a.dataset = "pg-" + fingerprint(a.cfg.Database.URL)
	} else if a.dataset, err = s0_data.Fingerprint(snap); err != nil {
		return nil, err
	}

	a.log.WithFields(map[string]interface{}{
		"tickers": len(store.Tickers()),
		"from":    loadFrom.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
	}).Info("Snapshot loaded")
	return store, nil
}

// newConviction picks the remote collaborator when configured, else the offline scorer
func (a *app) newConviction(store contracts.PointInTimeReader) *s2_signals.ConvictionEngine {
	var (
		source     contracts.ConvictionSource
		sourceName string
	)
	if a.cfg.Reasoning.Enabled() {
		source = reasoning.NewClient(a.cfg.Reasoning, a.log)
		sourceName = "reasoning-" + fingerprint(a.cfg.Reasoning.BaseURL)
		a.log.WithFields(map[string]interface{}{"url": a.cfg.Reasoning.BaseURL}).Info("Using reasoning collaborator")
	} else {
		source = s2_signals.NewFundamentalScorer(store, a.log)
		sourceName = "fundamental"
	}
	namespace := convictionNamespace(sourceName, a.dataset)

	var cache *redis.Cache
	if a.redis.Enabled() {
		cache = redis.NewCache(a.redis, "b3quant")
		a.log.WithField("namespace", namespace).Debug("Conviction cache enabled")
	}

	return s2_signals.NewConvictionEngine(source, cache, s2_signals.ConvictionConfig{
		Timeout:     a.strategy.Signals.ConvictionTimeout,
		Concurrency: a.strategy.Signals.ConvictionConcurrency,
		Namespace:   namespace,
	}, a.log)
}

// convictionNamespace keys cached scores by scoring source and dataset
func convictionNamespace(source, dataset string) string {
	if dataset == "" {
		return source
	}
	return source + "-" + dataset
}

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// newEngine wires store → conviction → backtest engine
func (a *app) newEngine(store contracts.PointInTimeReader) *backtest.Engine {
	return backtest.NewEngine(store, a.calendar, a.strategy, a.newConviction(store), a.metrics, a.log)
}

// parseWindow parses --from/--to; empty --to means today
func parseWindow(from, to string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	end := contracts.DateOnly(time.Now())
	if to != "" {
		end, err = time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --to before --from", contracts.ErrInvalidConfiguration)
	}
	return start, end, nil
}
