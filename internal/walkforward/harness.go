package walkforward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/backtest"
	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/strategyconfig"
	"github.com/wonny/b3quant/pkg/logger"
	"github.com/wonny/b3quant/pkg/metrics"
)

// Split status
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Runner runs one backtest window; *backtest.Engine implements it
type Runner interface {
	Run(ctx context.Context, rc backtest.RunConfig) (*backtest.Result, error)
}

// SplitResult is the out-of-sample outcome of one split
type SplitResult struct {
	Index       int                   `json:"index"`
	Window      contracts.Window      `json:"window"`
	Status      string                `json:"status"`
	Error       string                `json:"error,omitempty"`
	Lambda      float64               `json:"lambda"`
	TrainSharpe contracts.Metric      `json:"train_sharpe"`
	Metrics     contracts.MetricSet   `json:"metrics"`
	Trades      int                   `json:"trades"`
	Diagnostics contracts.Diagnostics `json:"diagnostics,omitempty"`
	Duration    string                `json:"duration"`

	series audit.Series
}

// Report aggregates every split of one walk-forward run
type Report struct {
	RunID            string                           `json:"run_id"`
	ConfigHash       string                           `json:"config_hash"`
	Mode             string                           `json:"mode"`
	Splits           []SplitResult                    `json:"splits"`
	Pooled           contracts.MetricSet              `json:"pooled"`
	SharpeCV         contracts.Metric                 `json:"sharpe_cv"`
	Diagnostics      contracts.Diagnostics            `json:"diagnostics,omitempty"`
	DiagnosticCounts map[contracts.DiagnosticCode]int `json:"diagnostic_counts"`
	Failed           []int                            `json:"failed,omitempty"`
	Duration         string                           `json:"duration"`
}

// Records returns one performance record per completed split
func (r *Report) Records() []contracts.PerformanceRecord {
	var out []contracts.PerformanceRecord
	for _, s := range r.Splits {
		if s.Status == StatusOK {
			out = append(out, contracts.NewPerformanceRecord(s.Window, s.Metrics))
		}
	}
	return out
}

// Stored converts the report into a persistable report
func (r *Report) Stored(createdAt time.Time) (audit.StoredReport, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return audit.StoredReport{}, fmt.Errorf("marshal report: %w", err)
	}
	return audit.StoredReport{
		ID:         r.RunID,
		Kind:       audit.KindWalkForward,
		CreatedAt:  createdAt,
		ConfigHash: r.ConfigHash,
		Summary:    r.Pooled,
		Payload:    payload,
	}, nil
}

// Harness runs walk-forward splits in parallel
// ⭐ SSOT: 워크포워드 분할/병렬 실행은 여기서만
type Harness struct {
	runner   Runner
	calendar contracts.Calendar
	config   *strategyconfig.Config
	metrics  *metrics.Recorder
	logger   *logger.Logger
}

// NewHarness creates a new harness. rec may be nil.
func NewHarness(runner Runner, cal contracts.Calendar, config *strategyconfig.Config, rec *metrics.Recorder, log *logger.Logger) *Harness {
	return &Harness{
		runner:   runner,
		calendar: cal,
		config:   config,
		metrics:  rec,
		logger:   log.Component("walkforward"),
	}
}

// Run splits [start, end] and backtests every test window out of sample.
// A diverging split fails alone; cancellation stops the whole run.
func (h *Harness) Run(ctx context.Context, start, end time.Time) (*Report, error) {
	startTime := time.Now()
	wf := h.config.WalkForward

	hash, err := strategyconfig.Hash(h.config)
	if err != nil {
		return nil, fmt.Errorf("hash config: %w", err)
	}

	days := calendar.TradingDays(h.calendar, start, end)
	splits, err := GenerateSplits(days, wf)
	if err != nil {
		return nil, err
	}
	if len(splits) == 0 {
		return nil, fmt.Errorf("%w: %d trading days cannot hold train=%d + test=%d",
			contracts.ErrInvalidConfiguration, len(days), wf.TrainWindowLen, wf.TestWindowLen)
	}

	h.logger.WithFields(map[string]interface{}{
		"splits":       len(splits),
		"mode":         wf.Mode,
		"parallel":     wf.MaxParallelSplits,
		"trading_days": len(days),
		"lambda_grid":  h.config.Signals.ConvictionLambdaGrid,
	}).Info("Starting walk-forward")

	results := make(chan SplitResult, len(splits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, wf.MaxParallelSplits))

	for _, split := range splits {
		if gctx.Err() != nil {
			break
		}
		split := split
		g.Go(func() error {
			splitStart := time.Now()
			res := h.runSplit(gctx, split)
			h.metrics.RecordSplit(res.Status, time.Since(splitStart))
			if res.Status == StatusCancelled {
				return gctx.Err()
			}
			results <- res
			return nil
		})
	}

	waitErr := g.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		h.metrics.RecordRun("walkforward", "cancelled", time.Since(startTime))
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	report := h.merge(results, hash)
	report.Duration = time.Since(startTime).String()
	h.metrics.RecordRun("walkforward", "ok", time.Since(startTime))

	h.logger.WithFields(map[string]interface{}{
		"run_id":        report.RunID,
		"splits":        len(report.Splits),
		"failed":        len(report.Failed),
		"pooled_sharpe": report.Pooled.Sharpe.String(),
		"sharpe_cv":     report.SharpeCV.String(),
	}).Info("Walk-forward completed")

	return report, nil
}

// runSplit tunes λ on the train window (if a grid is set) and runs the test window
func (h *Harness) runSplit(ctx context.Context, split Split) SplitResult {
	started := time.Now()
	out := SplitResult{Index: split.Index, Window: split.Window, Lambda: h.config.Signals.ConvictionLambda}
	out.TrainSharpe = contracts.Undefined("no lambda grid")

	fail := func(err error) SplitResult {
		out.Duration = time.Since(started).String()
		out.Error = err.Error()
		out.Status = StatusFailed
		if ctx.Err() != nil {
			out.Status = StatusCancelled
		}
		h.logger.WithError(err).WithField("split", split.Index).Warn("Split failed")
		return out
	}

	if grid := h.config.Signals.ConvictionLambdaGrid; len(grid) > 0 {
		lambda, sharpe, err := h.tune(ctx, split, grid)
		if err != nil {
			return fail(err)
		}
		out.Lambda, out.TrainSharpe = lambda, sharpe
	}

	lambda := out.Lambda
	res, err := h.runner.Run(ctx, backtest.RunConfig{Start: split.Window.TestStart, End: split.Window.TestEnd, Lambda: &lambda})
	if err != nil {
		return fail(err)
	}

	out.Status = StatusOK
	out.Metrics = res.Metrics
	out.Trades = len(res.Trades)
	out.Diagnostics = res.Diagnostics
	out.series = res.Series
	out.Duration = time.Since(started).String()
	return out
}

// tune picks the λ with the best train Sharpe; ties go to the smaller λ.
// Train runs that diverge are skipped.
func (h *Harness) tune(ctx context.Context, split Split, grid []float64) (float64, contracts.Metric, error) {
	candidates := append([]float64(nil), grid...)
	sort.Float64s(candidates)

	best, bestSharpe := candidates[0], contracts.Undefined("no valid train sharpe")
	for _, lambda := range candidates {
		l := lambda
		res, err := h.runner.Run(ctx, backtest.RunConfig{Start: split.Window.TrainStart, End: split.Window.TrainEnd, Lambda: &l})
		if err != nil {
			if errors.Is(err, contracts.ErrSimulationDivergence) {
				h.logger.WithError(err).WithFields(map[string]interface{}{
					"split":  split.Index,
					"lambda": lambda,
				}).Warn("Train run diverged, lambda skipped")
				continue
			}
			return 0, contracts.Metric{}, fmt.Errorf("train lambda=%.3f: %w", lambda, err)
		}
		s := res.Metrics.Sharpe
		if s.Valid && (!bestSharpe.Valid || s.Value > bestSharpe.Value) {
			best, bestSharpe = lambda, s
		}
	}
	return best, bestSharpe, nil
}

// merge orders results by test start and pools the out-of-sample series
func (h *Harness) merge(results <-chan SplitResult, hash string) *Report {
	report := &Report{
		RunID:            uuid.New().String(),
		ConfigHash:       hash,
		Mode:             h.config.WalkForward.Mode,
		DiagnosticCounts: make(map[contracts.DiagnosticCode]int),
	}
	for res := range results {
		report.Splits = append(report.Splits, res)
	}
	sort.Slice(report.Splits, func(i, j int) bool {
		return report.Splits[i].Window.TestStart.Before(report.Splits[j].Window.TestStart)
	})

	var pooled audit.Series
	var sharpes []contracts.Metric
	for _, s := range report.Splits {
		report.Diagnostics = append(report.Diagnostics, s.Diagnostics...)
		if s.Status != StatusOK {
			report.Failed = append(report.Failed, s.Index)
			continue
		}
		pooled = pooled.Concat(s.series)
		sharpes = append(sharpes, s.Metrics.Sharpe)
	}
	report.Diagnostics = report.Diagnostics.Sorted()
	for code, n := range report.Diagnostics.Counts() {
		report.DiagnosticCounts[code] = n
	}
	report.Pooled = audit.Evaluate(pooled)
	report.SharpeCV = audit.SharpeStability(sharpes)
	return report
}
