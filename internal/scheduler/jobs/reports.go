package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/backtest"
	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/walkforward"
	"github.com/wonny/b3quant/pkg/logger"
)

// BacktestRunner runs one backtest window
type BacktestRunner interface {
	Run(ctx context.Context, rc backtest.RunConfig) (*backtest.Result, error)
}

// WalkForwardRunner runs a walk-forward over [start, end]
type WalkForwardRunner interface {
	Run(ctx context.Context, start, end time.Time) (*walkforward.Report, error)
}

// Window is the trailing window a refresh job covers, ending on the last
// completed trading day before now.
type Window struct {
	Calendar    *calendar.B3Calendar
	TradingDays int
	Now         func() time.Time // nil → time.Now
}

// Range resolves the window to [start, end]
func (w Window) Range() (time.Time, time.Time, error) {
	if w.TradingDays < 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: refresh window needs at least 2 trading days", contracts.ErrInvalidConfiguration)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	end := w.Calendar.PrevTradingDay(contracts.DateOnly(now()))
	start := calendar.AddTradingDays(w.Calendar, end, -(w.TradingDays - 1))
	return start, end, nil
}

// BacktestJob re-runs the strategy over a trailing window and stores the report
type BacktestJob struct {
	runner   BacktestRunner
	store    audit.ReportStore
	window   Window
	schedule string
	logger   *logger.Logger
}

// NewBacktestJob creates a new backtest refresh job
func NewBacktestJob(runner BacktestRunner, store audit.ReportStore, window Window, schedule string, log *logger.Logger) *BacktestJob {
	return &BacktestJob{runner: runner, store: store, window: window, schedule: schedule, logger: log}
}

// Name returns the job name
func (j *BacktestJob) Name() string { return "backtest_refresh" }

// Schedule returns the cron schedule
func (j *BacktestJob) Schedule() string { return j.schedule }

// Run executes the backtest and saves its report
func (j *BacktestJob) Run(ctx context.Context) error {
	start, end, err := j.window.Range()
	if err != nil {
		return err
	}

	result, err := j.runner.Run(ctx, backtest.RunConfig{Start: start, End: end})
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	report, err := result.Stored(time.Now())
	if err != nil {
		return err
	}
	if err := j.store.Save(ctx, report); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id": result.RunID,
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
		"sharpe": result.Metrics.Sharpe.String(),
	}).Info("Backtest report refreshed")
	return nil
}

// WalkForwardJob re-runs the walk-forward over a trailing window and stores the report
type WalkForwardJob struct {
	runner   WalkForwardRunner
	store    audit.ReportStore
	window   Window
	schedule string
	logger   *logger.Logger
}

// NewWalkForwardJob creates a new walk-forward refresh job
func NewWalkForwardJob(runner WalkForwardRunner, store audit.ReportStore, window Window, schedule string, log *logger.Logger) *WalkForwardJob {
	return &WalkForwardJob{runner: runner, store: store, window: window, schedule: schedule, logger: log}
}

// Name returns the job name
func (j *WalkForwardJob) Name() string { return "walkforward_refresh" }

// Schedule returns the cron schedule
func (j *WalkForwardJob) Schedule() string { return j.schedule }

// Run executes the walk-forward and saves its report
func (j *WalkForwardJob) Run(ctx context.Context) error {
	start, end, err := j.window.Range()
	if err != nil {
		return err
	}

	report, err := j.runner.Run(ctx, start, end)
	if err != nil {
		return fmt.Errorf("walk-forward: %w", err)
	}
	stored, err := report.Stored(time.Now())
	if err != nil {
		return err
	}
	if err := j.store.Save(ctx, stored); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"run_id": report.RunID,
		"splits": len(report.Splits),
		"failed": len(report.Failed),
	}).Info("Walk-forward report refreshed")
	return nil
}
