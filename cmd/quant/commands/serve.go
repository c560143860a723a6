package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/b3quant/internal/api"
	"github.com/wonny/b3quant/internal/api/handlers"
	"github.com/wonny/b3quant/internal/backtest"
	"github.com/wonny/b3quant/internal/scheduler"
	"github.com/wonny/b3quant/internal/scheduler/jobs"
	"github.com/wonny/b3quant/internal/walkforward"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET  /health                 - Health check
  GET  /metrics                - Prometheus metrics
  GET  /api/reports            - 최근 리포트 목록
  GET  /api/reports/latest     - 최신 리포트 (?kind=backtest|walkforward)
  GET  /api/reports/{id}       - 리포트 조회
  POST /api/backtests          - 백테스트 실행 (데이터 소스 필요)
  GET  /api/jobs               - 예약 작업 상태
  POST /api/jobs/{name}/run    - 예약 작업 즉시 실행

Example:
  go run ./cmd/quant serve
  go run ./cmd/quant serve --port 8089 --synthetic --data-from 2022-01-03 --data-to 2023-12-28
  go run ./cmd/quant serve --data-from 2021-01-04 --walkforward-cron "0 30 19 * * 1-5" --walkforward-days 504`,
	RunE: runServe,
}

var (
	servePort     string
	serveDataFrom string
	serveDataTo   string
	serveData     dataFlags

	serveBacktestCron    string
	serveBacktestDays    int
	serveWalkForwardCron string
	serveWalkForwardDays int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API 서버 포트 (기본: PORT)")
	serveCmd.Flags().StringVar(&serveDataFrom, "data-from", "", "백테스트용 데이터 시작일 (비어 있으면 /api/backtests 비활성)")
	serveCmd.Flags().StringVar(&serveDataTo, "data-to", "", "백테스트용 데이터 종료일 (기본: 오늘)")
	serveData.register(serveCmd)

	serveCmd.Flags().StringVar(&serveBacktestCron, "backtest-cron", "", "백테스트 리포트 갱신 cron (초 포함, 비어 있으면 비활성)")
	serveCmd.Flags().IntVar(&serveBacktestDays, "backtest-days", 252, "백테스트 갱신 구간 (거래일)")
	serveCmd.Flags().StringVar(&serveWalkForwardCron, "walkforward-cron", "", "워크포워드 리포트 갱신 cron (초 포함, 비어 있으면 비활성)")
	serveCmd.Flags().IntVar(&serveWalkForwardDays, "walkforward-days", 504, "워크포워드 갱신 구간 (거래일)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != "" {
		a.cfg.Port = servePort
	}

	h := api.Handlers{Reports: handlers.NewReportHandler(a.reports, a.log)}
	if a.metrics != nil {
		h.Metrics = a.metrics.Handler()
	}

	if serveDataFrom != "" {
		start, end, err := parseWindow(serveDataFrom, serveDataTo)
		if err != nil {
			return err
		}
		store, err := a.loadStore(ctx, serveData, start, end)
		if err != nil {
			return err
		}
		engine := a.newEngine(store)
		h.Backtests = handlers.NewBacktestHandler(engine, a.reports, a.log)

		sched, err := a.newScheduler(engine)
		if err != nil {
			return err
		}
		if sched != nil {
			h.Jobs = handlers.NewJobHandler(sched, a.log)
			sched.Start()
			defer sched.Stop()
		}
	} else {
		a.log.Info("No --data-from, backtest endpoint and jobs disabled")
	}

	server := api.New(a.cfg, a.log, api.NewRouter(h, a.log))

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	a.log.Info("Server stopped")
	return nil
}

// newScheduler registers the report refresh jobs selected by flags; nil when none
func (a *app) newScheduler(engine *backtest.Engine) (*scheduler.Scheduler, error) {
	if serveBacktestCron == "" && serveWalkForwardCron == "" {
		return nil, nil
	}

	sched := scheduler.New(scheduler.DefaultConfig(), a.log)
	if serveBacktestCron != "" {
		window := jobs.Window{Calendar: a.calendar, TradingDays: serveBacktestDays}
		if err := sched.AddJob(jobs.NewBacktestJob(engine, a.reports, window, serveBacktestCron, a.log)); err != nil {
			return nil, err
		}
	}
	if serveWalkForwardCron != "" {
		window := jobs.Window{Calendar: a.calendar, TradingDays: serveWalkForwardDays}
		harness := walkforward.NewHarness(engine, a.calendar, a.strategy, a.metrics, a.log)
		if err := sched.AddJob(jobs.NewWalkForwardJob(harness, a.reports, window, serveWalkForwardCron, a.log)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
