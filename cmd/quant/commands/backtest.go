package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/b3quant/internal/backtest"
)

// backtestCmd represents the backtest command
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "백테스팅 프레임워크",
	Long: `과거 데이터를 사용하여 전략 파이프라인을 시뮬레이션합니다.

백테스팅은 다음을 검증합니다:
- 전략 수익률 (CDI 대비 초과수익, IBOV 대비 알파/베타)
- 리스크 지표 (Sharpe, Sortino, MDD)
- 승률 및 회전율
- 청산 사유별 기여도 (ex_date / liquidity / rebalance)

Example:
  go run ./cmd/quant backtest run --from 2023-01-02 --to 2023-12-28 --synthetic
  go run ./cmd/quant backtest run --from 2023-01-02 --snapshot data/b3.json --lambda 0.25`,
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "백테스트 실행",
		Long: `지정된 기간 동안 백테스트를 실행합니다.

Flags:
  --from        시작 날짜 (YYYY-MM-DD)
  --to          종료 날짜 (YYYY-MM-DD, 기본: 오늘)
  --lambda      컨빅션 틸트 강도 (기본: 전략 설정값)
  --snapshot    스냅샷 JSON 파일
  --synthetic   합성 데이터
  --out         결과 JSON 저장 경로

Example:
  go run ./cmd/quant backtest run --from 2023-01-02 --to 2023-12-28 --synthetic
  go run ./cmd/quant backtest run --from 2023-01-02 --synthetic --out result.json`,
		RunE: runBacktest,
	}

	// Flags
	backtestFrom   string
	backtestTo     string
	backtestLambda float64
	backtestOut    string
	backtestData   dataFlags
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	// Flags
	backtestRunCmd.Flags().StringVar(&backtestFrom, "from", "", "시작 날짜 (YYYY-MM-DD, 필수)")
	backtestRunCmd.Flags().StringVar(&backtestTo, "to", "", "종료 날짜 (YYYY-MM-DD, 기본: 오늘)")
	backtestRunCmd.Flags().Float64Var(&backtestLambda, "lambda", 0, "컨빅션 λ override [0, 0.5]")
	backtestRunCmd.Flags().StringVar(&backtestOut, "out", "", "결과 JSON 파일 경로")
	backtestData.register(backtestRunCmd)

	_ = backtestRunCmd.MarkFlagRequired("from")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	start, end, err := parseWindow(backtestFrom, backtestTo)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.loadStore(ctx, backtestData, start, end)
	if err != nil {
		return err
	}

	rc := backtest.RunConfig{Start: start, End: end}
	if cmd.Flags().Changed("lambda") {
		if backtestLambda < 0 || backtestLambda > 0.5 {
			return fmt.Errorf("--lambda must be in [0, 0.5], got %v", backtestLambda)
		}
		rc.Lambda = &backtestLambda
	}

	fmt.Println("🚀 Starting backtest...")
	result, err := a.newEngine(store).Run(ctx, rc)
	if err != nil {
		PrintError(err.Error())
		return fmt.Errorf("backtest failed: %w", err)
	}

	printBacktestResult(result, backtestData.source())

	report, err := result.Stored(time.Now())
	if err != nil {
		return err
	}
	if err := a.reports.Save(ctx, report); err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	if backtestOut != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		if err := os.WriteFile(backtestOut, data, 0o644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		PrintSuccess("Result written to " + backtestOut)
	}
	return nil
}

func printBacktestResult(r *backtest.Result, source string) {
	PrintRunHeader(RunMetadata{
		Title:      "Backtest Result",
		RunID:      r.RunID,
		ConfigHash: r.ConfigHash,
		Period: &Period{
			StartDate: r.Start.Format("2006-01-02"),
			EndDate:   r.End.Format("2006-01-02"),
		},
		Source: source,
	})

	PrintKeyValue("lambda", fmt.Sprintf("%.2f", r.Lambda), 18)
	PrintKeyValue("initial_nav", fmt.Sprintf("%.2f", r.InitialNAV()), 18)
	PrintKeyValue("final_nav", fmt.Sprintf("%.2f", r.FinalNAV()), 18)
	PrintKeyValue("trades", fmt.Sprintf("%d (win %d / loss %d)", r.Stats.TotalTrades, r.Stats.WinningTrades, r.Stats.LosingTrades), 18)
	PrintKeyValue("exits", fmt.Sprintf("ex_date %d / liquidity %d", r.Stats.ExDateExits, r.Stats.LiquidityExits), 18)
	PrintKeyValue("costs", fmt.Sprintf("commission %.2f / slippage %.2f", r.Stats.TotalCommission, r.Stats.TotalSlippage), 18)
	PrintSeparator()
	PrintMetrics(r.Metrics)

	if len(r.Attribution) > 0 {
		fmt.Println()
		widths := []int{12, 8, 14, 14}
		PrintTableHeader([]string{"Reason", "Trades", "Realized PnL", "Costs"}, widths)
		for _, at := range r.Attribution {
			PrintTableRow([]string{
				string(at.Reason),
				fmt.Sprintf("%d", at.Trades),
				fmt.Sprintf("%.2f", at.RealizedPnL),
				fmt.Sprintf("%.2f", at.Costs),
			}, widths)
		}
	}

	PrintDiagnosticCounts(r.Diagnostics.Counts())
	if r.Conviction != nil {
		fmt.Println()
		PrintInfo(fmt.Sprintf("conviction: %d requests, %d memory hits, %d redis hits, %d source calls, %d failures",
			r.Conviction.Requests, r.Conviction.MemoryHits, r.Conviction.RedisHits, r.Conviction.SourceCalls, r.Conviction.Failures))
	}
	PrintDoubleSeparator()
	fmt.Printf("✅ Backtest completed in %s\n", r.Duration)
}
