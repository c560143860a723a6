package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/walkforward"
)

// walkforwardCmd represents the walkforward command
var walkforwardCmd = &cobra.Command{
	Use:   "walkforward",
	Short: "워크포워드 검증",
	Long: `학습/검증 구간을 굴려가며 out-of-sample 성과를 측정합니다.

- rolling: 고정 길이 학습 구간
- expanding: 시작점 고정, 학습 구간 확장
- conviction_lambda_grid가 설정되면 학습 구간 Sharpe 최대 λ를 선택

Example:
  go run ./cmd/quant walkforward run --from 2021-01-04 --to 2023-12-28 --synthetic`,
}

var (
	walkforwardRunCmd = &cobra.Command{
		Use:   "run",
		Short: "워크포워드 실행",
		RunE:  runWalkForward,
	}

	// Flags
	wfFrom string
	wfTo   string
	wfMode string
	wfData dataFlags
)

func init() {
	rootCmd.AddCommand(walkforwardCmd)
	walkforwardCmd.AddCommand(walkforwardRunCmd)

	walkforwardRunCmd.Flags().StringVar(&wfFrom, "from", "", "시작 날짜 (YYYY-MM-DD, 필수)")
	walkforwardRunCmd.Flags().StringVar(&wfTo, "to", "", "종료 날짜 (YYYY-MM-DD, 기본: 오늘)")
	walkforwardRunCmd.Flags().StringVar(&wfMode, "mode", "", "rolling | expanding (기본: 전략 설정값)")
	wfData.register(walkforwardRunCmd)

	_ = walkforwardRunCmd.MarkFlagRequired("from")
}

func runWalkForward(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	start, end, err := parseWindow(wfFrom, wfTo)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if wfMode != "" {
		if wfMode != walkforward.ModeRolling && wfMode != walkforward.ModeExpanding {
			return fmt.Errorf("--mode must be rolling or expanding, got %q", wfMode)
		}
		a.strategy.WalkForward.Mode = wfMode
	}

	store, err := a.loadStore(ctx, wfData, start, end)
	if err != nil {
		return err
	}

	fmt.Println("🚀 Starting walk-forward...")
	harness := walkforward.NewHarness(a.newEngine(store), a.calendar, a.strategy, a.metrics, a.log)
	report, err := harness.Run(ctx, start, end)
	if err != nil {
		PrintError(err.Error())
		return fmt.Errorf("walk-forward failed: %w", err)
	}

	printWalkForwardReport(report, start, end, wfData.source())

	stored, err := report.Stored(time.Now())
	if err != nil {
		return err
	}
	if err := a.reports.Save(ctx, stored); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if saver, ok := a.reports.(performanceSaver); ok {
		if err := saver.SavePerformanceRecords(ctx, report.RunID, report.Records()); err != nil {
			return fmt.Errorf("save performance records: %w", err)
		}
	}
	return nil
}

// performanceSaver is implemented by the postgres report repository
type performanceSaver interface {
	SavePerformanceRecords(ctx context.Context, runID string, records []contracts.PerformanceRecord) error
}

func printWalkForwardReport(r *walkforward.Report, start, end time.Time, source string) {
	PrintRunHeader(RunMetadata{
		Title:      "Walk-Forward Report (" + r.Mode + ")",
		RunID:      r.RunID,
		ConfigHash: r.ConfigHash,
		Period: &Period{
			StartDate: start.Format("2006-01-02"),
			EndDate:   end.Format("2006-01-02"),
		},
		Source: source,
	})

	widths := []int{5, 23, 9, 7, 10, 10, 8}
	PrintTableHeader([]string{"Split", "Test", "Status", "Lambda", "Return", "Sharpe", "Trades"}, widths)
	for _, s := range r.Splits {
		PrintTableRow([]string{
			fmt.Sprintf("%d", s.Index),
			s.Window.TestStart.Format("2006-01-02") + "~" + s.Window.TestEnd.Format("01-02"),
			s.Status,
			fmt.Sprintf("%.2f", s.Lambda),
			s.Metrics.TotalReturn.String(),
			s.Metrics.Sharpe.String(),
			fmt.Sprintf("%d", s.Trades),
		}, widths)
	}
	for _, s := range r.Splits {
		if s.Error != "" {
			PrintWarning(fmt.Sprintf("split %d: %s", s.Index, s.Error))
		}
	}

	fmt.Println()
	fmt.Println("   Pooled out-of-sample:")
	PrintMetrics(r.Pooled)
	PrintKeyValue("sharpe_cv", formatMetric(r.SharpeCV), 18)
	PrintDiagnosticCounts(r.DiagnosticCounts)
	PrintDoubleSeparator()
	fmt.Printf("✅ Walk-forward completed in %s (%d splits, %d failed)\n", r.Duration, len(r.Splits), len(r.Failed))
}
