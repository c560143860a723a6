package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/b3quant/internal/strategyconfig"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "전략 설정 검증",
	Long: `전략 YAML을 검증하고 재현성 해시를 출력합니다.

Example:
  go run ./cmd/quant config validate
  go run ./cmd/quant config hash --strategy config/strategy/b3_dividend_runup.yaml`,
}

var (
	configValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "전략 설정 검증 (필수 규칙 + 권장 경고)",
		RunE:  runConfigValidate,
	}

	configHashCmd = &cobra.Command{
		Use:   "hash",
		Short: "정규화된 전략 설정의 SHA-256 해시",
		RunE:  runConfigHash,
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configHashCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := strategyconfig.Load(strategyFile)
	if err != nil {
		PrintError(err.Error())
		return err
	}

	PrintSuccess(fmt.Sprintf("%s is valid (strategy %s v%s)", strategyFile, cfg.Meta.StrategyID, cfg.Meta.Version))
	PrintKeyValue("tickers", fmt.Sprintf("%d", len(cfg.Universe.TickerList())), 14)
	PrintKeyValue("rebalance", cfg.Portfolio.RebalanceFrequency, 14)
	PrintKeyValue("lambda", fmt.Sprintf("%.2f", cfg.Signals.ConvictionLambda), 14)
	PrintKeyValue("walk_forward", fmt.Sprintf("%s %d/%d step %d", cfg.WalkForward.Mode,
		cfg.WalkForward.TrainWindowLen, cfg.WalkForward.TestWindowLen, cfg.WalkForward.Step()), 14)

	for _, w := range strategyconfig.Warn(cfg) {
		PrintWarning(fmt.Sprintf("[%s] %s", w.Code, w.Message))
	}
	return nil
}

func runConfigHash(cmd *cobra.Command, args []string) error {
	cfg, _, err := strategyconfig.Load(strategyFile)
	if err != nil {
		return err
	}
	hash, err := strategyconfig.Hash(cfg)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
