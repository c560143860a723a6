package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	strategyFile string
	env          string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "b3quant - B3 배당 런업 전략 백테스트 엔진",
	Long: `b3quant Unified CLI

B3 주식의 배당/JCP 기준일 런업 이벤트, 공매도 포지셔닝,
외부 컨빅션 스코어를 결합한 전략의 백테스트 및 워크포워드 검증.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant backtest run --from 2023-01-02 --to 2023-12-28 --synthetic
  go run ./cmd/quant walkforward run --from 2021-01-04 --to 2023-12-28 --snapshot data/b3.json
  go run ./cmd/quant config validate
  go run ./cmd/quant serve`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&strategyFile, "strategy", "config/strategy/b3_dividend_runup.yaml", "strategy config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
}
