package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stocks-watcher/internal/app"
)

var (
	simulateTicker string
	simulatePrice  float64
	simulateLevel  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价位触达并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateLevel <= 0 {
			return errors.New("--level 必须大于 0")
		}

		opts := app.SimulateOptions{
			Ticker: simulateTicker,
			Price:  decimal.NewFromFloat(simulatePrice),
			Level:  decimal.NewFromFloat(simulateLevel),
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "SIM", "模拟标的代码")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟当前价格(默认等于价位)")
	simulateCmd.Flags().Float64Var(&simulateLevel, "level", 0, "关注价位")
}
