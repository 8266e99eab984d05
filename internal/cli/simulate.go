package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"crypto-risk-scorer/internal/app"
)

var (
	simulateScore    float64
	simulatePrice    float64
	simulatePrevious float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert <token-id>",
	Short: "模拟一次监控告警并推送到已配置的通道",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateScore < 0 || simulateScore > 100 {
			return errors.New("--score 必须在 0 到 100 之间")
		}
		if simulatePrice < 0 || simulatePrevious < 0 {
			return errors.New("--price 与 --previous 不能为负数")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			TokenID:       args[0],
			RiskScore:     simulateScore,
			Price:         decimal.NewFromFloat(simulatePrice),
			PreviousPrice: decimal.NewFromFloat(simulatePrevious),
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateScore, "score", 85, "模拟风险分")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "当前价格 (USD)")
	simulateCmd.Flags().Float64Var(&simulatePrevious, "previous", 0, "上一次价格 (USD)，设置后模拟价格偏差告警")
}
