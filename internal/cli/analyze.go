package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crypto-risk-scorer/internal/app"
)

var (
	analyzeAddress    string
	analyzeChain      string
	analyzeHistorical bool
	analyzeJSON       bool

	batchDetailed bool

	monitorInterval time.Duration
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <token-id>",
	Short: "Analyze the risk of a single token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			TokenID:      args[0],
			TokenAddress: analyzeAddress,
			Blockchain:   analyzeChain,
			Historical:   analyzeHistorical,
			JSON:         analyzeJSON,
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <token-id>...",
	Short: "Analyze several tokens and print a risk report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Batch(cmd.Context(), app.BatchOptions{
			TokenIDs: args,
			Detailed: batchDetailed,
		})
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor <token-id>...",
	Short: "Re-analyze tokens periodically and alert on critical risk or price moves",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if monitorInterval < 0 {
			return fmt.Errorf("--interval must not be negative")
		}
		return getApp().Monitor(cmd.Context(), app.MonitorOptions{
			TokenIDs: args,
			Interval: monitorInterval,
		})
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeAddress, "address", "", "Token contract address (enables holder and contract checks)")
	analyzeCmd.Flags().StringVar(&analyzeChain, "chain", "", "Blockchain of the contract (defaults to config)")
	analyzeCmd.Flags().BoolVar(&analyzeHistorical, "historical", false, "Include historical trend and peer comparison")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full analysis as JSON")

	batchCmd.Flags().BoolVar(&batchDetailed, "detailed", false, "Print the detailed report as JSON")

	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "Monitoring interval (defaults to config)")
}
