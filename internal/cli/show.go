package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"crypto-risk-scorer/internal/app"
)

var (
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show <token-id>",
	Short: "Display recent risk snapshots and alerts of a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			TokenID: args[0],
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of snapshots to display")
}
