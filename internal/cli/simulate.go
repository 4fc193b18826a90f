package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateTargetPct float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Replay quota usage in memory to verify the alert channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTargetPct <= 0 {
			return errors.New("--target-pct must be greater than 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateTargetPct)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateTargetPct, "target-pct", 100, "Quota percentage to simulate up to")
}
