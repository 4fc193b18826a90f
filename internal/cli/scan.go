package cli

import (
	"github.com/spf13/cobra"

	"cardsignal/internal/app"
)

var (
	scanSet    string
	scanNumber string
	scanName   string
	scanDryRun bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Process a single card now and print its signal",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ScanOptions{
			SetID:  scanSet,
			Number: scanNumber,
			Name:   scanName,
			DryRun: scanDryRun,
		}
		return getApp().Scan(cmd.Context(), opts)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanSet, "set", "", "Card set identifier")
	scanCmd.Flags().StringVar(&scanNumber, "number", "", "Card number within the set")
	scanCmd.Flags().StringVar(&scanName, "name", "", "Card display name")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Keep all state in memory; persist nothing")
}
