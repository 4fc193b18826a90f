package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"cardsignal/internal/source"
)

// Scan processes a single card immediately and prints the resulting signal.
// With DryRun set, state lives in memory and nothing is persisted.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	if opts.SetID == "" || opts.Number == "" {
		return errors.New("both --set and --number are required")
	}

	var b *backend
	if opts.DryRun {
		a.Logger.Info().Msg("dry run: using in-memory state, nothing will be persisted")
		b = memoryBackend()
	} else {
		var err error
		b, err = a.openBackend(ctx)
		if err != nil {
			return err
		}
		if b == nil {
			return errors.New("storage not configured; use --dry-run for a stateless scan")
		}
	}
	defer b.close()

	svc := a.buildService(b, nil, nil)

	ref := source.CardRef{SetID: opts.SetID, Number: opts.Number, Name: opts.Name}
	sig, err := svc.ProcessCard(ctx, ref)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Card\t%s-%s %s\n", sig.Card.SetID, sig.Card.Number, sig.Card.Name)
	fmt.Fprintf(writer, "Raw price\t%s (%s)\n", formatNullableDecimal(sig.Normalized.RawPrice), orDash(sig.Normalized.RawSource))
	fmt.Fprintf(writer, "Graded price\t%s (%s, estimated=%t)\n", formatNullableDecimal(sig.Normalized.GradedPrice), orDash(sig.Normalized.GradedSource), sig.Normalized.GradedEstimated)
	fmt.Fprintf(writer, "Median 5d/30d/90d\t%s / %s / %s\n", sig.Stats.Median5d.StringFixed(2), sig.Stats.Median30d.StringFixed(2), sig.Stats.Median90d.StringFixed(2))
	fmt.Fprintf(writer, "Sales 5d/30d/90d\t%d / %d / %d\n", sig.Stats.Sales5d, sig.Stats.Sales30d, sig.Stats.Sales90d)
	fmt.Fprintf(writer, "Momentum\t%s\n", sig.Stats.Momentum.StringFixed(4))
	fmt.Fprintf(writer, "Gem rate\t%.3f (%s, conf %.2f)\n", sig.GemRate.P10, sig.GemRate.Method, sig.GemRate.Confidence)
	if sig.Valuation.Known {
		fmt.Fprintf(writer, "Spread after fees\t%s\n", sig.Valuation.SpreadAfterFees.StringFixed(2))
		fmt.Fprintf(writer, "Net EV\t%s (upside %s%%)\n", sig.Valuation.NetExpectedValue.StringFixed(2), sig.Valuation.UpsidePct.Mul(hundred).StringFixed(1))
	} else {
		fmt.Fprintln(writer, "Valuation\tinsufficient data")
	}
	fmt.Fprintf(writer, "Confidence\t%s (chip %s)\n", sig.Confidence, sig.Chip)
	fmt.Fprintf(writer, "Badges\tmomentum=%t grading=%t high-volume=%t\n", sig.Badges.Momentum, sig.Badges.GradingOpportunity, sig.Badges.HighVolume)
	if sig.Normalized.Suspicious {
		fmt.Fprintln(writer, "Warning\traw/graded ratio looks suspicious")
	}
	return writer.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
