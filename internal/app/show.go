package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Show prints the latest signal per watched card.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	if b == nil {
		return errors.New("storage not configured; cannot show signals")
	}
	defer b.close()

	records, err := b.signals.ListRecentSignals(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no signals found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Card\tRaw\tGraded\tMedian30d\tSales30d\tGem\tNet EV\tUpside%\tConf\tBadges\tComputed (UTC)")

	for _, rec := range records {
		badges := ""
		if rec.BadgeMomentum {
			badges += "M"
		}
		if rec.BadgeGrading {
			badges += "G"
		}
		if rec.BadgeHighVolume {
			badges += "V"
		}
		if badges == "" {
			badges = "-"
		}

		upside := "-"
		netEV := "-"
		if rec.ValuationKnown {
			netEV = rec.NetEV.StringFixed(2)
			upside = rec.UpsidePct.Mul(hundred).StringFixed(1)
		}

		fmt.Fprintf(
			writer,
			"%s-%s\t%s\t%s\t%s\t%d\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			rec.SetID,
			rec.Number,
			formatNullableDecimal(rec.RawPrice),
			formatNullableDecimal(rec.GradedPrice),
			rec.Median30d.StringFixed(2),
			rec.Sales30d,
			rec.P10,
			netEV,
			upside,
			rec.Chip,
			badges,
			rec.ComputedAt.UTC().Format(time.RFC3339),
		)
	}

	return writer.Flush()
}

func formatNullableDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}
