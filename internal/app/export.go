package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"cardsignal/internal/storage"
)

// Export renders one card's signal history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.SetID == "" || opts.Number == "" {
		return errors.New("both --set and --number are required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	if b == nil {
		return errors.New("storage not configured; cannot export")
	}
	defer b.close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -90)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := b.signals.ListSignalHistory(ctx, opts.SetID, opts.Number, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no signals found for export window")
		return nil
	}

	downsampled := downsampleSignals(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting signals")

	if opts.CSVPath != "" {
		if err := writeSignalsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSignalsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSignals(records []storage.SignalRecord, max int) []storage.SignalRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.SignalRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeSignalsCSV(path string, records []storage.SignalRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"computed_at", "raw_price", "graded_price", "median_30d", "sales_30d",
		"volatility", "momentum", "p10", "gem_method", "net_ev", "upside_pct",
		"confidence", "chip",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		raw := ""
		if rec.RawPrice != nil {
			raw = rec.RawPrice.String()
		}
		graded := ""
		if rec.GradedPrice != nil {
			graded = rec.GradedPrice.String()
		}
		record := []string{
			rec.ComputedAt.Format(time.RFC3339),
			raw,
			graded,
			rec.Median30d.String(),
			formatInt(rec.Sales30d),
			rec.Volatility.String(),
			rec.Momentum.String(),
			formatFloat(rec.P10),
			rec.GemMethod,
			rec.NetEV.String(),
			rec.UpsidePct.String(),
			rec.ConfidenceLevel,
			rec.Chip,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSignalsPNG(path string, records []storage.SignalRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	median := make([]float64, len(records))
	graded := make([]float64, len(records))
	netEV := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.ComputedAt
		median[i] = rec.Median30d.InexactFloat64()
		if rec.GradedPrice != nil {
			graded[i] = rec.GradedPrice.InexactFloat64()
		}
		netEV[i] = rec.NetEV.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Net EV (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Raw median 30d",
				XValues: x,
				YValues: median,
			},
			chart.TimeSeries{
				Name:    "Graded",
				XValues: x,
				YValues: graded,
			},
			chart.TimeSeries{
				Name:    "Net EV",
				XValues: x,
				YValues: netEV,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
