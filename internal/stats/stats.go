package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies which market a sale belongs to.
type Market string

const (
	MarketRaw     Market = "raw"
	MarketGrade9  Market = "grade9"
	MarketGrade10 Market = "grade10"
)

// Observation is a single recorded sale. Immutable once recorded.
type Observation struct {
	Time   time.Time
	Price  decimal.Decimal
	Market Market
	Source string
}

// Series is a collection of observations for one card+market,
// ordered by time ascending.
type Series []Observation

// BasicStats is a derived snapshot over a price series. Recomputed in full
// on every request, never mutated in place.
type BasicStats struct {
	Median5d        decimal.Decimal
	Median30d       decimal.Decimal
	Median90d       decimal.Decimal
	Pct5d           decimal.Decimal
	Pct30d          decimal.Decimal
	Sales5d         int
	Sales30d        int
	Sales90d        int
	Volatility30d   decimal.Decimal
	Liquidity       decimal.Decimal
	Stability       decimal.Decimal
	Momentum        decimal.Decimal
	OutliersClamped int
}

var (
	decOne  = decimal.NewFromInt(1)
	decTen  = decimal.NewFromInt(10)
	wMom5   = decimal.RequireFromString("0.5")
	wMom30  = decimal.RequireFromString("0.3")
	wMomLiq = decimal.RequireFromString("0.2")
)

// Compute derives BasicStats from the trailing 5/30/90 day windows ending at
// now (inclusive). An empty series yields a zero-value snapshot, not an error.
func Compute(series Series, now time.Time) BasicStats {
	w5 := windowPrices(series, now, 5)
	w30 := windowPrices(series, now, 30)
	w90 := windowPrices(series, now, 90)

	var out BasicStats
	out.Sales5d = len(w5)
	out.Sales30d = len(w30)
	out.Sales90d = len(w90)

	w5w, _, _, c5 := Winsorize(w5)
	w30w, _, _, c30 := Winsorize(w30)
	w90w, _, _, c90 := Winsorize(w90)
	out.OutliersClamped = c5 + c30 + c90

	out.Median5d = Median(w5w)
	out.Median30d = Median(w30w)
	out.Median90d = Median(w90w)

	out.Pct5d = pctChange(out.Median5d, out.Median30d)
	out.Pct30d = pctChange(out.Median30d, out.Median90d)

	mad := MAD(w30w)
	if out.Median30d.IsZero() {
		out.Volatility30d = decimal.Zero
	} else {
		out.Volatility30d = mad.Div(out.Median30d)
	}

	out.Liquidity = clamp01(decimal.NewFromInt(int64(out.Sales30d)).Div(decTen))
	out.Stability = decOne.Sub(clamp01(out.Volatility30d))

	// momentum = 0.5*pct5 + 0.3*pct30 + 0.2*liquidity - 0.2*(1-stability)
	out.Momentum = wMom5.Mul(out.Pct5d).
		Add(wMom30.Mul(out.Pct30d)).
		Add(wMomLiq.Mul(out.Liquidity)).
		Sub(wMomLiq.Mul(decOne.Sub(out.Stability)))

	return out
}

// Median returns the textbook median: the middle order statistic for odd n,
// the mean of the two middle ones for even n. Zero for an empty input.
func Median(xs []decimal.Decimal) decimal.Decimal {
	n := len(xs)
	if n == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(xs)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

// Winsorize clamps values below the 5th percentile up to it and values above
// the 95th percentile down to it, preserving the sample count. It returns the
// clamped values, the bounds used, and how many values were clamped.
func Winsorize(xs []decimal.Decimal) (out []decimal.Decimal, lo, hi decimal.Decimal, clamped int) {
	if len(xs) == 0 {
		return nil, decimal.Zero, decimal.Zero, 0
	}
	sorted := sortedCopy(xs)
	lo = Percentile(sorted, 0.05)
	hi = Percentile(sorted, 0.95)
	out, clamped = ClampToBounds(xs, lo, hi)
	return out, lo, hi, clamped
}

// ClampToBounds applies winsorization with fixed bounds. Clamping twice with
// the same bounds is a no-op on the second pass.
func ClampToBounds(xs []decimal.Decimal, lo, hi decimal.Decimal) ([]decimal.Decimal, int) {
	out := make([]decimal.Decimal, len(xs))
	clamped := 0
	for i, x := range xs {
		switch {
		case x.LessThan(lo):
			out[i] = lo
			clamped++
		case x.GreaterThan(hi):
			out[i] = hi
			clamped++
		default:
			out[i] = x
		}
	}
	return out, clamped
}

// Percentile computes p over an ascending-sorted slice using linear
// interpolation between closest ranks.
func Percentile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	idx := int(pos)
	if idx >= n-1 {
		return sorted[n-1]
	}
	frac := decimal.NewFromFloat(pos - float64(idx))
	return sorted[idx].Add(sorted[idx+1].Sub(sorted[idx]).Mul(frac))
}

// MAD is the median absolute deviation from the median.
func MAD(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	med := Median(xs)
	devs := make([]decimal.Decimal, len(xs))
	for i, x := range xs {
		devs[i] = x.Sub(med).Abs()
	}
	return Median(devs)
}

func windowPrices(series Series, now time.Time, days int) []decimal.Decimal {
	cutoff := now.AddDate(0, 0, -days)
	prices := make([]decimal.Decimal, 0, len(series))
	for _, obs := range series {
		if obs.Time.After(cutoff) && !obs.Time.After(now) {
			prices = append(prices, obs.Price)
		}
	}
	return prices
}

func pctChange(newer, older decimal.Decimal) decimal.Decimal {
	if older.IsZero() {
		return decimal.Zero
	}
	return newer.Sub(older).Div(older)
}

func clamp01(x decimal.Decimal) decimal.Decimal {
	if x.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if x.GreaterThan(decOne) {
		return decOne
	}
	return x
}

func sortedCopy(xs []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(xs))
	copy(out, xs)
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}
