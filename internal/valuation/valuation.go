package valuation

import (
	"github.com/shopspring/decimal"
)

// FeeTier fixes the grading economics for one band of raw card value.
// Bands are contiguous: MinValue inclusive, MaxValue exclusive, the last
// tier unbounded above (nil MaxValue).
type FeeTier struct {
	Name            string
	MinValue        decimal.Decimal
	MaxValue        *decimal.Decimal
	GradingFee      decimal.Decimal
	Shipping        decimal.Decimal
	MarketplaceRate decimal.Decimal
}

// Schedule is an ordered, exhaustive fee tier table.
type Schedule struct {
	tiers []FeeTier
}

// DefaultHaircut models the resale discount applied to the non-gem outcome.
const DefaultHaircut = 0.9

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// DefaultSchedule mirrors mainstream grading service pricing: flat grading
// and shipping fees per declared-value band plus a marketplace percentage.
func DefaultSchedule() Schedule {
	return Schedule{tiers: []FeeTier{
		{Name: "value", MinValue: dec("0"), MaxValue: decPtr("200"), GradingFee: dec("25"), Shipping: dec("15"), MarketplaceRate: dec("0.13")},
		{Name: "regular", MinValue: dec("200"), MaxValue: decPtr("500"), GradingFee: dec("75"), Shipping: dec("15"), MarketplaceRate: dec("0.13")},
		{Name: "express", MinValue: dec("500"), MaxValue: decPtr("1000"), GradingFee: dec("150"), Shipping: dec("25"), MarketplaceRate: dec("0.12")},
		{Name: "super-express", MinValue: dec("1000"), MaxValue: nil, GradingFee: dec("300"), Shipping: dec("50"), MarketplaceRate: dec("0.11")},
	}}
}

// NewSchedule builds a schedule from an explicit tier table. Tiers must be
// ordered ascending; the caller owns that invariant (config validation
// enforces it at load time).
func NewSchedule(tiers []FeeTier) Schedule {
	return Schedule{tiers: tiers}
}

// TierFor selects the tier whose band contains value. The lower bound is
// inclusive: a card worth exactly a boundary lands in the higher tier.
func (s Schedule) TierFor(value decimal.Decimal) FeeTier {
	for _, tier := range s.tiers {
		if value.GreaterThanOrEqual(tier.MinValue) && (tier.MaxValue == nil || value.LessThan(*tier.MaxValue)) {
			return tier
		}
	}
	// Negative or otherwise out-of-band values take the first tier.
	return s.tiers[0]
}

// TotalFees is gradingFee + shipping + value * marketplaceRate for the tier
// containing value.
func (s Schedule) TotalFees(value decimal.Decimal) decimal.Decimal {
	tier := s.TierFor(value)
	return tier.GradingFee.Add(tier.Shipping).Add(value.Mul(tier.MarketplaceRate))
}

// SpreadAfterFees is psa10 - (raw + totalFees(cardValue)).
func (s Schedule) SpreadAfterFees(psa10, raw, cardValue decimal.Decimal) decimal.Decimal {
	return psa10.Sub(raw.Add(s.TotalFees(cardValue)))
}

// ExpectedGradeValue blends the gem and non-gem outcomes:
// p10*psa10 + (1-p10)*psa9*haircut.
func ExpectedGradeValue(p10 float64, psa10, psa9 decimal.Decimal, haircut float64) decimal.Decimal {
	if haircut <= 0 {
		haircut = DefaultHaircut
	}
	p := decimal.NewFromFloat(p10)
	miss := decimal.NewFromInt(1).Sub(p)
	return p.Mul(psa10).Add(miss.Mul(psa9).Mul(decimal.NewFromFloat(haircut)))
}

// NetInput carries the figures for the net expected value calculation.
type NetInput struct {
	RawMedian30d   decimal.Decimal
	EVGrade        decimal.Decimal
	GradeCostAllIn decimal.Decimal
}

// NetExpectedValue returns evGrade - rawMedian30d - gradeCostAllIn and the
// upside as a fraction of the raw median (0 when the median is 0).
func NetExpectedValue(in NetInput) (net, upsidePct decimal.Decimal) {
	net = in.EVGrade.Sub(in.RawMedian30d).Sub(in.GradeCostAllIn)
	if in.RawMedian30d.IsZero() {
		return net, decimal.Zero
	}
	return net, net.Div(in.RawMedian30d)
}

// Result is the full valuation snapshot for one card. Known is false when
// inputs were too thin to price; the zero figures are then the documented
// fallbacks, not measurements.
type Result struct {
	SpreadAfterFees  decimal.Decimal
	EVGrade          decimal.Decimal
	NetExpectedValue decimal.Decimal
	UpsidePct        decimal.Decimal
	GradeCostAllIn   decimal.Decimal
	Known            bool
}

// Evaluate runs the whole economic model. Nil or non-positive prices
// short-circuit to a zero Result with Known=false; nothing here errors.
// When no 30d median exists the current raw price stands in for it, so a
// card with a quote but no sale history still gets a net figure instead
// of a zero upside.
func Evaluate(s Schedule, raw, psa10, psa9 *decimal.Decimal, rawMedian30d decimal.Decimal, p10 float64, haircut float64) Result {
	if raw == nil || psa10 == nil || !raw.IsPositive() || !psa10.IsPositive() {
		return Result{}
	}

	nine := decimal.Zero
	if psa9 != nil && psa9.IsPositive() {
		nine = *psa9
	}

	cost := s.TierFor(*raw).GradingFee.Add(s.TierFor(*raw).Shipping)
	ev := ExpectedGradeValue(p10, *psa10, nine, haircut)

	median := rawMedian30d
	if median.IsZero() {
		median = *raw
	}

	net, upside := NetExpectedValue(NetInput{
		RawMedian30d:   median,
		EVGrade:        ev,
		GradeCostAllIn: cost,
	})

	return Result{
		SpreadAfterFees:  s.SpreadAfterFees(*psa10, *raw, *raw),
		EVGrade:          ev,
		NetExpectedValue: net,
		UpsidePct:        upside,
		GradeCostAllIn:   cost,
		Known:            true,
	}
}
