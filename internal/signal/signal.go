package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"cardsignal/internal/confidence"
	"cardsignal/internal/grading"
	"cardsignal/internal/normalize"
	"cardsignal/internal/source"
	"cardsignal/internal/stats"
	"cardsignal/internal/valuation"
)

// CardSignal is the composite record handed to the presentation layer.
// The engine only produces it; display order and filtering are the
// caller's business.
type CardSignal struct {
	Card       source.CardRef
	Normalized normalize.NormalizedCard
	Stats      stats.BasicStats
	GemRate    grading.Estimate
	Valuation  valuation.Result
	Confidence confidence.Level
	Chip       confidence.ChipLevel
	Badges     Badges
	ComputedAt time.Time
}

// Badges are boolean display flags derived from fixed thresholds.
type Badges struct {
	Momentum           bool
	GradingOpportunity bool
	HighVolume         bool
}

// BadgeThresholds tune badge derivation.
type BadgeThresholds struct {
	// MomentumPct is the minimum 5-day raw delta for the momentum badge.
	MomentumPct decimal.Decimal
	// MomentumMinSales is the 5-day volume floor for the momentum badge.
	MomentumMinSales int
	// UpsidePct is the minimum upside for the grading-opportunity badge.
	UpsidePct decimal.Decimal
	// HighVolumeSales is the 30-day count for the high-volume badge.
	HighVolumeSales int
}

// DefaultBadgeThresholds returns the documented defaults.
func DefaultBadgeThresholds() BadgeThresholds {
	return BadgeThresholds{
		MomentumPct:      decimal.RequireFromString("0.10"),
		MomentumMinSales: 3,
		UpsidePct:        decimal.RequireFromString("0.25"),
		HighVolumeSales:  15,
	}
}

// DeriveBadges computes the display flags. The grading-opportunity badge
// requires adequate confidence: Noisy data never earns it.
func DeriveBadges(st stats.BasicStats, val valuation.Result, level confidence.Level, t BadgeThresholds) Badges {
	var b Badges

	if st.Pct5d.GreaterThanOrEqual(t.MomentumPct) && st.Sales5d >= t.MomentumMinSales {
		b.Momentum = true
	}
	if val.Known && val.UpsidePct.GreaterThanOrEqual(t.UpsidePct) && level != confidence.Noisy {
		b.GradingOpportunity = true
	}
	if st.Sales30d >= t.HighVolumeSales {
		b.HighVolume = true
	}
	return b
}
