package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"cardsignal/internal/signal"
)

// SignalRecord is the persisted, flattened form of a computed card signal.
// One row per (set, number, computed_at); the presentation layer reads
// these, the engine only writes them.
type SignalRecord struct {
	SetID           string
	Number          string
	Name            string
	Image           string
	RawPrice        *decimal.Decimal
	GradedPrice     *decimal.Decimal
	GradedEstimated bool
	Suspicious      bool

	Median5d   decimal.Decimal
	Median30d  decimal.Decimal
	Median90d  decimal.Decimal
	Pct5d      decimal.Decimal
	Pct30d     decimal.Decimal
	Sales5d    int
	Sales30d   int
	Sales90d   int
	Volatility decimal.Decimal
	Momentum   decimal.Decimal

	P10           float64
	GemMethod     string
	GemConfidence float64

	SpreadAfterFees decimal.Decimal
	NetEV           decimal.Decimal
	UpsidePct       decimal.Decimal
	ValuationKnown  bool

	ConfidenceLevel string
	Chip            string

	BadgeMomentum   bool
	BadgeGrading    bool
	BadgeHighVolume bool

	ComputedAt time.Time
	CreatedAt  time.Time
}

// NewSignalRecord flattens a computed signal for persistence.
func NewSignalRecord(sig signal.CardSignal) SignalRecord {
	return SignalRecord{
		SetID:           sig.Card.SetID,
		Number:          sig.Card.Number,
		Name:            sig.Card.Name,
		Image:           sig.Normalized.Image,
		RawPrice:        sig.Normalized.RawPrice,
		GradedPrice:     sig.Normalized.GradedPrice,
		GradedEstimated: sig.Normalized.GradedEstimated,
		Suspicious:      sig.Normalized.Suspicious,
		Median5d:        sig.Stats.Median5d,
		Median30d:       sig.Stats.Median30d,
		Median90d:       sig.Stats.Median90d,
		Pct5d:           sig.Stats.Pct5d,
		Pct30d:          sig.Stats.Pct30d,
		Sales5d:         sig.Stats.Sales5d,
		Sales30d:        sig.Stats.Sales30d,
		Sales90d:        sig.Stats.Sales90d,
		Volatility:      sig.Stats.Volatility30d,
		Momentum:        sig.Stats.Momentum,
		P10:             sig.GemRate.P10,
		GemMethod:       string(sig.GemRate.Method),
		GemConfidence:   sig.GemRate.Confidence,
		SpreadAfterFees: sig.Valuation.SpreadAfterFees,
		NetEV:           sig.Valuation.NetExpectedValue,
		UpsidePct:       sig.Valuation.UpsidePct,
		ValuationKnown:  sig.Valuation.Known,
		ConfidenceLevel: string(sig.Confidence),
		Chip:            string(sig.Chip),
		BadgeMomentum:   sig.Badges.Momentum,
		BadgeGrading:    sig.Badges.GradingOpportunity,
		BadgeHighVolume: sig.Badges.HighVolume,
		ComputedAt:      sig.ComputedAt,
	}
}
