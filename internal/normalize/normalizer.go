package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cardsignal/internal/source"
)

// Sources bundles what each vendor supplied for one card. Nil members are
// simply skipped by the resolver chains.
type Sources struct {
	Tracker *source.PriceQuote
	Catalog *source.CatalogCard
	VendorB *source.VendorImage
	VendorC *source.VendorImage
	Record  *source.CardRecord
}

// NormalizedCard is the canonical merged record. Each field comes from the
// first source in its chain that supplied a value; no field mixes sources.
type NormalizedCard struct {
	Identity        source.CardRef
	Image           string
	ImageSource     string
	RawPrice        *decimal.Decimal
	RawSource       string
	GradedPrice     *decimal.Decimal
	GradedSource    string
	GradedEstimated bool
	Suspicious      bool
	LastUpdated     time.Time
}

// Multiplier bounds for the derived graded estimate.
var (
	minMultiplier = decimal.RequireFromString("2.5")
	maxMultiplier = decimal.RequireFromString("8")
)

// DefaultGradedMultiplier is a calibrated heuristic, not a measured
// constant; override it through configuration.
var DefaultGradedMultiplier = decimal.RequireFromString("4.5")

// Suspicious ratio band for psa10/raw.
var (
	minSaneRatio = decimal.RequireFromString("1.2")
	maxSaneRatio = decimal.RequireFromString("15")
)

// Options tune normalization.
type Options struct {
	// GradedMultiplier scales the raw price when no observed graded price
	// exists. Values outside [2.5, 8] are clamped before use.
	GradedMultiplier decimal.Decimal
}

// A priceResolver is one step in an ordered fallback chain. Chains are
// plain values so tests can assert the priority order directly.
type priceResolver struct {
	name    string
	resolve func(Sources) *decimal.Decimal
}

type imageResolver struct {
	name    string
	resolve func(Sources) string
}

var imageChain = []imageResolver{
	{"catalog_small", func(s Sources) string {
		if s.Catalog != nil {
			return s.Catalog.SmallImage
		}
		return ""
	}},
	{"vendor_a", func(s Sources) string {
		if s.Catalog != nil && s.Catalog.VendorA != nil {
			return s.Catalog.VendorA.Image
		}
		return ""
	}},
	{"vendor_b", func(s Sources) string {
		if s.VendorB != nil {
			return s.VendorB.URL
		}
		return ""
	}},
	{"vendor_c", func(s Sources) string {
		if s.VendorC != nil {
			return s.VendorC.URL
		}
		return ""
	}},
	{"card_record", func(s Sources) string {
		if s.Record != nil {
			return s.Record.Image
		}
		return ""
	}},
	{"legacy", func(s Sources) string {
		if s.Record != nil {
			return s.Record.LegacyImage
		}
		return ""
	}},
}

var rawPriceChain = []priceResolver{
	{"tracker_raw", func(s Sources) *decimal.Decimal {
		if s.Tracker != nil {
			return s.Tracker.Raw
		}
		return nil
	}},
	{"vendor_a_normal", func(s Sources) *decimal.Decimal {
		if s.Catalog != nil && s.Catalog.VendorA != nil {
			return s.Catalog.VendorA.NormalMarket
		}
		return nil
	}},
	{"vendor_a_holo", func(s Sources) *decimal.Decimal {
		if s.Catalog != nil && s.Catalog.VendorA != nil {
			return s.Catalog.VendorA.HoloMarket
		}
		return nil
	}},
	{"record_normal", func(s Sources) *decimal.Decimal {
		if s.Record != nil {
			return s.Record.NormalPrice
		}
		return nil
	}},
	{"record_holo", func(s Sources) *decimal.Decimal {
		if s.Record != nil {
			return s.Record.HoloPrice
		}
		return nil
	}},
}

var gradedPriceChain = []priceResolver{
	{"tracker_psa10", func(s Sources) *decimal.Decimal {
		if s.Tracker != nil {
			return s.Tracker.PSA10
		}
		return nil
	}},
}

// Normalize resolves one canonical record from the supplied sources.
func Normalize(ref source.CardRef, s Sources, opts Options) (NormalizedCard, error) {
	card := NormalizedCard{Identity: ref, LastUpdated: lastUpdated(s)}

	for _, r := range imageChain {
		if v := r.resolve(s); v != "" {
			card.Image = v
			card.ImageSource = r.name
			break
		}
	}

	for _, r := range rawPriceChain {
		if v := r.resolve(s); v != nil {
			card.RawPrice = v
			card.RawSource = r.name
			break
		}
	}

	for _, r := range gradedPriceChain {
		if v := r.resolve(s); v != nil {
			card.GradedPrice = v
			card.GradedSource = r.name
			break
		}
	}

	if card.GradedPrice == nil && card.RawPrice != nil {
		estimate := card.RawPrice.Mul(clampMultiplier(opts.GradedMultiplier))
		card.GradedPrice = &estimate
		card.GradedSource = "derived_estimate"
		card.GradedEstimated = true
	}

	card.Suspicious = suspiciousRatio(card.RawPrice, card.GradedPrice)

	if err := card.validate(); err != nil {
		return NormalizedCard{}, err
	}
	return card, nil
}

func clampMultiplier(m decimal.Decimal) decimal.Decimal {
	if m.IsZero() {
		m = DefaultGradedMultiplier
	}
	if m.LessThan(minMultiplier) {
		return minMultiplier
	}
	if m.GreaterThan(maxMultiplier) {
		return maxMultiplier
	}
	return m
}

// suspiciousRatio flags psa10/raw outside [1.2, 15]. Advisory only: the
// record is surfaced, not rejected.
func suspiciousRatio(raw, graded *decimal.Decimal) bool {
	if raw == nil || graded == nil || raw.IsZero() {
		return false
	}
	ratio := graded.Div(*raw)
	return ratio.LessThan(minSaneRatio) || ratio.GreaterThan(maxSaneRatio)
}

// FieldError names the field that violated the output contract and the
// record it belongs to, so a batch caller can skip just that record.
type FieldError struct {
	Card   source.CardRef
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("normalize %s/%s: field %q %s", e.Card.SetID, e.Card.Number, e.Field, e.Reason)
}

func (c NormalizedCard) validate() error {
	if c.Identity.SetID == "" {
		return &FieldError{Card: c.Identity, Field: "identity.setId", Reason: "must not be empty"}
	}
	if c.Identity.Number == "" {
		return &FieldError{Card: c.Identity, Field: "identity.number", Reason: "must not be empty"}
	}
	if c.RawPrice != nil && !c.RawPrice.IsPositive() {
		return &FieldError{Card: c.Identity, Field: "rawPrice", Reason: "must be positive when present"}
	}
	if c.GradedPrice != nil && !c.GradedPrice.IsPositive() {
		return &FieldError{Card: c.Identity, Field: "gradedPrice", Reason: "must be positive when present"}
	}
	if c.Image != "" && !strings.HasPrefix(c.Image, "http") {
		return &FieldError{Card: c.Identity, Field: "image", Reason: "must be an http(s) url"}
	}
	return nil
}

func lastUpdated(s Sources) time.Time {
	var latest time.Time
	if s.Tracker != nil && s.Tracker.Timestamp.After(latest) {
		latest = s.Tracker.Timestamp
	}
	if s.Catalog != nil && s.Catalog.VendorA != nil && s.Catalog.VendorA.UpdatedAt.After(latest) {
		latest = s.Catalog.VendorA.UpdatedAt
	}
	return latest
}
