package normalize

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"cardsignal/internal/source"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

var ref = source.CardRef{SetID: "sv1", Number: "25", Name: "Pikachu"}

func TestRawPriceFallsBackToEmbeddedHolo(t *testing.T) {
	// Only an embedded holo price exists: no tracker, no vendor A.
	card, err := Normalize(ref, Sources{
		Record: &source.CardRecord{HoloPrice: dp("42")},
	}, Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if card.RawPrice == nil || !card.RawPrice.Equal(d("42")) {
		t.Fatalf("rawPrice = %v, want embedded holo 42", card.RawPrice)
	}
	if card.RawSource != "record_holo" {
		t.Fatalf("rawSource = %s, want record_holo", card.RawSource)
	}
}

func TestRawPricePriorityOrder(t *testing.T) {
	s := Sources{
		Tracker: &source.PriceQuote{Raw: dp("10")},
		Catalog: &source.CatalogCard{VendorA: &source.VendorAQuote{NormalMarket: dp("11"), HoloMarket: dp("12")}},
		Record:  &source.CardRecord{NormalPrice: dp("13"), HoloPrice: dp("14")},
	}
	card, err := Normalize(ref, s, Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if card.RawSource != "tracker_raw" || !card.RawPrice.Equal(d("10")) {
		t.Fatalf("tracker must win the raw chain, got %s=%s", card.RawSource, card.RawPrice)
	}

	s.Tracker = nil
	card, _ = Normalize(ref, s, Options{})
	if card.RawSource != "vendor_a_normal" {
		t.Fatalf("vendor A normal must be second, got %s", card.RawSource)
	}
}

func TestImagePriorityOrder(t *testing.T) {
	s := Sources{
		Catalog: &source.CatalogCard{SmallImage: "https://catalog/s.png", VendorA: &source.VendorAQuote{Image: "https://va/i.png"}},
		VendorB: &source.VendorImage{URL: "https://vb/i.png"},
		Record:  &source.CardRecord{Image: "https://rec/i.png", LegacyImage: "https://legacy/i.png"},
	}
	card, err := Normalize(ref, s, Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if card.ImageSource != "catalog_small" {
		t.Fatalf("catalog small image must win, got %s", card.ImageSource)
	}

	s.Catalog.SmallImage = ""
	card, _ = Normalize(ref, s, Options{})
	if card.ImageSource != "vendor_a" {
		t.Fatalf("vendor A image must be second, got %s", card.ImageSource)
	}

	s.Catalog = nil
	card, _ = Normalize(ref, s, Options{})
	if card.ImageSource != "vendor_b" {
		t.Fatalf("vendor B image must be third, got %s", card.ImageSource)
	}

	s.VendorB = nil
	s.Record.Image = ""
	card, _ = Normalize(ref, s, Options{})
	if card.ImageSource != "legacy" {
		t.Fatalf("legacy image must be last, got %s", card.ImageSource)
	}
}

func TestGradedEstimateDerivedFromRaw(t *testing.T) {
	card, err := Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("10")}}, Options{})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if !card.GradedEstimated {
		t.Fatal("graded price should be flagged as estimated")
	}
	if !card.GradedPrice.Equal(d("45")) {
		t.Fatalf("estimate = %s, want raw*4.5 = 45", card.GradedPrice)
	}
	if card.GradedSource != "derived_estimate" {
		t.Fatalf("gradedSource = %s", card.GradedSource)
	}
}

func TestGradedMultiplierClamped(t *testing.T) {
	card, _ := Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("10")}}, Options{GradedMultiplier: d("100")})
	if !card.GradedPrice.Equal(d("80")) {
		t.Fatalf("multiplier must clamp to 8, got estimate %s", card.GradedPrice)
	}

	card, _ = Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("10")}}, Options{GradedMultiplier: d("1")})
	if !card.GradedPrice.Equal(d("25")) {
		t.Fatalf("multiplier must clamp to 2.5, got estimate %s", card.GradedPrice)
	}
}

func TestObservedGradedPriceWinsOverEstimate(t *testing.T) {
	card, _ := Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("10"), PSA10: dp("33")}}, Options{})
	if card.GradedEstimated || !card.GradedPrice.Equal(d("33")) {
		t.Fatalf("observed psa10 must win: %+v", card)
	}
}

func TestSuspiciousRatioFlag(t *testing.T) {
	// ratio 33/10 = 3.3 is sane
	card, _ := Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("10"), PSA10: dp("33")}}, Options{})
	if card.Suspicious {
		t.Fatal("sane ratio flagged suspicious")
	}

	// ratio 200 is above the sane band; flagged but not rejected
	card, err := Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("1"), PSA10: dp("200")}}, Options{})
	if err != nil {
		t.Fatalf("suspicious records must not be rejected: %v", err)
	}
	if !card.Suspicious {
		t.Fatal("ratio 200 should be flagged suspicious")
	}

	// ratio 1.05 is below the sane band
	card, _ = Normalize(ref, Sources{Tracker: &source.PriceQuote{Raw: dp("100"), PSA10: dp("105")}}, Options{})
	if !card.Suspicious {
		t.Fatal("ratio 1.05 should be flagged suspicious")
	}
}

func TestShapeValidationNamesField(t *testing.T) {
	_, err := Normalize(source.CardRef{SetID: "sv1"}, Sources{}, Options{})
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected a FieldError, got %v", err)
	}
	if fieldErr.Field != "identity.number" {
		t.Fatalf("field = %s, want identity.number", fieldErr.Field)
	}

	_, err = Normalize(ref, Sources{Record: &source.CardRecord{Image: "not-a-url", NormalPrice: dp("5")}}, Options{})
	if !errors.As(err, &fieldErr) || fieldErr.Field != "image" {
		t.Fatalf("expected image field error, got %v", err)
	}
}

func TestNoSourcesYieldsEmptyRecord(t *testing.T) {
	card, err := Normalize(ref, Sources{}, Options{})
	if err != nil {
		t.Fatalf("empty sources must not error: %v", err)
	}
	if card.RawPrice != nil || card.GradedPrice != nil || card.Image != "" {
		t.Fatalf("expected empty record, got %+v", card)
	}
}
