package valuation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTierBoundaryInclusiveLower(t *testing.T) {
	s := DefaultSchedule()

	below := s.TierFor(dec("199.99"))
	if below.Name != "value" {
		t.Fatalf("199.99 should land in the value tier, got %s", below.Name)
	}

	// A card valued exactly at a boundary is consistently assigned the
	// higher tier.
	at := s.TierFor(dec("200"))
	if at.Name != "regular" {
		t.Fatalf("200 should land in the regular tier, got %s", at.Name)
	}

	top := s.TierFor(dec("50000"))
	if top.MaxValue != nil {
		t.Fatal("top tier must be unbounded above")
	}
}

func TestTierForNegativeValue(t *testing.T) {
	s := DefaultSchedule()
	if got := s.TierFor(dec("-5")); got.Name != "value" {
		t.Fatalf("negative value should fall back to the first tier, got %s", got.Name)
	}
}

func TestTotalFees(t *testing.T) {
	s := DefaultSchedule()
	// value tier: 25 + 15 + 100*0.13 = 53
	got := s.TotalFees(dec("100"))
	if !got.Equal(dec("53")) {
		t.Fatalf("totalFees(100) = %s, want 53", got)
	}
}

func TestSpreadAfterFees(t *testing.T) {
	s := DefaultSchedule()
	// psa10 500 - (raw 100 + fees 53) = 347
	got := s.SpreadAfterFees(dec("500"), dec("100"), dec("100"))
	if !got.Equal(dec("347")) {
		t.Fatalf("spread = %s, want 347", got)
	}
}

func TestExpectedGradeValue(t *testing.T) {
	// 0.2*1000 + 0.8*300*0.9 = 200 + 216 = 416
	got := ExpectedGradeValue(0.2, dec("1000"), dec("300"), DefaultHaircut)
	if !got.Equal(dec("416")) {
		t.Fatalf("evGrade = %s, want 416", got)
	}
}

func TestNetExpectedValue(t *testing.T) {
	net, upside := NetExpectedValue(NetInput{
		RawMedian30d:   dec("100"),
		EVGrade:        dec("416"),
		GradeCostAllIn: dec("40"),
	})
	if !net.Equal(dec("276")) {
		t.Fatalf("net = %s, want 276", net)
	}
	if !upside.Equal(dec("2.76")) {
		t.Fatalf("upside = %s, want 2.76", upside)
	}
}

func TestNetExpectedValueZeroMedian(t *testing.T) {
	_, upside := NetExpectedValue(NetInput{EVGrade: dec("10")})
	if !upside.IsZero() {
		t.Fatalf("upside must be 0 when the raw median is 0, got %s", upside)
	}
}

func TestEvaluateMissingInputs(t *testing.T) {
	s := DefaultSchedule()
	raw := dec("100")
	zero := decimal.Zero

	if got := Evaluate(s, nil, &raw, nil, decimal.Zero, 0.2, 0); got.Known {
		t.Fatal("nil raw price must not produce a known valuation")
	}
	if got := Evaluate(s, &raw, nil, nil, decimal.Zero, 0.2, 0); got.Known {
		t.Fatal("nil graded price must not produce a known valuation")
	}
	if got := Evaluate(s, &zero, &raw, nil, decimal.Zero, 0.2, 0); got.Known {
		t.Fatal("zero raw price must not produce a known valuation")
	}
}

func TestEvaluateHappyPath(t *testing.T) {
	s := DefaultSchedule()
	raw := dec("100")
	psa10 := dec("500")
	psa9 := dec("150")

	got := Evaluate(s, &raw, &psa10, &psa9, dec("100"), 0.2, 0)
	if !got.Known {
		t.Fatal("expected a known valuation")
	}
	// ev = 0.2*500 + 0.8*150*0.9 = 100 + 108 = 208
	if !got.EVGrade.Equal(dec("208")) {
		t.Fatalf("evGrade = %s, want 208", got.EVGrade)
	}
	// cost = 25 + 15 = 40; net = 208 - 100 - 40 = 68
	if !got.NetExpectedValue.Equal(dec("68")) {
		t.Fatalf("net = %s, want 68", got.NetExpectedValue)
	}
	if !got.UpsidePct.Equal(dec("0.68")) {
		t.Fatalf("upside = %s, want 0.68", got.UpsidePct)
	}
}

func TestEvaluateRawStandsInForMissingMedian(t *testing.T) {
	s := DefaultSchedule()
	raw := dec("100")
	psa10 := dec("500")
	psa9 := dec("150")

	// No sale history means a zero 30d median; the quote itself anchors
	// the net figure so the card still gets priced.
	got := Evaluate(s, &raw, &psa10, &psa9, decimal.Zero, 0.2, 0)
	if !got.Known {
		t.Fatal("expected a known valuation")
	}
	if !got.NetExpectedValue.Equal(dec("68")) {
		t.Fatalf("net = %s, want 68", got.NetExpectedValue)
	}
	if !got.UpsidePct.Equal(dec("0.68")) {
		t.Fatalf("upside = %s, want 0.68", got.UpsidePct)
	}
}
