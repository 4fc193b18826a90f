package signal

import (
	"testing"

	"github.com/shopspring/decimal"

	"cardsignal/internal/confidence"
	"cardsignal/internal/stats"
	"cardsignal/internal/valuation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMomentumBadgeNeedsDeltaAndVolume(t *testing.T) {
	th := DefaultBadgeThresholds()

	hot := stats.BasicStats{Pct5d: d("0.15"), Sales5d: 4}
	if !DeriveBadges(hot, valuation.Result{}, confidence.High, th).Momentum {
		t.Fatal("15% delta on 4 sales should earn the momentum badge")
	}

	thin := stats.BasicStats{Pct5d: d("0.15"), Sales5d: 1}
	if DeriveBadges(thin, valuation.Result{}, confidence.High, th).Momentum {
		t.Fatal("momentum badge requires the volume floor")
	}

	flat := stats.BasicStats{Pct5d: d("0.05"), Sales5d: 10}
	if DeriveBadges(flat, valuation.Result{}, confidence.High, th).Momentum {
		t.Fatal("momentum badge requires the delta threshold")
	}
}

func TestGradingOpportunityGatedByConfidence(t *testing.T) {
	th := DefaultBadgeThresholds()
	val := valuation.Result{Known: true, UpsidePct: d("0.5")}

	if !DeriveBadges(stats.BasicStats{}, val, confidence.Speculative, th).GradingOpportunity {
		t.Fatal("speculative confidence with strong upside should earn the badge")
	}
	if DeriveBadges(stats.BasicStats{}, val, confidence.Noisy, th).GradingOpportunity {
		t.Fatal("noisy data must never earn the grading badge")
	}
	if DeriveBadges(stats.BasicStats{}, valuation.Result{UpsidePct: d("0.5")}, confidence.High, th).GradingOpportunity {
		t.Fatal("unknown valuations must never earn the grading badge")
	}
}

func TestHighVolumeBadge(t *testing.T) {
	th := DefaultBadgeThresholds()
	if !DeriveBadges(stats.BasicStats{Sales30d: 20}, valuation.Result{}, confidence.Noisy, th).HighVolume {
		t.Fatal("20 sales in 30d should earn the high-volume badge")
	}
	if DeriveBadges(stats.BasicStats{Sales30d: 5}, valuation.Result{}, confidence.High, th).HighVolume {
		t.Fatal("5 sales in 30d should not earn the high-volume badge")
	}
}
