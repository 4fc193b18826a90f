package grading

import "testing"

func TestRecentProxyTakesPrecedence(t *testing.T) {
	est := NewEstimator(nil)
	got := est.Estimate(Context{
		Recent:     &Snapshot{Pop10: 10, Total: 50},
		Historical: &Snapshot{Pop10: 100, Total: 500},
	})
	if got.Method != MethodRecentProxy {
		t.Fatalf("method = %s, want recent-proxy even with a richer historical snapshot", got.Method)
	}
	if got.P10 != 0.2 {
		t.Fatalf("p10 = %f, want 0.2", got.P10)
	}
	if got.Confidence != 0.5 {
		t.Fatalf("confidence = %f, want total/100 = 0.5", got.Confidence)
	}
}

func TestPopulationProxyFallback(t *testing.T) {
	est := NewEstimator(nil)
	got := est.Estimate(Context{
		Recent:     &Snapshot{Pop10: 0, Total: 0},
		Historical: &Snapshot{Pop10: 30, Total: 300},
	})
	if got.Method != MethodPopulationProxy {
		t.Fatalf("method = %s, want population-proxy", got.Method)
	}
	if got.P10 != 0.1 {
		t.Fatalf("p10 = %f, want 0.1", got.P10)
	}
	if got.Confidence != 1 {
		t.Fatalf("confidence = %f, want min(1, 300/300)", got.Confidence)
	}
}

func TestSetDefaultModifiers(t *testing.T) {
	est := NewEstimator(map[string]float64{"Base Set": 0.10})

	got := est.Estimate(Context{Card: CardAttributes{SetName: "base set", Number: "4", AgeDays: 365}})
	if got.Method != MethodSetDefault {
		t.Fatalf("method = %s, want set-default", got.Method)
	}
	if got.P10 != 0.10 {
		t.Fatalf("p10 = %f, want unmodified baseline 0.10", got.P10)
	}
	if got.Confidence != 0.2 {
		t.Fatalf("confidence = %f, want 0.2", got.Confidence)
	}

	alt := est.Estimate(Context{Card: CardAttributes{SetName: "base set", Number: "TG12", AgeDays: 365}})
	if alt.P10 <= got.P10 {
		t.Fatalf("alt-art number should raise the baseline: %f <= %f", alt.P10, got.P10)
	}

	old := est.Estimate(Context{Card: CardAttributes{SetName: "base set", Number: "4", AgeDays: 6 * 365}})
	if old.P10 >= got.P10 {
		t.Fatalf("age > 5y should lower the baseline: %f >= %f", old.P10, got.P10)
	}

	fresh := est.Estimate(Context{Card: CardAttributes{SetName: "base set", Number: "4", AgeDays: 10}})
	if fresh.P10 <= got.P10 {
		t.Fatalf("age < 30d should raise the baseline: %f <= %f", fresh.P10, got.P10)
	}

	promo := est.Estimate(Context{Card: CardAttributes{SetName: "Black Star Promo", Number: "4", AgeDays: 365}})
	if promo.P10 != clampP10(0.15*1.1) {
		t.Fatalf("promo set should apply the 1.1 modifier, got %f", promo.P10)
	}
}

func TestClampingAlwaysHolds(t *testing.T) {
	est := NewEstimator(nil)
	cases := []Context{
		{Recent: &Snapshot{Pop10: 1000, Total: 1000}},
		{Recent: &Snapshot{Pop10: 0, Total: 1000}},
		{Historical: &Snapshot{Pop10: 999, Total: 1000}},
		{Card: CardAttributes{SetName: "promo", Number: "SV99", AgeDays: 5}},
	}
	for i, c := range cases {
		got := est.Estimate(c)
		if got.P10 < MinP10 || got.P10 > MaxP10 {
			t.Fatalf("case %d: p10 %f outside [%f, %f]", i, got.P10, MinP10, MaxP10)
		}
	}
}

func TestEstimateIsPure(t *testing.T) {
	est := NewEstimator(nil)
	ctx := Context{Recent: &Snapshot{Pop10: 7, Total: 70}}
	a := est.Estimate(ctx)
	b := est.Estimate(ctx)
	if a != b {
		t.Fatalf("identical inputs produced different outputs: %+v vs %+v", a, b)
	}
}
