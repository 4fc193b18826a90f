package confidence

import "testing"

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		count int
		disp  float64
		want  Level
	}{
		{8, 0.25, High},
		{8, 0.26, Noisy},
		{100, 0.10, High},
		{7, 0.01, Speculative},
		{3, 0.99, Speculative},
		{2, 0.01, Noisy},
		{0, 0, Noisy},
	}
	for _, c := range cases {
		if got := Classify(c.count, c.disp); got != c.want {
			t.Fatalf("classify(%d, %.2f) = %s, want %s", c.count, c.disp, got, c.want)
		}
	}
}

func TestClassifyIsTotal(t *testing.T) {
	for count := -1; count <= 12; count++ {
		for _, disp := range []float64{-1, 0, 0.25, 0.26, 10} {
			switch Classify(count, disp) {
			case High, Speculative, Noisy:
			default:
				t.Fatalf("classify(%d, %.2f) produced an unexpected level", count, disp)
			}
		}
	}
}

func TestChip(t *testing.T) {
	if got := Chip(10, 0.1, false); got != ChipUnknown {
		t.Fatalf("no data must map to Unknown regardless of stats, got %s", got)
	}
	if got := Chip(10, 0.1, true); got != ChipHigh {
		t.Fatalf("chip(10, 0.1) = %s, want High", got)
	}
	if got := Chip(5, 0.5, true); got != ChipMedium {
		t.Fatalf("chip(5, 0.5) = %s, want Medium", got)
	}
	if got := Chip(1, 0.5, true); got != ChipLow {
		t.Fatalf("chip(1, 0.5) = %s, want Low", got)
	}
}
