package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScanOnStartRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	s := New(Options{Interval: time.Hour, AlignToStart: true, ScanOnStart: true}, zerolog.Nop())
	err := s.Run(ctx, func(ctx context.Context, cycle time.Time) error {
		calls++
		cancel()
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one startup scan, got %d", calls)
	}
}

func TestNextCycleAlignment(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 14, 20, 0, 0, time.UTC)

	next := s.nextCycle(now)
	want := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected %v, got %v", want, next)
	}
}

func TestNextCycleUnaligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Minute}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 14, 20, 0, 0, time.UTC)

	next := s.nextCycle(now)
	if got := next.Sub(now); got != 30*time.Minute {
		t.Fatalf("expected interval offset, got %v", got)
	}
}
