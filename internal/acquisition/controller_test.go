package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cardsignal/internal/source"
)

var testKey = CacheKey{SetID: "sv1", Number: "25", Kind: "prices"}

func newTestController(store *MemoryStore, now time.Time) (*Controller, *time.Time) {
	clock := now
	c := NewController(store, store, Options{}, nil, zerolog.Nop())
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCacheStaleness(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, clock := newTestController(store, t0)

	if err := store.WriteCacheEntry(context.Background(), CacheEntry{Key: testKey, Payload: json.RawMessage(`{}`), FetchedAt: t0}); err != nil {
		t.Fatal(err)
	}

	*clock = t0.Add(1439 * time.Minute)
	if _, hit, _ := c.ReadCache(context.Background(), testKey, 1440*time.Minute); !hit {
		t.Fatal("entry must be a hit at T0+1439min with maxAge 1440min")
	}

	*clock = t0.Add(1441 * time.Minute)
	if _, hit, _ := c.ReadCache(context.Background(), testKey, 1440*time.Minute); hit {
		t.Fatal("entry must be a miss at T0+1441min with maxAge 1440min")
	}
}

func TestThrottleBackoffWindows(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, clock := newTestController(store, t0)
	key := testKey.Throttle()

	if err := c.RecordOutcome(context.Background(), key, StatusRateLimited); err != nil {
		t.Fatal(err)
	}

	state, _ := store.ReadThrottleState(context.Background(), key)
	if !state.NextEarliest.Equal(t0.Add(60 * time.Minute)) {
		t.Fatalf("rate-limited backoff = %s, want T0+60min", state.NextEarliest)
	}

	*clock = t0.Add(59 * time.Minute)
	if ok, _ := c.Eligible(context.Background(), key); ok {
		t.Fatal("must be ineligible at T0+59min")
	}

	*clock = t0.Add(61 * time.Minute)
	if ok, _ := c.Eligible(context.Background(), key); !ok {
		t.Fatal("must be eligible at T0+61min")
	}
}

func TestOutcomeTransitions(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, _ := newTestController(store, t0)
	key := testKey.Throttle()
	ctx := context.Background()

	cases := []struct {
		status Status
		want   time.Duration
	}{
		{StatusSuccess, 24 * time.Hour},
		{StatusRateLimited, 60 * time.Minute},
		{StatusError, 15 * time.Minute},
	}
	for i, tc := range cases {
		if err := c.RecordOutcome(ctx, key, tc.status); err != nil {
			t.Fatal(err)
		}
		state, _ := store.ReadThrottleState(ctx, key)
		if !state.NextEarliest.Equal(t0.Add(tc.want)) {
			t.Fatalf("%s: nextEarliest = %s, want +%s", tc.status, state.NextEarliest, tc.want)
		}
		if state.LastStatus != tc.status {
			t.Fatalf("lastStatus = %s, want %s", state.LastStatus, tc.status)
		}
		if state.Attempts != i+1 {
			t.Fatalf("attempts = %d, want %d", state.Attempts, i+1)
		}
	}
}

func TestAcquireFreshCacheSkipsFetch(t *testing.T) {
	t0 := time.Now()
	store := NewMemoryStore()
	c, _ := newTestController(store, t0)
	ctx := context.Background()

	_ = store.WriteCacheEntry(ctx, CacheEntry{Key: testKey, Payload: json.RawMessage(`{"raw":1}`), FetchedAt: t0.Add(-time.Minute)})

	fetched := false
	res, err := c.Acquire(ctx, testKey, func(context.Context) (json.RawMessage, error) {
		fetched = true
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if fetched {
		t.Fatal("fresh cache hit must not trigger a fetch")
	}
	if !res.FromCache || res.Stale {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAcquireSuccessWritesBothStores(t *testing.T) {
	t0 := time.Now()
	store := NewMemoryStore()
	c, _ := newTestController(store, t0)
	ctx := context.Background()

	res, err := c.Acquire(ctx, testKey, func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`{"raw":2}`), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess || res.FromCache {
		t.Fatalf("unexpected result %+v", res)
	}

	entry, _ := store.ReadCacheEntry(ctx, testKey)
	if entry == nil {
		t.Fatal("success must write the cache")
	}
	state, _ := store.ReadThrottleState(ctx, testKey.Throttle())
	if state == nil || state.LastStatus != StatusSuccess {
		t.Fatalf("success must write the throttle state, got %+v", state)
	}
}

func TestAcquireIneligibleServesStale(t *testing.T) {
	t0 := time.Now()
	store := NewMemoryStore()
	c, _ := newTestController(store, t0)
	ctx := context.Background()

	// Stale entry plus an active backoff window.
	_ = store.WriteCacheEntry(ctx, CacheEntry{Key: testKey, Payload: json.RawMessage(`{"raw":3}`), FetchedAt: t0.Add(-48 * time.Hour)})
	_ = store.WriteThrottleState(ctx, ThrottleState{Key: testKey.Throttle(), NextEarliest: t0.Add(time.Hour), LastStatus: StatusRateLimited, Attempts: 1})

	fetched := false
	res, err := c.Acquire(ctx, testKey, func(context.Context) (json.RawMessage, error) {
		fetched = true
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if fetched {
		t.Fatal("backed-off key must not be fetched")
	}
	if !res.Stale || res.Payload == nil {
		t.Fatalf("expected stale payload, got %+v", res)
	}
}

func TestAcquireRateLimitedFallsBackAndBacksOff(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, _ := newTestController(store, t0)
	ctx := context.Background()

	_ = store.WriteCacheEntry(ctx, CacheEntry{Key: testKey, Payload: json.RawMessage(`{"raw":4}`), FetchedAt: t0.Add(-48 * time.Hour)})

	res, err := c.Acquire(ctx, testKey, func(context.Context) (json.RawMessage, error) {
		return nil, fmt.Errorf("tracker api (429): %w", source.ErrRateLimited)
	})
	if err != nil {
		t.Fatalf("vendor failure must not surface as an error: %v", err)
	}
	if !res.Stale || res.Status != StatusRateLimited {
		t.Fatalf("expected stale fallback with rate-limited status, got %+v", res)
	}

	state, _ := store.ReadThrottleState(ctx, testKey.Throttle())
	if !state.NextEarliest.Equal(t0.Add(60 * time.Minute)) {
		t.Fatalf("429 must set the 60min window, got %s", state.NextEarliest)
	}
}

func TestAcquireErrorNoCacheReportsNoData(t *testing.T) {
	store := NewMemoryStore()
	c, _ := newTestController(store, time.Now())

	res, err := c.Acquire(context.Background(), testKey, func(context.Context) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("vendor failure must not surface as an error: %v", err)
	}
	if res.Payload != nil || res.Status != StatusError {
		t.Fatalf("expected empty error result, got %+v", res)
	}
}

func TestAcquireCancelledRecordsNothing(t *testing.T) {
	store := NewMemoryStore()
	c, _ := newTestController(store, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.Acquire(ctx, testKey, func(fctx context.Context) (json.RawMessage, error) {
		cancel()
		return nil, fctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if state, _ := store.ReadThrottleState(context.Background(), testKey.Throttle()); state != nil {
		t.Fatal("abandoned attempt must not write throttle state")
	}
}

func TestAcquireTimeoutTreatedAsError(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	c, _ := newTestController(store, t0)
	c.opts.FetchTimeout = 10 * time.Millisecond

	_, err := c.Acquire(context.Background(), testKey, func(fctx context.Context) (json.RawMessage, error) {
		<-fctx.Done()
		return nil, fctx.Err()
	})
	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}

	state, _ := store.ReadThrottleState(context.Background(), testKey.Throttle())
	if state == nil || state.LastStatus != StatusError {
		t.Fatalf("timeout must record the error backoff, got %+v", state)
	}
	if !state.NextEarliest.Equal(t0.Add(15 * time.Minute)) {
		t.Fatalf("timeout backoff = %s, want T0+15min", state.NextEarliest)
	}
}
