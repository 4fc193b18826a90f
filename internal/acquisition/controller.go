package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"cardsignal/internal/metrics"
	"cardsignal/internal/source"
)

// Status is the outcome of one fetch attempt.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusRateLimited Status = "rate-limited"
	StatusError       Status = "error"
)

// CacheKey identifies one cached payload.
type CacheKey struct {
	SetID  string
	Number string
	Kind   string
}

// ThrottleKey identifies one card's backoff record for one upstream lane.
// Backing off the metered tracker must not block catalog refreshes.
type ThrottleKey struct {
	SetID  string
	Number string
	Kind   string
}

// Throttle returns the throttle key covering a cache key.
func (k CacheKey) Throttle() ThrottleKey {
	return ThrottleKey{SetID: k.SetID, Number: k.Number, Kind: k.Kind}
}

// CacheEntry is a fetched payload with its write timestamp. Stale entries
// are never deleted, only superseded by the next successful write.
type CacheEntry struct {
	Key       CacheKey
	Payload   json.RawMessage
	FetchedAt time.Time
}

// ThrottleState is the per-card backoff record. Created on the first
// attempt, updated after every attempt, read before every attempt.
type ThrottleState struct {
	Key          ThrottleKey
	LastAttempt  time.Time
	NextEarliest time.Time
	LastStatus   Status
	Attempts     int
}

// CacheStore persists cache entries. A nil entry with nil error means the
// key has never been written.
type CacheStore interface {
	ReadCacheEntry(ctx context.Context, key CacheKey) (*CacheEntry, error)
	WriteCacheEntry(ctx context.Context, entry CacheEntry) error
}

// ThrottleStore persists throttle states, same absence convention.
type ThrottleStore interface {
	ReadThrottleState(ctx context.Context, key ThrottleKey) (*ThrottleState, error)
	WriteThrottleState(ctx context.Context, state ThrottleState) error
}

// Options tune the controller's windows.
type Options struct {
	MaxAge           time.Duration
	SuccessBackoff   time.Duration
	RateLimitBackoff time.Duration
	ErrorBackoff     time.Duration
	FetchTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAge <= 0 {
		o.MaxAge = 24 * time.Hour
	}
	if o.SuccessBackoff <= 0 {
		o.SuccessBackoff = 24 * time.Hour
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = 60 * time.Minute
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 15 * time.Minute
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	return o
}

// FetchFunc performs the actual network call for one key.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Result is what an acquisition yields. A nil Payload means no data exists
// for the key, fresh or stale; that is a reportable state, not an error.
type Result struct {
	Payload   json.RawMessage
	FromCache bool
	Stale     bool
	Status    Status
}

// Controller composes the persistent TTL cache with the per-card backoff
// state machine guarding the metered pricing API.
type Controller struct {
	cache    CacheStore
	throttle ThrottleStore
	opts     Options
	logger   zerolog.Logger
	recorder *metrics.Recorder
	now      func() time.Time
}

// NewController wires the two stores. The recorder may be nil.
func NewController(cache CacheStore, throttle ThrottleStore, opts Options, recorder *metrics.Recorder, logger zerolog.Logger) *Controller {
	return &Controller{
		cache:    cache,
		throttle: throttle,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "acquisition").Logger(),
		recorder: recorder,
		now:      time.Now,
	}
}

// ReadCache returns the payload for key if a fresh entry exists. A hit
// requires now - fetchedAt < maxAge; maxAge <= 0 uses the configured default.
func (c *Controller) ReadCache(ctx context.Context, key CacheKey, maxAge time.Duration) (json.RawMessage, bool, error) {
	if maxAge <= 0 {
		maxAge = c.opts.MaxAge
	}
	entry, err := c.cache.ReadCacheEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	if c.now().Sub(entry.FetchedAt) >= maxAge {
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

// Eligible reports whether an attempt may be made for key right now.
func (c *Controller) Eligible(ctx context.Context, key ThrottleKey) (bool, error) {
	state, err := c.throttle.ReadThrottleState(ctx, key)
	if err != nil {
		return false, err
	}
	if state == nil {
		return true, nil
	}
	return !c.now().Before(state.NextEarliest), nil
}

// RecordOutcome applies one attempt outcome to the state machine.
func (c *Controller) RecordOutcome(ctx context.Context, key ThrottleKey, status Status) error {
	now := c.now()

	prev, err := c.throttle.ReadThrottleState(ctx, key)
	if err != nil {
		return err
	}

	state := ThrottleState{Key: key, Attempts: 1}
	if prev != nil {
		state.Attempts = prev.Attempts + 1
	}
	state.LastAttempt = now
	state.LastStatus = status
	state.NextEarliest = now.Add(c.backoffFor(status))

	return c.throttle.WriteThrottleState(ctx, state)
}

func (c *Controller) backoffFor(status Status) time.Duration {
	switch status {
	case StatusSuccess:
		return c.opts.SuccessBackoff
	case StatusRateLimited:
		return c.opts.RateLimitBackoff
	default:
		return c.opts.ErrorBackoff
	}
}

// Acquire runs the full caller protocol for one key: cache first, then
// throttle eligibility, then a bounded fetch with write-back. Vendor
// failures degrade to the last-known cache payload rather than erroring;
// only store failures propagate.
func (c *Controller) Acquire(ctx context.Context, key CacheKey, fetch FetchFunc) (Result, error) {
	payload, hit, err := c.ReadCache(ctx, key, 0)
	if err != nil {
		return Result{}, err
	}
	if hit {
		c.recorder.RecordCacheRead("hit")
		return Result{Payload: payload, FromCache: true}, nil
	}
	c.recorder.RecordCacheRead("miss")

	eligible, err := c.Eligible(ctx, key.Throttle())
	if err != nil {
		return Result{}, err
	}
	if !eligible {
		return c.staleFallback(ctx, key, "")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	body, fetchErr := fetch(fetchCtx)
	cancel()

	// An abandoned attempt records nothing; there is no partial state to
	// clean up.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	status := classifyOutcome(fetchErr)
	c.recorder.RecordFetch(string(status))

	if status == StatusSuccess {
		entry := CacheEntry{Key: key, Payload: body, FetchedAt: c.now()}
		if err := c.cache.WriteCacheEntry(ctx, entry); err != nil {
			return Result{}, err
		}
	}
	if err := c.RecordOutcome(ctx, key.Throttle(), status); err != nil {
		return Result{}, err
	}

	if status == StatusSuccess {
		return Result{Payload: body, Status: status}, nil
	}

	c.logger.Warn().
		Str("set", key.SetID).
		Str("number", key.Number).
		Str("kind", key.Kind).
		Str("status", string(status)).
		Err(fetchErr).
		Msg("fetch failed, falling back to cache")

	return c.staleFallback(ctx, key, status)
}

func (c *Controller) staleFallback(ctx context.Context, key CacheKey, status Status) (Result, error) {
	entry, err := c.cache.ReadCacheEntry(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if entry == nil {
		return Result{Status: status}, nil
	}
	c.recorder.RecordCacheRead("stale")
	return Result{Payload: entry.Payload, FromCache: true, Stale: true, Status: status}, nil
}

func classifyOutcome(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, source.ErrRateLimited):
		return StatusRateLimited
	default:
		// Timeouts and malformed payloads alike.
		return StatusError
	}
}
