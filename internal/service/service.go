package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cardsignal/internal/acquisition"
	"cardsignal/internal/confidence"
	"cardsignal/internal/config"
	"cardsignal/internal/grading"
	"cardsignal/internal/metrics"
	"cardsignal/internal/normalize"
	"cardsignal/internal/quota"
	"cardsignal/internal/scheduler"
	"cardsignal/internal/signal"
	"cardsignal/internal/source"
	"cardsignal/internal/stats"
	"cardsignal/internal/storage"
	"cardsignal/internal/valuation"
)

const (
	kindTracker = "tracker"
	kindCatalog = "catalog"

	trackerEndpoint = "/prices"
)

// RecordSource supplies the embedded card-record data that backs the lowest
// normalization fallbacks. Nil lookups are fine; records are best effort.
type RecordSource interface {
	Record(ref source.CardRef) *source.CardRecord
}

// Service orchestrates acquisition, normalization, signal computation, and
// persistence for watchlist cards.
type Service struct {
	scheduler  *scheduler.Scheduler
	tracker    source.TrackerClient
	catalog    source.CatalogClient
	records    RecordSource
	controller *acquisition.Controller
	quota      *quota.Manager
	estimator  *grading.Estimator
	signals    storage.SignalStore
	recorder   *metrics.Recorder
	logger     zerolog.Logger

	schedule  valuation.Schedule
	haircut   float64
	normOpts  normalize.Options
	badges    signal.BadgeThresholds
	watchlist []source.CardRef
	pacing    time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
	now       func() time.Time
}

// Deps bundles the service collaborators. Optional fields may be nil; the
// service degrades instead of failing.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Tracker    source.TrackerClient
	Catalog    source.CatalogClient
	Records    RecordSource
	Controller *acquisition.Controller
	Quota      *quota.Manager
	Estimator  *grading.Estimator
	Signals    storage.SignalStore
	Locker     storage.AdvisoryLocker
	Recorder   *metrics.Recorder
}

// New constructs the signal service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	watchlist := make([]source.CardRef, 0, len(cfg.Scanner.Watchlist))
	for _, entry := range cfg.Scanner.Watchlist {
		watchlist = append(watchlist, source.CardRef{
			SetID:  entry.SetID,
			Number: entry.Number,
			Name:   entry.Name,
		})
	}

	badges := signal.DefaultBadgeThresholds()
	if cfg.Badges.MomentumPct > 0 {
		badges.MomentumPct = decimal.NewFromFloat(cfg.Badges.MomentumPct)
	}
	if cfg.Badges.MomentumMinSales > 0 {
		badges.MomentumMinSales = cfg.Badges.MomentumMinSales
	}
	if cfg.Badges.UpsidePct > 0 {
		badges.UpsidePct = decimal.NewFromFloat(cfg.Badges.UpsidePct)
	}
	if cfg.Badges.HighVolumeSales > 0 {
		badges.HighVolumeSales = cfg.Badges.HighVolumeSales
	}

	var normOpts normalize.Options
	if cfg.Normalizer.GradedMultiplier > 0 {
		normOpts.GradedMultiplier = decimal.NewFromFloat(cfg.Normalizer.GradedMultiplier)
	}

	return &Service{
		scheduler:  deps.Scheduler,
		tracker:    deps.Tracker,
		catalog:    deps.Catalog,
		records:    deps.Records,
		controller: deps.Controller,
		quota:      deps.Quota,
		estimator:  deps.Estimator,
		signals:    deps.Signals,
		recorder:   deps.Recorder,
		logger:     logger.With().Str("component", "service").Logger(),
		schedule:   cfg.FeeSchedule(),
		haircut:    cfg.Haircut(),
		normOpts:   normOpts,
		badges:     badges,
		watchlist:  watchlist,
		pacing:     cfg.Scanner.PacingDelay,
		locker:     deps.Locker,
		lockKey:    cfg.Scanner.AdvisoryLockKey,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the aligned scan loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes one watchlist scan under the advisory lock.
func (s *Service) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.ScanWatchlist(ctx); err != nil {
		return err
	}
	s.logDiagnostics()
	return nil
}

// logDiagnostics summarises the quota manager's rolling request log after a
// full cycle so operators can watch success rate and latency drift.
func (s *Service) logDiagnostics() {
	if s.quota == nil {
		return
	}
	d := s.quota.Diagnostics()
	if d.Requests == 0 {
		return
	}
	evt := s.logger.Info().
		Int("requests", d.Requests).
		Float64("success_rate", d.SuccessRate).
		Dur("avg_latency", d.AvgLatency)
	if len(d.TopEndpoints) > 0 {
		evt = evt.Str("top_endpoint", d.TopEndpoints[0].Endpoint)
	}
	evt.Msg("request diagnostics")
}

// ScanWatchlist processes every configured card in order, pacing requests so
// upstream APIs see a human-scale cadence. One card failing never aborts the
// rest of the scan.
func (s *Service) ScanWatchlist(ctx context.Context) error {
	for i, ref := range s.watchlist {
		if i > 0 && s.pacing > 0 {
			timer := time.NewTimer(s.pacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if _, err := s.ProcessCard(ctx, ref); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).
				Str("set", ref.SetID).
				Str("number", ref.Number).
				Msg("card processing failed")
		}
	}
	return nil
}

// ProcessCard runs the full pipeline for one card and persists the result.
func (s *Service) ProcessCard(ctx context.Context, ref source.CardRef) (*signal.CardSignal, error) {
	started := s.now()

	payload, err := s.acquireTracker(ctx, ref)
	if err != nil {
		return nil, err
	}

	catalogCard := s.acquireCatalog(ctx, ref)

	var record *source.CardRecord
	if s.records != nil {
		record = s.records.Record(ref)
	}

	sig, err := s.computeSignal(ref, payload, catalogCard, record)
	if err != nil {
		return nil, err
	}

	if s.signals != nil {
		if err := s.signals.UpsertSignal(ctx, storage.NewSignalRecord(*sig)); err != nil {
			s.logger.Error().Err(err).
				Str("set", ref.SetID).
				Str("number", ref.Number).
				Msg("failed to persist signal")
		}
	}

	s.recorder.RecordPipeline(s.now().Sub(started).Seconds())
	s.logger.Info().
		Str("set", ref.SetID).
		Str("number", ref.Number).
		Str("confidence", string(sig.Confidence)).
		Str("net_ev", sig.Valuation.NetExpectedValue.String()).
		Msg("signal computed")

	return sig, nil
}

// computeSignal derives the full signal from already-acquired inputs. Pure
// except for the clock.
func (s *Service) computeSignal(ref source.CardRef, payload *source.TrackerPayload, catalogCard *source.CatalogCard, record *source.CardRecord) (*signal.CardSignal, error) {
	now := s.now()

	sources := normalize.Sources{Catalog: catalogCard, Record: record}
	var sales stats.Series
	var population *grading.Snapshot
	if payload != nil {
		quote := payload.Quote
		sources.Tracker = &quote
		sales = rawSales(payload.Sales)
		population = payload.Population
	}

	normalized, err := normalize.Normalize(ref, sources, s.normOpts)
	if err != nil {
		return nil, fmt.Errorf("normalize %s-%s: %w", ref.SetID, ref.Number, err)
	}

	basic := stats.Compute(sales, now)

	gem := s.estimateGemRate(ref, population, record, catalogCard, now)

	var psa9 *decimal.Decimal
	if payload != nil {
		psa9 = payload.Quote.PSA9
	}
	val := valuation.Evaluate(s.schedule, normalized.RawPrice, normalized.GradedPrice, psa9, basic.Median30d, gem.P10, s.haircut)

	dispersion, _ := basic.Volatility30d.Float64()
	level := confidence.Classify(basic.Sales30d, dispersion)
	chip := confidence.Chip(basic.Sales30d, dispersion, len(sales) > 0 || normalized.RawPrice != nil)

	sig := &signal.CardSignal{
		Card:       ref,
		Normalized: normalized,
		Stats:      basic,
		GemRate:    gem,
		Valuation:  val,
		Confidence: level,
		Chip:       chip,
		Badges:     signal.DeriveBadges(basic, val, level, s.badges),
		ComputedAt: now,
	}
	return sig, nil
}

func (s *Service) estimateGemRate(ref source.CardRef, population *grading.Snapshot, record *source.CardRecord, catalogCard *source.CatalogCard, now time.Time) grading.Estimate {
	gctx := grading.Context{
		Recent: population,
		Card: grading.CardAttributes{
			SetName: ref.SetID,
			Number:  ref.Number,
		},
	}
	if record != nil {
		gctx.Historical = record.HistoricalPop
		if !record.ReleaseDate.IsZero() {
			gctx.Card.AgeDays = int(now.Sub(record.ReleaseDate).Hours() / 24)
		}
	}
	if gctx.Card.AgeDays == 0 && catalogCard != nil && !catalogCard.ReleaseDate.IsZero() {
		gctx.Card.AgeDays = int(now.Sub(catalogCard.ReleaseDate).Hours() / 24)
	}
	return s.estimator.Estimate(gctx)
}

// acquireTracker routes the metered tracker call through the cache and
// throttle controller, charging the quota only when a live call happens.
func (s *Service) acquireTracker(ctx context.Context, ref source.CardRef) (*source.TrackerPayload, error) {
	if s.controller == nil || s.tracker == nil {
		return nil, fmt.Errorf("tracker acquisition not configured")
	}

	key := acquisition.CacheKey{SetID: ref.SetID, Number: ref.Number, Kind: kindTracker}
	result, err := s.controller.Acquire(ctx, key, func(fetchCtx context.Context) (json.RawMessage, error) {
		if s.quota != nil {
			allowed, quotaErr := s.quota.CanMakeRequest(fetchCtx)
			if quotaErr != nil {
				return nil, quotaErr
			}
			if !allowed {
				return nil, fmt.Errorf("daily quota exhausted: %w", source.ErrRateLimited)
			}
		}

		callStart := time.Now()
		payload, fetchErr := s.tracker.FetchCard(fetchCtx, ref)
		if s.quota != nil {
			if _, recErr := s.quota.RecordRequest(fetchCtx, trackerEndpoint, fetchErr == nil, time.Since(callStart)); recErr != nil {
				s.logger.Error().Err(recErr).Msg("failed to record quota usage")
			}
		}
		if fetchErr != nil {
			return nil, fetchErr
		}
		return json.Marshal(payload)
	})
	if err != nil {
		return nil, err
	}
	if result.Payload == nil {
		return nil, nil
	}

	var payload source.TrackerPayload
	if err := json.Unmarshal(result.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode cached tracker payload: %w", err)
	}
	return &payload, nil
}

// acquireCatalog fetches catalog metadata through its own cache lane. The
// catalog is free, so failures just degrade the normalization fallbacks.
func (s *Service) acquireCatalog(ctx context.Context, ref source.CardRef) *source.CatalogCard {
	if s.controller == nil || s.catalog == nil {
		return nil
	}

	key := acquisition.CacheKey{SetID: ref.SetID, Number: ref.Number, Kind: kindCatalog}
	result, err := s.controller.Acquire(ctx, key, func(fetchCtx context.Context) (json.RawMessage, error) {
		card, fetchErr := s.catalog.FetchCatalogCard(fetchCtx, ref)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return json.Marshal(card)
	})
	if err != nil || result.Payload == nil {
		if err != nil {
			s.logger.Warn().Err(err).
				Str("set", ref.SetID).
				Str("number", ref.Number).
				Msg("catalog acquisition failed")
		}
		return nil
	}

	var card source.CatalogCard
	if err := json.Unmarshal(result.Payload, &card); err != nil {
		s.logger.Warn().Err(err).Msg("decode cached catalog card")
		return nil
	}
	return &card
}

// rawSales keeps only ungraded sales; graded markets never feed the raw
// statistics.
func rawSales(series stats.Series) stats.Series {
	out := make(stats.Series, 0, len(series))
	for _, obs := range series {
		if obs.Market == stats.MarketRaw {
			out = append(out, obs)
		}
	}
	return out
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
