package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ScanFunc is invoked on every aligned interval.
type ScanFunc func(ctx context.Context, cycle time.Time) error

// Options tune scheduler behaviour. ScanOnStart runs one cycle as soon as
// Run begins instead of idling until the first aligned boundary, which for
// multi-hour intervals would leave the watchlist unscanned after a restart.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	ScanOnStart  bool
}

// Scheduler drives aligned execution of watchlist scan cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the scan function at each aligned interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, scan ScanFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.ScanOnStart {
		cycle := time.Now().UTC()
		s.logger.Info().Time("cycle", cycle).Msg("executing startup scan")
		if err := scan(ctx, cycle); err != nil {
			s.logger.Error().Err(err).Time("cycle", cycle).Msg("scan execution failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	next := s.nextCycle(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextCycle(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		cycle := s.cycleStart(next)
		s.logger.Info().Time("cycle", cycle).Msg("executing scheduled scan")

		started := time.Now()
		if err := scan(ctx, cycle); err != nil {
			s.logger.Error().Err(err).Time("cycle", cycle).Msg("scan execution failed")
		} else {
			s.logger.Debug().Dur("elapsed", time.Since(started)).Time("cycle", cycle).Msg("scan complete")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextCycle(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	cycle := now.Truncate(s.opts.Interval)
	if !cycle.After(now) {
		cycle = cycle.Add(s.opts.Interval)
	}
	return cycle
}

func (s *Scheduler) cycleStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
