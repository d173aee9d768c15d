package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled cycle.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// NextInterval, when set, is consulted after each tick and may stretch
	// the gap to the next one (e.g. while markets are closed). Results below
	// Interval are clamped to Interval.
	NextInterval func() time.Duration
}

// Scheduler drives periodic execution of evaluation cycles.
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

// Run blocks, invoking the tick function until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC(), s.opts.Interval)
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC(), s.currentInterval())
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

		at := s.cycleStart(next)
		s.logger.Info().Time("cycle", at).Msg("executing scheduled cycle")

		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("cycle", at).Msg("cycle execution failed")
		}

		next = next.Add(s.currentInterval())
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	interval := s.opts.Interval
	if s.opts.NextInterval != nil {
		if hint := s.opts.NextInterval(); hint > interval {
			interval = hint
		}
	}
	return interval
}

func (s *Scheduler) nextTick(now time.Time, interval time.Duration) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(interval)
	}
	aligned := now.Truncate(interval)
	if !aligned.After(now) {
		aligned = aligned.Add(interval)
	}
	return aligned
}

func (s *Scheduler) cycleStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
