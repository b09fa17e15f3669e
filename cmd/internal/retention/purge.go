package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"carads/cmd/internal/metrics"
)

// DefaultFallbackDelay is used when the computed wait is not positive.
const DefaultFallbackDelay = 5 * time.Second

// Purger is the part of Store the scheduler depends on.
type Purger interface {
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Scheduler deletes records older than the current local day once per day boundary.
type Scheduler struct {
	purger   Purger
	loc      *time.Location
	clock    Clock
	fallback time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	state atomic.Int32
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithFallbackDelay sets the wait used when the next boundary is not in the future.
func WithFallbackDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.fallback = d
		}
	}
}

// WithMetrics records purge runs.
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler builds a scheduler purging p at midnight in loc (nil means UTC).
func NewScheduler(p Purger, loc *time.Location, log *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		purger:   p,
		loc:      loc,
		clock:    SystemClock(),
		fallback: DefaultFallbackDelay,
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run loops until ctx is cancelled. It returns nil on cancellation; purge
// failures are logged and never end the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.purger == nil {
		return errors.New("retention: scheduler without purger")
	}
	defer s.state.Store(int32(StateStopped))

	s.log.Info("purge.scheduler.start", "timezone", s.loc.String(), "fallback", s.fallback.String())

	for {
		s.state.Store(int32(StateIdle))
		if ctx.Err() != nil {
			s.log.Info("purge.scheduler.stop")
			return nil
		}

		now := s.clock.Now()
		next := NextBoundary(now, s.loc)
		delay := delayUntil(now, next, s.fallback)

		s.state.Store(int32(StateWaiting))
		s.log.Debug("purge.scheduler.wait", "next", next.UTC(), "delay", delay.String())

		select {
		case <-ctx.Done():
			s.log.Info("purge.scheduler.stop")
			return nil
		case <-s.clock.After(delay):
		}

		s.state.Store(int32(StateRunning))
		_, _ = s.RunOnce(ctx)
	}
}

// RunOnce purges everything received before the start of the current local day.
// Panics inside the purger are converted to errors.
func (s *Scheduler) RunOnce(ctx context.Context) (deleted int64, err error) {
	cutoff := StartOfDay(s.clock.Now(), s.loc)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("purge panic: %v", r)
		}
		s.metrics.PurgeRun(deleted, err)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				s.log.Info("purge.run.cancelled", "before", cutoff.UTC())
				return
			}
			s.log.Error("purge.run.fail", "before", cutoff.UTC(), "err", err)
			return
		}
		s.log.Info("purge.run.done", "before", cutoff.UTC(), "deleted", deleted)
	}()

	return s.purger.PurgeBefore(ctx, cutoff)
}
