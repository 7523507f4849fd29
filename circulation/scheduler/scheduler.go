// Package scheduler drives the time-based sweeps: reservation expiration on
// a fixed interval and the overdue check once per day at a configured wall
// clock time. It is deliberately dumb, all lifecycle logic lives behind the
// Sweeper interface.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/engine"
)

const (
	// DefaultExpirationInterval is how often expired reservations are swept.
	DefaultExpirationInterval = 30 * time.Minute

	// DefaultOverdueCheckTime is the daily wall clock time ("HH:MM") of the
	// overdue sweep.
	DefaultOverdueCheckTime = "00:30"

	overdueCheckLayout = "15:04"
	sweepTimeout       = 5 * time.Minute
)

var (
	// ErrNilSweeper is returned when New is called without a sweeper.
	ErrNilSweeper = errors.New("sweeper must not be nil")

	// ErrInvalidExpirationInterval is returned for a non-positive interval.
	ErrInvalidExpirationInterval = errors.New("expiration interval must be positive")
)

// Sweeper is the slice of the lifecycle engine the scheduler triggers.
type Sweeper interface {
	ExpireReservationsSweep(ctx context.Context, now time.Time) (engine.SweepResult, error)
	MarkOverdueSweep(ctx context.Context, now time.Time) (engine.SweepResult, error)
}

// Scheduler runs the two sweep timers. Construct with New, then Start; Stop
// waits for in-flight sweeps to finish. Sweep failures are logged and never
// stop the timers.
type Scheduler struct {
	sweeper            Sweeper
	clock              circulation.Clock
	logger             circulation.Logger
	expirationInterval time.Duration
	overdueHour        int
	overdueMinute      int

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithExpirationInterval overrides how often the expiration sweep fires.
func WithExpirationInterval(interval time.Duration) Option {
	return func(s *Scheduler) error {
		if interval <= 0 {
			return ErrInvalidExpirationInterval
		}

		s.expirationInterval = interval

		return nil
	}
}

// WithOverdueCheckTime overrides the daily overdue sweep time, "HH:MM".
func WithOverdueCheckTime(at string) Option {
	return func(s *Scheduler) error {
		hour, minute, err := parseCheckTime(at)
		if err != nil {
			return err
		}

		s.overdueHour = hour
		s.overdueMinute = minute

		return nil
	}
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(clock circulation.Clock) Option {
	return func(s *Scheduler) error {
		s.clock = clock

		return nil
	}
}

// WithLogger sets the logger for sweep outcomes.
func WithLogger(logger circulation.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = logger

		return nil
	}
}

// New creates a Scheduler with the default timings unless overridden.
func New(sweeper Sweeper, options ...Option) (*Scheduler, error) {
	if sweeper == nil {
		return nil, ErrNilSweeper
	}

	hour, minute, err := parseCheckTime(DefaultOverdueCheckTime)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		sweeper:            sweeper,
		clock:              circulation.NewSystemClock(),
		expirationInterval: DefaultExpirationInterval,
		overdueHour:        hour,
		overdueMinute:      minute,
		stop:               make(chan struct{}),
	}

	for _, option := range options {
		if err = option(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start launches both timer loops. It returns immediately; the loops run
// until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.done.Add(2)

	go s.runExpirationLoop(ctx)
	go s.runOverdueLoop(ctx)
}

// Stop terminates both loops and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})

	s.done.Wait()
}

func (s *Scheduler) runExpirationLoop(ctx context.Context) {
	defer s.done.Done()

	ticker := time.NewTicker(s.expirationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx, "expiration", s.sweeper.ExpireReservationsSweep)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOverdueLoop(ctx context.Context) {
	defer s.done.Done()

	for {
		wait := nextDailyRun(s.clock.Now(), s.overdueHour, s.overdueMinute).Sub(s.clock.Now())
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.runSweep(ctx, "overdue", s.sweeper.MarkOverdueSweep)
		case <-s.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// runSweep invokes one sweep with a bounded context and panic containment,
// so a single bad run cannot kill the timer loop.
func (s *Scheduler) runSweep(
	ctx context.Context,
	name string,
	sweep func(ctx context.Context, now time.Time) (engine.SweepResult, error),
) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("sweep panicked", "sweep", name, "panic", fmt.Sprintf("%v", r))
			}
		}
	}()

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	result, err := sweep(sweepCtx, s.clock.Now())
	if err != nil {
		if s.logger != nil {
			s.logger.Error("sweep failed", "sweep", name, "error", err.Error())
		}

		return
	}

	if s.logger != nil {
		s.logger.Debug("sweep completed", "sweep", name, "processed", result.Processed)
	}
}

// nextDailyRun returns the next occurrence of hour:minute strictly after now,
// in now's location.
func nextDailyRun(now time.Time, hour int, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

func parseCheckTime(at string) (int, int, error) {
	parsed, err := time.Parse(overdueCheckLayout, at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid overdue check time %q: %w", at, err)
	}

	return parsed.Hour(), parsed.Minute(), nil
}
