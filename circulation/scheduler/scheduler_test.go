package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliokit/circulation-go/circulation/engine"
)

type sweeperSpy struct {
	expireCalls  atomic.Int64
	overdueCalls atomic.Int64
	fired        chan string
}

func newSweeperSpy() *sweeperSpy {
	return &sweeperSpy{fired: make(chan string, 16)}
}

func (s *sweeperSpy) ExpireReservationsSweep(_ context.Context, _ time.Time) (engine.SweepResult, error) {
	s.expireCalls.Add(1)
	s.fired <- "expiration"

	return engine.SweepResult{}, nil
}

func (s *sweeperSpy) MarkOverdueSweep(_ context.Context, _ time.Time) (engine.SweepResult, error) {
	s.overdueCalls.Add(1)
	s.fired <- "overdue"

	return engine.SweepResult{}, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func Test_New_RejectsNilSweeper(t *testing.T) {
	_, err := New(nil)

	assert.ErrorIs(t, err, ErrNilSweeper)
}

func Test_New_RejectsInvalidOptions(t *testing.T) {
	_, err := New(newSweeperSpy(), WithExpirationInterval(0))
	assert.ErrorIs(t, err, ErrInvalidExpirationInterval)

	_, err = New(newSweeperSpy(), WithOverdueCheckTime("25:00"))
	assert.Error(t, err)

	_, err = New(newSweeperSpy(), WithOverdueCheckTime("half past nine"))
	assert.Error(t, err)
}

func Test_Scheduler_FiresExpirationSweep_OnInterval(t *testing.T) {
	// setup
	spy := newSweeperSpy()
	scheduler, err := New(spy, WithExpirationInterval(10*time.Millisecond))
	require.NoError(t, err)

	// act
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// assert
	select {
	case name := <-spy.fired:
		assert.Equal(t, "expiration", name)
	case <-time.After(2 * time.Second):
		t.Fatal("expiration sweep did not fire")
	}
}

func Test_Scheduler_FiresOverdueSweep_AtConfiguredTime(t *testing.T) {
	// setup: the fixed clock sits 50ms of wall time before the check time
	spy := newSweeperSpy()
	now := time.Date(2026, time.March, 10, 0, 29, 59, int(950*time.Millisecond), time.UTC)
	scheduler, err := New(spy,
		WithExpirationInterval(time.Hour),
		WithOverdueCheckTime("00:30"),
		WithClock(fixedClock{now: now}),
	)
	require.NoError(t, err)

	// act
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// assert
	select {
	case name := <-spy.fired:
		assert.Equal(t, "overdue", name)
	case <-time.After(2 * time.Second):
		t.Fatal("overdue sweep did not fire")
	}
}

func Test_Scheduler_Stop_TerminatesLoops(t *testing.T) {
	// setup
	spy := newSweeperSpy()
	scheduler, err := New(spy, WithExpirationInterval(time.Hour))
	require.NoError(t, err)
	scheduler.Start(context.Background())

	// act
	scheduler.Stop()

	// assert: returning at all is the assertion, Stop waits for both loops
	assert.Equal(t, int64(0), spy.overdueCalls.Load())
}

func Test_NextDailyRun_SameDay_WhenTimeIsAhead(t *testing.T) {
	now := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)

	next := nextDailyRun(now, 9, 30)

	assert.Equal(t, time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC), next)
}

func Test_NextDailyRun_NextDay_WhenTimeHasPassed(t *testing.T) {
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	next := nextDailyRun(now, 9, 30)

	assert.Equal(t, time.Date(2026, time.March, 11, 9, 30, 0, 0, time.UTC), next)
}

func Test_NextDailyRun_NextDay_AtTheExactMoment(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

	next := nextDailyRun(now, 9, 30)

	assert.Equal(t, time.Date(2026, time.March, 11, 9, 30, 0, 0, time.UTC), next)
}
