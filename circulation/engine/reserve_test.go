package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/engine"
	"github.com/bibliokit/circulation-go/circulation/memoryengine"
)

func Test_Reserve_AssignsPriorityOne_OnEmptyQueue(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	user := f.seedUser("Grace", "grace@example.com")

	// act
	result, err := f.engine.Reserve(context.Background(), book.ID, user.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reservation.Priority)
	assert.Equal(t, circulation.ReservationActive, result.Reservation.Status)
	assert.Equal(t, testNow, result.Reservation.ReservationDate)
	assert.Equal(t, testNow.Add(circulation.ReservationTTL), result.Reservation.ExpirationDate)
	assert.Equal(t, 1, result.Book.ReservationCount)

	deliveries := f.recorder.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, user.Email, deliveries[0].To)
	assert.Equal(t, "Reservation Confirmed", deliveries[0].Subject)
}

func Test_Reserve_AssignsIncreasingPriorities(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	second := f.seedUser("Grace", "grace@example.com")
	third := f.seedUser("Edsger", "edsger@example.com")

	// act
	first, err := f.engine.Reserve(context.Background(), book.ID, second.ID)
	require.NoError(t, err)
	next, err := f.engine.Reserve(context.Background(), book.ID, third.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, first.Reservation.Priority)
	assert.Equal(t, 2, next.Reservation.Priority)
	assert.Equal(t, 2, next.Book.ReservationCount)
}

func Test_Reserve_FailsWithConflict_OnDuplicateActiveReservation(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	user := f.seedUser("Grace", "grace@example.com")

	_, err := f.engine.Reserve(context.Background(), book.ID, user.ID)
	require.NoError(t, err)

	// act
	_, err = f.engine.Reserve(context.Background(), book.ID, user.ID)

	// assert
	require.Error(t, err)
	assert.True(t, circulation.IsConflict(err))
}

// missOnceStore reports no existing reservation on the first lookup, standing
// in for a rival request that inserts between the pre-check and the insert.
type missOnceStore struct {
	*memoryengine.Store
	misses int
}

func (s *missOnceStore) FindActiveReservationForUser(
	ctx context.Context,
	bookID uuid.UUID,
	userID uuid.UUID,
) (circulation.Reservation, bool, error) {

	if s.misses > 0 {
		s.misses--
		return circulation.Reservation{}, false, nil
	}

	return s.Store.FindActiveReservationForUser(ctx, bookID, userID)
}

func Test_Reserve_FailsWithConflict_WhenConcurrentDuplicateWinsTheInsert(t *testing.T) {
	// setup
	store := memoryengine.New()
	user := uuid.New()
	book := circulation.Book{ID: uuid.New(), Title: "The Dispossessed", Status: circulation.BookBorrowed}
	store.PutBook(book)
	store.PutReservation(circulation.Reservation{
		ID:              uuid.New(),
		BookID:          book.ID,
		UserID:          user,
		ReservationDate: testNow,
		ExpirationDate:  testNow.Add(circulation.ReservationTTL),
		Status:          circulation.ReservationActive,
		Priority:        1,
	})

	e := engine.New(&missOnceStore{Store: store, misses: 1},
		engine.WithClock(fixedClock{now: testNow}),
		engine.WithRetryOptions(engine.WithMaxAttempts(2), engine.WithBaseDelay(time.Millisecond)),
	)

	// act
	_, err := e.Reserve(context.Background(), book.ID, user)

	// assert
	require.Error(t, err)
	assert.True(t, circulation.IsConflict(err))
	assert.Contains(t, err.Error(), "already has an active reservation")

	reservations, listErr := store.ListReservationsForUser(context.Background(), user)
	require.NoError(t, listErr)
	assert.Len(t, reservations, 1)
}

func Test_Reserve_FailsWithNotFound_WhenBookIsMissing(t *testing.T) {
	// setup
	f := newFixture()
	user := f.seedUser("Grace", "grace@example.com")

	// act
	_, err := f.engine.Reserve(context.Background(), uuid.New(), user.ID)

	// assert
	require.Error(t, err)
	assert.True(t, circulation.IsNotFound(err))
}

func Test_Reserve_CancelsReservation_WhenCountUpdateFails(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	user := f.seedUser("Grace", "grace@example.com")
	f.store.FailNext("AdjustBookReservationCount", assert.AnError)

	// act
	_, err := f.engine.Reserve(context.Background(), book.ID, user.ID)

	// assert
	require.Error(t, err)
	assert.True(t, circulation.IsDependencyFailure(err))

	reservations, listErr := f.store.ListReservationsForUser(context.Background(), user.ID)
	require.NoError(t, listErr)
	require.Len(t, reservations, 1)
	assert.Equal(t, circulation.ReservationCancelled, reservations[0].Status)
}

func Test_CancelReservation_MovesActiveToCancelled(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	user := f.seedUser("Grace", "grace@example.com")
	reserved, err := f.engine.Reserve(context.Background(), book.ID, user.ID)
	require.NoError(t, err)

	// act
	cancelled, err := f.engine.CancelReservation(context.Background(), reserved.Reservation.ID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, circulation.ReservationCancelled, cancelled.Status)

	// the denormalized counter is a monotonic total, not a live gauge
	stored, findErr := f.store.FindBookByID(context.Background(), book.ID)
	require.NoError(t, findErr)
	assert.Equal(t, 1, stored.ReservationCount)
}

func Test_CancelReservation_FailsWithConflict_WhenAlreadyTerminal(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	user := f.seedUser("Grace", "grace@example.com")
	reserved, err := f.engine.Reserve(context.Background(), book.ID, user.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelReservation(context.Background(), reserved.Reservation.ID)
	require.NoError(t, err)

	// act
	_, err = f.engine.CancelReservation(context.Background(), reserved.Reservation.ID)

	// assert
	require.Error(t, err)
	assert.True(t, circulation.IsConflict(err))
}

func Test_CancelReservation_LeavesPriorityGap(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	book, _ := f.seedBorrowedBook("The Dispossessed", holder.ID)
	second := f.seedUser("Grace", "grace@example.com")
	third := f.seedUser("Edsger", "edsger@example.com")
	fourth := f.seedUser("Barbara", "barbara@example.com")

	_, err := f.engine.Reserve(context.Background(), book.ID, second.ID)
	require.NoError(t, err)
	middle, err := f.engine.Reserve(context.Background(), book.ID, third.ID)
	require.NoError(t, err)
	_, err = f.engine.Reserve(context.Background(), book.ID, fourth.ID)
	require.NoError(t, err)

	// act
	_, err = f.engine.CancelReservation(context.Background(), middle.Reservation.ID)

	// assert
	require.NoError(t, err)

	queue, queueErr := f.engine.BookQueue(context.Background(), book.ID)
	require.NoError(t, queueErr)
	require.Len(t, queue, 2)
	assert.Equal(t, 1, queue[0].Priority)
	assert.Equal(t, 3, queue[1].Priority)
}
