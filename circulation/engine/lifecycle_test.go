package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliokit/circulation-go/circulation"
)

// Walks one book through the full lifecycle: borrow, queue build-up, a
// conflicting borrow attempt, and the promotion chain on return.
func Test_Lifecycle_BorrowReserveReturnPromotion(t *testing.T) {
	// setup
	f := newFixture()
	ctx := context.Background()
	book := f.seedAvailableBook("The Dispossessed")
	u1 := f.seedUser("Ada", "ada@example.com")
	u2 := f.seedUser("Grace", "grace@example.com")
	u3 := f.seedUser("Edsger", "edsger@example.com")
	u4 := f.seedUser("Barbara", "barbara@example.com")

	// act + assert, step by step
	borrowed, err := f.engine.Borrow(ctx, book.ID, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(circulation.LoanPeriod), borrowed.Record.DueDate)

	r2, err := f.engine.Reserve(ctx, book.ID, u2.ID)
	require.NoError(t, err)
	r3, err := f.engine.Reserve(ctx, book.ID, u3.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, r2.Reservation.Priority)
	assert.Equal(t, 2, r3.Reservation.Priority)

	_, err = f.engine.Borrow(ctx, book.ID, u4.ID)
	require.Error(t, err)
	assert.True(t, circulation.IsConflict(err))

	returned, err := f.engine.Return(ctx, borrowed.Record.ID)
	require.NoError(t, err)
	require.NotNil(t, returned.Promotion)
	assert.Equal(t, r2.Reservation.ID, returned.Promotion.Reservation.ID)
	require.NotNil(t, returned.Book.CurrentBorrower)
	assert.Equal(t, u2.ID, *returned.Book.CurrentBorrower)

	// u3 keeps position 2 and stays active
	queue, err := f.engine.BookQueue(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, u3.ID, queue[0].UserID)
	assert.Equal(t, 2, queue[0].Priority)

	// exactly one open record references the book
	records, err := f.engine.AllBorrowRecords(ctx)
	require.NoError(t, err)

	open := 0
	for _, record := range records {
		if record.Status == circulation.BorrowActive || record.Status == circulation.BorrowOverdue {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func Test_Queries_ReturnUserScopedViews(t *testing.T) {
	// setup
	f := newFixture()
	ctx := context.Background()
	book := f.seedAvailableBook("The Dispossessed")
	other := f.seedAvailableBook("The Left Hand of Darkness")
	u1 := f.seedUser("Ada", "ada@example.com")
	u2 := f.seedUser("Grace", "grace@example.com")

	_, err := f.engine.Borrow(ctx, book.ID, u1.ID)
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, other.ID, u2.ID)
	require.NoError(t, err)
	_, err = f.engine.Reserve(ctx, book.ID, u2.ID)
	require.NoError(t, err)

	// act
	u1Records, err := f.engine.BorrowRecordsForUser(ctx, u1.ID)
	require.NoError(t, err)
	u2Reservations, err := f.engine.ReservationsForUser(ctx, u2.ID)
	require.NoError(t, err)
	all, err := f.engine.AllReservations(ctx)
	require.NoError(t, err)
	loaded, err := f.engine.BookByID(ctx, book.ID)
	require.NoError(t, err)

	// assert
	require.Len(t, u1Records, 1)
	assert.Equal(t, book.ID, u1Records[0].BookID)
	require.Len(t, u2Reservations, 1)
	assert.Equal(t, book.ID, u2Reservations[0].BookID)
	assert.Len(t, all, 1)
	assert.Equal(t, circulation.BookBorrowed, loaded.Status)
}

func Test_OverdueBorrowRecords_ListsWithoutTransitioning(t *testing.T) {
	// setup
	f := newFixture()
	holder := f.seedUser("Ada", "ada@example.com")
	_, record := f.seedBorrowedBook("The Dispossessed", holder.ID)
	record.DueDate = testNow.Add(-1)
	f.store.PutBorrowRecord(record)

	// act
	overdue, err := f.engine.OverdueBorrowRecords(context.Background())

	// assert
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	stored, findErr := f.store.FindBorrowRecordByID(context.Background(), record.ID)
	require.NoError(t, findErr)
	assert.Equal(t, circulation.BorrowActive, stored.Status)
}
