package memoryengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/memoryengine"
)

var storeNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func seedBook(store *memoryengine.Store, status circulation.BookStatus) circulation.Book {
	book := circulation.Book{
		ID:     uuid.New(),
		Title:  "A Wizard of Earthsea",
		Status: status,
	}
	store.PutBook(book)

	return book
}

func Test_MarkBookBorrowed_FailsWithStaleState_OnWrongPriorStatus(t *testing.T) {
	// setup
	store := memoryengine.New()
	book := seedBook(store, circulation.BookBorrowed)

	// act
	err := store.MarkBookBorrowed(context.Background(), book.ID, uuid.New(), circulation.BookAvailable, true)

	// assert
	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_MarkBookBorrowed_ExactlyOneConcurrentWinner(t *testing.T) {
	// setup
	store := memoryengine.New()
	book := seedBook(store, circulation.BookAvailable)

	const callers = 16

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	winners := 0

	// act
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()

			err := store.MarkBookBorrowed(context.Background(), book.ID, uuid.New(), circulation.BookAvailable, true)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// assert
	assert.Equal(t, 1, winners)

	stored, err := store.FindBookByID(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.BorrowCount)
}

func Test_InsertBorrowRecord_RejectsSecondOpenRecordForSameBook(t *testing.T) {
	// setup
	store := memoryengine.New()
	book := seedBook(store, circulation.BookBorrowed)

	first := circulation.BorrowRecord{
		ID:     uuid.New(),
		BookID: book.ID,
		UserID: uuid.New(),
		Status: circulation.BorrowActive,
	}
	require.NoError(t, store.InsertBorrowRecord(context.Background(), first))

	second := circulation.BorrowRecord{
		ID:     uuid.New(),
		BookID: book.ID,
		UserID: uuid.New(),
		Status: circulation.BorrowActive,
	}

	// act
	err := store.InsertBorrowRecord(context.Background(), second)

	// assert
	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_InsertReservation_RejectsDuplicateActivePriority(t *testing.T) {
	// setup
	store := memoryengine.New()
	bookID := uuid.New()

	first := circulation.Reservation{
		ID:       uuid.New(),
		BookID:   bookID,
		UserID:   uuid.New(),
		Status:   circulation.ReservationActive,
		Priority: 1,
	}
	require.NoError(t, store.InsertReservation(context.Background(), first))

	duplicate := circulation.Reservation{
		ID:       uuid.New(),
		BookID:   bookID,
		UserID:   uuid.New(),
		Status:   circulation.ReservationActive,
		Priority: 1,
	}

	// act
	err := store.InsertReservation(context.Background(), duplicate)

	// assert
	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_InsertReservation_RejectsSecondActiveReservationBySameUser(t *testing.T) {
	// setup
	store := memoryengine.New()
	bookID := uuid.New()
	userID := uuid.New()

	first := circulation.Reservation{
		ID:       uuid.New(),
		BookID:   bookID,
		UserID:   userID,
		Status:   circulation.ReservationActive,
		Priority: 1,
	}
	require.NoError(t, store.InsertReservation(context.Background(), first))

	duplicate := circulation.Reservation{
		ID:       uuid.New(),
		BookID:   bookID,
		UserID:   userID,
		Status:   circulation.ReservationActive,
		Priority: 2,
	}

	// act
	err := store.InsertReservation(context.Background(), duplicate)

	// assert
	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_RenewBorrowRecord_FailsWithStaleState_WhenNoRenewalsLeft(t *testing.T) {
	// setup
	store := memoryengine.New()
	record := circulation.BorrowRecord{
		ID:           uuid.New(),
		BookID:       uuid.New(),
		UserID:       uuid.New(),
		DueDate:      storeNow,
		Status:       circulation.BorrowActive,
		RenewalsLeft: 0,
	}
	store.PutBorrowRecord(record)

	// act
	err := store.RenewBorrowRecord(context.Background(), record.ID, circulation.RenewalExtension)

	// assert
	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_FailNext_IsOneShot(t *testing.T) {
	// setup
	store := memoryengine.New()
	book := seedBook(store, circulation.BookAvailable)
	store.FailNext("FindBookByID", assert.AnError)

	// act
	_, first := store.FindBookByID(context.Background(), book.ID)
	_, second := store.FindBookByID(context.Background(), book.ID)

	// assert
	assert.ErrorIs(t, first, assert.AnError)
	assert.NoError(t, second)
}

func Test_FindBookByID_ReturnsDetachedCopy(t *testing.T) {
	// setup
	store := memoryengine.New()
	holder := uuid.New()
	book := circulation.Book{
		ID:              uuid.New(),
		Title:           "A Wizard of Earthsea",
		Status:          circulation.BookBorrowed,
		CurrentBorrower: &holder,
	}
	store.PutBook(book)

	// act
	loaded, err := store.FindBookByID(context.Background(), book.ID)
	require.NoError(t, err)
	*loaded.CurrentBorrower = uuid.New()

	// assert
	reloaded, err := store.FindBookByID(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, holder, *reloaded.CurrentBorrower)
}
