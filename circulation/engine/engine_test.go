package engine_test

import (
	"time"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/engine"
	"github.com/bibliokit/circulation-go/circulation/memoryengine"
	"github.com/bibliokit/circulation-go/circulation/notify"
)

var testNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type fixture struct {
	engine   engine.Engine
	store    *memoryengine.Store
	recorder *notify.Recorder
}

func newFixture() fixture {
	store := memoryengine.New()
	recorder := &notify.Recorder{}

	return fixture{
		engine: engine.New(store,
			engine.WithNotifier(recorder),
			engine.WithDirectory(store),
			engine.WithClock(fixedClock{now: testNow}),
		),
		store:    store,
		recorder: recorder,
	}
}

func (f fixture) seedAvailableBook(title string) circulation.Book {
	book := circulation.Book{
		ID:     uuid.New(),
		Title:  title,
		Author: "Ursula K. Le Guin",
		Genre:  "Fiction",
		ISBN:   "978-0-06-051275-7",
		Status: circulation.BookAvailable,
	}
	f.store.PutBook(book)

	return book
}

func (f fixture) seedBorrowedBook(title string, borrower uuid.UUID) (circulation.Book, circulation.BorrowRecord) {
	holder := borrower
	book := circulation.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          "Ursula K. Le Guin",
		Genre:           "Fiction",
		ISBN:            "978-0-06-051275-7",
		Status:          circulation.BookBorrowed,
		CurrentBorrower: &holder,
		BorrowCount:     1,
	}
	f.store.PutBook(book)

	record := circulation.BorrowRecord{
		ID:           uuid.New(),
		BookID:       book.ID,
		UserID:       borrower,
		BorrowDate:   testNow.Add(-72 * time.Hour),
		DueDate:      testNow.Add(circulation.LoanPeriod - 72*time.Hour),
		Status:       circulation.BorrowActive,
		RenewalsLeft: circulation.DefaultRenewals,
	}
	f.store.PutBorrowRecord(record)

	return book, record
}

func (f fixture) seedUser(name string, email string) circulation.UserContact {
	contact := circulation.UserContact{ID: uuid.New(), Name: name, Email: email}
	f.store.PutUserContact(contact)

	return contact
}

func (f fixture) seedActiveReservation(bookID uuid.UUID, userID uuid.UUID, priority int) circulation.Reservation {
	reservation := circulation.Reservation{
		ID:              uuid.New(),
		BookID:          bookID,
		UserID:          userID,
		ReservationDate: testNow.Add(-time.Duration(priority) * time.Minute),
		ExpirationDate:  testNow.Add(circulation.ReservationTTL),
		Status:          circulation.ReservationActive,
		Priority:        priority,
	}
	f.store.PutReservation(reservation)

	return reservation
}
