package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

// BookByID returns the current book view.
func (e Engine) BookByID(ctx context.Context, bookID uuid.UUID) (circulation.Book, error) {
	if bookID == uuid.Nil {
		return circulation.Book{}, circulation.Validationf("bookId is required")
	}

	book, err := e.store.FindBookByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return circulation.Book{}, circulation.NotFoundf("book %s not found", bookID)
		}

		return circulation.Book{}, circulation.DependencyFailure("loading book failed", err)
	}

	return book, nil
}

// BorrowRecordsForUser returns a user's borrowing history, newest first.
func (e Engine) BorrowRecordsForUser(ctx context.Context, userID uuid.UUID) ([]circulation.BorrowRecord, error) {
	if userID == uuid.Nil {
		return nil, circulation.Validationf("userId is required")
	}

	records, err := e.store.ListBorrowRecordsForUser(ctx, userID)
	if err != nil {
		return nil, circulation.DependencyFailure("listing borrow records failed", err)
	}

	return records, nil
}

// AllBorrowRecords returns the full borrowing history, newest first.
func (e Engine) AllBorrowRecords(ctx context.Context) ([]circulation.BorrowRecord, error) {
	records, err := e.store.ListAllBorrowRecords(ctx)
	if err != nil {
		return nil, circulation.DependencyFailure("listing borrow records failed", err)
	}

	return records, nil
}

// OverdueBorrowRecords returns active records past their due date as of now,
// without transitioning them. The sweep does the transitioning.
func (e Engine) OverdueBorrowRecords(ctx context.Context) ([]circulation.BorrowRecord, error) {
	records, err := e.store.ListOverdueBorrowRecords(ctx, e.clock.Now())
	if err != nil {
		return nil, circulation.DependencyFailure("listing overdue borrow records failed", err)
	}

	return records, nil
}

// ReservationsForUser returns a user's reservations, newest first.
func (e Engine) ReservationsForUser(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	if userID == uuid.Nil {
		return nil, circulation.Validationf("userId is required")
	}

	reservations, err := e.store.ListReservationsForUser(ctx, userID)
	if err != nil {
		return nil, circulation.DependencyFailure("listing reservations failed", err)
	}

	return reservations, nil
}

// AllReservations returns every reservation, newest first.
func (e Engine) AllReservations(ctx context.Context) ([]circulation.Reservation, error) {
	reservations, err := e.store.ListAllReservations(ctx)
	if err != nil {
		return nil, circulation.DependencyFailure("listing reservations failed", err)
	}

	return reservations, nil
}

// BookQueue returns a book's active reservations in selection order.
func (e Engine) BookQueue(ctx context.Context, bookID uuid.UUID) ([]circulation.Reservation, error) {
	if bookID == uuid.Nil {
		return nil, circulation.Validationf("bookId is required")
	}

	reservations, err := e.queue.Queue(ctx, bookID)
	if err != nil {
		return nil, circulation.DependencyFailure("listing reservation queue failed", err)
	}

	return reservations, nil
}
