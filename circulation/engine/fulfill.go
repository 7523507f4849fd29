package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/notify"
)

// FulfillReservation is the manual hand-over path: staff give the reserved
// copy directly to the reservation holder. Unlike the automatic promotion on
// return it counts as a fresh checkout, so the book's borrow count is bumped.
//
// The reservation's active -> fulfilled update gates the whole transition,
// and the book must actually be available: handing out a copy that is still
// checked out to someone else would break the one-open-borrowing invariant.
func (e Engine) FulfillReservation(ctx context.Context, reservationID uuid.UUID) (FulfillResult, error) {
	if reservationID == uuid.Nil {
		return FulfillResult{}, circulation.Validationf("reservationId is required")
	}

	reservation, err := e.store.FindReservationByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return FulfillResult{}, circulation.NotFoundf("reservation %s not found", reservationID)
		}

		return FulfillResult{}, circulation.DependencyFailure("loading reservation failed", err)
	}

	if reservation.IsTerminal() {
		return FulfillResult{}, circulation.Conflictf("reservation is not active")
	}

	book, err := e.store.FindBookByID(ctx, reservation.BookID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return FulfillResult{}, circulation.Conflictf("book for reservation no longer exists")
		}

		return FulfillResult{}, circulation.DependencyFailure("loading book failed", err)
	}

	if err = e.store.UpdateReservationStatus(ctx, reservationID, circulation.ReservationActive, circulation.ReservationFulfilled); err != nil {
		if errors.Is(err, circulation.ErrStaleState) {
			return FulfillResult{}, circulation.Conflictf("reservation is not active")
		}

		return FulfillResult{}, circulation.DependencyFailure("fulfilling reservation failed", err)
	}

	if err = e.store.MarkBookBorrowed(ctx, book.ID, reservation.UserID, circulation.BookAvailable, true); err != nil {
		e.revertReservationFulfillment(ctx, reservationID)

		if errors.Is(err, circulation.ErrStaleState) {
			return FulfillResult{}, circulation.Conflictf("book is not available")
		}

		return FulfillResult{}, circulation.DependencyFailure("claiming book failed", err)
	}

	now := e.clock.Now()
	record := circulation.BorrowRecord{
		ID:           uuid.New(),
		BookID:       book.ID,
		UserID:       reservation.UserID,
		BorrowDate:   now,
		DueDate:      now.Add(circulation.LoanPeriod),
		Status:       circulation.BorrowActive,
		RenewalsLeft: circulation.DefaultRenewals,
	}

	if err = e.store.InsertBorrowRecord(ctx, record); err != nil {
		if undoErr := e.store.MarkBookAvailable(ctx, book.ID, circulation.BookBorrowed, true); undoErr != nil {
			e.logCompensationFailure("fulfill", undoErr)
		}

		e.revertReservationFulfillment(ctx, reservationID)

		if errors.Is(err, circulation.ErrStaleState) {
			return FulfillResult{}, circulation.Conflictf("book already has an open borrowing")
		}

		return FulfillResult{}, circulation.DependencyFailure("persisting borrow record failed", err)
	}

	reservation.Status = circulation.ReservationFulfilled

	borrower := reservation.UserID
	book.Status = circulation.BookBorrowed
	book.CurrentBorrower = &borrower
	book.BorrowCount++

	e.notifyUser(ctx, reservation.UserID, notify.ReservationFulfilled(book.Title, record.DueDate))

	if e.logger != nil {
		e.logger.Info("reservation fulfilled",
			logAttrReservationID, reservationID.String(),
			logAttrBookID, book.ID.String(),
			logAttrRecordID, record.ID.String(),
		)
	}

	return FulfillResult{Book: book, Reservation: reservation, Record: record}, nil
}
