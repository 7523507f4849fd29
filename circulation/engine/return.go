package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/notify"
)

// Return closes an active or overdue borrowing, frees the book, and hands it
// straight to the next queued reservation when one is waiting.
//
// The book is freed before the record is closed so that a failure on the
// record side can be compensated by re-borrowing the book; the record update
// is the commit point. A failed promotion afterwards never fails the return,
// the book simply stays available for the next sweep or manual fulfillment.
func (e Engine) Return(ctx context.Context, recordID uuid.UUID) (ReturnResult, error) {
	if recordID == uuid.Nil {
		return ReturnResult{}, circulation.Validationf("recordId is required")
	}

	record, err := e.store.FindBorrowRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return ReturnResult{}, circulation.NotFoundf("borrow record %s not found", recordID)
		}

		return ReturnResult{}, circulation.DependencyFailure("loading borrow record failed", err)
	}

	if record.Status != circulation.BorrowActive && record.Status != circulation.BorrowOverdue {
		return ReturnResult{}, circulation.Conflictf("borrowing is already closed")
	}

	book, err := e.store.FindBookByID(ctx, record.BookID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return ReturnResult{}, circulation.NotFoundf("book %s not found", record.BookID)
		}

		return ReturnResult{}, circulation.DependencyFailure("loading book failed", err)
	}

	if err = e.store.MarkBookAvailable(ctx, book.ID, circulation.BookBorrowed, false); err != nil {
		if !errors.Is(err, circulation.ErrStaleState) {
			return ReturnResult{}, circulation.DependencyFailure("releasing book failed", err)
		}

		// Book was not in borrowed state; the record update below decides
		// whether this return still stands.
		if e.logger != nil {
			e.logger.Warn("book was not borrowed on return", logAttrBookID, book.ID.String(), logAttrRecordID, recordID.String())
		}
	}

	now := e.clock.Now()

	if err = e.store.MarkBorrowRecordReturned(ctx, recordID, now, circulation.BorrowActive, circulation.BorrowOverdue); err != nil {
		if errors.Is(err, circulation.ErrStaleState) {
			// A rival return closed the record between our pre-check and
			// this update. The freed book belongs to that completed return,
			// so it must not be re-borrowed here.
			return ReturnResult{}, circulation.Conflictf("borrowing is already closed")
		}

		if undoErr := e.store.MarkBookBorrowed(ctx, book.ID, record.UserID, circulation.BookAvailable, false); undoErr != nil {
			e.logCompensationFailure("return", undoErr)
		}

		return ReturnResult{}, circulation.DependencyFailure("closing borrow record failed", err)
	}

	record.Status = circulation.BorrowReturned
	record.ReturnDate = &now

	book.Status = circulation.BookAvailable
	book.CurrentBorrower = nil

	result := ReturnResult{Book: book, Record: record}

	if promotion := e.promoteNextReservation(ctx, book, now); promotion != nil {
		borrower := promotion.Reservation.UserID
		result.Book.Status = circulation.BookBorrowed
		result.Book.CurrentBorrower = &borrower
		result.Promotion = promotion
	}

	if e.logger != nil {
		e.logger.Info("book returned", logAttrBookID, book.ID.String(), logAttrRecordID, recordID.String(), "promoted", result.Promotion != nil)
	}

	return result, nil
}

// promoteNextReservation pops the head of the book's queue and turns it into
// a borrowing. Borrow count is not bumped here: the hand-over continues the
// reservation, it is not a fresh checkout. Every step is best-effort with
// backward compensation; on any failure the book is left available.
func (e Engine) promoteNextReservation(ctx context.Context, book circulation.Book, now time.Time) *Promotion {
	next, found, err := e.queue.PopNext(ctx, book.ID)
	if err != nil {
		e.logPromotionAbandoned(book.ID, err)

		return nil
	}

	if !found {
		return nil
	}

	if err = e.store.UpdateReservationStatus(ctx, next.ID, circulation.ReservationActive, circulation.ReservationFulfilled); err != nil {
		e.logPromotionAbandoned(book.ID, err)

		return nil
	}

	if err = e.store.MarkBookBorrowed(ctx, book.ID, next.UserID, circulation.BookAvailable, false); err != nil {
		e.revertReservationFulfillment(ctx, next.ID)
		e.logPromotionAbandoned(book.ID, err)

		return nil
	}

	record := circulation.BorrowRecord{
		ID:           uuid.New(),
		BookID:       book.ID,
		UserID:       next.UserID,
		BorrowDate:   now,
		DueDate:      now.Add(circulation.LoanPeriod),
		Status:       circulation.BorrowActive,
		RenewalsLeft: circulation.DefaultRenewals,
	}

	if err = e.store.InsertBorrowRecord(ctx, record); err != nil {
		if undoErr := e.store.MarkBookAvailable(ctx, book.ID, circulation.BookBorrowed, false); undoErr != nil {
			e.logCompensationFailure("promotion", undoErr)
		}

		e.revertReservationFulfillment(ctx, next.ID)
		e.logPromotionAbandoned(book.ID, err)

		return nil
	}

	next.Status = circulation.ReservationFulfilled

	if contact, ok := e.lookupContact(ctx, next.UserID); ok {
		e.sendNotification(ctx, contact, notify.ReservedBookAvailable(contact.Name, book.Title, record.DueDate))
	}

	return &Promotion{Reservation: next, Record: record}
}

func (e Engine) revertReservationFulfillment(ctx context.Context, reservationID uuid.UUID) {
	if err := e.store.UpdateReservationStatus(ctx, reservationID, circulation.ReservationFulfilled, circulation.ReservationActive); err != nil {
		e.logCompensationFailure("promotion", err)
	}
}

func (e Engine) logPromotionAbandoned(bookID uuid.UUID, err error) {
	if e.logger != nil {
		e.logger.Warn(logMsgPromotionAbandoned, logAttrBookID, bookID.String(), logAttrError, err.Error())
	}
}
