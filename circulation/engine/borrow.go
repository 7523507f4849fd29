package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

// Borrow checks an available book out to a user. The conditional book update
// (available -> borrowed) is the serialization point: of two concurrent
// borrowers exactly one wins, the other gets a conflict.
func (e Engine) Borrow(ctx context.Context, bookID uuid.UUID, userID uuid.UUID) (BorrowResult, error) {
	if bookID == uuid.Nil || userID == uuid.Nil {
		return BorrowResult{}, circulation.Validationf("bookId and userId are required")
	}

	book, err := e.store.FindBookByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return BorrowResult{}, circulation.NotFoundf("book %s not found", bookID)
		}

		return BorrowResult{}, circulation.DependencyFailure("loading book failed", err)
	}

	if book.Status != circulation.BookAvailable {
		return BorrowResult{}, circulation.Conflictf("book is not available")
	}

	if err = e.store.MarkBookBorrowed(ctx, bookID, userID, circulation.BookAvailable, true); err != nil {
		if errors.Is(err, circulation.ErrStaleState) {
			return BorrowResult{}, circulation.Conflictf("book is not available")
		}

		return BorrowResult{}, circulation.DependencyFailure("borrowing book failed", err)
	}

	now := e.clock.Now()
	record := circulation.BorrowRecord{
		ID:           uuid.New(),
		BookID:       bookID,
		UserID:       userID,
		BorrowDate:   now,
		DueDate:      now.Add(circulation.LoanPeriod),
		Status:       circulation.BorrowActive,
		RenewalsLeft: circulation.DefaultRenewals,
	}

	if err = e.store.InsertBorrowRecord(ctx, record); err != nil {
		if undoErr := e.store.MarkBookAvailable(ctx, bookID, circulation.BookBorrowed, true); undoErr != nil {
			e.logCompensationFailure("borrow", undoErr)
		}

		return BorrowResult{}, circulation.DependencyFailure("persisting borrow record failed", err)
	}

	borrower := userID
	book.Status = circulation.BookBorrowed
	book.CurrentBorrower = &borrower
	book.BorrowCount++

	if e.logger != nil {
		e.logger.Info("book borrowed", logAttrBookID, bookID.String(), logAttrUserID, userID.String(), logAttrRecordID, record.ID.String())
	}

	return BorrowResult{Book: book, Record: record}, nil
}
