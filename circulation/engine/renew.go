package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

// Renew extends an active borrowing by the renewal period and consumes one
// renewal. The pre-checks exist for precise conflict messages; the
// conditional update re-checks both under concurrency.
func (e Engine) Renew(ctx context.Context, recordID uuid.UUID) (RenewResult, error) {
	if recordID == uuid.Nil {
		return RenewResult{}, circulation.Validationf("recordId is required")
	}

	record, err := e.store.FindBorrowRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return RenewResult{}, circulation.NotFoundf("borrow record %s not found", recordID)
		}

		return RenewResult{}, circulation.DependencyFailure("loading borrow record failed", err)
	}

	if record.Status != circulation.BorrowActive {
		return RenewResult{}, circulation.Conflictf("only active borrowings can be renewed")
	}

	if record.RenewalsLeft <= 0 {
		return RenewResult{}, circulation.Conflictf("no renewals left")
	}

	if err = e.store.RenewBorrowRecord(ctx, recordID, circulation.RenewalExtension); err != nil {
		if errors.Is(err, circulation.ErrStaleState) {
			return RenewResult{}, circulation.Conflictf("borrowing can no longer be renewed")
		}

		return RenewResult{}, circulation.DependencyFailure("renewing borrow record failed", err)
	}

	record.DueDate = record.DueDate.Add(circulation.RenewalExtension)
	record.RenewalsLeft--

	if e.logger != nil {
		e.logger.Info("borrowing renewed", logAttrRecordID, recordID.String(), "due_date", record.DueDate)
	}

	return RenewResult{Record: record}, nil
}
