package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/notify"
)

// Reserve places a user in a book's reservation queue. The queue position is
// count(active reservations)+1; the unique (book, priority) constraint turns
// a concurrent enqueue on the same position into a stale-state error, which
// is retried with a freshly computed position. A concurrent duplicate by the
// same user trips the (book, user) constraint instead and resolves to the
// duplicate conflict.
func (e Engine) Reserve(ctx context.Context, bookID uuid.UUID, userID uuid.UUID) (ReserveResult, error) {
	if bookID == uuid.Nil || userID == uuid.Nil {
		return ReserveResult{}, circulation.Validationf("bookId and userId are required")
	}

	book, err := e.store.FindBookByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return ReserveResult{}, circulation.NotFoundf("book %s not found", bookID)
		}

		return ReserveResult{}, circulation.DependencyFailure("loading book failed", err)
	}

	if _, found, findErr := e.store.FindActiveReservationForUser(ctx, bookID, userID); findErr != nil {
		return ReserveResult{}, circulation.DependencyFailure("checking existing reservation failed", findErr)
	} else if found {
		return ReserveResult{}, circulation.Conflictf("user already has an active reservation for this book")
	}

	var reservation circulation.Reservation

	enqueue := func(ctx context.Context) error {
		priority, priorityErr := e.queue.NextPriority(ctx, bookID)
		if priorityErr != nil {
			return priorityErr
		}

		now := e.clock.Now()
		reservation = circulation.Reservation{
			ID:              uuid.New(),
			BookID:          bookID,
			UserID:          userID,
			ReservationDate: now,
			ExpirationDate:  now.Add(circulation.ReservationTTL),
			Status:          circulation.ReservationActive,
			Priority:        priority,
		}

		return e.store.InsertReservation(ctx, reservation)
	}

	if err = RetryWithExponentialBackoff(ctx, enqueue, e.retryOptions...); err != nil {
		if errors.Is(err, circulation.ErrStaleState) {
			// A persistent collision can also mean a concurrent request by
			// the same user won the (book, user) constraint.
			if _, found, recheckErr := e.store.FindActiveReservationForUser(ctx, bookID, userID); recheckErr == nil && found {
				return ReserveResult{}, circulation.Conflictf("user already has an active reservation for this book")
			}

			return ReserveResult{}, circulation.Conflictf("reservation queue is contended, try again")
		}

		return ReserveResult{}, circulation.DependencyFailure("persisting reservation failed", err)
	}

	if err = e.store.AdjustBookReservationCount(ctx, bookID, 1); err != nil {
		if undoErr := e.store.UpdateReservationStatus(ctx, reservation.ID, circulation.ReservationActive, circulation.ReservationCancelled); undoErr != nil {
			e.logCompensationFailure("reserve", undoErr)
		}

		return ReserveResult{}, circulation.DependencyFailure("updating reservation count failed", err)
	}

	book.ReservationCount++

	e.notifyUser(ctx, userID, notify.ReservationConfirmed(book.Title))

	if e.logger != nil {
		e.logger.Info("reservation created",
			logAttrBookID, bookID.String(),
			logAttrUserID, userID.String(),
			logAttrReservationID, reservation.ID.String(),
			"priority", reservation.Priority,
		)
	}

	return ReserveResult{Book: book, Reservation: reservation}, nil
}
