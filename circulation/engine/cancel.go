package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

// CancelReservation moves an active reservation to cancelled. Remaining
// reservations keep their queue positions and the book's reservation count
// stays a monotonic total; both are deliberate, selection order is unaffected
// by the resulting gap.
func (e Engine) CancelReservation(ctx context.Context, reservationID uuid.UUID) (circulation.Reservation, error) {
	if reservationID == uuid.Nil {
		return circulation.Reservation{}, circulation.Validationf("reservationId is required")
	}

	reservation, err := e.store.FindReservationByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, circulation.ErrNoSuchEntity) {
			return circulation.Reservation{}, circulation.NotFoundf("reservation %s not found", reservationID)
		}

		return circulation.Reservation{}, circulation.DependencyFailure("loading reservation failed", err)
	}

	if reservation.IsTerminal() {
		return circulation.Reservation{}, circulation.Conflictf("reservation is not active")
	}

	if err = e.store.UpdateReservationStatus(ctx, reservationID, circulation.ReservationActive, circulation.ReservationCancelled); err != nil {
		if errors.Is(err, circulation.ErrStaleState) {
			return circulation.Reservation{}, circulation.Conflictf("reservation is not active")
		}

		return circulation.Reservation{}, circulation.DependencyFailure("cancelling reservation failed", err)
	}

	reservation.Status = circulation.ReservationCancelled

	if e.logger != nil {
		e.logger.Info("reservation cancelled", logAttrReservationID, reservationID.String())
	}

	return reservation, nil
}
