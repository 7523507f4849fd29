// Package queue maintains the per-book FIFO priority ordering of active
// reservations: position assignment on enqueue and next-in-line selection
// when a copy becomes available.
package queue

import (
	"context"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

// Store is the slice of the entity store the queue manager needs.
type Store interface {
	CountActiveReservations(ctx context.Context, bookID uuid.UUID) (int, error)
	NextActiveReservation(ctx context.Context, bookID uuid.UUID) (circulation.Reservation, bool, error)
	ListActiveReservationsForBook(ctx context.Context, bookID uuid.UUID) ([]circulation.Reservation, error)
	SetReservationPriority(ctx context.Context, reservationID uuid.UUID, priority int) error
}

// Manager assigns and reads queue positions. It never mutates reservation
// statuses; promoting a popped reservation is the lifecycle engine's job.
type Manager struct {
	store Store
}

// New creates a Manager on the given store.
func New(store Store) Manager {
	return Manager{store: store}
}

// NextPriority computes the queue position for a new reservation:
// count(active reservations for the book) + 1.
func (m Manager) NextPriority(ctx context.Context, bookID uuid.UUID) (int, error) {
	count, err := m.store.CountActiveReservations(ctx, bookID)
	if err != nil {
		return 0, err
	}

	return count + 1, nil
}

// PopNext selects the next eligible reservation for a book: the active
// reservation with the lowest priority value, ties broken by the earlier
// reservation date. Found is false when the queue is empty. Remaining
// siblings keep their priority values, so gaps stay visible until an
// explicit Repack.
func (m Manager) PopNext(ctx context.Context, bookID uuid.UUID) (circulation.Reservation, bool, error) {
	return m.store.NextActiveReservation(ctx, bookID)
}

// Queue returns the book's active reservations in selection order.
func (m Manager) Queue(ctx context.Context, bookID uuid.UUID) ([]circulation.Reservation, error) {
	return m.store.ListActiveReservationsForBook(ctx, bookID)
}

// Repack renumbers a book's active reservations into a contiguous ascending
// sequence starting at 1, preserving the current selection order. It returns
// the number of reservations whose position changed. Walking in ascending
// order keeps every intermediate write below the position it vacates, so the
// unique (book, priority) constraint holds throughout.
func (m Manager) Repack(ctx context.Context, bookID uuid.UUID) (int, error) {
	reservations, err := m.store.ListActiveReservationsForBook(ctx, bookID)
	if err != nil {
		return 0, err
	}

	changed := 0

	for i, reservation := range reservations {
		wanted := i + 1
		if reservation.Priority == wanted {
			continue
		}

		if err := m.store.SetReservationPriority(ctx, reservation.ID, wanted); err != nil {
			return changed, err
		}

		changed++
	}

	return changed, nil
}
