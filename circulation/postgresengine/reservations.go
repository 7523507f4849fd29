package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

const (
	colResID               = "id"
	colResBookID           = "book_id"
	colResUserID           = "user_id"
	colResReservationDate  = "reservation_date"
	colResExpirationDate   = "expiration_date"
	colResStatus           = "status"
	colResPriority         = "priority"
	colResNotificationSent = "notification_sent"
)

func reservationColumns() []any {
	return []any{
		colResID,
		colResBookID,
		colResUserID,
		colResReservationDate,
		colResExpirationDate,
		colResStatus,
		colResPriority,
		colResNotificationSent,
	}
}

// InsertReservation persists a freshly created reservation. A collision on
// either partial unique index of active reservations, (book_id, priority) or
// (book_id, user_id), surfaces as circulation.ErrStaleState so the caller
// can re-read and retry.
func (s Store) InsertReservation(ctx context.Context, reservation circulation.Reservation) error {
	sqlQuery, _, buildErr := s.builder().
		Insert(s.tables.Reservations).
		Rows(goqu.Record{
			colResID:               reservation.ID,
			colResBookID:           reservation.BookID,
			colResUserID:           reservation.UserID,
			colResReservationDate:  reservation.ReservationDate,
			colResExpirationDate:   reservation.ExpirationDate,
			colResStatus:           string(reservation.Status),
			colResPriority:         reservation.Priority,
			colResNotificationSent: reservation.NotificationSent,
		}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	_, execErr := s.executeStatement(ctx, sqlQuery)

	return execErr
}

// FindReservationByID loads a reservation or returns circulation.ErrNoSuchEntity.
func (s Store) FindReservationByID(ctx context.Context, reservationID uuid.UUID) (circulation.Reservation, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Where(goqu.Ex{colResID: reservationID}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return circulation.Reservation{}, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return circulation.Reservation{}, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.Reservation{}, circulation.ErrNoSuchEntity
	}

	return s.scanReservation(rows)
}

// UpdateReservationStatus conditionally transitions a reservation between
// statuses. Terminal states stay immutable because no caller ever passes one
// as the expected prior status.
func (s Store) UpdateReservationStatus(
	ctx context.Context,
	reservationID uuid.UUID,
	expected circulation.ReservationStatus,
	next circulation.ReservationStatus,
) error {

	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.Reservations).
		Set(goqu.Record{colResStatus: string(next)}).
		Where(goqu.Ex{colResID: reservationID, colResStatus: string(expected)}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// SetReservationPriority rewrites the queue position of an active reservation.
// Used only by explicit queue repacking.
func (s Store) SetReservationPriority(ctx context.Context, reservationID uuid.UUID, priority int) error {
	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.Reservations).
		Set(goqu.Record{colResPriority: priority}).
		Where(goqu.Ex{colResID: reservationID, colResStatus: string(circulation.ReservationActive)}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// MarkReservationNotified records that the expiration notice went out.
func (s Store) MarkReservationNotified(ctx context.Context, reservationID uuid.UUID) error {
	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.Reservations).
		Set(goqu.Record{colResNotificationSent: true}).
		Where(goqu.Ex{colResID: reservationID}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// CountActiveReservations counts the active queue entries for a book.
func (s Store) CountActiveReservations(ctx context.Context, bookID uuid.UUID) (int, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{colResBookID: bookID, colResStatus: string(circulation.ReservationActive)}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return 0, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return 0, queryErr
	}
	defer s.closeRows(rows)

	var count int64
	if rows.Next() {
		if scanErr := rows.Scan(&count); scanErr != nil {
			if s.logger != nil {
				s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
			}

			return 0, errors.Join(ErrScanningRowFailed, scanErr)
		}
	}

	return int(count), nil
}

// FindActiveReservationForUser looks up a user's active reservation on a
// book; found is false when there is none.
func (s Store) FindActiveReservationForUser(
	ctx context.Context,
	bookID uuid.UUID,
	userID uuid.UUID,
) (circulation.Reservation, bool, error) {

	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Where(goqu.Ex{
			colResBookID: bookID,
			colResUserID: userID,
			colResStatus: string(circulation.ReservationActive),
		}).
		Limit(1).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return circulation.Reservation{}, false, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryOptionalReservation(ctx, sqlQuery)
}

// NextActiveReservation selects the next-in-line active reservation for a
// book: lowest priority wins, ties break on the earlier reservation date.
func (s Store) NextActiveReservation(ctx context.Context, bookID uuid.UUID) (circulation.Reservation, bool, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Where(goqu.Ex{colResBookID: bookID, colResStatus: string(circulation.ReservationActive)}).
		Order(goqu.I(colResPriority).Asc(), goqu.I(colResReservationDate).Asc()).
		Limit(1).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return circulation.Reservation{}, false, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryOptionalReservation(ctx, sqlQuery)
}

// ListExpiredReservations returns the active reservations whose expiration
// date has passed, oldest first.
func (s Store) ListExpiredReservations(ctx context.Context, now time.Time) ([]circulation.Reservation, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Where(
			goqu.Ex{colResStatus: string(circulation.ReservationActive)},
			goqu.C(colResExpirationDate).Lt(now),
		).
		Order(goqu.I(colResExpirationDate).Asc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryReservations(ctx, sqlQuery)
}

// ListActiveReservationsForBook returns a book's queue in priority order.
func (s Store) ListActiveReservationsForBook(ctx context.Context, bookID uuid.UUID) ([]circulation.Reservation, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Where(goqu.Ex{colResBookID: bookID, colResStatus: string(circulation.ReservationActive)}).
		Order(goqu.I(colResPriority).Asc(), goqu.I(colResReservationDate).Asc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryReservations(ctx, sqlQuery)
}

// ListReservationsForUser returns a user's reservation history, newest first.
func (s Store) ListReservationsForUser(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Where(goqu.Ex{colResUserID: userID}).
		Order(goqu.I(colResReservationDate).Desc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryReservations(ctx, sqlQuery)
}

// ListAllReservations returns the full reservation history, newest first.
func (s Store) ListAllReservations(ctx context.Context) ([]circulation.Reservation, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Reservations).
		Select(reservationColumns()...).
		Order(goqu.I(colResReservationDate).Desc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryReservations(ctx, sqlQuery)
}

func (s Store) queryOptionalReservation(ctx context.Context, sqlQuery string) (circulation.Reservation, bool, error) {
	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return circulation.Reservation{}, false, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.Reservation{}, false, nil
	}

	reservation, scanErr := s.scanReservation(rows)
	if scanErr != nil {
		return circulation.Reservation{}, false, scanErr
	}

	return reservation, true, nil
}

func (s Store) queryReservations(ctx context.Context, sqlQuery string) ([]circulation.Reservation, error) {
	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return nil, queryErr
	}
	defer s.closeRows(rows)

	reservations := make([]circulation.Reservation, 0)

	for rows.Next() {
		reservation, scanErr := s.scanReservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		reservations = append(reservations, reservation)
	}

	return reservations, nil
}

func (s Store) scanReservation(rows interface{ Scan(dest ...any) error }) (circulation.Reservation, error) {
	var (
		reservation circulation.Reservation
		status      string
	)

	scanErr := rows.Scan(
		&reservation.ID,
		&reservation.BookID,
		&reservation.UserID,
		&reservation.ReservationDate,
		&reservation.ExpirationDate,
		&status,
		&reservation.Priority,
		&reservation.NotificationSent,
	)
	if scanErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
		}

		return circulation.Reservation{}, errors.Join(ErrScanningRowFailed, scanErr)
	}

	reservation.Status = circulation.ReservationStatus(status)

	return reservation, nil
}
