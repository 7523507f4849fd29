package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

const (
	colBorrowID           = "id"
	colBorrowBookID       = "book_id"
	colBorrowUserID       = "user_id"
	colBorrowBorrowDate   = "borrow_date"
	colBorrowDueDate      = "due_date"
	colBorrowReturnDate   = "return_date"
	colBorrowStatus       = "status"
	colBorrowRenewalsLeft = "renewals_left"
)

func borrowRecordColumns() []any {
	return []any{
		colBorrowID,
		colBorrowBookID,
		colBorrowUserID,
		colBorrowBorrowDate,
		colBorrowDueDate,
		colBorrowReturnDate,
		colBorrowStatus,
		colBorrowRenewalsLeft,
	}
}

// InsertBorrowRecord persists a freshly created borrow record.
func (s Store) InsertBorrowRecord(ctx context.Context, record circulation.BorrowRecord) error {
	row := goqu.Record{
		colBorrowID:           record.ID,
		colBorrowBookID:       record.BookID,
		colBorrowUserID:       record.UserID,
		colBorrowBorrowDate:   record.BorrowDate,
		colBorrowDueDate:      record.DueDate,
		colBorrowStatus:       string(record.Status),
		colBorrowRenewalsLeft: record.RenewalsLeft,
	}
	if record.ReturnDate != nil {
		row[colBorrowReturnDate] = *record.ReturnDate
	} else {
		row[colBorrowReturnDate] = nil
	}

	sqlQuery, _, buildErr := s.builder().
		Insert(s.tables.BorrowRecords).
		Rows(row).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	_, execErr := s.executeStatement(ctx, sqlQuery)

	return execErr
}

// FindBorrowRecordByID loads a borrow record or returns circulation.ErrNoSuchEntity.
func (s Store) FindBorrowRecordByID(ctx context.Context, recordID uuid.UUID) (circulation.BorrowRecord, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.BorrowRecords).
		Select(borrowRecordColumns()...).
		Where(goqu.Ex{colBorrowID: recordID}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return circulation.BorrowRecord{}, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return circulation.BorrowRecord{}, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.BorrowRecord{}, circulation.ErrNoSuchEntity
	}

	return s.scanBorrowRecord(rows)
}

// MarkBorrowRecordReturned conditionally closes a borrow record. The guard
// accepts a set of prior statuses because overdue records remain returnable.
func (s Store) MarkBorrowRecordReturned(
	ctx context.Context,
	recordID uuid.UUID,
	returnedAt time.Time,
	expected ...circulation.BorrowStatus,
) error {

	expectedValues := make([]string, 0, len(expected))
	for _, status := range expected {
		expectedValues = append(expectedValues, string(status))
	}

	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.BorrowRecords).
		Set(goqu.Record{
			colBorrowStatus:     string(circulation.BorrowReturned),
			colBorrowReturnDate: returnedAt,
		}).
		Where(goqu.Ex{colBorrowID: recordID, colBorrowStatus: expectedValues}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// MarkBorrowRecordOverdue conditionally flags an active record as overdue.
// The status guard keeps concurrent sweep instances from double-processing.
func (s Store) MarkBorrowRecordOverdue(ctx context.Context, recordID uuid.UUID) error {
	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.BorrowRecords).
		Set(goqu.Record{colBorrowStatus: string(circulation.BorrowOverdue)}).
		Where(goqu.Ex{colBorrowID: recordID, colBorrowStatus: string(circulation.BorrowActive)}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// RenewBorrowRecord extends the due date and burns one renewal in a single
// guarded statement: it only succeeds while the record is active and has
// renewals left.
func (s Store) RenewBorrowRecord(ctx context.Context, recordID uuid.UUID, extension time.Duration) error {
	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.BorrowRecords).
		Set(goqu.Record{
			colBorrowDueDate:      goqu.L(fmt.Sprintf("%s + interval '%d hours'", colBorrowDueDate, int(extension.Hours()))),
			colBorrowRenewalsLeft: goqu.L(colBorrowRenewalsLeft + " - 1"),
		}).
		Where(
			goqu.Ex{colBorrowID: recordID, colBorrowStatus: string(circulation.BorrowActive)},
			goqu.C(colBorrowRenewalsLeft).Gt(0),
		).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// ListOverdueBorrowRecords returns the active records whose due date has
// passed, ordered by due date ascending.
func (s Store) ListOverdueBorrowRecords(ctx context.Context, now time.Time) ([]circulation.BorrowRecord, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.BorrowRecords).
		Select(borrowRecordColumns()...).
		Where(
			goqu.Ex{colBorrowStatus: string(circulation.BorrowActive)},
			goqu.C(colBorrowDueDate).Lt(now),
		).
		Order(goqu.I(colBorrowDueDate).Asc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryBorrowRecords(ctx, sqlQuery)
}

// ListBorrowRecordsByStatus returns all records in the given status, ordered
// by due date ascending. Used for the overdue reminder batch.
func (s Store) ListBorrowRecordsByStatus(ctx context.Context, status circulation.BorrowStatus) ([]circulation.BorrowRecord, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.BorrowRecords).
		Select(borrowRecordColumns()...).
		Where(goqu.Ex{colBorrowStatus: string(status)}).
		Order(goqu.I(colBorrowDueDate).Asc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryBorrowRecords(ctx, sqlQuery)
}

// ListBorrowRecordsForUser returns a user's borrowing history, newest first.
func (s Store) ListBorrowRecordsForUser(ctx context.Context, userID uuid.UUID) ([]circulation.BorrowRecord, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.BorrowRecords).
		Select(borrowRecordColumns()...).
		Where(goqu.Ex{colBorrowUserID: userID}).
		Order(goqu.I(colBorrowBorrowDate).Desc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryBorrowRecords(ctx, sqlQuery)
}

// ListAllBorrowRecords returns the full borrowing history, newest first.
func (s Store) ListAllBorrowRecords(ctx context.Context) ([]circulation.BorrowRecord, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.BorrowRecords).
		Select(borrowRecordColumns()...).
		Order(goqu.I(colBorrowBorrowDate).Desc()).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return nil, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.queryBorrowRecords(ctx, sqlQuery)
}

func (s Store) queryBorrowRecords(ctx context.Context, sqlQuery string) ([]circulation.BorrowRecord, error) {
	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return nil, queryErr
	}
	defer s.closeRows(rows)

	records := make([]circulation.BorrowRecord, 0)

	for rows.Next() {
		record, scanErr := s.scanBorrowRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		records = append(records, record)
	}

	return records, nil
}

func (s Store) scanBorrowRecord(rows interface{ Scan(dest ...any) error }) (circulation.BorrowRecord, error) {
	var (
		record     circulation.BorrowRecord
		status     string
		returnDate sql.NullTime
	)

	scanErr := rows.Scan(
		&record.ID,
		&record.BookID,
		&record.UserID,
		&record.BorrowDate,
		&record.DueDate,
		&returnDate,
		&status,
		&record.RenewalsLeft,
	)
	if scanErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
		}

		return circulation.BorrowRecord{}, errors.Join(ErrScanningRowFailed, scanErr)
	}

	record.Status = circulation.BorrowStatus(status)
	if returnDate.Valid {
		t := returnDate.Time
		record.ReturnDate = &t
	}

	return record, nil
}
