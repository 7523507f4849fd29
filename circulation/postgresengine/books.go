package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

const (
	colBookID                = "id"
	colBookTitle             = "title"
	colBookAuthor            = "author"
	colBookGenre             = "genre"
	colBookISBN              = "isbn"
	colBookStatus            = "status"
	colBookCurrentBorrower   = "current_borrower"
	colBookBorrowCount       = "borrow_count"
	colBookReservationCount  = "reservation_count"
	colBookNextAvailableDate = "next_available_date"
)

func bookColumns() []any {
	return []any{
		colBookID,
		colBookTitle,
		colBookAuthor,
		colBookGenre,
		colBookISBN,
		colBookStatus,
		colBookCurrentBorrower,
		colBookBorrowCount,
		colBookReservationCount,
		colBookNextAvailableDate,
	}
}

// FindBookByID loads a book or returns circulation.ErrNoSuchEntity.
func (s Store) FindBookByID(ctx context.Context, bookID uuid.UUID) (circulation.Book, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Books).
		Select(bookColumns()...).
		Where(goqu.Ex{colBookID: bookID}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return circulation.Book{}, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return circulation.Book{}, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.Book{}, circulation.ErrNoSuchEntity
	}

	return s.scanBook(rows)
}

// MarkBookBorrowed conditionally transitions a book to borrowed. The update
// only succeeds while the book is still in the expected status; a losing
// concurrent caller receives circulation.ErrStaleState. The borrow counter is
// bumped on a fresh borrow but not when a queued reservation is promoted.
func (s Store) MarkBookBorrowed(
	ctx context.Context,
	bookID uuid.UUID,
	borrowerID uuid.UUID,
	expected circulation.BookStatus,
	bumpBorrowCount bool,
) error {

	record := goqu.Record{
		colBookStatus:          string(circulation.BookBorrowed),
		colBookCurrentBorrower: borrowerID,
	}
	if bumpBorrowCount {
		record[colBookBorrowCount] = goqu.L(colBookBorrowCount + " + 1")
	}

	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.Books).
		Set(record).
		Where(goqu.Ex{colBookID: bookID, colBookStatus: string(expected)}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// MarkBookAvailable conditionally transitions a book back to available and
// clears the current borrower. undoBorrowCount reverts the counter bump when
// a borrow transition has to be compensated.
func (s Store) MarkBookAvailable(
	ctx context.Context,
	bookID uuid.UUID,
	expected circulation.BookStatus,
	undoBorrowCount bool,
) error {

	record := goqu.Record{
		colBookStatus:          string(circulation.BookAvailable),
		colBookCurrentBorrower: nil,
	}
	if undoBorrowCount {
		record[colBookBorrowCount] = goqu.L(colBookBorrowCount + " - 1")
	}

	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.Books).
		Set(record).
		Where(goqu.Ex{colBookID: bookID, colBookStatus: string(expected)}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

// AdjustBookReservationCount shifts the denormalized reservation counter.
func (s Store) AdjustBookReservationCount(ctx context.Context, bookID uuid.UUID, delta int) error {
	sqlQuery, _, buildErr := s.builder().
		Update(s.tables.Books).
		Set(goqu.Record{
			colBookReservationCount: goqu.L(fmt.Sprintf("%s + %d", colBookReservationCount, delta)),
		}).
		Where(goqu.Ex{colBookID: bookID}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	return s.executeConditional(ctx, sqlQuery)
}

func (s Store) scanBook(rows interface{ Scan(dest ...any) error }) (circulation.Book, error) {
	var (
		book          circulation.Book
		status        string
		borrower      uuid.NullUUID
		nextAvailable sql.NullTime
	)

	scanErr := rows.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Genre,
		&book.ISBN,
		&status,
		&borrower,
		&book.BorrowCount,
		&book.ReservationCount,
		&nextAvailable,
	)
	if scanErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
		}

		return circulation.Book{}, errors.Join(ErrScanningRowFailed, scanErr)
	}

	book.Status = circulation.BookStatus(status)
	if borrower.Valid {
		id := borrower.UUID
		book.CurrentBorrower = &id
	}
	if nextAvailable.Valid {
		t := nextAvailable.Time
		book.NextAvailableDate = &t
	}

	return book, nil
}
