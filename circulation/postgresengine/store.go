// Package postgresengine implements the entity store for the circulation
// lifecycle on Postgres. All SQL is generated with goqu; state transitions
// are conditional updates guarded by the expected prior status, so a losing
// concurrent caller observes circulation.ErrStaleState instead of corrupting
// the entities.
package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/postgresengine/internal/adapters"
)

const (
	defaultBooksTableName         = "books"
	defaultBorrowRecordsTableName = "borrow_records"
	defaultReservationsTableName  = "reservations"
	defaultUsersTableName         = "users"

	dialectPostgres = "postgres"

	logMsgBuildQueryFailed = "failed to build sql query"
	logMsgQueryFailed      = "database query execution failed"
	logMsgExecFailed       = "database statement execution failed"
	logMsgScanRowFailed    = "failed to scan database row"
	logMsgCloseRowsFailed  = "failed to close database rows"
	logMsgStaleState       = "conditional update affected no rows"
	logMsgSQLExecuted      = "executed sql for: "
	logAttrError           = "error"
	logAttrQuery           = "query"
	logAttrDurationMS      = "duration_ms"
	logAttrRowsAffected    = "rows_affected"
)

// Statement-level sentinel errors, joined with the driver cause.
var (
	ErrBuildingQueryFailed = errors.New("building sql query failed")
	ErrQueryFailed         = errors.New("querying entities failed")
	ErrExecFailed          = errors.New("executing statement failed")
	ErrScanningRowFailed   = errors.New("scanning database row failed")
)

// TableNames configures which tables the store reads and writes.
type TableNames struct {
	Books         string
	BorrowRecords string
	Reservations  string
	Users         string
}

func defaultTableNames() TableNames {
	return TableNames{
		Books:         defaultBooksTableName,
		BorrowRecords: defaultBorrowRecordsTableName,
		Reservations:  defaultReservationsTableName,
		Users:         defaultUsersTableName,
	}
}

// Store is the Postgres-backed entity store for books, borrow records and
// reservations. It is safe for concurrent use; serialization of transitions
// happens in the database through the conditional updates.
type Store struct {
	db     adapters.DBConn
	tables TableNames
	logger circulation.Logger
}

// Option is a functional option for configuring a Store.
type Option func(*Store) error

// WithTableNames overrides the default table names.
func WithTableNames(tables TableNames) Option {
	return func(s *Store) error {
		if tables.Books == "" || tables.BorrowRecords == "" || tables.Reservations == "" || tables.Users == "" {
			return circulation.ErrEmptyTableName
		}

		s.tables = tables

		return nil
	}
}

// WithLogger sets the logger for the Store.
// Debug level receives every SQL statement with execution timing; Warn and
// Error receive cleanup and statement failures.
func WithLogger(logger circulation.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// NewStoreFromPGXPool creates a Store on a pgx connection pool.
func NewStoreFromPGXPool(pool *pgxpool.Pool, options ...Option) (Store, error) {
	if pool == nil {
		return Store{}, circulation.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewPGXConn(pool), options...)
}

// NewStoreFromSQLDB creates a Store on a database/sql handle.
func NewStoreFromSQLDB(db *sql.DB, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, circulation.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLConn(db), options...)
}

// NewStoreFromSQLX creates a Store on a sqlx handle.
func NewStoreFromSQLX(db *sqlx.DB, options ...Option) (Store, error) {
	if db == nil {
		return Store{}, circulation.ErrNilDatabaseConnection
	}

	return newStore(adapters.NewSQLXConn(db), options...)
}

func newStore(conn adapters.DBConn, options ...Option) (Store, error) {
	s := Store{
		db:     conn,
		tables: defaultTableNames(),
	}

	for _, option := range options {
		if err := option(&s); err != nil {
			return Store{}, err
		}
	}

	return s, nil
}

func (s Store) builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

// executeQuery runs a select statement and returns the rows with timing.
func (s Store) executeQuery(ctx context.Context, sqlQuery string) (adapters.DBRows, error) {
	start := time.Now()
	rows, queryErr := s.db.Query(ctx, sqlQuery)
	s.logQueryWithDuration(sqlQuery, "query", time.Since(start))

	if queryErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, sqlQuery)
		}

		return nil, errors.Join(ErrQueryFailed, queryErr)
	}

	return rows, nil
}

// executeStatement runs a mutating statement and returns the affected row count.
// Unique-constraint violations surface as circulation.ErrStaleState so callers
// can re-read and retry.
func (s Store) executeStatement(ctx context.Context, sqlQuery string) (int64, error) {
	start := time.Now()
	result, execErr := s.db.Exec(ctx, sqlQuery)
	s.logQueryWithDuration(sqlQuery, "exec", time.Since(start))

	if execErr != nil {
		if adapters.IsUniqueViolation(execErr) {
			return 0, errors.Join(circulation.ErrStaleState, execErr)
		}

		if s.logger != nil {
			s.logger.Error(logMsgExecFailed, logAttrError, execErr.Error(), logAttrQuery, sqlQuery)
		}

		return 0, errors.Join(ErrExecFailed, execErr)
	}

	rowsAffected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgExecFailed, logAttrError, rowsErr.Error())
		}

		return 0, errors.Join(ErrExecFailed, rowsErr)
	}

	return rowsAffected, nil
}

// executeConditional runs a guarded update and maps "no rows affected" to
// circulation.ErrStaleState: the record was not in the expected prior state.
func (s Store) executeConditional(ctx context.Context, sqlQuery string) error {
	rowsAffected, err := s.executeStatement(ctx, sqlQuery)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		if s.logger != nil {
			s.logger.Info(logMsgStaleState, logAttrRowsAffected, rowsAffected, logAttrQuery, sqlQuery)
		}

		return circulation.ErrStaleState
	}

	return nil
}

func (s Store) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if s.logger != nil {
			s.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

func (s Store) logBuildError(err error) {
	if s.logger != nil {
		s.logger.Error(logMsgBuildQueryFailed, logAttrError, err.Error())
	}
}

func (s Store) logQueryWithDuration(sqlQuery string, action string, duration time.Duration) {
	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// durationToMilliseconds converts a duration to float64 milliseconds with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
