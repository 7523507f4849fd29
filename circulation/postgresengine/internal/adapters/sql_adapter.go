package adapters

import (
	"context"
	"database/sql"
)

// SQLConn implements DBConn for a database/sql DB.
type SQLConn struct {
	db *sql.DB
}

// NewSQLConn wraps a sql.DB handle.
func NewSQLConn(db *sql.DB) *SQLConn {
	return &SQLConn{db: db}
}

// Query runs a query and returns wrapped rows.
func (s *SQLConn) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec runs a statement and returns the wrapped result.
func (s *SQLConn) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

// stdRows wraps sql.Rows; shared with the sqlx adapter which yields the same
// underlying type.
type stdRows struct {
	rows *sql.Rows
}

func (s *stdRows) Next() bool {
	return s.rows.Next()
}

func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *stdRows) Close() error {
	return s.rows.Close()
}

type stdResult struct {
	result sql.Result
}

func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}
