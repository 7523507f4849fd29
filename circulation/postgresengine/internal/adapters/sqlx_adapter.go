package adapters

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SQLXConn implements DBConn for a sqlx.DB.
type SQLXConn struct {
	db *sqlx.DB
}

// NewSQLXConn wraps a sqlx.DB handle.
func NewSQLXConn(db *sqlx.DB) *SQLXConn {
	return &SQLXConn{db: db}
}

// Query runs a query and returns wrapped rows.
func (s *SQLXConn) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec runs a statement and returns the wrapped result.
func (s *SQLXConn) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}
