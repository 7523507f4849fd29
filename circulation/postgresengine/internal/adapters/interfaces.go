// Package adapters wraps the supported database handles (pgxpool.Pool,
// sql.DB, sqlx.DB) behind one small interface so the store can execute its
// generated SQL without caring which driver is underneath.
package adapters

import "context"

// DBConn is the database surface the store needs.
type DBConn interface {
	Query(ctx context.Context, query string) (DBRows, error)
	Exec(ctx context.Context, query string) (DBResult, error)
}

// DBRows is the row-iteration surface of a query result.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// DBResult is the outcome of a statement execution.
type DBResult interface {
	RowsAffected() (int64, error)
}
