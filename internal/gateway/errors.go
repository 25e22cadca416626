package gateway

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// QueryError is any failure of the query engine: connecting, executing or
// scanning. Error returns the engine's message unchanged.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

// SQLState returns the PostgreSQL error code carried by err, if any.
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
