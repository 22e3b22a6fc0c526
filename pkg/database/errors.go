package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres error codes the service reacts to.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
)

// PgError is the driver-independent view of a server-side error.
type PgError struct {
	Code       string
	Message    string
	Detail     string
	Constraint string
}

// AsPgError extracts server error details from either lib/pq or pgx.
func AsPgError(err error) (PgError, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PgError{
			Code:       string(pqErr.Code),
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
			Constraint: pqErr.Constraint,
		}, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return PgError{
			Code:       pgErr.Code,
			Message:    pgErr.Message,
			Detail:     pgErr.Detail,
			Constraint: pgErr.ConstraintName,
		}, true
	}
	return PgError{}, false
}

// SQLState returns the SQLSTATE carried by err, or "".
func SQLState(err error) string {
	if pe, ok := AsPgError(err); ok {
		return pe.Code
	}
	return ""
}
