package database

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStateFromBothDrivers(t *testing.T) {
	pqErr := fmt.Errorf("exec: %w", &pq.Error{Code: "RLS01", Message: "denied", Detail: "table=activities"})
	pgxErr := fmt.Errorf("exec: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "users_username_key"})

	assert.Equal(t, "RLS01", SQLState(pqErr))
	assert.Equal(t, CodeUniqueViolation, SQLState(pgxErr))
	assert.Equal(t, "", SQLState(fmt.Errorf("plain")))

	pe, ok := AsPgError(pgxErr)
	require.True(t, ok)
	assert.Equal(t, "users_username_key", pe.Constraint)
}

func TestDriverSelection(t *testing.T) {
	d, err := Config{}.driver()
	require.NoError(t, err)
	assert.Equal(t, DriverPQ, d)

	d, err = Config{Driver: "pgx"}.driver()
	require.NoError(t, err)
	assert.Equal(t, DriverPGX, d)

	_, err = Config{Driver: "mysql"}.driver()
	assert.Error(t, err)
}

func TestWithSessionOptions(t *testing.T) {
	base := "postgres://u:p@localhost/db?sslmode=disable"
	assert.Equal(t, base, withSessionOptions(base, "", ""))
	assert.Equal(t,
		base+"&options=-c%20TimeZone=UTC%20-c%20client_encoding=UTF8",
		withSessionOptions(base, "UTC", "UTF8"))
	assert.Equal(t,
		"postgres://localhost/db?options=-c%20TimeZone=UTC",
		withSessionOptions("postgres://localhost/db", "UTC", ""))
}
