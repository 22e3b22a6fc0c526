//go:build integration

// Package testsupport starts a disposable Postgres for integration tests.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	activityrepo "github.com/ovaphlow/pitchfork/service-planner/internal/activity/repo"
	userrepo "github.com/ovaphlow/pitchfork/service-planner/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/database"
)

const image = "postgres:16-alpine"

// Postgres is a running container and its connection string.
type Postgres struct {
	DSN string
}

// StartPostgres runs a fresh container for the test and terminates it on
// cleanup.
func StartPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, image,
		postgrescontainer.WithDatabase("planner"),
		postgrescontainer.WithUsername("planner"),
		postgrescontainer.WithPassword("planner"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, dsn))
	return &Postgres{DSN: dsn}
}

// Open returns a new pool on the container. driver is "postgres" or "pgx".
func (p *Postgres) Open(t *testing.T, driver string) *sqlx.DB {
	t.Helper()
	db, err := database.Open(database.Config{DSN: p.DSN, Driver: driver, MaxConns: 10, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// CreateTables creates users and activities without the row guards.
func CreateTables(t *testing.T, db *sqlx.DB) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, userrepo.NewUserRepo(db).EnsureTable(ctx))
	require.NoError(t, activityrepo.NewActivityRepo(db).EnsureTable(ctx))
}

// SeedUser inserts an active account and returns its id. Inserts on users
// are not guarded.
func SeedUser(t *testing.T, db *sqlx.DB, username string, admin bool) int64 {
	t.Helper()
	var id int64
	err := db.GetContext(context.Background(), &id,
		`INSERT INTO users (username, email, password_hash, is_admin) VALUES ($1, $2, 'x', $3) RETURNING id`,
		username, username+"@planner.test", admin)
	require.NoError(t, err)
	return id
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
