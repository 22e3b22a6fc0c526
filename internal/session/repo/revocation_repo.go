package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type RevocationRepo struct {
	db *sqlx.DB
}

func NewRevocationRepo(db *sqlx.DB) *RevocationRepo {
	return &RevocationRepo{db: db}
}

func (r *RevocationRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_revocations (
  token_id TEXT PRIMARY KEY,
  user_id BIGINT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_session_revocations_expires_at ON session_revocations(expires_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Save records tokenID as revoked. Revoking twice is not an error.
func (r *RevocationRepo) Save(ctx context.Context, tokenID string, userID int64, expiresAt time.Time) error {
	const q = `INSERT INTO session_revocations (token_id, user_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q, tokenID, userID, expiresAt)
	return err
}

func (r *RevocationRepo) Exists(ctx context.Context, tokenID string) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT EXISTS (SELECT 1 FROM session_revocations WHERE token_id = $1)`, tokenID)
	return ok, err
}

// DeleteExpired drops revocations whose tokens have expired anyway.
func (r *RevocationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_revocations WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
