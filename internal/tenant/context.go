// Package tenant binds an acting user to database work and installs the
// row guards that keep one user's activities out of another user's reach.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/observability"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

// Context identifies the acting user for one unit of work.
type Context struct {
	UserID     int64  `json:"userId"`
	SessionTag string `json:"sessionTag"`
	IsAdmin    bool   `json:"isAdmin"`
}

// Valid reports whether c names a real user.
func (c Context) Valid() bool { return c.UserID > 0 }

type ctxKey struct{}

// WithContext stores tc on ctx for the lifetime of a request.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext returns the tenant context stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok && tc.Valid()
}

// Config controls the persisted context record.
type Config struct {
	Record        bool
	MaxAge        time.Duration
	SweepInterval time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		Record:        utilities.GetBoolEnv("RLS_RECORD_CONTEXT", true),
		MaxAge:        utilities.GetDurationEnv("RLS_CONTEXT_MAX_AGE", 5*time.Minute),
		SweepInterval: utilities.GetDurationEnv("RLS_SWEEP_INTERVAL", time.Minute),
	}
}

// Manager reads and writes the singleton rls_context row. The row records the
// most recent acting user for introspection; guards never read it.
type Manager struct {
	db     *sqlx.DB
	logger *zap.SugaredLogger
}

func NewManager(db *sqlx.DB, logger *zap.SugaredLogger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Set records userID as the acting user. An empty tag is replaced with a
// generated one.
func (m *Manager) Set(ctx context.Context, userID int64, sessionTag string) (Context, error) {
	if userID <= 0 {
		return Context{}, apperr.Validation("user id must be positive")
	}
	if sessionTag == "" {
		sessionTag = utilities.NewSessionTag(userID)
	}
	const q = `INSERT INTO rls_context (id, current_user_id, session_tag, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET current_user_id = EXCLUDED.current_user_id,
		    session_tag = EXCLUDED.session_tag,
		    updated_at = EXCLUDED.updated_at`
	_, err := m.db.ExecContext(ctx, q, userID, sessionTag)
	observability.RecordContextWrite("set", err)
	if err != nil {
		m.logger.Errorw("set tenant context", "user_id", userID, "err", err)
		return Context{}, fmt.Errorf("%w: %w", apperr.ErrContextWrite, err)
	}
	return Context{UserID: userID, SessionTag: sessionTag}, nil
}

// Get returns the recorded context, or nil when none is set.
func (m *Manager) Get(ctx context.Context) (*Context, error) {
	rec, err := m.record(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.Context, nil
}

// Record is the persisted context with its write time.
type Record struct {
	Context
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Manager) record(ctx context.Context) (*Record, error) {
	var row struct {
		UserID     sql.NullInt64  `db:"current_user_id"`
		SessionTag sql.NullString `db:"session_tag"`
		UpdatedAt  time.Time      `db:"updated_at"`
	}
	err := m.db.GetContext(ctx, &row, `SELECT current_user_id, session_tag, updated_at FROM rls_context WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant context: %w", err)
	}
	if !row.UserID.Valid {
		return nil, nil
	}
	return &Record{
		Context:   Context{UserID: row.UserID.Int64, SessionTag: row.SessionTag.String},
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// Clear removes the recorded context unconditionally.
func (m *Manager) Clear(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `UPDATE rls_context SET current_user_id = NULL, session_tag = NULL, updated_at = NOW() WHERE id = 1`)
	observability.RecordContextWrite("clear", err)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrContextWrite, err)
	}
	return nil
}

// Release clears the record only if it still carries sessionTag.
func (m *Manager) Release(ctx context.Context, sessionTag string) error {
	const q = `UPDATE rls_context SET current_user_id = NULL, session_tag = NULL, updated_at = NOW()
		WHERE id = 1 AND session_tag = $1`
	_, err := m.db.ExecContext(ctx, q, sessionTag)
	observability.RecordContextWrite("release", err)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrContextWrite, err)
	}
	return nil
}

// SweepStale clears a record older than maxAge and reports whether it did.
func (m *Manager) SweepStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	const q = `UPDATE rls_context SET current_user_id = NULL, session_tag = NULL, updated_at = NOW()
		WHERE id = 1 AND current_user_id IS NOT NULL
		  AND updated_at < NOW() - make_interval(secs => $1::double precision)`
	res, err := m.db.ExecContext(ctx, q, maxAge.Seconds())
	observability.RecordContextWrite("sweep", err)
	if err != nil {
		return false, fmt.Errorf("%w: %w", apperr.ErrContextWrite, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.logger.Infow("cleared stale tenant context", "max_age", maxAge.String())
	}
	return n > 0, nil
}
