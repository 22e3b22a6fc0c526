package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-planner/internal/user/entity"
)

const userColumns = `id, username, email, password_hash, password_algo, password_updated_at,
	is_active, is_admin, login_failed_attempts, locked_until, last_login_at,
	version, created_at, updated_at`

// UserRepo provides data access for the users table. Reads and inserts are
// not guarded; updates must run inside a tenant scope.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  username VARCHAR(20) NOT NULL,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  password_algo TEXT,
  password_updated_at TIMESTAMPTZ,
  is_active BOOLEAN NOT NULL DEFAULT true,
  is_admin BOOLEAN NOT NULL DEFAULT false,
  login_failed_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  last_login_at TIMESTAMPTZ,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT users_username_key UNIQUE (username),
  CONSTRAINT users_email_key UNIQUE (email)
);
CREATE INDEX IF NOT EXISTS idx_users_is_admin ON users(is_admin);
CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, q sqlx.ExtContext, u *entity.User) (int64, error) {
	const stmt = `INSERT INTO users (username, email, password_hash, password_algo, password_updated_at, is_active, is_admin)
		VALUES (:username, :email, :password_hash, :password_algo, NOW(), :is_active, :is_admin) RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, q, stmt, u)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&u.ID); err != nil {
			return 0, err
		}
		return u.ID, rows.Err()
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("no id returned")
}

func (r *UserRepo) getBy(ctx context.Context, q sqlx.QueryerContext, column string, v any) (*entity.User, error) {
	var u entity.User
	if err := sqlx.GetContext(ctx, q, &u, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, v); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns sql.ErrNoRows when the user does not exist.
func (r *UserRepo) GetByID(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.User, error) {
	return r.getBy(ctx, q, "id", id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, q sqlx.ExtContext, username string) (*entity.User, error) {
	return r.getBy(ctx, q, "username", username)
}

// GetByEmail matches case-insensitively; emails are stored lower-cased.
func (r *UserRepo) GetByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*entity.User, error) {
	return r.getBy(ctx, q, "email", strings.ToLower(email))
}

// GetMinimalAuthView returns only the fields needed for token claim hydration.
func (r *UserRepo) GetMinimalAuthView(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.MinimalAuthView, error) {
	const stmt = `SELECT id, username, is_active, is_admin, version FROM users WHERE id = $1`
	var v entity.MinimalAuthView
	if err := sqlx.GetContext(ctx, q, &v, stmt, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, q sqlx.ExtContext, id int64) (int, error) {
	const stmt = `UPDATE users SET login_failed_attempts = login_failed_attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING login_failed_attempts`
	var v int
	if err := sqlx.GetContext(ctx, q, &v, stmt, id); err != nil {
		return 0, err
	}
	return v, nil
}

// LockIfThreshold locks the user for lockMinutes once attempts reach
// threshold and starts a fresh count for the next window.
func (r *UserRepo) LockIfThreshold(ctx context.Context, q sqlx.ExtContext, id int64, threshold, lockMinutes int) (bool, error) {
	const stmt = `UPDATE users SET locked_until = NOW() + make_interval(mins => $2), login_failed_attempts = 0, updated_at = NOW()
		WHERE id = $1 AND login_failed_attempts >= $3
		  AND (locked_until IS NULL OR locked_until < NOW())
		RETURNING 1`
	var one int
	err := sqlx.GetContext(ctx, q, &one, stmt, id, lockMinutes, threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, q sqlx.ExtContext, id int64) error {
	const stmt = `UPDATE users SET login_failed_attempts = 0, last_login_at = NOW(), locked_until = NULL, updated_at = NOW()
		WHERE id = $1`
	_, err := q.ExecContext(ctx, stmt, id)
	return err
}

// UpdatePassword stores a new hash and bumps version so older tokens stop working.
func (r *UserRepo) UpdatePassword(ctx context.Context, q sqlx.ExtContext, id int64, hash, algo string) error {
	const stmt = `UPDATE users SET password_hash = $2, password_algo = $3, password_updated_at = NOW(),
		version = version + 1, updated_at = NOW() WHERE id = $1`
	res, err := q.ExecContext(ctx, stmt, id, hash, algo)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// RehashPassword replaces the hash without touching version.
func (r *UserRepo) RehashPassword(ctx context.Context, q sqlx.ExtContext, id int64, hash, algo string) error {
	_, err := q.ExecContext(ctx, `UPDATE users SET password_hash = $2, password_algo = $3, updated_at = NOW() WHERE id = $1`, id, hash, algo)
	return err
}

// Update applies the non-nil fields of c. Deactivation bumps version.
func (r *UserRepo) Update(ctx context.Context, q sqlx.ExtContext, id int64, c entity.Changes) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if c.Username != nil {
		add("username = $%d", *c.Username)
	}
	if c.Email != nil {
		add("email = $%d", strings.ToLower(*c.Email))
	}
	if c.IsActive != nil {
		add("is_active = $%d", *c.IsActive)
		if !*c.IsActive {
			sets = append(sets, "version = version + 1")
		}
	}
	res, err := q.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// Delete removes the user row; remaining activities cascade.
func (r *UserRepo) Delete(ctx context.Context, q sqlx.ExtContext, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// List returns one page of users ordered by newest first, plus the total
// number of matches.
func (r *UserRepo) List(ctx context.Context, q sqlx.ExtContext, lq entity.ListQuery) ([]entity.User, int, error) {
	where := ""
	args := []any{}
	if s := strings.TrimSpace(lq.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		where = ` WHERE username ILIKE $1 OR email ILIKE $1`
	}
	var total int
	if err := sqlx.GetContext(ctx, q, &total, `SELECT COUNT(*) FROM users`+where, args...); err != nil {
		return nil, 0, err
	}
	args = append(args, lq.Limit, lq.Offset)
	stmt := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))
	users := []entity.User{}
	if err := sqlx.SelectContext(ctx, q, &users, stmt, args...); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Recent returns the newest limit users.
func (r *UserRepo) Recent(ctx context.Context, q sqlx.ExtContext, limit int) ([]entity.User, error) {
	users := []entity.User{}
	err := sqlx.SelectContext(ctx, q, &users,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	return users, err
}

// Counts returns total, active and admin account counts.
func (r *UserRepo) Counts(ctx context.Context, q sqlx.ExtContext) (total, active, admins int, err error) {
	var row struct {
		Total  int `db:"total"`
		Active int `db:"active"`
		Admins int `db:"admins"`
	}
	err = sqlx.GetContext(ctx, q, &row, `SELECT COUNT(*) AS total,
		COUNT(*) FILTER (WHERE is_active) AS active,
		COUNT(*) FILTER (WHERE is_admin) AS admins
		FROM users`)
	return row.Total, row.Active, row.Admins, err
}

// MonthCount is the number of rows created in one calendar month (YYYY-MM).
type MonthCount struct {
	Month string `db:"month" json:"month"`
	Count int    `db:"count" json:"count"`
}

// CreatedByMonth groups registrations by month, oldest first.
func (r *UserRepo) CreatedByMonth(ctx context.Context, q sqlx.ExtContext) ([]MonthCount, error) {
	out := []MonthCount{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT to_char(created_at, 'YYYY-MM') AS month, COUNT(*) AS count
		FROM users GROUP BY 1 ORDER BY 1`)
	return out, err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
