package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
)

const (
	// ProtectedRelation only exposes rows of the user bound to the transaction.
	ProtectedRelation = "protected_activities"
	// BaseRelation is the raw table, for admin reads on another user's rows.
	BaseRelation = "activities"
)

const activityColumns = `id, title, description,
	to_char(start_date, 'YYYY-MM-DD') AS start_date,
	to_char(start_time, 'HH24:MI') AS start_time,
	to_char(end_date, 'YYYY-MM-DD') AS end_date,
	to_char(end_time, 'HH24:MI') AS end_time,
	is_multi_day, is_multi_hour, status, priority, category, user_id, created_at, updated_at`

const activityOrder = ` ORDER BY start_date DESC, start_time DESC NULLS LAST, id DESC`

// ActivityRepo reads through one relation and always writes the base table.
// Every statement filters on the owner explicitly.
type ActivityRepo struct {
	db       *sqlx.DB
	relation string
}

// NewActivityRepo reads through the protected view.
func NewActivityRepo(db *sqlx.DB) *ActivityRepo {
	return &ActivityRepo{db: db, relation: ProtectedRelation}
}

// NewBaseActivityRepo reads the base table; callers must be admins.
func NewBaseActivityRepo(db *sqlx.DB) *ActivityRepo {
	return &ActivityRepo{db: db, relation: BaseRelation}
}

// EnsureTable creates the activities table if not exists (idempotent).
// The users table must already exist.
func (r *ActivityRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS activities (
  id BIGSERIAL PRIMARY KEY,
  title VARCHAR(200) NOT NULL,
  description TEXT,
  start_date DATE NOT NULL,
  start_time TIME,
  end_date DATE,
  end_time TIME,
  is_multi_day BOOLEAN NOT NULL DEFAULT false,
  is_multi_hour BOOLEAN NOT NULL DEFAULT false,
  status VARCHAR(20) NOT NULL DEFAULT 'todo'
    CHECK (status IN ('todo', 'in-progress', 'done', 'postponed')),
  priority VARCHAR(20) NOT NULL DEFAULT 'medium'
    CHECK (priority IN ('low', 'medium', 'high')),
  category VARCHAR(100),
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT activities_end_after_start CHECK (end_date IS NULL OR end_date >= start_date)
);
CREATE INDEX IF NOT EXISTS idx_activities_user_date ON activities(user_id, start_date);
CREATE INDEX IF NOT EXISTS idx_activities_user_status ON activities(user_id, status);
CREATE INDEX IF NOT EXISTS idx_activities_user_end_date ON activities(user_id, end_date) WHERE end_date IS NOT NULL;
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// List returns owner's activities matching f, newest date first.
func (r *ActivityRepo) List(ctx context.Context, q sqlx.ExtContext, owner int64, f entity.Filter) ([]entity.Activity, error) {
	conds := []string{"user_id = $1"}
	args := []any{owner}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.DateFrom != "" {
		add("start_date >= $%d::date", f.DateFrom)
	}
	if f.DateTo != "" {
		add("start_date <= $%d::date", f.DateTo)
	}
	stmt := `SELECT ` + activityColumns + ` FROM ` + r.relation + ` WHERE ` + strings.Join(conds, " AND ") + activityOrder
	out := []entity.Activity{}
	if err := sqlx.SelectContext(ctx, q, &out, stmt, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns sql.ErrNoRows when id does not exist or belongs to someone else.
func (r *ActivityRepo) Get(ctx context.Context, q sqlx.ExtContext, owner, id int64) (*entity.Activity, error) {
	var a entity.Activity
	stmt := `SELECT ` + activityColumns + ` FROM ` + r.relation + ` WHERE id = $1 AND user_id = $2`
	if err := sqlx.GetContext(ctx, q, &a, stmt, id, owner); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a and returns its id. a.UserID must be the acting user or
// the row guard rejects the insert.
func (r *ActivityRepo) Create(ctx context.Context, q sqlx.ExtContext, a *entity.Activity) (int64, error) {
	const stmt = `INSERT INTO activities
		(title, description, start_date, start_time, end_date, end_time,
		 is_multi_day, is_multi_hour, status, priority, category, user_id)
		VALUES ($1, $2, $3::date, $4::time, $5::date, $6::time, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	var id int64
	err := sqlx.GetContext(ctx, q, &id, stmt,
		a.Title, a.Description, a.Date, a.Time, a.EndDate, a.EndTime,
		a.IsMultiDay, a.IsMultiHour, string(a.Status), string(a.Priority), a.Category, a.UserID)
	return id, err
}

// Update overwrites every mutable column of the row (a.ID, a.UserID).
func (r *ActivityRepo) Update(ctx context.Context, q sqlx.ExtContext, a *entity.Activity) error {
	const stmt = `UPDATE activities SET
		title = $3, description = $4, start_date = $5::date, start_time = $6::time,
		end_date = $7::date, end_time = $8::time, is_multi_day = $9, is_multi_hour = $10,
		status = $11, priority = $12, category = $13, updated_at = NOW()
		WHERE id = $1 AND user_id = $2`
	res, err := q.ExecContext(ctx, stmt, a.ID, a.UserID,
		a.Title, a.Description, a.Date, a.Time, a.EndDate, a.EndTime,
		a.IsMultiDay, a.IsMultiHour, string(a.Status), string(a.Priority), a.Category)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// UpdateStatus changes only the status column.
func (r *ActivityRepo) UpdateStatus(ctx context.Context, q sqlx.ExtContext, owner, id int64, st entity.Status) error {
	res, err := q.ExecContext(ctx, `UPDATE activities SET status = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		id, owner, string(st))
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *ActivityRepo) Delete(ctx context.Context, q sqlx.ExtContext, owner, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM activities WHERE id = $1 AND user_id = $2`, id, owner)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteByOwner removes every activity of owner. Only succeeds for the
// owner or inside an admin bypass window.
func (r *ActivityRepo) DeleteByOwner(ctx context.Context, q sqlx.ExtContext, owner int64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM activities WHERE user_id = $1`, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ByDate returns activities starting on day or spanning it, latest time first.
func (r *ActivityRepo) ByDate(ctx context.Context, q sqlx.ExtContext, owner int64, day string) ([]entity.Activity, error) {
	stmt := `SELECT ` + activityColumns + ` FROM ` + r.relation + `
		WHERE user_id = $1
		  AND (start_date = $2::date
		       OR (end_date IS NOT NULL AND start_date <= $2::date AND end_date >= $2::date))
		ORDER BY start_time DESC NULLS LAST, id DESC`
	out := []entity.Activity{}
	if err := sqlx.SelectContext(ctx, q, &out, stmt, owner, day); err != nil {
		return nil, err
	}
	return out, nil
}

// Categories returns owner's distinct non-empty categories, sorted.
func (r *ActivityRepo) Categories(ctx context.Context, q sqlx.ExtContext, owner int64) ([]string, error) {
	out := []string{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT DISTINCT category FROM `+r.relation+`
		WHERE user_id = $1 AND category IS NOT NULL AND category <> '' ORDER BY category`, owner)
	return out, err
}

type keyCount struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

// Stats aggregates owner's activities; week and month bound thisWeek and
// thisMonth by start date.
func (r *ActivityRepo) Stats(ctx context.Context, q sqlx.ExtContext, owner int64, week, month entity.Range) (*entity.Stats, error) {
	s := entity.NewStats()
	var totals struct {
		Total     int `db:"total"`
		ThisWeek  int `db:"this_week"`
		ThisMonth int `db:"this_month"`
	}
	err := sqlx.GetContext(ctx, q, &totals, `SELECT COUNT(*) AS total,
		COUNT(*) FILTER (WHERE start_date BETWEEN $2::date AND $3::date) AS this_week,
		COUNT(*) FILTER (WHERE start_date BETWEEN $4::date AND $5::date) AS this_month
		FROM `+r.relation+` WHERE user_id = $1`, owner, week.From, week.To, month.From, month.To)
	if err != nil {
		return nil, err
	}
	s.Total, s.ThisWeek, s.ThisMonth = totals.Total, totals.ThisWeek, totals.ThisMonth

	groups := []struct {
		column string
		put    func(k string, n int)
	}{
		{"status", func(k string, n int) { s.ByStatus[entity.Status(k)] = n }},
		{"priority", func(k string, n int) { s.ByPriority[entity.Priority(k)] = n }},
		{"category", func(k string, n int) { s.ByCategory[k] = n }},
	}
	for _, g := range groups {
		var rows []keyCount
		stmt := fmt.Sprintf(`SELECT %[1]s AS key, COUNT(*) AS count FROM %[2]s
			WHERE user_id = $1 AND %[1]s IS NOT NULL AND %[1]s <> '' GROUP BY %[1]s`, g.column, r.relation)
		if err := sqlx.SelectContext(ctx, q, &rows, stmt, owner); err != nil {
			return nil, err
		}
		for _, kc := range rows {
			g.put(kc.Key, kc.Count)
		}
	}
	return s, nil
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
