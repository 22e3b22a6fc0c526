package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-planner/internal/user/repo"
)

// UserActivityCount is the number of activities one user owns.
type UserActivityCount struct {
	UserID   int64  `db:"user_id" json:"userId"`
	Username string `db:"username" json:"username"`
	Count    int    `db:"count" json:"count"`
}

// RecentActivity is an activity joined with its owner's username.
type RecentActivity struct {
	ID        int64           `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	Date      string          `db:"start_date" json:"date"`
	Status    entity.Status   `db:"status" json:"status"`
	Priority  entity.Priority `db:"priority" json:"priority"`
	UserID    int64           `db:"user_id" json:"userId"`
	Username  string          `db:"username" json:"username"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// StatsRepo aggregates across every user. It reads the base tables, so it
// is only reachable from admin operations.
type StatsRepo struct{}

func NewStatsRepo() *StatsRepo { return &StatsRepo{} }

// ActivityCounts returns the total and a per-status breakdown with every
// status present.
func (r *StatsRepo) ActivityCounts(ctx context.Context, q sqlx.ExtContext) (int, map[entity.Status]int, error) {
	var rows []struct {
		Status entity.Status `db:"status"`
		Count  int           `db:"count"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT status, COUNT(*) AS count FROM activities GROUP BY status`); err != nil {
		return 0, nil, err
	}
	byStatus := make(map[entity.Status]int)
	for _, st := range entity.Statuses() {
		byStatus[st] = 0
	}
	total := 0
	for _, row := range rows {
		byStatus[row.Status] = row.Count
		total += row.Count
	}
	return total, byStatus, nil
}

// PerUser counts activities per account, including accounts with none.
func (r *StatsRepo) PerUser(ctx context.Context, q sqlx.ExtContext) ([]UserActivityCount, error) {
	out := []UserActivityCount{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT u.id AS user_id, u.username, COUNT(a.id) AS count
		FROM users u LEFT JOIN activities a ON a.user_id = u.id
		GROUP BY u.id, u.username
		ORDER BY count DESC, u.id`)
	return out, err
}

// RecentActivities returns the newest limit activities of any user.
func (r *StatsRepo) RecentActivities(ctx context.Context, q sqlx.ExtContext, limit int) ([]RecentActivity, error) {
	out := []RecentActivity{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT a.id, a.title,
			to_char(a.start_date, 'YYYY-MM-DD') AS start_date,
			a.status, a.priority, a.user_id, u.username, a.created_at
		FROM activities a JOIN users u ON u.id = a.user_id
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $1`, limit)
	return out, err
}

// ActivitiesByMonth groups activity creation by month, oldest first.
func (r *StatsRepo) ActivitiesByMonth(ctx context.Context, q sqlx.ExtContext) ([]userrepo.MonthCount, error) {
	out := []userrepo.MonthCount{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT to_char(created_at, 'YYYY-MM') AS month, COUNT(*) AS count
		FROM activities GROUP BY 1 ORDER BY 1`)
	return out, err
}
