package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/observability"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/database"
)

// ErrNoContext is returned when work is attempted without an acting user.
var ErrNoContext = fmt.Errorf("%w: no acting user bound", apperr.ErrIsolationViolation)

const bindSQL = `SELECT set_config('app.current_user_id', $1, true),
	set_config('app.session_tag', $2, true),
	set_config('app.admin_override', 'off', true)`

// Runner executes fn inside a transaction bound to tc.
type Runner interface {
	Run(ctx context.Context, tc Context, fn func(q sqlx.ExtContext) error) error
	RunReadOnly(ctx context.Context, tc Context, fn func(q sqlx.ExtContext) error) error
}

// Scope runs work in transactions whose acting user travels with the
// transaction itself, so concurrent requests never observe each other.
type Scope struct {
	db        *sqlx.DB
	logger    *zap.SugaredLogger
	suspend   func(ctx context.Context, q sqlx.ExecerContext) error
	reinstate func(ctx context.Context, q sqlx.ExecerContext) error
}

func NewScope(db *sqlx.DB, logger *zap.SugaredLogger) *Scope {
	return &Scope{db: db, logger: logger, suspend: suspendGuard, reinstate: reinstateGuard}
}

// Run executes fn in a read-write transaction bound to tc. Any error rolls
// the transaction back; guard rejections surface as ErrIsolationViolation.
func (s *Scope) Run(ctx context.Context, tc Context, fn func(q sqlx.ExtContext) error) error {
	return s.run(ctx, tc, nil, fn)
}

// RunReadOnly is Run with a read-only transaction.
func (s *Scope) RunReadOnly(ctx context.Context, tc Context, fn func(q sqlx.ExtContext) error) error {
	return s.run(ctx, tc, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Scope) run(ctx context.Context, tc Context, opts *sql.TxOptions, fn func(q sqlx.ExtContext) error) (err error) {
	if !tc.Valid() {
		return ErrNoContext
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, bindSQL, strconv.FormatInt(tc.UserID, 10), tc.SessionTag); err != nil {
		observability.RecordContextWrite("bind", err)
		return fmt.Errorf("%w: %w", apperr.ErrContextWrite, err)
	}
	if err = fn(tx); err != nil {
		return s.classify(tc, err)
	}
	if err = tx.Commit(); err != nil {
		return s.classify(tc, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Scope) classify(tc Context, err error) error {
	out := Classify(err)
	if errors.Is(out, apperr.ErrIsolationViolation) && !errors.Is(err, apperr.ErrIsolationViolation) {
		op := violationOp(err)
		observability.RecordIsolationViolation(op)
		s.logger.Warnw("row guard rejected write",
			"user_id", tc.UserID,
			"session", tc.SessionTag,
			"op", op,
			"err", err,
		)
	}
	return out
}

// Classify maps a guard rejection raised by the database onto
// apperr.ErrIsolationViolation and leaves every other error untouched.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	pe, ok := database.AsPgError(err)
	if !ok || pe.Code != ViolationCode {
		return err
	}
	return fmt.Errorf("%w (%s): %w", apperr.ErrIsolationViolation, pe.Detail, err)
}

// violationOp pulls "op=<name>" out of the guard's DETAIL.
func violationOp(err error) string {
	pe, ok := database.AsPgError(err)
	if !ok {
		return ""
	}
	for _, field := range strings.Fields(pe.Detail) {
		if v, found := strings.CutPrefix(field, "op="); found {
			return v
		}
	}
	return ""
}

// Status summarises the installed guard machinery.
type Status struct {
	Policies       int      `json:"policiesCount"`
	Triggers       int      `json:"triggersCount"`
	Views          int      `json:"viewsCount"`
	PolicyList     []Policy `json:"policies"`
	CurrentContext *Record  `json:"currentContext"`
}

// Status reports active policies, enabled guard triggers, protected views and
// the recorded context.
func (s *Scope) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := s.db.SelectContext(ctx, &st.PolicyList,
		`SELECT table_name, policy_name, operation, predicate, is_active FROM rls_policies WHERE is_active ORDER BY table_name, policy_name`); err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	st.Policies = len(st.PolicyList)

	names, err := s.enabledTriggers(ctx)
	if err != nil {
		return nil, err
	}
	st.Triggers = len(names)

	if err := s.db.GetContext(ctx, &st.Views,
		`SELECT COUNT(*) FROM pg_views WHERE schemaname = current_schema() AND viewname IN ($1, $2)`,
		protectedViews[0], protectedViews[1]); err != nil {
		return nil, fmt.Errorf("count views: %w", err)
	}

	rec, err := NewManager(s.db, s.logger).record(ctx)
	if err != nil {
		return nil, err
	}
	st.CurrentContext = rec
	return &st, nil
}

func (s *Scope) enabledTriggers(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		`SELECT t.tgname FROM pg_trigger t
		 JOIN pg_class c ON c.oid = t.tgrelid
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE NOT t.tgisinternal AND t.tgenabled <> 'D'
		   AND n.nspname = current_schema()
		   AND t.tgname LIKE 'rls\_%'
		 ORDER BY t.tgname`)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return names, nil
}

// Verify fails when any guard trigger is missing or disabled.
func (s *Scope) Verify(ctx context.Context) error {
	names, err := s.enabledTriggers(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	var missing []string
	for _, want := range guardTriggers {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("guard triggers missing or disabled: %s", strings.Join(missing, ", "))
	}
	return nil
}
