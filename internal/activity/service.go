package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
)

// Store is the persistence the service needs. Every call receives the
// transaction bound to the acting user.
type Store interface {
	List(ctx context.Context, q sqlx.ExtContext, owner int64, f entity.Filter) ([]entity.Activity, error)
	Get(ctx context.Context, q sqlx.ExtContext, owner, id int64) (*entity.Activity, error)
	Create(ctx context.Context, q sqlx.ExtContext, a *entity.Activity) (int64, error)
	Update(ctx context.Context, q sqlx.ExtContext, a *entity.Activity) error
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, owner, id int64, st entity.Status) error
	Delete(ctx context.Context, q sqlx.ExtContext, owner, id int64) error
	ByDate(ctx context.Context, q sqlx.ExtContext, owner int64, day string) ([]entity.Activity, error)
	Categories(ctx context.Context, q sqlx.ExtContext, owner int64) ([]string, error)
	Stats(ctx context.Context, q sqlx.ExtContext, owner int64, week, month entity.Range) (*entity.Stats, error)
}

// Service implements the activity operations for the acting user. The owner
// of every row it touches is the user in the tenant context; it never
// accepts an owner from the caller.
type Service struct {
	scope  tenant.Runner
	repo   Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(scope tenant.Runner, repo Store, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{scope: scope, repo: repo, logger: logger, now: time.Now}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("activity")
	}
	return err
}

func (s *Service) List(ctx context.Context, tc tenant.Context, f entity.Filter) ([]entity.Activity, error) {
	var out []entity.Activity
	err := s.scope.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		out, err = s.repo.List(ctx, q, tc.UserID, f)
		return err
	})
	return out, err
}

// Get returns not-found both for missing ids and for other users' rows.
func (s *Service) Get(ctx context.Context, tc tenant.Context, id int64) (*entity.Activity, error) {
	var out *entity.Activity
	err := s.scope.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		out, err = s.repo.Get(ctx, q, tc.UserID, id)
		return notFound(err)
	})
	return out, err
}

// Create stores a new activity owned by the acting user.
func (s *Service) Create(ctx context.Context, tc tenant.Context, d entity.Draft) (*entity.Activity, error) {
	a := d.Activity(tc.UserID)
	if err := a.Normalize(); err != nil {
		return nil, err
	}
	var out *entity.Activity
	err := s.scope.Run(ctx, tc, func(q sqlx.ExtContext) error {
		id, err := s.repo.Create(ctx, q, &a)
		if err != nil {
			return err
		}
		out, err = s.repo.Get(ctx, q, tc.UserID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("activity created", "user_id", tc.UserID, "activity_id", out.ID)
	return out, nil
}

// Update merges p into the stored activity and re-validates the result.
func (s *Service) Update(ctx context.Context, tc tenant.Context, id int64, p entity.Patch) (*entity.Activity, error) {
	var out *entity.Activity
	err := s.scope.Run(ctx, tc, func(q sqlx.ExtContext) error {
		current, err := s.repo.Get(ctx, q, tc.UserID, id)
		if err != nil {
			return notFound(err)
		}
		if err := p.ApplyTo(current); err != nil {
			return err
		}
		if err := current.Normalize(); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, q, current); err != nil {
			return notFound(err)
		}
		out, err = s.repo.Get(ctx, q, tc.UserID, id)
		return err
	})
	return out, err
}

func (s *Service) UpdateStatus(ctx context.Context, tc tenant.Context, id int64, raw string) (*entity.Activity, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Validation("status is required")
	}
	st, err := entity.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	var out *entity.Activity
	err = s.scope.Run(ctx, tc, func(q sqlx.ExtContext) error {
		if err := s.repo.UpdateStatus(ctx, q, tc.UserID, id, st); err != nil {
			return notFound(err)
		}
		var err error
		out, err = s.repo.Get(ctx, q, tc.UserID, id)
		return err
	})
	return out, err
}

func (s *Service) Delete(ctx context.Context, tc tenant.Context, id int64) error {
	return s.scope.Run(ctx, tc, func(q sqlx.ExtContext) error {
		return notFound(s.repo.Delete(ctx, q, tc.UserID, id))
	})
}

// ByDate returns activities on day, including multi-day ones spanning it.
func (s *Service) ByDate(ctx context.Context, tc tenant.Context, day string) ([]entity.Activity, error) {
	d, err := entity.ParseDate("date", day)
	if err != nil {
		return nil, err
	}
	var out []entity.Activity
	err = s.scope.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		out, err = s.repo.ByDate(ctx, q, tc.UserID, d.Format(entity.DateLayout))
		return err
	})
	return out, err
}

func (s *Service) ByStatus(ctx context.Context, tc tenant.Context, raw string) ([]entity.Activity, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Validation("status is required")
	}
	st, err := entity.ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, tc, entity.Filter{Status: st})
}

func (s *Service) Categories(ctx context.Context, tc tenant.Context) ([]string, error) {
	var out []string
	err := s.scope.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		out, err = s.repo.Categories(ctx, q, tc.UserID)
		return err
	})
	return out, err
}

// Stats counts the acting user's activities by status, priority and
// category, plus those starting this week and this month.
func (s *Service) Stats(ctx context.Context, tc tenant.Context) (*entity.Stats, error) {
	now := s.now()
	var out *entity.Stats
	err := s.scope.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		out, err = s.repo.Stats(ctx, q, tc.UserID, entity.WeekOf(now), entity.MonthOf(now))
		if err != nil {
			return fmt.Errorf("activity stats: %w", err)
		}
		return nil
	})
	return out, err
}
