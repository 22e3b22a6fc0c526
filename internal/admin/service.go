package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	activityentity "github.com/ovaphlow/pitchfork/service-planner/internal/activity/entity"
	adminrepo "github.com/ovaphlow/pitchfork/service-planner/internal/admin/repo"
	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-planner/internal/user/repo"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	recentUsers      = 5
	recentActivities = 10
)

// UserStore is the account persistence admin operations need.
type UserStore interface {
	GetByID(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.User, error)
	List(ctx context.Context, q sqlx.ExtContext, lq entity.ListQuery) ([]entity.User, int, error)
	Update(ctx context.Context, q sqlx.ExtContext, id int64, c entity.Changes) error
	UpdatePassword(ctx context.Context, q sqlx.ExtContext, id int64, hash, algo string) error
	Delete(ctx context.Context, q sqlx.ExtContext, id int64) error
	Recent(ctx context.Context, q sqlx.ExtContext, limit int) ([]entity.User, error)
	Counts(ctx context.Context, q sqlx.ExtContext) (total, active, admins int, err error)
	CreatedByMonth(ctx context.Context, q sqlx.ExtContext) ([]userrepo.MonthCount, error)
}

// ActivityStore reads any user's activities and removes them in bulk.
type ActivityStore interface {
	List(ctx context.Context, q sqlx.ExtContext, owner int64, f activityentity.Filter) ([]activityentity.Activity, error)
	DeleteByOwner(ctx context.Context, q sqlx.ExtContext, owner int64) (int64, error)
}

type StatsStore interface {
	ActivityCounts(ctx context.Context, q sqlx.ExtContext) (int, map[activityentity.Status]int, error)
	PerUser(ctx context.Context, q sqlx.ExtContext) ([]adminrepo.UserActivityCount, error)
	RecentActivities(ctx context.Context, q sqlx.ExtContext, limit int) ([]adminrepo.RecentActivity, error)
	ActivitiesByMonth(ctx context.Context, q sqlx.ExtContext) ([]userrepo.MonthCount, error)
}

// AccountCreator registers accounts with validation and password hashing.
type AccountCreator interface {
	CreateAccount(ctx context.Context, in user.SignupInput, isAdmin bool) (*entity.User, error)
}

// Window is an open bypass of the delete guard.
type Window interface {
	Do(ctx context.Context, fn func() error) error
}

type privilegedFunc func(ctx context.Context, tc tenant.Context, fn func(q sqlx.ExtContext, w Window) error) error

// Deps groups the collaborators of Service.
type Deps struct {
	Scope      *tenant.Scope
	Users      UserStore
	Activities ActivityStore
	Stats      StatsStore
	Accounts   AccountCreator
	Hasher     user.PasswordHasher
	Logger     *zap.SugaredLogger
}

// Service implements user administration. Every operation requires an
// acting admin and runs in a transaction bound to that admin.
type Service struct {
	runner     tenant.Runner
	privileged privilegedFunc
	users      UserStore
	activities ActivityStore
	stats      StatsStore
	accounts   AccountCreator
	hasher     user.PasswordHasher
	logger     *zap.SugaredLogger
}

func NewService(d Deps) *Service {
	s := newService(d.Scope, d.Users, d.Activities, d.Stats, d.Accounts, d.Hasher, d.Logger)
	s.privileged = func(ctx context.Context, tc tenant.Context, fn func(q sqlx.ExtContext, w Window) error) error {
		return d.Scope.RunPrivileged(ctx, tc, func(q sqlx.ExtContext, b *tenant.Bypass) error {
			return fn(q, b)
		})
	}
	return s
}

func newService(runner tenant.Runner, users UserStore, activities ActivityStore, stats StatsStore,
	accounts AccountCreator, hasher user.PasswordHasher, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = user.BcryptHasher{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		runner:     runner,
		users:      users,
		activities: activities,
		stats:      stats,
		accounts:   accounts,
		hasher:     hasher,
		logger:     logger,
	}
}

var errAdminRequired = apperr.Forbidden("admin privileges required")

func requireAdmin(tc tenant.Context) error {
	if !tc.Valid() {
		return tenant.ErrNoContext
	}
	if !tc.IsAdmin {
		return errAdminRequired
	}
	return nil
}

func userNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("user")
	}
	return err
}

// Page is one page of a user listing.
type Page struct {
	Users       []entity.Profile `json:"users"`
	Total       int              `json:"total"`
	Pages       int              `json:"pages"`
	CurrentPage int              `json:"currentPage"`
	PerPage     int              `json:"perPage"`
}

// ListUsers pages through accounts matching search on username or email.
// page starts at 1; perPage is clamped to MaxPerPage.
func (s *Service) ListUsers(ctx context.Context, tc tenant.Context, page, perPage int, search string) (*Page, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	var users []entity.User
	var total int
	err := s.runner.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		users, total, err = s.users.List(ctx, q, entity.ListQuery{
			Search: strings.TrimSpace(search),
			Limit:  perPage,
			Offset: (page - 1) * perPage,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := &Page{
		Users:       make([]entity.Profile, 0, len(users)),
		Total:       total,
		Pages:       int(math.Ceil(float64(total) / float64(perPage))),
		CurrentPage: page,
		PerPage:     perPage,
	}
	for i := range users {
		out.Users = append(out.Users, users[i].Profile())
	}
	return out, nil
}

func (s *Service) GetUser(ctx context.Context, tc tenant.Context, id int64) (*entity.User, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	var u *entity.User
	err := s.runner.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		u, err = s.users.GetByID(ctx, q, id)
		return userNotFound(err)
	})
	return u, err
}

// NewUser is the admin payload for creating an account.
type NewUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (s *Service) CreateUser(ctx context.Context, tc tenant.Context, in NewUser) (*entity.User, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	u, err := s.accounts.CreateAccount(ctx, user.SignupInput{Username: in.Username, Email: in.Email, Password: in.Password}, in.IsAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("admin created account", "admin_id", tc.UserID, "user_id", u.ID, "admin", in.IsAdmin)
	return u, nil
}

// UserUpdate is a partial account update; nil fields are left untouched.
type UserUpdate struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	IsActive *bool   `json:"isActive"`
}

func (in *UserUpdate) normalize() (entity.Changes, error) {
	var c entity.Changes
	var errs []error
	if in.Username != nil {
		v := strings.TrimSpace(*in.Username)
		errs = append(errs, user.ValidateUsername(v))
		c.Username = &v
	}
	if in.Email != nil {
		v := strings.ToLower(strings.TrimSpace(*in.Email))
		errs = append(errs, user.ValidateEmail(v))
		c.Email = &v
	}
	if in.Password != nil {
		errs = append(errs, user.ValidatePassword(*in.Password))
	}
	c.IsActive = in.IsActive
	return c, errors.Join(errs...)
}

// UpdateUser edits an account. The primary admin account cannot be edited.
func (s *Service) UpdateUser(ctx context.Context, tc tenant.Context, id int64, in UserUpdate) (*entity.User, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	changes, err := in.normalize()
	if err != nil {
		return nil, err
	}
	var hash, algo string
	if in.Password != nil {
		if hash, algo, err = s.hasher.Hash(*in.Password); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}

	var out *entity.User
	err = s.runner.Run(ctx, tc, func(q sqlx.ExtContext) error {
		target, err := s.users.GetByID(ctx, q, id)
		if err != nil {
			return userNotFound(err)
		}
		if target.IsPrimaryAdmin() {
			return apperr.Forbidden("the primary admin account cannot be modified")
		}
		if !changes.Empty() {
			if err := s.users.Update(ctx, q, id, changes); err != nil {
				return user.MapWriteError(userNotFound(err))
			}
		}
		if in.Password != nil {
			if err := s.users.UpdatePassword(ctx, q, id, hash, algo); err != nil {
				return userNotFound(err)
			}
		}
		out, err = s.users.GetByID(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Infow("admin updated account", "admin_id", tc.UserID, "user_id", id)
	return out, nil
}

// DeleteUser removes an account and every activity it owns in one
// transaction. The activities are removed inside a bypass window; the
// account row is removed after the guard is re-armed.
func (s *Service) DeleteUser(ctx context.Context, tc tenant.Context, id int64) error {
	if err := requireAdmin(tc); err != nil {
		return err
	}
	if id == tc.UserID {
		return apperr.Forbidden("you cannot delete your own account")
	}
	var removed int64
	err := s.privileged(ctx, tc, func(q sqlx.ExtContext, w Window) error {
		target, err := s.users.GetByID(ctx, q, id)
		if err != nil {
			return userNotFound(err)
		}
		if target.IsPrimaryAdmin() {
			return apperr.Forbidden("the primary admin account cannot be deleted")
		}
		err = w.Do(ctx, func() error {
			var err error
			removed, err = s.activities.DeleteByOwner(ctx, q, id)
			return err
		})
		if err != nil {
			return err
		}
		return userNotFound(s.users.Delete(ctx, q, id))
	})
	if err != nil {
		return err
	}
	s.logger.Infow("admin deleted account", "admin_id", tc.UserID, "user_id", id, "activities", removed)
	return nil
}

// UserActivities lists another user's activities.
func (s *Service) UserActivities(ctx context.Context, tc tenant.Context, id int64, f activityentity.Filter) ([]activityentity.Activity, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	var out []activityentity.Activity
	err := s.runner.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		if _, err := s.users.GetByID(ctx, q, id); err != nil {
			return userNotFound(err)
		}
		var err error
		out, err = s.activities.List(ctx, q, id, f)
		return err
	})
	return out, err
}

type UserCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Admins int `json:"admins"`
}

type ActivityCounts struct {
	Total    int                           `json:"total"`
	ByStatus map[activityentity.Status]int `json:"byStatus"`
}

// Stats is the system-wide summary.
type Stats struct {
	Users      UserCounts                    `json:"users"`
	Activities ActivityCounts                `json:"activities"`
	PerUser    []adminrepo.UserActivityCount `json:"perUser"`
}

func (s *Service) Stats(ctx context.Context, tc tenant.Context) (*Stats, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	out := &Stats{}
	err := s.runner.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		var err error
		if out.Users.Total, out.Users.Active, out.Users.Admins, err = s.users.Counts(ctx, q); err != nil {
			return fmt.Errorf("user counts: %w", err)
		}
		if out.Activities.Total, out.Activities.ByStatus, err = s.stats.ActivityCounts(ctx, q); err != nil {
			return fmt.Errorf("activity counts: %w", err)
		}
		if out.PerUser, err = s.stats.PerUser(ctx, q); err != nil {
			return fmt.Errorf("per user counts: %w", err)
		}
		return nil
	})
	return out, err
}

// Dashboard is the admin landing summary.
type Dashboard struct {
	RecentUsers       []entity.Profile           `json:"recentUsers"`
	RecentActivities  []adminrepo.RecentActivity `json:"recentActivities"`
	UsersByMonth      []userrepo.MonthCount      `json:"usersByMonth"`
	ActivitiesByMonth []userrepo.MonthCount      `json:"activitiesByMonth"`
}

func (s *Service) Dashboard(ctx context.Context, tc tenant.Context) (*Dashboard, error) {
	if err := requireAdmin(tc); err != nil {
		return nil, err
	}
	out := &Dashboard{}
	err := s.runner.RunReadOnly(ctx, tc, func(q sqlx.ExtContext) error {
		users, err := s.users.Recent(ctx, q, recentUsers)
		if err != nil {
			return err
		}
		out.RecentUsers = make([]entity.Profile, 0, len(users))
		for i := range users {
			out.RecentUsers = append(out.RecentUsers, users[i].Profile())
		}
		if out.RecentActivities, err = s.stats.RecentActivities(ctx, q, recentActivities); err != nil {
			return err
		}
		if out.UsersByMonth, err = s.users.CreatedByMonth(ctx, q); err != nil {
			return err
		}
		out.ActivitiesByMonth, err = s.stats.ActivitiesByMonth(ctx, q)
		return err
	})
	return out, err
}
