// Package app assembles the planner service from its parts.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/activity"
	activityrepo "github.com/ovaphlow/pitchfork/service-planner/internal/activity/repo"
	"github.com/ovaphlow/pitchfork/service-planner/internal/admin"
	adminrepo "github.com/ovaphlow/pitchfork/service-planner/internal/admin/repo"
	"github.com/ovaphlow/pitchfork/service-planner/internal/router"
	"github.com/ovaphlow/pitchfork/service-planner/internal/scheduler"
	"github.com/ovaphlow/pitchfork/service-planner/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-planner/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-planner/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

// Config collects the settings the service reads at start.
type Config struct {
	Session session.Config
	Tenant  tenant.Config
	// AdminEmail and AdminPassword bootstrap the primary admin when the
	// password is set.
	AdminEmail    string
	AdminPassword string
	BcryptCost    int
	PurgeAt       string
}

func ConfigFromEnv() Config {
	return Config{
		Session:       session.ConfigFromEnv(),
		Tenant:        tenant.ConfigFromEnv(),
		AdminEmail:    utilities.GetEnv("ADMIN_EMAIL", "admin@planner.com"),
		AdminPassword: utilities.GetEnv("ADMIN_PASSWORD", ""),
		BcryptCost:    utilities.GetIntEnv("BCRYPT_COST", 12),
		PurgeAt:       utilities.GetEnv("REVOCATION_PURGE_AT", "03:30"),
	}
}

// App is the assembled service.
type App struct {
	Handler   http.Handler
	Scheduler *scheduler.Scheduler
	Scope     *tenant.Scope
	Contexts  *tenant.Manager
	Sessions  *session.Service
	Users     *user.UserService
}

// Migrate creates tables and installs the row guards. It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"users", userrepo.NewUserRepo(db).EnsureTable},
		{"activities", activityrepo.NewActivityRepo(db).EnsureTable},
		{"session_revocations", sessionrepo.NewRevocationRepo(db).EnsureTable},
		{"row guards", func(ctx context.Context) error { return tenant.Install(ctx, db) }},
	}
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", s.name, err)
		}
	}
	return nil
}

// New wires every component on db. Migrate must have run.
func New(ctx context.Context, db *sqlx.DB, cfg Config, logger *zap.SugaredLogger) (*App, error) {
	scope := tenant.NewScope(db, logger)
	if err := scope.Verify(ctx); err != nil {
		return nil, err
	}
	contexts := tenant.NewManager(db, logger)

	if cfg.Session.Secret == "" {
		logger.Warn("JWT_SECRET not set, using an ephemeral secret; sessions will not survive a restart")
		cfg.Session.Secret = session.EphemeralSecret()
	}
	revocations := sessionrepo.NewRevocationRepo(db)
	sessions, err := session.NewService(cfg.Session, revocations)
	if err != nil {
		return nil, err
	}

	hasher := user.BcryptHasher{Cost: cfg.BcryptCost}
	userStore := userrepo.NewUserRepo(db)
	users := user.NewUserService(db, userStore, scope, hasher, logger)
	if cfg.AdminPassword != "" {
		created, err := users.EnsurePrimaryAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Infow("primary admin created", "email", cfg.AdminEmail)
		}
	}

	activities := activity.NewService(scope, activityrepo.NewActivityRepo(db), logger)
	admins := admin.NewService(admin.Deps{
		Scope:      scope,
		Users:      userStore,
		Activities: activityrepo.NewBaseActivityRepo(db),
		Stats:      adminrepo.NewStatsRepo(),
		Accounts:   users,
		Hasher:     hasher,
		Logger:     logger,
	})

	var recorder tenant.Recorder
	var sweeper scheduler.ContextSweeper
	if cfg.Tenant.Record {
		recorder, sweeper = contexts, contexts
	}

	sched := scheduler.New(nil, logger)
	err = sched.RegisterMaintenance(scheduler.MaintenanceConfig{
		SweepInterval: cfg.Tenant.SweepInterval,
		ContextMaxAge: cfg.Tenant.MaxAge,
		PurgeAt:       cfg.PurgeAt,
	}, sweeper, sessions)
	if err != nil {
		return nil, fmt.Errorf("schedule maintenance: %w", err)
	}

	handler := router.RegisterRoutes(router.Deps{
		Logger:     logger,
		DB:         db,
		Sessions:   sessions,
		Identities: users,
		Recorder:   recorder,
		Guards:     scope,
		Users:      user.NewHandler(users, sessions, logger),
		Activities: activity.NewHandler(activities, logger),
		Admin:      admin.NewHandler(admins, logger),
	})

	return &App{
		Handler:   handler,
		Scheduler: sched,
		Scope:     scope,
		Contexts:  contexts,
		Sessions:  sessions,
		Users:     users,
	}, nil
}
