package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/session"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-planner/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/database"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a lower cost than b.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return c < b.cost()
}

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, q sqlx.ExtContext, u *entity.User) (int64, error)
	GetByID(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.User, error)
	GetByUsername(ctx context.Context, q sqlx.ExtContext, username string) (*entity.User, error)
	GetByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*entity.User, error)
	GetMinimalAuthView(ctx context.Context, q sqlx.ExtContext, id int64) (*entity.MinimalAuthView, error)
	IncrementFailedLogin(ctx context.Context, q sqlx.ExtContext, id int64) (int, error)
	LockIfThreshold(ctx context.Context, q sqlx.ExtContext, id int64, threshold, lockMinutes int) (bool, error)
	ResetLoginSuccess(ctx context.Context, q sqlx.ExtContext, id int64) error
	UpdatePassword(ctx context.Context, q sqlx.ExtContext, id int64, hash, algo string) error
	RehashPassword(ctx context.Context, q sqlx.ExtContext, id int64, hash, algo string) error
}

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	db     sqlx.ExtContext
	repo   Store
	scope  tenant.Runner
	hasher PasswordHasher
	logger *zap.SugaredLogger
	now    func() time.Time
	// configuration knobs
	MaxFailed   int
	LockMinutes int
}

func NewUserService(db *sqlx.DB, r Store, scope tenant.Runner, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if r == nil {
		r = userrepo.NewUserRepo(db)
	}
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &UserService{repo: r, scope: scope, hasher: hasher, logger: logger, now: time.Now, MaxFailed: 6, LockMinutes: 15}
	if db != nil {
		s.db = db
	}
	return s
}

var (
	ErrBadCredentials = apperr.Unauthenticated("invalid credentials")
	ErrLocked         = apperr.Forbidden("account locked, try again later")
	ErrDisabled       = apperr.Forbidden("account disabled")
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateUsername accepts 3-20 letters, digits or underscores.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return apperr.Validation("username must be 3-20 characters of letters, digits or underscore")
	}
	return nil
}

func ValidateEmail(s string) error {
	if !emailPattern.MatchString(s) {
		return apperr.Validation("invalid email address")
	}
	return nil
}

// ValidatePassword enforces the minimum length and bcrypt's 72 byte limit.
func ValidatePassword(s string) error {
	if len(s) < 6 {
		return apperr.Validation("password must be at least 6 characters")
	}
	if len(s) > 72 {
		return apperr.Validation("password must be at most 72 bytes")
	}
	return nil
}

// SignupInput is the data needed to create an account.
type SignupInput struct {
	Username string
	Email    string
	Password string
}

func (in *SignupInput) normalize() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	return errors.Join(ValidateUsername(in.Username), ValidateEmail(in.Email), ValidatePassword(in.Password))
}

// Register creates a regular, active account.
func (s *UserService) Register(ctx context.Context, in SignupInput) (*entity.User, error) {
	return s.CreateAccount(ctx, in, false)
}

// CreateAccount validates, hashes and inserts a new account.
func (s *UserService) CreateAccount(ctx context.Context, in SignupInput, isAdmin bool) (*entity.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		PasswordAlgo: &algo,
		IsActive:     true,
		IsAdmin:      isAdmin,
		Version:      1,
	}
	id, err := s.repo.Create(ctx, s.db, u)
	if err != nil {
		return nil, MapWriteError(err)
	}
	created, err := s.repo.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("reload user: %w", err)
	}
	s.logger.Infow("account created", "user_id", id, "username", u.Username, "admin", isAdmin)
	return created, nil
}

// MapWriteError turns unique violations on users into conflicts.
func MapWriteError(err error) error {
	pe, ok := database.AsPgError(err)
	if !ok || pe.Code != database.CodeUniqueViolation {
		return err
	}
	switch pe.Constraint {
	case "users_username_key":
		return apperr.Conflict("username already registered")
	case "users_email_key":
		return apperr.Conflict("email already registered")
	default:
		return apperr.Conflict("account already exists")
	}
}

// AuthenticatePassword performs password authentication by email or username.
// Failures are counted and lock the account after MaxFailed attempts.
func (s *UserService) AuthenticatePassword(ctx context.Context, identifier, password string) (*entity.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrBadCredentials
	}

	var u *entity.User
	var err error
	if strings.Contains(identifier, "@") {
		u, err = s.repo.GetByEmail(ctx, s.db, identifier)
	} else {
		u, err = s.repo.GetByUsername(ctx, s.db, identifier)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}

	if !u.IsActive {
		return nil, ErrDisabled
	}
	if u.Locked(s.now()) {
		return nil, ErrLocked
	}

	self := tenant.Context{UserID: u.ID, SessionTag: utilities.NewSessionTag(u.ID)}
	if !s.hasher.Verify(u.PasswordHash, password) {
		err := s.scope.Run(ctx, self, func(q sqlx.ExtContext) error {
			if _, err := s.repo.IncrementFailedLogin(ctx, q, u.ID); err != nil {
				return err
			}
			locked, err := s.repo.LockIfThreshold(ctx, q, u.ID, s.MaxFailed, s.LockMinutes)
			if locked {
				s.logger.Warnw("account locked after failed logins", "user_id", u.ID)
			}
			return err
		})
		if err != nil {
			s.logger.Errorw("record failed login", "user_id", u.ID, "err", err)
		}
		return nil, ErrBadCredentials
	}

	err = s.scope.Run(ctx, self, func(q sqlx.ExtContext) error {
		if err := s.repo.ResetLoginSuccess(ctx, q, u.ID); err != nil {
			return err
		}
		if s.hasher.NeedsRehash(u.PasswordHash) {
			if hash, algo, hErr := s.hasher.Hash(password); hErr == nil {
				return s.repo.RehashPassword(ctx, q, u.ID, hash, algo)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	u.LastLoginAt = &now
	u.LoginFailedAttempts = 0
	return u, nil
}

// Get returns the account or a not-found error.
func (s *UserService) Get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	return u, err
}

// Identity implements session.IdentityLookup.
func (s *UserService) Identity(ctx context.Context, id int64) (*session.Identity, error) {
	v, err := s.repo.GetMinimalAuthView(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &session.Identity{ID: v.ID, Username: v.Username, IsActive: v.IsActive, IsAdmin: v.IsAdmin, Version: v.Version}, nil
}

// ChangePassword verifies current and stores next for the acting user.
// Tokens issued before the change stop verifying.
func (s *UserService) ChangePassword(ctx context.Context, tc tenant.Context, current, next string) error {
	if err := ValidatePassword(next); err != nil {
		return err
	}
	u, err := s.Get(ctx, tc.UserID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(u.PasswordHash, current) {
		return apperr.Validation("current password is incorrect")
	}
	hash, algo, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.scope.Run(ctx, tc, func(q sqlx.ExtContext) error {
		return s.repo.UpdatePassword(ctx, q, u.ID, hash, algo)
	})
}

// EnsurePrimaryAdmin creates the reserved admin account when missing and
// reports whether it did.
func (s *UserService) EnsurePrimaryAdmin(ctx context.Context, email, password string) (bool, error) {
	existing, err := s.repo.GetByUsername(ctx, s.db, entity.PrimaryAdminUsername)
	if err == nil {
		if !existing.IsAdmin {
			s.logger.Warnw("reserved admin username belongs to a non-admin account", "user_id", existing.ID)
		}
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	_, err = s.CreateAccount(ctx, SignupInput{Username: entity.PrimaryAdminUsername, Email: email, Password: password}, true)
	if errors.Is(err, apperr.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}
