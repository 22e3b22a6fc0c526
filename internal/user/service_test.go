package user

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/internal/tenant"
	"github.com/ovaphlow/pitchfork/service-planner/internal/user/entity"
)

type memStore struct {
	nextID int64
	users  map[int64]*entity.User
}

func newMemStore() *memStore { return &memStore{users: map[int64]*entity.User{}} }

func (m *memStore) Create(_ context.Context, _ sqlx.ExtContext, u *entity.User) (int64, error) {
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return 0, &pq.Error{Code: "23505", Constraint: "users_username_key"}
		}
		if existing.Email == u.Email {
			return 0, &pq.Error{Code: "23505", Constraint: "users_email_key"}
		}
	}
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	cp.CreatedAt = time.Now()
	m.users[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) GetByID(_ context.Context, _ sqlx.ExtContext, id int64) (*entity.User, error) {
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) find(match func(*entity.User) bool) (*entity.User, error) {
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) GetByUsername(_ context.Context, _ sqlx.ExtContext, username string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Username == username })
}

func (m *memStore) GetByEmail(_ context.Context, _ sqlx.ExtContext, email string) (*entity.User, error) {
	return m.find(func(u *entity.User) bool { return u.Email == strings.ToLower(email) })
}

func (m *memStore) GetMinimalAuthView(_ context.Context, _ sqlx.ExtContext, id int64) (*entity.MinimalAuthView, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &entity.MinimalAuthView{ID: u.ID, Username: u.Username, IsActive: u.IsActive, IsAdmin: u.IsAdmin, Version: u.Version}, nil
}

func (m *memStore) IncrementFailedLogin(_ context.Context, _ sqlx.ExtContext, id int64) (int, error) {
	m.users[id].LoginFailedAttempts++
	return m.users[id].LoginFailedAttempts, nil
}

func (m *memStore) LockIfThreshold(_ context.Context, _ sqlx.ExtContext, id int64, threshold, lockMinutes int) (bool, error) {
	u := m.users[id]
	if u.LoginFailedAttempts < threshold {
		return false, nil
	}
	until := time.Now().Add(time.Duration(lockMinutes) * time.Minute)
	u.LockedUntil = &until
	u.LoginFailedAttempts = 0
	return true, nil
}

func (m *memStore) ResetLoginSuccess(_ context.Context, _ sqlx.ExtContext, id int64) error {
	m.users[id].LoginFailedAttempts = 0
	m.users[id].LockedUntil = nil
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, _ sqlx.ExtContext, id int64, hash, algo string) error {
	u := m.users[id]
	u.PasswordHash = hash
	u.PasswordAlgo = &algo
	u.Version++
	return nil
}

func (m *memStore) RehashPassword(_ context.Context, _ sqlx.ExtContext, id int64, hash, algo string) error {
	m.users[id].PasswordHash = hash
	m.users[id].PasswordAlgo = &algo
	return nil
}

// inlineRunner runs work directly and remembers the bound contexts.
type inlineRunner struct {
	bound []tenant.Context
}

func (r *inlineRunner) Run(_ context.Context, tc tenant.Context, fn func(q sqlx.ExtContext) error) error {
	r.bound = append(r.bound, tc)
	return fn(nil)
}

func (r *inlineRunner) RunReadOnly(ctx context.Context, tc tenant.Context, fn func(q sqlx.ExtContext) error) error {
	return r.Run(ctx, tc, fn)
}

func newTestService() (*UserService, *memStore, *inlineRunner) {
	store := newMemStore()
	runner := &inlineRunner{}
	svc := NewUserService(nil, store, runner, BcryptHasher{Cost: bcrypt.MinCost}, nil)
	return svc, store, runner
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []SignupInput{
		{Username: "ab", Email: "a@b.com", Password: "secret1"},
		{Username: "bad name", Email: "a@b.com", Password: "secret1"},
		{Username: "mario", Email: "not-an-email", Password: "secret1"},
		{Username: "mario", Email: "mario@test.it", Password: "12345"},
	}
	for _, in := range cases {
		_, err := svc.Register(ctx, in)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%+v", in)
	}
}

func TestRegisterCreatesActiveRegularAccount(t *testing.T) {
	svc, _, _ := newTestService()
	u, err := svc.Register(context.Background(), SignupInput{Username: " mario_r ", Email: "Mario@Test.IT", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "mario_r", u.Username)
	assert.Equal(t, "mario@test.it", u.Email)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsAdmin)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	_, err = svc.Register(context.Background(), SignupInput{Username: "mario_r", Email: "other@test.it", Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "username already registered", apperr.Message(err))

	_, err = svc.Register(context.Background(), SignupInput{Username: "luigi", Email: "mario@test.it", Password: "secret1"})
	assert.Equal(t, "email already registered", apperr.Message(err))
}

func TestAuthenticateByUsernameOrEmail(t *testing.T) {
	svc, _, runner := newTestService()
	ctx := context.Background()
	u, err := svc.Register(ctx, SignupInput{Username: "anna", Email: "anna@test.it", Password: "secret1"})
	require.NoError(t, err)

	got, err := svc.AuthenticatePassword(ctx, "anna", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotNil(t, got.LastLoginAt)

	got, err = svc.AuthenticatePassword(ctx, "ANNA@test.it", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	require.NotEmpty(t, runner.bound)
	assert.Equal(t, u.ID, runner.bound[0].UserID, "login bookkeeping runs as the account itself")

	_, err = svc.AuthenticatePassword(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestAuthenticateLocksAfterRepeatedFailures(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	u, err := svc.Register(ctx, SignupInput{Username: "anna", Email: "anna@test.it", Password: "secret1"})
	require.NoError(t, err)

	for i := 0; i < svc.MaxFailed; i++ {
		_, err := svc.AuthenticatePassword(ctx, "anna", "wrong-pass")
		assert.ErrorIs(t, err, ErrBadCredentials)
	}
	require.NotNil(t, store.users[u.ID].LockedUntil)

	_, err = svc.AuthenticatePassword(ctx, "anna", "secret1")
	assert.ErrorIs(t, err, ErrLocked)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = svc.AuthenticatePassword(ctx, "anna", "secret1")
	assert.NoError(t, err)
}

func TestAuthenticateDisabled(t *testing.T) {
	svc, store, _ := newTestService()
	u, err := svc.Register(context.Background(), SignupInput{Username: "anna", Email: "anna@test.it", Password: "secret1"})
	require.NoError(t, err)
	store.users[u.ID].IsActive = false

	_, err = svc.AuthenticatePassword(context.Background(), "anna", "secret1")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestChangePassword(t *testing.T) {
	svc, store, runner := newTestService()
	ctx := context.Background()
	u, err := svc.Register(ctx, SignupInput{Username: "anna", Email: "anna@test.it", Password: "secret1"})
	require.NoError(t, err)
	tc := tenant.Context{UserID: u.ID, SessionTag: "s1"}

	err = svc.ChangePassword(ctx, tc, "wrong", "newsecret")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = svc.ChangePassword(ctx, tc, "secret1", "123")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, svc.ChangePassword(ctx, tc, "secret1", "newsecret"))
	assert.Equal(t, int64(2), store.users[u.ID].Version)
	assert.Equal(t, tc, runner.bound[len(runner.bound)-1])

	_, err = svc.AuthenticatePassword(ctx, "anna", "newsecret")
	assert.NoError(t, err)
}

func TestEnsurePrimaryAdmin(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	created, err := svc.EnsurePrimaryAdmin(ctx, "admin@planner.com", "admin123")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsurePrimaryAdmin(ctx, "admin@planner.com", "admin123")
	require.NoError(t, err)
	assert.False(t, created)

	admin, err := store.GetByUsername(ctx, nil, entity.PrimaryAdminUsername)
	require.NoError(t, err)
	assert.True(t, admin.IsPrimaryAdmin())
}

func TestIdentity(t *testing.T) {
	svc, _, _ := newTestService()
	u, err := svc.Register(context.Background(), SignupInput{Username: "anna", Email: "anna@test.it", Password: "secret1"})
	require.NoError(t, err)

	id, err := svc.Identity(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "anna", id.Username)
	assert.True(t, id.IsActive)

	_, err = svc.Identity(context.Background(), 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBcryptNeedsRehash(t *testing.T) {
	low := BcryptHasher{Cost: bcrypt.MinCost}
	hash, algo, err := low.Hash("secret1")
	require.NoError(t, err)
	assert.Equal(t, "bcrypt:4", algo)
	assert.True(t, low.Verify(hash, "secret1"))
	assert.False(t, low.NeedsRehash(hash))
	assert.True(t, BcryptHasher{Cost: bcrypt.MinCost + 1}.NeedsRehash(hash))
	assert.False(t, low.NeedsRehash("not-a-hash"))
}
