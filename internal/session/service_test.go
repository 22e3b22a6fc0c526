package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

type memRevocations struct {
	ids map[string]time.Time
}

func newMemRevocations() *memRevocations { return &memRevocations{ids: map[string]time.Time{}} }

func (m *memRevocations) Save(_ context.Context, id string, _ int64, exp time.Time) error {
	m.ids[id] = exp
	return nil
}

func (m *memRevocations) Exists(_ context.Context, id string) (bool, error) {
	_, ok := m.ids[id]
	return ok, nil
}

func (m *memRevocations) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, exp := range m.ids {
		if exp.Before(now) {
			delete(m.ids, id)
			n++
		}
	}
	return n, nil
}

type stubUsers map[int64]*Identity

func (s stubUsers) Identity(_ context.Context, id int64) (*Identity, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user")
}

func newTestService(t *testing.T) (*Service, *memRevocations) {
	t.Helper()
	rev := newMemRevocations()
	svc, err := NewService(Config{Secret: "test-secret", Issuer: "planner-test", TTL: time.Hour}, rev)
	require.NoError(t, err)
	return svc, rev
}

func TestIssueAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	tok, err := svc.Issue(Identity{ID: 42, Username: "mario", IsAdmin: true, Version: 3})
	require.NoError(t, err)
	require.NotEmpty(t, tok.ID)

	claims, err := svc.Verify(context.Background(), tok.Value)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
	assert.Equal(t, "mario", claims.Username)
	assert.True(t, claims.Admin)
	assert.Equal(t, int64(3), claims.Version)
	assert.Equal(t, tok.ID, claims.ID)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	svc, _ := newTestService(t)
	tok, err := svc.Issue(Identity{ID: 1, Username: "a", Version: 1})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.Verify(context.Background(), tok.Value+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewService(Config{Secret: "test-secret", Issuer: "someone-else"}, nil)
	require.NoError(t, err)
	_, err = other.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestRevokeAndPurge(t *testing.T) {
	svc, rev := newTestService(t)
	tok, err := svc.Issue(Identity{ID: 5, Username: "u", Version: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), &Principal{UserID: 5, SessionID: tok.ID, ExpiresAt: tok.ExpiresAt}))
	_, err = svc.Verify(context.Background(), tok.Value)
	assert.ErrorIs(t, err, ErrRevokedToken)

	svc.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	n, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, rev.ids)
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Config{}, nil)
	assert.Error(t, err)
	assert.Len(t, EphemeralSecret(), 64)
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	users := stubUsers{
		1: {ID: 1, Username: "active", IsActive: true, Version: 2},
		2: {ID: 2, Username: "disabled", IsActive: false, Version: 1},
	}
	var got *Principal
	h := Middleware(svc, users, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	ok, _ := svc.Issue(Identity{ID: 1, Username: "active", Version: 2})
	assert.Equal(t, http.StatusOK, call(ok.Value))
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.UserID)
	assert.Equal(t, ok.ID, got.SessionID)

	stale, _ := svc.Issue(Identity{ID: 1, Username: "active", Version: 1})
	assert.Equal(t, http.StatusUnauthorized, call(stale.Value), "token from before a version bump")

	disabled, _ := svc.Issue(Identity{ID: 2, Username: "disabled", Version: 1})
	assert.Equal(t, http.StatusUnauthorized, call(disabled.Value))

	gone, _ := svc.Issue(Identity{ID: 99, Username: "gone", Version: 1})
	assert.Equal(t, http.StatusUnauthorized, call(gone.Value))

	assert.Equal(t, http.StatusUnauthorized, call(""))
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	serve := func(p *Principal) int {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), p))
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&Principal{UserID: 2}))
	assert.Equal(t, http.StatusOK, serve(&Principal{UserID: 1, IsAdmin: true}))
}
