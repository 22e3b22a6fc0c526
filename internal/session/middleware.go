package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
)

type contextKey string

const principalKey contextKey = "planner-session-principal"

// WithPrincipal stores p on the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom retrieves the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// IdentityLookup re-reads the token owner on every request so that disabled
// accounts and bumped versions take effect immediately.
type IdentityLookup interface {
	Identity(ctx context.Context, id int64) (*Identity, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(header[7:]), nil
}

// Authenticate resolves the bearer token on r into a Principal.
func (s *Service) Authenticate(r *http.Request, users IdentityLookup) (*Principal, *Claims, error) {
	raw, err := BearerToken(r)
	if err != nil {
		return nil, nil, err
	}
	claims, err := s.Verify(r.Context(), raw)
	if err != nil {
		return nil, nil, err
	}
	uid, _ := claims.UserID()
	id, err := users.Identity(r.Context(), uid)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if !id.IsActive {
		return nil, nil, apperr.Unauthenticated("account disabled")
	}
	if id.Version != claims.Version {
		return nil, nil, ErrInvalidToken
	}
	p := &Principal{
		UserID:    id.ID,
		Username:  id.Username,
		IsAdmin:   id.IsAdmin,
		SessionID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, claims, nil
}

// Middleware rejects requests without a valid session and attaches the
// principal otherwise.
func Middleware(s *Service, users IdentityLookup, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _, err := s.Authenticate(r, users)
			if err != nil {
				apperr.Write(w, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin rejects authenticated non-admin callers.
func RequireAdmin(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				apperr.Write(w, logger, apperr.Unauthenticated("authentication required"))
				return
			}
			if !p.IsAdmin {
				apperr.Write(w, logger, apperr.Forbidden("admin privileges required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
