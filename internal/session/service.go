package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"

	"github.com/ovaphlow/pitchfork/service-planner/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-planner/pkg/utilities"
)

var (
	ErrMissingToken = apperr.Unauthenticated("missing bearer token")
	ErrInvalidToken = apperr.Unauthenticated("invalid or expired token")
	ErrRevokedToken = apperr.Unauthenticated("token has been revoked")
)

type Config struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// ConfigFromEnv reads JWT settings. A missing secret is left empty; callers
// decide whether to generate an ephemeral one.
func ConfigFromEnv() Config {
	return Config{
		Secret: utilities.GetEnv("JWT_SECRET", ""),
		Issuer: utilities.GetEnv("JWT_ISSUER", "planner"),
		TTL:    utilities.GetDurationEnv("JWT_TTL", 24*time.Hour),
	}
}

// EphemeralSecret returns a random secret for development runs. Tokens do
// not survive a restart.
func EphemeralSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ksuid.New().String()
	}
	return hex.EncodeToString(b)
}

// RevocationStore persists logged-out token ids.
type RevocationStore interface {
	Save(ctx context.Context, tokenID string, userID int64, expiresAt time.Time) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service issues and verifies HS256 session tokens.
type Service struct {
	cfg         Config
	revocations RevocationStore
	now         func() time.Time
}

func NewService(cfg Config, revocations RevocationStore) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session: secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{cfg: cfg, revocations: revocations, now: time.Now}, nil
}

// Issue signs a token for id.
func (s *Service) Issue(id Identity) (Token, error) {
	now := s.now()
	exp := now.Add(s.cfg.TTL)
	jti := ksuid.New().String()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   strconv.FormatInt(id.ID, 10),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: id.Username,
		Admin:    id.IsAdmin,
		Version:  id.Version,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ID: jti, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Parse checks signature, issuer and expiry without consulting revocations.
func (s *Service) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// Verify parses token and rejects it if it was revoked.
func (s *Service) Verify(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return nil, err
	}
	if s.revocations == nil {
		return claims, nil
	}
	revoked, err := s.revocations.Exists(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// Revoke invalidates the caller's token until it expires.
func (s *Service) Revoke(ctx context.Context, p *Principal) error {
	if s.revocations == nil {
		return nil
	}
	if p == nil || p.SessionID == "" {
		return ErrInvalidToken
	}
	exp := p.ExpiresAt
	if exp.IsZero() {
		exp = s.now().Add(s.cfg.TTL)
	}
	return s.revocations.Save(ctx, p.SessionID, p.UserID, exp)
}

// PurgeExpired removes revocations that no longer matter.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	if s.revocations == nil {
		return 0, nil
	}
	return s.revocations.DeleteExpired(ctx, s.now())
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}
