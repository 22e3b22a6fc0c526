package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a session token. Version must match the user's current
// version; bumping it (password change) invalidates older tokens.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	Version  int64  `json:"v"`
}

// Token is an issued, signed session token.
type Token struct {
	Value     string    `json:"token"`
	ID        string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Identity is what the token is issued for and what the middleware
// re-reads on every request.
type Identity struct {
	ID       int64
	Username string
	IsActive bool
	IsAdmin  bool
	Version  int64
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    int64
	Username  string
	IsAdmin   bool
	SessionID string
	ExpiresAt time.Time
}

// Revocation is a logged-out token id kept until the token would expire.
type Revocation struct {
	TokenID   string    `db:"token_id"`
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	RevokedAt time.Time `db:"revoked_at"`
}
