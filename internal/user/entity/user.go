package entity

import "time"

// PrimaryAdminUsername is the reserved account that cannot be edited or
// deleted through admin operations.
const PrimaryAdminUsername = "admin"

// User is an account row in the `users` table.
type User struct {
	ID                  int64      `db:"id"`
	Username            string     `db:"username"`
	Email               string     `db:"email"`
	PasswordHash        string     `db:"password_hash"`
	PasswordAlgo        *string    `db:"password_algo"`
	PasswordUpdatedAt   *time.Time `db:"password_updated_at"`
	IsActive            bool       `db:"is_active"`
	IsAdmin             bool       `db:"is_admin"`
	LoginFailedAttempts int        `db:"login_failed_attempts"`
	LockedUntil         *time.Time `db:"locked_until"`
	LastLoginAt         *time.Time `db:"last_login_at"`
	Version             int64      `db:"version"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// IsPrimaryAdmin reports whether u is the reserved admin account.
func (u *User) IsPrimaryAdmin() bool {
	return u.IsAdmin && u.Username == PrimaryAdminUsername
}

// Locked reports whether a lockout is in force at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Profile is the public projection returned by the API.
type Profile struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	IsActive    bool       `json:"isActive"`
	IsAdmin     bool       `json:"isAdmin"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    u.IsActive,
		IsAdmin:     u.IsAdmin,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// MinimalAuthView is the minimal projection required for token claim hydration.
type MinimalAuthView struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	IsActive bool   `db:"is_active"`
	IsAdmin  bool   `db:"is_admin"`
	Version  int64  `db:"version"`
}

// Changes is a partial account update; nil fields are left untouched.
type Changes struct {
	Username *string
	Email    *string
	IsActive *bool
}

func (c Changes) Empty() bool {
	return c.Username == nil && c.Email == nil && c.IsActive == nil
}

// ListQuery pages through accounts, optionally filtered by a search term
// matched against username and email.
type ListQuery struct {
	Search string
	Limit  int
	Offset int
}
