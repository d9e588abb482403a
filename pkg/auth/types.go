// Package auth implements the authentication core: bearer token minting and
// verification, refresh-token lifecycle, password verification, and
// request-scoped identity extraction.
package auth

import (
	"errors"
	"time"
)

// Error taxonomy surfaced at the boundary.
var (
	ErrMalformed          = errors.New("malformed token")
	ErrBadSignature       = errors.New("bad token signature")
	ErrExpired            = errors.New("token expired")
	ErrRevoked            = errors.New("token revoked")
	ErrUnknownUser        = errors.New("unknown user")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// MaxFailedAttempts locks the account until an administrative reset.
const MaxFailedAttempts = 5

// RefreshTokenLifetime is the validity window for refresh tokens.
const RefreshTokenLifetime = 30 * 24 * time.Hour

// DefaultAccessTTL is the default access-token lifetime.
const DefaultAccessTTL = 24 * time.Hour

// User is the persisted identity record. Users are never deleted; Active is
// flipped instead.
type User struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Active         bool       `json:"active"`
	Roles          []string   `json:"roles"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	FailedAttempts int        `json:"-"`
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RefreshToken is the long-lived opaque credential exchanged for new access
// tokens. One is issued per login and rotated on refresh.
type RefreshToken struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Valid reports whether the refresh token is usable at the given instant.
func (r *RefreshToken) Valid(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}
