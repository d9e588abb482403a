package auth

import (
	"context"
	"fmt"
	"time"
)

// Service composes the token service with the user store for the login,
// refresh, and logout flows.
type Service struct {
	users  UserStore
	tokens *TokenService
	now    func() time.Time
}

func NewService(users UserStore, tokens *TokenService) *Service {
	return &Service{users: users, tokens: tokens, now: time.Now}
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User         *User
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // seconds
}

// Login verifies credentials and mints an access+refresh pair. Repeated
// failures lock the account at MaxFailedAttempts until an administrative
// reset.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrAccountLocked
	}

	if !VerifyPassword(password, u.PasswordHash) {
		attempts := u.FailedAttempts + 1
		lock := attempts >= MaxFailedAttempts
		if err := s.users.RecordFailure(ctx, u.ID, attempts, lock); err != nil {
			return nil, err
		}
		if lock {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccess(u.ID, u.Username, u.Roles, 0)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	u.LastLoginAt = &now
	u.FailedAttempts = 0
	return &LoginResult{
		User:         u,
		AccessToken:  access,
		RefreshToken: refresh.Token,
		ExpiresIn:    int(DefaultAccessTTL.Seconds()),
	}, nil
}

// Refresh rotates a refresh token and returns a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	t, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, ErrUnknownUser
	}
	access, newRefresh, err := s.tokens.Rotate(ctx, refreshToken, u.Username, u.Roles)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:         u,
		AccessToken:  access,
		RefreshToken: newRefresh.Token,
		ExpiresIn:    int(DefaultAccessTTL.Seconds()),
	}, nil
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

// Me resolves the caller's profile from an access token's claims.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUnknownUser
	}
	return u, nil
}

// Tokens exposes the underlying token service for the registry's
// identity extraction.
func (s *Service) Tokens() *TokenService { return s.tokens }

// UnlockUser is the administrative reset that clears the failure counter and
// reactivates a locked account.
func (s *Service) UnlockUser(ctx context.Context, userID string) error {
	if err := s.users.ResetFailures(ctx, userID); err != nil {
		return fmt.Errorf("unlock user: %w", err)
	}
	return nil
}
