package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, users *MemoryUserStore, username, password string, roles []string) *User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	u := &User{
		ID:           "id-" + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Active:       true,
		Roles:        roles,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func newTestService(t *testing.T) (*Service, *MemoryUserStore) {
	t.Helper()
	users := NewMemoryUserStore()
	tokens := NewTokenService("test-secret", NewMemoryRefreshStore())
	return NewService(users, tokens), users
}

func TestLoginSuccess(t *testing.T) {
	svc, users := newTestService(t)
	seedUser(t, users, "alice", "secret", []string{"user"})

	res, err := svc.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", res.User.Username)
	require.Equal(t, []string{"user"}, res.User.Roles)
	require.NotEmpty(t, res.AccessToken)
	require.Len(t, res.RefreshToken, 64)
	require.Equal(t, 86400, res.ExpiresIn)
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "ghost", "x")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginLocksAfterFiveFailures(t *testing.T) {
	svc, users := newTestService(t)
	u := seedUser(t, users, "alice", "secret", []string{"user"})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Login(ctx, "alice", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Fifth failure locks the account.
	_, err := svc.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrAccountLocked)

	// Even the right password is rejected while locked.
	_, err = svc.Login(ctx, "alice", "secret")
	require.ErrorIs(t, err, ErrAccountLocked)

	// Administrative reset restores access.
	require.NoError(t, svc.UnlockUser(ctx, u.ID))
	_, err = svc.Login(ctx, "alice", "secret")
	require.NoError(t, err)
}

func TestLoginResetsFailureCounter(t *testing.T) {
	svc, users := newTestService(t)
	seedUser(t, users, "alice", "secret", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = svc.Login(ctx, "alice", "wrong")
	}
	_, err := svc.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	u, err := users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, u.FailedAttempts)
	require.NotNil(t, u.LastLoginAt)
}

func TestRefreshFlow(t *testing.T) {
	svc, users := newTestService(t)
	seedUser(t, users, "alice", "secret", []string{"user"})
	ctx := context.Background()

	login, err := svc.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	renewed, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, renewed.RefreshToken)
	require.Equal(t, login.User.ID, renewed.User.ID)

	// The old refresh token is spent.
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestLogoutRevokesRefresh(t *testing.T) {
	svc, users := newTestService(t)
	seedUser(t, users, "alice", "secret", nil)
	ctx := context.Background()

	login, err := svc.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.RefreshToken))
	_, err = svc.Refresh(ctx, login.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)
}
