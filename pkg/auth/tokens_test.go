package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTokenService() (*TokenService, *MemoryRefreshStore) {
	store := NewMemoryRefreshStore()
	return NewTokenService("test-secret", store), store
}

func TestIssueAndVerifyAccess(t *testing.T) {
	svc, _ := newTestTokenService()

	token, err := svc.IssueAccess("u1", "alice", []string{"user"}, 0)
	require.NoError(t, err)

	claims, err := svc.VerifyAccess(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, []string{"user"}, claims.Roles)
	require.NotEmpty(t, claims.ID)
}

func TestVerifyAccessBadSignature(t *testing.T) {
	svc, _ := newTestTokenService()
	other := NewTokenService("different-secret", NewMemoryRefreshStore())

	token, err := other.IssueAccess("u1", "alice", nil, 0)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(token)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyAccessMalformed(t *testing.T) {
	svc, _ := newTestTokenService()
	_, err := svc.VerifyAccess("not.a.token")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVerifyAccessExpired(t *testing.T) {
	svc, _ := newTestTokenService()
	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, err := svc.IssueAccess("u1", "alice", nil, 1)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyAccess(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestRefreshTokenShape(t *testing.T) {
	svc, _ := newTestTokenService()
	rt, err := svc.IssueRefresh(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rt.Token, 64) // 32 random bytes, hex encoded
	require.Equal(t, "u1", rt.UserID)
	require.WithinDuration(t, time.Now().Add(RefreshTokenLifetime), rt.ExpiresAt, time.Minute)
}

func TestRotateRevokesOldToken(t *testing.T) {
	svc, _ := newTestTokenService()
	ctx := context.Background()

	old, err := svc.IssueRefresh(ctx, "u1")
	require.NoError(t, err)

	access, renewed, err := svc.Rotate(ctx, old.Token, "alice", []string{"user"})
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEqual(t, old.Token, renewed.Token)
	require.Equal(t, "u1", renewed.UserID)

	// The rotated-out token fails a second rotation.
	_, _, err = svc.Rotate(ctx, old.Token, "alice", nil)
	require.ErrorIs(t, err, ErrRevoked)

	// The replacement validates exactly once more.
	_, err = svc.ValidateRefresh(ctx, renewed.Token)
	require.NoError(t, err)

	// The pre-rotation access token stays valid until its exp.
	claims, err := svc.VerifyAccess(access)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
}

func TestValidateRefreshExpired(t *testing.T) {
	svc, store := newTestTokenService()
	ctx := context.Background()

	expired := &RefreshToken{
		Token:     "deadbeef",
		UserID:    "u1",
		ExpiresAt: time.Now().Add(-time.Hour),
		CreatedAt: time.Now().Add(-31 * 24 * time.Hour),
	}
	require.NoError(t, store.Save(ctx, expired))

	_, err := svc.ValidateRefresh(ctx, "deadbeef")
	require.ErrorIs(t, err, ErrExpired)
}

func TestIdentify(t *testing.T) {
	svc, _ := newTestTokenService()
	token, err := svc.IssueAccess("u7", "bob", []string{"admin"}, 0)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	claims, err := svc.Identify(headers)
	require.NoError(t, err)
	require.Equal(t, "u7", claims.Subject)

	headers.Set("Authorization", "Basic abc")
	_, err = svc.Identify(headers)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = svc.Identify(http.Header{})
	require.ErrorIs(t, err, ErrMalformed)
}
