package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the access-token claims. Fields align with the persisted user
// record so the registry can enforce roles without a store round trip.
type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// TokenService mints and verifies bearer tokens and manages the refresh
// token lifecycle.
type TokenService struct {
	secret  []byte
	refresh RefreshTokenStore
	now     func() time.Time
}

// NewTokenService creates the service. The secret signs HS256 tokens.
func NewTokenService(secret string, refresh RefreshTokenStore) *TokenService {
	return &TokenService{secret: []byte(secret), refresh: refresh, now: time.Now}
}

// IssueAccess mints a signed access token. ttlHours <= 0 uses the default 24h.
func (s *TokenService) IssueAccess(userID, username string, roles []string, ttlHours int) (string, error) {
	ttl := DefaultAccessTTL
	if ttlHours > 0 {
		ttl = time.Duration(ttlHours) * time.Hour
	}
	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
		Roles:    roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates a token string and returns its claims.
func (s *TokenService) VerifyAccess(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadSignature
		}
		return s.secret, nil
	})
	switch {
	case err == nil && token.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrBadSignature
	default:
		return nil, ErrMalformed
	}
}

// IssueRefresh mints and stores a 30-day opaque refresh token.
func (s *TokenService) IssueRefresh(ctx context.Context, userID string) (*RefreshToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	t := &RefreshToken{
		Token:     hex.EncodeToString(raw),
		UserID:    userID,
		ExpiresAt: now.Add(RefreshTokenLifetime),
		CreatedAt: now,
	}
	if err := s.refresh.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ValidateRefresh loads and checks a refresh token.
func (s *TokenService) ValidateRefresh(ctx context.Context, token string) (*RefreshToken, error) {
	t, err := s.refresh.Get(ctx, token)
	if err != nil {
		return nil, ErrRevoked
	}
	if t.Revoked {
		return nil, ErrRevoked
	}
	if !s.now().Before(t.ExpiresAt) {
		return nil, ErrExpired
	}
	return t, nil
}

// Rotate revokes the old refresh token and issues a new access+refresh pair
// preserving the user lineage. Rotation is linearizable against the store:
// once Rotate returns, the old refresh token no longer validates.
func (s *TokenService) Rotate(ctx context.Context, oldRefresh string, username string, roles []string) (access string, refresh *RefreshToken, err error) {
	old, err := s.ValidateRefresh(ctx, oldRefresh)
	if err != nil {
		return "", nil, err
	}
	if err := s.refresh.Revoke(ctx, old.Token, s.now().UTC()); err != nil {
		return "", nil, err
	}
	access, err = s.IssueAccess(old.UserID, username, roles, 0)
	if err != nil {
		return "", nil, err
	}
	refresh, err = s.IssueRefresh(ctx, old.UserID)
	if err != nil {
		return "", nil, err
	}
	return access, refresh, nil
}

// Revoke invalidates a refresh token (logout).
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	return s.refresh.Revoke(ctx, token, s.now().UTC())
}

// Identify extracts the caller from request headers: it reads
// "Authorization: Bearer <token>", validates, and returns the subject claims.
func (s *TokenService) Identify(headers http.Header) (*Claims, error) {
	header := headers.Get("Authorization")
	if header == "" {
		return nil, ErrMalformed
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, ErrMalformed
	}
	return s.VerifyAccess(parts[1])
}
