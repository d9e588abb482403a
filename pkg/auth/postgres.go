package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veridian-labs/veridian/core/pkg/database"
)

// PostgresUserStore implements UserStore over the pooled connection handle.
type PostgresUserStore struct {
	pool *database.Pool
}

func NewPostgresUserStore(pool *database.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.getBy(ctx, "username = $1", username)
}

func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getBy(ctx, "user_id = $1", id)
}

func (s *PostgresUserStore) getBy(ctx context.Context, where string, arg interface{}) (*User, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	query := `SELECT user_id, username, email, password_hash, is_active, roles,
	       created_at, last_login_at, failed_login_attempts
	  FROM user_authentication WHERE ` + where
	row := h.QueryRow(ctx, query, arg)

	var u User
	var rolesJSON string
	var lastLogin sql.NullTime
	err = row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Active,
		&rolesJSON, &u.CreatedAt, &lastLogin, &u.FailedAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if err := json.Unmarshal([]byte(rolesJSON), &u.Roles); err != nil {
		u.Roles = nil
	}
	return &u, nil
}

func (s *PostgresUserStore) Create(ctx context.Context, u *User) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	roles, _ := json.Marshal(u.Roles)
	_, err = h.Exec(ctx, `INSERT INTO user_authentication
	    (user_id, username, email, password_hash, is_active, roles, created_at, failed_login_attempts)
	  VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Active, string(roles), u.CreatedAt)
	return err
}

func (s *PostgresUserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `UPDATE user_authentication
	   SET last_login_at = $2, failed_login_attempts = 0 WHERE user_id = $1`, id, at)
	return err
}

func (s *PostgresUserStore) RecordFailure(ctx context.Context, id string, attempts int, lock bool) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	if lock {
		_, err = h.Exec(ctx, `UPDATE user_authentication
		   SET failed_login_attempts = $2, is_active = FALSE WHERE user_id = $1`, id, attempts)
		return err
	}
	_, err = h.Exec(ctx, `UPDATE user_authentication
	   SET failed_login_attempts = $2 WHERE user_id = $1`, id, attempts)
	return err
}

func (s *PostgresUserStore) ResetFailures(ctx context.Context, id string) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `UPDATE user_authentication
	   SET failed_login_attempts = 0, is_active = TRUE WHERE user_id = $1`, id)
	return err
}

// PostgresRefreshStore implements RefreshTokenStore.
type PostgresRefreshStore struct {
	pool *database.Pool
}

func NewPostgresRefreshStore(pool *database.Pool) *PostgresRefreshStore {
	return &PostgresRefreshStore{pool: pool}
}

func (s *PostgresRefreshStore) Save(ctx context.Context, t *RefreshToken) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `INSERT INTO user_refresh_tokens
	    (refresh_token, user_id, expires_at, is_revoked, created_at)
	  VALUES ($1, $2, $3, FALSE, $4)`,
		t.Token, t.UserID, t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *PostgresRefreshStore) Get(ctx context.Context, token string) (*RefreshToken, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	row := h.QueryRow(ctx, `SELECT refresh_token, user_id, expires_at, is_revoked, revoked_at, created_at
	  FROM user_refresh_tokens WHERE refresh_token = $1`, token)

	var t RefreshToken
	var revokedAt sql.NullTime
	err = row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Revoked, &revokedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return &t, nil
}

func (s *PostgresRefreshStore) Revoke(ctx context.Context, token string, at time.Time) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `UPDATE user_refresh_tokens
	   SET is_revoked = TRUE, revoked_at = $2 WHERE refresh_token = $1`, token, at)
	return err
}

func (s *PostgresRefreshStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(h)

	res, err := h.Exec(ctx, `DELETE FROM user_refresh_tokens
	  WHERE expires_at < $1 OR is_revoked = TRUE`, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
