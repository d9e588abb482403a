package auth

import (
	"context"
	"sync"
	"time"
)

// UserStore persists identity records.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, attempts int, lock bool) error
	ResetFailures(ctx context.Context, id string) error
}

// RefreshTokenStore persists refresh tokens.
type RefreshTokenStore interface {
	Save(ctx context.Context, t *RefreshToken) error
	Get(ctx context.Context, token string) (*RefreshToken, error)
	Revoke(ctx context.Context, token string, at time.Time) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryUserStore is the in-process UserStore used by tests and local mode.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User // keyed by id
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: map[string]*User{}}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUnknownUser
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.LastLoginAt = &at
		u.FailedAttempts = 0
	}
	return nil
}

func (s *MemoryUserStore) RecordFailure(ctx context.Context, id string, attempts int, lock bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.FailedAttempts = attempts
		if lock {
			u.Active = false
		}
	}
	return nil
}

func (s *MemoryUserStore) ResetFailures(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.FailedAttempts = 0
		u.Active = true
	}
	return nil
}

// MemoryRefreshStore is the in-process RefreshTokenStore.
type MemoryRefreshStore struct {
	mu     sync.RWMutex
	tokens map[string]*RefreshToken
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{tokens: map[string]*RefreshToken{}}
}

func (s *MemoryRefreshStore) Save(ctx context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

func (s *MemoryRefreshStore) Get(ctx context.Context, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrRevoked
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryRefreshStore) Revoke(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok {
		t.Revoked = true
		t.RevokedAt = &at
	}
	return nil
}

func (s *MemoryRefreshStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, t := range s.tokens {
		if now.After(t.ExpiresAt) || t.Revoked {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
