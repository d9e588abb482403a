package regmonitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/database"
)

// ChangeStore is the deduplicating sink for extracted changes.
type ChangeStore interface {
	// Upsert inserts the change keyed on (sourceId, contentHash) or, on
	// conflict, advances lastSeenAt. Returns true when a new row was
	// created.
	Upsert(ctx context.Context, c Change) (bool, error)
	// Recent lists changes newest-first.
	Recent(ctx context.Context, limit int) ([]Change, error)
}

// SourceStore persists per-source scheduling state.
type SourceStore interface {
	ListSources(ctx context.Context) ([]Source, error)
	SaveSource(ctx context.Context, s Source) error
}

// PostgresChangeStore rides the pooled handle; the unique constraint on
// (source_id, content_hash) is the duplicate barrier.
type PostgresChangeStore struct {
	pool *database.Pool
}

func NewPostgresChangeStore(pool *database.Pool) *PostgresChangeStore {
	return &PostgresChangeStore{pool: pool}
}

func (s *PostgresChangeStore) Upsert(ctx context.Context, c Change) (bool, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Release(h)

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	// The RETURNING comparison detects an insert portably across postgres
	// and sqlite. A duplicate carrying a timestamp identical to the row's
	// first_seen_at would miscount as an insert; that can only happen when
	// one cycle emits the same (source, hash) twice at the same instant,
	// and it skews the cycle counters, never the stored row.
	row := h.QueryRow(ctx, `
		INSERT INTO regulatory_changes
		       (id, source_id, content_hash, title, url, severity, change_type,
		        first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (source_id, content_hash) DO UPDATE SET last_seen_at = $8
		RETURNING first_seen_at = last_seen_at`,
		c.ID, c.SourceID, c.ContentHash, c.Title, c.URL, c.Severity, c.ChangeType,
		c.FirstSeenAt)

	var inserted bool
	if err := row.Scan(&inserted); err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *PostgresChangeStore) Recent(ctx context.Context, limit int) ([]Change, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT id, source_id, content_hash, title, url, severity, change_type,
		       first_seen_at, last_seen_at
		  FROM regulatory_changes
		 ORDER BY last_seen_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var c Change
		err := rows.Scan(&c.ID, &c.SourceID, &c.ContentHash, &c.Title, &c.URL,
			&c.Severity, &c.ChangeType, &c.FirstSeenAt, &c.LastSeenAt)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PostgresSourceStore persists the regulatory_sources table.
type PostgresSourceStore struct {
	pool *database.Pool
}

func NewPostgresSourceStore(pool *database.Pool) *PostgresSourceStore {
	return &PostgresSourceStore{pool: pool}
}

func (s *PostgresSourceStore) ListSources(ctx context.Context) ([]Source, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT id, name, base_url, source_type, check_interval_minutes,
		       active, consecutive_failures
		  FROM regulatory_sources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		err := rows.Scan(&src.ID, &src.Name, &src.BaseURL, &src.SourceType,
			&src.CheckIntervalMinutes, &src.Active, &src.ConsecutiveFailures)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *PostgresSourceStore) SaveSource(ctx context.Context, src Source) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	_, err = h.Exec(ctx, `
		INSERT INTO regulatory_sources
		       (id, name, base_url, source_type, check_interval_minutes,
		        active, consecutive_failures)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		       name = EXCLUDED.name,
		       base_url = EXCLUDED.base_url,
		       source_type = EXCLUDED.source_type,
		       check_interval_minutes = EXCLUDED.check_interval_minutes,
		       active = EXCLUDED.active,
		       consecutive_failures = EXCLUDED.consecutive_failures`,
		src.ID, src.Name, src.BaseURL, src.SourceType, src.CheckIntervalMinutes,
		src.Active, src.ConsecutiveFailures)
	return err
}

// MemoryChangeStore is the in-memory ChangeStore used by tests and the
// standalone console.
type MemoryChangeStore struct {
	mu   sync.Mutex
	rows map[[2]string]*Change
}

func NewMemoryChangeStore() *MemoryChangeStore {
	return &MemoryChangeStore{rows: map[[2]string]*Change{}}
}

func (s *MemoryChangeStore) Upsert(ctx context.Context, c Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{c.SourceID, c.ContentHash}
	if prev, ok := s.rows[key]; ok {
		prev.LastSeenAt = c.LastSeenAt
		if prev.LastSeenAt.IsZero() {
			prev.LastSeenAt = time.Now().UTC()
		}
		return false, nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.LastSeenAt.IsZero() {
		c.LastSeenAt = c.FirstSeenAt
	}
	cp := c
	s.rows[key] = &cp
	return true, nil
}

func (s *MemoryChangeStore) Recent(ctx context.Context, limit int) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Change, 0, len(s.rows))
	for _, c := range s.rows {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemorySourceStore is the in-memory SourceStore counterpart.
type MemorySourceStore struct {
	mu      sync.Mutex
	sources map[string]Source
}

func NewMemorySourceStore(seed []Source) *MemorySourceStore {
	s := &MemorySourceStore{sources: map[string]Source{}}
	for _, src := range seed {
		s.sources[src.ID] = src
	}
	return s
}

func (s *MemorySourceStore) ListSources(ctx context.Context) ([]Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemorySourceStore) SaveSource(ctx context.Context, src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}
