package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridian-labs/veridian/core/pkg/database"
)

// PostgresStore persists significant patterns to detected_patterns. The
// upsert keys on pattern_id, so re-discovery refreshes the stored row.
type PostgresStore struct {
	pool *database.Pool
}

func NewPostgresStore(pool *database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SavePattern(ctx context.Context, p *Pattern) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	meta, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pattern: %w", err)
	}

	_, err = h.Exec(ctx, `
		INSERT INTO detected_patterns
		       (pattern_id, pattern_type, name, description, confidence, impact,
		        strength, occurrence_count, is_significant, discovered_at, last_updated, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11)
		ON CONFLICT (pattern_id) DO UPDATE SET
		       strength = EXCLUDED.strength,
		       occurrence_count = EXCLUDED.occurrence_count,
		       confidence = EXCLUDED.confidence,
		       impact = EXCLUDED.impact,
		       description = EXCLUDED.description,
		       last_updated = EXCLUDED.last_updated,
		       metadata = EXCLUDED.metadata`,
		p.ID, string(p.Kind), p.Name, p.Description, string(p.Confidence), string(p.Impact),
		p.Strength, p.Occurrences, p.DiscoveredAt, p.LastUpdated, string(meta))
	return err
}

// ListPatterns loads stored patterns, newest-updated first, for the
// patterns endpoint to merge with the live map.
func (s *PostgresStore) ListPatterns(ctx context.Context, limit int) ([]*Pattern, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT metadata FROM detected_patterns
		 WHERE is_significant
		 ORDER BY last_updated DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Pattern
	for rows.Next() {
		var meta string
		if err := rows.Scan(&meta); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		var p Pattern
		if err := json.Unmarshal([]byte(meta), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// PruneOlderThan removes stored patterns whose last update precedes cutoff.
func (s *PostgresStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Release(h)

	res, err := h.Exec(ctx, `DELETE FROM detected_patterns WHERE last_updated < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
