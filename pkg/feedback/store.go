package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veridian-labs/veridian/core/pkg/database"
)

// PostgresModelStore snapshots learning models into learning_models. The
// feedback window stays in memory; only the learned state is durable.
type PostgresModelStore struct {
	pool *database.Pool
}

func NewPostgresModelStore(pool *database.Pool) *PostgresModelStore {
	return &PostgresModelStore{pool: pool}
}

func (s *PostgresModelStore) SaveModel(ctx context.Context, m *Model) error {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release(h)

	params, err := json.Marshal(m.Parameters)
	if err != nil {
		return fmt.Errorf("encode model parameters: %w", err)
	}

	_, err = h.Exec(ctx, `
		INSERT INTO learning_models
		       (model_id, model_type, entity_id, strategy, parameters,
		        accuracy, sample_count, last_trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (model_id) DO UPDATE SET
		       parameters = EXCLUDED.parameters,
		       accuracy = EXCLUDED.accuracy,
		       sample_count = EXCLUDED.sample_count,
		       last_trained_at = EXCLUDED.last_trained_at`,
		m.ID, string(m.ModelType), m.EntityID, string(m.Strategy), string(params),
		m.Accuracy, m.SampleCount, m.LastTrainedAt)
	return err
}

// LoadModels restores every persisted model, keyed by model id.
func (s *PostgresModelStore) LoadModels(ctx context.Context) (map[string]*Model, error) {
	h, err := s.pool.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Release(h)

	rows, err := h.Query(ctx, `
		SELECT model_id, model_type, entity_id, strategy, parameters,
		       accuracy, sample_count, last_trained_at
		  FROM learning_models`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*Model{}
	for rows.Next() {
		var m Model
		var params string
		err := rows.Scan(&m.ID, &m.ModelType, &m.EntityID, &m.Strategy, &params,
			&m.Accuracy, &m.SampleCount, &m.LastTrainedAt)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &m.Parameters); err != nil {
			m.Parameters = map[string]float64{}
		}
		out[m.ID] = &m
	}
	return out, rows.Err()
}
