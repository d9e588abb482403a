package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/veridian/core/pkg/patterns"
)

// Config tunes the system. Zero values fall back to the defaults below.
type Config struct {
	MaxPerEntity        int
	Retention           time.Duration
	MinForLearning      int
	ConfidenceThreshold float64
	RealTimeLearning    bool
	LearnInterval       time.Duration
}

const (
	defaultMaxPerEntity   = 10000
	defaultRetention      = 168 * time.Hour
	defaultMinForLearning = 10
	defaultConfidence     = 0.7
	defaultLearnInterval  = 15 * time.Minute
)

// ModelStore persists model snapshots. Nil disables persistence.
type ModelStore interface {
	SaveModel(ctx context.Context, m *Model) error
}

// System holds per-entity feedback queues and learning models under one
// mutex. The pattern engine is a one-way downstream dependency: Submit
// emits data points into it, and nothing flows back.
type System struct {
	mu             sync.Mutex
	entityFeedback map[string]*queue
	models         map[string]*Model
	pending        map[string]int
	modelsUpdated  int64

	maxPerEntity        int
	retention           time.Duration
	minForLearning      int
	confidenceThreshold float64
	realTime            bool
	interval            time.Duration

	engine *patterns.Engine
	store  ModelStore
	logger *slog.Logger
	now    func() time.Time

	// OnModelsUpdated, when set, observes the number of models touched
	// per learning pass.
	OnModelsUpdated func(n int)

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSystem builds a feedback system bound to a pattern engine.
func NewSystem(cfg Config, engine *patterns.Engine, store ModelStore) *System {
	if cfg.MaxPerEntity <= 0 {
		cfg.MaxPerEntity = defaultMaxPerEntity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.MinForLearning <= 0 {
		cfg.MinForLearning = defaultMinForLearning
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidence
	}
	if cfg.LearnInterval <= 0 {
		cfg.LearnInterval = defaultLearnInterval
	}
	return &System{
		entityFeedback:      map[string]*queue{},
		models:              map[string]*Model{},
		pending:             map[string]int{},
		maxPerEntity:        cfg.MaxPerEntity,
		retention:           cfg.Retention,
		minForLearning:      cfg.MinForLearning,
		confidenceThreshold: cfg.ConfidenceThreshold,
		realTime:            cfg.RealTimeLearning,
		interval:            cfg.LearnInterval,
		engine:              engine,
		store:               store,
		logger:              slog.Default().With("component", "feedback"),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// queue is a bounded FIFO over feedback data; pushing past the cap evicts
// the oldest signal.
type queue struct {
	items []Data
	cap   int
}

func (q *queue) push(f Data) {
	q.items = append(q.items, f)
	if len(q.items) > q.cap {
		q.items = q.items[1:]
	}
}

func (q *queue) snapshot() []Data {
	out := make([]Data, len(q.items))
	copy(out, q.items)
	return out
}

// Submit ingests a feedback signal, mirrors it into the pattern engine as a
// data point, and triggers real-time learning once the entity accumulates
// enough new signals. The feedback mutex is never held across the engine
// call, so the only lock order in play is feedback before pattern.
func (s *System) Submit(ctx context.Context, f Data) (Data, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = s.now()
	}
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	f.Score = clamp(f.Score, -1, 1)

	s.mu.Lock()
	q := s.entityFeedback[f.TargetEntity]
	if q == nil {
		q = &queue{cap: s.maxPerEntity}
		s.entityFeedback[f.TargetEntity] = q
	}
	q.push(f)
	s.pending[f.TargetEntity]++
	learn := s.realTime && s.pending[f.TargetEntity] >= s.minForLearning
	s.mu.Unlock()

	if s.engine != nil {
		s.engine.AddDataPoint(patterns.DataPoint{
			EntityID:  f.TargetEntity,
			Timestamp: f.Timestamp,
			Categorical: map[string]string{
				"event_type":    "feedback",
				"feedback_kind": string(f.Kind),
				"priority":      string(f.Priority),
			},
			Numerical: map[string]float64{
				"feedback_score":  f.Score,
				"feedback_weight": Weight(f, s.now()),
			},
		})
	}

	if learn {
		s.ApplyLearning(ctx, f.TargetEntity)
	}
	return f, nil
}

// Significant reports whether a signal clears the confidence threshold at
// medium priority or above.
func (s *System) Significant(f Data) bool {
	score := f.Score
	if score < 0 {
		score = -score
	}
	return score >= s.confidenceThreshold && priorityRank(f.Priority) >= priorityRank(PriorityMedium)
}

// ApplyLearning runs each model type's strategy over the entity's recent
// feedback; with an empty entityID every entity learns. Returns the number
// of models updated.
func (s *System) ApplyLearning(ctx context.Context, entityID string) int {
	s.mu.Lock()
	batches := map[string][]Data{}
	if entityID != "" {
		if q := s.entityFeedback[entityID]; q != nil {
			batches[entityID] = q.snapshot()
		}
	} else {
		for id, q := range s.entityFeedback {
			batches[id] = q.snapshot()
		}
	}
	s.mu.Unlock()

	now := s.now()
	updated := 0
	var snapshots []*Model
	for id, fs := range batches {
		if len(fs) == 0 {
			continue
		}
		// Strategies mutate the shared model, so they run under the mutex;
		// only copies leave it for persistence.
		s.mu.Lock()
		for _, mt := range ModelTypes {
			m := s.resolveModelLocked(id, mt)
			s.runStrategy(m, fs, now)
			s.finishTraining(m, fs, now)
			updated++
			snapshots = append(snapshots, cloneModel(m))
		}
		s.pending[id] = 0
		s.mu.Unlock()
	}

	if updated > 0 {
		s.mu.Lock()
		s.modelsUpdated += int64(updated)
		s.mu.Unlock()
		if s.OnModelsUpdated != nil {
			s.OnModelsUpdated(updated)
		}
	}
	if s.store != nil {
		for _, m := range snapshots {
			if err := s.store.SaveModel(ctx, m); err != nil {
				s.logger.Warn("model persistence failed", "model_id", m.ID, "error", err)
			}
		}
	}
	return updated
}

// resolveModelLocked finds or creates the model; the caller holds s.mu.
func (s *System) resolveModelLocked(entityID string, mt ModelType) *Model {
	id := ModelID(entityID, mt)
	if m, ok := s.models[id]; ok {
		return m
	}
	m := &Model{
		ID:         id,
		ModelType:  mt,
		EntityID:   entityID,
		Strategy:   strategyFor(mt),
		Parameters: map[string]float64{},
		Accuracy:   0.5,
	}
	// Reinforcement shifts existing parameters, so behavior models start
	// with a neutral baseline weight.
	if mt == ModelBehavior {
		m.Parameters["baseline"] = 0.5
	}
	s.models[id] = m
	return m
}

func (s *System) runStrategy(m *Model, fs []Data, now time.Time) {
	switch m.Strategy {
	case StrategyReinforcement:
		applyReinforcement(m, fs, now)
	case StrategyBatch:
		applyBatch(m, fs)
	default:
		applySupervised(m, fs, now)
	}
}

func (s *System) finishTraining(m *Model, fs []Data, now time.Time) {
	m.LastTrainedAt = now
	m.SampleCount += len(fs)
	for _, f := range fs {
		if s.Significant(f) {
			m.FeedbackWindow = append(m.FeedbackWindow, f)
		}
	}
	if len(m.FeedbackWindow) > 100 {
		m.FeedbackWindow = m.FeedbackWindow[len(m.FeedbackWindow)-100:]
	}
}

// cloneModel copies the mutable fields so readers never share Parameters
// or FeedbackWindow backing storage with a model still being trained.
func cloneModel(m *Model) *Model {
	cp := *m
	cp.Parameters = make(map[string]float64, len(m.Parameters))
	for k, v := range m.Parameters {
		cp.Parameters[k] = v
	}
	cp.FeedbackWindow = append([]Data(nil), m.FeedbackWindow...)
	return &cp
}

// GetModel returns a copy of the model, if it exists.
func (s *System) GetModel(entityID string, mt ModelType) (Model, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[ModelID(entityID, mt)]
	if !ok {
		return Model{}, false
	}
	return *cloneModel(m), true
}

// Prune drops feedback older than retention. Returns the number removed.
func (s *System) Prune(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, q := range s.entityFeedback {
		kept := q.items[:0]
		for _, f := range q.items {
			if f.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, f)
		}
		q.items = kept
		if len(q.items) == 0 {
			delete(s.entityFeedback, id)
		}
	}
	return removed
}

// Stats reports system counters.
type Stats struct {
	Entities      int   `json:"entities"`
	Buffered      int   `json:"buffered_feedback"`
	Models        int   `json:"models"`
	ModelsUpdated int64 `json:"models_updated"`
}

func (s *System) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Entities:      len(s.entityFeedback),
		Models:        len(s.models),
		ModelsUpdated: s.modelsUpdated,
	}
	for _, q := range s.entityFeedback {
		st.Buffered += len(q.items)
	}
	return st
}

// Start launches the learning worker: learn across entities, then prune.
func (s *System) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	return true
}

// Stop halts the worker and waits for the in-flight pass to finish.
func (s *System) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *System) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}
		updated := s.ApplyLearning(ctx, "")
		pruned := s.Prune(s.now())
		s.logger.Debug("learning pass complete", "models_updated", updated, "feedback_pruned", pruned)
	}
}
