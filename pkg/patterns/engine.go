package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config tunes the engine. Zero values fall back to the defaults below.
type Config struct {
	MinOccurrences   int
	MinConfidence    float64
	TrendR2Threshold float64
	BufferCap        int
	Retention        time.Duration
	AnalyzeInterval  time.Duration
}

const (
	defaultMinOccurrences   = 5
	defaultMinConfidence    = 0.7
	defaultTrendR2Threshold = 0.6
	defaultBufferCap        = 10000
	defaultRetention        = 168 * time.Hour
	defaultAnalyzeInterval  = 30 * time.Minute
)

// Store persists significant patterns. Nil disables persistence.
type Store interface {
	SavePattern(ctx context.Context, p *Pattern) error
}

// Engine holds the per-entity data buffers and the discovered-pattern map.
// One mutex guards both; analyzers run over snapshots taken under it.
type Engine struct {
	mu            sync.Mutex
	entityBuffers map[string]*boundedBuffer
	patterns      map[string]*Pattern
	totalPoints   int64
	totalPatterns int64

	minOccurrences   int
	minConfidence    float64
	trendR2Threshold float64
	bufferCap        int
	retention        time.Duration
	interval         time.Duration

	store  Store
	logger *slog.Logger

	// OnDiscovered, when set, observes the number of newly significant
	// patterns per analysis pass.
	OnDiscovered func(n int)

	running bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewEngine builds an engine with an optional persistence store.
func NewEngine(cfg Config, store Store) *Engine {
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = defaultMinOccurrences
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if cfg.TrendR2Threshold <= 0 {
		cfg.TrendR2Threshold = defaultTrendR2Threshold
	}
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = defaultBufferCap
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.AnalyzeInterval <= 0 {
		cfg.AnalyzeInterval = defaultAnalyzeInterval
	}
	return &Engine{
		entityBuffers:    map[string]*boundedBuffer{},
		patterns:         map[string]*Pattern{},
		minOccurrences:   cfg.MinOccurrences,
		minConfidence:    cfg.MinConfidence,
		trendR2Threshold: cfg.TrendR2Threshold,
		bufferCap:        cfg.BufferCap,
		retention:        cfg.Retention,
		interval:         cfg.AnalyzeInterval,
		store:            store,
		logger:           slog.Default().With("component", "patterns"),
		wake:             make(chan struct{}, 1),
	}
}

// AddDataPoint appends to the entity's buffer in O(1). Crossing a batch
// boundary nudges the background worker so hot entities analyze sooner
// than the 30-minute cadence.
func (e *Engine) AddDataPoint(dp DataPoint) {
	if dp.EntityID == "" {
		return
	}
	if dp.Timestamp.IsZero() {
		dp.Timestamp = time.Now().UTC()
	}

	e.mu.Lock()
	buf := e.entityBuffers[dp.EntityID]
	if buf == nil {
		buf = newBoundedBuffer(e.bufferCap)
		e.entityBuffers[dp.EntityID] = buf
	}
	buf.push(dp)
	e.totalPoints++
	nudge := buf.len()%100 == 0
	e.mu.Unlock()

	if nudge {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

// Analyze runs the six analyzers over the named entity, or every entity
// when entityID is empty, and returns the patterns that are newly
// significant or were strengthened. A panicking analyzer is logged and
// skipped; the remaining analyzers still run.
func (e *Engine) Analyze(ctx context.Context, entityID string) []*Pattern {
	snapshots := e.snapshotBuffers(entityID)

	var candidates []*Pattern
	for id, points := range snapshots {
		for _, kind := range Kinds {
			candidates = append(candidates, e.runAnalyzer(kind, id, points)...)
		}
	}

	discovered := e.merge(candidates)
	if len(discovered) > 0 && e.OnDiscovered != nil {
		e.OnDiscovered(len(discovered))
	}
	if e.store != nil {
		for _, p := range discovered {
			if err := e.store.SavePattern(ctx, p); err != nil {
				e.logger.Warn("pattern persistence failed", "pattern_id", p.ID, "error", err)
			}
		}
	}
	return discovered
}

func (e *Engine) snapshotBuffers(entityID string) map[string][]DataPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[string][]DataPoint{}
	if entityID != "" {
		if buf := e.entityBuffers[entityID]; buf != nil {
			out[entityID] = buf.snapshot()
		}
		return out
	}
	for id, buf := range e.entityBuffers {
		out[id] = buf.snapshot()
	}
	return out
}

func (e *Engine) runAnalyzer(kind Kind, entityID string, points []DataPoint) (out []*Pattern) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("analyzer panicked", "kind", string(kind), "entity_id", entityID, "panic", fmt.Sprint(r))
			out = nil
		}
	}()
	switch kind {
	case KindDecision:
		return e.analyzeDecisions(entityID, points)
	case KindBehavior:
		return e.analyzeBehaviors(entityID, points)
	case KindAnomaly:
		return e.analyzeAnomalies(entityID, points)
	case KindTrend:
		return e.analyzeTrends(entityID, points)
	case KindCorrelation:
		return e.analyzeCorrelations(entityID, points)
	case KindSequence:
		return e.analyzeSequences(entityID, points)
	}
	return nil
}

// merge folds candidates into the pattern map. A repeat discovery keeps the
// original DiscoveredAt and a monotone occurrence count. The returned slice
// holds the candidates that are significant after the merge.
func (e *Engine) merge(candidates []*Pattern) []*Pattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	var significant []*Pattern
	for _, c := range candidates {
		if prev, ok := e.patterns[c.ID]; ok {
			c.DiscoveredAt = prev.DiscoveredAt
			if c.Occurrences < prev.Occurrences {
				c.Occurrences = prev.Occurrences
			}
		} else {
			e.totalPatterns++
		}
		e.patterns[c.ID] = c
		if e.isSignificant(c) {
			significant = append(significant, c)
		}
	}
	return significant
}

func (e *Engine) isSignificant(p *Pattern) bool {
	return p.Strength >= e.minConfidence && p.Occurrences >= e.minOccurrences
}

// GetPatterns returns significant patterns, optionally filtered by kind and
// minimum confidence bucket, sorted by strength descending.
func (e *Engine) GetPatterns(kind Kind, minConfidence Confidence) []*Pattern {
	floor := confidenceFloor(minConfidence)

	e.mu.Lock()
	var out []*Pattern
	for _, p := range e.patterns {
		if !e.isSignificant(p) {
			continue
		}
		if kind != "" && p.Kind != kind {
			continue
		}
		if confidenceFloor(p.Confidence) < floor {
			continue
		}
		out = append(out, p)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func confidenceFloor(c Confidence) int {
	switch c {
	case ConfidenceVeryHigh:
		return 4
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// GetPattern looks up one significant pattern by id.
func (e *Engine) GetPattern(id string) (*Pattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[id]
	if !ok || !e.isSignificant(p) {
		return nil, false
	}
	return p, true
}

// Apply scores every significant pattern against the data point and returns
// matches above the 0.3 relevance cutoff, sorted descending.
func (e *Engine) Apply(dp DataPoint) []Match {
	e.mu.Lock()
	var matches []Match
	for _, p := range e.patterns {
		if !e.isSignificant(p) {
			continue
		}
		if rel := relevance(p, dp); rel > 0.3 {
			matches = append(matches, Match{Pattern: p, Relevance: rel})
		}
	}
	e.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Relevance != matches[j].Relevance {
			return matches[i].Relevance > matches[j].Relevance
		}
		return matches[i].Pattern.ID < matches[j].Pattern.ID
	})
	return matches
}

// relevance is the kind-specific applicability of a pattern to a data point.
// Entity-scoped kinds match on entityId; correlation matches when both
// variables appear; anything else takes a discounted default.
func relevance(p *Pattern, dp DataPoint) float64 {
	switch p.Kind {
	case KindDecision:
		if p.Decision != nil && p.Decision.EntityID == dp.EntityID {
			return p.Strength
		}
		return p.Strength * 0.4
	case KindBehavior:
		if p.Behavior != nil && p.Behavior.EntityID == dp.EntityID {
			return p.Strength
		}
		return p.Strength * 0.4
	case KindCorrelation:
		if p.Correlation != nil {
			_, hasA := dp.Numerical[p.Correlation.VariableA]
			_, hasB := dp.Numerical[p.Correlation.VariableB]
			if hasA && hasB {
				return p.Strength
			}
		}
		return p.Strength * 0.4
	default:
		return p.Strength * 0.5
	}
}

// Stats reports engine counters.
type Stats struct {
	Entities       int   `json:"entities"`
	BufferedPoints int   `json:"buffered_points"`
	TotalPoints    int64 `json:"total_points"`
	TotalPatterns  int64 `json:"total_patterns"`
	Significant    int   `json:"significant_patterns"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Entities:      len(e.entityBuffers),
		TotalPoints:   e.totalPoints,
		TotalPatterns: e.totalPatterns,
	}
	for _, buf := range e.entityBuffers {
		s.BufferedPoints += buf.len()
	}
	for _, p := range e.patterns {
		if e.isSignificant(p) {
			s.Significant++
		}
	}
	return s
}

// CleanupOldData drops data points older than retention and evicts patterns
// whose lastUpdated fell behind it. Returns (pointsDropped, patternsDropped).
func (e *Engine) CleanupOldData(now time.Time) (int, int) {
	cutoff := now.Add(-e.retention)

	e.mu.Lock()
	defer e.mu.Unlock()

	droppedPoints := 0
	for id, buf := range e.entityBuffers {
		before := buf.len()
		buf.dropOlderThan(func(dp DataPoint) bool { return dp.Timestamp.Before(cutoff) })
		droppedPoints += before - buf.len()
		if buf.len() == 0 {
			delete(e.entityBuffers, id)
		}
	}

	droppedPatterns := 0
	for id, p := range e.patterns {
		if p.LastUpdated.Before(cutoff) {
			delete(e.patterns, id)
			droppedPatterns++
		}
	}
	return droppedPoints, droppedPatterns
}

// Start launches the background worker: analyze then cleanup on each tick
// or wake nudge. Returns false if already running.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return false
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.loop(ctx)
	return true
}

// Stop halts the worker and waits for the in-flight pass to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()
	<-done
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
		case <-e.wake:
		}
		discovered := e.Analyze(ctx, "")
		points, pats := e.CleanupOldData(time.Now().UTC())
		e.logger.Debug("analysis pass complete",
			"discovered", len(discovered), "points_evicted", points, "patterns_evicted", pats)
	}
}
