package regmonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veridian-labs/veridian/core/pkg/httpclient"
	"github.com/veridian-labs/veridian/core/pkg/patterns"
)

// Config tunes the monitor. Zero values fall back to the defaults below.
type Config struct {
	ScrapeTimeout    time.Duration
	FailureThreshold int
	SchedulerTick    time.Duration
	DrainDeadline    time.Duration
}

const (
	defaultScrapeTimeout    = 30 * time.Second
	defaultFailureThreshold = 5
	defaultSchedulerTick    = 30 * time.Second
	defaultDrainDeadline    = 15 * time.Second

	backoffMin = 15 * time.Minute
	backoffMax = 24 * time.Hour
)

// ErrUnknownSource is returned by ForceCheck for an unregistered source id.
var ErrUnknownSource = errors.New("unknown source")

// sourceState is the monitor's scheduling view of one source.
type sourceState struct {
	Source
	backoff     time.Duration
	nextCheckAt time.Time
	inFlight    bool
}

// Monitor schedules scrape cycles per source, deduplicates extracted
// changes, and quarantines sources that fail repeatedly. Cycles for
// different sources run concurrently and independently.
type Monitor struct {
	mu      sync.Mutex
	sources map[string]*sourceState

	cycles     int64
	inserted   int64
	duplicated int64
	failed     int64

	client      *httpclient.Client
	changes     ChangeStore
	sourceStore SourceStore
	engine      *patterns.Engine
	logger      *slog.Logger
	now         func() time.Time

	scrapeTimeout    time.Duration
	failureThreshold int
	tick             time.Duration
	drainDeadline    time.Duration

	// OnCycle, when set, observes each completed cycle.
	OnCycle func(result CycleResult)

	running bool
	stop    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor builds a monitor over the given stores. The pattern engine and
// source store may be nil; the change store may not.
func NewMonitor(cfg Config, client *httpclient.Client, changes ChangeStore, sources SourceStore, engine *patterns.Engine) *Monitor {
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = defaultScrapeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.SchedulerTick <= 0 {
		cfg.SchedulerTick = defaultSchedulerTick
	}
	if cfg.DrainDeadline <= 0 {
		cfg.DrainDeadline = defaultDrainDeadline
	}
	if client == nil {
		client = httpclient.New(cfg.ScrapeTimeout)
	}
	return &Monitor{
		sources:          map[string]*sourceState{},
		client:           client,
		changes:          changes,
		sourceStore:      sources,
		engine:           engine,
		logger:           slog.Default().With("component", "regmonitor"),
		now:              func() time.Time { return time.Now().UTC() },
		scrapeTimeout:    cfg.ScrapeTimeout,
		failureThreshold: cfg.FailureThreshold,
		tick:             cfg.SchedulerTick,
		drainDeadline:    cfg.DrainDeadline,
	}
}

// AddSource registers a source for scheduling; an inactive source is held
// but never checked.
func (m *Monitor) AddSource(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = &sourceState{Source: src, nextCheckAt: m.now()}
}

// LoadSources pulls persisted sources, falling back to the defaults when
// the table is empty.
func (m *Monitor) LoadSources(ctx context.Context) error {
	if m.sourceStore == nil {
		for _, src := range DefaultSources() {
			m.AddSource(src)
		}
		return nil
	}
	persisted, err := m.sourceStore.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	if len(persisted) == 0 {
		for _, src := range DefaultSources() {
			m.AddSource(src)
			if err := m.sourceStore.SaveSource(ctx, src); err != nil {
				return fmt.Errorf("seed source %s: %w", src.ID, err)
			}
		}
		return nil
	}
	for _, src := range persisted {
		if src.ConsecutiveFailures >= m.failureThreshold {
			src.Quarantined = true
		}
		m.AddSource(src)
	}
	return nil
}

// CheckSource runs one scrape cycle for the source. A successful cycle
// resets the failure counter and lifts quarantine; a failed fetch advances
// the backoff schedule.
func (m *Monitor) CheckSource(ctx context.Context, sourceID string) (CycleResult, error) {
	m.mu.Lock()
	state, ok := m.sources[sourceID]
	if !ok {
		m.mu.Unlock()
		return CycleResult{}, ErrUnknownSource
	}
	src := state.Source
	m.mu.Unlock()

	result := CycleResult{SourceID: sourceID}

	fetchCtx, cancel := context.WithTimeout(ctx, m.scrapeTimeout)
	defer cancel()
	resp := m.client.Get(fetchCtx, src.BaseURL)
	if resp.Err != nil || !resp.Success {
		err := resp.Err
		if err == nil {
			err = fmt.Errorf("unexpected status %d", resp.Status)
		}
		m.recordFailure(ctx, sourceID)
		m.logger.Warn("scrape failed", "source_id", sourceID, "error", err)
		return result, fmt.Errorf("scrape %s: %w", sourceID, err)
	}

	candidates := ExtractorFor(src.SourceType).Extract(resp.Body, src)
	now := m.now()
	for _, c := range candidates {
		inserted, err := m.changes.Upsert(ctx, Change{
			SourceID:    sourceID,
			ContentHash: ContentHash(c.Title, c.Body),
			Title:       c.Title,
			URL:         c.URL,
			Severity:    c.Severity,
			ChangeType:  c.ChangeType,
			FirstSeenAt: now,
			LastSeenAt:  now,
		})
		switch {
		case err != nil:
			result.Failed++
			m.logger.Warn("change upsert failed", "source_id", sourceID, "error", err)
		case inserted:
			result.Inserted++
		default:
			result.Duplicated++
		}
	}

	m.recordSuccess(ctx, sourceID, result)

	if m.engine != nil {
		m.engine.AddDataPoint(patterns.DataPoint{
			EntityID:    sourceID,
			Timestamp:   now,
			Categorical: map[string]string{"event_type": "reg_scrape_ok"},
			Numerical:   map[string]float64{"new_changes": float64(result.Inserted)},
		})
	}
	if m.OnCycle != nil {
		m.OnCycle(result)
	}
	return result, nil
}

// ForceCheck runs one off-cycle check; its results merge into the same
// counters, and success un-quarantines the source.
func (m *Monitor) ForceCheck(ctx context.Context, sourceID string) (CycleResult, error) {
	return m.CheckSource(ctx, sourceID)
}

func (m *Monitor) recordFailure(ctx context.Context, sourceID string) {
	m.mu.Lock()
	state, ok := m.sources[sourceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.cycles++
	state.ConsecutiveFailures++
	state.LastCheckedAt = m.now()
	if state.ConsecutiveFailures >= m.failureThreshold {
		state.Quarantined = true
		if state.backoff == 0 {
			state.backoff = backoffMin
		} else {
			state.backoff *= 2
			if state.backoff > backoffMax {
				state.backoff = backoffMax
			}
		}
		state.nextCheckAt = m.now().Add(state.backoff)
	} else {
		state.nextCheckAt = m.now().Add(time.Duration(state.CheckIntervalMinutes) * time.Minute)
	}
	src := state.Source
	m.mu.Unlock()

	m.persistSource(ctx, src)
}

func (m *Monitor) recordSuccess(ctx context.Context, sourceID string, result CycleResult) {
	m.mu.Lock()
	state, ok := m.sources[sourceID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.cycles++
	m.inserted += int64(result.Inserted)
	m.duplicated += int64(result.Duplicated)
	m.failed += int64(result.Failed)
	state.ConsecutiveFailures = 0
	state.Quarantined = false
	state.backoff = 0
	state.LastCheckedAt = m.now()
	state.nextCheckAt = m.now().Add(time.Duration(state.CheckIntervalMinutes) * time.Minute)
	src := state.Source
	m.mu.Unlock()

	m.persistSource(ctx, src)
}

func (m *Monitor) persistSource(ctx context.Context, src Source) {
	if m.sourceStore == nil {
		return
	}
	if err := m.sourceStore.SaveSource(ctx, src); err != nil {
		m.logger.Warn("source persistence failed", "source_id", src.ID, "error", err)
	}
}

// Stats snapshots the monitor's counters and per-source state.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Cycles:     m.cycles,
		Inserted:   m.inserted,
		Duplicated: m.duplicated,
		Failed:     m.failed,
	}
	for _, state := range m.sources {
		s.Sources = append(s.Sources, state.Source)
	}
	return s
}

// Sources lists the registered sources.
func (m *Monitor) Sources() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Source, 0, len(m.sources))
	for _, state := range m.sources {
		out = append(out, state.Source)
	}
	return out
}

// Start launches the scheduler. Each due source gets its own cycle
// goroutine; a source never has two cycles in flight.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return false
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
	return true
}

// Stop halts the scheduler and drains in-flight cycles within the drain
// deadline; cycles still running after that are abandoned to their
// context timeouts.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(m.drainDeadline):
		m.logger.Warn("shutdown drain deadline exceeded")
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
		}
		m.dispatchDue(ctx)
	}
}

func (m *Monitor) dispatchDue(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var due []string
	for id, state := range m.sources {
		if state.Active && !state.inFlight && !state.nextCheckAt.After(now) {
			state.inFlight = true
			due = append(due, id)
		}
	}
	m.mu.Unlock()

	for _, id := range due {
		m.wg.Add(1)
		go func(id string) {
			defer m.wg.Done()
			defer func() {
				m.mu.Lock()
				if state, ok := m.sources[id]; ok {
					state.inFlight = false
				}
				m.mu.Unlock()
			}()
			if _, err := m.CheckSource(ctx, id); err != nil {
				m.logger.Debug("scheduled cycle failed", "source_id", id, "error", err)
			}
		}(id)
	}
}
