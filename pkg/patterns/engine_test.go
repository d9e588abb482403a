package patterns

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, nil)
}

func TestBufferCapKeepsLastPushed(t *testing.T) {
	e := newTestEngine(Config{BufferCap: 10})
	for i := 0; i < 25; i++ {
		e.AddDataPoint(DataPoint{
			EntityID:  "ent",
			Timestamp: time.Now(),
			Numerical: map[string]float64{"seq": float64(i)},
		})
	}

	snap := e.snapshotBuffers("ent")["ent"]
	require.Len(t, snap, 10)
	for i, dp := range snap {
		require.Equal(t, float64(15+i), dp.Numerical["seq"])
	}
}

func TestAddDataPointIgnoresEmptyEntity(t *testing.T) {
	e := newTestEngine(Config{})
	e.AddDataPoint(DataPoint{Numerical: map[string]float64{"x": 1}})
	require.Equal(t, 0, e.Stats().Entities)
}

func TestAnomalyDetectionScenario(t *testing.T) {
	// 80 baseline points hovering around 1, then 19 quiet points and one
	// spike at 20. Exactly one anomaly pattern, critical impact.
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.5})
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 80; i++ {
		v := 0.9
		if i%2 == 0 {
			v = 1.1
		}
		e.AddDataPoint(DataPoint{
			EntityID:  "src",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Numerical: map[string]float64{"feature": v},
		})
	}
	for i := 0; i < 20; i++ {
		v := 1.0
		if i == 19 {
			v = 20.0
		}
		e.AddDataPoint(DataPoint{
			EntityID:  "src",
			Timestamp: base.Add(time.Duration(80+i) * time.Second),
			Numerical: map[string]float64{"feature": v},
		})
	}

	discovered := e.Analyze(context.Background(), "src")

	var anomalies []*Pattern
	for _, p := range discovered {
		if p.Kind == KindAnomaly {
			anomalies = append(anomalies, p)
		}
	}
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	require.NotNil(t, a.Anomaly)
	require.Equal(t, "feature", a.Anomaly.Feature)
	require.Equal(t, ImpactCritical, a.Impact)

	expected := math.Min(1, math.Abs(a.Anomaly.ZScore)/5)
	require.InDelta(t, expected, a.Strength, 1e-9)
	require.Greater(t, math.Abs(a.Anomaly.ZScore), 5.0)
}

func TestAnomalyDetectionConstantBaseline(t *testing.T) {
	// 80 points pinned at exactly 1, then 19 more at 1 and a final spike
	// at 20. Zero baseline deviation must not suppress the anomaly: the
	// spike is an unbounded z-score, so strength saturates at 1 and the
	// impact is critical.
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.5})
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 100; i++ {
		v := 1.0
		if i == 99 {
			v = 20.0
		}
		e.AddDataPoint(DataPoint{
			EntityID:  "src",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Numerical: map[string]float64{"feature": v},
		})
	}

	discovered := e.Analyze(context.Background(), "src")

	var anomalies []*Pattern
	for _, p := range discovered {
		if p.Kind == KindAnomaly {
			anomalies = append(anomalies, p)
		}
	}
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	require.NotNil(t, a.Anomaly)
	require.Equal(t, "feature", a.Anomaly.Feature)
	require.Equal(t, 1, a.Occurrences)
	require.Equal(t, 20.0, a.Anomaly.Value)
	require.Equal(t, 0.0, a.Anomaly.BaselineStd)
	require.Equal(t, ImpactCritical, a.Impact)
	require.Equal(t, 1.0, a.Strength)
}

func TestGetPatternsReturnsOnlySignificant(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 5, MinConfidence: 0.7})
	now := time.Now()
	e.patterns["weak"] = &Pattern{
		ID: "weak", Kind: KindTrend, Strength: 0.95, Occurrences: 2,
		Confidence: ConfidenceVeryHigh, LastUpdated: now,
	}
	e.patterns["faint"] = &Pattern{
		ID: "faint", Kind: KindTrend, Strength: 0.5, Occurrences: 50,
		Confidence: ConfidenceMedium, LastUpdated: now,
	}
	e.patterns["solid"] = &Pattern{
		ID: "solid", Kind: KindTrend, Strength: 0.8, Occurrences: 10,
		Confidence: ConfidenceHigh, LastUpdated: now,
	}

	got := e.GetPatterns("", "")
	require.Len(t, got, 1)
	require.Equal(t, "solid", got[0].ID)

	_, ok := e.GetPattern("weak")
	require.False(t, ok)
	p, ok := e.GetPattern("solid")
	require.True(t, ok)
	require.Equal(t, 0.8, p.Strength)
}

func TestGetPatternsSortedByStrengthAndFiltered(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.1})
	now := time.Now()
	for i, s := range []float64{0.3, 0.95, 0.6} {
		id := fmt.Sprintf("p%d", i)
		e.patterns[id] = &Pattern{
			ID: id, Kind: KindBehavior, Strength: s, Occurrences: 10,
			Confidence: confidenceFor(s), LastUpdated: now,
		}
	}
	e.patterns["other"] = &Pattern{
		ID: "other", Kind: KindTrend, Strength: 0.99, Occurrences: 10,
		Confidence: ConfidenceVeryHigh, LastUpdated: now,
	}

	got := e.GetPatterns(KindBehavior, "")
	require.Len(t, got, 3)
	require.Equal(t, 0.95, got[0].Strength)
	require.Equal(t, 0.6, got[1].Strength)
	require.Equal(t, 0.3, got[2].Strength)

	high := e.GetPatterns(KindBehavior, ConfidenceHigh)
	require.Len(t, high, 1)
	require.Equal(t, 0.95, high[0].Strength)
}

func TestCorrelationEmitsOnePatternPerPair(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.1})
	base := time.Now()
	for i := 0; i < 30; i++ {
		e.AddDataPoint(DataPoint{
			EntityID:  "acct",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Numerical: map[string]float64{
				"amount": float64(i),
				"risk":   float64(i)*2 + 1,
			},
		})
	}

	e.Analyze(context.Background(), "acct")

	var correlations []*Pattern
	for _, p := range e.GetPatterns(KindCorrelation, "") {
		correlations = append(correlations, p)
	}
	require.Len(t, correlations, 1)
	c := correlations[0]
	require.Equal(t, "amount", c.Correlation.VariableA)
	require.Equal(t, "risk", c.Correlation.VariableB)
	require.InDelta(t, 1.0, c.Correlation.Pearson, 1e-9)

	// Re-analysis over the same window must not mint a mirrored (b,a) row.
	e.Analyze(context.Background(), "acct")
	require.Len(t, e.GetPatterns(KindCorrelation, ""), 1)
}

func TestRepeatDiscoveryStrengthensNotDuplicates(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 3, MinConfidence: 0.01})
	base := time.Now()
	push := func(n int) {
		for i := 0; i < n; i++ {
			e.AddDataPoint(DataPoint{
				EntityID:    "agent",
				Timestamp:   base.Add(time.Duration(i) * time.Second),
				Categorical: map[string]string{"decision_type": "loan"},
				Numerical:   map[string]float64{"factor_income": 0.5},
			})
		}
	}

	push(5)
	first := e.Analyze(context.Background(), "agent")
	require.NotEmpty(t, first)

	var decision *Pattern
	for _, p := range first {
		if p.Kind == KindDecision {
			decision = p
		}
	}
	require.NotNil(t, decision)
	firstSeen := decision.DiscoveredAt
	firstOcc := decision.Occurrences

	push(5)
	e.Analyze(context.Background(), "agent")

	got, ok := e.GetPattern(decision.ID)
	require.True(t, ok)
	require.Equal(t, firstSeen, got.DiscoveredAt)
	require.GreaterOrEqual(t, got.Occurrences, firstOcc)

	require.Len(t, e.GetPatterns(KindDecision, ""), 1)
}

func TestSequenceAnalyzerFindsBigrams(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 3, MinConfidence: 0.1})
	base := time.Now()
	events := []string{"login", "export", "login", "export", "login", "export", "logout"}
	for i, ev := range events {
		e.AddDataPoint(DataPoint{
			EntityID:    "user-1",
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Categorical: map[string]string{"event_type": ev},
		})
	}

	e.Analyze(context.Background(), "user-1")
	seqs := e.GetPatterns(KindSequence, "")
	require.Len(t, seqs, 1)
	require.Equal(t, []string{"login", "export"}, seqs[0].Sequence.Events)
	require.Equal(t, 3, seqs[0].Sequence.Count)
}

func TestBehaviorAnalyzerRequiresStability(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.1})
	base := time.Now()
	add := func(entity, behavior string, vs []float64) {
		for i, v := range vs {
			e.AddDataPoint(DataPoint{
				EntityID:    entity,
				Timestamp:   base.Add(time.Duration(i) * time.Second),
				Categorical: map[string]string{"behavior_type": behavior},
				Numerical:   map[string]float64{"behavior_value": v},
			})
		}
	}

	stable := make([]float64, 12)
	for i := range stable {
		stable[i] = 100 + float64(i%2)
	}
	add("steady", "response_time", stable)

	noisy := []float64{1, 50, 2, 80, 3, 90, 4, 70, 5, 60, 6, 40}
	add("erratic", "response_time", noisy)

	e.Analyze(context.Background(), "")
	behaviors := e.GetPatterns(KindBehavior, "")
	require.Len(t, behaviors, 1)
	require.Equal(t, "steady", behaviors[0].Behavior.EntityID)
}

func TestTrendAnalyzerDirection(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.1, TrendR2Threshold: 0.6})
	base := time.Now()
	for i := 0; i < 20; i++ {
		e.AddDataPoint(DataPoint{
			EntityID:  "metricsrc",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Numerical: map[string]float64{"failures": float64(20 - i)},
		})
	}

	e.Analyze(context.Background(), "metricsrc")
	trends := e.GetPatterns(KindTrend, "")
	require.Len(t, trends, 1)
	require.Equal(t, "decreasing", trends[0].Trend.Direction)
	require.Less(t, trends[0].Trend.Slope, 0.0)
	require.Greater(t, trends[0].Trend.RSquared, 0.6)
}

func TestApplyFiltersAndSorts(t *testing.T) {
	e := newTestEngine(Config{MinOccurrences: 1, MinConfidence: 0.1})
	now := time.Now()
	e.patterns["d1"] = &Pattern{
		ID: "d1", Kind: KindDecision, Strength: 0.9, Occurrences: 10,
		Confidence: ConfidenceVeryHigh, LastUpdated: now,
		Decision: &DecisionPayload{EntityID: "me", DecisionType: "loan"},
	}
	e.patterns["d2"] = &Pattern{
		ID: "d2", Kind: KindDecision, Strength: 0.6, Occurrences: 10,
		Confidence: ConfidenceMedium, LastUpdated: now,
		Decision: &DecisionPayload{EntityID: "someone-else", DecisionType: "loan"},
	}
	e.patterns["c1"] = &Pattern{
		ID: "c1", Kind: KindCorrelation, Strength: 0.8, Occurrences: 10,
		Confidence: ConfidenceHigh, LastUpdated: now,
		Correlation: &CorrelationPayload{EntityID: "me", VariableA: "a", VariableB: "b"},
	}

	matches := e.Apply(DataPoint{
		EntityID:  "me",
		Numerical: map[string]float64{"a": 1, "b": 2},
	})

	// d1 matches on entity (0.9); c1 has both variables (0.8); d2 is a
	// foreign-entity decision discounted to 0.24, below the cutoff.
	require.Len(t, matches, 2)
	require.Equal(t, "d1", matches[0].Pattern.ID)
	require.InDelta(t, 0.9, matches[0].Relevance, 1e-9)
	require.Equal(t, "c1", matches[1].Pattern.ID)
	require.InDelta(t, 0.8, matches[1].Relevance, 1e-9)
}

func TestCleanupDropsStaleDataAndPatterns(t *testing.T) {
	e := newTestEngine(Config{Retention: time.Hour})
	now := time.Now().UTC()

	e.AddDataPoint(DataPoint{EntityID: "old", Timestamp: now.Add(-2 * time.Hour), Numerical: map[string]float64{"x": 1}})
	e.AddDataPoint(DataPoint{EntityID: "fresh", Timestamp: now, Numerical: map[string]float64{"x": 1}})
	e.patterns["stale"] = &Pattern{ID: "stale", Kind: KindTrend, LastUpdated: now.Add(-2 * time.Hour)}
	e.patterns["live"] = &Pattern{ID: "live", Kind: KindTrend, LastUpdated: now}

	points, pats := e.CleanupOldData(now)
	require.Equal(t, 1, points)
	require.Equal(t, 1, pats)

	s := e.Stats()
	require.Equal(t, 1, s.Entities)
	_, hasStale := e.patterns["stale"]
	require.False(t, hasStale)
}

func TestWorkerStartStop(t *testing.T) {
	e := newTestEngine(Config{AnalyzeInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, e.Start(ctx))
	require.False(t, e.Start(ctx))

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	// Stop on a stopped engine is a no-op.
	e.Stop()
}
