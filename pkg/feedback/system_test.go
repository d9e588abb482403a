package feedback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/veridian/core/pkg/patterns"
)

func newTestSystem(cfg Config) (*System, *patterns.Engine) {
	engine := patterns.NewEngine(patterns.Config{}, nil)
	return NewSystem(cfg, engine, nil), engine
}

func fb(entity string, score float64, priority Priority) Data {
	return Data{
		Kind:         KindHumanExplicit,
		SourceEntity: "reviewer",
		TargetEntity: entity,
		Score:        score,
		Priority:     priority,
		Timestamp:    time.Now().UTC(),
	}
}

func TestSubmitMirrorsIntoPatternEngine(t *testing.T) {
	s, engine := newTestSystem(Config{})
	got, err := s.Submit(context.Background(), fb("agent-1", 0.8, PriorityHigh))
	require.NoError(t, err)
	require.NotEmpty(t, got.ID)

	stats := engine.Stats()
	require.Equal(t, int64(1), stats.TotalPoints)
	require.Equal(t, 1, stats.Entities)
}

func TestSubmitClampsScoreAndDefaults(t *testing.T) {
	s, _ := newTestSystem(Config{})
	got, err := s.Submit(context.Background(), Data{TargetEntity: "e", Score: 7})
	require.NoError(t, err)
	require.Equal(t, 1.0, got.Score)
	require.Equal(t, PriorityMedium, got.Priority)
	require.False(t, got.Timestamp.IsZero())
}

func TestQueueCapEvictsOldest(t *testing.T) {
	s, _ := newTestSystem(Config{MaxPerEntity: 5})
	for i := 0; i < 12; i++ {
		_, err := s.Submit(context.Background(), fb("e", float64(i%2), PriorityLow))
		require.NoError(t, err)
	}
	require.Equal(t, 5, s.Stats().Buffered)
}

func TestSignificanceRule(t *testing.T) {
	s, _ := newTestSystem(Config{ConfidenceThreshold: 0.7})
	require.True(t, s.Significant(fb("e", 0.8, PriorityMedium)))
	require.True(t, s.Significant(fb("e", -0.9, PriorityCritical)))
	require.False(t, s.Significant(fb("e", 0.5, PriorityCritical)))
	require.False(t, s.Significant(fb("e", 0.9, PriorityLow)))
}

func TestSupervisedLearningUpdatesFactorWeights(t *testing.T) {
	s, _ := newTestSystem(Config{})
	f := fb("agent-1", 1, PriorityCritical)
	f.Metadata = map[string]interface{}{"factor_income_weight": true}
	_, err := s.Submit(context.Background(), f)
	require.NoError(t, err)

	updated := s.ApplyLearning(context.Background(), "agent-1")
	require.Equal(t, 3, updated) // decision, behavior, risk

	m, ok := s.GetModel("agent-1", ModelDecision)
	require.True(t, ok)
	require.Equal(t, StrategySupervised, m.Strategy)
	// weight = 3 (critical) x 1 (fresh), delta = 3 x 1 x 0.01
	require.InDelta(t, 0.03, m.Parameters["factor_income_weight"], 1e-6)
	require.InDelta(t, 1.0, m.Accuracy, 1e-9)
	require.Equal(t, 1, m.SampleCount)
	require.False(t, m.LastTrainedAt.IsZero())
}

func TestSupervisedParametersClamped(t *testing.T) {
	s, _ := newTestSystem(Config{})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		f := fb("agent-2", 1, PriorityCritical)
		f.Metadata = map[string]interface{}{"factor_risk_weight": true}
		_, err := s.Submit(ctx, f)
		require.NoError(t, err)
		s.ApplyLearning(ctx, "agent-2")
	}
	m, _ := s.GetModel("agent-2", ModelDecision)
	require.LessOrEqual(t, m.Parameters["factor_risk_weight"], 1.0)
	require.Greater(t, m.Parameters["factor_risk_weight"], 0.0)
}

func TestReinforcementShiftsBaselineAndAccuracy(t *testing.T) {
	s, _ := newTestSystem(Config{})
	ctx := context.Background()
	_, err := s.Submit(ctx, fb("agent-3", 1, PriorityMedium))
	require.NoError(t, err)
	s.ApplyLearning(ctx, "agent-3")

	m, ok := s.GetModel("agent-3", ModelBehavior)
	require.True(t, ok)
	require.Equal(t, StrategyReinforcement, m.Strategy)
	// reward = 1 (medium weight) x 1 (fresh) x score 1
	require.InDelta(t, 0.501, m.Parameters["baseline"], 1e-6)
	require.InDelta(t, 0.6, m.Accuracy, 1e-6)
}

func TestBatchLearningNeedsThreeSamples(t *testing.T) {
	s, _ := newTestSystem(Config{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		f := fb("agent-4", 0.8, PriorityMedium)
		f.Metadata = map[string]interface{}{"param_threshold": true}
		_, err := s.Submit(ctx, f)
		require.NoError(t, err)
	}
	s.ApplyLearning(ctx, "agent-4")
	m, _ := s.GetModel("agent-4", ModelRisk)
	require.NotContains(t, m.Parameters, "param_threshold")

	f := fb("agent-4", 0.8, PriorityMedium)
	f.Metadata = map[string]interface{}{"param_threshold": true}
	_, err := s.Submit(ctx, f)
	require.NoError(t, err)
	s.ApplyLearning(ctx, "agent-4")

	m, _ = s.GetModel("agent-4", ModelRisk)
	require.InDelta(t, 0.8*0.05, m.Parameters["param_threshold"], 1e-9)
}

func TestAnalyzeFeedbackPatterns(t *testing.T) {
	s, _ := newTestSystem(Config{})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := s.Submit(ctx, fb("agent-5", 0.6, PriorityHigh))
		require.NoError(t, err)
	}

	a := s.AnalyzeFeedbackPatterns("agent-5", 7)
	require.Equal(t, 10, a.Count)
	require.InDelta(t, 0.6, a.AverageScore, 1e-9)
	require.Equal(t, 10, a.KindHistogram[KindHumanExplicit])
	require.Equal(t, 10, a.PriorityHistogram[PriorityHigh])
	require.Contains(t, a.KeyInsights, "feedback is predominantly positive")
	require.Contains(t, a.KeyInsights, "human feedback dominates; more automation suggested")

	// Identical scores: consistency 1, sample size 10/100.
	require.InDelta(t, 0.1, a.Confidence, 1e-9)

	empty := s.AnalyzeFeedbackPatterns("nobody", 7)
	require.Equal(t, 0, empty.Count)
	require.Equal(t, 0.0, empty.Confidence)
}

func TestPruneDropsExpiredFeedback(t *testing.T) {
	s, _ := newTestSystem(Config{Retention: time.Hour})
	old := fb("agent-6", 0.5, PriorityMedium)
	old.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	_, err := s.Submit(context.Background(), old)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), fb("agent-6", 0.5, PriorityMedium))
	require.NoError(t, err)

	removed := s.Prune(time.Now().UTC())
	require.Equal(t, 1, removed)
	require.Equal(t, 1, s.Stats().Buffered)
}

func TestRealTimeLearningTrigger(t *testing.T) {
	s, _ := newTestSystem(Config{RealTimeLearning: true, MinForLearning: 3})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, fb("agent-7", 0.9, PriorityHigh))
		require.NoError(t, err)
	}
	_, ok := s.GetModel("agent-7", ModelDecision)
	require.True(t, ok)
}

// Concurrent submissions and direct data point ingestion on the same entity
// must complete without deadlock, with every submission accounted for.
func TestConcurrentSubmitAndIngest(t *testing.T) {
	s, engine := newTestSystem(Config{RealTimeLearning: true, MinForLearning: 5})
	ctx := context.Background()

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	done := make(chan struct{})

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if w%2 == 0 {
					_, _ = s.Submit(ctx, fb("shared", 0.5, PriorityMedium))
				} else {
					engine.AddDataPoint(patterns.DataPoint{
						EntityID:  "shared",
						Timestamp: time.Now(),
						Numerical: map[string]float64{"x": float64(i)},
					})
				}
			}
		}(w)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("deadlock: concurrent submit/ingest did not finish")
	}

	// Half the workers submitted feedback; each submission mirrors one
	// data point, the other half ingested directly.
	require.Equal(t, int64(workers*perWorker), engine.Stats().TotalPoints)
}

// Learning passes and model reads race from the worker, the real-time
// Submit trigger, and the learn endpoint; the mutations must stay inside
// the model mutex. Run with -race.
func TestLearningConcurrentWithModelReads(t *testing.T) {
	s, _ := newTestSystem(Config{})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		_, err := s.Submit(ctx, fb("agent-8", 0.8, PriorityHigh))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.ApplyLearning(ctx, "agent-8")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if m, ok := s.GetModel("agent-8", ModelDecision); ok {
					for range m.Parameters {
					}
				}
			}
		}()
	}
	wg.Wait()

	m, ok := s.GetModel("agent-8", ModelDecision)
	require.True(t, ok)
	require.NotZero(t, m.SampleCount)
}

func TestWorkerLifecycle(t *testing.T) {
	s, _ := newTestSystem(Config{LearnInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, s.Start(ctx))
	require.False(t, s.Start(ctx))
	s.Stop()
	s.Stop()
}

func TestModelIDShape(t *testing.T) {
	require.Equal(t, "model_agent-1_decision", ModelID("agent-1", ModelDecision))
	for i, mt := range ModelTypes {
		require.Equal(t, ModelID(fmt.Sprintf("e%d", i), mt), ModelID(fmt.Sprintf("e%d", i), mt))
	}
}
