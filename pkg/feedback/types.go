// Package feedback implements the feedback-incorporation half of the
// analytic engine: per-entity feedback queues, three learning strategies
// over per-entity models, and the analysis report. Feedback depends on the
// pattern engine one way only; the engine never calls back in.
package feedback

import (
	"math"
	"time"
)

// Kind classifies where a feedback signal came from.
type Kind string

const (
	KindHumanExplicit     Kind = "human_explicit"
	KindHumanImplicit     Kind = "human_implicit"
	KindSystemValidation  Kind = "system_validation"
	KindPerformanceMetric Kind = "performance_metric"
)

// Priority orders feedback by operational weight.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func priorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func priorityWeight(p Priority) float64 {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0.5
	}
}

// Data is one feedback signal about a target entity. Score is in [-1, 1].
type Data struct {
	ID           string                 `json:"id"`
	Kind         Kind                   `json:"kind"`
	SourceEntity string                 `json:"source_entity"`
	TargetEntity string                 `json:"target_entity"`
	DecisionID   string                 `json:"decision_id,omitempty"`
	Context      string                 `json:"context,omitempty"`
	Score        float64                `json:"score"`
	Priority     Priority               `json:"priority"`
	Text         string                 `json:"text,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// recencyWeight decays with age in days, floored at 0.1.
func recencyWeight(ts, now time.Time) float64 {
	ageDays := now.Sub(ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Max(0.1, 1/(1+ageDays))
}

// Weight combines priority and recency.
func Weight(f Data, now time.Time) float64 {
	return priorityWeight(f.Priority) * recencyWeight(f.Timestamp, now)
}

// ModelType selects the learning strategy: decision models learn supervised,
// behavior models by reinforcement, risk models in batches.
type ModelType string

const (
	ModelDecision ModelType = "decision"
	ModelBehavior ModelType = "behavior"
	ModelRisk     ModelType = "risk"
)

// ModelTypes lists every model type in a stable order.
var ModelTypes = []ModelType{ModelDecision, ModelBehavior, ModelRisk}

// Strategy names the update rule a model runs.
type Strategy string

const (
	StrategySupervised    Strategy = "supervised"
	StrategyReinforcement Strategy = "reinforcement"
	StrategyBatch         Strategy = "batch"
)

func strategyFor(mt ModelType) Strategy {
	switch mt {
	case ModelBehavior:
		return StrategyReinforcement
	case ModelRisk:
		return StrategyBatch
	default:
		return StrategySupervised
	}
}

// Model is a per-entity learning model. Parameters are the learned weights.
type Model struct {
	ID             string             `json:"id"`
	ModelType      ModelType          `json:"model_type"`
	EntityID       string             `json:"entity_id"`
	Strategy       Strategy           `json:"strategy"`
	Parameters     map[string]float64 `json:"parameters"`
	Accuracy       float64            `json:"accuracy"`
	SampleCount    int                `json:"sample_count"`
	LastTrainedAt  time.Time          `json:"last_trained_at"`
	FeedbackWindow []Data             `json:"feedback_window,omitempty"`
}

// ModelID is the canonical key: model_<entityId>_<modelType>.
func ModelID(entityID string, mt ModelType) string {
	return "model_" + entityID + "_" + string(mt)
}

// Analysis is the report produced by AnalyzeFeedbackPatterns.
type Analysis struct {
	EntityID          string           `json:"entity_id"`
	DaysBack          int              `json:"days_back"`
	Count             int              `json:"count"`
	AverageScore      float64          `json:"average_score"`
	KindHistogram     map[Kind]int     `json:"kind_histogram"`
	PriorityHistogram map[Priority]int `json:"priority_histogram"`
	KeyInsights       []string         `json:"key_insights"`
	Confidence        float64          `json:"confidence"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
