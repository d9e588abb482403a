// Package patterns implements the pattern-recognition engine: time-indexed
// per-entity data buffers, six discovery analyzers, the pattern store, and
// applicability scoring.
package patterns

import "time"

// Kind discriminates the pattern variants.
type Kind string

const (
	KindDecision    Kind = "decision"
	KindBehavior    Kind = "behavior"
	KindAnomaly     Kind = "anomaly"
	KindTrend       Kind = "trend"
	KindCorrelation Kind = "correlation"
	KindSequence    Kind = "sequence"
)

// Kinds lists every analyzer kind in a stable order.
var Kinds = []Kind{KindDecision, KindBehavior, KindAnomaly, KindTrend, KindCorrelation, KindSequence}

// Confidence buckets a pattern's strength.
type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceVeryHigh Confidence = "very_high"
)

// Impact rates the operational weight of a pattern.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// DataPoint is one immutable observation in an entity's stream.
type DataPoint struct {
	EntityID    string                 `json:"entity_id"`
	Timestamp   time.Time              `json:"timestamp"`
	Numerical   map[string]float64     `json:"numerical_features,omitempty"`
	Categorical map[string]string      `json:"categorical_features,omitempty"`
	Raw         map[string]interface{} `json:"raw_data,omitempty"`
}

// Pattern is the tagged variant shared by all six kinds. Exactly one payload
// pointer is set, matching Kind; serialization picks its shape from the tag.
type Pattern struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Kind         Kind                   `json:"kind"`
	Confidence   Confidence             `json:"confidence"`
	Impact       Impact                 `json:"impact"`
	Strength     float64                `json:"strength"`
	Occurrences  int                    `json:"occurrences"`
	DiscoveredAt time.Time              `json:"discovered_at"`
	LastUpdated  time.Time              `json:"last_updated"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Decision    *DecisionPayload    `json:"decision,omitempty"`
	Behavior    *BehaviorPayload    `json:"behavior,omitempty"`
	Anomaly     *AnomalyPayload     `json:"anomaly,omitempty"`
	Trend       *TrendPayload       `json:"trend,omitempty"`
	Correlation *CorrelationPayload `json:"correlation,omitempty"`
	Sequence    *SequencePayload    `json:"sequence,omitempty"`
}

// DecisionPayload describes recurring factor sets behind a decision type.
type DecisionPayload struct {
	EntityID     string   `json:"entity_id"`
	DecisionType string   `json:"decision_type"`
	Factors      []string `json:"factors"`
}

// BehaviorPayload describes a stable behavior signal.
type BehaviorPayload struct {
	EntityID     string  `json:"entity_id"`
	BehaviorType string  `json:"behavior_type"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
}

// AnomalyPayload describes a statistical outlier in one feature.
type AnomalyPayload struct {
	EntityID     string  `json:"entity_id"`
	Feature      string  `json:"feature"`
	ZScore       float64 `json:"z_score"`
	Value        float64 `json:"value"`
	BaselineMean float64 `json:"baseline_mean"`
	BaselineStd  float64 `json:"baseline_std"`
}

// TrendPayload describes a directional drift in one metric.
type TrendPayload struct {
	EntityID  string  `json:"entity_id"`
	Metric    string  `json:"metric"`
	Slope     float64 `json:"slope"`
	RSquared  float64 `json:"r_squared"`
	Direction string  `json:"direction"` // "increasing" or "decreasing"
}

// CorrelationPayload describes a linear relationship between two features.
type CorrelationPayload struct {
	EntityID   string  `json:"entity_id"`
	VariableA  string  `json:"variable_a"`
	VariableB  string  `json:"variable_b"`
	Pearson    float64 `json:"pearson"`
	SampleSize int     `json:"sample_size"`
}

// SequencePayload describes a recurring ordered event pair.
type SequencePayload struct {
	EntityID string   `json:"entity_id"`
	Events   []string `json:"events"`
	Count    int      `json:"count"`
}

// confidenceFor buckets a strength value.
func confidenceFor(strength float64) Confidence {
	switch {
	case strength >= 0.9:
		return ConfidenceVeryHigh
	case strength >= 0.7:
		return ConfidenceHigh
	case strength >= 0.4:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Match pairs a pattern with its relevance to a data point.
type Match struct {
	Pattern   *Pattern `json:"pattern"`
	Relevance float64  `json:"relevance"`
}
