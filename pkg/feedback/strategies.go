package feedback

import (
	"math"
	"strings"
	"time"
)

// Learning rates for the three update strategies.
const (
	supervisedEta      = 0.01
	reinforcementStep  = 0.001
	batchStep          = 0.05
	batchMinSamples    = 3
	accuracyDriftScale = 0.1
)

// applySupervised nudges every factor_*_weight parameter named in feedback
// metadata by weight x score x eta, clamped to [-1, 1]. Accuracy tracks the
// mean absolute score.
func applySupervised(m *Model, fs []Data, now time.Time) {
	var absSum float64
	for _, f := range fs {
		w := Weight(f, now)
		absSum += math.Abs(f.Score)
		for key := range f.Metadata {
			if !strings.HasPrefix(key, "factor_") || !strings.HasSuffix(key, "_weight") {
				continue
			}
			m.Parameters[key] = clamp(m.Parameters[key]+w*f.Score*supervisedEta, -1, 1)
		}
	}
	if len(fs) > 0 {
		m.Accuracy = math.Min(1, absSum/float64(len(fs)))
	}
}

// applyReinforcement computes a mean weighted reward, shifts every parameter
// by reward x 0.001 clamped to [0, 1], and drifts accuracy by 0.1 x reward.
func applyReinforcement(m *Model, fs []Data, now time.Time) {
	if len(fs) == 0 {
		return
	}
	var sum float64
	for _, f := range fs {
		sum += Weight(f, now) * f.Score
	}
	reward := sum / float64(len(fs))

	for key, v := range m.Parameters {
		m.Parameters[key] = clamp(v+reward*reinforcementStep, 0, 1)
	}
	m.Accuracy = clamp(m.Accuracy+accuracyDriftScale*reward, 0, 1)
}

// applyBatch groups scores by param_* metadata key; each key with at least
// three samples moves its parameter by mean(scores) x 0.05, clamped to
// [0, 1]. Accuracy recenters on 0.5 plus half the overall mean score.
func applyBatch(m *Model, fs []Data) {
	groups := map[string][]float64{}
	var total float64
	for _, f := range fs {
		total += f.Score
		for key := range f.Metadata {
			if strings.HasPrefix(key, "param_") {
				groups[key] = append(groups[key], f.Score)
			}
		}
	}

	for key, scores := range groups {
		if len(scores) < batchMinSamples {
			continue
		}
		var sum float64
		for _, v := range scores {
			sum += v
		}
		mean := sum / float64(len(scores))
		m.Parameters[key] = clamp(m.Parameters[key]+mean*batchStep, 0, 1)
	}
	if len(fs) > 0 {
		m.Accuracy = clamp(0.5+(total/float64(len(fs)))/2, 0, 1)
	}
}
