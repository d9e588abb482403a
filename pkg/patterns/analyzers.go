package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Analyzers are pure over the snapshot they read. Each returns candidate
// patterns with deterministic IDs so a repeat discovery strengthens the
// stored pattern instead of duplicating it.

func patternID(kind Kind, entityID string, parts ...string) string {
	data := string(kind) + ":" + entityID + ":" + strings.Join(parts, ":")
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])[:16]
}

func (e *Engine) analyzeDecisions(entityID string, points []DataPoint) []*Pattern {
	// Group decision data points by decision_type, collecting factor_*
	// feature names per group.
	type group struct {
		count   int
		factors map[string]int
	}
	groups := map[string]*group{}
	for _, dp := range points {
		decisionType := dp.Categorical["decision_type"]
		if decisionType == "" {
			continue
		}
		g := groups[decisionType]
		if g == nil {
			g = &group{factors: map[string]int{}}
			groups[decisionType] = g
		}
		g.count++
		for name := range dp.Numerical {
			if strings.HasPrefix(name, "factor_") {
				g.factors[name]++
			}
		}
	}

	now := time.Now().UTC()
	var out []*Pattern
	for decisionType, g := range groups {
		if g.count < e.minOccurrences {
			continue
		}
		var factors []string
		for name, n := range g.factors {
			if n >= e.minOccurrences {
				factors = append(factors, name)
			}
		}
		if len(factors) == 0 {
			continue
		}
		sort.Strings(factors)

		strength := math.Min(1, float64(g.count)/100)
		out = append(out, &Pattern{
			ID:           patternID(KindDecision, entityID, decisionType),
			Name:         fmt.Sprintf("Recurring %s decision factors", decisionType),
			Description:  fmt.Sprintf("%d %s decisions share factors %s", g.count, decisionType, strings.Join(factors, ", ")),
			Kind:         KindDecision,
			Confidence:   confidenceFor(strength),
			Impact:       ImpactMedium,
			Strength:     strength,
			Occurrences:  g.count,
			DiscoveredAt: now,
			LastUpdated:  now,
			Decision: &DecisionPayload{
				EntityID:     entityID,
				DecisionType: decisionType,
				Factors:      factors,
			},
		})
	}
	return out
}

func (e *Engine) analyzeBehaviors(entityID string, points []DataPoint) []*Pattern {
	values := map[string][]float64{}
	for _, dp := range points {
		behaviorType := dp.Categorical["behavior_type"]
		if behaviorType == "" {
			continue
		}
		v, ok := dp.Numerical["behavior_value"]
		if !ok {
			continue
		}
		values[behaviorType] = append(values[behaviorType], v)
	}

	now := time.Now().UTC()
	var out []*Pattern
	for behaviorType, vs := range values {
		if len(vs) < 10 {
			continue
		}
		mean := Mean(vs)
		std := StdDev(vs)
		if mean == 0 {
			continue
		}
		cv := math.Abs(std / mean)
		if cv >= 0.2 {
			continue
		}

		strength := math.Min(1, 1-cv)
		out = append(out, &Pattern{
			ID:           patternID(KindBehavior, entityID, behaviorType),
			Name:         fmt.Sprintf("Stable %s behavior", behaviorType),
			Description:  fmt.Sprintf("%s holds steady at %.3f (cv %.3f over %d samples)", behaviorType, mean, cv, len(vs)),
			Kind:         KindBehavior,
			Confidence:   confidenceFor(strength),
			Impact:       ImpactLow,
			Strength:     strength,
			Occurrences:  len(vs),
			DiscoveredAt: now,
			LastUpdated:  now,
			Behavior: &BehaviorPayload{
				EntityID:     entityID,
				BehaviorType: behaviorType,
				Mean:         mean,
				StdDev:       std,
			},
		})
	}
	return out
}

func (e *Engine) analyzeAnomalies(entityID string, points []DataPoint) []*Pattern {
	series := map[string][]float64{}
	for _, dp := range points {
		for name, v := range dp.Numerical {
			series[name] = append(series[name], v)
		}
	}

	now := time.Now().UTC()
	var out []*Pattern
	for feature, vs := range series {
		if len(vs) < 10 {
			continue
		}
		split := len(vs) * 8 / 10
		baseline := vs[:split]
		recent := vs[split:]

		mean := Mean(baseline)
		std := StdDev(baseline)
		// A constant baseline makes any deviation an unbounded z-score;
		// the floor keeps the score finite and saturates strength at 1.
		zStd := std
		if zStd == 0 {
			zStd = 1e-9
		}

		// Report the strongest outlier per feature; counting every recent
		// outlier keeps occurrences monotone across re-analysis.
		var worst float64
		var worstVal float64
		anomalous := 0
		for _, v := range recent {
			z := ZScore(v, mean, zStd)
			if math.Abs(z) > 3 {
				anomalous++
				if math.Abs(z) > math.Abs(worst) {
					worst = z
					worstVal = v
				}
			}
		}
		if anomalous == 0 {
			continue
		}

		strength := math.Min(1, math.Abs(worst)/5)
		impact := ImpactHigh
		if math.Abs(worst) > 5 {
			impact = ImpactCritical
		}
		out = append(out, &Pattern{
			ID:           patternID(KindAnomaly, entityID, feature),
			Name:         fmt.Sprintf("Anomaly in %s", feature),
			Description:  fmt.Sprintf("%s deviates %.2f sigma from baseline %.3f", feature, worst, mean),
			Kind:         KindAnomaly,
			Confidence:   confidenceFor(strength),
			Impact:       impact,
			Strength:     strength,
			Occurrences:  anomalous,
			DiscoveredAt: now,
			LastUpdated:  now,
			Anomaly: &AnomalyPayload{
				EntityID:     entityID,
				Feature:      feature,
				ZScore:       worst,
				Value:        worstVal,
				BaselineMean: mean,
				BaselineStd:  std,
			},
		})
	}
	return out
}

func (e *Engine) analyzeTrends(entityID string, points []DataPoint) []*Pattern {
	series := map[string][]float64{}
	for _, dp := range points {
		for name, v := range dp.Numerical {
			series[name] = append(series[name], v)
		}
	}

	now := time.Now().UTC()
	var out []*Pattern
	for metric, vs := range series {
		if len(vs) < 5 {
			continue
		}
		slope, r2 := LinearRegression(vs)
		if math.Abs(slope) <= 0.01 || r2 <= e.trendR2Threshold {
			continue
		}

		direction := "increasing"
		if slope < 0 {
			direction = "decreasing"
		}
		strength := math.Min(1, r2)
		out = append(out, &Pattern{
			ID:           patternID(KindTrend, entityID, metric),
			Name:         fmt.Sprintf("%s trend in %s", strings.ToUpper(direction[:1])+direction[1:], metric),
			Description:  fmt.Sprintf("%s is %s at slope %.4f (r2 %.3f)", metric, direction, slope, r2),
			Kind:         KindTrend,
			Confidence:   confidenceFor(strength),
			Impact:       ImpactMedium,
			Strength:     strength,
			Occurrences:  len(vs),
			DiscoveredAt: now,
			LastUpdated:  now,
			Trend: &TrendPayload{
				EntityID:  entityID,
				Metric:    metric,
				Slope:     slope,
				RSquared:  r2,
				Direction: direction,
			},
		})
	}
	return out
}

func (e *Engine) analyzeCorrelations(entityID string, points []DataPoint) []*Pattern {
	// Joint samples per feature pair: only data points carrying both
	// features contribute.
	features := map[string]bool{}
	for _, dp := range points {
		for name := range dp.Numerical {
			features[name] = true
		}
	}
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC()
	var out []*Pattern
	// Ordered (a, b) with a < b: one pattern per pair, never a mirror.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			var xs, ys []float64
			for _, dp := range points {
				va, oka := dp.Numerical[a]
				vb, okb := dp.Numerical[b]
				if oka && okb {
					xs = append(xs, va)
					ys = append(ys, vb)
				}
			}
			if len(xs) < 10 {
				continue
			}
			r := Pearson(xs, ys)
			if math.Abs(r) <= 0.5 {
				continue
			}

			strength := math.Abs(r)
			out = append(out, &Pattern{
				ID:           patternID(KindCorrelation, entityID, a, b),
				Name:         fmt.Sprintf("Correlation %s / %s", a, b),
				Description:  fmt.Sprintf("%s and %s correlate at r=%.3f over %d samples", a, b, r, len(xs)),
				Kind:         KindCorrelation,
				Confidence:   confidenceFor(strength),
				Impact:       ImpactMedium,
				Strength:     strength,
				Occurrences:  len(xs),
				DiscoveredAt: now,
				LastUpdated:  now,
				Correlation: &CorrelationPayload{
					EntityID:   entityID,
					VariableA:  a,
					VariableB:  b,
					Pearson:    r,
					SampleSize: len(xs),
				},
			})
		}
	}
	return out
}

func (e *Engine) analyzeSequences(entityID string, points []DataPoint) []*Pattern {
	// The event stream is the ordered series of event_type tags.
	var events []string
	for _, dp := range points {
		if ev := dp.Categorical["event_type"]; ev != "" {
			events = append(events, ev)
		}
	}
	if len(events) < 2 {
		return nil
	}

	bigrams := map[[2]string]int{}
	for i := 0; i+1 < len(events); i++ {
		bigrams[[2]string{events[i], events[i+1]}]++
	}

	now := time.Now().UTC()
	var out []*Pattern
	for pair, count := range bigrams {
		if count < e.minOccurrences {
			continue
		}
		strength := math.Min(1, float64(count)/10)
		out = append(out, &Pattern{
			ID:           patternID(KindSequence, entityID, pair[0], pair[1]),
			Name:         fmt.Sprintf("Sequence %s -> %s", pair[0], pair[1]),
			Description:  fmt.Sprintf("%s is followed by %s in %d adjacent observations", pair[0], pair[1], count),
			Kind:         KindSequence,
			Confidence:   confidenceFor(strength),
			Impact:       ImpactLow,
			Strength:     strength,
			Occurrences:  count,
			DiscoveredAt: now,
			LastUpdated:  now,
			Sequence: &SequencePayload{
				EntityID: entityID,
				Events:   []string{pair[0], pair[1]},
				Count:    count,
			},
		})
	}
	return out
}
