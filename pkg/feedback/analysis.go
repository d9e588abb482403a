package feedback

import "math"

// AnalyzeFeedbackPatterns reports on an entity's feedback over the trailing
// window. Confidence combines score consistency with sample size.
func (s *System) AnalyzeFeedbackPatterns(entityID string, daysBack int) Analysis {
	if daysBack <= 0 {
		daysBack = 30
	}
	now := s.now()
	cutoff := now.AddDate(0, 0, -daysBack)

	s.mu.Lock()
	var window []Data
	if q := s.entityFeedback[entityID]; q != nil {
		for _, f := range q.items {
			if !f.Timestamp.Before(cutoff) {
				window = append(window, f)
			}
		}
	}
	s.mu.Unlock()

	a := Analysis{
		EntityID:          entityID,
		DaysBack:          daysBack,
		Count:             len(window),
		KindHistogram:     map[Kind]int{},
		PriorityHistogram: map[Priority]int{},
		KeyInsights:       []string{},
	}
	if len(window) == 0 {
		return a
	}

	var sum float64
	human := 0
	system := 0
	for _, f := range window {
		sum += f.Score
		a.KindHistogram[f.Kind]++
		a.PriorityHistogram[f.Priority]++
		switch f.Kind {
		case KindHumanExplicit, KindHumanImplicit:
			human++
		case KindSystemValidation, KindPerformanceMetric:
			system++
		}
	}
	a.AverageScore = sum / float64(len(window))

	switch {
	case a.AverageScore > 0.3:
		a.KeyInsights = append(a.KeyInsights, "feedback is predominantly positive")
	case a.AverageScore < -0.3:
		a.KeyInsights = append(a.KeyInsights, "feedback is predominantly negative")
	}
	if human > 2*system && human >= 5 {
		a.KeyInsights = append(a.KeyInsights, "human feedback dominates; more automation suggested")
	}

	var variance float64
	for _, f := range window {
		d := f.Score - a.AverageScore
		variance += d * d
	}
	variance /= float64(len(window))

	consistency := 1 / (1 + variance)
	sampleSize := math.Min(1, float64(len(window))/100)
	a.Confidence = consistency * sampleSize
	return a
}
