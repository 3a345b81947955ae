package threat

import (
	"strings"
	"time"

	"threatshield/pkg/models"
)

// MaxScore is the top of the shared 0-10 risk scale.
const MaxScore = 10.0

// LevelForScore maps a combined score onto a threat level.
func LevelForScore(score float64) models.ThreatLevel {
	switch {
	case score >= 8:
		return models.LevelCritical
	case score >= 6:
		return models.LevelHigh
	case score >= 4:
		return models.LevelMedium
	case score >= 2:
		return models.LevelLow
	default:
		return models.LevelInfo
	}
}

// Aggregate fuses pattern and semantic analysis into an assessment.
//
// Both inputs are placed on the 0-10 scale first. With a semantic result the
// combined score is the mean of the two; without one the clamped pattern
// score stands alone and the assessment is marked degraded.
func Aggregate(p models.PatternAnalysis, s models.SemanticAnalysis, now time.Time) models.ThreatAssessment {
	pattern := clamp(float64(p.Score))

	var score float64
	if s.Available {
		score = (pattern + clamp(s.Score)) / 2
	} else {
		score = pattern
	}

	confidence := p.Confidence
	if s.Available && s.Confidence > confidence {
		confidence = s.Confidence
	}
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 0 {
		confidence = 0
	}

	categories := models.NewCategorySet()
	if s.Available {
		categories = categories.Union(s.Categories)
	}
	for _, tag := range p.MatchedRules {
		if strings.Contains(tag, string(models.CategoryBruteForce)) {
			categories.Add(models.CategoryBruteForce)
		}
		if strings.Contains(tag, string(models.CategoryReconnaissance)) {
			categories.Add(models.CategoryReconnaissance)
		}
	}

	evidence := make([]string, len(p.MatchedRules))
	copy(evidence, p.MatchedRules)

	return models.ThreatAssessment{
		Level:      LevelForScore(score),
		Score:      score,
		Confidence: confidence,
		Categories: categories,
		Evidence:   evidence,
		Rationale:  s.Rationale,
		Degraded:   !s.Available,
		Timestamp:  now.UTC(),
	}
}

func clamp(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
