package models

import "time"

// ThreatAssessment fuses pattern and semantic analysis into one verdict.
type ThreatAssessment struct {
	Level      ThreatLevel `json:"threat_level"`
	Score      float64     `json:"risk_score"`
	Confidence int         `json:"confidence"`
	Categories CategorySet `json:"categories"`
	Evidence   []string    `json:"evidence"`
	Rationale  string      `json:"rationale,omitempty"`
	Degraded   bool        `json:"degraded,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
