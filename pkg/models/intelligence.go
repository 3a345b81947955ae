package models

import "time"

// IntelligenceRecord is a write-once archival tuple handed to the archive.
type IntelligenceRecord struct {
	ID         string            `json:"intelligence_id"`
	Assessment *ThreatAssessment `json:"assessment"`
	Event      *ObservedEvent    `json:"event"`
	Pattern    *PatternAnalysis  `json:"pattern_analysis"`
	Patterns   *AttackPatterns   `json:"attack_patterns,omitempty"`
	Profile    *AttackerProfile  `json:"attacker_profile,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
}
