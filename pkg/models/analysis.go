package models

// PatternAnalysis is the deterministic rule-based score of one event.
type PatternAnalysis struct {
	MatchedRules []string `json:"matched_rules"`
	Score        int      `json:"score"`
	Confidence   int      `json:"confidence"`
	Tools        []string `json:"tools,omitempty"`
}

// SemanticAnalysis is the parsed output of the external classifier.
type SemanticAnalysis struct {
	Categories CategorySet `json:"categories"`
	Score      float64     `json:"score"`
	Confidence int         `json:"confidence"`
	Rationale  string      `json:"rationale"`
	Available  bool        `json:"available"`
}

// SemanticUnavailable returns the zero-value result used when the classifier
// cannot be consulted.
func SemanticUnavailable(reason string) SemanticAnalysis {
	return SemanticAnalysis{
		Categories: CategorySet{},
		Rationale:  reason,
	}
}

// AttackPatterns describes how an attacker operated in one event.
type AttackPatterns struct {
	Vectors   StringSet `json:"attack_vectors"`
	Tools     StringSet `json:"tools_used"`
	Behaviors []string  `json:"behavioral_patterns,omitempty"`
	Hour      int       `json:"hour"`
	Weekday   int       `json:"day_of_week"`
	OffHours  bool      `json:"is_off_hours"`
}
