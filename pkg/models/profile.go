package models

import "time"

// AttackerProfile accumulates what is known about one attacker key.
type AttackerProfile struct {
	Key                string        `json:"key"`
	FirstSeen          time.Time     `json:"first_seen"`
	LastSeen           time.Time     `json:"last_seen"`
	AttackCount        int64         `json:"attack_count"`
	Vectors            StringSet     `json:"attack_vectors"`
	Tools              StringSet     `json:"tools_used"`
	ThreatLevelHistory []ThreatLevel `json:"threat_levels"`
	Transient          bool          `json:"transient,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *AttackerProfile) Clone() *AttackerProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Vectors = NewStringSet().Union(p.Vectors)
	out.Tools = NewStringSet().Union(p.Tools)
	out.ThreatLevelHistory = append([]ThreatLevel(nil), p.ThreatLevelHistory...)
	return &out
}
