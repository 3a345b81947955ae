package rules

import "threatshield/pkg/models"

// Match describes a rule that fired on an event.
type Match struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Tactic    string `json:"tactic,omitempty"`
	Technique string `json:"technique,omitempty"`
}

// Engine applies detection rules to events.
type Engine interface {
	Apply(event *models.ObservedEvent) []Match
}

// NoopEngine returns no matches.
type NoopEngine struct{}

// Apply returns an empty match list.
func (n *NoopEngine) Apply(event *models.ObservedEvent) []Match {
	return nil
}
