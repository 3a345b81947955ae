package models

import (
	"fmt"
	"sort"
	"time"
)

// ActionKind discriminates action requests on the bus.
type ActionKind string

const (
	ActionAdaptHoneypots         ActionKind = "adapt_honeypots"
	ActionExecuteCountermeasures ActionKind = "execute_countermeasures"
	ActionPersistIntelligence    ActionKind = "persist_intelligence"
	ActionEscalateDeepAnalysis   ActionKind = "escalate_deep_analysis"
)

// HoneypotType names a kind of decoy resource.
type HoneypotType string

const (
	HoneypotWeb       HoneypotType = "WEB"
	HoneypotDatabase  HoneypotType = "DATABASE"
	HoneypotFileStore HoneypotType = "FILE_STORE"
	HoneypotAPI       HoneypotType = "API"
)

// HoneypotSet is an unordered set of decoy types.
type HoneypotSet map[HoneypotType]struct{}

// Has reports whether the type is present.
func (s HoneypotSet) Has(t HoneypotType) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the types in lexical order.
func (s HoneypotSet) Sorted() []HoneypotType {
	out := make([]HoneypotType, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AdaptHoneypots asks the deployer for decoys of the given types.
type AdaptHoneypots struct {
	Types  []HoneypotType `json:"honeypot_types"`
	Reason string         `json:"reason"`
}

// ExecuteCountermeasures asks the executor to mitigate a source address.
// TargetAddress is empty when the event carried no source address; then
// TargetIdentity names the acting principal, if any.
type ExecuteCountermeasures struct {
	TargetAddress  string      `json:"target_address"`
	TargetIdentity string      `json:"target_identity,omitempty"`
	Level          ThreatLevel `json:"threat_level"`
}

// PersistIntelligence hands a record to the archival store.
type PersistIntelligence struct {
	Record *IntelligenceRecord `json:"record"`
}

// EscalateDeepAnalysis asks for additional investigation of an event.
type EscalateDeepAnalysis struct {
	Event      *ObservedEvent    `json:"event"`
	Assessment *ThreatAssessment `json:"assessment"`
}

// ActionRequest is an at-most-once intent published to the action bus.
// Exactly one payload matching Kind is set.
type ActionRequest struct {
	ID          string     `json:"id"`
	Kind        ActionKind `json:"kind"`
	Priority    int        `json:"priority"`
	EventID     string     `json:"event_id,omitempty"`
	AttackerKey string     `json:"attacker_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	AdaptHoneypots         *AdaptHoneypots         `json:"adapt_honeypots,omitempty"`
	ExecuteCountermeasures *ExecuteCountermeasures `json:"execute_countermeasures,omitempty"`
	PersistIntelligence    *PersistIntelligence    `json:"persist_intelligence,omitempty"`
	EscalateDeepAnalysis   *EscalateDeepAnalysis   `json:"escalate_deep_analysis,omitempty"`
}

// Validate checks that exactly the payload named by Kind is present.
func (a *ActionRequest) Validate() error {
	if a == nil {
		return fmt.Errorf("nil action request")
	}
	set := 0
	if a.AdaptHoneypots != nil {
		set++
	}
	if a.ExecuteCountermeasures != nil {
		set++
	}
	if a.PersistIntelligence != nil {
		set++
	}
	if a.EscalateDeepAnalysis != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("action %s carries %d payloads", a.ID, set)
	}

	var ok bool
	switch a.Kind {
	case ActionAdaptHoneypots:
		ok = a.AdaptHoneypots != nil
	case ActionExecuteCountermeasures:
		ok = a.ExecuteCountermeasures != nil
	case ActionPersistIntelligence:
		ok = a.PersistIntelligence != nil && a.PersistIntelligence.Record != nil
	case ActionEscalateDeepAnalysis:
		ok = a.EscalateDeepAnalysis != nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	if !ok {
		return fmt.Errorf("action %s payload does not match kind %s", a.ID, a.Kind)
	}
	return nil
}
