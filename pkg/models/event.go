package models

import (
	"fmt"
	"strings"
	"time"
)

// ObservedEvent is a normalized cloud audit event.
type ObservedEvent struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Source        string                 `json:"source,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	ActorIdentity string                 `json:"actor_identity,omitempty"`
	SourceAddress string                 `json:"source_address,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	ErrorCode     string                 `json:"error_code,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	ResourceRefs  []string               `json:"resource_refs,omitempty"`
	Region        string                 `json:"region,omitempty"`
	RawParameters map[string]interface{} `json:"raw_parameters,omitempty"`
}

// UnknownAttacker is the key used when an event carries no actor information.
const UnknownAttacker = "unknown"

// AttackerKey returns the stable key used to correlate events from one attacker.
func (e *ObservedEvent) AttackerKey() string {
	if e == nil {
		return UnknownAttacker
	}
	if v := strings.TrimSpace(e.SourceAddress); v != "" {
		return v
	}
	if v := strings.TrimSpace(e.ActorIdentity); v != "" {
		return v
	}
	return UnknownAttacker
}

// Param returns a request parameter rendered as a string.
func (e *ObservedEvent) Param(name string) string {
	if e == nil || e.RawParameters == nil {
		return ""
	}
	if v, ok := e.RawParameters[name]; ok {
		switch val := v.(type) {
		case string:
			return val
		case fmt.Stringer:
			return val.String()
		case int:
			return fmt.Sprintf("%d", val)
		case int64:
			return fmt.Sprintf("%d", val)
		case float64:
			if val == float64(int64(val)) {
				return fmt.Sprintf("%d", int64(val))
			}
			return fmt.Sprintf("%f", val)
		case bool:
			if val {
				return "true"
			}
			return "false"
		case nil:
			return ""
		default:
			return fmt.Sprintf("%v", val)
		}
	}
	return ""
}
