package cloudtrail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"threatshield/pkg/models"
)

// MalformedEventError reports an event that lacks a field every later stage
// depends on. The event must be rejected.
type MalformedEventError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("malformed event %s: %s %s", e.EventID, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed event: %s %s", e.Field, e.Reason)
}

// Parse decodes a CloudTrail record, bare or wrapped in an EventBridge
// envelope, into an ObservedEvent.
func Parse(data []byte) (*models.ObservedEvent, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedEventError{Field: "body", Reason: "is not a JSON object: " + err.Error()}
	}
	return Normalize(raw)
}

// Normalize maps a decoded event into an ObservedEvent. Optional fields
// default to empty values.
func Normalize(raw map[string]interface{}) (*models.ObservedEvent, error) {
	if raw == nil {
		return nil, &MalformedEventError{Field: "body", Reason: "is empty"}
	}
	detail := raw
	if v, ok := getPath(raw, "detail"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			detail = m
		}
	}

	event := &models.ObservedEvent{
		ID:            firstNonEmpty(getString(detail, "eventID"), getString(raw, "id")),
		Name:          strings.TrimSpace(getString(detail, "eventName")),
		Source:        getString(detail, "eventSource"),
		ActorIdentity: getString(detail, "userIdentity.arn", "userIdentity.principalId", "userIdentity.userName"),
		SourceAddress: strings.TrimSpace(getString(detail, "sourceIPAddress")),
		UserAgent:     getString(detail, "userAgent"),
		ErrorCode:     getString(detail, "errorCode"),
		ErrorMessage:  getString(detail, "errorMessage"),
		Region:        firstNonEmpty(getString(detail, "awsRegion"), getString(raw, "region")),
		ResourceRefs:  resourceRefs(detail),
		RawParameters: map[string]interface{}{},
	}
	if v, ok := getPath(detail, "requestParameters"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			event.RawParameters = m
		}
	}

	if event.Name == "" {
		return nil, &MalformedEventError{EventID: event.ID, Field: "eventName", Reason: "is missing"}
	}

	ts := firstNonEmpty(getString(detail, "eventTime"), getString(raw, "time"))
	if ts == "" {
		return nil, &MalformedEventError{EventID: event.ID, Field: "eventTime", Reason: "is missing"}
	}
	t, ok := parseTime(ts)
	if !ok {
		return nil, &MalformedEventError{EventID: event.ID, Field: "eventTime", Reason: fmt.Sprintf("%q is not a timestamp", ts)}
	}
	event.Timestamp = t

	return event, nil
}

// PeekAttackerKey extracts the attacker key without full normalization.
// It never fails; unparsable payloads map to the unknown key.
func PeekAttackerKey(data []byte) string {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.UnknownAttacker
	}
	detail := raw
	if v, ok := raw["detail"].(map[string]interface{}); ok {
		detail = v
	}
	e := models.ObservedEvent{
		SourceAddress: getString(detail, "sourceIPAddress"),
		ActorIdentity: getString(detail, "userIdentity.arn", "userIdentity.principalId", "userIdentity.userName"),
	}
	return e.AttackerKey()
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func resourceRefs(detail map[string]interface{}) []string {
	v, ok := getPath(detail, "resources")
	if !ok {
		return []string{}
	}
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if arn := getString(m, "ARN", "arn"); arn != "" {
			out = append(out, arn)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case fmt.Stringer:
				return val.String()
			case float64:
				if val == float64(int64(val)) {
					return fmt.Sprintf("%d", int64(val))
				}
				return fmt.Sprintf("%f", val)
			}
		}
	}
	return ""
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok || v == nil {
			return nil, false
		}
		current = v
	}
	return current, true
}
