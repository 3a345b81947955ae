package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"threatshield/internal/logger"
	"threatshield/pkg/models"
)

// DefaultTimeout bounds one classifier call.
const DefaultTimeout = 5 * time.Second

// Client sends a prompt to a classifier model and returns its raw reply.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClassifierUnavailableError reports that no usable classification could be
// obtained for an event.
type ClassifierUnavailableError struct {
	EventID string
	Reason  string
	Err     error
}

func (e *ClassifierUnavailableError) Error() string {
	msg := "semantic classifier unavailable"
	if e.EventID != "" {
		msg += " for event " + e.EventID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClassifierUnavailableError) Unwrap() error {
	return e.Err
}

const replySchema = `{
  "type": "object",
  "required": ["threat_categories", "confidence", "reasoning", "risk_score"],
  "properties": {
    "threat_categories": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "reasoning": {"type": "string"},
    "risk_score": {"type": "number", "minimum": 0, "maximum": 10}
  }
}`

type reply struct {
	Categories []string `json:"threat_categories"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	RiskScore  float64  `json:"risk_score"`
}

// Adapter turns classifier replies into SemanticAnalysis values. A nil
// Adapter, or one without a client, is disabled and always yields the
// sentinel.
type Adapter struct {
	client  Client
	timeout time.Duration
	schema  *gojsonschema.Schema
}

// NewAdapter creates an adapter around client. A non-positive timeout
// selects DefaultTimeout.
func NewAdapter(client Client, timeout time.Duration) (*Adapter, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(replySchema))
	if err != nil {
		return nil, fmt.Errorf("compile classifier reply schema: %w", err)
	}
	return &Adapter{client: client, timeout: timeout, schema: schema}, nil
}

// Enabled reports whether classification requests are sent at all.
func (a *Adapter) Enabled() bool {
	return a != nil && a.client != nil
}

// Classify never fails: any error is logged and replaced by the sentinel.
func (a *Adapter) Classify(ctx context.Context, event *models.ObservedEvent) models.SemanticAnalysis {
	res, err := a.Analyze(ctx, event)
	if err != nil {
		var cue *ClassifierUnavailableError
		reason := err.Error()
		if errors.As(err, &cue) && cue.Reason != "" {
			reason = cue.Reason
		}
		if a.Enabled() {
			logger.Warnw("classifier_unavailable",
				"event_id", eventID(event),
				"attacker_key", event.AttackerKey(),
				"component", "semantic",
				"error", err.Error(),
			)
		}
		return models.SemanticUnavailable(reason)
	}
	return res
}

// Analyze performs one bounded classification and reports failures as
// *ClassifierUnavailableError.
func (a *Adapter) Analyze(ctx context.Context, event *models.ObservedEvent) (models.SemanticAnalysis, error) {
	id := eventID(event)
	if !a.Enabled() {
		return models.SemanticAnalysis{}, &ClassifierUnavailableError{EventID: id, Reason: "classifier disabled"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.complete(ctx, BuildPrompt(event))
	if err != nil {
		reason := "classifier request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "classifier timed out"
		}
		return models.SemanticAnalysis{}, &ClassifierUnavailableError{EventID: id, Reason: reason, Err: err}
	}

	res, err := a.parse(raw)
	if err != nil {
		return models.SemanticAnalysis{}, &ClassifierUnavailableError{EventID: id, Reason: "invalid classifier reply", Err: err}
	}
	return res, nil
}

// complete runs the client call but returns as soon as ctx is done, even if
// the client ignores cancellation.
func (a *Adapter) complete(ctx context.Context, prompt string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("classifier client panic: %v", r)}
			}
		}()
		text, err := a.client.Complete(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

func (a *Adapter) parse(raw string) (models.SemanticAnalysis, error) {
	obj, ok := extractObject(raw)
	if !ok {
		return models.SemanticAnalysis{}, fmt.Errorf("no JSON object in reply")
	}

	result, err := a.schema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return models.SemanticAnalysis{}, fmt.Errorf("validate reply: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return models.SemanticAnalysis{}, fmt.Errorf("reply does not match schema: %s", strings.Join(msgs, "; "))
	}

	var r reply
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return models.SemanticAnalysis{}, fmt.Errorf("decode reply: %w", err)
	}

	cats := models.NewCategorySet()
	for _, name := range r.Categories {
		c, err := models.ParseThreatCategory(name)
		if err != nil {
			return models.SemanticAnalysis{}, err
		}
		cats.Add(c)
	}

	return models.SemanticAnalysis{
		Categories: cats,
		Score:      r.RiskScore,
		Confidence: int(math.Round(r.Confidence)),
		Rationale:  r.Reasoning,
		Available:  true,
	}, nil
}

// extractObject returns the first balanced {...} object in s, skipping braces
// inside JSON strings. Replies often wrap the object in prose or code fences.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func eventID(event *models.ObservedEvent) string {
	if event == nil {
		return ""
	}
	return event.ID
}
