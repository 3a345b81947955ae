package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatshield/internal/honeypot"
	"threatshield/internal/logger"
	"threatshield/pkg/models"
)

// DefaultIntelligenceTTL is how long archived intelligence records live.
const DefaultIntelligenceTTL = 90 * 24 * time.Hour

// Publisher delivers one action request to the action bus.
type Publisher interface {
	Publish(ctx context.Context, req *models.ActionRequest) error
}

// Decision carries everything the router needs to pick actions for one event.
type Decision struct {
	Event      *models.ObservedEvent
	Assessment *models.ThreatAssessment
	Pattern    *models.PatternAnalysis
	Patterns   *models.AttackPatterns
	Profile    *models.AttackerProfile
}

// ActionDispatchError reports one action request that could not be published.
type ActionDispatchError struct {
	Kind        models.ActionKind
	RequestID   string
	EventID     string
	AttackerKey string
	Err         error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("dispatch %s action %s: %v", e.Kind, e.RequestID, e.Err)
}

func (e *ActionDispatchError) Unwrap() error {
	return e.Err
}

// Config configures a Router.
type Config struct {
	IntelligenceTTL time.Duration
	Now             func() time.Time
	NewID           func() string
	// OnDispatchFailure is called for each failed publish.
	OnDispatchFailure func(*ActionDispatchError)
}

// Router maps threat levels to action requests and publishes them.
type Router struct {
	intelTTL  time.Duration
	now       func() time.Time
	newID     func() string
	onFailure func(*ActionDispatchError)
}

// New creates a router.
func New(cfg Config) *Router {
	if cfg.IntelligenceTTL <= 0 {
		cfg.IntelligenceTTL = DefaultIntelligenceTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Router{
		intelTTL:  cfg.IntelligenceTTL,
		now:       cfg.Now,
		newID:     cfg.NewID,
		onFailure: cfg.OnDispatchFailure,
	}
}

// Priority returns the bus priority for a level; 0 means no actions.
func Priority(level models.ThreatLevel) int {
	switch level {
	case models.LevelCritical:
		return 1
	case models.LevelHigh:
		return 2
	case models.LevelMedium:
		return 3
	default:
		return 0
	}
}

// Route returns the action requests for a decision. INFO and LOW produce
// none; MEDIUM persists intelligence; HIGH adds countermeasures and decoys;
// CRITICAL adds deep-analysis escalation.
func (r *Router) Route(d Decision) []*models.ActionRequest {
	if d.Assessment == nil || d.Event == nil {
		return nil
	}
	level := d.Assessment.Level
	if level < models.LevelMedium {
		return nil
	}

	now := r.now().UTC()
	key := d.Event.AttackerKey()
	newRequest := func(kind models.ActionKind) *models.ActionRequest {
		return &models.ActionRequest{
			ID:          r.newID(),
			Kind:        kind,
			Priority:    Priority(level),
			EventID:     d.Event.ID,
			AttackerKey: key,
			CreatedAt:   now,
		}
	}

	out := make([]*models.ActionRequest, 0, 4)

	persist := newRequest(models.ActionPersistIntelligence)
	persist.PersistIntelligence = &models.PersistIntelligence{Record: &models.IntelligenceRecord{
		ID:         r.newID(),
		Assessment: d.Assessment,
		Event:      d.Event,
		Pattern:    d.Pattern,
		Patterns:   d.Patterns,
		Profile:    d.Profile.Clone(),
		ExpiresAt:  now.Add(r.intelTTL),
	}}
	out = append(out, persist)

	if level >= models.LevelHigh {
		counter := newRequest(models.ActionExecuteCountermeasures)
		counter.ExecuteCountermeasures = &models.ExecuteCountermeasures{
			TargetAddress: strings.TrimSpace(d.Event.SourceAddress),
			Level:         level,
		}
		if counter.ExecuteCountermeasures.TargetAddress == "" {
			// Only the identity is known; the executor cannot block it by address.
			counter.ExecuteCountermeasures.TargetIdentity = strings.TrimSpace(d.Event.ActorIdentity)
			logger.Warnw("countermeasure_without_address",
				"event_id", d.Event.ID,
				"attacker_key", key,
				"component", "router",
			)
		}
		out = append(out, counter)

		var vectors, tools models.StringSet
		if d.Profile != nil {
			vectors, tools = d.Profile.Vectors, d.Profile.Tools
		}
		decoys := newRequest(models.ActionAdaptHoneypots)
		decoys.AdaptHoneypots = &models.AdaptHoneypots{
			Types:  honeypot.Select(vectors, tools).Sorted(),
			Reason: honeypot.Reason(vectors, tools),
		}
		out = append(out, decoys)
	}

	if level == models.LevelCritical {
		escalate := newRequest(models.ActionEscalateDeepAnalysis)
		escalate.EscalateDeepAnalysis = &models.EscalateDeepAnalysis{
			Event:      d.Event,
			Assessment: d.Assessment,
		}
		out = append(out, escalate)
	}

	return out
}

// Dispatch publishes every request independently. A failure never stops the
// remaining requests; all failures are returned joined.
func (r *Router) Dispatch(ctx context.Context, pub Publisher, reqs []*models.ActionRequest) error {
	var errs []error
	for _, req := range reqs {
		err := req.Validate()
		if err == nil {
			err = publish(ctx, pub, req)
		}
		if err == nil {
			continue
		}
		derr := &ActionDispatchError{
			Kind:        req.Kind,
			RequestID:   req.ID,
			EventID:     req.EventID,
			AttackerKey: req.AttackerKey,
			Err:         err,
		}
		logger.Warnw("action_dispatch_failed",
			"event_id", req.EventID,
			"attacker_key", req.AttackerKey,
			"component", "router",
			"kind", string(req.Kind),
			"request_id", req.ID,
			"error", err.Error(),
		)
		if r.onFailure != nil {
			r.onFailure(derr)
		}
		errs = append(errs, derr)
	}
	return errors.Join(errs...)
}

func publish(ctx context.Context, pub Publisher, req *models.ActionRequest) (err error) {
	if pub == nil {
		return fmt.Errorf("no action publisher configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("publisher panic: %v", rec)
		}
	}()
	return pub.Publish(ctx, req)
}
