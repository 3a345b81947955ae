package engine

import (
	"context"
	"time"

	"threatshield/internal/logger"
	"threatshield/internal/metrics"
	"threatshield/internal/profile"
	"threatshield/internal/router"
	"threatshield/internal/scoring"
	"threatshield/internal/semantic"
	"threatshield/internal/threat"
	"threatshield/internal/transform/cloudtrail"
	"threatshield/pkg/models"
)

const (
	// DefaultEventTimeout bounds the external classifier call for one event.
	DefaultEventTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds the profile write and action dispatch.
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds the collaborators of an Engine. A nil Classifier disables
// semantic analysis and a nil Profiles store yields transient profiles.
type Config struct {
	Scorer       *scoring.Scorer
	Classifier   *semantic.Adapter
	Profiles     *profile.Resilient
	Router       *router.Router
	Publisher    router.Publisher
	Metrics      *metrics.Metrics
	EventTimeout time.Duration
	WriteTimeout time.Duration
	Now          func() time.Time
}

// Result is everything decided about one event.
type Result struct {
	Event       *models.ObservedEvent   `json:"event"`
	Pattern     models.PatternAnalysis  `json:"pattern_analysis"`
	Patterns    models.AttackPatterns   `json:"attack_patterns"`
	Semantic    models.SemanticAnalysis `json:"semantic_analysis"`
	Assessment  models.ThreatAssessment `json:"assessment"`
	Profile     *models.AttackerProfile `json:"attacker_profile"`
	Actions     []*models.ActionRequest `json:"actions"`
	DispatchErr error                   `json:"-"`
}

// Engine runs the per-event scoring and response flow.
type Engine struct {
	scorer       *scoring.Scorer
	classifier   *semantic.Adapter
	profiles     *profile.Resilient
	router       *router.Router
	publisher    router.Publisher
	metrics      *metrics.Metrics
	eventTimeout time.Duration
	writeTimeout time.Duration
	now          func() time.Time
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Scorer == nil {
		cfg.Scorer = scoring.NewScorer(nil)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.NewResilient(nil, 0, nil)
	}
	if cfg.Router == nil {
		cfg.Router = router.New(router.Config{})
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		scorer:       cfg.Scorer,
		classifier:   cfg.Classifier,
		profiles:     cfg.Profiles,
		router:       cfg.Router,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		eventTimeout: cfg.EventTimeout,
		writeTimeout: cfg.WriteTimeout,
		now:          cfg.Now,
	}
}

// Process normalizes a raw event and runs it through the engine. The only
// error returned is *cloudtrail.MalformedEventError; nothing else happens for
// a rejected event.
func (e *Engine) Process(ctx context.Context, raw []byte) (*Result, error) {
	event, err := cloudtrail.Parse(raw)
	if err != nil {
		e.reject(err)
		return nil, err
	}
	return e.ProcessEvent(ctx, event)
}

// ProcessEvent runs an already normalized event through the engine.
func (e *Engine) ProcessEvent(ctx context.Context, event *models.ObservedEvent) (*Result, error) {
	if event == nil || event.Name == "" || event.Timestamp.IsZero() {
		err := &cloudtrail.MalformedEventError{Field: "event", Reason: "is missing name or timestamp"}
		if event != nil {
			err.EventID = event.ID
		}
		e.reject(err)
		return nil, err
	}

	start := time.Now()
	key := event.AttackerKey()

	pattern := e.scorer.Analyze(event)
	patterns := scoring.ExtractAttackPatterns(event, pattern)

	// The event deadline and the caller's context bound the classifier only.
	// Once a verdict exists the profile write and dispatch always run, on
	// their own deadline.
	semCtx, cancel := context.WithTimeout(ctx, e.eventTimeout)
	sem := e.classifier.Classify(semCtx, event)
	cancel()
	if !sem.Available && e.classifier.Enabled() {
		e.metrics.ClassifierFailed()
	}

	assessment := threat.Aggregate(pattern, sem, e.now())

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
	defer cancelWrite()

	prof := e.profiles.Upsert(writeCtx, profile.Observation{
		Key:        key,
		EventID:    event.ID,
		Vectors:    patterns.Vectors,
		Tools:      patterns.Tools,
		Level:      assessment.Level,
		ObservedAt: event.Timestamp,
	})

	actions := e.router.Route(router.Decision{
		Event:      event,
		Assessment: &assessment,
		Pattern:    &pattern,
		Patterns:   &patterns,
		Profile:    prof,
	})
	dispatchErr := e.router.Dispatch(writeCtx, e.publisher, actions)

	e.metrics.ObserveActions(actions)
	e.metrics.ObserveAssessment(&assessment, time.Since(start))

	logger.Infow("threat_analysis_complete",
		"event_id", event.ID,
		"event_name", event.Name,
		"attacker_key", key,
		"threat_level", assessment.Level.String(),
		"risk_score", assessment.Score,
		"confidence", assessment.Confidence,
		"categories", assessment.Categories.Sorted(),
		"degraded", assessment.Degraded,
		"actions", len(actions),
		"transient_profile", prof.Transient,
	)

	return &Result{
		Event:       event,
		Pattern:     pattern,
		Patterns:    patterns,
		Semantic:    sem,
		Assessment:  assessment,
		Profile:     prof,
		Actions:     actions,
		DispatchErr: dispatchErr,
	}, nil
}

// Profile returns the stored profile for an attacker key, or nil.
func (e *Engine) Profile(ctx context.Context, key string) (*models.AttackerProfile, error) {
	return e.profiles.Get(ctx, key)
}

func (e *Engine) reject(err error) {
	e.metrics.EventRejected()
	logger.Warnw("event_rejected", "component", "normalizer", "error", err.Error())
}
