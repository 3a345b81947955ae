package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatshield/pkg/models"
)

const namespace = "threatshield"

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	threatsDetected    *prometheus.CounterVec
	riskScore          *prometheus.GaugeVec
	eventsRejected     prometheus.Counter
	classifierFailures prometheus.Counter
	profileFailures    prometheus.Counter
	dispatchFailures   *prometheus.CounterVec
	actionsPublished   *prometheus.CounterVec
	processingDuration prometheus.Histogram
}

// New creates a registry with the engine collectors plus Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		threatsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_detected_total",
			Help:      "Processed events by assessed threat level.",
		}, []string{"level"}),
		riskScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Combined risk score of the last event at each threat level.",
		}, []string{"level"}),
		eventsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events rejected as malformed.",
		}),
		classifierFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_failures_total",
			Help:      "Semantic classifications that fell back to the sentinel.",
		}),
		profileFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_store_failures_total",
			Help:      "Profile upserts that fell back to a transient profile.",
		}),
		dispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_dispatch_failures_total",
			Help:      "Action requests that could not be published.",
		}, []string{"kind"}),
		actionsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_routed_total",
			Help:      "Action requests produced by the router.",
		}, []string{"kind"}),
		processingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_seconds",
			Help:      "End-to-end processing time per event.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}

	for _, level := range models.Levels() {
		m.threatsDetected.WithLabelValues(level.String())
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAssessment records one processed event.
func (m *Metrics) ObserveAssessment(a *models.ThreatAssessment, elapsed time.Duration) {
	if m == nil || a == nil {
		return
	}
	level := a.Level.String()
	m.threatsDetected.WithLabelValues(level).Inc()
	m.riskScore.WithLabelValues(level).Set(a.Score)
	m.processingDuration.Observe(elapsed.Seconds())
}

// ObserveActions counts routed action requests by kind.
func (m *Metrics) ObserveActions(reqs []*models.ActionRequest) {
	if m == nil {
		return
	}
	for _, r := range reqs {
		m.actionsPublished.WithLabelValues(string(r.Kind)).Inc()
	}
}

// EventRejected counts a malformed event.
func (m *Metrics) EventRejected() {
	if m != nil {
		m.eventsRejected.Inc()
	}
}

// ClassifierFailed counts a sentinel semantic result.
func (m *Metrics) ClassifierFailed() {
	if m != nil {
		m.classifierFailures.Inc()
	}
}

// ProfileStoreFailed counts a transient profile fallback.
func (m *Metrics) ProfileStoreFailed() {
	if m != nil {
		m.profileFailures.Inc()
	}
}

// DispatchFailed counts a failed action publish.
func (m *Metrics) DispatchFailed(kind models.ActionKind) {
	if m != nil {
		m.dispatchFailures.WithLabelValues(string(kind)).Inc()
	}
}
