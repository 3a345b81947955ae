package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"threatshield/pkg/models"
)

// ActionPublisher writes action requests to the action bus.
type ActionPublisher interface {
	Publish(ctx context.Context, req *models.ActionRequest) error
	Close() error
}

// KindMux routes requests to a per-kind publisher, falling back to a default.
type KindMux struct {
	fallback ActionPublisher
	mu       sync.RWMutex
	routes   map[models.ActionKind]ActionPublisher
}

// NewKindMux creates a mux. fallback may be nil, in which case unrouted
// kinds fail to publish.
func NewKindMux(fallback ActionPublisher) *KindMux {
	return &KindMux{fallback: fallback, routes: map[models.ActionKind]ActionPublisher{}}
}

// Handle routes kind to pub.
func (m *KindMux) Handle(kind models.ActionKind, pub ActionPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[kind] = pub
}

// Publish forwards req to the publisher registered for its kind.
func (m *KindMux) Publish(ctx context.Context, req *models.ActionRequest) error {
	m.mu.RLock()
	pub, ok := m.routes[req.Kind]
	m.mu.RUnlock()
	if !ok {
		pub = m.fallback
	}
	if pub == nil {
		return fmt.Errorf("no publisher for action kind %s", req.Kind)
	}
	return pub.Publish(ctx, req)
}

// Close closes every distinct publisher once.
func (m *KindMux) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[ActionPublisher]bool{}
	var errs []error
	closeOnce := func(pub ActionPublisher) {
		if pub == nil || seen[pub] {
			return
		}
		seen[pub] = true
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, pub := range m.routes {
		closeOnce(pub)
	}
	closeOnce(m.fallback)
	return errors.Join(errs...)
}
