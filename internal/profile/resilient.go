package profile

import (
	"context"

	"threatshield/internal/logger"
	"threatshield/pkg/models"
)

// Resilient wraps a Store so that write failures degrade to a transient
// in-memory profile instead of failing the event.
type Resilient struct {
	store      Store
	historyCap int
	onFailure  func(*ProfileStoreError)
}

// NewResilient wraps store. onFailure is optional and is called for every
// recovered failure.
func NewResilient(store Store, historyCap int, onFailure func(*ProfileStoreError)) *Resilient {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Resilient{store: store, historyCap: historyCap, onFailure: onFailure}
}

// Upsert always returns a profile. On store failure the profile is built from
// the observation alone and marked Transient.
func (r *Resilient) Upsert(ctx context.Context, obs Observation) *models.AttackerProfile {
	if r.store != nil {
		p, err := r.store.Upsert(ctx, obs)
		if err == nil && p != nil {
			return p
		}
		r.fail(&ProfileStoreError{Key: obs.Key, EventID: obs.EventID, Op: "upsert", Err: errOrNil(err)})
	}
	p := Merge(nil, obs, r.historyCap)
	p.Transient = true
	return p
}

// Get reads through to the wrapped store.
func (r *Resilient) Get(ctx context.Context, key string) (*models.AttackerProfile, error) {
	if r.store == nil {
		return nil, nil
	}
	p, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, &ProfileStoreError{Key: key, Op: "get", Err: err}
	}
	return p, nil
}

// Close closes the wrapped store.
func (r *Resilient) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

func (r *Resilient) fail(err *ProfileStoreError) {
	logger.Warnw("profile_store_failed",
		"event_id", err.EventID,
		"attacker_key", err.Key,
		"component", "profile",
		"op", err.Op,
		"error", err.Err.Error(),
	)
	if r.onFailure != nil {
		r.onFailure(err)
	}
}

type nilProfileError struct{}

func (nilProfileError) Error() string { return "store returned no profile" }

func errOrNil(err error) error {
	if err == nil {
		return nilProfileError{}
	}
	return err
}
