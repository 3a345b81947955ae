package profile

import (
	"context"
	"fmt"
	"time"

	"threatshield/pkg/models"
)

const (
	// DefaultTTL is how long an idle profile is retained.
	DefaultTTL = 30 * 24 * time.Hour
	// DefaultHistoryCap bounds the stored threat-level history.
	DefaultHistoryCap = 100
)

// Observation is one event's contribution to an attacker profile.
type Observation struct {
	Key        string
	EventID    string
	Vectors    models.StringSet
	Tools      models.StringSet
	Level      models.ThreatLevel
	ObservedAt time.Time
}

// Store persists attacker profiles. Upsert must be linearizable per key.
type Store interface {
	Upsert(ctx context.Context, obs Observation) (*models.AttackerProfile, error)
	// Get returns nil, nil when no profile exists for key.
	Get(ctx context.Context, key string) (*models.AttackerProfile, error)
	Close() error
}

// ProfileStoreError reports a failed profile read or write.
type ProfileStoreError struct {
	Key     string
	EventID string
	Op      string
	Err     error
}

func (e *ProfileStoreError) Error() string {
	return fmt.Sprintf("profile store %s for %s (event %s): %v", e.Op, e.Key, e.EventID, e.Err)
}

func (e *ProfileStoreError) Unwrap() error {
	return e.Err
}

// Merge applies an observation to an existing profile and returns a new
// profile. existing is not modified. A non-positive historyCap keeps the
// whole history.
func Merge(existing *models.AttackerProfile, obs Observation, historyCap int) *models.AttackerProfile {
	if existing == nil {
		return &models.AttackerProfile{
			Key:                obs.Key,
			FirstSeen:          obs.ObservedAt,
			LastSeen:           obs.ObservedAt,
			AttackCount:        1,
			Vectors:            models.NewStringSet().Union(obs.Vectors),
			Tools:              models.NewStringSet().Union(obs.Tools),
			ThreatLevelHistory: []models.ThreatLevel{obs.Level},
		}
	}

	out := existing.Clone()
	out.AttackCount++
	out.Vectors = out.Vectors.Union(obs.Vectors)
	out.Tools = out.Tools.Union(obs.Tools)
	if out.FirstSeen.IsZero() || obs.ObservedAt.Before(out.FirstSeen) {
		out.FirstSeen = obs.ObservedAt
	}
	if obs.ObservedAt.After(out.LastSeen) {
		out.LastSeen = obs.ObservedAt
	}
	out.ThreatLevelHistory = append(out.ThreatLevelHistory, obs.Level)
	if historyCap > 0 && len(out.ThreatLevelHistory) > historyCap {
		trimmed := make([]models.ThreatLevel, historyCap)
		copy(trimmed, out.ThreatLevelHistory[len(out.ThreatLevelHistory)-historyCap:])
		out.ThreatLevelHistory = trimmed
	}
	out.Transient = false
	return out
}
