package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatshield/pkg/models"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestRouter(onFailure func(*ActionDispatchError)) *Router {
	n := 0
	var mu sync.Mutex
	return New(Config{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
		OnDispatchFailure: onFailure,
	})
}

func decision(level models.ThreatLevel) Decision {
	return Decision{
		Event: &models.ObservedEvent{ID: "evt-1", Name: "GetUser", SourceAddress: "203.0.113.25"},
		Assessment: &models.ThreatAssessment{
			Level: level,
			Score: 9,
		},
		Pattern: &models.PatternAnalysis{MatchedRules: []string{"suspicious_user_agent:sqlmap"}, Score: 5},
		Profile: &models.AttackerProfile{
			Key:         "203.0.113.25",
			AttackCount: 3,
			Vectors:     models.NewStringSet("data_access"),
			Tools:       models.NewStringSet("sqlmap"),
		},
	}
}

func kinds(reqs []*models.ActionRequest) map[models.ActionKind]int {
	out := map[models.ActionKind]int{}
	for _, r := range reqs {
		out[r.Kind]++
	}
	return out
}

func TestRouteActionSetPerLevel(t *testing.T) {
	r := newTestRouter(nil)
	cases := []struct {
		level models.ThreatLevel
		want  map[models.ActionKind]int
	}{
		{models.LevelInfo, map[models.ActionKind]int{}},
		{models.LevelLow, map[models.ActionKind]int{}},
		{models.LevelMedium, map[models.ActionKind]int{
			models.ActionPersistIntelligence: 1,
		}},
		{models.LevelHigh, map[models.ActionKind]int{
			models.ActionPersistIntelligence:    1,
			models.ActionExecuteCountermeasures: 1,
			models.ActionAdaptHoneypots:         1,
		}},
		{models.LevelCritical, map[models.ActionKind]int{
			models.ActionPersistIntelligence:    1,
			models.ActionExecuteCountermeasures: 1,
			models.ActionAdaptHoneypots:         1,
			models.ActionEscalateDeepAnalysis:   1,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.level.String(), func(t *testing.T) {
			reqs := r.Route(decision(tc.level))
			assert.Equal(t, tc.want, kinds(reqs))
			for _, req := range reqs {
				require.NoError(t, req.Validate())
				assert.Equal(t, Priority(tc.level), req.Priority)
				assert.Equal(t, "evt-1", req.EventID)
				assert.Equal(t, "203.0.113.25", req.AttackerKey)
				assert.Equal(t, fixedNow, req.CreatedAt)
			}
		})
	}
}

func TestRoutePayloads(t *testing.T) {
	reqs := newTestRouter(nil).Route(decision(models.LevelCritical))
	require.Len(t, reqs, 4)

	byKind := map[models.ActionKind]*models.ActionRequest{}
	for _, r := range reqs {
		byKind[r.Kind] = r
	}

	record := byKind[models.ActionPersistIntelligence].PersistIntelligence.Record
	require.NotNil(t, record)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, fixedNow.Add(DefaultIntelligenceTTL), record.ExpiresAt)
	assert.EqualValues(t, 3, record.Profile.AttackCount)

	cm := byKind[models.ActionExecuteCountermeasures].ExecuteCountermeasures
	assert.Equal(t, "203.0.113.25", cm.TargetAddress)
	assert.Equal(t, models.LevelCritical, cm.Level)

	hp := byKind[models.ActionAdaptHoneypots].AdaptHoneypots
	assert.Equal(t, []models.HoneypotType{models.HoneypotDatabase, models.HoneypotFileStore, models.HoneypotWeb}, hp.Types)
	assert.Equal(t, "Attack vectors: data_access; Tools detected: sqlmap", hp.Reason)

	esc := byKind[models.ActionEscalateDeepAnalysis].EscalateDeepAnalysis
	assert.Equal(t, "evt-1", esc.Event.ID)
	assert.Equal(t, models.LevelCritical, esc.Assessment.Level)
}

func TestRouteCountermeasureWithoutSourceAddress(t *testing.T) {
	d := decision(models.LevelHigh)
	d.Event = &models.ObservedEvent{ID: "evt-2", Name: "GetUser", ActorIdentity: "arn:aws:iam::123456789012:user/mallory"}

	var cm *models.ExecuteCountermeasures
	reqs := newTestRouter(nil).Route(d)
	for _, r := range reqs {
		if r.Kind == models.ActionExecuteCountermeasures {
			cm = r.ExecuteCountermeasures
			assert.Equal(t, "arn:aws:iam::123456789012:user/mallory", r.AttackerKey)
		}
	}
	require.NotNil(t, cm)
	assert.Empty(t, cm.TargetAddress)
	assert.Equal(t, "arn:aws:iam::123456789012:user/mallory", cm.TargetIdentity)

	d.Event = &models.ObservedEvent{ID: "evt-3", Name: "GetUser"}
	for _, r := range newTestRouter(nil).Route(d) {
		if r.Kind == models.ActionExecuteCountermeasures {
			assert.Empty(t, r.ExecuteCountermeasures.TargetAddress)
			assert.Empty(t, r.ExecuteCountermeasures.TargetIdentity)
			assert.Equal(t, models.UnknownAttacker, r.AttackerKey)
		}
	}
}

func TestRouteEmitsHoneypotsWithEmptyPolicy(t *testing.T) {
	d := decision(models.LevelHigh)
	d.Profile = nil
	reqs := newTestRouter(nil).Route(d)
	require.Len(t, reqs, 3)
	hp := reqs[2].AdaptHoneypots
	require.NotNil(t, hp)
	assert.Empty(t, hp.Types)
	assert.Equal(t, "General threat pattern detected", hp.Reason)
}

func TestRouteUniqueIDs(t *testing.T) {
	r := New(Config{})
	seen := map[string]bool{}
	for _, req := range r.Route(decision(models.LevelCritical)) {
		assert.False(t, seen[req.ID])
		seen[req.ID] = true
	}
	assert.Len(t, seen, 4)
}

type recordingPublisher struct {
	mu        sync.Mutex
	failKind  models.ActionKind
	panicKind models.ActionKind
	got       []models.ActionKind
}

func (p *recordingPublisher) Publish(ctx context.Context, req *models.ActionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, req.Kind)
	if req.Kind == p.panicKind {
		panic("boom")
	}
	if req.Kind == p.failKind {
		return errors.New("queue full")
	}
	return nil
}

func TestDispatchAllSucceed(t *testing.T) {
	r := newTestRouter(nil)
	pub := &recordingPublisher{}
	require.NoError(t, r.Dispatch(context.Background(), pub, r.Route(decision(models.LevelCritical))))
	assert.Len(t, pub.got, 4)
}

func TestDispatchFailureDoesNotBlockSiblings(t *testing.T) {
	var failures []*ActionDispatchError
	r := newTestRouter(func(e *ActionDispatchError) { failures = append(failures, e) })
	pub := &recordingPublisher{failKind: models.ActionExecuteCountermeasures, panicKind: models.ActionAdaptHoneypots}

	reqs := r.Route(decision(models.LevelCritical))
	err := r.Dispatch(context.Background(), pub, reqs)
	require.Error(t, err)

	assert.Equal(t, []models.ActionKind{
		models.ActionPersistIntelligence,
		models.ActionExecuteCountermeasures,
		models.ActionAdaptHoneypots,
		models.ActionEscalateDeepAnalysis,
	}, pub.got)

	var derr *ActionDispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ActionExecuteCountermeasures, derr.Kind)
	require.Len(t, failures, 2)
	assert.Equal(t, models.ActionAdaptHoneypots, failures[1].Kind)
	assert.Equal(t, "evt-1", failures[0].EventID)
	assert.ErrorContains(t, err, "queue full")
	assert.ErrorContains(t, err, "publisher panic")
}

func TestDispatchRejectsInvalidRequest(t *testing.T) {
	r := newTestRouter(nil)
	pub := &recordingPublisher{}
	bad := &models.ActionRequest{ID: "x", Kind: models.ActionAdaptHoneypots}
	err := r.Dispatch(context.Background(), pub, []*models.ActionRequest{bad})
	assert.Error(t, err)
	assert.Empty(t, pub.got)
}

func TestDispatchWithoutPublisher(t *testing.T) {
	r := newTestRouter(nil)
	err := r.Dispatch(context.Background(), nil, r.Route(decision(models.LevelMedium)))
	var derr *ActionDispatchError
	assert.ErrorAs(t, err, &derr)
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 1, Priority(models.LevelCritical))
	assert.Equal(t, 2, Priority(models.LevelHigh))
	assert.Equal(t, 3, Priority(models.LevelMedium))
	assert.Equal(t, 0, Priority(models.LevelLow))
}
