package actionnats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatshield/pkg/models"
)

type mockConn struct {
	mu        sync.Mutex
	published []*nats.Msg
	failFlush bool
	drained   bool
}

func (m *mockConn) PublishMsg(msg *nats.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drained {
		return nats.ErrConnectionClosed
	}
	m.published = append(m.published, msg)
	return nil
}

func (m *mockConn) FlushTimeout(time.Duration) error {
	if m.failFlush {
		return errors.New("flush timeout")
	}
	return nil
}

func (m *mockConn) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drained = true
	return nil
}

func TestPublishUsesKindSubjectAndHeaders(t *testing.T) {
	c := &mockConn{}
	p := NewPublisherWithConn(c, "ts.actions.")

	req := &models.ActionRequest{
		ID:                     "act-9",
		Kind:                   models.ActionExecuteCountermeasures,
		AttackerKey:            "203.0.113.25",
		ExecuteCountermeasures: &models.ExecuteCountermeasures{TargetAddress: "203.0.113.25", Level: models.LevelCritical},
	}
	require.NoError(t, p.Publish(context.Background(), req))

	require.Len(t, c.published, 1)
	msg := c.published[0]
	assert.Equal(t, "ts.actions.execute_countermeasures", msg.Subject)
	assert.Equal(t, "act-9", msg.Header.Get("x-action-id"))
	assert.Equal(t, "execute_countermeasures", msg.Header.Get("x-kind"))
	assert.Equal(t, "203.0.113.25", msg.Header.Get("x-attacker-key"))

	var decoded models.ActionRequest
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "203.0.113.25", decoded.ExecuteCountermeasures.TargetAddress)
}

func TestPublishSurfacesFlushFailure(t *testing.T) {
	p := NewPublisherWithConn(&mockConn{failFlush: true}, "")
	err := p.Publish(context.Background(), &models.ActionRequest{ID: "a", Kind: models.ActionEscalateDeepAnalysis})
	assert.ErrorContains(t, err, "flush")
	assert.Equal(t, "threatshield.actions.escalate_deep_analysis", p.Subject(models.ActionEscalateDeepAnalysis))
}

func TestPublishAfterClose(t *testing.T) {
	c := &mockConn{}
	p := NewPublisherWithConn(c, "")
	require.NoError(t, p.Close())
	err := p.Publish(context.Background(), &models.ActionRequest{ID: "a", Kind: models.ActionAdaptHoneypots})
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}
