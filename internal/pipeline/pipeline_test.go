package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatshield/internal/engine"
	"threatshield/internal/transform/cloudtrail"
	"threatshield/pkg/models"
)

type sliceSource struct {
	mu      sync.Mutex
	items   [][]byte
	failing int
	closed  bool
}

func (s *sliceSource) Pop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing > 0 {
		s.failing--
		return nil, errors.New("connection reset")
	}
	if len(s.items) == 0 {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
		s.mu.Lock()
		return nil, nil
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, nil
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sliceSource) empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// recordingProcessor parses events and records event IDs per attacker key.
type recordingProcessor struct {
	mu    sync.Mutex
	seen  map[string][]string
	total int
}

func (r *recordingProcessor) Process(ctx context.Context, raw []byte) (*engine.Result, error) {
	event, err := cloudtrail.Parse(raw)
	if err != nil {
		return nil, err
	}
	time.Sleep(time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string][]string{}
	}
	r.seen[event.AttackerKey()] = append(r.seen[event.AttackerKey()], event.ID)
	r.total++
	return &engine.Result{Event: event}, nil
}

func (r *recordingProcessor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

type memoryDeadLetter struct {
	mu      sync.Mutex
	reasons []string
	closed  bool
}

func (m *memoryDeadLetter) WriteRejected(payload []byte, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
	return nil
}

func (m *memoryDeadLetter) Close() error {
	m.closed = true
	return nil
}

func event(id, ip string) []byte {
	return []byte(fmt.Sprintf(`{"eventID": %q, "eventName": "ListUsers", "eventTime": "2024-01-15T12:00:00Z", "sourceIPAddress": %q}`, id, ip))
}

func runUntilDrained(t *testing.T, p *Pipeline, src *sliceSource, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return src.empty() && done() }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

func TestPipelinePreservesPerKeyOrder(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 50; i++ {
		for k := 0; k < 4; k++ {
			src.items = append(src.items, event(fmt.Sprintf("k%d-%03d", k, i), fmt.Sprintf("10.0.0.%d", k)))
		}
	}
	proc := &recordingProcessor{}
	p := New(Config{Source: src, Processor: proc, Workers: 3})

	runUntilDrained(t, p, src, func() bool { return proc.count() == 200 })

	for k := 0; k < 4; k++ {
		ids := proc.seen[fmt.Sprintf("10.0.0.%d", k)]
		require.Len(t, ids, 50)
		for i, id := range ids {
			assert.Equal(t, fmt.Sprintf("k%d-%03d", k, i), id)
		}
	}
	assert.Equal(t, Stats{Received: 200, Processed: 200}, p.Stats())
}

func TestPipelineDeadLettersMalformed(t *testing.T) {
	src := &sliceSource{items: [][]byte{
		[]byte(`not json`),
		event("ok-1", "10.0.0.1"),
		[]byte(`{"eventTime": "2024-01-15T12:00:00Z"}`),
	}}
	proc := &recordingProcessor{}
	dl := &memoryDeadLetter{}
	p := New(Config{Source: src, Processor: proc, DeadLetter: dl, Workers: 2})

	runUntilDrained(t, p, src, func() bool {
		dl.mu.Lock()
		defer dl.mu.Unlock()
		return proc.count() == 1 && len(dl.reasons) == 2
	})

	assert.Equal(t, Stats{Received: 3, Processed: 1, Rejected: 2}, p.Stats())
	require.NoError(t, p.Close())
	assert.True(t, dl.closed)
	assert.True(t, src.closed)
}

func TestPipelineSurvivesSourceErrors(t *testing.T) {
	src := &sliceSource{failing: 2, items: [][]byte{event("e1", "10.0.0.1")}}
	proc := &recordingProcessor{}
	p := New(Config{Source: src, Processor: proc, Workers: 1})

	runUntilDrained(t, p, src, func() bool { return proc.count() == 1 })
}

// stallingProcessor blocks every event until its context is cancelled.
type stallingProcessor struct {
	started chan struct{}
	once    sync.Once
}

func (s *stallingProcessor) Process(ctx context.Context, raw []byte) (*engine.Result, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipelineShutdownTimeoutBoundsDrain(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 10; i++ {
		src.items = append(src.items, event(fmt.Sprintf("e-%d", i), "10.0.0.1"))
	}
	proc := &stallingProcessor{started: make(chan struct{})}
	dl := &memoryDeadLetter{}
	p := New(Config{Source: src, Processor: proc, DeadLetter: dl, Workers: 1, ShutdownTimeout: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	<-proc.started
	require.Eventually(t, func() bool { return p.Stats().Received == 10 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after the shutdown timeout")
	}

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.Rejected)
	assert.EqualValues(t, 9, stats.Dropped)
	dl.mu.Lock()
	defer dl.mu.Unlock()
	assert.Len(t, dl.reasons, 10)
	assert.Contains(t, dl.reasons, "dropped at shutdown")
}

func TestShardForIsStable(t *testing.T) {
	assert.Equal(t, 0, ShardFor("anything", 1))
	a := ShardFor("203.0.113.25", 16)
	assert.Equal(t, a, ShardFor("203.0.113.25", 16))
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 16)
}

type countingPublisher struct {
	mu     sync.Mutex
	kinds  []models.ActionKind
	closes int
	err    error
}

func (c *countingPublisher) Publish(ctx context.Context, req *models.ActionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, req.Kind)
	return c.err
}

func (c *countingPublisher) Close() error {
	c.closes++
	return nil
}

func TestKindMuxRoutesByKind(t *testing.T) {
	bus := &countingPublisher{}
	intel := &countingPublisher{}
	mux := NewKindMux(bus)
	mux.Handle(models.ActionPersistIntelligence, intel)

	ctx := context.Background()
	require.NoError(t, mux.Publish(ctx, &models.ActionRequest{Kind: models.ActionPersistIntelligence}))
	require.NoError(t, mux.Publish(ctx, &models.ActionRequest{Kind: models.ActionEscalateDeepAnalysis}))
	require.NoError(t, mux.Publish(ctx, &models.ActionRequest{Kind: models.ActionAdaptHoneypots}))

	assert.Equal(t, []models.ActionKind{models.ActionPersistIntelligence}, intel.kinds)
	assert.Equal(t, []models.ActionKind{models.ActionEscalateDeepAnalysis, models.ActionAdaptHoneypots}, bus.kinds)

	mux.Handle(models.ActionEscalateDeepAnalysis, bus)
	require.NoError(t, mux.Close())
	assert.Equal(t, 1, bus.closes)
	assert.Equal(t, 1, intel.closes)
}

func TestKindMuxWithoutFallback(t *testing.T) {
	mux := NewKindMux(nil)
	err := mux.Publish(context.Background(), &models.ActionRequest{Kind: models.ActionEscalateDeepAnalysis})
	assert.ErrorContains(t, err, "escalate_deep_analysis")
}
