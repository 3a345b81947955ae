package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"threatshield/internal/engine"
	"threatshield/internal/logger"
	"threatshield/internal/transform/cloudtrail"
)

// Source yields raw event payloads. Pop returns nil, nil when nothing
// arrived before its own poll timeout.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Close() error
}

// Processor handles one raw event.
type Processor interface {
	Process(ctx context.Context, raw []byte) (*engine.Result, error)
}

// DeadLetterWriter keeps payloads rejected as malformed.
type DeadLetterWriter interface {
	WriteRejected(payload []byte, reason string) error
	Close() error
}

// DefaultShutdownTimeout bounds how long workers keep draining after Run's
// context is cancelled.
const DefaultShutdownTimeout = 30 * time.Second

// Config configures a Pipeline.
type Config struct {
	Source          Source
	Processor       Processor
	Publisher       ActionPublisher
	DeadLetter      DeadLetterWriter
	Workers         int
	ShutdownTimeout time.Duration
}

// Stats counts pipeline outcomes. Dropped counts payloads still queued when
// the shutdown deadline passed.
type Stats struct {
	Received  int64
	Processed int64
	Rejected  int64
	Dropped   int64
}

// Pipeline reads events from a Source and processes them on a fixed set of
// shard workers. Events are sharded by attacker key, so one key's events are
// processed one at a time in arrival order while distinct keys proceed
// concurrently.
type Pipeline struct {
	source     Source
	processor  Processor
	publisher  ActionPublisher
	deadLetter DeadLetterWriter
	workers    int
	drainFor   time.Duration

	received  atomic.Int64
	processed atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Pipeline{
		source:     cfg.Source,
		processor:  cfg.Processor,
		publisher:  cfg.Publisher,
		deadLetter: cfg.DeadLetter,
		workers:    cfg.Workers,
		drainFor:   cfg.ShutdownTimeout,
	}
}

// Run consumes until ctx is cancelled. Payloads already handed to a worker
// are still processed, until the shutdown timeout passes; whatever remains
// queued then is dead-lettered as dropped.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Event pipeline started with %d workers", p.workers)

	shards := make([]chan []byte, p.workers)
	for i := range shards {
		shards[i] = make(chan []byte, 64)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		p.readLoop(gctx, shards)
		return nil
	})

	// Workers outlive ctx while draining their shard, up to drainFor.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopDrain := context.AfterFunc(ctx, func() {
		t := time.NewTimer(p.drainFor)
		defer t.Stop()
		select {
		case <-t.C:
			logger.Warnf("Shutdown timeout %s reached; dropping queued events", p.drainFor)
			cancelWork()
		case <-workCtx.Done():
		}
	})
	defer stopDrain()

	for i := range shards {
		ch := shards[i]
		g.Go(func() error {
			p.workerLoop(workCtx, ch)
			return nil
		})
	}

	err := g.Wait()
	cancelWork()
	logger.Infof("Event pipeline stopped: received=%d processed=%d rejected=%d dropped=%d",
		p.received.Load(), p.processed.Load(), p.rejected.Load(), p.dropped.Load())
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Processed: p.processed.Load(),
		Rejected:  p.rejected.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	var errs []error
	if p.publisher != nil {
		if err := p.publisher.Close(); err != nil {
			logger.Errorf("Failed to close action publisher: %v", err)
			errs = append(errs, err)
		}
	}
	if p.deadLetter != nil {
		if err := p.deadLetter.Close(); err != nil {
			logger.Errorf("Failed to close dead-letter writer: %v", err)
			errs = append(errs, err)
		}
	}
	if p.source != nil {
		if err := p.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ShardFor maps an attacker key onto one of n shards.
func ShardFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(key)) % uint32(n))
}

func (p *Pipeline) readLoop(ctx context.Context, shards []chan []byte) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop event: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		p.received.Add(1)

		shard := shards[ShardFor(cloudtrail.PeekAttackerKey(payload), len(shards))]
		select {
		case shard <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) workerLoop(ctx context.Context, in <-chan []byte) {
	for payload := range in {
		if ctx.Err() != nil {
			p.dropped.Add(1)
			p.writeRejected(payload, "dropped at shutdown")
			continue
		}
		_, err := p.processor.Process(ctx, payload)
		if err == nil {
			p.processed.Add(1)
			continue
		}
		p.rejected.Add(1)
		var malformed *cloudtrail.MalformedEventError
		if !errors.As(err, &malformed) {
			logger.Errorf("Unexpected processing error: %v", err)
		}
		p.writeRejected(payload, err.Error())
	}
}

func (p *Pipeline) writeRejected(payload []byte, reason string) {
	if p.deadLetter == nil {
		return
	}
	if err := p.deadLetter.WriteRejected(payload, reason); err != nil {
		logger.Errorf("Failed to write rejected event: %v", err)
	}
}
