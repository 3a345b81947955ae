package actionnats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"threatshield/internal/logger"
	"threatshield/pkg/models"
)

// Config configures the NATS publisher.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
	MaxReconnects int
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

// Publisher sends each action request to "<prefix>.<kind>".
type Publisher struct {
	conn   conn
	prefix string
}

// NewPublisher connects to NATS.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats URL is empty")
	}
	if cfg.Name == "" {
		cfg.Name = "threatshield"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("NATS reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	logger.Infof("NATS action publisher initialized: %s", cfg.URL)
	return NewPublisherWithConn(nc, cfg.SubjectPrefix), nil
}

// NewPublisherWithConn wraps an existing connection.
func NewPublisherWithConn(c conn, prefix string) *Publisher {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "threatshield.actions"
	}
	return &Publisher{conn: c, prefix: prefix}
}

// Subject returns the subject a kind is published on.
func (p *Publisher) Subject(kind models.ActionKind) string {
	return p.prefix + "." + string(kind)
}

// Publish sends one request and flushes so failures surface to the caller.
func (p *Publisher) Publish(ctx context.Context, req *models.ActionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	msg := nats.NewMsg(p.Subject(req.Kind))
	msg.Data = data
	msg.Header.Set("x-action-id", req.ID)
	msg.Header.Set("x-kind", string(req.Kind))
	if req.AttackerKey != "" {
		msg.Header.Set("x-attacker-key", req.AttackerKey)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish action %s: %w", req.ID, err)
	}

	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush action %s: %w", req.ID, err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
