package actionkafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"threatshield/internal/logger"
	"threatshield/pkg/models"
)

// Config configures the Kafka writer.
type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer produces action requests keyed by attacker key, so one attacker's
// actions land on one partition.
type Writer struct {
	writer messageWriter
}

// NewWriter creates a synchronous Kafka writer.
func NewWriter(cfg Config) (*Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is empty")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	logger.Infof("Kafka action writer initialized: topic=%s brokers=%v", cfg.Topic, cfg.Brokers)
	return &Writer{writer: w}, nil
}

// Publish writes one request and waits for the broker ack.
func (w *Writer) Publish(ctx context.Context, req *models.ActionRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(req.AttackerKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(req.Kind)},
			{Key: "action_id", Value: []byte(req.ID)},
		},
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (w *Writer) Close() error {
	return w.writer.Close()
}
