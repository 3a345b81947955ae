package deadletterjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"threatshield/internal/logger"
)

// Entry is one rejected payload.
type Entry struct {
	RejectedAt time.Time       `json:"rejected_at"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload string          `json:"raw_payload,omitempty"`
}

// Writer appends rejected payloads to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	now     func() time.Time
}

// NewWriter opens path for appending.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead-letter file: %w", err)
	}

	logger.Infof("Dead-letter writer initialized: %s", path)
	return &Writer{file: f, encoder: json.NewEncoder(f), now: time.Now}, nil
}

// WriteRejected records a payload and why it was rejected. Payloads that are
// not valid JSON are kept as a string.
func (w *Writer) WriteRejected(payload []byte, reason string) error {
	entry := Entry{Reason: reason}
	if json.Valid(payload) {
		entry.Payload = json.RawMessage(payload)
	} else {
		entry.RawPayload = string(payload)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("dead-letter writer is closed")
	}
	entry.RejectedAt = w.now().UTC()
	if err := w.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode rejected event: %w", err)
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
