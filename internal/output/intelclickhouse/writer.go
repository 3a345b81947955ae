package intelclickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"threatshield/pkg/models"
)

// Config configures the ClickHouse HTTP writer.
type Config struct {
	URL      string
	Database string
	Table    string
	Username string
	Password string
	Timeout  time.Duration
	Headers  map[string]string
}

// Row is one flattened intelligence record.
type Row struct {
	IntelligenceID string   `json:"intelligence_id"`
	ActionID       string   `json:"action_id"`
	EventID        string   `json:"event_id"`
	EventName      string   `json:"event_name"`
	EventSource    string   `json:"event_source"`
	EventTime      string   `json:"event_time"`
	AttackerKey    string   `json:"attacker_key"`
	SourceAddress  string   `json:"source_address"`
	UserAgent      string   `json:"user_agent"`
	Region         string   `json:"region"`
	ThreatLevel    string   `json:"threat_level"`
	RiskScore      float64  `json:"risk_score"`
	Confidence     int      `json:"confidence"`
	Degraded       uint8    `json:"degraded"`
	Categories     []string `json:"categories"`
	MatchedRules   []string `json:"matched_rules"`
	AttackVectors  []string `json:"attack_vectors"`
	ToolsUsed      []string `json:"tools_used"`
	AttackCount    int64    `json:"attack_count"`
	AssessedAt     string   `json:"assessed_at"`
	ExpiresAt      string   `json:"expires_at"`
	Record         string   `json:"record"`
}

// Writer archives persist_intelligence requests to ClickHouse via HTTP
// JSONEachRow.
type Writer struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewWriter creates a ClickHouse HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("clickhouse URL is empty")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Table == "" {
		cfg.Table = "intelligence_records"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := fmt.Sprintf("INSERT INTO %s.%s FORMAT JSONEachRow", quoteIdent(cfg.Database), quoteIdent(cfg.Table))
	base := strings.TrimRight(cfg.URL, "/")
	endpoint := base + "/?query=" + url.QueryEscape(q)

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Username != "" {
		headers["X-ClickHouse-User"] = cfg.Username
	}
	if cfg.Password != "" {
		headers["X-ClickHouse-Key"] = cfg.Password
	}

	return &Writer{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Publish inserts the record carried by a persist_intelligence request.
func (w *Writer) Publish(ctx context.Context, action *models.ActionRequest) error {
	if action.Kind != models.ActionPersistIntelligence || action.PersistIntelligence == nil || action.PersistIntelligence.Record == nil {
		return fmt.Errorf("clickhouse writer only accepts %s, got %s", models.ActionPersistIntelligence, action.Kind)
	}
	row, err := Flatten(action.ID, action.PersistIntelligence.Record)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(row); err != nil {
		return fmt.Errorf("failed to marshal intelligence row: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("clickhouse request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clickhouse request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// Flatten turns a record into a table row. The full record is kept as JSON
// in the record column.
func Flatten(actionID string, rec *models.IntelligenceRecord) (*Row, error) {
	full, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intelligence record: %w", err)
	}

	row := &Row{
		IntelligenceID: rec.ID,
		ActionID:       actionID,
		ExpiresAt:      formatTime(rec.ExpiresAt),
		Categories:     []string{},
		MatchedRules:   []string{},
		AttackVectors:  []string{},
		ToolsUsed:      []string{},
		Record:         string(full),
	}
	if ev := rec.Event; ev != nil {
		row.EventID = ev.ID
		row.EventName = ev.Name
		row.EventSource = ev.Source
		row.EventTime = formatTime(ev.Timestamp)
		row.AttackerKey = ev.AttackerKey()
		row.SourceAddress = ev.SourceAddress
		row.UserAgent = ev.UserAgent
		row.Region = ev.Region
	}
	if a := rec.Assessment; a != nil {
		row.ThreatLevel = a.Level.String()
		row.RiskScore = a.Score
		row.Confidence = a.Confidence
		if a.Degraded {
			row.Degraded = 1
		}
		for _, c := range a.Categories.Sorted() {
			row.Categories = append(row.Categories, string(c))
		}
		row.AssessedAt = formatTime(a.Timestamp)
	}
	if p := rec.Pattern; p != nil {
		row.MatchedRules = append(row.MatchedRules, p.MatchedRules...)
	}
	if p := rec.Patterns; p != nil {
		row.AttackVectors = append(row.AttackVectors, p.Vectors.Sorted()...)
		row.ToolsUsed = append(row.ToolsUsed, p.Tools.Sorted()...)
	}
	if p := rec.Profile; p != nil {
		row.AttackCount = p.AttackCount
	}
	return row, nil
}

// ClickHouse DateTime64 accepts this layout in JSONEachRow.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "1970-01-01 00:00:00.000"
	}
	return t.UTC().Format("2006-01-02 15:04:05.000")
}

func quoteIdent(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "`", "")
	return "`" + v + "`"
}
