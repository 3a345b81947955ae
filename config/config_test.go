package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threatshield.yml")
	body := `
threatshield:
  input:
    mode: kafka
    kafka:
      brokers: ["k1:9092"]
  semantic:
    enabled: true
    provider: http
    url: http://classifier.local/v1/classify
    timeout: 2s
  profiles:
    backend: redis
    ttl: 168h
  actions:
    output:
      mode: nats
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	ApplyDefaults(cfg)

	ts := cfg.ThreatShield
	assert.Equal(t, "kafka", ts.Input.Mode)
	assert.Equal(t, []string{"k1:9092"}, ts.Input.Kafka.Brokers)
	assert.Equal(t, "threatshield", ts.Input.Kafka.GroupID)
	assert.Equal(t, 2*time.Second, ts.Semantic.Timeout)
	assert.Equal(t, 7*24*time.Hour, ts.Profiles.TTL)
	assert.Equal(t, 100, ts.Profiles.HistoryCap)
	assert.Equal(t, "127.0.0.1:6379", ts.Profiles.Redis.Addr)
	assert.Equal(t, 90*24*time.Hour, ts.Intelligence.TTL)
	assert.Equal(t, "threatshield.actions", ts.Actions.Output.NATS.SubjectPrefix)
	assert.Equal(t, 8, ts.Pipeline.Workers)
	assert.Equal(t, 5*time.Second, ts.Pipeline.WriteTimeout)
	assert.Equal(t, 30*time.Second, ts.Pipeline.ShutdownTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
