package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ThreatShield ThreatShieldConfig `yaml:"threatshield"`
}

// ThreatShieldConfig is the project configuration.
type ThreatShieldConfig struct {
	Input        InputConfig        `yaml:"input"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Rules        RulesConfig        `yaml:"rules"`
	Semantic     SemanticConfig     `yaml:"semantic"`
	Profiles     ProfilesConfig     `yaml:"profiles"`
	Intelligence IntelligenceConfig `yaml:"intelligence"`
	Actions      ActionsConfig      `yaml:"actions"`
	API          APIConfig          `yaml:"api"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// InputConfig controls the event source.
type InputConfig struct {
	Mode  string      `yaml:"mode"` // redis|kafka|none
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers         int           `yaml:"workers"`
	EventTimeout    time.Duration `yaml:"event_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // profile write + dispatch
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DeadLetterFile  string        `yaml:"dead_letter_file"` // rejected payloads, optional
}

// RulesConfig controls optional Sigma rules evaluated by the pattern scorer.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SemanticConfig controls the external classifier.
type SemanticConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Provider  string            `yaml:"provider"` // bedrock|http
	ModelID   string            `yaml:"model_id"`
	Region    string            `yaml:"region"`
	MaxTokens int               `yaml:"max_tokens"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
}

// ProfilesConfig controls the attacker profile store.
type ProfilesConfig struct {
	Backend    string        `yaml:"backend"` // memory|redis
	TTL        time.Duration `yaml:"ttl"`
	HistoryCap int           `yaml:"history_cap"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// IntelligenceConfig controls archival records.
type IntelligenceConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Output OutputConfig  `yaml:"output"`
}

// ActionsConfig controls the outbound action bus.
type ActionsConfig struct {
	Output OutputConfig `yaml:"output"`
}

// RedisConfig controls Redis access.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	KeyPrefix    string        `yaml:"key_prefix"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// KafkaConfig controls Kafka access.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// OutputConfig selects and configures an action publisher.
type OutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|nats|kafka|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	NATS       NATSOutputConfig       `yaml:"nats"`
	Kafka      KafkaConfig            `yaml:"kafka"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// NATSOutputConfig config for NATS publishing.
type NATSOutputConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// APIConfig controls the HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
	Format  string `yaml:"format"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	ts := &cfg.ThreatShield

	if ts.Input.Mode == "" {
		ts.Input.Mode = "redis"
	}
	if ts.Input.Redis.Addr == "" {
		ts.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if ts.Input.Redis.Key == "" {
		ts.Input.Redis.Key = "cloudtrail_events"
	}
	if ts.Input.Redis.BlockTimeout == 0 {
		ts.Input.Redis.BlockTimeout = 5 * time.Second
	}
	if ts.Input.Kafka.Topic == "" {
		ts.Input.Kafka.Topic = "cloudtrail-events"
	}
	if ts.Input.Kafka.GroupID == "" {
		ts.Input.Kafka.GroupID = "threatshield"
	}

	if ts.Pipeline.Workers <= 0 {
		ts.Pipeline.Workers = 8
	}
	if ts.Pipeline.EventTimeout <= 0 {
		ts.Pipeline.EventTimeout = 10 * time.Second
	}
	if ts.Pipeline.ShutdownTimeout <= 0 {
		ts.Pipeline.ShutdownTimeout = 30 * time.Second
	}
	if ts.Pipeline.WriteTimeout <= 0 {
		ts.Pipeline.WriteTimeout = 5 * time.Second
	}

	if ts.Semantic.Provider == "" {
		ts.Semantic.Provider = "bedrock"
	}
	if ts.Semantic.ModelID == "" {
		ts.Semantic.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if ts.Semantic.Region == "" {
		ts.Semantic.Region = "us-east-1"
	}
	if ts.Semantic.MaxTokens <= 0 {
		ts.Semantic.MaxTokens = 1000
	}
	if ts.Semantic.Timeout <= 0 {
		ts.Semantic.Timeout = 5 * time.Second
	}

	if ts.Profiles.Backend == "" {
		ts.Profiles.Backend = "memory"
	}
	if ts.Profiles.TTL <= 0 {
		ts.Profiles.TTL = 30 * 24 * time.Hour
	}
	if ts.Profiles.HistoryCap <= 0 {
		ts.Profiles.HistoryCap = 100
	}
	if ts.Profiles.MaxEntries <= 0 {
		ts.Profiles.MaxEntries = 100000
	}
	if ts.Profiles.Redis.Addr == "" {
		ts.Profiles.Redis.Addr = ts.Input.Redis.Addr
	}
	if ts.Profiles.Redis.KeyPrefix == "" {
		ts.Profiles.Redis.KeyPrefix = "threatshield"
	}

	if ts.Intelligence.TTL <= 0 {
		ts.Intelligence.TTL = 90 * 24 * time.Hour
	}
	if ts.Intelligence.Output.ClickHouse.Database == "" {
		ts.Intelligence.Output.ClickHouse.Database = "threatshield"
	}
	if ts.Intelligence.Output.ClickHouse.Table == "" {
		ts.Intelligence.Output.ClickHouse.Table = "intelligence_records"
	}

	if ts.Actions.Output.Mode == "" {
		ts.Actions.Output.Mode = "file"
	}
	if ts.Actions.Output.File.Path == "" {
		ts.Actions.Output.File.Path = "output/actions.jsonl"
	}
	if ts.Actions.Output.NATS.URL == "" {
		ts.Actions.Output.NATS.URL = "nats://127.0.0.1:4222"
	}
	if ts.Actions.Output.NATS.SubjectPrefix == "" {
		ts.Actions.Output.NATS.SubjectPrefix = "threatshield.actions"
	}
	if ts.Actions.Output.Kafka.Topic == "" {
		ts.Actions.Output.Kafka.Topic = "threatshield-actions"
	}

	if ts.API.Addr == "" {
		ts.API.Addr = ":8080"
	}

	if ts.Logging.Level == "" {
		ts.Logging.Level = "info"
	}
	if ts.Logging.Format == "" {
		ts.Logging.Format = "json"
	}
}
