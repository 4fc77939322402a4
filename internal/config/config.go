// Package config resolves runtime configuration in priority order:
// hard defaults -> YAML file -> environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	HTTPPort int

	// Pipeline tuning.
	QueueCapacity  int
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
	BatchSize      int
	BatchInterval  time.Duration
	DrainGrace     time.Duration

	// Aggregation.
	WindowSize      time.Duration
	ReportDir       string
	ReportRetention time.Duration

	// Stores. HotBackend selects which adapter serves as the hot store.
	HotBackend  string // "memory", "postgres" or "redis"
	PostgresURL string
	RedisURL    string
	MaxDBConns  int
	ArchiveDir  string

	DeadLetterPath string

	// Optional Kafka event source; disabled when Brokers is empty.
	KafkaBrokers []string
	KafkaGroupID string
	KafkaTopic   string
}

// configFile mirrors the YAML schema. Kept separate from Config so duration
// strings and runtime-only fields never leak into each other.
type configFile struct {
	Server struct {
		HTTPPort int `yaml:"http_port"`
	} `yaml:"server"`
	Pipeline struct {
		QueueCapacity  int    `yaml:"queue_capacity"`
		MaxRetries     int    `yaml:"max_retries"`
		BackoffBase    string `yaml:"backoff_base"`
		BackoffCap     string `yaml:"backoff_cap"`
		AttemptTimeout string `yaml:"attempt_timeout"`
		BatchSize      int    `yaml:"batch_size"`
		BatchInterval  string `yaml:"batch_interval"`
		DrainGrace     string `yaml:"drain_grace"`
	} `yaml:"pipeline"`
	Aggregation struct {
		WindowSize      string `yaml:"window_size"`
		ReportDir       string `yaml:"report_dir"`
		ReportRetention string `yaml:"report_retention"`
	} `yaml:"aggregation"`
	Stores struct {
		HotBackend  string `yaml:"hot_backend"`
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
		MaxDBConns  int    `yaml:"max_db_conns"`
		ArchiveDir  string `yaml:"archive_dir"`
	} `yaml:"stores"`
	DeadLetterPath string `yaml:"dead_letter_path"`
	Kafka          struct {
		Brokers []string `yaml:"brokers"`
		GroupID string   `yaml:"group_id"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

// Load resolves the configuration. A missing file is not an error; defaults
// and environment carry a local run on their own.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPPort:        8088,
		QueueCapacity:   1024,
		MaxRetries:      5,
		BackoffBase:     100 * time.Millisecond,
		BackoffCap:      10 * time.Second,
		AttemptTimeout:  2 * time.Second,
		BatchSize:       64,
		BatchInterval:   time.Second,
		DrainGrace:      15 * time.Second,
		WindowSize:      10 * time.Second,
		ReportDir:       "data/reports",
		ReportRetention: 168 * time.Hour,
		HotBackend:      "memory",
		MaxDBConns:      20,
		ArchiveDir:      "data/archive",
		DeadLetterPath:  "data/deadletter.jsonl",
		KafkaGroupID:    "loglens-ingest",
		KafkaTopic:      "log-events",
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	}

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.QueueCapacity = envInt("QUEUE_CAPACITY", cfg.QueueCapacity)
	cfg.MaxRetries = envInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.BackoffBase = envDuration("BACKOFF_BASE", cfg.BackoffBase)
	cfg.BackoffCap = envDuration("BACKOFF_CAP", cfg.BackoffCap)
	cfg.AttemptTimeout = envDuration("ATTEMPT_TIMEOUT", cfg.AttemptTimeout)
	cfg.BatchSize = envInt("BATCH_SIZE", cfg.BatchSize)
	cfg.BatchInterval = envDuration("BATCH_INTERVAL", cfg.BatchInterval)
	cfg.DrainGrace = envDuration("DRAIN_GRACE", cfg.DrainGrace)
	cfg.WindowSize = envDuration("WINDOW_SIZE", cfg.WindowSize)
	cfg.ReportDir = envOrDefault("REPORT_DIR", cfg.ReportDir)
	cfg.ReportRetention = envDuration("REPORT_RETENTION", cfg.ReportRetention)
	cfg.HotBackend = strings.ToLower(envOrDefault("HOT_BACKEND", cfg.HotBackend))
	cfg.PostgresURL = envOrDefault("POSTGRES_URL", cfg.PostgresURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MaxDBConns = envInt("DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.ArchiveDir = envOrDefault("ARCHIVE_DIR", cfg.ArchiveDir)
	cfg.DeadLetterPath = envOrDefault("DEAD_LETTER_PATH", cfg.DeadLetterPath)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envOrDefault("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)

	switch cfg.HotBackend {
	case "memory":
	case "postgres":
		if cfg.PostgresURL == "" {
			return Config{}, fmt.Errorf("hot_backend postgres requires POSTGRES_URL")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("hot_backend redis requires REDIS_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown hot_backend %q", cfg.HotBackend)
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Server.HTTPPort > 0 {
		cfg.HTTPPort = f.Server.HTTPPort
	}
	if f.Pipeline.QueueCapacity > 0 {
		cfg.QueueCapacity = f.Pipeline.QueueCapacity
	}
	if f.Pipeline.MaxRetries > 0 {
		cfg.MaxRetries = f.Pipeline.MaxRetries
	}
	cfg.BackoffBase = parseDuration(f.Pipeline.BackoffBase, cfg.BackoffBase)
	cfg.BackoffCap = parseDuration(f.Pipeline.BackoffCap, cfg.BackoffCap)
	cfg.AttemptTimeout = parseDuration(f.Pipeline.AttemptTimeout, cfg.AttemptTimeout)
	if f.Pipeline.BatchSize > 0 {
		cfg.BatchSize = f.Pipeline.BatchSize
	}
	cfg.BatchInterval = parseDuration(f.Pipeline.BatchInterval, cfg.BatchInterval)
	cfg.DrainGrace = parseDuration(f.Pipeline.DrainGrace, cfg.DrainGrace)
	cfg.WindowSize = parseDuration(f.Aggregation.WindowSize, cfg.WindowSize)
	if f.Aggregation.ReportDir != "" {
		cfg.ReportDir = f.Aggregation.ReportDir
	}
	cfg.ReportRetention = parseDuration(f.Aggregation.ReportRetention, cfg.ReportRetention)
	if f.Stores.HotBackend != "" {
		cfg.HotBackend = strings.ToLower(f.Stores.HotBackend)
	}
	if f.Stores.PostgresURL != "" {
		cfg.PostgresURL = f.Stores.PostgresURL
	}
	if f.Stores.RedisURL != "" {
		cfg.RedisURL = f.Stores.RedisURL
	}
	if f.Stores.MaxDBConns > 0 {
		cfg.MaxDBConns = f.Stores.MaxDBConns
	}
	if f.Stores.ArchiveDir != "" {
		cfg.ArchiveDir = f.Stores.ArchiveDir
	}
	if f.DeadLetterPath != "" {
		cfg.DeadLetterPath = f.DeadLetterPath
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Kafka.Brokers
	}
	if f.Kafka.GroupID != "" {
		cfg.KafkaGroupID = f.Kafka.GroupID
	}
	if f.Kafka.Topic != "" {
		cfg.KafkaTopic = f.Kafka.Topic
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// envOrDefault returns an env var when present, otherwise the fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	return parseDuration(os.Getenv(name), fallback)
}

func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
