// Package config loads the pipeline's YAML configuration: environment,
// storage backend, middleware tuning, sinks and observability.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigSize bounds config files to 1MB.
const maxConfigSize = 1 << 20

// Config represents the pipeline configuration
type Config struct {
	// Environment is "client" or "server"
	Environment string `yaml:"environment"`

	// Debug enables error logging from the default handler
	Debug bool `yaml:"debug"`

	Storage    StorageConfig   `yaml:"storage"`
	Session    SessionConfig   `yaml:"session"`
	Consent    ConsentConfig   `yaml:"consent"`
	Privacy    PrivacyConfig   `yaml:"privacy"`
	Batch      BatchConfig     `yaml:"batch"`
	Validation ValidateConfig  `yaml:"validation"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`

	Sinks   SinksConfig   `yaml:"sinks"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// StorageConfig selects and tunes the storage adapter
type StorageConfig struct {
	// Backend is "memory", "file" or "redis"
	Backend string `yaml:"backend"`

	// Dir is the file backend's directory (default ~/.beacon)
	Dir string `yaml:"dir"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis backend settings
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	PoolSize int           `yaml:"pool_size"`
}

// SessionConfig tunes the session store
type SessionConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Referrer    string        `yaml:"referrer"`
	InitialPath string        `yaml:"initial_path"`
}

// ConsentConfig tunes the consent gate
type ConsentConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Required        []string `yaml:"required"`
	DropWhileDenied bool     `yaml:"drop_while_denied"`
}

// PrivacyConfig tunes the scrubbing stage
type PrivacyConfig struct {
	Enabled         bool     `yaml:"enabled"`
	SensitiveFields []string `yaml:"sensitive_fields"`
	HashFields      []string `yaml:"hash_fields"`
}

// BatchConfig tunes batching and the offline queue
type BatchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxSize       int           `yaml:"max_size"`
	MaxWait       time.Duration `yaml:"max_wait"`
	MaxRetries    int           `yaml:"max_retries"`
	FlushOnUnload *bool         `yaml:"flush_on_unload"`
}

// ValidateConfig tunes the shape-validation stage
type ValidateConfig struct {
	Enabled       bool `yaml:"enabled"`
	Strict        bool `yaml:"strict"`
	MinNameLength int  `yaml:"min_name_length"`
	MaxNameLength int  `yaml:"max_name_length"`
}

// RateLimitConfig tunes the sampling stage
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	Burst           int     `yaml:"burst"`
}

// SinksConfig selects the built-in sinks
type SinksConfig struct {
	Console bool           `yaml:"console"`
	Debug   bool           `yaml:"debug"`
	Webhook *WebhookConfig `yaml:"webhook"`
	Kafka   *KafkaConfig   `yaml:"kafka"`
}

// WebhookConfig holds webhook sink settings
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	SDKSrc  string            `yaml:"sdk_src"`
}

// KafkaConfig holds kafka sink settings
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MetricsConfig tunes the observability server
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// TracingConfig tunes the trace exporter
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	// Environment fallbacks for secrets
	if cfg.Storage.Redis.Password == "" {
		cfg.Storage.Redis.Password = os.Getenv("BEACON_REDIS_PASSWORD")
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no sinks.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "server"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = 30 * time.Minute
	}
	if c.Batch.MaxSize == 0 {
		c.Batch.MaxSize = 10
	}
	if c.Batch.MaxWait == 0 {
		c.Batch.MaxWait = 5 * time.Second
	}
	if c.Batch.MaxRetries == 0 {
		c.Batch.MaxRetries = 3
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Environment {
	case "client", "server":
	default:
		return fmt.Errorf("environment must be \"client\" or \"server\", got %q", c.Environment)
	}

	switch c.Storage.Backend {
	case "memory", "file":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Sinks.Webhook != nil && c.Sinks.Webhook.URL == "" {
		return fmt.Errorf("sinks.webhook.url is required")
	}
	if c.Sinks.Kafka != nil {
		if len(c.Sinks.Kafka.Brokers) == 0 {
			return fmt.Errorf("sinks.kafka.brokers is required")
		}
		if c.Sinks.Kafka.Topic == "" {
			return fmt.Errorf("sinks.kafka.topic is required")
		}
	}
	return nil
}
