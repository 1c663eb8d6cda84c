// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Highlight, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Highlight HighlightConfig `yaml:"highlight"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	AllowOrigins    []string        `yaml:"allowOrigins"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig bounds requests per client address. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CacheInvalidate string `yaml:"cacheInvalidate"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"poolSize"`
	CacheTTL    time.Duration `yaml:"cacheTTL"`
	Compression string        `yaml:"compression"`
}

// HighlightConfig controls passage selection, snippet markup, and batch
// limits.
type HighlightConfig struct {
	MaxPassages int    `yaml:"maxPassages"`
	MaxLength   int    `yaml:"maxLength"`
	MaxBatch    int    `yaml:"maxBatch"`
	Concurrency int    `yaml:"concurrency"`
	PreTag      string `yaml:"preTag"`
	PostTag     string `yaml:"postTag"`
	Ellipsis    string `yaml:"ellipsis"`
	Escape      bool   `yaml:"escape"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Highlight.MaxPassages < 1 {
		return fmt.Errorf("highlight.maxPassages must be positive, got %d", c.Highlight.MaxPassages)
	}
	if c.Highlight.MaxLength < 1 {
		return fmt.Errorf("highlight.maxLength must be positive, got %d", c.Highlight.MaxLength)
	}
	if c.Highlight.Concurrency < 1 {
		return fmt.Errorf("highlight.concurrency must be positive, got %d", c.Highlight.Concurrency)
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				Burst:             100,
				IdleTimeout:       10 * time.Minute,
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "highlighter",
			User:            "highlighter",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "highlighter-group",
			Topics: KafkaTopics{
				CacheInvalidate: "cache-invalidate",
				AnalyticsEvents: "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    10,
			CacheTTL:    5 * time.Minute,
			Compression: "zstd",
		},
		Highlight: HighlightConfig{
			MaxPassages: 3,
			MaxLength:   10000,
			MaxBatch:    100,
			Concurrency: 8,
			PreTag:      "<b>",
			PostTag:     "</b>",
			Ellipsis:    "... ",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("SP_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("SP_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	setString("SP_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("SP_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("SP_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("SP_POSTGRES_USER", &cfg.Postgres.User)
	setString("SP_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("SP_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("SP_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SP_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("SP_REDIS_COMPRESSION", &cfg.Redis.Compression)
	setInt("SP_HIGHLIGHT_MAX_PASSAGES", &cfg.Highlight.MaxPassages)
	setInt("SP_HIGHLIGHT_MAX_LENGTH", &cfg.Highlight.MaxLength)
	setInt("SP_HIGHLIGHT_CONCURRENCY", &cfg.Highlight.Concurrency)
	if v := os.Getenv("SP_HIGHLIGHT_ESCAPE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Highlight.Escape = b
		}
	}
	setString("SP_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("SP_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("SP_METRICS_PORT", &cfg.Metrics.Port)
}
