package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`

	// AMQP ingestion is disabled when AMQPURL is empty.
	AMQPURL   string `envconfig:"AMQP_URL"`
	AMQPQueue string `envconfig:"AMQP_QUEUE" default:"pushhub.content"`

	// BaseURL is the public origin feeds and hub links are built from.
	BaseURL string `envconfig:"BASE_URL" required:"true"`

	NumWorkers int    `envconfig:"NUM_WORKERS" default:"50"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	DeliveryMaxRetries     int           `envconfig:"DELIVERY_MAX_RETRIES" default:"3"`
	DeliveryConnectTimeout time.Duration `envconfig:"DELIVERY_CONNECT_TIMEOUT" default:"20s"`
	DeliveryReadTimeout    time.Duration `envconfig:"DELIVERY_READ_TIMEOUT" default:"50s"`
	HostRateLimit          int           `envconfig:"HOST_RATE_LIMIT" default:"0"`

	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("NUM_WORKERS must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.DeliveryMaxRetries < 0 {
		return nil, fmt.Errorf("DELIVERY_MAX_RETRIES must not be negative, got %d", cfg.DeliveryMaxRetries)
	}
	if _, err := cfg.SlogLevel(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
