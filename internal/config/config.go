package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// StoreBackend selects the persistence layer.
type StoreBackend string

const (
	// StoreMemory keeps everything in process. Good for development and
	// single-node setups where history loss on restart is acceptable.
	StoreMemory StoreBackend = "memory"
	// StorePostgres persists events, subscriptions and dead letters.
	StorePostgres StoreBackend = "postgres"
)

type Config struct {
	// Server
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Storage
	// STORE_BACKEND: "memory" (default) or "postgres"
	StoreBackend StoreBackend `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL  string       `env:"DATABASE_URL"`
	// MaxEvents bounds the in-memory event log (memory backend only).
	MaxEvents int `env:"MAX_EVENTS" envDefault:"100000"`

	// Topics
	TopicsConfigPath string `env:"TOPICS_CONFIG_PATH"`

	// Delivery
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"5s"`
	// ErrorThreshold exhaustions within ErrorWindow move a subscription
	// to error status.
	ErrorThreshold int           `env:"ERROR_THRESHOLD" envDefault:"10"`
	ErrorWindow    time.Duration `env:"ERROR_WINDOW" envDefault:"5m"`

	// Webhooks
	WebhookSigningSecret string `env:"WEBHOOK_SIGNING_SECRET"`
	// AllowPrivateEndpoints disables the private-address screen on
	// webhook endpoints. Development only.
	AllowPrivateEndpoints bool `env:"ALLOW_PRIVATE_ENDPOINTS" envDefault:"false"`

	// Dead letters
	DLQRetention     time.Duration `env:"DLQ_RETENTION" envDefault:"168h"`
	DLQPurgeInterval time.Duration `env:"DLQ_PURGE_INTERVAL" envDefault:"1h"`

	// NATS mirror. Empty MIRROR_SUBJECT_PREFIX disables mirroring.
	NatsURL             string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsEmbedded        bool   `env:"NATS_EMBEDDED" envDefault:"false"`
	MirrorSubjectPrefix string `env:"MIRROR_SUBJECT_PREFIX"`
	MirrorStream        string `env:"MIRROR_STREAM" envDefault:"FANOUT"`

	// Rate limiting
	PublishRateLimit float64 `env:"PUBLISH_RATE_LIMIT" envDefault:"1000"`
	PublishRateBurst int     `env:"PUBLISH_RATE_BURST" envDefault:"2000"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// LogFile enables file logging with rotation when set.
	LogFile string `env:"LOG_FILE"`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.StoreBackend != StoreMemory && cfg.StoreBackend != StorePostgres {
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
	}
	return cfg, nil
}
