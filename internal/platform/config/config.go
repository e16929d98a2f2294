package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Config is the process configuration, loaded once from the environment.
// Backends with an empty URL fall back to in-memory implementations.
type Config struct {
	// server
	Addr            string        `env:"ADDR,default=:8080"`
	Environment     string        `env:"ENVIRONMENT,default=dev"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	// backends
	DatabaseURL       string   `env:"DATABASE_URL"`
	RedisURL          string   `env:"REDIS_URL"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS,separator=|"`
	KafkaTopicEvents  string   `env:"KAFKA_TOPIC_EVENTS,default=healthcred.events"`
	KafkaTopicReports string   `env:"KAFKA_TOPIC_REPORTS,default=healthcred.batch-reports"`
	S3Bucket          string   `env:"S3_BUCKET"`
	S3Region          string   `env:"S3_REGION,default=us-east-1"`
	S3Endpoint        string   `env:"S3_ENDPOINT"`

	// external services
	DocumentServiceURL  string        `env:"DOCUMENT_SERVICE_URL"`
	IssuerKeyServiceURL string        `env:"ISSUER_KEY_SERVICE_URL"`
	IssuanceServiceURL  string        `env:"ISSUANCE_SERVICE_URL"`
	ServiceAPIKey       string        `env:"SERVICE_API_KEY"`
	OutboundTimeout     time.Duration `env:"OUTBOUND_TIMEOUT,default=10s"`
	OutboundRetries     int           `env:"OUTBOUND_RETRIES,default=2"`
	OutboundRetryDelay  time.Duration `env:"OUTBOUND_RETRY_DELAY,default=500ms"`

	OutboundBreakerFailures int           `env:"OUTBOUND_BREAKER_FAILURES,default=5"`
	OutboundBreakerCooldown time.Duration `env:"OUTBOUND_BREAKER_COOLDOWN,default=30s"`

	// consent
	ConsentMaxAge    time.Duration `env:"CONSENT_MAX_AGE,default=1344h"`
	ConsentClockSkew time.Duration `env:"CONSENT_CLOCK_SKEW,default=5s"`

	// batch
	BatchChunkSize        int           `env:"BATCH_CHUNK_SIZE,default=100"`
	BatchMinInterval      time.Duration `env:"BATCH_MIN_INTERVAL,default=1s"`
	BatchErrorThreshold   int           `env:"BATCH_ERROR_THRESHOLD,default=10"`
	BatchReadbackAttempts int           `env:"BATCH_READBACK_ATTEMPTS,default=3"`
	BatchReadbackDelay    time.Duration `env:"BATCH_READBACK_DELAY,default=1s"`

	// mapper
	MapperCacheTTL time.Duration `env:"MAPPER_CACHE_TTL,default=10m"`

	// outbox
	OutboxPollInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL,default=1s"`
	OutboxBatchSize     int           `env:"OUTBOX_BATCH_SIZE,default=100"`
	OutboxRetention     time.Duration `env:"OUTBOX_RETENTION,default=24h"`
	OutboxPruneInterval time.Duration `env:"OUTBOX_PRUNE_INTERVAL,default=10m"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"staging": true,
	"prod":    true,
}

// FromEnv loads and validates the configuration.
func FromEnv() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDev reports whether the process runs in the dev environment.
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func validate(cfg *Config) error {
	cfg.Environment = strings.ToLower(cfg.Environment)
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	if cfg.OutboundTimeout <= 0 {
		return fmt.Errorf("OUTBOUND_TIMEOUT must be positive")
	}
	if cfg.OutboundRetries < 0 {
		return fmt.Errorf("OUTBOUND_RETRIES must be 0 or greater")
	}
	if cfg.OutboundBreakerFailures < 1 {
		return fmt.Errorf("OUTBOUND_BREAKER_FAILURES must be at least 1")
	}
	if cfg.ConsentMaxAge <= 0 {
		return fmt.Errorf("CONSENT_MAX_AGE must be positive")
	}
	if cfg.ConsentClockSkew < 0 {
		return fmt.Errorf("CONSENT_CLOCK_SKEW must be 0 or greater")
	}
	if cfg.BatchChunkSize < 1 {
		return fmt.Errorf("BATCH_CHUNK_SIZE must be at least 1")
	}
	if cfg.BatchErrorThreshold < 1 {
		return fmt.Errorf("BATCH_ERROR_THRESHOLD must be at least 1")
	}
	if cfg.BatchReadbackAttempts < 1 {
		return fmt.Errorf("BATCH_READBACK_ATTEMPTS must be at least 1")
	}
	if cfg.BatchMinInterval < 0 {
		return fmt.Errorf("BATCH_MIN_INTERVAL must be 0 or greater")
	}
	if cfg.OutboxRetention <= 0 || cfg.OutboxPruneInterval <= 0 {
		return fmt.Errorf("OUTBOX_RETENTION and OUTBOX_PRUNE_INTERVAL must be positive")
	}
	if cfg.S3Bucket == "" && cfg.S3Endpoint != "" {
		return fmt.Errorf("S3_ENDPOINT requires S3_BUCKET")
	}
	return nil
}
