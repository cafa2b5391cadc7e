package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	QuotaBackendRedis    = "redis"
	QuotaBackendPostgres = "postgres"
)

type Config struct {
	DatabaseDSN      string `env:"DATABASE_DSN,required=true"`
	RedisURL         string `env:"REDIS_URL,required=true"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`

	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBSlowQuery    time.Duration `env:"DB_SLOW_QUERY,default=200ms"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	SweepSchedule    string `env:"SWEEP_SCHEDULE,default=@every 1m"`
	SweepBatchLimit  int    `env:"SWEEP_BATCH_LIMIT,default=200"`
	SweepConcurrency int    `env:"SWEEP_CONCURRENCY,default=8"`

	// SweepInterval > 0 also runs the sweeper inside the API process.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=0s"`

	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT,default=5s"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT,default=10s"`
	SubjectLockTTL   time.Duration `env:"SUBJECT_LOCK_TTL,default=10s"`
	ReservationTTL   time.Duration `env:"RESERVATION_TTL,default=10m"`

	QuotaBackend string `env:"QUOTA_BACKEND,default=redis"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=16"`
	WorkerPrefetch    int `env:"WORKER_PREFETCH,default=32"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.QuotaBackend = strings.ToLower(strings.TrimSpace(c.QuotaBackend))
	switch c.QuotaBackend {
	case QuotaBackendRedis, QuotaBackendPostgres:
	default:
		return fmt.Errorf("QUOTA_BACKEND must be %q or %q, got %q", QuotaBackendRedis, QuotaBackendPostgres, c.QuotaBackend)
	}

	durations := map[string]time.Duration{
		"OPERATION_TIMEOUT": c.OperationTimeout,
		"NOTIFY_TIMEOUT":    c.NotifyTimeout,
		"SUBJECT_LOCK_TTL":  c.SubjectLockTTL,
		"RESERVATION_TTL":   c.ReservationTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.SweepBatchLimit < 1 {
		return fmt.Errorf("SWEEP_BATCH_LIMIT must be >= 1")
	}
	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be >= 1")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}
	if strings.TrimSpace(c.SweepSchedule) == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required")
	}
	return nil
}
