package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotengine/libs/config"
	"github.com/md-rashed-zaman/slotengine/libs/db"
	"github.com/md-rashed-zaman/slotengine/libs/kafkax"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/engine"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/storage"
	"github.com/md-rashed-zaman/slotengine/services/availability-service/internal/tz"
)

type serviceConfig struct {
	Service        string
	Port           string
	GRPCPort       string
	DatabaseURL    string
	MigrateOnStart bool
	Pool           db.PoolConfig

	Engine  engine.Config
	Breaker storage.BreakerConfig

	KafkaBrokers    []string
	OutboxPollEvery time.Duration
	OutboxBatchSize int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimit         int
	RateLimitFailOpen bool
	BodyLimitBytes    int64
	RequestTimeout    time.Duration
}

// loadConfig reads the environment. Every malformed value is an error so a
// typo fails the deploy rather than silently falling back.
func loadConfig() (serviceConfig, error) {
	var (
		cfg serviceConfig
		err error
	)
	cfg.Service = config.String("SERVICE_NAME", "availability-service")
	if cfg.Port, err = config.Port("PORT", "8085"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9095"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.MigrateOnStart, err = config.Bool("MIGRATE_ON_START", true); err != nil {
		return cfg, err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return cfg, err
	}
	cfg.Pool.MaxConns = int32(maxConns)
	if cfg.Pool.StatementTimeout, err = config.Duration("DB_STATEMENT_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}

	cfg.Engine.DefaultTimezone = config.String("DEFAULT_TIMEZONE", "UTC")
	if _, err := tz.NewConverter().Location(cfg.Engine.DefaultTimezone); err != nil {
		return cfg, fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	if cfg.Engine.StepMinutes, err = config.Int("SLOT_STEP_MINUTES", availability.DefaultStepMinutes); err != nil {
		return cfg, err
	}
	if cfg.Engine.StepMinutes <= 0 {
		return cfg, fmt.Errorf("SLOT_STEP_MINUTES must be positive (got %d)", cfg.Engine.StepMinutes)
	}
	if cfg.Engine.LeadTime, err = config.Minutes("LEAD_TIME_MINUTES", availability.DefaultLeadTime); err != nil {
		return cfg, err
	}
	if cfg.Engine.DefaultBufferMinutes, err = config.Int("DEFAULT_BUFFER_MINUTES", 0); err != nil {
		return cfg, err
	}
	if cfg.Engine.Workers, err = config.Int("ENGINE_WORKERS", 8); err != nil {
		return cfg, err
	}
	if cfg.Engine.MaxRangeDays, err = config.Int("MAX_RANGE_DAYS", 62); err != nil {
		return cfg, err
	}

	threshold, err := config.Int("BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return cfg, err
	}
	if threshold < 1 {
		return cfg, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1 (got %d)", threshold)
	}
	cfg.Breaker.FailureThreshold = uint32(threshold)
	if cfg.Breaker.Timeout, err = config.Duration("BREAKER_OPEN_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}

	cfg.KafkaBrokers = kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	if cfg.OutboxPollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OutboxBatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}

	cfg.RedisAddr = config.String("REDIS_ADDR", "")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	if cfg.RedisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	if cfg.RateLimitFailOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true); err != nil {
		return cfg, err
	}
	bodyLimit, err := config.Int("HTTP_BODY_LIMIT_BYTES", 64<<10)
	if err != nil {
		return cfg, err
	}
	cfg.BodyLimitBytes = int64(bodyLimit)
	if cfg.RequestTimeout, err = config.Duration("HTTP_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}
