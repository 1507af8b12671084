// Package config loads process-wide configuration from environment
// variables, grounded on the source repo's notification.Config/
// WorkerConfig env-var loading style (sensible defaults, each field
// independently overridable, parsed with os.Getenv + strconv).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/irfndi/notifyhub/internal/confirmation"
	"github.com/irfndi/notifyhub/internal/dispatch"
	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/irfndi/notifyhub/internal/realtime"
	"github.com/irfndi/notifyhub/internal/router"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, one section per component.
type Config struct {
	HTTPAddr string

	RedisURL string

	RateLimit     ratelimit.Limit
	RateStrategy  ratelimit.Strategy

	Confirmation confirmation.Config

	Realtime realtime.Config

	RouterRetry router.RetryPolicy

	Dispatch dispatch.Config

	EmailTransport processor.EmailTransportConfig
	PushTransport  processor.PushTransportConfig

	LogLevel string
}

// Load reads a .env file if present (development convenience, matching
// the source repo) then layers environment variables over the defaults.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RateLimit:    ratelimit.Limit{Limit: int64(getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100)), Window: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)},
		RateStrategy: ratelimit.StrategyFixedWindow,
		Confirmation: confirmation.DefaultConfig(),
		Realtime:     realtime.DefaultConfig(),
		RouterRetry:  router.DefaultRetryPolicy(),
		Dispatch:     dispatch.DefaultConfig(),
		EmailTransport: processor.EmailTransportConfig{
			BaseURL: getEnv("EMAIL_TRANSPORT_BASE_URL", "https://email-provider.internal"),
			APIKey:  getEnv("EMAIL_TRANSPORT_API_KEY", ""),
			Timeout: getEnvDuration("EMAIL_TRANSPORT_TIMEOUT", 10*time.Second),
		},
		PushTransport: processor.PushTransportConfig{
			BaseURL: getEnv("PUSH_TRANSPORT_BASE_URL", "https://push-provider.internal"),
			APIKey:  getEnv("PUSH_TRANSPORT_API_KEY", ""),
			Timeout: getEnvDuration("PUSH_TRANSPORT_TIMEOUT", 10*time.Second),
		},
	}

	cfg.Realtime.MaxConnections = getEnvInt("REALTIME_MAX_CONNECTIONS", cfg.Realtime.MaxConnections)
	cfg.Realtime.PingInterval = getEnvDuration("REALTIME_PING_INTERVAL", cfg.Realtime.PingInterval)
	cfg.Realtime.ConnectionTimeout = getEnvDuration("REALTIME_CONNECTION_TIMEOUT", cfg.Realtime.ConnectionTimeout)

	cfg.Dispatch.MaxSize = getEnvInt("DISPATCH_MAX_SIZE", cfg.Dispatch.MaxSize)
	cfg.Dispatch.BatchSize = getEnvInt("DISPATCH_BATCH_SIZE", cfg.Dispatch.BatchSize)
	cfg.Dispatch.Concurrency = getEnvInt("DISPATCH_CONCURRENCY", cfg.Dispatch.Concurrency)
	if getEnv("DISPATCH_SELECTION_MODE", "priority") == "round_robin" {
		cfg.Dispatch.SelectionMode = dispatch.SelectionRoundRobin
	}

	cfg.RouterRetry.MaxRetries = getEnvInt("ROUTER_MAX_RETRIES", cfg.RouterRetry.MaxRetries)
	cfg.RouterRetry.InitialDelay = getEnvDuration("ROUTER_INITIAL_RETRY_DELAY", cfg.RouterRetry.InitialDelay)

	return cfg
}

// Validate checks invariants Load's defaults can't violate on their own but
// an operator-supplied override can.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.Dispatch.MaxSize <= 0 {
		return fmt.Errorf("DISPATCH_MAX_SIZE must be positive")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive")
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
