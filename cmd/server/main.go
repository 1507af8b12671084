// Command server wires rate limiting, delivery confirmation, the channel
// processors, the real-time fabric, the channel router, and the dispatcher
// behind the HTTP control plane, then serves it until terminated.
// Grounded on the source repo's cmd/api/main.go: Sentry init with graceful
// degradation, errgroup-based component supervision, and ordered shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/notifyhub/internal/config"
	"github.com/irfndi/notifyhub/internal/confirmation"
	"github.com/irfndi/notifyhub/internal/dispatch"
	"github.com/irfndi/notifyhub/internal/httpapi"
	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/irfndi/notifyhub/internal/realtime"
	"github.com/irfndi/notifyhub/internal/router"
	"github.com/irfndi/notifyhub/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			logger.Printf("WARNING: Sentry initialization failed: %v", err)
		} else {
			logger.Println("Sentry initialized")
		}
	}
	defer sentry.Flush(2 * time.Second)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	shutdownOTel, err := telemetry.InitializeOpenTelemetry(context.Background(), telemetry.LoadConfigFromEnv())
	if err != nil {
		logger.Printf("WARNING: OpenTelemetry initialization failed: %v", err)
		shutdownOTel = func() {}
	}
	defer shutdownOTel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, store, err := rateLimitStore(cfg.RedisURL, logger)
	if err != nil {
		logger.Printf("WARNING: Redis unavailable, rate limiting falls back to an in-process store: %v", err)
		store = ratelimit.NewInMemoryStore()
		redisClient = nil
	}
	limiter := ratelimit.NewFailOpenLimiter(ratelimit.NewInstrumentedLimiter(ratelimit.NewCoreLimiter(store)))

	confirmStore := confirmation.NewStore(cfg.Confirmation, nil)
	confirmStore.Start(ctx)

	fabric := realtime.NewFabric(cfg.Realtime, nil)
	fabric.Start(ctx)

	webProcessor := processor.NewWebProcessor(fabric, limiter, cfg.RateLimit, cfg.RateStrategy)
	emailProcessor := processor.NewEmailProcessor(cfg.EmailTransport, nil, confirmStore, limiter, cfg.RateLimit, cfg.RateStrategy)
	pushProcessor := processor.NewPushProcessor(cfg.PushTransport, nil, limiter, cfg.RateLimit, cfg.RateStrategy)
	registry := processor.NewRegistry(webProcessor, emailProcessor, pushProcessor)

	chanRouter := router.NewRouter(registry, nil, cfg.RouterRetry)

	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, chanRouter, confirmStore)
	dispatcher.Start(ctx)

	httpDeps := httpapi.Deps{
		Dispatcher:   dispatcher,
		Fabric:       fabric,
		RateLimiter:  limiter,
		RateLimit:    cfg.RateLimit,
		RateStrategy: cfg.RateStrategy,
	}
	if redisClient != nil {
		// Assigning a nil *redis.Client to the UniversalClient interface
		// field directly would leave a non-nil interface wrapping a nil
		// pointer, so this check has to happen before the conversion.
		httpDeps.RedisClient = redisClient
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpDeps),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if groupCtx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		dispatcher.Stop(shutdownCtx)
		fabric.Stop()
		confirmStore.Stop(shutdownCtx)

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}

		logger.Println("graceful shutdown completed")
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Printf("server error: %v", err)
		os.Exit(1)
	}
}

// rateLimitStore connects to Redis when a URL is configured, falling back
// to the caller on any dial error so the process can still serve traffic
// with advisory, single-process rate limiting. The client is also handed
// back for the /health Redis check.
func rateLimitStore(redisURL string, logger *log.Logger) (*redis.Client, ratelimit.Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	if err := telemetry.InstrumentRedisClient(client); err != nil {
		logger.Printf("WARNING: Redis instrumentation failed: %v", err)
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, nil, err
	}
	return client, ratelimit.NewRedisStore(client), nil
}
