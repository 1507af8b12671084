package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// MonitoringMiddleware mounts request instrumentation and the health-check
// surface onto a gin engine. Request-level metrics and tracing flow through
// the OTel SDK (OTelMiddleware) rather than a package-local collector, so
// the same OTLP exporters telemetry.InitializeOpenTelemetry configures pick
// them up; MonitoringMiddleware's own job is just wiring and the
// skip-path/health concerns an exporter doesn't know about.
type MonitoringMiddleware struct {
	otel   *OTelMiddleware
	health *HealthChecker
	config *MiddlewareConfig
}

// MiddlewareConfig configures the monitoring middleware.
type MiddlewareConfig struct {
	// EnableTracing enables OTel request tracing and metrics.
	EnableTracing bool
	// EnableHealthChecks enables the /health route group.
	EnableHealthChecks bool
	// HealthPath is the base path for the health check endpoints.
	HealthPath string
	// SkipPaths are paths to skip monitoring for.
	SkipPaths []string
}

// DefaultMiddlewareConfig returns default configuration.
func DefaultMiddlewareConfig() *MiddlewareConfig {
	return &MiddlewareConfig{
		EnableTracing:      true,
		EnableHealthChecks: true,
		HealthPath:         "/health",
		SkipPaths:          []string{"/favicon.ico", "/robots.txt"},
	}
}

// NewMonitoringMiddleware creates a new monitoring middleware.
func NewMonitoringMiddleware(config *MiddlewareConfig) *MonitoringMiddleware {
	if config == nil {
		config = DefaultMiddlewareConfig()
	}

	mm := &MonitoringMiddleware{config: config}

	if config.EnableTracing {
		if otelMW, err := NewOTelMiddleware(); err == nil {
			mm.otel = otelMW
		}
	}

	if config.EnableHealthChecks {
		mm.health = NewHealthChecker("notifyhub", "1.0.0", time.Now().Format(time.RFC3339), "unknown")
	}

	return mm
}

// GinMiddleware returns a Gin middleware function that runs OTel request
// instrumentation, honoring SkipPaths. A no-op if tracing is disabled or
// failed to initialize.
func (mm *MonitoringMiddleware) GinMiddleware() gin.HandlerFunc {
	if mm.otel == nil {
		return func(c *gin.Context) { c.Next() }
	}

	instrument := mm.otel.GinMiddleware()
	return func(c *gin.Context) {
		if mm.shouldSkipPath(c.Request.URL.Path) {
			c.Next()
			return
		}
		instrument(c)
	}
}

// shouldSkipPath checks if a path should be skipped from monitoring.
func (mm *MonitoringMiddleware) shouldSkipPath(path string) bool {
	for _, skipPath := range mm.config.SkipPaths {
		if path == skipPath {
			return true
		}
	}
	return false
}

// RegisterRoutes registers the health-check endpoints.
func (mm *MonitoringMiddleware) RegisterRoutes(router *gin.Engine) {
	if mm.config.EnableHealthChecks && mm.health != nil {
		router.GET(mm.config.HealthPath, mm.health.HealthHandler())
		router.GET(mm.config.HealthPath+"/live", mm.health.LivenessHandler())
		router.GET(mm.config.HealthPath+"/ready", mm.health.ReadinessHandler())
	}
}

// GetHealth returns the health checker.
func (mm *MonitoringMiddleware) GetHealth() *HealthChecker {
	return mm.health
}
