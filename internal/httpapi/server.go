// Package httpapi wires the dispatcher, channel router, and real-time
// fabric to the inbound HTTP control plane: the push-stream/bidirectional-
// frame handshake routes and the notification ingress/status/admin routes.
// Grounded on the source repo's gin-based
// HTTP surface (otelgin tracing, a gin.Recovery chain, and JSON
// responses shaped like its AppError taxonomy).
package httpapi

import (
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/notifyhub/internal/dispatch"
	"github.com/irfndi/notifyhub/internal/monitoring"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/irfndi/notifyhub/internal/realtime"
)

// Deps are the collaborators the HTTP surface dispatches requests to. None
// may be nil except RateLimiter (disables ingress rate limiting) and
// RedisClient (omits the Redis component from /health).
type Deps struct {
	Dispatcher   *dispatch.Dispatcher
	Fabric       *realtime.Fabric
	RateLimiter  ratelimit.Limiter
	RateLimit    ratelimit.Limit
	RateStrategy ratelimit.Strategy
	RedisClient  goredis.UniversalClient
}

// NewRouter builds the gin engine for the push-stream/bidirectional-frame
// and notification routes, plus the ambient /health endpoints the
// monitoring middleware exposes.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("notifyhub"))
	r.Use(correlationIDMiddleware())

	mm := monitoring.NewMonitoringMiddleware(monitoring.DefaultMiddlewareConfig())
	if deps.RedisClient != nil {
		mm.GetHealth().RegisterRedisCheck("redis", deps.RedisClient)
	}
	r.Use(mm.GinMiddleware())
	mm.RegisterRoutes(r)

	h := &handlers{deps: deps}

	sse := r.Group("/sse")
	sse.Use(h.rateLimitMiddleware("sse"))
	{
		sse.GET("/connect", deps.Fabric.ServePushStream)
		sse.GET("/ws", deps.Fabric.ServeBidirectional)
		sse.POST("/subscribe", h.subscribe)
		sse.POST("/unsubscribe", h.unsubscribe)
		sse.POST("/send/:target", h.sendTargeted)
		sse.POST("/broadcast", h.broadcast)
		sse.GET("/stats", h.sseStats)
		sse.GET("/health", h.sseHealth)
	}

	notifications := r.Group("/notifications")
	notifications.Use(h.rateLimitMiddleware("notifications"))
	{
		notifications.POST("/send", h.sendNotification)
		notifications.POST("/batch", h.sendBatch)
		notifications.POST("/realtime", h.sendRealtime)
		notifications.GET("/:id/status", h.notificationStatus)
		notifications.GET("", h.listNotifications)
		notifications.DELETE("/:id", h.cancelNotification)
		notifications.GET("/stats/queue", h.queueStats)
		notifications.GET("/stats/delivery", h.deliveryStats)
	}

	return r
}

type handlers struct {
	deps Deps
}
