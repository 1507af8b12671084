package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/notifyhub/internal/telemetry"
)

// correlationIDMiddleware stamps every request's context with a
// correlation ID, the way the source repo's bot middleware does for
// Telegram updates, generalized to HTTP.
func correlationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = telemetry.NewCorrelationID()
		}
		ctx := telemetry.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// tenantKey extracts the tenant identifier used as the rate-limit key.
// Every ingress route requires it, either as a query parameter or inside
// the JSON body (handlers re-derive it from the parsed body when needed).
func tenantKey(c *gin.Context) string {
	if id := c.Query("organizationId"); id != "" {
		return id
	}
	return c.GetHeader("X-Tenant-ID")
}

// rateLimitMiddleware is fail-open: a limiter error never
// blocks the request, only a definite "denied" does. scope namespaces the
// rate-limit key so /sse and /notifications don't share a budget.
func (h *handlers) rateLimitMiddleware(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.deps.RateLimiter == nil {
			c.Next()
			return
		}
		key := tenantKey(c)
		if key == "" {
			key = "anonymous"
		}

		result, err := h.deps.RateLimiter.Check(c.Request.Context(), scope+":"+key, h.deps.RateLimit, h.deps.RateStrategy)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(h.deps.RateLimit.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": result.ResetAt.UTC().Format(time.RFC3339),
			})
			return
		}
		c.Next()
	}
}
