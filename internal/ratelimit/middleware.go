package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc derives the rate-limit key from a request; the default uses the
// client IP ("default = client IP, override by configured
// key function").
type KeyFunc func(c *gin.Context) string

// ByClientIP is the default KeyFunc.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// MiddlewareConfig configures the gin middleware wrapper around a Limiter.
type MiddlewareConfig struct {
	Limiter  Limiter
	Strategy Strategy
	Limit    Limit
	KeyFunc  KeyFunc

	// SkipOnSuccess and SkipOnFailure request a token refund after the
	// wrapped handler completes, if the response falls into the named
	// class. No strategy performs the refund: the Store exposes no
	// decrement primitive, so the flags take a documented no-op path,
	// see DESIGN.md.
	SkipOnSuccess bool
	SkipOnFailure bool
}

// Middleware returns a gin.HandlerFunc that computes the rate-limit key,
// checks it, attaches X-RateLimit-* headers, and responds 429 with
// {error, retry_after_seconds} on denial.
func Middleware(cfg MiddlewareConfig) gin.HandlerFunc {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ByClientIP
	}

	return func(c *gin.Context) {
		key := keyFunc(c)
		result, err := cfg.Limiter.Check(c.Request.Context(), key, cfg.Limit, cfg.Strategy)
		if err != nil {
			// CoreLimiter wrapped in FailOpenLimiter never reaches here for
			// storage errors; an unknown-strategy misconfiguration is a
			// programmer error, surfaced rather than silently allowed.
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(cfg.Limit.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", result.ResetAt.UTC().Format(time.RFC3339))

		if !result.Allowed {
			retryAfter := time.Until(result.ResetAt)
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":              "rate limit exceeded",
				"retry_after_seconds": int(retryAfter.Seconds()),
			})
			return
		}

		c.Next()

		status := c.Writer.Status()
		shouldRefund := (cfg.SkipOnSuccess && status < 400) || (cfg.SkipOnFailure && status >= 400)
		if shouldRefund {
			// Documented no-op: refunding a fixed/sliding-window increment
			// requires a decrement primitive this Store does not expose.
			// See DESIGN.md.
			_ = shouldRefund
		}
	}
}
