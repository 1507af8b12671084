package ratelimit

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentedLimiter wraps a Limiter with OpenTelemetry counters, grounded
// on the SWARM-INTELLIGENCE hybrid rate limiter's metric wiring pattern
// (otel.GetMeterProvider().Meter(...) + Int64Counter per outcome).
type InstrumentedLimiter struct {
	inner   Limiter
	allowed metric.Int64Counter
	denied  metric.Int64Counter
}

// NewInstrumentedLimiter wraps inner, registering counters on the global
// meter provider under the "notifyhub/ratelimit" instrumentation name.
func NewInstrumentedLimiter(inner Limiter) *InstrumentedLimiter {
	meter := otel.GetMeterProvider().Meter("notifyhub/ratelimit")
	allowed, _ := meter.Int64Counter("notifyhub_ratelimit_allowed_total")
	denied, _ := meter.Int64Counter("notifyhub_ratelimit_denied_total")
	return &InstrumentedLimiter{inner: inner, allowed: allowed, denied: denied}
}

func (l *InstrumentedLimiter) Check(ctx context.Context, key string, limit Limit, strategy Strategy) (Result, error) {
	result, err := l.inner.Check(ctx, key, limit, strategy)
	if err != nil {
		return result, err
	}

	attrs := metric.WithAttributes(attribute.String("strategy", string(strategy)))
	if result.Allowed {
		l.allowed.Add(ctx, 1, attrs)
	} else {
		l.denied.Add(ctx, 1, attrs)
	}
	return result, nil
}
