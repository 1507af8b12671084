// Package processor implements the channel processors: Web, Email, and
// Push, each taking a notification and delivering it through exactly one
// channel, grounded on the source repo's notification.Sender interface and
// its telegram_sender.go HTTP-transport shape.
package processor

import (
	"context"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/ratelimit"
)

// Processor is the common per-channel contract
type Processor interface {
	Channel() notify.Channel
	Process(ctx context.Context, n *notify.Notification) notify.SendResult
}

// checkRateLimit applies step 2 of every processor's contract: consult the
// rate limiter keyed "<channel>:<tenant>"; on denial the channel is a
// failure. Neither the router nor the dispatcher reads
// SendResult.Retryable, so a denied channel is retried like any other
// failed channel.
func checkRateLimit(ctx context.Context, limiter ratelimit.Limiter, limit ratelimit.Limit, strategy ratelimit.Strategy, channel notify.Channel, tenantID string) (bool, error) {
	if limiter == nil {
		return true, nil
	}
	key := string(channel) + ":" + tenantID
	result, err := limiter.Check(ctx, key, limit, strategy)
	if err != nil {
		return true, err
	}
	return result.Allowed, nil
}

// Registry maps a channel name to the Processor handling it: registration
// is data, not inheritance.
type Registry struct {
	processors map[notify.Channel]Processor
}

// NewRegistry builds a Registry from the given processors.
func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: make(map[notify.Channel]Processor)}
	for _, p := range processors {
		r.processors[p.Channel()] = p
	}
	return r
}

// Get returns the processor registered for channel, if any.
func (r *Registry) Get(channel notify.Channel) (Processor, bool) {
	p, ok := r.processors[channel]
	return p, ok
}

// Channels lists every registered channel.
func (r *Registry) Channels() []notify.Channel {
	out := make([]notify.Channel, 0, len(r.processors))
	for ch := range r.processors {
		out = append(out, ch)
	}
	return out
}

func ewmaUpdate(prev float64, sample time.Duration, alpha float64, hasPrev bool) float64 {
	ms := float64(sample.Milliseconds())
	if !hasPrev {
		return ms
	}
	return alpha*ms + (1-alpha)*prev
}
