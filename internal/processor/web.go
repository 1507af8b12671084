package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/irfndi/notifyhub/internal/telemetry"
)

// Message is the push-stream/bidirectional-frame payload the Web
// processor hands to the real-time fabric for delivery.
type Message struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Tenant       string                 `json:"tenant"`
	Site         string                 `json:"site,omitempty"`
	Priority     notify.Priority        `json:"priority"`
	Display      DisplayOptions         `json:"display"`
	Content      string                 `json:"content,omitempty"`
	Image        string                 `json:"image,omitempty"`
}

// DisplayOptions controls client-side rendering, derived from priority.
type DisplayOptions struct {
	Mode     string `json:"mode"`     // "modal" | "toast"
	Position string `json:"position"` // "center" | "bottom-right"
	Duration string `json:"duration"` // "long" | "short"
}

func displayOptionsFor(priority notify.Priority) DisplayOptions {
	if priority >= notify.PriorityUrgent {
		return DisplayOptions{Mode: "modal", Position: "center", Duration: "long"}
	}
	return DisplayOptions{Mode: "toast", Position: "bottom-right", Duration: "short"}
}

// Broadcaster is the narrow interface the Web processor depends on instead
// of the full real-time fabric, breaking the cyclic reference the source
// repo avoids by loading its real-time server lazily. internal/realtime.Fabric
// satisfies this interface structurally;
// this package never imports internal/realtime.
type Broadcaster interface {
	SendToUser(ctx context.Context, tenantID, userID string, msg Message) (sentCount int, err error)
	SendToSite(ctx context.Context, tenantID, siteID string, msg Message) (sentCount int, err error)
	SendToOrganization(ctx context.Context, tenantID string, msg Message) (sentCount int, err error)
}

// WebProcessor delivers notifications over the real-time connection fabric.
type WebProcessor struct {
	broadcaster Broadcaster
	limiter     ratelimit.Limiter
	limit       ratelimit.Limit
	strategy    ratelimit.Strategy
	stats       *Stats
}

// NewWebProcessor constructs a WebProcessor against broadcaster.
func NewWebProcessor(broadcaster Broadcaster, limiter ratelimit.Limiter, limit ratelimit.Limit, strategy ratelimit.Strategy) *WebProcessor {
	return &WebProcessor{
		broadcaster: broadcaster,
		limiter:     limiter,
		limit:       limit,
		strategy:    strategy,
		stats:       NewStats(),
	}
}

func (p *WebProcessor) Channel() notify.Channel { return notify.ChannelWeb }

// Stats returns the processor's delivery counters.
func (p *WebProcessor) Stats() Snapshot { return p.stats.Snapshot() }

func (p *WebProcessor) Process(ctx context.Context, n *notify.Notification) notify.SendResult {
	start := time.Now()
	if !n.HasChannel(notify.ChannelWeb) {
		return notify.SendResult{Channel: notify.ChannelWeb, Success: true}
	}

	allowed, err := checkRateLimit(ctx, p.limiter, p.limit, p.strategy, notify.ChannelWeb, n.TenantID)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "web_rate_limit_check").Warnf("rate limit check error, failing open: %v", err)
	}
	if !allowed {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{
			Channel: notify.ChannelWeb,
			Success: false,
			Failed:  []notify.Channel{notify.ChannelWeb},
			Error:   "rate limit exceeded",
		}
	}

	msg := p.buildMessage(n)

	sent, err := p.dispatch(ctx, n, msg)
	if err != nil {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{
			Channel:   notify.ChannelWeb,
			Success:   false,
			Failed:    []notify.Channel{notify.ChannelWeb},
			Error:     err.Error(),
			Retryable: true,
		}
	}

	if sent == 0 {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{
			Channel:   notify.ChannelWeb,
			Success:   false,
			Failed:    []notify.Channel{notify.ChannelWeb},
			Error:     "no active connections for target",
			Retryable: true,
		}
	}

	p.stats.RecordSuccess(time.Since(start))
	return notify.SendResult{
		Channel:   notify.ChannelWeb,
		Success:   true,
		Delivered: []notify.Channel{notify.ChannelWeb},
	}
}

// buildMessage synthesizes title/body from the event type when the payload
// doesn't carry them directly, worked example.
func (p *WebProcessor) buildMessage(n *notify.Notification) Message {
	title := n.Payload.Title
	body := n.Payload.Message

	if title == "" || body == "" {
		synthTitle, synthBody := synthesizeContent(n.Payload)
		if title == "" {
			title = synthTitle
		}
		if body == "" {
			body = synthBody
		}
	}

	return Message{
		ID:        n.ID,
		Type:      n.Payload.Type,
		Title:     title,
		Body:      body,
		Data:      n.Payload.Data,
		Timestamp: time.Now().UTC(),
		Tenant:    n.TenantID,
		Site:      n.SiteID,
		Priority:  n.Priority,
		Display:   displayOptionsFor(n.Priority),
		Content:   body,
		Image:     n.Payload.ImageURL,
	}
}

func synthesizeContent(p notify.Payload) (title, body string) {
	switch p.Type {
	case "order":
		name, _ := p.Data["customerName"].(string)
		product, _ := p.Data["product"].(string)
		location, _ := p.Data["location"].(string)
		if name == "" {
			name = "Someone"
		}
		return "🛍️ New Purchase!", fmt.Sprintf("%s just bought %s from %s", name, product, location)
	case "welcome":
		return "👋 Welcome!", "Thanks for joining."
	default:
		return "Notification", "You have a new notification."
	}
}

// dispatch resolves the target connection set — by user IDs if targeted,
// else by site, else by tenant — and sends to it. Targeted user IDs are
// sent to one after another, summing the counts.
func (p *WebProcessor) dispatch(ctx context.Context, n *notify.Notification, msg Message) (int, error) {
	if len(n.Targeting.UserIDs) > 0 {
		total := 0
		var firstErr error
		for _, userID := range n.Targeting.UserIDs {
			sent, err := p.broadcaster.SendToUser(ctx, n.TenantID, userID, msg)
			total += sent
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return total, firstErr
	}

	if n.SiteID != "" {
		return p.broadcaster.SendToSite(ctx, n.TenantID, n.SiteID, msg)
	}

	return p.broadcaster.SendToOrganization(ctx, n.TenantID, msg)
}
