package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/irfndi/notifyhub/internal/telemetry"
)

// DeviceToken is one registered push target.
type DeviceToken struct {
	Token    string
	Platform string // "ios" | "android" | "web"
}

// TokenRegistry resolves a user's registered device tokens and lets the
// processor mark stale ones inactive after a provider-reported failure.
type TokenRegistry interface {
	TokensForUser(ctx context.Context, tenantID, userID string) ([]DeviceToken, error)
	MarkInactive(ctx context.Context, token string) error
}

// PushTransportConfig configures the HTTP push transport.
type PushTransportConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PushProcessor delivers notifications to mobile/web push tokens through an
// HTTP-based provider.
type PushProcessor struct {
	cfg        PushTransportConfig
	httpClient *http.Client
	tokens     TokenRegistry
	limiter    ratelimit.Limiter
	limit      ratelimit.Limit
	strategy   ratelimit.Strategy
	stats      *Stats
}

// NewPushProcessor constructs a PushProcessor.
func NewPushProcessor(cfg PushTransportConfig, tokens TokenRegistry, limiter ratelimit.Limiter, limit ratelimit.Limit, strategy ratelimit.Strategy) *PushProcessor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PushProcessor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		limiter:    limiter,
		limit:      limit,
		strategy:   strategy,
		stats:      NewStats(),
	}
}

func (p *PushProcessor) Channel() notify.Channel { return notify.ChannelPush }

// Stats returns the processor's delivery counters.
func (p *PushProcessor) Stats() Snapshot { return p.stats.Snapshot() }

func (p *PushProcessor) Process(ctx context.Context, n *notify.Notification) notify.SendResult {
	start := time.Now()
	if !n.HasChannel(notify.ChannelPush) {
		return notify.SendResult{Channel: notify.ChannelPush, Success: true}
	}

	allowed, err := checkRateLimit(ctx, p.limiter, p.limit, p.strategy, notify.ChannelPush, n.TenantID)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "push_rate_limit_check").Warnf("rate limit check error, failing open: %v", err)
	}
	if !allowed {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{Channel: notify.ChannelPush, Success: false, Failed: []notify.Channel{notify.ChannelPush}, Error: "rate limit exceeded"}
	}

	userID := n.UserID
	if userID == "" && len(n.Targeting.UserIDs) > 0 {
		userID = n.Targeting.UserIDs[0]
	}
	if userID == "" || p.tokens == nil {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{Channel: notify.ChannelPush, Success: false, Failed: []notify.Channel{notify.ChannelPush}, Error: "no target user for push delivery"}
	}

	devices, err := p.tokens.TokensForUser(ctx, n.TenantID, userID)
	if err != nil {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{Channel: notify.ChannelPush, Success: false, Failed: []notify.Channel{notify.ChannelPush}, Error: err.Error(), Retryable: true}
	}
	if len(devices) == 0 {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{Channel: notify.ChannelPush, Success: false, Failed: []notify.Channel{notify.ChannelPush}, Error: "no registered device tokens"}
	}

	result := p.sendToDevices(ctx, n, devices)

	if result.Success {
		p.stats.RecordSuccess(time.Since(start))
	} else {
		p.stats.RecordFailure(time.Since(start))
	}
	return result
}

type pushSendRequest struct {
	Token    string                 `json:"token"`
	Platform string                 `json:"platform"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Sound    string                 `json:"sound,omitempty"`
	Badge    *int                   `json:"badge,omitempty"`
	Priority string                 `json:"priority"`
	TTL      int                    `json:"ttl"`
}

type pushSendResponse struct {
	OK              bool `json:"ok"`
	InvalidToken    bool `json:"invalidToken,omitempty"`
}

// sendToDevices fans out to each registered device token;
// a partial success (some devices delivered, some failed) still reports
// Success so the dispatcher does not retry the whole channel.
func (p *PushProcessor) sendToDevices(ctx context.Context, n *notify.Notification, devices []DeviceToken) notify.SendResult {
	anySucceeded := false
	var lastErr string

	for _, device := range devices {
		ok, invalid, err := p.sendOne(ctx, n, device)
		if ok {
			anySucceeded = true
			continue
		}
		if err != nil {
			lastErr = err.Error()
		}
		if invalid {
			if markErr := p.tokens.MarkInactive(ctx, device.Token); markErr != nil {
				telemetry.GetContextualLogger(ctx).WithField("operation", "push_mark_inactive").Warnf("failed to mark token inactive: %v", markErr)
			}
		}
	}

	if !anySucceeded {
		return notify.SendResult{Channel: notify.ChannelPush, Success: false, Failed: []notify.Channel{notify.ChannelPush}, Error: lastErr, Retryable: true}
	}
	return notify.SendResult{Channel: notify.ChannelPush, Success: true, Delivered: []notify.Channel{notify.ChannelPush}}
}

func pushPriorityFor(priority notify.Priority) string {
	if priority >= notify.PriorityHigh {
		return "high"
	}
	return "normal"
}

func pushTTLFor(priority notify.Priority) int {
	if priority >= notify.PriorityUrgent {
		return 0 // deliver immediately or not at all
	}
	return 86400
}

func (p *PushProcessor) sendOne(ctx context.Context, n *notify.Notification, device DeviceToken) (ok bool, invalidToken bool, err error) {
	reqBody, marshalErr := json.Marshal(pushSendRequest{
		Token:    device.Token,
		Platform: device.Platform,
		Title:    n.Payload.Title,
		Body:     n.Payload.Message,
		Data:     n.Payload.Data,
		Sound:    n.Payload.Sound,
		Badge:    n.Payload.Badge,
		Priority: pushPriorityFor(n.Priority),
		TTL:      pushTTLFor(n.Priority),
	})
	if marshalErr != nil {
		return false, false, fmt.Errorf("marshal push request: %w", marshalErr)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/push"
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if reqErr != nil {
		return false, false, fmt.Errorf("build push request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, doErr := p.httpClient.Do(req)
	if doErr != nil {
		return false, false, doErr
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed pushSendResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr != nil {
		return false, false, fmt.Errorf("decode push response: %w", decodeErr)
	}

	if resp.StatusCode == http.StatusGone || parsed.InvalidToken {
		return false, true, fmt.Errorf("push token no longer valid")
	}
	if !parsed.OK {
		return false, false, fmt.Errorf("push provider rejected notification")
	}
	return true, false, nil
}
