package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/notifyhub/internal/confirmation"
	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/irfndi/notifyhub/internal/telemetry"
)

// EmailAddressResolver looks up the email address for a targeted user when
// the notification's payload doesn't carry one directly.
type EmailAddressResolver interface {
	ResolveEmail(ctx context.Context, tenantID, userID string) (string, error)
}

// EmailTransportConfig configures the HTTP email transport, shaped the same
// way as a bot-API sender: base URL, API key, and request timeout.
type EmailTransportConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// EmailProcessor delivers notifications through an HTTP-based transactional
// email provider.
type EmailProcessor struct {
	cfg        EmailTransportConfig
	httpClient *http.Client
	resolver   EmailAddressResolver
	confirms   *confirmation.Store
	limiter    ratelimit.Limiter
	limit      ratelimit.Limit
	strategy   ratelimit.Strategy
	stats      *Stats
}

// NewEmailProcessor constructs an EmailProcessor.
func NewEmailProcessor(cfg EmailTransportConfig, resolver EmailAddressResolver, confirms *confirmation.Store, limiter ratelimit.Limiter, limit ratelimit.Limit, strategy ratelimit.Strategy) *EmailProcessor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &EmailProcessor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		resolver:   resolver,
		confirms:   confirms,
		limiter:    limiter,
		limit:      limit,
		strategy:   strategy,
		stats:      NewStats(),
	}
}

func (p *EmailProcessor) Channel() notify.Channel { return notify.ChannelEmail }

// Stats returns the processor's delivery counters.
func (p *EmailProcessor) Stats() Snapshot { return p.stats.Snapshot() }

func (p *EmailProcessor) Process(ctx context.Context, n *notify.Notification) notify.SendResult {
	start := time.Now()
	if !n.HasChannel(notify.ChannelEmail) {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: true}
	}

	allowed, err := checkRateLimit(ctx, p.limiter, p.limit, p.strategy, notify.ChannelEmail, n.TenantID)
	if err != nil {
		telemetry.GetContextualLogger(ctx).WithField("operation", "email_rate_limit_check").Warnf("rate limit check error, failing open: %v", err)
	}
	if !allowed {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: "rate limit exceeded"}
	}

	recipient, err := p.resolveRecipient(ctx, n)
	if err != nil {
		p.stats.RecordFailure(time.Since(start))
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: err.Error()}
	}

	templateID := selectTemplate(n.Payload)

	result := p.send(ctx, n, recipient, templateID)

	elapsed := time.Since(start)
	if result.Success {
		p.stats.RecordSuccess(elapsed)
		if p.confirms != nil {
			p.confirms.RecordSent(ctx, n.ID, n.TenantID, notify.ChannelEmail, confirmation.ConfirmationMetadata{})
		}
	} else {
		p.stats.RecordFailure(elapsed)
	}
	return result
}

func (p *EmailProcessor) resolveRecipient(ctx context.Context, n *notify.Notification) (string, error) {
	if email, ok := n.Payload.Data["email"].(string); ok && email != "" {
		return email, nil
	}
	if p.resolver == nil {
		return "", fmt.Errorf("no email address in payload and no resolver configured")
	}
	userID := n.UserID
	if userID == "" && len(n.Targeting.UserIDs) > 0 {
		userID = n.Targeting.UserIDs[0]
	}
	if userID == "" {
		return "", fmt.Errorf("no user to resolve an email address for")
	}
	return p.resolver.ResolveEmail(ctx, n.TenantID, userID)
}

// selectTemplate returns the explicit TemplateID when the caller set one,
// otherwise chooses a template ID by payload type.
func selectTemplate(p notify.Payload) string {
	if p.TemplateID != "" {
		return p.TemplateID
	}
	switch p.Type {
	case "order":
		return "order-confirmation"
	case "welcome":
		return "welcome"
	default:
		return "generic-notification"
	}
}

type emailSendRequest struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"templateId"`
	Subject    string                 `json:"subject,omitempty"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
}

type emailSendResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func (p *EmailProcessor) send(ctx context.Context, n *notify.Notification, recipient, templateID string) notify.SendResult {
	vars := n.Payload.TemplateVariables
	if vars == nil {
		vars = n.Payload.Data
	}

	reqBody, err := json.Marshal(emailSendRequest{
		To:         recipient,
		TemplateID: templateID,
		Subject:    n.Payload.Title,
		Variables:  vars,
	})
	if err != nil {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: fmt.Sprintf("marshal request: %v", err)}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: err.Error(), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: err.Error(), Retryable: true}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: fmt.Sprintf("provider status %d: %s", resp.StatusCode, string(body)), Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: fmt.Sprintf("provider status %d: %s", resp.StatusCode, string(body))}
	}

	var parsed emailSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: fmt.Sprintf("decode response: %v", err)}
	}
	if !parsed.OK {
		return notify.SendResult{Channel: notify.ChannelEmail, Success: false, Failed: []notify.Channel{notify.ChannelEmail}, Error: parsed.Message}
	}

	return notify.SendResult{Channel: notify.ChannelEmail, Success: true, Delivered: []notify.Channel{notify.ChannelEmail}}
}
