// Package notify holds the data model shared by the dispatcher, router,
// processors, and confirmation store: the notification itself, its
// lifecycle states, and the channel/payload vocabulary.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders notifications within the dispatcher's buckets, Critical first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

// Priorities lists all priority levels from highest to lowest, the order
// the dispatcher drains buckets in priority mode.
var Priorities = []Priority{PriorityCritical, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Channel is a delivery transport family.
type Channel string

const (
	ChannelWeb   Channel = "web"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Status is the notification's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusRetrying   Status = "retrying"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the status is final; the dispatcher never
// dispatches a notification in a terminal status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// FrequencyPolicy governs how often a channel may be used for a user.
type FrequencyPolicy string

const (
	FrequencyImmediate FrequencyPolicy = "immediate"
	FrequencyHourly    FrequencyPolicy = "hourly"
	FrequencyDaily     FrequencyPolicy = "daily"
	FrequencyWeekly    FrequencyPolicy = "weekly"
	FrequencyDisabled  FrequencyPolicy = "disabled"
)

// FallbackStrategy names the channel set the router falls back to once
// retries are exhausted with residual failures.
type FallbackStrategy string

const (
	FallbackNone  FallbackStrategy = "none"
	FallbackEmail FallbackStrategy = "email"
	FallbackWeb   FallbackStrategy = "web"
	FallbackAll   FallbackStrategy = "all"
)

// Payload is the channel-agnostic message content plus optional templating.
type Payload struct {
	Type               string                 `json:"type,omitempty"`
	Title              string                 `json:"title,omitempty"`
	Message            string                 `json:"message,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty"`
	TemplateID         string                 `json:"templateId,omitempty"`
	TemplateVariables  map[string]interface{} `json:"templateVariables,omitempty"`
	ImageURL           string                 `json:"imageUrl,omitempty"`
	ClickAction        string                 `json:"clickAction,omitempty"`
	Sound              string                 `json:"sound,omitempty"`
	Badge              *int                   `json:"badge,omitempty"`
}

// Targeting selects recipients for a notification.
type Targeting struct {
	UserIDs    []string          `json:"userIds,omitempty"`
	Segments   []string          `json:"segments,omitempty"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

// DeliveryPolicy parameterizes retry/backoff for one notification.
type DeliveryPolicy struct {
	MaxAttempts      int              `json:"maxAttempts"`
	BaseRetryDelay   time.Duration    `json:"baseRetryDelay"`
	BackoffMultiplier float64         `json:"backoffMultiplier"`
	Fallback         FallbackStrategy `json:"fallback,omitempty"`
}

// DefaultDeliveryPolicy returns the baseline retry/fallback policy applied
// when a notification does not set its own.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxAttempts:       3,
		BaseRetryDelay:    5 * time.Second,
		BackoffMultiplier: 2,
		Fallback:          FallbackNone,
	}
}

// FallbackStrategy reports the policy's fallback strategy, defaulting to
// FallbackNone when unset.
func (p DeliveryPolicy) FallbackStrategy() FallbackStrategy {
	if p.Fallback == "" {
		return FallbackNone
	}
	return p.Fallback
}

// Metadata is free-form bookkeeping attached to a notification.
type Metadata struct {
	CampaignID string `json:"campaignId,omitempty"`
	ABVariant  string `json:"abVariant,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Notification is the unit of work flowing through the dispatcher.
//
// Invariants: DeliveredChannels ∩ FailedChannels = ∅; Attempts ≤
// MaxAttempts while Status ∈ {Pending, Retrying}; once Status is
// Delivered or Expired it is terminal (Failed is terminal once attempts
// are exhausted).
type Notification struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	SiteID         string         `json:"siteId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	Priority       Priority       `json:"priority"`
	Channels       []Channel      `json:"channels"`
	Payload        Payload        `json:"payload"`
	Targeting      Targeting      `json:"targeting"`
	SendAt         *time.Time     `json:"sendAt,omitempty"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	Timezone       string         `json:"timezone,omitempty"`
	Policy         DeliveryPolicy `json:"policy"`
	Metadata       Metadata       `json:"metadata"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`

	Status            Status     `json:"status"`
	Attempts          int        `json:"attempts"`
	LastAttemptAt     *time.Time `json:"lastAttemptAt,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
	DeliveredChannels []Channel  `json:"deliveredChannels"`
	FailedChannels    []Channel  `json:"failedChannels"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
	CurrentRetryDelay time.Duration `json:"currentRetryDelay,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewNotification fills in defaults (ID, status, timestamps, policy) for a
// notification constructed from an inbound request.
func NewNotification(tenantID string, channels []Channel, payload Payload) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Priority: PriorityNormal,
		Channels: channels,
		Payload:  payload,
		Policy:   DefaultDeliveryPolicy(),
		Status:   StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasChannel reports whether c is in the notification's remaining channel set.
func (n *Notification) HasChannel(c Channel) bool {
	for _, ch := range n.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// RemoveDelivered strips already-delivered channels from Channels, leaving
// only channels still eligible for retry: on a partial delivery, Channels
// becomes exactly the remaining failed set.
func (n *Notification) RemoveDelivered() {
	remaining := n.Channels[:0:0]
	for _, ch := range n.Channels {
		delivered := false
		for _, d := range n.DeliveredChannels {
			if d == ch {
				delivered = true
				break
			}
		}
		if !delivered {
			remaining = append(remaining, ch)
		}
	}
	n.Channels = remaining
}

// Attempt is one historical delivery attempt record for a notification.
type Attempt struct {
	ID               string    `json:"id"`
	NotificationID   string    `json:"notificationId"`
	AttemptNumber    int       `json:"attemptNumber"`
	Channel          Channel   `json:"channel"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	Retryable        bool      `json:"retryable"`
	DurationMillis   int64     `json:"durationMillis"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SendResult is the outcome of one processor's attempt at one channel.
type SendResult struct {
	Channel   Channel
	Success   bool
	Delivered []Channel
	Failed    []Channel
	Error     string
	Retryable bool
}

// ChannelPreference is a per-user, per-channel delivery rule.
type ChannelPreference struct {
	UserID          string
	Channel         Channel
	Enabled         bool
	QuietHoursStart string // "HH:MM" in the user's Timezone
	QuietHoursEnd   string
	Timezone        string
	Frequency       FrequencyPolicy
}
