// Package confirmation implements the delivery confirmation store (C2):
// an append-only log of per-(notification, channel) status transitions,
// batched flush to a persistence collaborator, retention sweeping, and
// tenant analytics roll-ups.
package confirmation

import (
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/notifyhub/internal/notify"
)

// Status is a delivery-confirmation state, distinct from notify.Status:
// a notification has one lifecycle status, but each (notification,
// channel) pair accumulates a sequence of confirmations as the message
// moves through the provider.
type Status string

const (
	StatusSent          Status = "sent"
	StatusDelivered     Status = "delivered"
	StatusRead          Status = "read"
	StatusClicked       Status = "clicked"
	StatusFailed        Status = "failed"
	StatusBounced       Status = "bounced"
	StatusUnsubscribed  Status = "unsubscribed"
)

// ConfirmationMetadata carries provider- and client-reported context for a
// single confirmation.
type ConfirmationMetadata struct {
	UserAgent         string `json:"userAgent,omitempty"`
	IP                string `json:"ip,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	ErrorCode         string `json:"errorCode,omitempty"`
	ErrorText         string `json:"errorText,omitempty"`
	ClickedURL        string `json:"clickedUrl,omitempty"`
}

// Confirmation is one append-only status-transition record. Confirmations
// are never rewritten: the set at time t1 is a superset of the set at any
// earlier t0 (modulo retention eviction).
type Confirmation struct {
	ID             string               `json:"id"`
	NotificationID string               `json:"notificationId"`
	TenantID       string               `json:"tenantId"`
	Channel        notify.Channel       `json:"channel"`
	Status         Status               `json:"status"`
	Timestamp      time.Time            `json:"timestamp"`
	Metadata       ConfirmationMetadata `json:"metadata"`
}

// NewConfirmation stamps a fresh confirmation with a generated ID and the
// current time.
func NewConfirmation(notificationID, tenantID string, channel notify.Channel, status Status, meta ConfirmationMetadata) Confirmation {
	return Confirmation{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		TenantID:       tenantID,
		Channel:        channel,
		Status:         status,
		Timestamp:      time.Now().UTC(),
		Metadata:       meta,
	}
}

// Analytics is a tenant/time-range delivery-rate roll-up.
type Analytics struct {
	Total         int64              `json:"total"`
	Delivered     int64              `json:"delivered"`
	Read          int64              `json:"read"`
	Clicked       int64              `json:"clicked"`
	Bounced       int64              `json:"bounced"`
	DeliveryRate  float64            `json:"deliveryRate"`
	ReadRate      float64            `json:"readRate"`
	ClickRate     float64            `json:"clickRate"`
	BounceRate    float64            `json:"bounceRate"`
	PerChannel    map[notify.Channel]ChannelAnalytics `json:"perChannel"`
}

// ChannelAnalytics is the per-channel breakdown within Analytics.
type ChannelAnalytics struct {
	Total     int64 `json:"total"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Clicked   int64 `json:"clicked"`
	Bounced   int64 `json:"bounced"`
}

// Filter narrows GetForTenant results.
type Filter struct {
	Channel   notify.Channel
	Status    Status
	From      time.Time
	To        time.Time
}
