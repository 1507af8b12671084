package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokenRegistry struct {
	mu        sync.Mutex
	tokens    []DeviceToken
	err       error
	inactive  []string
}

func (s *stubTokenRegistry) TokensForUser(ctx context.Context, tenantID, userID string) ([]DeviceToken, error) {
	return s.tokens, s.err
}

func (s *stubTokenRegistry) MarkInactive(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactive = append(s.inactive, token)
	return nil
}

func TestPushProcessor_DeliversToAllDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	registry := &stubTokenRegistry{tokens: []DeviceToken{{Token: "tok1", Platform: "ios"}, {Token: "tok2", Platform: "android"}}}
	p := NewPushProcessor(PushTransportConfig{BaseURL: srv.URL}, registry, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelPush}, notify.Payload{Title: "hi"})
	n.UserID = "u1"

	result := p.Process(context.Background(), n)
	require.True(t, result.Success)
	assert.Contains(t, result.Delivered, notify.ChannelPush)
}

func TestPushProcessor_MarksInvalidTokenInactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "invalidToken": true})
	}))
	defer srv.Close()

	registry := &stubTokenRegistry{tokens: []DeviceToken{{Token: "stale", Platform: "ios"}}}
	p := NewPushProcessor(PushTransportConfig{BaseURL: srv.URL}, registry, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelPush}, notify.Payload{})
	n.UserID = "u1"

	result := p.Process(context.Background(), n)
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
	assert.Contains(t, registry.inactive, "stale")
}

func TestPushProcessor_NoTokensFails(t *testing.T) {
	registry := &stubTokenRegistry{tokens: nil}
	p := NewPushProcessor(PushTransportConfig{BaseURL: "http://unused"}, registry, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelPush}, notify.Payload{})
	n.UserID = "u1"

	result := p.Process(context.Background(), n)
	assert.False(t, result.Success)
	assert.Contains(t, result.Failed, notify.ChannelPush)
}

func TestPushProcessor_NoUserFails(t *testing.T) {
	p := NewPushProcessor(PushTransportConfig{BaseURL: "http://unused"}, &stubTokenRegistry{}, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)
	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelPush}, notify.Payload{})

	result := p.Process(context.Background(), n)
	assert.False(t, result.Success)
}

func TestPushPriorityAndTTLMapping(t *testing.T) {
	assert.Equal(t, "high", pushPriorityFor(notify.PriorityUrgent))
	assert.Equal(t, "normal", pushPriorityFor(notify.PriorityLow))
	assert.Equal(t, 0, pushTTLFor(notify.PriorityCritical))
	assert.Equal(t, 86400, pushTTLFor(notify.PriorityNormal))
}
