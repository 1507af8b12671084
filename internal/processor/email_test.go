package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/irfndi/notifyhub/internal/confirmation"
	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	email string
	err   error
}

func (s stubResolver) ResolveEmail(ctx context.Context, tenantID, userID string) (string, error) {
	return s.email, s.err
}

func TestEmailProcessor_SendsUsingPayloadAddress(t *testing.T) {
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	store := confirmation.NewStore(confirmation.DefaultConfig(), nil)
	p := NewEmailProcessor(EmailTransportConfig{BaseURL: srv.URL}, nil, store, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelEmail}, notify.Payload{
		Type: "order",
		Data: map[string]interface{}{"email": "user@example.com"},
	})

	result := p.Process(context.Background(), n)
	require.True(t, result.Success)
	assert.Equal(t, "user@example.com", gotReq["to"])
	assert.Equal(t, "order-confirmation", gotReq["templateId"])

	confirmations := store.GetForNotification(n.ID)
	require.Len(t, confirmations, 1)
	assert.Equal(t, confirmation.StatusSent, confirmations[0].Status)
}

func TestEmailProcessor_ResolvesAddressViaCollaborator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	resolver := stubResolver{email: "resolved@example.com"}
	p := NewEmailProcessor(EmailTransportConfig{BaseURL: srv.URL}, resolver, nil, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelEmail}, notify.Payload{})
	n.UserID = "u1"

	result := p.Process(context.Background(), n)
	assert.True(t, result.Success)
}

func TestEmailProcessor_NoResolverNoAddressFails(t *testing.T) {
	p := NewEmailProcessor(EmailTransportConfig{BaseURL: "http://unused"}, nil, nil, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)
	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelEmail}, notify.Payload{})

	result := p.Process(context.Background(), n)
	assert.False(t, result.Success)
	assert.Contains(t, result.Failed, notify.ChannelEmail)
}

func TestEmailProcessor_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewEmailProcessor(EmailTransportConfig{BaseURL: srv.URL}, nil, nil, nil, ratelimit.Limit{}, ratelimit.StrategyFixedWindow)
	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelEmail}, notify.Payload{
		Data: map[string]interface{}{"email": "user@example.com"},
	})

	result := p.Process(context.Background(), n)
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
}

func TestSelectTemplate_FallsBackToGeneric(t *testing.T) {
	assert.Equal(t, "generic-notification", selectTemplate(notify.Payload{Type: "unknown"}))
	assert.Equal(t, "custom", selectTemplate(notify.Payload{TemplateID: "custom"}))
}
