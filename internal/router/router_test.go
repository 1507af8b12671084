package router

import (
	"context"
	"testing"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	channel notify.Channel
	results []notify.SendResult // consumed in order across calls; last one repeats
	calls   int
}

func (f *fakeProcessor) Channel() notify.Channel { return f.channel }

func (f *fakeProcessor) Process(ctx context.Context, n *notify.Notification) notify.SendResult {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx]
}

type panicProcessor struct{ channel notify.Channel }

func (p *panicProcessor) Channel() notify.Channel { return p.channel }
func (p *panicProcessor) Process(ctx context.Context, n *notify.Notification) notify.SendResult {
	panic("boom")
}

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, Backoff: 2}
}

func TestRouter_EmptyChannelSetAfterFilterIsSuccess(t *testing.T) {
	registry := processor.NewRegistry()
	r := NewRouter(registry, nil, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", nil, notify.Payload{})
	result := r.Route(context.Background(), n)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.DeliveredChannels)
}

func TestRouter_AllChannelsDeliverOnFirstAttempt(t *testing.T) {
	web := &fakeProcessor{channel: notify.ChannelWeb, results: []notify.SendResult{{Success: true}}}
	email := &fakeProcessor{channel: notify.ChannelEmail, results: []notify.SendResult{{Success: true}}}
	registry := processor.NewRegistry(web, email)
	r := NewRouter(registry, nil, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb, notify.ChannelEmail}, notify.Payload{})
	result := r.Route(context.Background(), n)

	assert.True(t, result.Success)
	assert.ElementsMatch(t, []notify.Channel{notify.ChannelWeb, notify.ChannelEmail}, result.DeliveredChannels)
	assert.Equal(t, 0, result.RetryCount)
}

func TestRouter_RetriesFailedChannelUntilDelivered(t *testing.T) {
	email := &fakeProcessor{channel: notify.ChannelEmail, results: []notify.SendResult{
		{Success: false, Error: "timeout"},
		{Success: true},
	}}
	registry := processor.NewRegistry(email)
	r := NewRouter(registry, nil, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelEmail}, notify.Payload{})
	result := r.Route(context.Background(), n)

	require.True(t, result.Success)
	assert.Equal(t, 1, result.RetryCount)
	assert.Equal(t, []notify.Channel{notify.ChannelEmail}, result.DeliveredChannels)
}

func TestRouter_FallbackEmailDeliversAfterWebExhaustsRetries(t *testing.T) {
	web := &fakeProcessor{channel: notify.ChannelWeb, results: []notify.SendResult{{Success: false, Error: "no connections"}}}
	email := &fakeProcessor{channel: notify.ChannelEmail, results: []notify.SendResult{{Success: true}}}
	registry := processor.NewRegistry(web, email)
	r := NewRouter(registry, nil, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.Policy.Fallback = notify.FallbackEmail
	result := r.Route(context.Background(), n)

	require.False(t, result.Success)
	assert.Contains(t, result.DeliveredChannels, notify.ChannelEmail)
	assert.Equal(t, []notify.Channel{notify.ChannelWeb}, result.FailedChannels)
}

func TestRouter_NoFallbackLeavesResidualFailureUnsuccessful(t *testing.T) {
	web := &fakeProcessor{channel: notify.ChannelWeb, results: []notify.SendResult{{Success: false, Error: "no connections"}}}
	registry := processor.NewRegistry(web)
	r := NewRouter(registry, nil, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	result := r.Route(context.Background(), n)

	assert.False(t, result.Success)
	assert.Equal(t, []notify.Channel{notify.ChannelWeb}, result.FailedChannels)
	assert.Equal(t, "no connections", result.Errors[notify.ChannelWeb])
}

func TestRouter_ChannelPanicCountsAsFailureNotCrash(t *testing.T) {
	registry := processor.NewRegistry(&panicProcessor{channel: notify.ChannelPush})
	r := NewRouter(registry, nil, RetryPolicy{MaxRetries: 0, InitialDelay: time.Millisecond, Backoff: 2})

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelPush}, notify.Payload{})

	assert.NotPanics(t, func() {
		result := r.Route(context.Background(), n)
		assert.False(t, result.Success)
		assert.Contains(t, result.Errors[notify.ChannelPush], "panic")
	})
}

func TestRouter_UnregisteredChannelIsFilteredOut(t *testing.T) {
	registry := processor.NewRegistry()
	r := NewRouter(registry, nil, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelPush}, notify.Payload{})
	result := r.Route(context.Background(), n)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Total)
}

type stubPrefStore struct {
	prefs []notify.ChannelPreference
	err   error
}

func (s *stubPrefStore) PreferencesForUser(ctx context.Context, tenantID, userID string) ([]notify.ChannelPreference, error) {
	return s.prefs, s.err
}

func TestRouter_FiltersDisabledChannelPerUserPreference(t *testing.T) {
	web := &fakeProcessor{channel: notify.ChannelWeb, results: []notify.SendResult{{Success: true}}}
	email := &fakeProcessor{channel: notify.ChannelEmail, results: []notify.SendResult{{Success: true}}}
	registry := processor.NewRegistry(web, email)
	prefs := &stubPrefStore{prefs: []notify.ChannelPreference{
		{UserID: "u1", Channel: notify.ChannelEmail, Enabled: false},
	}}
	r := NewRouter(registry, prefs, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb, notify.ChannelEmail}, notify.Payload{})
	n.Targeting.UserIDs = []string{"u1"}
	result := r.Route(context.Background(), n)

	assert.True(t, result.Success)
	assert.Equal(t, []notify.Channel{notify.ChannelWeb}, result.DeliveredChannels)
}

func TestRouter_FiltersChannelDuringQuietHours(t *testing.T) {
	web := &fakeProcessor{channel: notify.ChannelWeb, results: []notify.SendResult{{Success: true}}}
	registry := processor.NewRegistry(web)

	now := time.Now().UTC()
	start := now.Add(-time.Hour).Format("15:04")
	end := now.Add(time.Hour).Format("15:04")
	prefs := &stubPrefStore{prefs: []notify.ChannelPreference{
		{UserID: "u1", Channel: notify.ChannelWeb, Enabled: true, QuietHoursStart: start, QuietHoursEnd: end, Timezone: "UTC"},
	}}
	r := NewRouter(registry, prefs, fastRetryPolicy())

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.Targeting.UserIDs = []string{"u1"}
	result := r.Route(context.Background(), n)

	assert.True(t, result.Success)
	assert.Empty(t, result.DeliveredChannels)
	assert.Equal(t, 0, result.Total)
}

func TestInQuietHours_OvernightWindow(t *testing.T) {
	pref := notify.ChannelPreference{QuietHoursStart: "22:00", QuietHoursEnd: "06:00", Timezone: "UTC"}
	late := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	early := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)

	assert.True(t, inQuietHours(late, pref))
	assert.True(t, inQuietHours(early, pref))
	assert.False(t, inQuietHours(midday, pref))
}

func TestDefaultRetryPolicy_DelayGrowsExponentially(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, p.InitialDelay, p.delayFor(0))
	assert.Equal(t, p.InitialDelay*2, p.delayFor(1))
}
