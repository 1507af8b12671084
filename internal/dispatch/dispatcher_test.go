package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/processor"
	"github.com/irfndi/notifyhub/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannelProcessor struct {
	channel notify.Channel
	success bool
	errMsg  string
}

func (f *fakeChannelProcessor) Channel() notify.Channel { return f.channel }
func (f *fakeChannelProcessor) Process(ctx context.Context, n *notify.Notification) notify.SendResult {
	return notify.SendResult{Channel: f.channel, Success: f.success, Error: f.errMsg}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ProcessingInterval = 5 * time.Millisecond
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.CleanupInterval = time.Hour
	return cfg
}

func fastRouterPolicy() router.RetryPolicy {
	return router.RetryPolicy{MaxRetries: 0, InitialDelay: time.Millisecond, Backoff: 2}
}

func TestDispatcher_EnqueueAssignsPendingStatus(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: true})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	id, err := d.Enqueue(n)

	require.NoError(t, err)
	assert.Equal(t, n.ID, id)
	assert.Equal(t, notify.StatusPending, n.Status)
}

func TestDispatcher_RejectsEnqueueAtCapacity(t *testing.T) {
	registry := processor.NewRegistry()
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	cfg := testConfig()
	cfg.MaxSize = 1
	d := NewDispatcher(cfg, r, nil)

	_, err := d.Enqueue(notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{}))
	require.NoError(t, err)

	_, err = d.Enqueue(notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{}))
	assert.Error(t, err)
}

func TestDispatcher_RejectsEnqueueAfterStop(t *testing.T) {
	registry := processor.NewRegistry()
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)
	d.Stop(context.Background())

	_, err := d.Enqueue(notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{}))
	assert.Error(t, err)
}

func TestDispatcher_CancelRemovesQueuedNotification(t *testing.T) {
	registry := processor.NewRegistry()
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	assert.True(t, d.Cancel(n.ID))
	assert.False(t, d.Cancel(n.ID)) // already removed
}

func TestDispatcher_ProcessingTickDeliversSuccessfulNotification(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: true})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	var delivered *notify.Notification
	d.OnDelivered.On(func(e DeliveredEvent) { delivered = e.Notification })

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	d.processingTick(context.Background())

	require.NotNil(t, delivered)
	assert.Equal(t, notify.StatusDelivered, delivered.Status)
}

func TestDispatcher_FailureBelowMaxAttemptsSchedulesRetry(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: false, errMsg: "boom"})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	var retried *notify.Notification
	d.OnRetry.On(func(e RetryEvent) { retried = e.Notification })

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.Policy.MaxAttempts = 3
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	d.processingTick(context.Background())

	require.NotNil(t, retried)
	assert.Equal(t, notify.StatusRetrying, retried.Status)
	assert.Equal(t, 1, retried.Attempts)
}

func TestDispatcher_FailureAtMaxAttemptsIsTerminal(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: false, errMsg: "boom"})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	var failed *notify.Notification
	d.OnFailed.On(func(e FailedEvent) { failed = e.Notification })

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.Policy.MaxAttempts = 1
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	d.processingTick(context.Background())

	require.NotNil(t, failed)
	assert.Equal(t, notify.StatusFailed, failed.Status)
}

func TestDispatcher_RetryTickRequeuesDueNotification(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: false, errMsg: "boom"})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.Policy.MaxAttempts = 3
	n.Policy.BaseRetryDelay = time.Millisecond
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	d.processingTick(context.Background())
	require.Equal(t, notify.StatusRetrying, n.Status)

	time.Sleep(5 * time.Millisecond)
	d.retryTick(context.Background())

	assert.Equal(t, notify.StatusPending, n.Status)
	assert.Equal(t, 1, d.buckets.totalLen())
}

func TestDispatcher_ExpiredNotificationSkipsDispatch(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: true})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	var failed *notify.Notification
	d.OnFailed.On(func(e FailedEvent) { failed = e.Notification })

	past := time.Now().Add(-time.Hour)
	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.ExpiresAt = &past
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	d.processingTick(context.Background())

	require.NotNil(t, failed)
	assert.Equal(t, notify.StatusExpired, failed.Status)
}

func TestDispatcher_PopCandidateExpiresExactlyAtBoundary(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: true})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)

	var failed *notify.Notification
	d.OnFailed.On(func(e FailedEvent) { failed = e.Notification })

	now := time.Now().UTC()
	n := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	n.ExpiresAt = &now
	_, err := d.Enqueue(n)
	require.NoError(t, err)

	got := d.popCandidate(n.Priority, now)

	assert.Nil(t, got)
	require.NotNil(t, failed)
	assert.Equal(t, notify.StatusExpired, failed.Status)
}

func TestDispatcher_PriorityModeDrainsCriticalBeforeLow(t *testing.T) {
	registry := processor.NewRegistry(&fakeChannelProcessor{channel: notify.ChannelWeb, success: true})
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	cfg := testConfig()
	cfg.BatchSize = 1
	d := NewDispatcher(cfg, r, nil)

	low := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	low.Priority = notify.PriorityLow
	critical := notify.NewNotification("tenant-a", []notify.Channel{notify.ChannelWeb}, notify.Payload{})
	critical.Priority = notify.PriorityCritical

	_, err := d.Enqueue(low)
	require.NoError(t, err)
	_, err = d.Enqueue(critical)
	require.NoError(t, err)

	batch := d.selectBatch()
	require.Len(t, batch, 1)
	assert.Equal(t, critical.ID, batch[0].ID)
}

func TestDispatcher_StopDrainsBeforeReturning(t *testing.T) {
	registry := processor.NewRegistry()
	r := router.NewRouter(registry, nil, fastRouterPolicy())
	d := NewDispatcher(testConfig(), r, nil)
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		d.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
