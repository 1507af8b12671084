package confirmation

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/irfndi/notifyhub/internal/events"
	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// BatchEvent is emitted whenever the pending batch is flushed, for the
// persistence collaborator (or any other observer) to react to.
type BatchEvent struct {
	Confirmations []Confirmation
	FlushedAt     time.Time
}

// PersistFunc is the persistence collaborator's batch-flush hook. Treated
// as an external collaborator: the Store calls it, but does
// not implement storage itself.
type PersistFunc func(ctx context.Context, batch []Confirmation) error

// Config parameterizes the Store's batching and retention behavior.
type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	MaxPending     int
	Retention      time.Duration
}

// DefaultConfig returns sensible defaults: flush every 5s or every 100
// pending confirmations, retain 30 days, cap pending growth at 10k.
func DefaultConfig() Config {
	return Config{
		FlushInterval:  5 * time.Second,
		FlushThreshold: 100,
		MaxPending:     10000,
		Retention:      30 * 24 * time.Hour,
	}
}

// Store is the C2 delivery confirmation store: an in-memory append-only
// log, a pending batch flushed on a timer or size threshold, an age-based
// retention sweeper, and tenant analytics roll-ups.
type Store struct {
	cfg     Config
	persist PersistFunc

	mu      sync.RWMutex
	log     []Confirmation
	pending []Confirmation

	OnConfirmation events.Emitter[Confirmation]
	OnBatch        events.Emitter[BatchEvent]

	stopCh chan struct{}
	wg     sync.WaitGroup

	droppedCounter metric.Int64Counter
}

// NewStore constructs a Store. persist may be nil, in which case flushing
// is a no-op beyond clearing the pending batch (useful for tests and for
// deployments with no wired persistence collaborator).
func NewStore(cfg Config, persist PersistFunc) *Store {
	meter := otel.GetMeterProvider().Meter("notifyhub/confirmation")
	dropped, _ := meter.Int64Counter("notifyhub_confirmation_dropped_total")

	return &Store{
		cfg:            cfg,
		persist:        persist,
		stopCh:         make(chan struct{}),
		droppedCounter: dropped,
	}
}

// Start launches the background flush and retention-sweep loops.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.flushLoop(ctx)
	go s.sweepLoop(ctx)
}

// Stop halts the background loops and flushes any remaining pending batch.
func (s *Store) Stop(ctx context.Context) {
	close(s.stopCh)
	s.wg.Wait()
	s.flush(ctx)
}

// Record appends a confirmation to the log and pending batch.
// Confirmations are never rewritten — only appended or, eventually,
// evicted by retention.
func (s *Store) Record(ctx context.Context, c Confirmation) (string, error) {
	s.mu.Lock()
	s.log = append(s.log, c)
	s.pending = append(s.pending, c)
	overflow := len(s.pending) - s.cfg.MaxPending
	if overflow > 0 {
		s.pending = s.pending[overflow:]
		s.droppedCounter.Add(ctx, int64(overflow))
		telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
			"operation": "confirmation_pending_overflow",
			"dropped":   overflow,
		}).Warn("pending confirmation batch exceeded max size, oldest entries dropped")
	}
	shouldFlush := len(s.pending) >= s.cfg.FlushThreshold
	s.mu.Unlock()

	s.OnConfirmation.Emit(c)

	if shouldFlush {
		s.flush(ctx)
	}
	return c.ID, nil
}

// RecordSent, RecordDelivered, RecordRead, RecordClicked, RecordFailed,
// RecordBounced, and RecordUnsubscribed are convenience wrappers around
// Record, one per status.
func (s *Store) RecordSent(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusSent, meta))
}

func (s *Store) RecordDelivered(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusDelivered, meta))
}

func (s *Store) RecordRead(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusRead, meta))
}

func (s *Store) RecordClicked(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusClicked, meta))
}

func (s *Store) RecordFailed(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusFailed, meta))
}

func (s *Store) RecordBounced(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusBounced, meta))
}

func (s *Store) RecordUnsubscribed(ctx context.Context, notificationID, tenantID string, channel notify.Channel, meta ConfirmationMetadata) (string, error) {
	return s.Record(ctx, NewConfirmation(notificationID, tenantID, channel, StatusUnsubscribed, meta))
}

// GetForNotification returns every confirmation recorded for notificationID,
// oldest first.
func (s *Store) GetForNotification(notificationID string) []Confirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Confirmation
	for _, c := range s.log {
		if c.NotificationID == notificationID {
			out = append(out, c)
		}
	}
	return out
}

// GetForTenant returns confirmations for tenantID matching filter.
func (s *Store) GetForTenant(tenantID string, filter Filter) []Confirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Confirmation
	for _, c := range s.log {
		if c.TenantID != tenantID {
			continue
		}
		if filter.Channel != "" && c.Channel != filter.Channel {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && c.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && c.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// AggregateStatus returns, per channel, the most recent confirmation
// status recorded for notificationID.
func (s *Store) AggregateStatus(notificationID string) map[notify.Channel]Status {
	result := make(map[notify.Channel]Status)
	for _, c := range s.GetForNotification(notificationID) {
		result[c.Channel] = c.Status
	}
	return result
}

// Analyze computes delivery-rate analytics for a tenant over
// confirmations in [from, to].
func (s *Store) Analyze(tenantID string, from, to time.Time) Analytics {
	confirmations := s.GetForTenant(tenantID, Filter{From: from, To: to})

	result := Analytics{PerChannel: make(map[notify.Channel]ChannelAnalytics)}
	notificationsByChannel := make(map[notify.Channel]map[string]bool)

	for _, c := range confirmations {
		ch := result.PerChannel[c.Channel]
		ch.Total++
		switch c.Status {
		case StatusDelivered:
			ch.Delivered++
		case StatusRead:
			ch.Read++
		case StatusClicked:
			ch.Clicked++
		case StatusBounced:
			ch.Bounced++
		}
		result.PerChannel[c.Channel] = ch

		if notificationsByChannel[c.Channel] == nil {
			notificationsByChannel[c.Channel] = make(map[string]bool)
		}
		notificationsByChannel[c.Channel][c.NotificationID] = true
	}

	for _, ch := range result.PerChannel {
		result.Total += ch.Total
		result.Delivered += ch.Delivered
		result.Read += ch.Read
		result.Clicked += ch.Clicked
		result.Bounced += ch.Bounced
	}

	if result.Total > 0 {
		result.DeliveryRate = float64(result.Delivered) / float64(result.Total)
		result.ReadRate = float64(result.Read) / float64(result.Total)
		result.ClickRate = float64(result.Clicked) / float64(result.Total)
		result.BounceRate = float64(result.Bounced) / float64(result.Total)
	}
	return result
}

func (s *Store) flushLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(ctx)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist(ctx, batch); err != nil {
			telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
				"operation":  "confirmation_flush",
				"batch_size": len(batch),
			}).Errorf("confirmation batch flush failed, re-queueing: %v", err)

			s.mu.Lock()
			s.pending = append(batch, s.pending...)
			s.mu.Unlock()
			return
		}
	}

	s.OnBatch.Emit(BatchEvent{Confirmations: batch, FlushedAt: time.Now().UTC()})
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	if s.cfg.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Retention / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.cfg.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.log[:0:0]
	for _, c := range s.log {
		if c.Timestamp.After(cutoff) {
			kept = append(kept, c)
		}
	}
	s.log = kept
}

// TrackingPixelURL returns an opaque URL that, when fetched, records a Read
// confirmation and (by convention in the HTTP handler) serves a 1x1 pixel.
func TrackingPixelURL(baseURL, notificationID string, channel notify.Channel) string {
	return fmt.Sprintf("%s/track/pixel/%s/%s", baseURL, notificationID, channel)
}

// ClickTrackingURL returns an opaque URL that, when fetched, records a
// Clicked confirmation and 302-redirects to target.
func ClickTrackingURL(baseURL, notificationID string, channel notify.Channel, target string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?target=%s", baseURL, notificationID, channel, url.QueryEscape(target))
}
