package dispatch

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irfndi/notifyhub/internal/confirmation"
	apperrors "github.com/irfndi/notifyhub/internal/errors"
	"github.com/irfndi/notifyhub/internal/events"
	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/irfndi/notifyhub/internal/router"
)

// SelectionMode chooses how the processing tick drains buckets.
type SelectionMode int

const (
	// SelectionPriority drains Critical before Urgent before High... (default).
	SelectionPriority SelectionMode = iota
	// SelectionRoundRobin rotates across non-empty buckets to avoid starving
	// lower priorities, trading urgency for fairness
	SelectionRoundRobin
)

// maxRetryDelay is the absolute ceiling on a notification's own retry
// delay, grounded on the source repo's calculateBackoff cap.
const maxRetryDelay = 5 * time.Minute

// Config parameterizes the dispatcher's queue limits and tick cadence.
type Config struct {
	MaxSize             int
	BatchSize           int
	Concurrency         int
	SelectionMode       SelectionMode
	ProcessingInterval  time.Duration
	RetryInterval       time.Duration
	CleanupInterval     time.Duration
	RetentionWindow     time.Duration
	ShutdownPollInterval time.Duration
	ShutdownDeadline    time.Duration
}

// DefaultConfig returns the baseline queue sizing and batching defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:              100000,
		BatchSize:             50,
		Concurrency:           8,
		SelectionMode:         SelectionPriority,
		ProcessingInterval:    100 * time.Millisecond,
		RetryInterval:         1 * time.Second,
		CleanupInterval:       1 * time.Minute,
		RetentionWindow:       24 * time.Hour,
		ShutdownPollInterval:  50 * time.Millisecond,
		ShutdownDeadline:      30 * time.Second,
	}
}

// location tracks which of the three maps a notification currently lives
// in, so cancellation and status lookups are O(1) without scanning buckets.
type location int

const (
	locQueued location = iota
	locInFlight
	locCompleted
)

type indexEntry struct {
	location location
	priority notify.Priority
}

// DeliveredEvent is emitted when a notification reaches a terminal
// Delivered status.
type DeliveredEvent struct {
	Notification *notify.Notification
	Result       router.Result
}

// FailedEvent is emitted when a notification reaches a terminal Failed
// status (attempts exhausted or expired).
type FailedEvent struct {
	Notification *notify.Notification
	Reason       string
}

// RetryEvent is emitted each time a notification is scheduled for retry.
type RetryEvent struct {
	Notification *notify.Notification
	Delay        time.Duration
}

// Dispatcher is the C6 priority queue and retry engine: it accepts
// notifications, batches them out to the Channel Router, and retries or
// expires them according to their delivery policy.
type Dispatcher struct {
	cfg    Config
	router *router.Router
	confirm *confirmation.Store

	buckets *buckets

	mu        sync.Mutex
	index     map[string]indexEntry
	inFlight  map[string]*notify.Notification
	completed map[string]*notify.Notification
	all       map[string]*notify.Notification // every known ID, for Get/List regardless of location

	rrCursor int // round-robin bucket cursor

	stats *stats

	OnDelivered events.Emitter[DeliveredEvent]
	OnFailed    events.Emitter[FailedEvent]
	OnRetry     events.Emitter[RetryEvent]

	closed  atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	sem     chan struct{} // bounds in-flight dispatch concurrency
}

// NewDispatcher constructs a Dispatcher. confirm may be nil if aggregate
// delivery confirmations shouldn't be recorded independently of the
// per-channel confirmations the processors already record.
func NewDispatcher(cfg Config, r *router.Router, confirm *confirmation.Store) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Dispatcher{
		cfg:       cfg,
		router:    r,
		confirm:   confirm,
		buckets:   newBuckets(),
		index:     make(map[string]indexEntry),
		inFlight:  make(map[string]*notify.Notification),
		completed: make(map[string]*notify.Notification),
		all:       make(map[string]*notify.Notification),
		stats:     newStats(),
		stopCh:    make(chan struct{}),
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Start launches the processing, retry, and cleanup ticks.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(3)
	go d.tickLoop(ctx, d.cfg.ProcessingInterval, d.processingTick)
	go d.tickLoop(ctx, d.cfg.RetryInterval, d.retryTick)
	go d.tickLoop(ctx, d.cfg.CleanupInterval, d.cleanupTick)
}

func (d *Dispatcher) tickLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stop marks the dispatcher closed (rejecting new enqueues), stops the
// ticks, and blocks until the in-flight map drains or the shutdown
// deadline elapses — a bounded-wait loop
func (d *Dispatcher) Stop(ctx context.Context) {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()

	deadline := time.Now().Add(d.cfg.ShutdownDeadline)
	for {
		d.mu.Lock()
		n := len(d.inFlight)
		d.mu.Unlock()
		if n == 0 || time.Now().After(deadline) {
			return
		}
		time.Sleep(d.cfg.ShutdownPollInterval)
	}
}

// Enqueue validates the channel set and priority and admits a notification,
// ingress contract. The delivery policy is not checked.
func (d *Dispatcher) Enqueue(n *notify.Notification) (string, error) {
	if d.closed.Load() {
		return "", apperrors.NewQueueClosedError()
	}
	if len(n.Channels) == 0 {
		return "", apperrors.NewValidationError("channels", "at least one channel is required")
	}
	if n.Priority < notify.PriorityLow || n.Priority > notify.PriorityCritical {
		return "", apperrors.NewValidationError("priority", "unknown priority")
	}

	d.mu.Lock()
	total := d.buckets.totalLen() + len(d.inFlight)
	if total >= d.cfg.MaxSize {
		d.mu.Unlock()
		return "", apperrors.NewQueueFullError(d.cfg.MaxSize)
	}

	n.Status = notify.StatusPending
	n.Attempts = 0
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	d.index[n.ID] = indexEntry{location: locQueued, priority: n.Priority}
	d.all[n.ID] = n
	d.mu.Unlock()

	d.buckets.push(n)
	d.stats.recordStatus(notify.StatusPending, n.Priority)
	return n.ID, nil
}

// Get returns the notification for id in whatever state it currently is,
// satisfying GET /notifications/:id/status.
func (d *Dispatcher) Get(id string) (*notify.Notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.all[id]
	return n, ok
}

// ListFilter narrows List by organization, status, channel, and a
// creation-time range. Zero values match everything.
type ListFilter struct {
	TenantID string
	Status   notify.Status
	Channel  notify.Channel
	From, To time.Time
	Limit    int
	Offset   int
}

// List returns notifications matching filter, newest-CreatedAt-first,
// paginated by Limit/Offset.
func (d *Dispatcher) List(filter ListFilter) []*notify.Notification {
	d.mu.Lock()
	matched := make([]*notify.Notification, 0, len(d.all))
	for _, n := range d.all {
		if filter.TenantID != "" && n.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && !n.HasChannel(filter.Channel) {
			continue
		}
		if !filter.From.IsZero() && n.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && n.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, n)
	}
	d.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	offset := filter.Offset
	if offset < 0 || offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]

	limit := filter.Limit
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

// Cancel removes a pending notification from its bucket. In-flight or
// terminal notifications cannot be cancelled.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	entry, ok := d.index[id]
	if !ok || entry.location != locQueued {
		d.mu.Unlock()
		return false
	}
	delete(d.index, id)
	delete(d.all, id)
	d.mu.Unlock()

	return d.buckets.remove(entry.priority, id)
}

// Stats returns a snapshot of the dispatcher's current statistics.
func (d *Dispatcher) Stats() Snapshot {
	return d.stats.snapshot()
}

// processingTick selects up to BatchSize candidates and dispatches them
// through the channel router, one goroutine per notification bounded by
// the concurrency semaphore.
func (d *Dispatcher) processingTick(ctx context.Context) {
	batch := d.selectBatch()
	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, n := range batch {
		n := n
		wg.Add(1)
		d.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.dispatchOne(ctx, n)
		}()
	}
	wg.Wait()
}

// selectBatch implements both batch-selection modes
func (d *Dispatcher) selectBatch() []*notify.Notification {
	var batch []*notify.Notification
	now := time.Now().UTC()

	switch d.cfg.SelectionMode {
	case SelectionRoundRobin:
		batch = d.selectRoundRobin(now)
	default:
		batch = d.selectPriority(now)
	}
	return batch
}

func (d *Dispatcher) selectPriority(now time.Time) []*notify.Notification {
	var batch []*notify.Notification
	for _, p := range notify.Priorities {
		for len(batch) < d.cfg.BatchSize {
			n := d.popCandidate(p, now)
			if n == nil {
				break
			}
			batch = append(batch, n)
		}
		if len(batch) >= d.cfg.BatchSize {
			break
		}
	}
	return batch
}

func (d *Dispatcher) selectRoundRobin(now time.Time) []*notify.Notification {
	var batch []*notify.Notification
	priorities := notify.Priorities
	consecutiveEmpty := 0

	for len(batch) < d.cfg.BatchSize && consecutiveEmpty < len(priorities) {
		p := priorities[d.rrCursor%len(priorities)]
		d.rrCursor++

		n := d.popCandidate(p, now)
		if n == nil {
			consecutiveEmpty++
			continue
		}
		consecutiveEmpty = 0
		batch = append(batch, n)
	}
	return batch
}

// popCandidate pops the front of priority p's bucket, applying the
// expiry and not-yet-due rules. A not-yet-due item is returned to the
// tail and nil is returned to the caller (it does not count toward the
// batch, but the bucket is not starved forever since it moved to the back).
func (d *Dispatcher) popCandidate(p notify.Priority, now time.Time) *notify.Notification {
	b := d.buckets.byPriority[p]
	attempts := b.len()
	for i := 0; i < attempts; i++ {
		n := b.popFront()
		if n == nil {
			return nil
		}

		if n.ExpiresAt != nil && !now.Before(*n.ExpiresAt) {
			d.markExpired(n)
			continue
		}
		if n.SendAt != nil && now.Before(*n.SendAt) {
			b.pushBack(n)
			continue
		}
		return n
	}
	return nil
}

func (d *Dispatcher) markExpired(n *notify.Notification) {
	n.Status = notify.StatusExpired
	n.UpdatedAt = time.Now().UTC()

	d.mu.Lock()
	d.completed[n.ID] = n
	d.index[n.ID] = indexEntry{location: locCompleted, priority: n.Priority}
	d.mu.Unlock()

	d.stats.recordStatus(notify.StatusExpired, n.Priority)
	d.OnFailed.Emit(FailedEvent{Notification: n, Reason: "expired"})
}

// dispatchOne moves a notification into the in-flight map, invokes the
// channel router, and applies the outcome rules
func (d *Dispatcher) dispatchOne(ctx context.Context, n *notify.Notification) {
	start := time.Now()

	n.Status = notify.StatusProcessing
	n.Attempts++
	now := start.UTC()
	n.LastAttemptAt = &now
	n.UpdatedAt = now

	d.mu.Lock()
	d.inFlight[n.ID] = n
	d.index[n.ID] = indexEntry{location: locInFlight, priority: n.Priority}
	d.mu.Unlock()

	result := d.router.Route(ctx, n)

	d.mu.Lock()
	delete(d.inFlight, n.ID)
	d.mu.Unlock()

	d.stats.recordProcessingTime(time.Since(start))
	for _, ch := range result.DeliveredChannels {
		d.stats.recordChannel(ch)
	}

	n.DeliveredChannels = append(n.DeliveredChannels, result.DeliveredChannels...)
	n.FailedChannels = result.FailedChannels
	n.UpdatedAt = time.Now().UTC()

	if result.Success {
		d.markDelivered(ctx, n, result)
		return
	}
	d.handleFailure(n, result)
}

func (d *Dispatcher) markDelivered(ctx context.Context, n *notify.Notification, result router.Result) {
	n.Status = notify.StatusDelivered
	n.FailedChannels = nil

	d.mu.Lock()
	d.completed[n.ID] = n
	d.index[n.ID] = indexEntry{location: locCompleted, priority: n.Priority}
	d.mu.Unlock()

	if d.confirm != nil {
		for _, ch := range result.DeliveredChannels {
			_, _ = d.confirm.RecordDelivered(ctx, n.ID, n.TenantID, ch, confirmation.ConfirmationMetadata{})
		}
	}

	d.stats.recordStatus(notify.StatusDelivered, n.Priority)
	d.stats.recordDelivered(time.Now())
	d.OnDelivered.Emit(DeliveredEvent{Notification: n, Result: result})
}

// handleFailure decides retry vs. terminal failure, grounded on the
// source repo's handleFailure/calculateBackoff.
func (d *Dispatcher) handleFailure(n *notify.Notification, result router.Result) {
	n.RemoveDelivered() // retry only the channels still failed
	n.LastError = errorsJoin(result.Errors)

	if n.Attempts >= n.Policy.MaxAttempts {
		n.Status = notify.StatusFailed
		d.mu.Lock()
		d.completed[n.ID] = n
		d.index[n.ID] = indexEntry{location: locCompleted, priority: n.Priority}
		d.mu.Unlock()

		d.stats.recordStatus(notify.StatusFailed, n.Priority)
		d.OnFailed.Emit(FailedEvent{Notification: n, Reason: "max attempts exceeded"})
		return
	}

	delay := calculateBackoff(n.Policy, n.Attempts)
	n.CurrentRetryDelay = delay
	n.Status = notify.StatusRetrying

	d.mu.Lock()
	d.completed[n.ID] = n
	d.index[n.ID] = indexEntry{location: locCompleted, priority: n.Priority}
	d.mu.Unlock()

	d.stats.recordStatus(notify.StatusRetrying, n.Priority)
	d.OnRetry.Emit(RetryEvent{Notification: n, Delay: delay})
}

// calculateBackoff: base * multiplier^(attempt-1), capped at an absolute
// maximum, grounded on the source repo's calculateBackoff.
func calculateBackoff(policy notify.DeliveryPolicy, attempt int) time.Duration {
	base := policy.BaseRetryDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	delay := time.Duration(float64(base) * math.Pow(multiplier, float64(attempt-1)))
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// retryTick scans the completed map for notifications whose retry delay
// has elapsed and requeues them, or marks them terminally Failed if their
// attempts are exhausted.
func (d *Dispatcher) retryTick(_ context.Context) {
	now := time.Now().UTC()

	var toRequeue []*notify.Notification
	var toFail []*notify.Notification

	d.mu.Lock()
	for id, n := range d.completed {
		if n.Status != notify.StatusRetrying {
			continue
		}
		if n.LastAttemptAt == nil || now.Sub(*n.LastAttemptAt) < n.CurrentRetryDelay {
			continue
		}
		if n.Attempts >= n.Policy.MaxAttempts {
			toFail = append(toFail, n)
			continue
		}
		toRequeue = append(toRequeue, n)
		delete(d.completed, id)
	}
	d.mu.Unlock()

	for _, n := range toFail {
		n.Status = notify.StatusFailed
		n.LastError = "max retries exceeded"
		n.UpdatedAt = now

		d.stats.recordStatus(notify.StatusFailed, n.Priority)
		d.OnFailed.Emit(FailedEvent{Notification: n, Reason: "max retries exceeded"})
	}

	for _, n := range toRequeue {
		n.Status = notify.StatusPending
		n.UpdatedAt = now

		d.mu.Lock()
		d.index[n.ID] = indexEntry{location: locQueued, priority: n.Priority}
		d.mu.Unlock()

		d.buckets.push(n)
		d.stats.recordStatus(notify.StatusPending, n.Priority)
	}
}

// cleanupTick drops completed entries whose UpdatedAt is older than the
// retention window.
func (d *Dispatcher) cleanupTick(_ context.Context) {
	cutoff := time.Now().Add(-d.cfg.RetentionWindow)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, n := range d.completed {
		if n.Status.Terminal() && n.UpdatedAt.Before(cutoff) {
			delete(d.completed, id)
			delete(d.index, id)
			delete(d.all, id)
		}
	}
}

func errorsJoin(errs map[notify.Channel]string) string {
	if len(errs) == 0 {
		return ""
	}
	msg := ""
	for ch, e := range errs {
		if msg != "" {
			msg += "; "
		}
		msg += string(ch) + ": " + e
	}
	return msg
}
