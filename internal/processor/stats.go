package processor

import (
	"sync"
	"time"
)

// defaultEWMAAlpha weights the most recent sample at 20%, matching the
// smoothing the source repo's worker applies to its own processing-time average.
const defaultEWMAAlpha = 0.2

// Stats accumulates per-processor delivery counters and an exponentially
// weighted moving average of delivery time
type Stats struct {
	mu sync.Mutex

	Sent      int64
	Delivered int64
	Failed    int64
	Bounced   int64
	Opened    int64
	Clicked   int64

	avgDeliveryMillis float64
	hasAvg            bool
	alpha             float64
}

// NewStats constructs a Stats with the default smoothing factor.
func NewStats() *Stats {
	return &Stats{alpha: defaultEWMAAlpha}
}

// RecordSuccess increments Sent and Delivered and folds duration into the
// EWMA.
func (s *Stats) RecordSuccess(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent++
	s.Delivered++
	s.avgDeliveryMillis = ewmaUpdate(s.avgDeliveryMillis, duration, s.alpha, s.hasAvg)
	s.hasAvg = true
}

// RecordFailure increments Sent and Failed and still folds duration into
// the EWMA (a slow failure is informative too).
func (s *Stats) RecordFailure(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent++
	s.Failed++
	s.avgDeliveryMillis = ewmaUpdate(s.avgDeliveryMillis, duration, s.alpha, s.hasAvg)
	s.hasAvg = true
}

// RecordBounced, RecordOpened, and RecordClicked track channel-specific
// outcomes that arrive asynchronously (e.g. from email provider webhooks).
func (s *Stats) RecordBounced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Bounced++
}

func (s *Stats) RecordOpened() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opened++
}

func (s *Stats) RecordClicked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clicked++
}

// Snapshot is a point-in-time copy of Stats safe to read without a lock.
type Snapshot struct {
	Sent              int64
	Delivered         int64
	Failed            int64
	Bounced           int64
	Opened            int64
	Clicked           int64
	AvgDeliveryMillis float64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Sent:              s.Sent,
		Delivered:         s.Delivered,
		Failed:            s.Failed,
		Bounced:           s.Bounced,
		Opened:            s.Opened,
		Clicked:           s.Clicked,
		AvgDeliveryMillis: s.avgDeliveryMillis,
	}
}
