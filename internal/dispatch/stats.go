package dispatch

import (
	"sync"
	"time"

	"github.com/irfndi/notifyhub/internal/notify"
)

// statsEWMAAlpha matches the smoothing factor used throughout the rest of
// the repo's processing-time averages.
const statsEWMAAlpha = 0.2

// Snapshot is a point-in-time read of the dispatcher's statistics.
type Snapshot struct {
	TotalByStatus   map[notify.Status]int64
	TotalByPriority map[notify.Priority]int64
	TotalByChannel  map[notify.Channel]int64
	AvgProcessingMs float64
	ThroughputPerMin float64
}

// stats accumulates counters and the EWMA/throughput window. All fields
// are mutex-protected; there is no lock-free path here since updates are
// comparatively rare (once per batch dispatch, not per frame).
type stats struct {
	mu sync.Mutex

	byStatus   map[notify.Status]int64
	byPriority map[notify.Priority]int64
	byChannel  map[notify.Channel]int64

	avgProcessingMs float64
	hasAvg          bool

	deliveredAt []time.Time // trailing window for throughput
}

func newStats() *stats {
	return &stats{
		byStatus:   make(map[notify.Status]int64),
		byPriority: make(map[notify.Priority]int64),
		byChannel:  make(map[notify.Channel]int64),
	}
}

func (s *stats) recordStatus(status notify.Status, priority notify.Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStatus[status]++
	s.byPriority[priority]++
}

func (s *stats) recordChannel(ch notify.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChannel[ch]++
}

func (s *stats) recordProcessingTime(d time.Duration) {
	ms := float64(d.Milliseconds())
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasAvg {
		s.avgProcessingMs = ms
		s.hasAvg = true
		return
	}
	s.avgProcessingMs = statsEWMAAlpha*ms + (1-statsEWMAAlpha)*s.avgProcessingMs
}

func (s *stats) recordDelivered(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveredAt = append(s.deliveredAt, at)
}

func (s *stats) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-60 * time.Second)
	kept := s.deliveredAt[:0:0]
	for _, t := range s.deliveredAt {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.deliveredAt = kept

	byStatus := make(map[notify.Status]int64, len(s.byStatus))
	for k, v := range s.byStatus {
		byStatus[k] = v
	}
	byPriority := make(map[notify.Priority]int64, len(s.byPriority))
	for k, v := range s.byPriority {
		byPriority[k] = v
	}
	byChannel := make(map[notify.Channel]int64, len(s.byChannel))
	for k, v := range s.byChannel {
		byChannel[k] = v
	}

	return Snapshot{
		TotalByStatus:    byStatus,
		TotalByPriority:  byPriority,
		TotalByChannel:   byChannel,
		AvgProcessingMs:  s.avgProcessingMs,
		ThroughputPerMin: float64(len(kept)),
	}
}
