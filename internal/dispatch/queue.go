// Package dispatch implements the C6 dispatcher: a priority-bucketed
// queue with retry, expiry, and age-out, driving notifications through
// the channel router.
package dispatch

import (
	"sync"

	"github.com/irfndi/notifyhub/internal/notify"
)

// bucket is one priority level's ordered queue: one ordered bucket per
// priority. Push/pop are serialized per bucket, grounded on the source
// repo's Redis sorted-set queue (queue.go) but held in-memory here.
type bucket struct {
	mu    sync.Mutex
	items []*notify.Notification
}

func (b *bucket) pushBack(n *notify.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, n)
}

// popFront removes and returns the oldest item, or nil if empty.
func (b *bucket) popFront() *notify.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	n := b.items[0]
	b.items = b.items[1:]
	return n
}

func (b *bucket) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.items {
		if n.ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// buckets holds one bucket per priority level.
type buckets struct {
	byPriority map[notify.Priority]*bucket
}

func newBuckets() *buckets {
	b := &buckets{byPriority: make(map[notify.Priority]*bucket, len(notify.Priorities))}
	for _, p := range notify.Priorities {
		b.byPriority[p] = &bucket{}
	}
	return b
}

func (b *buckets) push(n *notify.Notification) {
	b.byPriority[n.Priority].pushBack(n)
}

func (b *buckets) remove(priority notify.Priority, id string) bool {
	return b.byPriority[priority].remove(id)
}

func (b *buckets) totalLen() int {
	total := 0
	for _, bucket := range b.byPriority {
		total += bucket.len()
	}
	return total
}
