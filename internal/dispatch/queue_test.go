package dispatch

import (
	"testing"

	"github.com/irfndi/notifyhub/internal/notify"
	"github.com/stretchr/testify/assert"
)

func TestBuckets_PushIsFIFOWithinPriority(t *testing.T) {
	b := newBuckets()
	first := notify.NewNotification("tenant-a", nil, notify.Payload{})
	second := notify.NewNotification("tenant-a", nil, notify.Payload{})
	b.push(first)
	b.push(second)

	bucket := b.byPriority[notify.PriorityNormal]
	assert.Equal(t, first.ID, bucket.popFront().ID)
	assert.Equal(t, second.ID, bucket.popFront().ID)
}

func TestBuckets_RemoveByID(t *testing.T) {
	b := newBuckets()
	n := notify.NewNotification("tenant-a", nil, notify.Payload{})
	b.push(n)

	assert.True(t, b.remove(notify.PriorityNormal, n.ID))
	assert.Equal(t, 0, b.totalLen())
	assert.False(t, b.remove(notify.PriorityNormal, n.ID))
}

func TestBuckets_TotalLenAcrossPriorities(t *testing.T) {
	b := newBuckets()
	low := notify.NewNotification("tenant-a", nil, notify.Payload{})
	low.Priority = notify.PriorityLow
	crit := notify.NewNotification("tenant-a", nil, notify.Payload{})
	crit.Priority = notify.PriorityCritical

	b.push(low)
	b.push(crit)

	assert.Equal(t, 2, b.totalLen())
}
