package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainBatchOrdersByPriorityThenFIFO(t *testing.T) {
	q := newPendingQueue(10, time.Minute)
	now := time.Now()

	q.push(NewEnvelope("low-1", nil, WithPriority(PriorityLow)), target{kind: targetAll}, now)
	q.push(NewEnvelope("high-1", nil, WithPriority(PriorityHigh)), target{kind: targetAll}, now)
	q.push(NewEnvelope("med-1", nil), target{kind: targetAll}, now)
	q.push(NewEnvelope("high-2", nil, WithPriority(PriorityHigh)), target{kind: targetAll}, now)

	batch, expired := q.drainBatch(now)
	require.Zero(t, expired)
	require.Len(t, batch, 4)

	types := make([]string, len(batch))
	for i, msg := range batch {
		types[i] = msg.env.Type
	}
	assert.Equal(t, []string{"high-1", "high-2", "med-1", "low-1"}, types)
}

func TestPushEvictsLowestPriorityOldestWhenFull(t *testing.T) {
	q := newPendingQueue(2, time.Minute)
	now := time.Now()

	q.push(NewEnvelope("low-old", nil, WithPriority(PriorityLow)), target{kind: targetAll}, now)
	q.push(NewEnvelope("low-new", nil, WithPriority(PriorityLow)), target{kind: targetAll}, now)
	ok := q.push(NewEnvelope("high", nil, WithPriority(PriorityHigh)), target{kind: targetAll}, now)
	require.True(t, ok)

	batch, _ := q.drainBatch(now)
	require.Len(t, batch, 2)
	assert.Equal(t, "high", batch[0].env.Type)
	assert.Equal(t, "low-new", batch[1].env.Type, "the oldest low-priority entry was evicted")
}

func TestPushRejectsIncomingWhenItIsTheLowestPriority(t *testing.T) {
	q := newPendingQueue(1, time.Minute)
	now := time.Now()

	q.push(NewEnvelope("high", nil, WithPriority(PriorityHigh)), target{kind: targetAll}, now)
	ok := q.push(NewEnvelope("low", nil, WithPriority(PriorityLow)), target{kind: targetAll}, now)

	assert.False(t, ok)
	batch, _ := q.drainBatch(now)
	require.Len(t, batch, 1)
	assert.Equal(t, "high", batch[0].env.Type)
}

func TestDrainBatchExpiresStaleEntries(t *testing.T) {
	q := newPendingQueue(10, time.Second)
	stale := time.Now().Add(-2 * time.Second)

	q.push(NewEnvelope("stale", nil), target{kind: targetAll}, stale)
	q.push(NewEnvelope("fresh", nil), target{kind: targetAll}, time.Now())

	batch, expired := q.drainBatch(time.Now())
	assert.Equal(t, 1, expired)
	require.Len(t, batch, 1)
	assert.Equal(t, "fresh", batch[0].env.Type)
}

func TestRequeueKeepsOriginalEnqueueTime(t *testing.T) {
	q := newPendingQueue(10, time.Second)
	old := time.Now().Add(-900 * time.Millisecond)

	q.push(NewEnvelope("aging", nil), target{kind: targetAll}, old)
	batch, _ := q.drainBatch(time.Now())
	require.Len(t, batch, 1)

	q.requeue(batch[0])
	// Another 200ms and the entry crosses the age cutoff.
	batch, expired := q.drainBatch(time.Now().Add(200 * time.Millisecond))
	assert.Empty(t, batch)
	assert.Equal(t, 1, expired)
}
