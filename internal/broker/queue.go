package broker

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// targetKind scopes a send to one tab, one window, or every endpoint.
type targetKind string

const (
	targetTab    targetKind = "tab"
	targetWindow targetKind = "window"
	targetAll    targetKind = "all"
)

type target struct {
	kind     targetKind
	tabID    int
	windowID int
}

// queuedMessage parks an envelope whose target had no eligible endpoint
// at send time.
type queuedMessage struct {
	env      Envelope
	tgt      target
	enqueued time.Time
	seq      uint64
}

// pendingQueue is the bounded park for undeliverable envelopes. Drains
// run in priority order, FIFO within a priority class. When full, the
// oldest entry of the lowest present priority is dropped to admit the
// new one.
type pendingQueue struct {
	mu       sync.Mutex
	items    []queuedMessage
	capacity int
	maxAge   time.Duration
	seq      uint64
}

func newPendingQueue(capacity int, maxAge time.Duration) *pendingQueue {
	if capacity <= 0 {
		capacity = 256
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &pendingQueue{capacity: capacity, maxAge: maxAge}
}

// push parks msg, evicting if the queue is full. Returns false when the
// new message itself was the lowest priority and the queue was full.
func (q *pendingQueue) push(env Envelope, tgt target, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	msg := queuedMessage{env: env, tgt: tgt, enqueued: now, seq: q.seq}
	if len(q.items) >= q.capacity {
		victim := q.lowestPriorityOldestLocked()
		if q.items[victim].env.Priority.rank() < env.Priority.rank() {
			// The incoming message loses to everything already queued.
			slog.Warn("Queue full, dropping incoming envelope",
				"envelope_id", env.ID, "type", env.Type, "priority", env.Priority)
			return false
		}
		dropped := q.items[victim]
		q.items = append(q.items[:victim], q.items[victim+1:]...)
		slog.Warn("Queue full, evicting parked envelope",
			"envelope_id", dropped.env.ID, "type", dropped.env.Type, "priority", dropped.env.Priority)
	}
	q.items = append(q.items, msg)
	return true
}

// drainBatch removes and returns every non-expired entry in delivery
// order. Expired entries are dropped and counted.
func (q *pendingQueue) drainBatch(now time.Time) (batch []queuedMessage, expired int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-q.maxAge)
	for _, msg := range q.items {
		if msg.enqueued.Before(cutoff) {
			expired++
			continue
		}
		batch = append(batch, msg)
	}
	q.items = nil

	sort.SliceStable(batch, func(i, j int) bool {
		ri, rj := batch[i].env.Priority.rank(), batch[j].env.Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return batch[i].seq < batch[j].seq
	})
	return batch, expired
}

// requeue puts a still-undeliverable batch entry back, keeping its
// original enqueue time so the age cutoff still applies.
func (q *pendingQueue) requeue(msg queuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		slog.Warn("Queue full during requeue, dropping envelope",
			"envelope_id", msg.env.ID, "type", msg.env.Type)
		return
	}
	q.items = append(q.items, msg)
}

func (q *pendingQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *pendingQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// lowestPriorityOldestLocked finds the eviction victim: worst priority,
// earliest sequence among it.
func (q *pendingQueue) lowestPriorityOldestLocked() int {
	victim := 0
	for i, msg := range q.items {
		v, c := q.items[victim], msg
		if c.env.Priority.rank() > v.env.Priority.rank() ||
			(c.env.Priority.rank() == v.env.Priority.rank() && c.seq < v.seq) {
			victim = i
		}
	}
	return victim
}
