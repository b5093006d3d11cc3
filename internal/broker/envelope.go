// Package broker routes messages from the coordination layer to
// transient per-tab endpoints. Deliveries retry with exponential
// backoff, undeliverable messages park in a bounded queue, and related
// sends can be grouped into transactions that flush atomically.
package broker

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Priority orders queued envelopes. Within a priority class the queue
// is FIFO.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 1
}

// Envelope is one routed message. The ID is a ULID, so envelope ids
// sort by creation time.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Priority   Priority        `json:"priority"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	Timeout    time.Duration   `json:"timeout"`
}

// EnvelopeOption customizes a new envelope.
type EnvelopeOption func(*Envelope)

// WithPriority sets the queueing priority.
func WithPriority(p Priority) EnvelopeOption {
	return func(e *Envelope) { e.Priority = p }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) EnvelopeOption {
	return func(e *Envelope) { e.MaxRetries = n }
}

// WithTimeout overrides the per-attempt delivery timeout.
func WithTimeout(d time.Duration) EnvelopeOption {
	return func(e *Envelope) { e.Timeout = d }
}

// NewEnvelope builds an envelope with defaults matching the broker
// configuration defaults.
func NewEnvelope(msgType string, payload json.RawMessage, opts ...EnvelopeOption) Envelope {
	e := Envelope{
		ID:         ulid.Make().String(),
		Type:       msgType,
		Payload:    payload,
		Timestamp:  time.Now(),
		Priority:   PriorityMedium,
		MaxRetries: 3,
		Timeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// DeliveryResult reports the outcome of one delivery attempt sequence.
// Broker send operations return results rather than propagating
// delivery errors: a failed delivery is data, not a panic.
type DeliveryResult struct {
	EndpointID string
	Delivered  bool
	Attempts   int
	Queued     bool
	Err        error
}
