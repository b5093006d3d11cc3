package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dough654/Telescope.Browser/internal/errors"
	"github.com/dough654/Telescope.Browser/internal/observability"
)

// RetryPolicy governs delivery attempts. Backoff doubles per retry
// starting from BackoffBase.
type RetryPolicy struct {
	MaxRetries     int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
}

// backoff returns the wait before the given retry (1-based).
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
	}
	return d
}

// deliverer runs the attempt/backoff loop for a single envelope. The
// retryTimers semaphore caps how many deliveries may be sleeping in
// backoff at once; saturating the cap clears every pending backoff,
// failing those deliveries rather than piling up unbounded timers.
type deliverer struct {
	transport   Transport
	policy      RetryPolicy
	clock       clockwork.Clock
	metrics     observability.Recorder
	retryTimers chan struct{}

	clearMu sync.Mutex
	clearCh chan struct{}
}

func newDeliverer(transport Transport, policy RetryPolicy, clock clockwork.Clock, metrics observability.Recorder, maxRetryTimers int) *deliverer {
	if maxRetryTimers <= 0 {
		maxRetryTimers = 256
	}
	return &deliverer{
		transport:   transport,
		policy:      policy,
		clock:       clock,
		metrics:     metrics,
		retryTimers: make(chan struct{}, maxRetryTimers),
		clearCh:     make(chan struct{}),
	}
}

// deliver attempts env against endpoint until it succeeds, the retry
// budget is exhausted, or ctx is cancelled. It never panics and never
// returns a bare error; the outcome is always a DeliveryResult.
func (d *deliverer) deliver(ctx context.Context, endpoint EndpointInfo, env Envelope) DeliveryResult {
	result := DeliveryResult{EndpointID: endpoint.ID}
	maxRetries := env.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.policy.MaxRetries
	}
	timeout := env.Timeout
	if timeout <= 0 {
		timeout = d.policy.AttemptTimeout
	}

	start := d.clock.Now()
	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1
		err := d.attempt(ctx, endpoint, env, timeout)
		if err == nil {
			result.Delivered = true
			d.observe(env.Type, true, start)
			return result
		}

		retryable := errors.IsRetryable(err) && ctx.Err() == nil
		if !retryable || attempt >= maxRetries {
			if attempt >= maxRetries && retryable && d.metrics != nil {
				d.metrics.IncRetriesExhausted(env.Type)
			}
			result.Err = err
			d.observe(env.Type, false, start)
			slog.Warn("Delivery failed",
				"endpoint_id", endpoint.ID,
				"envelope_id", env.ID,
				"type", env.Type,
				"attempts", result.Attempts,
				"error", err)
			return result
		}

		if !d.waitBackoff(ctx, attempt+1) {
			result.Err = errors.DeliveryError(ctx.Err(), "delivery cancelled during backoff").
				WithContext("envelope_id", env.ID)
			d.observe(env.Type, false, start)
			return result
		}
		if d.metrics != nil {
			d.metrics.IncDeliveryRetry(env.Type)
		}
	}
}

func (d *deliverer) attempt(ctx context.Context, endpoint EndpointInfo, env Envelope, timeout time.Duration) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.transport.Deliver(attemptCtx, endpoint, env)
}

// waitBackoff sleeps the exponential backoff for the given retry,
// holding one retry-timer slot. Returns false if ctx expired, the
// pending retries were cleared, or no slot was available. Saturating
// the slot table aborts every sleeping backoff as well; shedding the
// whole retry load beats growing it without bound.
func (d *deliverer) waitBackoff(ctx context.Context, retry int) bool {
	select {
	case d.retryTimers <- struct{}{}:
	default:
		d.clearPendingRetries()
		return false
	}
	defer func() { <-d.retryTimers }()

	d.clearMu.Lock()
	cleared := d.clearCh
	d.clearMu.Unlock()

	select {
	case <-d.clock.After(d.policy.backoff(retry)):
		return true
	case <-cleared:
		return false
	case <-ctx.Done():
		return false
	}
}

// clearPendingRetries wakes every delivery sleeping in backoff so it
// fails immediately.
func (d *deliverer) clearPendingRetries() {
	d.clearMu.Lock()
	close(d.clearCh)
	d.clearCh = make(chan struct{})
	d.clearMu.Unlock()
	slog.Warn("Retry timer capacity exhausted, clearing all pending retries")
}

func (d *deliverer) observe(msgType string, success bool, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.IncDeliveryResult(msgType, success)
	d.metrics.ObserveDeliveryDuration(msgType, d.clock.Since(start))
}
