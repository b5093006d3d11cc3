package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dough654/Telescope.Browser/internal/errors"
	"github.com/dough654/Telescope.Browser/internal/observability"
)

func errQueueFull(env Envelope) error {
	return errors.New(errors.CategoryDelivery, errors.SeverityWarning, "pending queue is full").
		WithContext("envelope_id", env.ID)
}

// Broker routes envelopes to per-tab endpoints over a pluggable
// transport. Sends that find no eligible endpoint park in the pending
// queue, which a background loop drains on a fixed interval.
type Broker struct {
	transport Transport
	queue     *pendingQueue
	deliverer *deliverer
	clock     clockwork.Clock
	metrics   observability.Recorder

	drainInterval time.Duration

	txMu            sync.Mutex
	transactions    map[string]*Transaction
	maxTransactions int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// BrokerOption configures a Broker.
type BrokerOption func(*brokerConfig)

type brokerConfig struct {
	clock           clockwork.Clock
	metrics         observability.Recorder
	policy          RetryPolicy
	queueCapacity   int
	queueMaxAge     time.Duration
	drainInterval   time.Duration
	maxTransactions int
	maxRetryTimers  int
}

// WithClock injects a clock; tests use clockwork.NewFakeClock.
func WithClock(clock clockwork.Clock) BrokerOption {
	return func(c *brokerConfig) { c.clock = clock }
}

// WithBrokerMetrics attaches a metrics recorder.
func WithBrokerMetrics(rec observability.Recorder) BrokerOption {
	return func(c *brokerConfig) { c.metrics = rec }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) BrokerOption {
	return func(c *brokerConfig) { c.policy = policy }
}

// WithQueueCapacity bounds the pending queue.
func WithQueueCapacity(n int) BrokerOption {
	return func(c *brokerConfig) { c.queueCapacity = n }
}

// WithDrainInterval sets how often the pending queue is drained.
func WithDrainInterval(d time.Duration) BrokerOption {
	return func(c *brokerConfig) { c.drainInterval = d }
}

// WithMaxTransactions caps the open-transaction table.
func WithMaxTransactions(n int) BrokerOption {
	return func(c *brokerConfig) { c.maxTransactions = n }
}

// WithMaxRetryTimers caps concurrent backoff timers.
func WithMaxRetryTimers(n int) BrokerOption {
	return func(c *brokerConfig) { c.maxRetryTimers = n }
}

// NewBroker builds a broker over transport. Call Start to run the
// drain loop and Close to shut down.
func NewBroker(transport Transport, opts ...BrokerOption) *Broker {
	cfg := brokerConfig{
		clock: clockwork.NewRealClock(),
		policy: RetryPolicy{
			MaxRetries:     3,
			BackoffBase:    100 * time.Millisecond,
			AttemptTimeout: 5 * time.Second,
		},
		queueCapacity:   256,
		drainInterval:   100 * time.Millisecond,
		maxTransactions: 64,
		maxRetryTimers:  256,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Broker{
		transport:       transport,
		queue:           newPendingQueue(cfg.queueCapacity, cfg.queueMaxAge),
		deliverer:       newDeliverer(transport, cfg.policy, cfg.clock, cfg.metrics, cfg.maxRetryTimers),
		clock:           cfg.clock,
		metrics:         cfg.metrics,
		drainInterval:   cfg.drainInterval,
		transactions:    make(map[string]*Transaction),
		maxTransactions: cfg.maxTransactions,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start launches the drain loop. Calling Start more than once is a
// no-op.
func (b *Broker) Start() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.drainLoop()
}

// Close stops the drain loop and closes the transport. Closing a
// broker that was never started returns immediately.
func (b *Broker) Close() error {
	b.stopOnce.Do(func() {
		close(b.stop)
		if b.started.Load() {
			<-b.done
		}
	})
	return b.transport.Close()
}

// SendToTab delivers env to the endpoint of one tab. When the tab has
// no eligible endpoint the envelope parks in the pending queue and the
// result reports Queued.
func (b *Broker) SendToTab(ctx context.Context, tabID int, env Envelope) DeliveryResult {
	results := b.dispatch(ctx, env, target{kind: targetTab, tabID: tabID})
	// A tab maps to at most one endpoint.
	return results[0]
}

// BroadcastToAll delivers env to every eligible endpoint in parallel.
func (b *Broker) BroadcastToAll(ctx context.Context, env Envelope) []DeliveryResult {
	return b.dispatch(ctx, env, target{kind: targetAll})
}

// BroadcastToWindow delivers env to each of one window's eligible
// endpoints sequentially, preserving tab order within the window.
func (b *Broker) BroadcastToWindow(ctx context.Context, windowID int, env Envelope) []DeliveryResult {
	return b.dispatch(ctx, env, target{kind: targetWindow, windowID: windowID})
}

// Enqueue parks env for a tab without attempting delivery. The drain
// loop sends it once the tab's endpoint becomes eligible. The return
// value reports whether the queue accepted the envelope.
func (b *Broker) Enqueue(env Envelope, tabID int) bool {
	queued := b.queue.push(env, target{kind: targetTab, tabID: tabID}, b.clock.Now())
	if !queued {
		slog.Warn("Pending queue rejected envelope", "type", env.Type, "tab_id", tabID)
	}
	if b.metrics != nil {
		b.metrics.SetQueueDepth(b.queue.size())
	}
	return queued
}

// QueueSize reports how many envelopes are parked.
func (b *Broker) QueueSize() int {
	return b.queue.size()
}

// ClearQueue drops every parked envelope and returns how many there were.
func (b *Broker) ClearQueue() int {
	n := b.queue.clear()
	if n > 0 {
		slog.Info("Pending queue cleared", "dropped", n)
	}
	if b.metrics != nil {
		b.metrics.SetQueueDepth(0)
	}
	return n
}

// Endpoints exposes the transport's current endpoint view.
func (b *Broker) Endpoints(ctx context.Context) ([]EndpointInfo, error) {
	return b.transport.Endpoints(ctx)
}

// dispatch resolves tgt to endpoints and delivers. No eligible
// endpoint parks the envelope instead of failing.
func (b *Broker) dispatch(ctx context.Context, env Envelope, tgt target) []DeliveryResult {
	eligible := b.resolve(ctx, tgt)
	if len(eligible) == 0 {
		queued := b.queue.push(env, tgt, b.clock.Now())
		if b.metrics != nil {
			b.metrics.SetQueueDepth(b.queue.size())
		}
		result := DeliveryResult{Queued: queued}
		if !queued {
			result.Err = errQueueFull(env)
		}
		return []DeliveryResult{result}
	}

	switch tgt.kind {
	case targetAll:
		return b.deliverParallel(ctx, eligible, env)
	default:
		return b.deliverSequential(ctx, eligible, env)
	}
}

// resolve lists the eligible endpoints matching tgt. Ineligible
// endpoints are skipped without error.
func (b *Broker) resolve(ctx context.Context, tgt target) []EndpointInfo {
	endpoints, err := b.transport.Endpoints(ctx)
	if err != nil {
		slog.Warn("Endpoint discovery failed", "error", err)
		return nil
	}
	if b.metrics != nil {
		b.metrics.SetEndpointCount(len(endpoints))
	}

	var eligible []EndpointInfo
	for _, ep := range endpoints {
		if !ep.Eligible {
			continue
		}
		switch tgt.kind {
		case targetTab:
			if ep.TabID == tgt.tabID {
				eligible = append(eligible, ep)
			}
		case targetWindow:
			if ep.WindowID == tgt.windowID {
				eligible = append(eligible, ep)
			}
		case targetAll:
			eligible = append(eligible, ep)
		}
	}
	return eligible
}

func (b *Broker) deliverSequential(ctx context.Context, endpoints []EndpointInfo, env Envelope) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(endpoints))
	for _, ep := range endpoints {
		results = append(results, b.deliverer.deliver(ctx, ep, env))
	}
	return results
}

func (b *Broker) deliverParallel(ctx context.Context, endpoints []EndpointInfo, env Envelope) []DeliveryResult {
	results := make([]DeliveryResult, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep EndpointInfo) {
			defer wg.Done()
			results[i] = b.deliverer.deliver(ctx, ep, env)
		}(i, ep)
	}
	wg.Wait()
	return results
}

func (b *Broker) drainLoop() {
	defer close(b.done)
	ticker := b.clock.NewTicker(b.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.Chan():
			b.drainOnce(context.Background())
		}
	}
}

// drainOnce reattempts every parked envelope whose target now has an
// eligible endpoint; the rest go back in the queue.
func (b *Broker) drainOnce(ctx context.Context) {
	batch, expired := b.queue.drainBatch(b.clock.Now())
	if expired > 0 {
		slog.Warn("Dropped expired envelopes from pending queue", "count", expired)
	}
	for _, msg := range batch {
		eligible := b.resolve(ctx, msg.tgt)
		if len(eligible) == 0 {
			b.queue.requeue(msg)
			continue
		}
		switch msg.tgt.kind {
		case targetAll:
			b.deliverParallel(ctx, eligible, msg.env)
		default:
			b.deliverSequential(ctx, eligible, msg.env)
		}
	}
	if b.metrics != nil {
		b.metrics.SetQueueDepth(b.queue.size())
	}
}
