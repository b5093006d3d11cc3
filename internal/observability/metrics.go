package observability

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics surface used by the core subsystems. A nil
// *PrometheusRecorder is safe to call, so wiring metrics stays optional.
type Recorder interface {
	ObserveDeliveryDuration(msgType string, d time.Duration)
	IncDeliveryResult(msgType string, success bool)
	IncDeliveryRetry(msgType string)
	IncRetriesExhausted(msgType string)
	SetQueueDepth(n int)
	SetEndpointCount(n int)
	IncStateOperation(slice, op string, success bool)
	IncHealthCheck(status string)
	IncRecoveryAttempt(success bool)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	deliveryDuration  *prom.HistogramVec
	deliveryResults   *prom.CounterVec
	deliveryRetries   *prom.CounterVec
	retriesExhausted  *prom.CounterVec
	queueDepth        prom.Gauge
	endpointCount     prom.Gauge
	stateOperations   *prom.CounterVec
	healthChecks      *prom.CounterVec
	recoveryAttempts  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.deliveryDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "telescope",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of individual endpoint deliveries",
			Buckets:   prom.DefBuckets,
		}, []string{"type"})
		pr.deliveryResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "telescope",
			Name:      "delivery_results_total",
			Help:      "Delivery outcomes by message type and result",
		}, []string{"type", "result"})
		pr.deliveryRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "telescope",
			Name:      "delivery_retries_total",
			Help:      "Total delivery retries (transient failures)",
		}, []string{"type"})
		pr.retriesExhausted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "telescope",
			Name:      "delivery_retry_exhausted_total",
			Help:      "Count of sends where retries were exhausted",
		}, []string{"type"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "telescope",
			Name:      "broker_queue_depth",
			Help:      "Current depth of the fire-and-forget message queue",
		})
		pr.endpointCount = prom.NewGauge(prom.GaugeOpts{
			Namespace: "telescope",
			Name:      "endpoints",
			Help:      "Currently known endpoints",
		})
		pr.stateOperations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "telescope",
			Name:      "state_operations_total",
			Help:      "State operations by slice, kind and result",
		}, []string{"slice", "op", "result"})
		pr.healthChecks = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "telescope",
			Name:      "health_checks_total",
			Help:      "Health check runs by resulting status",
		}, []string{"status"})
		pr.recoveryAttempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "telescope",
			Name:      "recovery_attempts_total",
			Help:      "Corruption recovery attempts by outcome",
		}, []string{"result"})
		reg.MustRegister(pr.deliveryDuration, pr.deliveryResults, pr.deliveryRetries,
			pr.retriesExhausted, pr.queueDepth, pr.endpointCount, pr.stateOperations,
			pr.healthChecks, pr.recoveryAttempts)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveDeliveryDuration(msgType string, d time.Duration) {
	if p == nil || p.deliveryDuration == nil {
		return
	}
	p.deliveryDuration.WithLabelValues(msgType).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDeliveryResult(msgType string, success bool) {
	if p == nil || p.deliveryResults == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.deliveryResults.WithLabelValues(msgType, res).Inc()
}

func (p *PrometheusRecorder) IncDeliveryRetry(msgType string) {
	if p == nil || p.deliveryRetries == nil {
		return
	}
	p.deliveryRetries.WithLabelValues(msgType).Inc()
}

func (p *PrometheusRecorder) IncRetriesExhausted(msgType string) {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(msgType).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetEndpointCount(n int) {
	if p == nil || p.endpointCount == nil {
		return
	}
	p.endpointCount.Set(float64(n))
}

func (p *PrometheusRecorder) IncStateOperation(slice, op string, success bool) {
	if p == nil || p.stateOperations == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.stateOperations.WithLabelValues(slice, op, res).Inc()
}

func (p *PrometheusRecorder) IncHealthCheck(status string) {
	if p == nil || p.healthChecks == nil {
		return
	}
	p.healthChecks.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncRecoveryAttempt(success bool) {
	if p == nil || p.recoveryAttempts == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.recoveryAttempts.WithLabelValues(res).Inc()
}
