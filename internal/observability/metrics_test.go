package observability

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder

	// None of these may panic on a nil recorder.
	pr.ObserveDeliveryDuration("tabsUpdated", time.Millisecond)
	pr.IncDeliveryResult("tabsUpdated", true)
	pr.IncDeliveryRetry("tabsUpdated")
	pr.IncRetriesExhausted("tabsUpdated")
	pr.SetQueueDepth(3)
	pr.SetEndpointCount(2)
	pr.IncStateOperation("harpoon", "add", true)
	pr.IncHealthCheck("healthy")
	pr.IncRecoveryAttempt(false)
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncDeliveryResult("harpoonChanged", true)
	pr.IncDeliveryResult("harpoonChanged", true)
	pr.IncDeliveryResult("harpoonChanged", false)
	pr.IncDeliveryRetry("harpoonChanged")
	pr.SetQueueDepth(7)

	success := testutil.ToFloat64(pr.deliveryResults.WithLabelValues("harpoonChanged", "success"))
	failed := testutil.ToFloat64(pr.deliveryResults.WithLabelValues("harpoonChanged", "failed"))
	assert.Equal(t, 2.0, success)
	assert.Equal(t, 1.0, failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.deliveryRetries.WithLabelValues("harpoonChanged")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pr.queueDepth))
}

func TestPrometheusRecorderRegistersWithDefaultRegistry(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	require.NotNil(t, pr)
	pr.IncHealthCheck("degraded")
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.healthChecks.WithLabelValues("degraded")))
}
