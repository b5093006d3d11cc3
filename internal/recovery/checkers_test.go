package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/managers"
	"github.com/dough654/Telescope.Browser/internal/state"
	"github.com/dough654/Telescope.Browser/internal/storage"
)

func TestStateCheckerReportsUninitializedManagerAsCritical(t *testing.T) {
	registry := storage.NewSchemaRegistry()
	require.NoError(t, state.RegisterSchemas(registry))
	mgr := state.NewManager(storage.NewMockStore(registry))

	verdict := StateChecker(mgr).Check(context.Background())
	assert.Equal(t, StatusCritical, verdict.Status)

	require.NoError(t, mgr.Initialize(context.Background()))
	verdict = StateChecker(mgr).Check(context.Background())
	assert.Equal(t, StatusHealthy, verdict.Status)
}

func TestBrokerCheckerDegradesOnDeepQueue(t *testing.T) {
	b := broker.NewBroker(broker.NewMemTransport(), broker.WithQueueCapacity(4))
	checker := BrokerChecker(b, 4)

	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	// No endpoints registered: every send parks in the queue.
	for range 3 {
		b.SendToTab(context.Background(), 1, broker.NewEnvelope("x", nil))
	}
	assert.Equal(t, StatusDegraded, checker.Check(context.Background()).Status)

	b.SendToTab(context.Background(), 1, broker.NewEnvelope("x", nil))
	assert.Equal(t, StatusCritical, checker.Check(context.Background()).Status)
}

func TestStoreCheckerPassesThroughAdapterHealth(t *testing.T) {
	store := storage.NewMockStore(nil)
	verdict := StoreChecker(store).Check(context.Background())
	assert.Equal(t, StatusHealthy, verdict.Status)
}

func TestDispatcherCheckerDegradesOnBacklog(t *testing.T) {
	registry := storage.NewSchemaRegistry()
	require.NoError(t, state.RegisterSchemas(registry))
	mgr := state.NewManager(storage.NewMockStore(registry))
	require.NoError(t, mgr.Initialize(context.Background()))
	b := broker.NewBroker(broker.NewMemTransport())

	d := managers.NewDispatcher(
		managers.NewTabManager(mgr, b),
		managers.NewWindowManager(mgr, b),
		managers.NewScreenshotManager(mgr, b),
	)
	checker := DispatcherChecker(d)
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	// The dispatcher is not running, so events pile up in the channel.
	_, capacity := d.Backlog()
	for range capacity/2 + 1 {
		d.Events() <- managers.HostEvent{Kind: managers.EventWindowCreated, WindowID: 1}
	}
	assert.Equal(t, StatusDegraded, checker.Check(context.Background()).Status)
}
