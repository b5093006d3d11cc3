package managers

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/state"
	"github.com/dough654/Telescope.Browser/internal/storage"
)

// capture records envelopes reaching one endpoint.
type capture struct {
	mu   sync.Mutex
	envs []broker.Envelope
}

func (c *capture) handle(env broker.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
	return nil
}

func (c *capture) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.envs))
	for i, env := range c.envs {
		out[i] = env.Type
	}
	return out
}

func newFixture(t *testing.T) (*state.Manager, *broker.Broker, *broker.MemTransport) {
	t.Helper()
	registry := storage.NewSchemaRegistry()
	require.NoError(t, state.RegisterSchemas(registry))
	mgr := state.NewManager(storage.NewMockStore(registry))
	require.NoError(t, mgr.Initialize(context.Background()))

	transport := broker.NewMemTransport()
	b := broker.NewBroker(transport)
	return mgr, b, transport
}

func TestTabActivatedUpdatesHistoryAndBroadcasts(t *testing.T) {
	mgr, b, transport := newFixture(t)
	ep := &capture{}
	transport.RegisterEndpoint("ep-1", 1, 1, ep.handle)
	transport.MarkEligible("ep-1", true)

	tabs := NewTabManager(mgr, b)
	tab := state.Tab{ID: 1, URL: "https://example.com", WindowID: 1}
	require.NoError(t, tabs.HandleTabActivated(context.Background(), tab))

	require.Len(t, mgr.TabHistory(), 1)
	assert.Equal(t, []string{MsgTabHistoryUpdated}, ep.types())
}

func TestTabRemovedAlsoDropsHarpoonEntry(t *testing.T) {
	mgr, b, _ := newFixture(t)
	ctx := context.Background()
	tab := state.Tab{ID: 1, URL: "https://example.com", WindowID: 1}
	require.NoError(t, mgr.UpdateTabHistory(ctx, state.Operation{Kind: state.OpAdd, Tab: &tab}))
	require.NoError(t, mgr.UpdateHarpoonTabs(ctx, state.Operation{Kind: state.OpAdd, WindowID: 1, Tab: &tab}))

	tabs := NewTabManager(mgr, b)
	require.NoError(t, tabs.HandleTabRemoved(ctx, 1, 1))

	assert.Empty(t, mgr.TabHistory())
	assert.Empty(t, mgr.HarpoonTabsForWindow(1))
}

func TestWindowFocusChangeIsExclusive(t *testing.T) {
	mgr, b, _ := newFixture(t)
	ctx := context.Background()
	windows := NewWindowManager(mgr, b)
	require.NoError(t, windows.HandleWindowCreated(ctx, 1))
	require.NoError(t, windows.HandleWindowCreated(ctx, 2))

	require.NoError(t, windows.HandleWindowFocusChanged(ctx, 1))
	states := mgr.WindowStates()
	assert.True(t, states[1].Focused)
	assert.False(t, states[2].Focused)

	require.NoError(t, windows.HandleWindowFocusChanged(ctx, 2))
	states = mgr.WindowStates()
	assert.False(t, states[1].Focused)
	assert.True(t, states[2].Focused)
}

func TestWindowRemovedClearsPartitionAndRecord(t *testing.T) {
	mgr, b, _ := newFixture(t)
	ctx := context.Background()
	windows := NewWindowManager(mgr, b)
	require.NoError(t, windows.HandleWindowCreated(ctx, 1))

	tab := state.Tab{ID: 1, URL: "https://example.com", WindowID: 1}
	require.NoError(t, mgr.UpdateHarpoonTabs(ctx, state.Operation{Kind: state.OpAdd, WindowID: 1, Tab: &tab}))

	require.NoError(t, windows.HandleWindowRemoved(ctx, 1))
	assert.Empty(t, mgr.WindowStates())
	assert.Empty(t, mgr.HarpoonTabsForWindow(1))
}

func TestHarpoonPinBroadcastsToOwnWindowOnly(t *testing.T) {
	mgr, b, transport := newFixture(t)
	sameWindow := &capture{}
	otherWindow := &capture{}
	transport.RegisterEndpoint("ep-1", 1, 1, sameWindow.handle)
	transport.RegisterEndpoint("ep-2", 2, 2, otherWindow.handle)
	transport.MarkEligible("ep-1", true)
	transport.MarkEligible("ep-2", true)

	harpoon := NewHarpoonManager(mgr, b)
	tab := state.Tab{ID: 1, URL: "https://example.com", WindowID: 1}
	require.NoError(t, harpoon.Pin(context.Background(), tab))

	assert.Equal(t, []string{MsgHarpoonUpdated}, sameWindow.types())
	assert.Empty(t, otherWindow.types(), "harpoon changes stay inside their window")
}

func TestHarpoonLifecycle(t *testing.T) {
	mgr, b, _ := newFixture(t)
	ctx := context.Background()
	harpoon := NewHarpoonManager(mgr, b)

	first := state.Tab{ID: 1, URL: "https://example.com", WindowID: 1}
	second := state.Tab{ID: 2, URL: "https://example.org", WindowID: 1}
	require.NoError(t, harpoon.Pin(ctx, first))
	require.NoError(t, harpoon.Pin(ctx, second))
	require.Len(t, mgr.HarpoonTabsForWindow(1), 2)

	require.NoError(t, harpoon.Reorder(ctx, 1, []state.Tab{second, first}))
	assert.Equal(t, 2, mgr.HarpoonTabsForWindow(1)[0].ID)

	require.NoError(t, harpoon.Unpin(ctx, 1, 2))
	require.Len(t, mgr.HarpoonTabsForWindow(1), 1)

	require.NoError(t, harpoon.Clear(ctx, 1))
	assert.Empty(t, mgr.HarpoonTabsForWindow(1))
}

func TestHarpoonTogglePinsThenUnpins(t *testing.T) {
	mgr, b, _ := newFixture(t)
	ctx := context.Background()
	harpoon := NewHarpoonManager(mgr, b)

	tab := state.Tab{ID: 1, URL: "https://example.com", WindowID: 1}
	require.NoError(t, harpoon.Toggle(ctx, tab))
	require.Len(t, mgr.HarpoonTabsForWindow(1), 1)

	require.NoError(t, harpoon.Toggle(ctx, tab))
	assert.Empty(t, mgr.HarpoonTabsForWindow(1))
}

func TestHarpoonRejectsCrossWindowPin(t *testing.T) {
	mgr, b, _ := newFixture(t)
	harpoon := NewHarpoonManager(mgr, b)

	tab := state.Tab{ID: 1, URL: "https://example.com", WindowID: 2}
	err := harpoon.Reorder(context.Background(), 1, []state.Tab{tab})
	require.Error(t, err)
	assert.Empty(t, mgr.HarpoonTabsForWindow(1))
}
