package managers

import (
	"context"
	"log/slog"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/observability"
	"github.com/dough654/Telescope.Browser/internal/state"
)

// TabManager keeps the global tab history in step with host tab events
// and tells every endpoint when the history changes.
type TabManager struct {
	state  *state.Manager
	broker *broker.Broker
}

// NewTabManager wires a tab manager to the state manager and broker.
func NewTabManager(stateMgr *state.Manager, b *broker.Broker) *TabManager {
	return &TabManager{state: stateMgr, broker: b}
}

// HandleTabActivated moves the tab to the head of the history.
func (m *TabManager) HandleTabActivated(ctx context.Context, tab state.Tab) error {
	ctx = observability.WithComponent(observability.WithWindowID(ctx, tab.WindowID), "tabs")
	if err := m.state.UpdateTabHistory(ctx, state.Operation{Kind: state.OpAdd, Tab: &tab}); err != nil {
		return err
	}
	observability.DebugContext(ctx, "Tab activated", slog.Int("tab_id", tab.ID))
	m.broadcastHistory(ctx)
	return nil
}

// HandleTabUpdated refreshes the tab's metadata in place. A tab that is
// not in the history yet is ignored rather than inserted; activation is
// what admits a tab.
func (m *TabManager) HandleTabUpdated(ctx context.Context, tab state.Tab) error {
	if err := m.state.UpdateTabHistory(ctx, state.Operation{Kind: state.OpUpdate, Tab: &tab}); err != nil {
		return err
	}
	m.broadcastHistory(ctx)
	return nil
}

// HandleTabRemoved drops the tab from the history and from its
// window's harpoon partition.
func (m *TabManager) HandleTabRemoved(ctx context.Context, tabID, windowID int) error {
	if err := m.state.UpdateTabHistory(ctx, state.Operation{Kind: state.OpRemove, TabID: tabID}); err != nil {
		return err
	}
	if windowID > 0 {
		err := m.state.UpdateHarpoonTabs(ctx, state.Operation{
			Kind:     state.OpRemove,
			WindowID: windowID,
			TabID:    tabID,
		})
		if err != nil {
			slog.Warn("Failed to drop closed tab from harpoon partition",
				"tab_id", tabID, "window_id", windowID, "error", err)
		}
	}
	m.broadcastHistory(ctx)
	return nil
}

func (m *TabManager) broadcastHistory(ctx context.Context) {
	env := broker.NewEnvelope(MsgTabHistoryUpdated, marshalPayload(m.state.TabHistory()))
	m.broker.BroadcastToAll(ctx, env)
}
