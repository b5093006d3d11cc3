package managers

import (
	"context"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/state"
)

// HarpoonManager exposes the pinned-tab operations. Every mutation is
// scoped to one window's partition and is followed by a broadcast to
// that window so its pickers re-render.
type HarpoonManager struct {
	state  *state.Manager
	broker *broker.Broker
}

// NewHarpoonManager wires a harpoon manager.
func NewHarpoonManager(stateMgr *state.Manager, b *broker.Broker) *HarpoonManager {
	return &HarpoonManager{state: stateMgr, broker: b}
}

// Pin adds a tab to its window's partition.
func (m *HarpoonManager) Pin(ctx context.Context, tab state.Tab) error {
	err := m.state.UpdateHarpoonTabs(ctx, state.Operation{
		Kind:     state.OpAdd,
		WindowID: tab.WindowID,
		Tab:      &tab,
	})
	if err != nil {
		return err
	}
	return m.broadcast(ctx, tab.WindowID)
}

// Unpin removes a tab from its window's partition.
func (m *HarpoonManager) Unpin(ctx context.Context, windowID, tabID int) error {
	err := m.state.UpdateHarpoonTabs(ctx, state.Operation{
		Kind:     state.OpRemove,
		WindowID: windowID,
		TabID:    tabID,
	})
	if err != nil {
		return err
	}
	return m.broadcast(ctx, windowID)
}

// Toggle pins the tab when it is absent from its window's partition
// and unpins it when present.
func (m *HarpoonManager) Toggle(ctx context.Context, tab state.Tab) error {
	for _, pinned := range m.state.HarpoonTabsForWindow(tab.WindowID) {
		if pinned.ID == tab.ID {
			return m.Unpin(ctx, tab.WindowID, tab.ID)
		}
	}
	return m.Pin(ctx, tab)
}

// Reorder replaces a window's partition with the given ordering.
func (m *HarpoonManager) Reorder(ctx context.Context, windowID int, tabs []state.Tab) error {
	err := m.state.UpdateHarpoonTabs(ctx, state.Operation{
		Kind:     state.OpReorder,
		WindowID: windowID,
		Tabs:     tabs,
	})
	if err != nil {
		return err
	}
	return m.broadcast(ctx, windowID)
}

// Clear empties a window's partition.
func (m *HarpoonManager) Clear(ctx context.Context, windowID int) error {
	err := m.state.UpdateHarpoonTabs(ctx, state.Operation{
		Kind:     state.OpClear,
		WindowID: windowID,
	})
	if err != nil {
		return err
	}
	return m.broadcast(ctx, windowID)
}

// broadcasts carry the window's partition so pickers need no follow-up
// read.
func (m *HarpoonManager) broadcast(ctx context.Context, windowID int) error {
	env := broker.NewEnvelope(MsgHarpoonUpdated,
		marshalPayload(m.state.HarpoonTabsForWindow(windowID)),
		broker.WithPriority(broker.PriorityHigh))
	m.broker.BroadcastToWindow(ctx, windowID, env)
	return nil
}
