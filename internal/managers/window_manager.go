package managers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/observability"
	"github.com/dough654/Telescope.Browser/internal/state"
)

// WindowManager tracks the ephemeral per-window records and cleans up
// per-window state when a window goes away.
type WindowManager struct {
	state  *state.Manager
	broker *broker.Broker
}

// NewWindowManager wires a window manager.
func NewWindowManager(stateMgr *state.Manager, b *broker.Broker) *WindowManager {
	return &WindowManager{state: stateMgr, broker: b}
}

// HandleWindowCreated records a fresh window.
func (m *WindowManager) HandleWindowCreated(ctx context.Context, windowID int) error {
	ws := state.WindowState{WindowID: windowID, LastActivity: time.Now()}
	if err := m.state.UpdateWindowState(state.WindowOperation{
		Kind: state.OpAdd, WindowID: windowID, State: &ws,
	}); err != nil {
		return err
	}
	m.broadcastWindows(ctx, windowID)
	return nil
}

// HandleWindowFocusChanged updates focus across all tracked windows;
// at most one window is focused at a time.
func (m *WindowManager) HandleWindowFocusChanged(ctx context.Context, focusedWindowID int) error {
	for id, ws := range m.state.WindowStates() {
		focused := id == focusedWindowID
		if ws.Focused == focused {
			continue
		}
		ws.Focused = focused
		if focused {
			ws.LastActivity = time.Now()
		}
		if err := m.state.UpdateWindowState(state.WindowOperation{
			Kind: state.OpUpdate, WindowID: id, State: &ws,
		}); err != nil {
			return err
		}
	}
	m.broadcastWindows(ctx, focusedWindowID)
	return nil
}

// HandleActiveTabChanged records which tab is active in a window.
func (m *WindowManager) HandleActiveTabChanged(ctx context.Context, windowID, tabID int) error {
	ws, ok := m.state.WindowStates()[windowID]
	if !ok {
		ws = state.WindowState{WindowID: windowID}
	}
	ws.ActiveTabID = tabID
	ws.LastActivity = time.Now()
	kind := state.OpUpdate
	if !ok {
		kind = state.OpAdd
	}
	return m.state.UpdateWindowState(state.WindowOperation{
		Kind: kind, WindowID: windowID, State: &ws,
	})
}

// HandleWindowRemoved drops the window record and its harpoon
// partition. History entries for the window's tabs are removed by the
// tab-removed events the host sends alongside.
func (m *WindowManager) HandleWindowRemoved(ctx context.Context, windowID int) error {
	ctx = observability.WithComponent(observability.WithWindowID(ctx, windowID), "windows")
	observability.InfoContext(ctx, "Window removed, clearing its state")
	if err := m.state.UpdateWindowState(state.WindowOperation{
		Kind: state.OpRemove, WindowID: windowID,
	}); err != nil {
		return err
	}
	err := m.state.UpdateHarpoonTabs(ctx, state.Operation{Kind: state.OpClear, WindowID: windowID})
	if err != nil {
		slog.Warn("Failed to clear harpoon partition for closed window",
			"window_id", windowID, "error", err)
	}
	return nil
}

func (m *WindowManager) broadcastWindows(ctx context.Context, windowID int) {
	env := broker.NewEnvelope(MsgWindowStateUpdated, marshalPayload(m.state.WindowStates()))
	m.broker.BroadcastToWindow(ctx, windowID, env)
}
