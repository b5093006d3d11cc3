// Package managers contains the event-facing layer: each manager
// translates host browser events into state operations and broker
// broadcasts. Managers never touch the store directly; the state
// manager owns persistence.
package managers

import "encoding/json"

// Message types broadcast to endpoints after state changes.
const (
	MsgTabHistoryUpdated  = "tabHistoryUpdated"
	MsgHarpoonUpdated     = "harpoonUpdated"
	MsgWindowStateUpdated = "windowStateUpdated"
	MsgScreenshotCapture  = "screenshotCapture"
	MsgSafeModeEntered    = "safeModeEntered"
	MsgModeChanged        = "modeChanged"
)

func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
