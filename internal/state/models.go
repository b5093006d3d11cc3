package state

import (
	"time"

	"github.com/dough654/Telescope.Browser/internal/storage"
)

// Persisted slice keys. WindowState is ephemeral and rebuilt at each
// process start, so it has no key.
const (
	KeyTabHistory    = "tabHistory"
	KeyHarpoonTabs   = "harpoonTabsByWindow"
	KeySystemHealth  = "systemHealth"
	KeyLegacyHarpoon = "harpoonTabs" // pre-partitioning flat list, migrated once
)

// Tab is one browser tab as tracked by the coordination layer.
// Identity is the host-assigned id, unique per browser session.
type Tab struct {
	ID            int    `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	FavIconURL    string `json:"favIconUrl,omitempty"`
	ScreenshotKey string `json:"screenshotKey,omitempty"`
	WindowID      int    `json:"windowId"`
}

// WindowState is the ephemeral per-window record.
type WindowState struct {
	WindowID     int       `json:"windowId"`
	Focused      bool      `json:"focused"`
	LastActivity time.Time `json:"lastActivity"`
	ActiveTabID  int       `json:"activeTabId"`
}

// SystemHealth is the single global health record, monotonically updated.
type SystemHealth struct {
	Version         string    `json:"version"`
	LastCleanup     time.Time `json:"lastCleanup"`
	ErrorCount      int       `json:"errorCount"`
	LastHealthCheck time.Time `json:"lastHealthCheck"`
}

// HealthPatch is a partial update to SystemHealth; nil fields are kept.
// ErrorCountDelta adjusts the count atomically under the manager's
// lock, so concurrent increments never lose updates; it applies after
// ErrorCount when both are set.
type HealthPatch struct {
	Version         *string
	LastCleanup     *time.Time
	ErrorCount      *int
	ErrorCountDelta *int
	LastHealthCheck *time.Time
}

const tabSchema = `{
	"type": "object",
	"required": ["id", "url", "windowId"],
	"properties": {
		"id": {"type": "integer"},
		"url": {"type": "string"},
		"title": {"type": "string"},
		"favIconUrl": {"type": "string"},
		"screenshotKey": {"type": "string"},
		"windowId": {"type": "integer"}
	}
}`

const tabHistorySchema = `{
	"type": "array",
	"items": ` + tabSchema + `
}`

const harpoonTabsSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "array",
		"items": ` + tabSchema + `
	}
}`

const systemHealthSchema = `{
	"type": "object",
	"required": ["version", "errorCount"],
	"properties": {
		"version": {"type": "string"},
		"lastCleanup": {"type": "string"},
		"errorCount": {"type": "integer", "minimum": 0},
		"lastHealthCheck": {"type": "string"}
	}
}`

// RegisterSchemas registers the persisted slice schemas with the store
// adapter's registry. Must run before the manager persists anything.
func RegisterSchemas(registry *storage.SchemaRegistry) error {
	for key, schema := range map[string]string{
		KeyTabHistory:   tabHistorySchema,
		KeyHarpoonTabs:  harpoonTabsSchema,
		KeySystemHealth: systemHealthSchema,
	} {
		if err := registry.Register(key, []byte(schema)); err != nil {
			return err
		}
	}
	return nil
}
