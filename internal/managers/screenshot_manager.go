package managers

import (
	"context"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/state"
)

// ScreenshotManager asks tab endpoints to capture preview screenshots.
// Capture requests are debounced per tab with a settle delay so rapid
// tab switching doesn't fire a capture per hop, and URLs matching the
// exclusion patterns are never captured.
type ScreenshotManager struct {
	state       *state.Manager
	broker      *broker.Broker
	clock       clockwork.Clock
	settleDelay time.Duration
	exclude     []*regexp.Regexp

	mu      sync.Mutex
	pending map[int]clockwork.Timer
}

// ScreenshotOption configures a ScreenshotManager.
type ScreenshotOption func(*ScreenshotManager)

// WithScreenshotClock injects a clock for tests.
func WithScreenshotClock(clock clockwork.Clock) ScreenshotOption {
	return func(m *ScreenshotManager) { m.clock = clock }
}

// WithSettleDelay overrides the debounce delay.
func WithSettleDelay(d time.Duration) ScreenshotOption {
	return func(m *ScreenshotManager) {
		if d > 0 {
			m.settleDelay = d
		}
	}
}

// WithExcludePatterns sets the URL exclusion list. Patterns that do
// not compile are logged and dropped.
func WithExcludePatterns(patterns []string) ScreenshotOption {
	return func(m *ScreenshotManager) {
		m.exclude = compilePatterns(patterns)
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("Dropping invalid screenshot exclusion pattern",
				"pattern", pattern, "error", err)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// NewScreenshotManager wires a screenshot manager.
func NewScreenshotManager(stateMgr *state.Manager, b *broker.Broker, opts ...ScreenshotOption) *ScreenshotManager {
	m := &ScreenshotManager{
		state:       stateMgr,
		broker:      b,
		clock:       clockwork.NewRealClock(),
		settleDelay: 500 * time.Millisecond,
		pending:     make(map[int]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reconfigure applies new settle-delay and exclusion settings in
// place, so config reloads do not need to replace the manager. Already
// armed capture timers keep their original delay.
func (m *ScreenshotManager) Reconfigure(settleDelay time.Duration, patterns []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if settleDelay > 0 {
		m.settleDelay = settleDelay
	}
	m.exclude = compilePatterns(patterns)
}

// RequestCapture schedules a capture for the tab after the settle
// delay. A second request for the same tab inside the delay resets the
// timer.
func (m *ScreenshotManager) RequestCapture(tab state.Tab) {
	if m.Excluded(tab.URL) {
		slog.Debug("Skipping screenshot for excluded url", "tab_id", tab.ID)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.pending[tab.ID]; ok {
		timer.Stop()
	}
	m.pending[tab.ID] = m.clock.AfterFunc(m.settleDelay, func() {
		m.mu.Lock()
		delete(m.pending, tab.ID)
		m.mu.Unlock()
		m.fire(tab)
	})
}

// CancelCapture drops any pending capture for the tab, as when it
// closes or navigates away.
func (m *ScreenshotManager) CancelCapture(tabID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.pending[tabID]; ok {
		timer.Stop()
		delete(m.pending, tabID)
	}
}

// RecordScreenshot stores the capture key the endpoint reported back
// onto the tab's history entry.
func (m *ScreenshotManager) RecordScreenshot(ctx context.Context, tabID int, key string) error {
	for _, tab := range m.state.TabHistory() {
		if tab.ID != tabID {
			continue
		}
		tab.ScreenshotKey = key
		return m.state.UpdateTabHistory(ctx, state.Operation{Kind: state.OpUpdate, Tab: &tab})
	}
	slog.Debug("Screenshot reported for tab not in history", "tab_id", tabID)
	return nil
}

// Excluded reports whether url matches an exclusion pattern.
func (m *ScreenshotManager) Excluded(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, re := range m.exclude {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// PendingCaptures reports how many captures are waiting on the settle
// delay.
func (m *ScreenshotManager) PendingCaptures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *ScreenshotManager) fire(tab state.Tab) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	env := broker.NewEnvelope(MsgScreenshotCapture, marshalPayload(tab),
		broker.WithPriority(broker.PriorityLow))
	result := m.broker.SendToTab(ctx, tab.ID, env)
	if !result.Delivered && !result.Queued {
		slog.Warn("Screenshot capture request failed",
			"tab_id", tab.ID, "error", result.Err)
	}
}
