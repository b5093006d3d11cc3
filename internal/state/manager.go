// Package state holds the in-memory canonical store of the four
// partitioned slices (tab history, per-window harpoon sets, ephemeral
// window state, system health). Reads are synchronous and return
// defensive copies; writes are validated Operations applied atomically
// to the in-memory copy before the persistence write is issued.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dough654/Telescope.Browser/internal/errors"
	"github.com/dough654/Telescope.Browser/internal/observability"
	"github.com/dough654/Telescope.Browser/internal/storage"
)

// CurrentVersion is written into a fresh SystemHealth record.
const CurrentVersion = "2.0.0"

// Listener signatures per slice. Listeners run synchronously on the
// updating goroutine with (newState, previousState).
type (
	HistoryListener func(newState, previous []Tab)
	HarpoonListener func(newState, previous map[int][]Tab)
	WindowListener  func(newState, previous map[int]WindowState)
	HealthListener  func(newState, previous SystemHealth)
)

// WindowOperation describes one mutation of the ephemeral window-state
// slice. add/update require State; remove uses only WindowID.
type WindowOperation struct {
	Kind     OpKind
	WindowID int
	State    *WindowState
}

// Manager is the single source of truth for the four slices. Each slice
// is owned exclusively by the manager; no other component writes the
// underlying store keys.
type Manager struct {
	store          storage.Store
	maxHarpoonTabs int
	metrics        observability.Recorder

	mu          sync.RWMutex
	initialized bool
	history     []Tab
	harpoon     map[int][]Tab
	windows     map[int]WindowState
	health      SystemHealth

	subMu       sync.Mutex
	historySubs map[string]HistoryListener
	harpoonSubs map[string]HarpoonListener
	windowSubs  map[string]WindowListener
	healthSubs  map[string]HealthListener
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxHarpoonTabs overrides the per-window harpoon limit.
func WithMaxHarpoonTabs(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxHarpoonTabs = n
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec observability.Recorder) Option {
	return func(m *Manager) { m.metrics = rec }
}

// NewManager creates a manager bound to the given store adapter.
// Managers are independently instantiable; tests create fresh instances
// rather than sharing a process-wide singleton.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		maxHarpoonTabs: 20,
		harpoon:        make(map[int][]Tab),
		windows:        make(map[int]WindowState),
		historySubs:    make(map[string]HistoryListener),
		harpoonSubs:    make(map[string]HarpoonListener),
		windowSubs:     make(map[string]WindowListener),
		healthSubs:     make(map[string]HealthListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads every persisted slice from the store adapter. It is
// idempotent. A failed read rejects initialization outright; there is
// no partial state. Legacy flat harpoon data is migrated exactly once.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	history, err := readSlice[[]Tab](ctx, m.store, KeyTabHistory)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to load tab history")
	}
	if history != nil {
		m.history = *history
	}

	harpoonRaw, err := readSlice[map[string][]Tab](ctx, m.store, KeyHarpoonTabs)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to load harpoon partitions")
	}
	if harpoonRaw != nil {
		m.harpoon = decodePartitions(*harpoonRaw)
	}

	health, err := readSlice[SystemHealth](ctx, m.store, KeySystemHealth)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to load system health")
	}
	if health != nil {
		m.health = *health
	} else {
		m.health = SystemHealth{Version: CurrentVersion, LastCleanup: time.Now()}
		if err := m.persistHealthLocked(ctx); err != nil {
			return err
		}
	}

	if harpoonRaw == nil {
		if err := m.migrateLegacyHarpoonLocked(ctx); err != nil {
			return err
		}
	}

	m.initialized = true
	slog.Info("State manager initialized",
		"history", len(m.history),
		"harpoon_partitions", len(m.harpoon))
	return nil
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// -- Reads -------------------------------------------------------------

// TabHistory returns the global history, most recently activated first.
func (m *Manager) TabHistory() []Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTabs(m.history)
}

// TabHistoryForWindow filters the history to one window.
func (m *Manager) TabHistoryForWindow(windowID int) []Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tab
	for _, tab := range m.history {
		if tab.WindowID == windowID {
			out = append(out, tab)
		}
	}
	return out
}

// HarpoonTabs returns every partition keyed by window id.
func (m *Manager) HarpoonTabs() map[int][]Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyPartitions(m.harpoon)
}

// HarpoonTabsForWindow returns one window's partition.
func (m *Manager) HarpoonTabsForWindow(windowID int) []Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyTabs(m.harpoon[windowID])
}

// WindowStates returns the ephemeral per-window records.
func (m *Manager) WindowStates() map[int]WindowState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]WindowState, len(m.windows))
	for id, ws := range m.windows {
		out[id] = ws
	}
	return out
}

// SystemHealth returns the global health record.
func (m *Manager) SystemHealth() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// -- Writes ------------------------------------------------------------

// UpdateTabHistory validates op against the current history and applies
// it. The in-memory slice is replaced before the persistence write is
// issued, so concurrent readers observe the new value immediately. A
// persistence failure after the in-memory swap is not rolled back; the
// error is returned to the caller.
func (m *Manager) UpdateTabHistory(ctx context.Context, op Operation) error {
	m.mu.Lock()
	if err := m.requireInitializedLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := op.validate("history"); err != nil {
		m.mu.Unlock()
		m.record("history", op.Kind, false)
		return err
	}

	previous := m.history
	m.history = op.applyToList(m.history, true)
	next := m.history
	m.mu.Unlock()

	m.notifyHistory(next, previous)
	m.record("history", op.Kind, true)
	return m.persist(ctx, KeyTabHistory, next)
}

// UpdateHarpoonTabs validates op against the window's current partition
// and applies it. Every affected tab's windowId must equal the
// operation's window; a mismatch aborts the entire operation with no
// partial application. An add that pushes the partition above the limit
// evicts the oldest entries by id.
func (m *Manager) UpdateHarpoonTabs(ctx context.Context, op Operation) error {
	m.mu.Lock()
	if err := m.requireInitializedLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if op.WindowID <= 0 {
		m.mu.Unlock()
		m.record("harpoon", op.Kind, false)
		return errors.ValidationError("harpoon operations require a positive window id").
			WithContext("window_id", op.WindowID)
	}
	if err := op.validate("harpoon"); err != nil {
		m.mu.Unlock()
		m.record("harpoon", op.Kind, false)
		return err
	}
	if err := op.validateWindowMembership(); err != nil {
		m.mu.Unlock()
		m.record("harpoon", op.Kind, false)
		return err
	}

	previous := m.harpoon
	next := copyPartitions(m.harpoon)
	if op.Kind == OpClear {
		delete(next, op.WindowID)
	} else {
		partition := op.applyToList(next[op.WindowID], false)
		if op.Kind == OpAdd {
			partition = evictOldest(partition, m.maxHarpoonTabs)
		}
		next[op.WindowID] = partition
	}
	m.harpoon = next
	m.mu.Unlock()

	m.notifyHarpoon(next, previous)
	m.record("harpoon", op.Kind, true)
	return m.persist(ctx, KeyHarpoonTabs, encodePartitions(next))
}

// UpdateWindowState applies op to the ephemeral window-state slice.
// Window state is never persisted; it is rebuilt at process start.
func (m *Manager) UpdateWindowState(op WindowOperation) error {
	m.mu.Lock()
	if err := m.requireInitializedLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if op.WindowID <= 0 {
		m.mu.Unlock()
		return errors.ValidationError("window operations require a positive window id").
			WithContext("window_id", op.WindowID)
	}

	switch op.Kind {
	case OpAdd, OpUpdate:
		if op.State == nil {
			m.mu.Unlock()
			return errors.ValidationError(fmt.Sprintf("window %s requires a state record", op.Kind))
		}
		if op.State.WindowID != op.WindowID {
			m.mu.Unlock()
			return errors.ValidationError("window state record does not match operation window").
				WithContext("record_window_id", op.State.WindowID).
				WithContext("operation_window_id", op.WindowID)
		}
	case OpRemove:
		// WindowID is enough.
	default:
		m.mu.Unlock()
		return errors.ValidationError(fmt.Sprintf("unknown window operation %q", op.Kind))
	}

	previous := m.windowStatesLocked()
	if op.Kind == OpRemove {
		delete(m.windows, op.WindowID)
	} else {
		m.windows[op.WindowID] = *op.State
	}
	next := m.windowStatesLocked()
	m.mu.Unlock()

	m.notifyWindows(next, previous)
	return nil
}

// UpdateSystemHealth applies a partial update to the health record and
// persists it.
func (m *Manager) UpdateSystemHealth(ctx context.Context, patch HealthPatch) error {
	m.mu.Lock()
	if err := m.requireInitializedLocked(); err != nil {
		m.mu.Unlock()
		return err
	}

	previous := m.health
	if patch.Version != nil {
		m.health.Version = *patch.Version
	}
	if patch.LastCleanup != nil {
		m.health.LastCleanup = *patch.LastCleanup
	}
	if patch.ErrorCount != nil {
		if *patch.ErrorCount < 0 {
			m.mu.Unlock()
			return errors.ValidationError("error count cannot be negative").
				WithContext("error_count", *patch.ErrorCount)
		}
		m.health.ErrorCount = *patch.ErrorCount
	}
	if patch.ErrorCountDelta != nil {
		next := m.health.ErrorCount + *patch.ErrorCountDelta
		if next < 0 {
			next = 0
		}
		m.health.ErrorCount = next
	}
	if patch.LastHealthCheck != nil {
		m.health.LastHealthCheck = *patch.LastHealthCheck
	}
	next := m.health
	m.mu.Unlock()

	m.notifyHealth(next, previous)
	return m.persist(ctx, KeySystemHealth, next)
}

// -- Subscriptions -----------------------------------------------------

// SubscribeTabHistory registers fn for history changes and returns an
// unsubscribe function.
func (m *Manager) SubscribeTabHistory(fn HistoryListener) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := uuid.NewString()
	m.historySubs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.historySubs, id)
	}
}

// SubscribeHarpoonTabs registers fn for harpoon changes.
func (m *Manager) SubscribeHarpoonTabs(fn HarpoonListener) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := uuid.NewString()
	m.harpoonSubs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.harpoonSubs, id)
	}
}

// SubscribeWindowStates registers fn for window-state changes.
func (m *Manager) SubscribeWindowStates(fn WindowListener) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := uuid.NewString()
	m.windowSubs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.windowSubs, id)
	}
}

// SubscribeSystemHealth registers fn for health record changes.
func (m *Manager) SubscribeSystemHealth(fn HealthListener) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := uuid.NewString()
	m.healthSubs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.healthSubs, id)
	}
}

func (m *Manager) notifyHistory(next, previous []Tab) {
	m.subMu.Lock()
	listeners := make([]HistoryListener, 0, len(m.historySubs))
	for _, fn := range m.historySubs {
		listeners = append(listeners, fn)
	}
	m.subMu.Unlock()
	for _, fn := range listeners {
		safeNotify("tabHistory", func() { fn(copyTabs(next), copyTabs(previous)) })
	}
}

func (m *Manager) notifyHarpoon(next, previous map[int][]Tab) {
	m.subMu.Lock()
	listeners := make([]HarpoonListener, 0, len(m.harpoonSubs))
	for _, fn := range m.harpoonSubs {
		listeners = append(listeners, fn)
	}
	m.subMu.Unlock()
	for _, fn := range listeners {
		safeNotify("harpoonTabs", func() { fn(copyPartitions(next), copyPartitions(previous)) })
	}
}

func (m *Manager) notifyWindows(next, previous map[int]WindowState) {
	m.subMu.Lock()
	listeners := make([]WindowListener, 0, len(m.windowSubs))
	for _, fn := range m.windowSubs {
		listeners = append(listeners, fn)
	}
	m.subMu.Unlock()
	for _, fn := range listeners {
		safeNotify("windowState", func() { fn(next, previous) })
	}
}

func (m *Manager) notifyHealth(next, previous SystemHealth) {
	m.subMu.Lock()
	listeners := make([]HealthListener, 0, len(m.healthSubs))
	for _, fn := range m.healthSubs {
		listeners = append(listeners, fn)
	}
	m.subMu.Unlock()
	for _, fn := range listeners {
		safeNotify("systemHealth", func() { fn(next, previous) })
	}
}

// safeNotify shields fan-out from a panicking listener; a faulty
// subscriber must not prevent delivery to the remaining ones.
func safeNotify(slice string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("State listener panicked", "slice", slice, "panic", r)
		}
	}()
	fn()
}

// -- Invariant checking ------------------------------------------------

// ValidateInvariants re-checks the structural invariants against the
// current in-memory slices and returns a description of each violation.
// The recovery monitor uses this as the backstop for persistence drift.
func (m *Manager) ValidateInvariants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var violations []string

	seen := make(map[int]bool, len(m.history))
	for _, tab := range m.history {
		if seen[tab.ID] {
			violations = append(violations, fmt.Sprintf("duplicate tab %d in history", tab.ID))
		}
		seen[tab.ID] = true
	}

	for windowID, partition := range m.harpoon {
		ids := make(map[int]bool, len(partition))
		for _, tab := range partition {
			if tab.WindowID != windowID {
				violations = append(violations,
					fmt.Sprintf("tab %d filed under window %d but belongs to window %d",
						tab.ID, windowID, tab.WindowID))
			}
			if ids[tab.ID] {
				violations = append(violations,
					fmt.Sprintf("duplicate tab %d in window %d partition", tab.ID, windowID))
			}
			ids[tab.ID] = true
		}
		if len(partition) > m.maxHarpoonTabs {
			violations = append(violations,
				fmt.Sprintf("window %d partition exceeds limit (%d > %d)",
					windowID, len(partition), m.maxHarpoonTabs))
		}
	}

	return violations
}

// RepairPartitions refiles misplaced harpoon tabs into the partition
// matching their windowId, drops duplicates, and re-applies the size
// limit, then persists the repaired slices.
func (m *Manager) RepairPartitions(ctx context.Context) (int, error) {
	m.mu.Lock()

	repaired := 0
	next := make(map[int][]Tab)
	seen := make(map[int]bool)
	// Deterministic order so repeated repairs converge.
	windowIDs := make([]int, 0, len(m.harpoon))
	for id := range m.harpoon {
		windowIDs = append(windowIDs, id)
	}
	sort.Ints(windowIDs)
	for _, windowID := range windowIDs {
		for _, tab := range m.harpoon[windowID] {
			if seen[tab.ID] {
				repaired++
				continue
			}
			seen[tab.ID] = true
			if tab.WindowID != windowID {
				repaired++
			}
			next[tab.WindowID] = append(next[tab.WindowID], tab)
		}
	}
	for windowID, partition := range next {
		if len(partition) > m.maxHarpoonTabs {
			repaired += len(partition) - m.maxHarpoonTabs
			next[windowID] = evictOldest(partition, m.maxHarpoonTabs)
		}
	}

	previous := m.harpoon
	m.harpoon = next
	m.mu.Unlock()

	if repaired > 0 {
		m.notifyHarpoon(next, previous)
		slog.Info("Repaired harpoon partitions", "entries", repaired)
	}
	return repaired, m.persist(ctx, KeyHarpoonTabs, encodePartitions(next))
}

// -- Internals ---------------------------------------------------------

func (m *Manager) requireInitializedLocked() error {
	if !m.initialized {
		return errors.New(errors.CategoryInternal, errors.SeverityError,
			"state manager is not initialized")
	}
	return nil
}

// windowStatesLocked copies the window map; callers must hold mu.
func (m *Manager) windowStatesLocked() map[int]WindowState {
	out := make(map[int]WindowState, len(m.windows))
	for id, ws := range m.windows {
		out[id] = ws
	}
	return out
}

func (m *Manager) persist(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to marshal slice").
			WithContext("key", key)
	}
	if err := m.store.Write(ctx, key, data); err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to persist slice").
			WithContext("key", key)
	}
	return nil
}

func (m *Manager) persistHealthLocked(ctx context.Context) error {
	data, err := json.Marshal(m.health)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to marshal system health")
	}
	if err := m.store.Write(ctx, KeySystemHealth, data); err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to persist system health")
	}
	return nil
}

func (m *Manager) record(slice string, op OpKind, success bool) {
	if m.metrics != nil {
		m.metrics.IncStateOperation(slice, string(op), success)
	}
}

// readSlice reads and unmarshals one persisted key; it returns nil
// (not an error) when the key is absent.
func readSlice[T any](ctx context.Context, store storage.Store, key string) (*T, error) {
	data, err := store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return &value, nil
}

func copyTabs(tabs []Tab) []Tab {
	if tabs == nil {
		return nil
	}
	out := make([]Tab, len(tabs))
	copy(out, tabs)
	return out
}

func copyPartitions(partitions map[int][]Tab) map[int][]Tab {
	out := make(map[int][]Tab, len(partitions))
	for windowID, tabs := range partitions {
		out[windowID] = copyTabs(tabs)
	}
	return out
}

// Partitions are persisted as a JSON object, so window ids become
// string keys on disk.
func encodePartitions(partitions map[int][]Tab) map[string][]Tab {
	out := make(map[string][]Tab, len(partitions))
	for windowID, tabs := range partitions {
		out[strconv.Itoa(windowID)] = tabs
	}
	return out
}

func decodePartitions(raw map[string][]Tab) map[int][]Tab {
	out := make(map[int][]Tab, len(raw))
	for key, tabs := range raw {
		windowID, err := strconv.Atoi(key)
		if err != nil {
			slog.Warn("Dropping harpoon partition with malformed window key", "key", key)
			continue
		}
		out[windowID] = tabs
	}
	return out
}
