package state

import (
	"fmt"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

// OpKind discriminates the mutation an Operation requests.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpUpdate  OpKind = "update"
	OpReorder OpKind = "reorder"
	OpClear   OpKind = "clear" // harpoon only
)

// Operation describes one state mutation. Which fields are consulted
// depends on Kind: add/update use Tab, remove uses TabID, reorder uses
// Tabs, clear uses only WindowID. WindowID is required for harpoon and
// window-state operations and ignored for tab history.
type Operation struct {
	Kind     OpKind
	WindowID int
	Tab      *Tab
	TabID    int
	Tabs     []Tab
}

// validate checks the shape of the operation itself, independent of the
// slice it will be applied to.
func (op Operation) validate(slice string) error {
	switch op.Kind {
	case OpAdd, OpUpdate:
		if op.Tab == nil {
			return errors.ValidationError(fmt.Sprintf("%s %s requires a tab", slice, op.Kind))
		}
		if op.Tab.ID <= 0 {
			return errors.ValidationError(fmt.Sprintf("%s %s requires a positive tab id", slice, op.Kind)).
				WithContext("tab_id", op.Tab.ID)
		}
	case OpRemove:
		if op.TabID <= 0 {
			return errors.ValidationError(fmt.Sprintf("%s remove requires a positive tab id", slice)).
				WithContext("tab_id", op.TabID)
		}
	case OpReorder:
		seen := make(map[int]bool, len(op.Tabs))
		for _, tab := range op.Tabs {
			if tab.ID <= 0 {
				return errors.ValidationError(fmt.Sprintf("%s reorder contains a non-positive tab id", slice))
			}
			if seen[tab.ID] {
				return errors.ValidationError(fmt.Sprintf("%s reorder contains duplicate tab id %d", slice, tab.ID))
			}
			seen[tab.ID] = true
		}
	case OpClear:
		if slice != "harpoon" {
			return errors.ValidationError(fmt.Sprintf("clear is not a valid %s operation", slice))
		}
	default:
		return errors.ValidationError(fmt.Sprintf("unknown %s operation %q", slice, op.Kind))
	}
	return nil
}

// validateWindowMembership asserts that every tab the operation touches
// belongs to the operation's window. A mismatch aborts the whole
// operation with no partial application.
func (op Operation) validateWindowMembership() error {
	check := func(tab Tab) error {
		if tab.WindowID != op.WindowID {
			return errors.ValidationError("tab windowId does not match harpoon partition").
				WithContext("tab_id", tab.ID).
				WithContext("tab_window_id", tab.WindowID).
				WithContext("partition_window_id", op.WindowID)
		}
		return nil
	}

	switch op.Kind {
	case OpAdd, OpUpdate:
		return check(*op.Tab)
	case OpReorder:
		for _, tab := range op.Tabs {
			if err := check(tab); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyToList computes the new ordering for a list slice. prepend
// selects history semantics (add inserts at the head) over harpoon
// semantics (add appends). The input slice is never mutated.
func (op Operation) applyToList(current []Tab, prepend bool) []Tab {
	switch op.Kind {
	case OpAdd:
		next := make([]Tab, 0, len(current)+1)
		if prepend {
			next = append(next, *op.Tab)
		}
		for _, tab := range current {
			if tab.ID != op.Tab.ID {
				next = append(next, tab)
			}
		}
		if !prepend {
			next = append(next, *op.Tab)
		}
		return next
	case OpRemove:
		next := make([]Tab, 0, len(current))
		for _, tab := range current {
			if tab.ID != op.TabID {
				next = append(next, tab)
			}
		}
		return next
	case OpUpdate:
		next := make([]Tab, len(current))
		copy(next, current)
		for i, tab := range next {
			if tab.ID == op.Tab.ID {
				next[i] = *op.Tab
			}
		}
		return next
	case OpReorder:
		next := make([]Tab, len(op.Tabs))
		copy(next, op.Tabs)
		return next
	case OpClear:
		return []Tab{}
	}
	return current
}

// evictOldest trims tabs down to limit entries by repeatedly removing
// the entry with the smallest id. Host tab ids grow monotonically
// within a session, so smallest id is oldest.
func evictOldest(tabs []Tab, limit int) []Tab {
	for len(tabs) > limit {
		oldest := 0
		for i, tab := range tabs {
			if tab.ID < tabs[oldest].ID {
				oldest = i
			}
		}
		tabs = append(tabs[:oldest], tabs[oldest+1:]...)
	}
	return tabs
}
