package managers

import (
	"context"
	"log/slog"

	"github.com/dough654/Telescope.Browser/internal/state"
)

// EventKind identifies a host browser event.
type EventKind string

const (
	EventTabActivated       EventKind = "tabActivated"
	EventTabUpdated         EventKind = "tabUpdated"
	EventTabRemoved         EventKind = "tabRemoved"
	EventWindowCreated      EventKind = "windowCreated"
	EventWindowRemoved      EventKind = "windowRemoved"
	EventWindowFocusChanged EventKind = "windowFocusChanged"
	EventActiveTabChanged   EventKind = "activeTabChanged"
)

// HostEvent is one event from the browser process. Tab is set for tab
// events; TabID/WindowID carry the ids for removal and focus events
// where the full tab record is already gone.
type HostEvent struct {
	Kind     EventKind
	Tab      *state.Tab
	TabID    int
	WindowID int
}

// ErrorSink receives handler errors the dispatcher has already logged,
// so a health layer can count them.
type ErrorSink func(ctx context.Context, err error)

// Dispatcher consumes host events from a channel and routes them to
// the managers. The state and broker layers never see raw host events.
type Dispatcher struct {
	tabs        *TabManager
	windows     *WindowManager
	screenshots *ScreenshotManager
	errSink     ErrorSink

	events chan HostEvent
	done   chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherErrorSink routes handler errors to sink after logging.
func WithDispatcherErrorSink(sink ErrorSink) DispatcherOption {
	return func(d *Dispatcher) { d.errSink = sink }
}

// NewDispatcher builds a dispatcher over the given managers.
func NewDispatcher(tabs *TabManager, windows *WindowManager, screenshots *ScreenshotManager, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tabs:        tabs,
		windows:     windows,
		screenshots: screenshots,
		events:      make(chan HostEvent, 64),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events is the channel the host event source writes to.
func (d *Dispatcher) Events() chan<- HostEvent {
	return d.events
}

// Backlog reports how many host events are buffered but not yet
// handled, and the channel capacity.
func (d *Dispatcher) Backlog() (pending, capacity int) {
	return len(d.events), cap(d.events)
}

// Run consumes events until ctx is cancelled. Handler errors are
// logged, never fatal; one bad event must not stall the stream.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			if err := d.dispatch(ctx, ev); err != nil {
				slog.Warn("Host event handling failed",
					"kind", ev.Kind, "error", err)
				if d.errSink != nil {
					d.errSink(ctx, err)
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) dispatch(ctx context.Context, ev HostEvent) error {
	switch ev.Kind {
	case EventTabActivated:
		if ev.Tab == nil {
			return nil
		}
		if err := d.tabs.HandleTabActivated(ctx, *ev.Tab); err != nil {
			return err
		}
		d.screenshots.RequestCapture(*ev.Tab)
		return nil
	case EventTabUpdated:
		if ev.Tab == nil {
			return nil
		}
		return d.tabs.HandleTabUpdated(ctx, *ev.Tab)
	case EventTabRemoved:
		d.screenshots.CancelCapture(ev.TabID)
		return d.tabs.HandleTabRemoved(ctx, ev.TabID, ev.WindowID)
	case EventWindowCreated:
		return d.windows.HandleWindowCreated(ctx, ev.WindowID)
	case EventWindowRemoved:
		return d.windows.HandleWindowRemoved(ctx, ev.WindowID)
	case EventWindowFocusChanged:
		return d.windows.HandleWindowFocusChanged(ctx, ev.WindowID)
	case EventActiveTabChanged:
		return d.windows.HandleActiveTabChanged(ctx, ev.WindowID, ev.TabID)
	default:
		slog.Debug("Ignoring unknown host event", "kind", ev.Kind)
		return nil
	}
}
