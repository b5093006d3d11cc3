package recovery

import (
	"context"
	"fmt"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/managers"
	"github.com/dough654/Telescope.Browser/internal/state"
	"github.com/dough654/Telescope.Browser/internal/storage"
)

// StateChecker verifies the state manager's structural invariants.
func StateChecker(mgr *state.Manager) HealthChecker {
	return CheckerFunc{
		ComponentName: "state",
		Fn: func(ctx context.Context) ComponentHealth {
			if !mgr.Initialized() {
				return Critical("state", "state manager is not initialized")
			}
			violations := mgr.ValidateInvariants()
			switch {
			case len(violations) == 0:
				return Healthy("state")
			case len(violations) <= 2:
				return Degraded("state", fmt.Sprintf("%d invariant violations", len(violations)), 60)
			default:
				return Critical("state", fmt.Sprintf("%d invariant violations", len(violations)))
			}
		},
	}
}

// BrokerChecker watches the pending queue depth against its capacity.
func BrokerChecker(b *broker.Broker, queueCapacity int) HealthChecker {
	return CheckerFunc{
		ComponentName: "broker",
		Fn: func(ctx context.Context) ComponentHealth {
			depth := b.QueueSize()
			if queueCapacity <= 0 {
				queueCapacity = 256
			}
			switch {
			case depth >= queueCapacity:
				return Critical("broker", fmt.Sprintf("pending queue is full (%d)", depth))
			case depth > queueCapacity/2:
				return Degraded("broker", fmt.Sprintf("pending queue at %d/%d", depth, queueCapacity), 70)
			default:
				return Healthy("broker")
			}
		},
	}
}

// DispatcherChecker watches the host-event backlog. A backlog that
// never drains means the manager layer has stalled and host events are
// about to be dropped.
func DispatcherChecker(d *managers.Dispatcher) HealthChecker {
	return CheckerFunc{
		ComponentName: "dispatcher",
		Fn: func(ctx context.Context) ComponentHealth {
			pending, capacity := d.Backlog()
			switch {
			case pending >= capacity:
				return Critical("dispatcher", fmt.Sprintf("event backlog is full (%d)", pending))
			case pending > capacity/2:
				return Degraded("dispatcher", fmt.Sprintf("event backlog at %d/%d", pending, capacity), 70)
			default:
				return Healthy("dispatcher")
			}
		},
	}
}

// ScreenshotChecker watches the debounce table. Captures that never
// fire pile up here when their timers are starved.
func ScreenshotChecker(sm *managers.ScreenshotManager) HealthChecker {
	return CheckerFunc{
		ComponentName: "screenshots",
		Fn: func(ctx context.Context) ComponentHealth {
			pending := sm.PendingCaptures()
			switch {
			case pending > 128:
				return Critical("screenshots", fmt.Sprintf("%d captures stuck pending", pending))
			case pending > 32:
				return Degraded("screenshots", fmt.Sprintf("%d captures pending", pending), 75)
			default:
				return Healthy("screenshots")
			}
		},
	}
}

// StoreChecker surfaces the store adapter's own health probe.
func StoreChecker(store storage.Store) HealthChecker {
	return CheckerFunc{
		ComponentName: "storage",
		Fn: func(ctx context.Context) ComponentHealth {
			health := store.Health(ctx)
			switch health.Status {
			case storage.StatusHealthy:
				return Healthy("storage")
			case storage.StatusDegraded:
				return Degraded("storage", health.Message, 60)
			default:
				return Critical("storage", health.Message)
			}
		},
	}
}
