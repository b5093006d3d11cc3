package recovery

import "context"

// Risk grades how destructive a recovery step is.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Actions are the hooks a recovery plan runs against the rest of the
// system. The daemon wires these at startup; a nil hook turns its step
// into a no-op.
type Actions struct {
	// CleanupQueues drops parked broker messages and stale timers.
	CleanupQueues func(ctx context.Context) error
	// RepairState refiles misplaced partitions and drops duplicates.
	RepairState func(ctx context.Context) error
	// ResetState wipes the persisted slices back to empty.
	ResetState func(ctx context.Context) error
	// RestartTransport tears down and redials the broker transport.
	RestartTransport func(ctx context.Context) error
	// NotifyModeChange tells the endpoints about an operating mode
	// change, so that safe mode is visible in the UI. Best effort.
	NotifyModeChange func(ctx context.Context, mode string)
}

// RecoveryStep is one unit of a plan. Non-automated steps are never
// executed by the monitor; they are logged for an operator.
type RecoveryStep struct {
	Name      string
	Risk      Risk
	Automated bool
	run       func(ctx context.Context) error
}

// RecoveryPlan is the ordered step list for one recovery run. The
// monitor aborts at the first failed step.
type RecoveryPlan struct {
	Steps []RecoveryStep
}

// buildPlan assembles the plan. The destructive reset step is included
// only when the prior health check was critical, and even then it is
// not automated.
func buildPlan(actions Actions, priorCritical bool) RecoveryPlan {
	noop := func(context.Context) error { return nil }
	orNoop := func(fn func(context.Context) error) func(context.Context) error {
		if fn == nil {
			return noop
		}
		return fn
	}

	plan := RecoveryPlan{
		Steps: []RecoveryStep{
			{
				Name:      "cleanup-queues",
				Risk:      RiskLow,
				Automated: true,
				run:       orNoop(actions.CleanupQueues),
			},
			{
				Name:      "repair-state",
				Risk:      RiskMedium,
				Automated: true,
				run:       orNoop(actions.RepairState),
			},
			{
				Name:      "restart-transport",
				Risk:      RiskMedium,
				Automated: true,
				run:       orNoop(actions.RestartTransport),
			},
		},
	}

	if priorCritical {
		plan.Steps = append(plan.Steps, RecoveryStep{
			Name:      "reset-state",
			Risk:      RiskHigh,
			Automated: false,
			run:       orNoop(actions.ResetState),
		})
	}
	return plan
}
