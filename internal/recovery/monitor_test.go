package recovery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dough654/Telescope.Browser/internal/errors"
	"github.com/dough654/Telescope.Browser/internal/state"
	"github.com/dough654/Telescope.Browser/internal/storage"
)

func newTestMonitor(t *testing.T, actions Actions, opts ...MonitorOption) (*Monitor, *state.Manager) {
	t.Helper()
	registry := storage.NewSchemaRegistry()
	require.NoError(t, state.RegisterSchemas(registry))
	mgr := state.NewManager(storage.NewMockStore(registry))
	require.NoError(t, mgr.Initialize(context.Background()))

	monitor, err := NewMonitor(mgr, actions, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = monitor.Stop() })
	return monitor, mgr
}

func fixedChecker(name string, status HealthStatus, score int) HealthChecker {
	return CheckerFunc{
		ComponentName: name,
		Fn: func(ctx context.Context) ComponentHealth {
			return ComponentHealth{Component: name, Status: status, Score: score, CheckedAt: time.Now()}
		},
	}
}

func TestCheckHealthAveragesComponentScores(t *testing.T) {
	monitor, _ := newTestMonitor(t, Actions{})
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))
	monitor.RegisterChecker(fixedChecker("b", StatusDegraded, 80))

	report := monitor.CheckHealth(context.Background())
	assert.Equal(t, 90, report.Score)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Components, 2)
}

func TestCheckHealthDegradedBand(t *testing.T) {
	monitor, _ := newTestMonitor(t, Actions{})
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))
	monitor.RegisterChecker(fixedChecker("b", StatusDegraded, 50))

	report := monitor.CheckHealth(context.Background())
	assert.Equal(t, 75, report.Score)
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestCheckHealthAnyCriticalComponentMakesSystemCritical(t *testing.T) {
	monitor, _ := newTestMonitor(t, Actions{})
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))
	monitor.RegisterChecker(fixedChecker("b", StatusHealthy, 100))
	monitor.RegisterChecker(fixedChecker("c", StatusCritical, 0))

	report := monitor.CheckHealth(context.Background())
	assert.Equal(t, StatusCritical, report.Status, "score mean is irrelevant when a component is critical")
}

func TestCheckHealthRecoversPanickingChecker(t *testing.T) {
	monitor, _ := newTestMonitor(t, Actions{})
	monitor.RegisterChecker(CheckerFunc{
		ComponentName: "flaky",
		Fn: func(ctx context.Context) ComponentHealth {
			panic("checker exploded")
		},
	})
	monitor.RegisterChecker(fixedChecker("steady", StatusHealthy, 100))

	report := monitor.CheckHealth(context.Background())
	require.Len(t, report.Components, 2)
	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, StatusCritical, report.Components[0].Status)
}

func TestCheckHealthPersistsTimestamp(t *testing.T) {
	monitor, mgr := newTestMonitor(t, Actions{})
	before := mgr.SystemHealth().LastHealthCheck

	monitor.CheckHealth(context.Background())
	assert.True(t, mgr.SystemHealth().LastHealthCheck.After(before))
}

func TestRecoverySuccessReturnsToNormalMode(t *testing.T) {
	var cleaned, repaired atomic.Bool
	monitor, mgr := newTestMonitor(t, Actions{
		CleanupQueues: func(ctx context.Context) error { cleaned.Store(true); return nil },
		RepairState:   func(ctx context.Context) error { repaired.Store(true); return nil },
	})
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))

	count := 7
	require.NoError(t, mgr.UpdateSystemHealth(context.Background(), state.HealthPatch{ErrorCount: &count}))

	require.NoError(t, monitor.RecoverFromCorruption(context.Background()))
	assert.Equal(t, ModeNormal, monitor.Mode())
	assert.True(t, cleaned.Load())
	assert.True(t, repaired.Load())
	assert.Zero(t, mgr.SystemHealth().ErrorCount, "error count resets after successful recovery")
}

func TestModeChangesAreBroadcast(t *testing.T) {
	var modes []string
	monitor, _ := newTestMonitor(t, Actions{
		NotifyModeChange: func(ctx context.Context, mode string) { modes = append(modes, mode) },
	})
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))

	require.NoError(t, monitor.RecoverFromCorruption(context.Background()))
	assert.Equal(t, []string{"recovering", "normal"}, modes)
}

func TestSafeModeEntryIsBroadcast(t *testing.T) {
	var modes []string
	monitor, _ := newTestMonitor(t, Actions{
		CleanupQueues:    func(ctx context.Context) error { return errors.ValidationError("boom") },
		NotifyModeChange: func(ctx context.Context, mode string) { modes = append(modes, mode) },
	})

	require.Error(t, monitor.RecoverFromCorruption(context.Background()))
	assert.Equal(t, []string{"recovering", "safe_mode"}, modes)
}

func TestRecoveryAbortsOnFirstFailedStep(t *testing.T) {
	var repaired atomic.Bool
	monitor, _ := newTestMonitor(t, Actions{
		CleanupQueues: func(ctx context.Context) error {
			return errors.New(errors.CategoryInternal, errors.SeverityError, "cleanup broken")
		},
		RepairState: func(ctx context.Context) error { repaired.Store(true); return nil },
	})

	err := monitor.RecoverFromCorruption(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRecovery))
	assert.Equal(t, ModeSafeMode, monitor.Mode())
	assert.False(t, repaired.Load(), "later steps do not run after a failure")
}

func TestRecoveryEntersSafeModeWhenStillCritical(t *testing.T) {
	monitor, _ := newTestMonitor(t, Actions{})
	monitor.RegisterChecker(fixedChecker("broken", StatusCritical, 0))

	err := monitor.RecoverFromCorruption(context.Background())
	require.Error(t, err)
	assert.True(t, monitor.InSafeMode())
}

func TestResetStepIsNeverAutomated(t *testing.T) {
	var reset atomic.Bool
	monitor, _ := newTestMonitor(t, Actions{
		ResetState: func(ctx context.Context) error { reset.Store(true); return nil },
	})
	// Prior critical report makes the plan include the reset step.
	monitor.RegisterChecker(fixedChecker("broken", StatusCritical, 0))
	monitor.CheckHealth(context.Background())

	_ = monitor.RecoverFromCorruption(context.Background())
	assert.False(t, reset.Load(), "reset requires an operator even when the plan includes it")
}

func TestRecoveryIsNotReentrant(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	monitor, _ := newTestMonitor(t, Actions{
		CleanupQueues: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))

	done := make(chan error, 1)
	go func() { done <- monitor.RecoverFromCorruption(context.Background()) }()
	<-started

	// Second call while the first is mid-plan returns immediately.
	require.NoError(t, monitor.RecoverFromCorruption(context.Background()))
	close(release)
	require.NoError(t, <-done)
}

func TestRecordErrorTripsRecoveryAtThreshold(t *testing.T) {
	monitor, mgr := newTestMonitor(t, Actions{}, WithErrorThreshold(3))
	monitor.RegisterChecker(fixedChecker("a", StatusHealthy, 100))
	ctx := context.Background()

	cause := errors.New(errors.CategoryDelivery, errors.SeverityWarning, "boom")
	monitor.RecordError(ctx, cause)
	monitor.RecordError(ctx, cause)
	assert.Equal(t, 2, mgr.SystemHealth().ErrorCount)

	monitor.RecordError(ctx, cause)
	assert.Zero(t, mgr.SystemHealth().ErrorCount, "count resets when the threshold trips")
	assert.Eventually(t, func() bool {
		return monitor.Mode() == ModeNormal && monitor.LastReport() != nil
	}, 2*time.Second, 10*time.Millisecond, "tripped recovery runs and returns to normal")
}

func TestRecordErrorConcurrentIncrementsAreNotLost(t *testing.T) {
	monitor, mgr := newTestMonitor(t, Actions{}, WithErrorThreshold(1000))
	ctx := context.Background()
	cause := errors.New(errors.CategoryDelivery, errors.SeverityWarning, "boom")

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.RecordError(ctx, cause)
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, mgr.SystemHealth().ErrorCount)
}

func TestPlanIncludesResetOnlyAfterCriticalReport(t *testing.T) {
	plan := buildPlan(Actions{}, false)
	for _, step := range plan.Steps {
		assert.NotEqual(t, "reset-state", step.Name)
	}

	plan = buildPlan(Actions{}, true)
	found := false
	for _, step := range plan.Steps {
		if step.Name == "reset-state" {
			found = true
			assert.False(t, step.Automated)
			assert.Equal(t, RiskHigh, step.Risk)
		}
	}
	assert.True(t, found)
}
