package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dough654/Telescope.Browser/internal/errors"
	"github.com/dough654/Telescope.Browser/internal/observability"
	"github.com/dough654/Telescope.Browser/internal/state"
)

// Mode is the monitor's operating mode. Normal flips to Recovering for
// the duration of a recovery run, then back to Normal on success or to
// SafeMode on failure. Safe mode persists until a later recovery
// succeeds.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeRecovering Mode = "recovering"
	ModeSafeMode   Mode = "safe_mode"
)

// Monitor schedules periodic health checks, keeps the error trip wire,
// and runs recovery plans.
type Monitor struct {
	stateMgr       *state.Manager
	actions        Actions
	metrics        observability.Recorder
	checkInterval  time.Duration
	errorThreshold int

	scheduler gocron.Scheduler

	mu         sync.Mutex
	checkers   []HealthChecker
	mode       Mode
	lastReport *SystemReport

	recovering atomic.Bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCheckInterval overrides the periodic check interval.
func WithCheckInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

// WithErrorThreshold overrides the error count that trips automatic
// recovery.
func WithErrorThreshold(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.errorThreshold = n
		}
	}
}

// WithMonitorMetrics attaches a metrics recorder.
func WithMonitorMetrics(rec observability.Recorder) MonitorOption {
	return func(m *Monitor) { m.metrics = rec }
}

// NewMonitor creates a monitor over the given state manager and
// recovery actions.
func NewMonitor(stateMgr *state.Manager, actions Actions, opts ...MonitorOption) (*Monitor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	m := &Monitor{
		stateMgr:       stateMgr,
		actions:        actions,
		checkInterval:  5 * time.Minute,
		errorThreshold: 10,
		scheduler:      scheduler,
		mode:           ModeNormal,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RegisterChecker adds a component to the monitored set.
func (m *Monitor) RegisterChecker(checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Start schedules the periodic health check.
func (m *Monitor) Start(ctx context.Context) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.checkInterval),
		gocron.NewTask(m.runScheduledCheck),
		gocron.WithName("health-check"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule health check: %w", err)
	}
	m.scheduler.Start()
	slog.Info("Health monitor started", "interval", m.checkInterval)
	return nil
}

// Stop shuts down the scheduler.
func (m *Monitor) Stop() error {
	slog.Info("Stopping health monitor")
	return m.scheduler.Shutdown()
}

func (m *Monitor) runScheduledCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	report := m.CheckHealth(ctx)
	if report.Status == StatusCritical {
		slog.Warn("Scheduled health check found critical state, starting recovery")
		if err := m.RecoverFromCorruption(ctx); err != nil {
			slog.Error("Automatic recovery failed", "error", err)
		}
	}
}

// CheckHealth runs every registered checker and aggregates the
// verdicts: the system score is the mean of component scores, and any
// critical component makes the whole system critical regardless of the
// mean. A panicking checker counts as a critical verdict for its
// component rather than taking the monitor down.
func (m *Monitor) CheckHealth(ctx context.Context) SystemReport {
	m.mu.Lock()
	checkers := make([]HealthChecker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.Unlock()

	report := SystemReport{CheckedAt: time.Now(), Status: StatusHealthy, Score: 100}
	total := 0
	anyCritical := false
	for _, checker := range checkers {
		verdict := m.runChecker(ctx, checker)
		report.Components = append(report.Components, verdict)
		total += verdict.Score
		if verdict.Status == StatusCritical {
			anyCritical = true
		}
	}

	if len(report.Components) > 0 {
		report.Score = total / len(report.Components)
	}
	switch {
	case anyCritical:
		report.Status = StatusCritical
	case report.Score >= 90:
		report.Status = StatusHealthy
	case report.Score >= 70:
		report.Status = StatusDegraded
	default:
		report.Status = StatusCritical
	}

	m.mu.Lock()
	m.lastReport = &report
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncHealthCheck(string(report.Status))
	}
	now := report.CheckedAt
	if err := m.stateMgr.UpdateSystemHealth(ctx, state.HealthPatch{LastHealthCheck: &now}); err != nil {
		slog.Warn("Failed to persist health check timestamp", "error", err)
	}

	slog.Info("Health check completed",
		"status", report.Status,
		"score", report.Score,
		"components", len(report.Components))
	return report
}

// ForceHealthCheck runs an immediate check outside the schedule.
func (m *Monitor) ForceHealthCheck(ctx context.Context) SystemReport {
	slog.Info("Forcing health check")
	return m.CheckHealth(ctx)
}

func (m *Monitor) runChecker(ctx context.Context, checker HealthChecker) (verdict ComponentHealth) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Health checker panicked", "component", checker.Name(), "panic", r)
			verdict = Critical(checker.Name(), fmt.Sprintf("checker panicked: %v", r))
		}
	}()
	return checker.Check(ctx)
}

// RecordError increments the persistent error count. Crossing the
// threshold resets the count and trips automatic recovery. The
// increment goes through a delta patch so concurrent callers never
// lose counts.
func (m *Monitor) RecordError(ctx context.Context, cause error) {
	one := 1
	if err := m.stateMgr.UpdateSystemHealth(ctx, state.HealthPatch{ErrorCountDelta: &one}); err != nil {
		slog.Warn("Failed to persist error count", "error", err)
		return
	}
	count := m.stateMgr.SystemHealth().ErrorCount
	slog.Warn("Recorded component error", "error_count", count, "cause", cause)

	if count >= m.errorThreshold {
		zero := 0
		if err := m.stateMgr.UpdateSystemHealth(ctx, state.HealthPatch{ErrorCount: &zero}); err != nil {
			slog.Warn("Failed to reset error count", "error", err)
		}
		slog.Warn("Error threshold crossed, starting recovery", "threshold", m.errorThreshold)
		go func() {
			recoverCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := m.RecoverFromCorruption(recoverCtx); err != nil {
				slog.Error("Recovery tripped by error threshold failed", "error", err)
			}
		}()
	}
}

// Mode returns the current operating mode.
func (m *Monitor) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// InSafeMode reports whether the system is parked in safe mode.
func (m *Monitor) InSafeMode() bool {
	return m.Mode() == ModeSafeMode
}

// LastReport returns the most recent health report, or nil before the
// first check.
func (m *Monitor) LastReport() *SystemReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

func (m *Monitor) setMode(ctx context.Context, mode Mode) {
	m.mu.Lock()
	prev := m.mode
	m.mode = mode
	m.mu.Unlock()
	if prev == mode {
		return
	}
	slog.Info("Operating mode changed", "from", prev, "to", mode)
	if m.actions.NotifyModeChange != nil {
		m.actions.NotifyModeChange(ctx, string(mode))
	}
}

// RecoverFromCorruption runs the recovery plan. Only one recovery runs
// at a time; a concurrent call returns immediately without error. The
// system enters recovering mode for the duration; it exits to normal
// mode only when the post-recovery health check comes back
// non-critical, otherwise it parks in safe mode.
func (m *Monitor) RecoverFromCorruption(ctx context.Context) error {
	if !m.recovering.CompareAndSwap(false, true) {
		slog.Info("Recovery already in progress, skipping")
		return nil
	}
	defer m.recovering.Store(false)

	m.setMode(ctx, ModeRecovering)
	slog.Warn("Starting recovery")

	// Hold the scheduled checks while recovery rearranges things. The
	// jobs come back only on a clean exit; in safe mode the periodic
	// check stays parked until an operator reruns recovery.
	if err := m.scheduler.StopJobs(); err != nil {
		slog.Warn("Failed to pause scheduled checks", "error", err)
	}

	m.mu.Lock()
	prior := m.lastReport
	m.mu.Unlock()
	priorCritical := prior != nil && prior.Status == StatusCritical

	plan := buildPlan(m.actions, priorCritical)
	for _, step := range plan.Steps {
		if !step.Automated {
			// High-risk steps need an operator; an automated run
			// records and moves on.
			slog.Warn("Skipping non-automated recovery step",
				"step", step.Name, "risk", step.Risk)
			continue
		}
		slog.Info("Running recovery step", "step", step.Name, "risk", step.Risk)
		if err := step.run(ctx); err != nil {
			m.setMode(ctx, ModeSafeMode)
			if m.metrics != nil {
				m.metrics.IncRecoveryAttempt(false)
			}
			return errors.RecoveryFailure(err, "recovery step failed, entering safe mode").
				WithContext("step", step.Name)
		}
	}

	report := m.CheckHealth(ctx)
	if report.Status == StatusCritical {
		m.setMode(ctx, ModeSafeMode)
		if m.metrics != nil {
			m.metrics.IncRecoveryAttempt(false)
		}
		return errors.RecoveryFailure(nil, "system still critical after recovery, entering safe mode")
	}

	zero := 0
	now := time.Now()
	if err := m.stateMgr.UpdateSystemHealth(ctx, state.HealthPatch{ErrorCount: &zero, LastCleanup: &now}); err != nil {
		slog.Warn("Failed to persist post-recovery health", "error", err)
	}
	m.scheduler.Start()
	m.setMode(ctx, ModeNormal)
	if m.metrics != nil {
		m.metrics.IncRecoveryAttempt(true)
	}
	slog.Info("Recovery completed", "status", report.Status, "score", report.Score)
	return nil
}
