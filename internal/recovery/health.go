// Package recovery watches component health and drives the system back
// to a working state when corruption or persistent failure is detected.
package recovery

import (
	"context"
	"time"
)

// HealthStatus classifies a component or the whole system.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// ComponentHealth is one checker's verdict. Score is 0-100.
type ComponentHealth struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Score     int          `json:"score"`
	Message   string       `json:"message,omitempty"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// HealthChecker is implemented by every monitored component. The
// monitor owns the schedule; checkers only answer the question.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// SystemReport aggregates all component verdicts into one system-wide
// status.
type SystemReport struct {
	Status     HealthStatus      `json:"status"`
	Score      int               `json:"score"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checkedAt"`
}

// CheckerFunc adapts a function into a HealthChecker.
type CheckerFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) ComponentHealth
}

func (c CheckerFunc) Name() string { return c.ComponentName }

func (c CheckerFunc) Check(ctx context.Context) ComponentHealth {
	return c.Fn(ctx)
}

// Healthy builds a passing verdict for component.
func Healthy(component string) ComponentHealth {
	return ComponentHealth{
		Component: component,
		Status:    StatusHealthy,
		Score:     100,
		CheckedAt: time.Now(),
	}
}

// Degraded builds a reduced-score verdict.
func Degraded(component, message string, score int) ComponentHealth {
	return ComponentHealth{
		Component: component,
		Status:    StatusDegraded,
		Score:     score,
		Message:   message,
		CheckedAt: time.Now(),
	}
}

// Critical builds a failing verdict.
func Critical(component, message string) ComponentHealth {
	return ComponentHealth{
		Component: component,
		Status:    StatusCritical,
		Score:     0,
		Message:   message,
		CheckedAt: time.Now(),
	}
}
