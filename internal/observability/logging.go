package observability

import (
	"context"
	"log/slog"
)

// LogContext holds structured logging context information.
type LogContext struct {
	WindowID   int
	EndpointID string
	Operation  string
	Component  string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithWindowID adds a window ID to the context.
func WithWindowID(ctx context.Context, windowID int) context.Context {
	lc := extractLogContext(ctx)
	lc.WindowID = windowID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithEndpointID adds an endpoint ID to the context.
func WithEndpointID(ctx context.Context, endpointID string) context.Context {
	lc := extractLogContext(ctx)
	lc.EndpointID = endpointID
	return context.WithValue(ctx, logContextKey, lc)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	lc := extractLogContext(ctx)
	lc.Operation = operation
	return context.WithValue(ctx, logContextKey, lc)
}

// WithComponent adds a component name to the context.
func WithComponent(ctx context.Context, component string) context.Context {
	lc := extractLogContext(ctx)
	lc.Component = component
	return context.WithValue(ctx, logContextKey, lc)
}

// extractLogContext retrieves or creates a LogContext from the context.
func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{WindowID: -1}
}

// getLogAttrs returns slog attributes from the context's LogContext.
func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	attrs := []slog.Attr{}

	if lc.WindowID >= 0 {
		attrs = append(attrs, slog.Int("window.id", lc.WindowID))
	}
	if lc.EndpointID != "" {
		attrs = append(attrs, slog.String("endpoint.id", lc.EndpointID))
	}
	if lc.Operation != "" {
		attrs = append(attrs, slog.String("operation", lc.Operation))
	}
	if lc.Component != "" {
		attrs = append(attrs, slog.String("component", lc.Component))
	}

	return attrs
}

// InfoContext logs an info message with context information.
func InfoContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	allAttrs := append(getLogAttrs(ctx), attrs...)
	slog.LogAttrs(ctx, slog.LevelInfo, msg, allAttrs...)
}

// WarnContext logs a warning message with context information.
func WarnContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	allAttrs := append(getLogAttrs(ctx), attrs...)
	slog.LogAttrs(ctx, slog.LevelWarn, msg, allAttrs...)
}

// ErrorContext logs an error message with context information.
func ErrorContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	allAttrs := append(getLogAttrs(ctx), attrs...)
	slog.LogAttrs(ctx, slog.LevelError, msg, allAttrs...)
}

// DebugContext logs a debug message with context information.
func DebugContext(ctx context.Context, msg string, attrs ...slog.Attr) {
	allAttrs := append(getLogAttrs(ctx), attrs...)
	slog.LogAttrs(ctx, slog.LevelDebug, msg, allAttrs...)
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}
