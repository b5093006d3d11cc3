// Package errors provides a lightweight structured error type
// (TelescopeError) for category-based classification and retry
// semantics across the coordination core.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a core error for classification
type ErrorCategory string

const (
	// Rejected input and invariant violations
	CategoryValidation ErrorCategory = "validation"
	CategoryConfig     ErrorCategory = "config"

	// Durable storage failures
	CategoryPersistence ErrorCategory = "persistence"

	// Messaging failures
	CategoryDelivery  ErrorCategory = "delivery"
	CategoryTransport ErrorCategory = "transport"

	// Recovery and infrastructure errors
	CategoryRecovery ErrorCategory = "recovery"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// TelescopeError is a structured error with category, retryability, and context
type TelescopeError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for TelescopeError
type ContextFields map[string]any

// Error implements the error interface
func (e *TelescopeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *TelescopeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TelescopeError) WithContext(key string, value any) *TelescopeError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new TelescopeError
func New(category ErrorCategory, severity ErrorSeverity, message string) *TelescopeError {
	return &TelescopeError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new TelescopeError that wraps an existing error
func Wrap(err error, category ErrorCategory, message string) *TelescopeError {
	return &TelescopeError{
		Category: category,
		Severity: SeverityError,
		Message:  message,
		Cause:    err,
	}
}

// WrapRetryable creates a new retryable TelescopeError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, message string) *TelescopeError {
	return &TelescopeError{
		Category:  category,
		Severity:  SeverityError,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var te *TelescopeError
	if errors.As(err, &te) {
		return te.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var te *TelescopeError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal
// if the error is not a TelescopeError
func GetCategory(err error) ErrorCategory {
	var te *TelescopeError
	if errors.As(err, &te) {
		return te.Category
	}
	return CategoryInternal
}

// ValidationError creates a new validation error. Validation errors are
// rejected synchronously and never change state.
func ValidationError(message string) *TelescopeError {
	return &TelescopeError{
		Category: CategoryValidation,
		Severity: SeverityWarning,
		Message:  message,
	}
}

// PersistenceError creates a new persistence error wrapping a store failure.
// In-memory state may already have advanced when one of these surfaces.
func PersistenceError(err error, message string) *TelescopeError {
	return &TelescopeError{
		Category:  CategoryPersistence,
		Severity:  SeverityError,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// DeliveryError creates a new delivery error. Delivery errors are reported
// as failed results, never escalated to process-level errors.
func DeliveryError(err error, message string) *TelescopeError {
	return &TelescopeError{
		Category:  CategoryDelivery,
		Severity:  SeverityWarning,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// RecoveryFailure creates a new recovery error. A recovery failure aborts
// the remaining plan and leaves the system in safe mode.
func RecoveryFailure(err error, message string) *TelescopeError {
	return &TelescopeError{
		Category: CategoryRecovery,
		Severity: SeverityFatal,
		Message:  message,
		Cause:    err,
	}
}
