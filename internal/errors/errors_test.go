package errors

import (
	"fmt"
	"testing"
)

func TestTelescopeError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TelescopeError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CategoryConfig, SeverityFatal, "configuration invalid"),
			expected: "config (fatal): configuration invalid",
		},
		{
			name:     "error with cause",
			err:      Wrap(fmt.Errorf("disk full"), CategoryPersistence, "failed to write slice"),
			expected: "persistence (error): failed to write slice: disk full",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := test.err.Error()
			if result != test.expected {
				t.Errorf("Error() = %q, want %q", result, test.expected)
			}
		})
	}
}

func TestTelescopeError_WithContext(t *testing.T) {
	err := ValidationError("windowId mismatch").
		WithContext("window_id", 3).
		WithContext("tab_id", 17)

	if err.Context == nil {
		t.Fatal("Context should not be nil")
	}

	if err.Context["window_id"] != 3 {
		t.Errorf("Context[window_id] = %v, want 3", err.Context["window_id"])
	}

	if err.Context["tab_id"] != 17 {
		t.Errorf("Context[tab_id] = %v, want 17", err.Context["tab_id"])
	}
}

func TestIsCategory(t *testing.T) {
	validationErr := ValidationError("bad operation")
	deliveryErr := DeliveryError(fmt.Errorf("timeout"), "send failed")
	standardErr := fmt.Errorf("standard error")
	wrapped := fmt.Errorf("outer: %w", validationErr)

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		expected bool
	}{
		{"validation error matches validation category", validationErr, CategoryValidation, true},
		{"validation error doesn't match delivery category", validationErr, CategoryDelivery, false},
		{"delivery error matches delivery category", deliveryErr, CategoryDelivery, true},
		{"standard error doesn't match any category", standardErr, CategoryValidation, false},
		{"wrapped error still matches", wrapped, CategoryValidation, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsCategory(test.err, test.category)
			if result != test.expected {
				t.Errorf("IsCategory() = %v, want %v", result, test.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"persistence errors are retryable", PersistenceError(fmt.Errorf("busy"), "write failed"), true},
		{"delivery errors are retryable", DeliveryError(fmt.Errorf("gone"), "endpoint vanished"), true},
		{"validation errors are not", ValidationError("bad op"), false},
		{"recovery failures are not", RecoveryFailure(fmt.Errorf("boom"), "plan aborted"), false},
		{"standard error", fmt.Errorf("standard error"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsRetryable(test.err)
			if result != test.expected {
				t.Errorf("IsRetryable() = %v, want %v", result, test.expected)
			}
		})
	}
}

func TestGetCategory(t *testing.T) {
	if got := GetCategory(ValidationError("x")); got != CategoryValidation {
		t.Errorf("GetCategory() = %v, want %v", got, CategoryValidation)
	}
	if got := GetCategory(fmt.Errorf("plain")); got != CategoryInternal {
		t.Errorf("GetCategory() = %v, want %v", got, CategoryInternal)
	}
}
