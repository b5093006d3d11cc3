// Package storage provides the schema-validated key/value store adapter.
// It is the only component that touches durable storage; every persisted
// slice lives under a registered key whose value is validated against a
// JSON Schema before a write is accepted.
package storage

import (
	"context"
	"time"
)

// Store is the persistence surface consumed by the state manager.
type Store interface {
	// Read returns the raw JSON value for key, or nil when absent.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write validates value against the key's registered schema and
	// persists it. Writes to unregistered keys are rejected.
	Write(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Health reports the adapter's current condition.
	Health(ctx context.Context) StoreHealth

	// Close releases the underlying database.
	Close() error
}

// Store health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StoreHealth describes the adapter's condition at a point in time.
type StoreHealth struct {
	Status      string    `json:"status"` // healthy|degraded|unhealthy
	Message     string    `json:"message,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
	KeyCount    int       `json:"key_count"`
	StorageSize *int64    `json:"storage_size,omitempty"`
}
