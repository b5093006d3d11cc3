package storage

import (
	"context"
	"sync"
	"time"
)

// MockStore is an in-memory implementation of Store for testing. It
// validates against the same schema registry as the real adapter and
// supports injected write failures.
type MockStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	registry *SchemaRegistry
	calls    MockCalls

	// FailWrites makes every Write return this error after validation.
	FailWrites error
	// FailReads makes every Read return this error.
	FailReads error
}

// MockCalls tracks method invocations for test verification.
type MockCalls struct {
	Read   int
	Write  int
	Delete int
}

// NewMockStore creates a new in-memory store backed by registry.
func NewMockStore(registry *SchemaRegistry) *MockStore {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	return &MockStore{
		values:   make(map[string][]byte),
		registry: registry,
	}
}

// Registry exposes the schema registry so callers can register keys.
func (m *MockStore) Registry() *SchemaRegistry {
	return m.registry
}

// Seed places raw data under key without schema validation, for tests
// that need pre-existing (possibly legacy or corrupt) store contents.
func (m *MockStore) Seed(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
}

// Calls returns a copy of the invocation counters.
func (m *MockStore) Calls() MockCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MockStore) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Read++

	if m.FailReads != nil {
		return nil, m.FailReads
	}
	value, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MockStore) Write(ctx context.Context, key string, value []byte) error {
	if err := m.registry.Validate(key, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Write++

	if m.FailWrites != nil {
		return m.FailWrites
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = stored
	return nil
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++

	delete(m.values, key)
	return nil
}

func (m *MockStore) Health(ctx context.Context) StoreHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return StoreHealth{
		Status:    StatusHealthy,
		CheckedAt: time.Now(),
		KeyCount:  len(m.values),
	}
}

func (m *MockStore) Close() error {
	return nil
}
