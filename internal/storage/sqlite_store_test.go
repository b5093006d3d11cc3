package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

const tabListSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "url", "windowId"],
		"properties": {
			"id": {"type": "integer"},
			"url": {"type": "string"},
			"title": {"type": "string"},
			"windowId": {"type": "integer"}
		}
	}
}`

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	registry := NewSchemaRegistry()
	require.NoError(t, registry.Register("tabHistory", []byte(tabListSchema)))

	store, err := NewSQLiteStore(":memory:", registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReadAbsentKeyReturnsNil(t *testing.T) {
	store := newTestStore(t)

	value, err := store.Read(t.Context(), "tabHistory")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	payload := []byte(`[{"id": 5, "url": "https://example.com", "title": "Example", "windowId": 1}]`)
	require.NoError(t, store.Write(ctx, "tabHistory", payload))

	value, err := store.Read(ctx, "tabHistory")
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(value))
}

func TestWriteOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Write(ctx, "tabHistory", []byte(`[{"id": 1, "url": "a", "windowId": 1}]`)))
	require.NoError(t, store.Write(ctx, "tabHistory", []byte(`[]`)))

	value, err := store.Read(ctx, "tabHistory")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(value))
}

func TestWriteRejectsSchemaViolation(t *testing.T) {
	store := newTestStore(t)

	// Missing required windowId.
	err := store.Write(t.Context(), "tabHistory", []byte(`[{"id": 1, "url": "a"}]`))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	// The rejected write must not have persisted anything.
	value, readErr := store.Read(t.Context(), "tabHistory")
	require.NoError(t, readErr)
	assert.Nil(t, value)
}

func TestWriteRejectsUnregisteredKey(t *testing.T) {
	store := newTestStore(t)

	err := store.Write(t.Context(), "unknownKey", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Contains(t, err.Error(), "unknownKey")
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Write(ctx, "tabHistory", []byte(`[]`)))
	require.NoError(t, store.Delete(ctx, "tabHistory"))
	require.NoError(t, store.Delete(ctx, "tabHistory"))

	value, err := store.Read(ctx, "tabHistory")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestHealthReportsKeyCount(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Write(ctx, "tabHistory", []byte(`[]`)))

	health := store.Health(ctx)
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, 1, health.KeyCount)
}

func TestSchemaRegistryRejectsBadSchema(t *testing.T) {
	registry := NewSchemaRegistry()
	err := registry.Register("broken", []byte(`{`))
	require.Error(t, err)
}
