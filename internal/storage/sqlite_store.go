package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

// SQLiteStore implements Store using a single SQLite key/value table.
type SQLiteStore struct {
	db       *sql.DB
	registry *SchemaRegistry
	mu       sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and prepares
// the key/value schema. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string, registry *SchemaRegistry) (*SQLiteStore, error) {
	if registry == nil {
		registry = NewSchemaRegistry()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db, registry: registry}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Registry exposes the schema registry so callers can register keys.
func (s *SQLiteStore) Registry() *SchemaRegistry {
	return s.registry
}

// Read returns the stored value for key, or nil when the key is absent.
func (s *SQLiteStore) Read(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceError(err, "failed to read key").
			WithContext("key", key)
	}
	return value, nil
}

// Write validates value against the key's schema and upserts it.
func (s *SQLiteStore) Write(ctx context.Context, key string, value []byte) error {
	if err := s.registry.Validate(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return errors.PersistenceError(err, "failed to write key").
			WithContext("key", key)
	}
	return nil
}

// Delete removes key; removing an absent key succeeds.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return errors.PersistenceError(err, "failed to delete key").
			WithContext("key", key)
	}
	return nil
}

// Health pings the database and reports key count and page size usage.
func (s *SQLiteStore) Health(ctx context.Context) StoreHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := StoreHealth{Status: StatusHealthy, CheckedAt: time.Now()}

	if err := s.db.PingContext(ctx); err != nil {
		health.Status = StatusUnhealthy
		health.Message = fmt.Sprintf("database ping failed: %v", err)
		return health
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&health.KeyCount); err != nil {
		health.Status = StatusDegraded
		health.Message = fmt.Sprintf("key count query failed: %v", err)
		return health
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			size := pageCount * pageSize
			health.StorageSize = &size
		}
	}

	return health
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
