// Package testutil provides shared fixtures for tests: a migrated local
// store, an in-memory key/value store and a fake CouchDB server.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Veraticus/hearth/internal/storage"
)

// SetupTestDB creates a migrated store in a temporary directory. It is
// closed when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "hearth.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return store
}

// MemoryKV is an in-memory key/value store. Setting Err makes every
// operation fail with it.
type MemoryKV struct {
	Err    error
	values map[string]string
	mu     sync.Mutex
}

// NewMemoryKV creates an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Get implements service.KeyValueStore.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", false, m.Err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements service.KeyValueStore.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.values[key] = value
	return nil
}

// Delete implements service.KeyValueStore.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.values, key)
	return nil
}

// Value returns the stored value of key, or "".
func (m *MemoryKV) Value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}
