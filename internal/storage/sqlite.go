// Package storage provides the local document store: one revisioned
// collection per entity kind, kept in a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Veraticus/hearth/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage is the document store backed by SQLite.
type SQLiteStorage struct {
	db          *sql.DB
	collections map[string]*Collection
	watchers    map[string]map[int]chan struct{}
	dbPath      string
	nextWatch   int
	mu          sync.Mutex
	indexed     atomic.Bool
}

// NewSQLiteStorage creates a new SQLite storage instance.
// Use ":memory:" for a throwaway database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:          db,
		dbPath:      dbPath,
		collections: make(map[string]*Collection),
		watchers:    make(map[string]map[int]chan struct{}),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Collection returns the named collection, creating the handle on first use.
func (s *SQLiteStorage) Collection(name string) service.Collection {
	return s.Documents(name)
}

// Documents is Collection with the concrete type, which also exposes the
// replication hooks.
func (s *SQLiteStorage) Documents(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &Collection{storage: s, name: name}
		s.collections[name] = c
	}
	return c
}

// Settings returns the key/value store kept in the same database.
func (s *SQLiteStorage) Settings() *SettingsStore {
	return &SettingsStore{db: s.db}
}

// Checkpoints returns the replication checkpoint store.
func (s *SQLiteStorage) Checkpoints() *CheckpointStore {
	return &CheckpointStore{db: s.db}
}

// Watch returns a channel that receives a signal after any write to the
// collection, and a function that stops the watch. Signals coalesce.
func (s *SQLiteStorage) Watch(collection string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := s.nextWatch
	s.nextWatch++
	if s.watchers[collection] == nil {
		s.watchers[collection] = make(map[int]chan struct{})
	}
	s.watchers[collection][id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[collection], id)
	}
}

func (s *SQLiteStorage) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *SQLiteStorage) checkIndexed(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if !s.indexed.Load() {
		return ErrIndexesNotReady
	}
	return nil
}
