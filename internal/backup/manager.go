package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Veraticus/hearth/internal/service"
)

// Errors returned by Manager.
var (
	ErrBackupNotFound = errors.New("backup not found")
	ErrBackupExists   = errors.New("backup already exists")
	ErrInvalidTag     = errors.New("invalid backup tag: cannot contain path separators")
)

// Info describes a stored backup.
type Info struct {
	CreatedAt time.Time
	Documents map[string]int
	ID        string
	FileSize  int64
}

// Total is the number of documents in the backup.
func (i Info) Total() int {
	n := 0
	for _, c := range i.Documents {
		n += c
	}
	return n
}

// Manager keeps backup files in a directory next to the database.
type Manager struct {
	store service.DocumentStore
	dir   string
}

// NewManager creates a manager storing backups in a "backups" directory
// beside dbPath.
func NewManager(store service.DocumentStore, dbPath string) (*Manager, error) {
	dir := filepath.Join(filepath.Dir(dbPath), "backups")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backups directory: %w", err)
	}
	return &Manager{store: store, dir: dir}, nil
}

// Dir is the backups directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) path(tag string) (string, error) {
	if tag == "" || strings.ContainsAny(tag, `/\`) || strings.Contains(tag, "..") {
		return "", ErrInvalidTag
	}
	return filepath.Join(m.dir, tag+".json"), nil
}

// Create exports the store into a new backup. An empty tag is generated from
// the current time.
func (m *Manager) Create(ctx context.Context, tag string) (*Info, error) {
	now := time.Now()
	if tag == "" {
		tag = "backup-" + now.Format("2006-01-02-150405")
	}
	path, err := m.path(tag)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, ErrBackupExists
	}

	b, err := Export(ctx, m.store, now)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	if err := Write(f, b); err != nil {
		_ = f.Close()
		if rmErr := os.Remove(path); rmErr != nil {
			slog.Error("failed to remove partial backup", "error", rmErr)
		}
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close backup file: %w", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup: %w", err)
	}
	return &Info{ID: tag, CreatedAt: b.Timestamp, FileSize: stat.Size(), Documents: b.Count()}, nil
}

func (m *Manager) load(tag string) (*Backup, int64, error) {
	path, err := m.path(tag)
	if err != nil {
		return nil, 0, err
	}
	// #nosec G304 - path is confined to the backups directory
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrBackupNotFound
		}
		return nil, 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	b, err := Read(f)
	return b, stat.Size(), err
}

// Info describes one backup.
func (m *Manager) Info(_ context.Context, tag string) (*Info, error) {
	b, size, err := m.load(tag)
	if err != nil {
		return nil, err
	}
	return &Info{ID: tag, CreatedAt: b.Timestamp, FileSize: size, Documents: b.Count()}, nil
}

// List returns the readable backups, newest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	backups := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := m.Info(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			slog.Debug("Skipping unreadable backup", "file", entry.Name(), "error", err)
			continue
		}
		backups = append(backups, *info)
	}

	slices.SortFunc(backups, func(a, b Info) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return backups, nil
}

// Restore imports a stored backup into the store.
func (m *Manager) Restore(ctx context.Context, tag string, progress func()) (ImportResult, error) {
	b, _, err := m.load(tag)
	if err != nil {
		return ImportResult{}, err
	}
	return Import(ctx, m.store, b, progress)
}

// Delete removes a stored backup.
func (m *Manager) Delete(_ context.Context, tag string) error {
	path, err := m.path(tag)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrBackupNotFound
		}
		return fmt.Errorf("failed to remove backup: %w", err)
	}
	return nil
}
