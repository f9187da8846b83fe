package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Document collections",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS documents (
					collection TEXT NOT NULL,
					id TEXT NOT NULL,
					rev TEXT NOT NULL,
					revs TEXT NOT NULL DEFAULT '[]',
					seq INTEGER NOT NULL,
					deleted BOOLEAN NOT NULL DEFAULT 0,
					body TEXT NOT NULL,
					household_id TEXT,
					doc_date TEXT,
					account_id TEXT,
					category_id TEXT,
					next_due_date TEXT,
					status TEXT,
					budget_mode TEXT,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (collection, id)
				)`)
			if err != nil {
				return fmt.Errorf("failed to create documents table: %w", err)
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Key/value settings",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS settings (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Replication checkpoints",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS replication_checkpoints (
					session_id TEXT PRIMARY KEY,
					local_seq INTEGER NOT NULL DEFAULT 0,
					remote_seq TEXT NOT NULL DEFAULT '',
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`)
			return err
		},
	},
}

// indexStatements are safe to run any number of times.
var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_documents_household ON documents(collection, household_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_household_date ON documents(collection, household_id, doc_date)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_account ON documents(collection, account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(collection, category_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_due ON documents(collection, next_due_date, status)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_budget ON documents(collection, budget_mode, status)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(collection, seq)`,
}

// Migrate applies all pending database migrations and then makes sure every
// query index exists. Queries are refused until this has succeeded once.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return s.EnsureIndexes(ctx)
}

// EnsureIndexes creates the query indexes if they are missing.
func (s *SQLiteStorage) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	s.indexed.Store(true)
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return v, nil
}
