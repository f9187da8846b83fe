package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Checkpoint is how far a replication session has got in each direction.
type Checkpoint struct {
	RemoteSeq string
	LocalSeq  int64
}

// CheckpointStore persists replication checkpoints per session.
type CheckpointStore struct {
	db *sql.DB
}

// Load returns the checkpoint of a session; a new session starts at zero.
func (s *CheckpointStore) Load(ctx context.Context, sessionID string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT local_seq, remote_seq FROM replication_checkpoints WHERE session_id = ?`, sessionID,
	).Scan(&cp.LocalSeq, &cp.RemoteSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint %s: %w", sessionID, err)
	}
	return cp, nil
}

// Save records the checkpoint of a session.
func (s *CheckpointStore) Save(ctx context.Context, sessionID string, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replication_checkpoints (session_id, local_seq, remote_seq) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			local_seq = excluded.local_seq,
			remote_seq = excluded.remote_seq,
			updated_at = CURRENT_TIMESTAMP`,
		sessionID, cp.LocalSeq, cp.RemoteSeq)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", sessionID, err)
	}
	return nil
}

// Reset forgets every checkpoint, forcing a full comparison on next sync.
func (s *CheckpointStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM replication_checkpoints`); err != nil {
		return fmt.Errorf("failed to reset checkpoints: %w", err)
	}
	return nil
}
