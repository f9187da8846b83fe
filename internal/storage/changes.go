package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Veraticus/hearth/internal/model"
)

// Changes returns the latest revision of every document written after seq
// since, tombstones included, in sequence order.
func (c *Collection) Changes(ctx context.Context, since int64, limit int) ([]model.Change, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := c.storage.db.QueryContext(ctx, `
		SELECT id, rev, seq, deleted FROM documents
		WHERE collection = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`, c.name, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s changes: %w", c.name, err)
	}
	defer rows.Close()

	var changes []model.Change
	for rows.Next() {
		var ch model.Change
		if err := rows.Scan(&ch.ID, &ch.Rev, &ch.Seq, &ch.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}

// Revision returns the stored revision of id, tombstones included, with its
// ancestors newest first. found is false when the id was never written.
func (c *Collection) Revision(ctx context.Context, id string) (rev string, history []string, deleted, found bool, err error) {
	cur, err := c.load(ctx, c.storage.db, id)
	if err != nil || cur == nil {
		return "", nil, false, false, err
	}
	return cur.rev, cur.revs, cur.deleted, true, nil
}

// GetRaw returns the stored revision of id even when it is a tombstone,
// together with its ancestors.
func (c *Collection) GetRaw(ctx context.Context, id string) (*model.Document, []string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, nil, err
	}

	cur, err := c.load(ctx, c.storage.db, id)
	if err != nil {
		return nil, nil, err
	}
	if cur == nil {
		return nil, nil, c.notFound(id)
	}
	doc := &model.Document{ID: id, Rev: cur.rev, Body: cur.body, Deleted: cur.deleted}
	return doc, cur.revs, nil
}

// PutReplicated stores a revision that was created elsewhere, keeping its
// revision token. history lists the revision's ancestors, newest first.
// It reports whether the local copy changed.
//
// A revision that descends from the local one replaces it. When neither
// descends from the other the revisions conflict and the deterministic
// winner is kept on both sides.
func (c *Collection) PutReplicated(ctx context.Context, doc model.Document, history []string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if doc.ID == "" || RevGeneration(doc.Rev) == 0 {
		return false, fmt.Errorf("%w: replicated document needs an id and a revision", ErrInvalidDocument)
	}

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := c.load(ctx, tx, doc.ID)
	if err != nil {
		return false, err
	}

	switch {
	case cur == nil:
	case cur.rev == doc.Rev:
		return false, nil
	case slices.Contains(history, cur.rev):
	case slices.Contains(cur.revs, doc.Rev):
		return false, nil
	default:
		if !revWins(doc.Rev, doc.Deleted, cur.rev, cur.deleted) {
			slog.Warn("Replication conflict, keeping local revision",
				"collection", c.name, "id", doc.ID, "local", cur.rev, "remote", doc.Rev)
			return false, nil
		}
		slog.Warn("Replication conflict, remote revision wins",
			"collection", c.name, "id", doc.ID, "local", cur.rev, "remote", doc.Rev)
		history = append(slices.Clone(history), cur.rev)
	}

	body, fields, err := canonicalize(doc.Body)
	if err != nil {
		return false, err
	}
	if err := c.write(ctx, tx, doc.ID, doc.Rev, history, doc.Deleted, body, fields); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit replicated %s/%s: %w", c.name, doc.ID, err)
	}

	c.storage.notify(c.name)
	return true, nil
}
