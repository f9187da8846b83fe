package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// maxRevHistory bounds the ancestor list kept per document.
const maxRevHistory = 64

// Collection is one revisioned document collection.
type Collection struct {
	storage *SQLiteStorage
	name    string
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type storedDoc struct {
	rev     string
	body    []byte
	revs    []string
	deleted bool
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) notFound(id string) error {
	return fmt.Errorf("%w: %s/%s", common.ErrNotFound, c.name, id)
}

func (c *Collection) conflict(id string) error {
	return fmt.Errorf("%w: %s/%s", common.ErrConflict, c.name, id)
}

func (c *Collection) load(ctx context.Context, q queryer, id string) (*storedDoc, error) {
	var (
		doc  storedDoc
		revs string
		body string
	)
	err := q.QueryRowContext(ctx,
		`SELECT rev, revs, deleted, body FROM documents WHERE collection = ? AND id = ?`,
		c.name, id,
	).Scan(&doc.rev, &revs, &doc.deleted, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", c.name, id, err)
	}
	if err := json.Unmarshal([]byte(revs), &doc.revs); err != nil {
		return nil, fmt.Errorf("corrupt revision history for %s/%s: %w", c.name, id, err)
	}
	doc.body = []byte(body)
	return &doc, nil
}

// write stores a revision and bumps the collection sequence.
func (c *Collection) write(ctx context.Context, q queryer, id, rev string, history []string, deleted bool, body []byte, fields map[string]any) error {
	if len(history) > maxRevHistory {
		history = history[:maxRevHistory]
	}
	revs, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode revision history: %w", err)
	}

	var seq int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM documents WHERE collection = ?`, c.name,
	).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	args := []any{c.name, id, rev, string(revs), seq, deleted, string(body)}
	args = append(args, indexValues(fields)...)

	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (
			collection, id, rev, revs, seq, deleted, body,
			household_id, doc_date, account_id, category_id, next_due_date, status, budget_mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			rev = excluded.rev,
			revs = excluded.revs,
			seq = excluded.seq,
			deleted = excluded.deleted,
			body = excluded.body,
			household_id = excluded.household_id,
			doc_date = excluded.doc_date,
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			next_due_date = excluded.next_due_date,
			status = excluded.status,
			budget_mode = excluded.budget_mode,
			updated_at = CURRENT_TIMESTAMP`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", c.name, id, err)
	}
	return nil
}

// putTx checks the presented revision against the stored one and writes the
// next revision.
func (c *Collection) putTx(ctx context.Context, q queryer, doc model.Document) (string, error) {
	if err := validateDocument(&doc); err != nil {
		return "", err
	}

	cur, err := c.load(ctx, q, doc.ID)
	if err != nil {
		return "", err
	}

	var history []string
	generation := 0
	switch {
	case cur == nil:
		if doc.Rev != "" {
			return "", c.conflict(doc.ID)
		}
	case cur.deleted:
		if doc.Rev != "" && doc.Rev != cur.rev {
			return "", c.conflict(doc.ID)
		}
		generation = RevGeneration(cur.rev)
		history = append([]string{cur.rev}, cur.revs...)
	default:
		if doc.Rev != cur.rev {
			return "", c.conflict(doc.ID)
		}
		generation = RevGeneration(cur.rev)
		history = append([]string{cur.rev}, cur.revs...)
	}

	body, fields, err := canonicalize(doc.Body)
	if err != nil {
		return "", err
	}
	rev := newRev(generation+1, body)
	if err := c.write(ctx, q, doc.ID, rev, history, false, body, fields); err != nil {
		return "", err
	}
	return rev, nil
}

// Put writes a document. A new document must carry no revision; an existing
// one must carry its current revision, otherwise ErrConflict is returned.
func (c *Collection) Put(ctx context.Context, doc model.Document) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rev, err := c.putTx(ctx, tx, doc)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit %s/%s: %w", c.name, doc.ID, err)
	}

	c.storage.notify(c.name)
	return rev, nil
}

// BulkPut writes several documents in one database transaction. Each
// document succeeds or fails on its own; per-document errors are reported in
// the results, not returned.
func (c *Collection) BulkPut(ctx context.Context, docs []model.Document) ([]service.BulkResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]service.BulkResult, len(docs))
	for i, doc := range docs {
		rev, putErr := c.putTx(ctx, tx, doc)
		results[i] = service.BulkResult{ID: doc.ID, Rev: rev, Err: putErr}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bulk write: %w", err)
	}

	c.storage.notify(c.name)
	return results, nil
}

// Get returns the current revision of a live document.
func (c *Collection) Get(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	cur, err := c.load(ctx, c.storage.db, id)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.deleted {
		return nil, c.notFound(id)
	}
	return &model.Document{ID: id, Rev: cur.rev, Body: withRev(cur.body, cur.rev)}, nil
}

// Delete replaces a live document with a tombstone. The tombstone keeps the
// id and household so the deletion replicates.
func (c *Collection) Delete(ctx context.Context, id, rev string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := c.load(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if cur == nil || cur.deleted {
		return "", c.notFound(id)
	}
	if rev != cur.rev {
		return "", c.conflict(id)
	}

	_, fields, err := canonicalize(cur.body)
	if err != nil {
		return "", err
	}
	tombstone := map[string]any{"id": id}
	if hh, ok := fields["householdId"]; ok {
		tombstone["householdId"] = hh
	}
	body, err := json.Marshal(tombstone)
	if err != nil {
		return "", fmt.Errorf("failed to encode tombstone: %w", err)
	}

	newRevision := newRev(RevGeneration(cur.rev)+1, body)
	history := append([]string{cur.rev}, cur.revs...)
	if err := c.write(ctx, tx, id, newRevision, history, true, body, tombstone); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit delete of %s/%s: %w", c.name, id, err)
	}

	c.storage.notify(c.name)
	return newRevision, nil
}

// Query returns live documents matching the indexed conditions, in index order.
func (c *Collection) Query(ctx context.Context, q service.Query) ([]model.Document, error) {
	if err := c.storage.checkIndexed(ctx); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, rev, body FROM documents WHERE collection = ? AND deleted = 0`)
	args := []any{c.name}

	for _, cond := range q.Where {
		column, err := columnFor(cond.Field)
		if err != nil {
			return nil, err
		}
		op := cond.Op
		if op == "" {
			op = "="
		}
		if !slices.Contains([]string{"=", "<", "<=", ">", ">="}, op) {
			return nil, fmt.Errorf("unsupported operator %q", op)
		}
		fmt.Fprintf(&sb, " AND %s %s ?", column, op)
		args = append(args, cond.Value)
	}

	orderColumn := "id"
	if q.OrderBy != "" {
		column, err := columnFor(q.OrderBy)
		if err != nil {
			return nil, err
		}
		orderColumn = column
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", orderColumn, direction, direction)
	if q.Limit > 0 && q.Filter == nil {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := c.storage.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var id, rev, body string
		if err := rows.Scan(&id, &rev, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", c.name, err)
		}
		doc := model.Document{ID: id, Rev: rev, Body: withRev([]byte(body), rev)}
		if q.Filter != nil && !q.Filter(doc) {
			continue
		}
		docs = append(docs, doc)
		if q.Limit > 0 && len(docs) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", c.name, err)
	}

	slog.Debug("queried documents", "collection", c.name, "count", len(docs))
	return docs, nil
}

// AllIDs returns the ids of all live documents.
func (c *Collection) AllIDs(ctx context.Context) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := c.storage.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE collection = ? AND deleted = 0 ORDER BY id`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", c.name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
