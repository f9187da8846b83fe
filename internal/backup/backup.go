// Package backup exports the local collections to a portable JSON document
// and imports such documents back.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// Version is the backup format version this package writes and reads.
const Version = 1

// ErrUnsupportedBackupVersion is returned when importing another format version.
var ErrUnsupportedBackupVersion = errors.New("unsupported backup version")

// Backup is the backup file format.
type Backup struct {
	Timestamp time.Time                    `json:"timestamp"`
	Data      map[string][]json.RawMessage `json:"data"`
	Version   int                          `json:"version"`
}

// Count returns the number of documents per collection.
func (b *Backup) Count() map[string]int {
	counts := make(map[string]int, len(b.Data))
	for name, docs := range b.Data {
		counts[name] = len(docs)
	}
	return counts
}

// ImportResult summarizes an import.
type ImportResult struct {
	Inserted int
	Updated  int
	Failed   int
}

// Export reads every live document of every collection.
func Export(ctx context.Context, store service.DocumentStore, now time.Time) (*Backup, error) {
	b := &Backup{
		Version:   Version,
		Timestamp: now.UTC().Truncate(time.Second),
		Data:      make(map[string][]json.RawMessage),
	}
	for _, name := range model.AllCollections() {
		docs, err := store.Collection(name).Query(ctx, service.Query{})
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		bodies := make([]json.RawMessage, 0, len(docs))
		for _, doc := range docs {
			bodies = append(bodies, doc.Body)
		}
		b.Data[name] = bodies
	}
	return b, nil
}

// Write encodes b as indented JSON.
func Write(w io.Writer, b *Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return nil
}

// Read decodes a backup and checks its version.
func Read(r io.Reader) (*Backup, error) {
	var b Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBackupVersion, b.Version)
	}
	return &b, nil
}

// Import writes the documents of b into store. A document whose id already
// exists is updated in place at its current revision; any other document is
// inserted with its revision stripped. Unknown collections are skipped.
// progress, if set, is called once per document.
func Import(ctx context.Context, store service.DocumentStore, b *Backup, progress func()) (ImportResult, error) {
	var result ImportResult
	if b.Version != Version {
		return result, fmt.Errorf("%w: %d", ErrUnsupportedBackupVersion, b.Version)
	}

	known := model.AllCollections()
	names := make([]string, 0, len(b.Data))
	for name := range b.Data {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if !slices.Contains(known, name) {
			slog.Warn("Skipping unknown collection in backup", "collection", name, "documents", len(b.Data[name]))
			continue
		}
		coll := store.Collection(name)
		for _, raw := range b.Data[name] {
			updated, err := importDoc(ctx, coll, raw)
			if progress != nil {
				progress()
			}
			switch {
			case err != nil:
				result.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			case updated:
				result.Updated++
			default:
				result.Inserted++
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		common.LogError(err, "Backup import finished with errors", common.Fields{
			"inserted": result.Inserted,
			"updated":  result.Updated,
			"failed":   result.Failed,
		})
		return result, err
	}
	return result, nil
}

func importDoc(ctx context.Context, coll service.Collection, raw json.RawMessage) (bool, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil || body == nil {
		return false, fmt.Errorf("invalid document: %v", err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		id, _ = body["_id"].(string)
	}
	if id == "" {
		return false, errors.New("document without id")
	}
	delete(body, "_rev")
	delete(body, "_id")
	body["id"] = id

	encoded, err := json.Marshal(body)
	if err != nil {
		return false, err
	}

	doc := model.Document{ID: id, Body: encoded}
	existing, err := coll.Get(ctx, id)
	switch {
	case err == nil:
		doc.Rev = existing.Rev
	case !errors.Is(err, common.ErrNotFound):
		return false, err
	}

	if _, err := coll.Put(ctx, doc); err != nil {
		return false, fmt.Errorf("%s: %w", id, err)
	}
	return doc.Rev != "", nil
}
