// Package ledger is the service layer over the document store. It owns id
// generation, timestamps, household tagging and the cross-document rules
// between transactions and account balances.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// Entity is a pointer to a model type that embeds model.Meta.
type Entity[T any] interface {
	*T
	Base() *model.Meta
}

// protectedFields may not be changed through Update.
var protectedFields = map[string]bool{
	"id":          true,
	"householdId": true,
	"createdAt":   true,
	"updatedAt":   true,
	"_rev":        true,
}

// Repo is the generic CRUD service of one collection.
type Repo[T any, PT Entity[T]] struct {
	coll  service.Collection
	bus   *events.Bus
	clock service.Clock
	topic events.Topic

	// validate runs before every write.
	validate func(PT) error
	// checkUpdate compares a stored entity with its replacement.
	checkUpdate func(old, updated PT) error
}

// NewRepo creates the service of one collection.
func NewRepo[T any, PT Entity[T]](store service.DocumentStore, collection string, bus *events.Bus, clock service.Clock) *Repo[T, PT] {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &Repo[T, PT]{
		coll:  store.Collection(collection),
		bus:   bus,
		clock: clock,
		topic: events.TopicFor(collection),
	}
}

func (r *Repo[T, PT]) now() time.Time {
	return r.clock.Now().UTC()
}

// nextUpdate returns a timestamp strictly after prev.
func (r *Repo[T, PT]) nextUpdate(prev time.Time) time.Time {
	now := r.now()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

func (r *Repo[T, PT]) encode(v PT) (model.Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to encode %s: %w", r.coll.Name(), err)
	}
	meta := v.Base()
	return model.Document{ID: meta.ID, Rev: meta.Rev, Body: body}, nil
}

func (r *Repo[T, PT]) decode(doc *model.Document) (PT, error) {
	v := PT(new(T))
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", r.coll.Name(), doc.ID, err)
	}
	v.Base().Rev = doc.Rev
	return v, nil
}

func (r *Repo[T, PT]) emit() {
	r.bus.Emit(r.topic)
}

// stamp fills in the metadata of a new entity.
func (r *Repo[T, PT]) stamp(scope model.Scope, v PT) error {
	if scope.HouseholdID == "" {
		return common.ErrNoHousehold
	}
	meta := v.Base()
	if meta.ID == "" {
		meta.ID = NewID()
	}
	now := r.now()
	meta.HouseholdID = scope.HouseholdID
	meta.UserID = scope.UserID
	meta.CreatedByName = scope.UserName
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.Rev = ""
	return nil
}

// Create stamps v with a new id, the scope's household and user, and the
// current time, then writes it. v is updated in place and returned.
func (r *Repo[T, PT]) Create(ctx context.Context, scope model.Scope, v PT) (PT, error) {
	if err := r.stamp(scope, v); err != nil {
		return nil, err
	}
	if r.validate != nil {
		if err := r.validate(v); err != nil {
			return nil, err
		}
	}
	return r.put(ctx, v)
}

func (r *Repo[T, PT]) put(ctx context.Context, v PT) (PT, error) {
	doc, err := r.encode(v)
	if err != nil {
		return nil, err
	}
	rev, err := r.coll.Put(ctx, doc)
	if err != nil {
		return nil, err
	}
	v.Base().Rev = rev
	r.emit()
	return v, nil
}

// Save writes a modified entity back under the revision it was read at.
func (r *Repo[T, PT]) Save(ctx context.Context, v PT) (PT, error) {
	meta := v.Base()
	if meta.ID == "" || meta.Rev == "" {
		return nil, common.Invalid("id", "is required to save")
	}
	if r.validate != nil {
		if err := r.validate(v); err != nil {
			return nil, err
		}
	}
	meta.UpdatedAt = r.nextUpdate(meta.UpdatedAt)
	return r.put(ctx, v)
}

func (r *Repo[T, PT]) list(ctx context.Context, householdID string, activeOnly bool) ([]PT, error) {
	if householdID == "" {
		return nil, common.ErrNoHousehold
	}
	return r.query(ctx, service.Query{
		Where: []service.Cond{{Field: service.FieldHousehold, Value: householdID}},
	}, activeOnly)
}

func (r *Repo[T, PT]) query(ctx context.Context, q service.Query, activeOnly bool) ([]PT, error) {
	docs, err := r.coll.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]PT, 0, len(docs))
	for i := range docs {
		v, err := r.decode(&docs[i])
		if err != nil {
			slog.Warn("Skipping undecodable document", "collection", r.coll.Name(), "id", docs[i].ID, "error", err)
			continue
		}
		if activeOnly && v.Base().IsArchived {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAll returns every entity of the household, archived ones included.
func (r *Repo[T, PT]) GetAll(ctx context.Context, householdID string) ([]PT, error) {
	return r.list(ctx, householdID, false)
}

// GetAllActive returns the household's entities that are not archived.
func (r *Repo[T, PT]) GetAllActive(ctx context.Context, householdID string) ([]PT, error) {
	return r.list(ctx, householdID, true)
}

// GetByID returns the entity, or nil if it does not exist.
func (r *Repo[T, PT]) GetByID(ctx context.Context, id string) (PT, error) {
	doc, err := r.coll.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.decode(doc)
}

// merge applies partial to the stored entity without writing it.
func (r *Repo[T, PT]) merge(ctx context.Context, id string, partial map[string]any) (old, updated PT, err error) {
	for field := range partial {
		if protectedFields[field] {
			return nil, nil, common.Invalid(field, "cannot be updated")
		}
	}

	doc, err := r.coll.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	old, err = r.decode(doc)
	if err != nil {
		return nil, nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s/%s: %w", r.coll.Name(), id, err)
	}
	for k, v := range partial {
		fields[k] = v
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode update: %w", err)
	}
	updated = PT(new(T))
	if err := json.Unmarshal(body, updated); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	meta := updated.Base()
	meta.Rev = doc.Rev
	meta.UpdatedAt = r.nextUpdate(old.Base().UpdatedAt)

	if r.validate != nil {
		if err := r.validate(updated); err != nil {
			return nil, nil, err
		}
	}
	if r.checkUpdate != nil {
		if err := r.checkUpdate(old, updated); err != nil {
			return nil, nil, err
		}
	}
	return old, updated, nil
}

// Update merges partial into the stored entity, keeping every other field,
// and bumps updatedAt. Identity and household fields cannot be changed.
func (r *Repo[T, PT]) Update(ctx context.Context, id string, partial map[string]any) (PT, error) {
	_, updated, err := r.merge(ctx, id, partial)
	if err != nil {
		return nil, err
	}
	return r.put(ctx, updated)
}

// Archive hides the entity from active listings. It stays readable by id.
func (r *Repo[T, PT]) Archive(ctx context.Context, id string) (PT, error) {
	return r.Update(ctx, id, map[string]any{"isArchived": true})
}

// Delete removes the entity. Deleting a missing entity succeeds.
func (r *Repo[T, PT]) Delete(ctx context.Context, id string) error {
	doc, err := r.coll.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := r.coll.Delete(ctx, id, doc.Rev); err != nil {
		return err
	}
	r.emit()
	return nil
}
