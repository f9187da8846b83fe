// Package guest moves the data of an anonymous guest session into the
// household of the user who signs in afterwards.
package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/household"
	"github.com/Veraticus/hearth/internal/ledger"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// State is the migration state.
type State string

// Migration states.
const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateMerging State = "merging"
	StateDone    State = "done"
)

// Choice is the user's answer to a pending migration.
type Choice int

// Choices.
const (
	Merge Choice = iota
	Discard
)

func (c Choice) String() string {
	if c == Discard {
		return "discard"
	}
	return "merge"
}

// ParseChoice reads "merge" or "discard".
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merge":
		return Merge, nil
	case "discard":
		return Discard, nil
	}
	return Merge, fmt.Errorf("invalid choice %q: use merge or discard", s)
}

// ErrNotPending is returned by Resolve when there is nothing to resolve.
var ErrNotPending = errors.New("no guest migration pending")

// Stopper stops replication.
type Stopper interface {
	Stop()
}

// Manager runs the guest migration state machine.
type Manager struct {
	store    service.DocumentStore
	kv       service.KeyValueStore
	resolver *household.Resolver
	sync     Stopper
	bus      *events.Bus

	user     *model.User
	state    State
	previous string
	mu       sync.Mutex
}

// NewManager creates an idle manager. sync may be nil when replication is
// not running.
func NewManager(store service.DocumentStore, kv service.KeyValueStore, resolver *household.Resolver, sync Stopper, bus *events.Bus) *Manager {
	return &Manager{
		store:    store,
		kv:       kv,
		resolver: resolver,
		sync:     sync,
		bus:      bus,
		state:    StateIdle,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PreviousGuestID returns the guest tenant awaiting a decision, if any.
func (m *Manager) PreviousGuestID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// StartGuest begins an anonymous session under a fresh guest tenant.
func (m *Manager) StartGuest(ctx context.Context) (string, error) {
	id := model.GuestPrefix + ledger.NewID()
	if err := m.kv.Set(ctx, service.KeyGuestMode, "true"); err != nil {
		return "", fmt.Errorf("failed to persist guest mode: %w", err)
	}
	if err := m.kv.Set(ctx, service.KeyGuestID, id); err != nil {
		return "", fmt.Errorf("failed to persist guest id: %w", err)
	}
	if err := m.resolver.SetHouseholdID(ctx, id); err != nil {
		return "", err
	}
	slog.Info("Started guest session", "guest_id", id)
	return id, nil
}

// OnAuthChange is called whenever the signed-in identity changes. A guest
// session that gives way to a real user becomes the previous-guest marker,
// and with a marker present the manager waits for Resolve.
func (m *Manager) OnAuthChange(ctx context.Context, user *model.User) (State, error) {
	if user.IsGuest() {
		return m.State(), nil
	}

	if err := m.retireGuestSession(ctx); err != nil {
		return m.State(), err
	}

	previous, ok, err := m.kv.Get(ctx, service.KeyPreviousGuestID)
	if err != nil {
		return m.State(), fmt.Errorf("failed to read previous guest id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok || previous == "" || m.state == StateMerging {
		return m.state, nil
	}
	m.user = user
	m.previous = previous
	m.state = StatePending
	slog.Info("Guest data awaiting migration", "guest_id", previous, "user_id", user.ID)
	return m.state, nil
}

func (m *Manager) retireGuestSession(ctx context.Context) error {
	mode, _, err := m.kv.Get(ctx, service.KeyGuestMode)
	if err != nil {
		return fmt.Errorf("failed to read guest mode: %w", err)
	}
	if active, _ := strconv.ParseBool(mode); !active {
		return nil
	}

	id, ok, err := m.kv.Get(ctx, service.KeyGuestID)
	if err != nil {
		return fmt.Errorf("failed to read guest id: %w", err)
	}
	if ok && id != "" {
		if err := m.kv.Set(ctx, service.KeyPreviousGuestID, id); err != nil {
			return fmt.Errorf("failed to persist previous guest id: %w", err)
		}
	}
	if err := m.kv.Delete(ctx, service.KeyGuestID); err != nil {
		return err
	}
	return m.kv.Delete(ctx, service.KeyGuestMode)
}

// Resolve applies the user's choice. The active tenant moves to the signed-in
// user first, replication is stopped, then the guest documents are re-tagged
// or deleted. The marker is cleared only when that succeeds; either way the
// state ends at done and a failure is returned for a one-time notice.
func (m *Manager) Resolve(ctx context.Context, choice Choice) error {
	m.mu.Lock()
	if m.state != StatePending {
		m.mu.Unlock()
		return ErrNotPending
	}
	m.state = StateMerging
	user, previous := m.user, m.previous
	m.mu.Unlock()

	err := m.resolve(ctx, choice, user.TenantID(), previous)

	m.mu.Lock()
	m.state = StateDone
	if err == nil {
		m.previous = ""
	}
	m.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %s %s: %w", common.ErrMigration, choice, previous, err)
		common.LogError(err, "Guest migration failed", common.Fields{"guest_id": previous, "choice": choice.String()})
		return err
	}
	slog.Info("Guest migration complete", "guest_id", previous, "choice", choice.String(), "tenant", user.TenantID())
	return nil
}

func (m *Manager) resolve(ctx context.Context, choice Choice, tenant, previous string) error {
	if err := m.resolver.SetHouseholdID(ctx, tenant); err != nil {
		return err
	}
	if m.sync != nil {
		m.sync.Stop()
	}

	var errs []error
	for _, name := range append(model.AllCollections(), model.CollectionIntents) {
		var n int
		var err error
		// Shared snapshots are keyed by household and rebuilt on publish.
		if choice == Discard || name == model.CollectionShared {
			n, err = m.discard(ctx, m.store.Collection(name), previous)
		} else {
			n, err = m.retag(ctx, m.store.Collection(name), previous, tenant)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if n > 0 {
			slog.Debug("Migrated guest documents", "collection", name, "count", n, "choice", choice.String())
			if name != model.CollectionIntents {
				m.bus.Emit(events.TopicFor(name))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return m.kv.Delete(ctx, service.KeyPreviousGuestID)
}

func ownedBy(ctx context.Context, coll service.Collection, household string) ([]model.Document, error) {
	return coll.Query(ctx, service.Query{
		Where: []service.Cond{{Field: service.FieldHousehold, Value: household}},
	})
}

// retag moves every document of the guest tenant to tenant. Documents are
// matched by their current tag, so a rerun only touches what is left. A
// pending intent carries the transaction it will write, which moves too.
func (m *Manager) retag(ctx context.Context, coll service.Collection, from, to string) (int, error) {
	docs, err := ownedBy(ctx, coll, from)
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	updated := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		dec := json.NewDecoder(bytes.NewReader(doc.Body))
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil {
			return 0, fmt.Errorf("failed to decode %s: %w", doc.ID, err)
		}
		body[service.FieldHousehold] = to
		if txn, ok := body["transaction"].(map[string]any); ok && coll.Name() == model.CollectionIntents {
			txn[service.FieldHousehold] = to
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode %s: %w", doc.ID, err)
		}
		updated = append(updated, model.Document{ID: doc.ID, Rev: doc.Rev, Body: encoded})
	}

	results, err := coll.BulkPut(ctx, updated)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (m *Manager) discard(ctx context.Context, coll service.Collection, household string) (int, error) {
	docs, err := ownedBy(ctx, coll, household)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, doc := range docs {
		if _, err := coll.Delete(ctx, doc.ID, doc.Rev); err != nil && !errors.Is(err, common.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
