// Package household resolves which tenant the device is acting for.
package household

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

// FallbackID is returned when no household has been set or persisted yet.
// Callers that run before identity bootstrap completes still get a stable tenant.
const FallbackID = "default-household"

// Resolver keeps the current household id in memory, backed by the
// key/value store.
type Resolver struct {
	kv      service.KeyValueStore
	current string
	mu      sync.RWMutex
}

// NewResolver creates a resolver over kv.
func NewResolver(kv service.KeyValueStore) *Resolver {
	return &Resolver{kv: kv}
}

// SetHouseholdID makes id the current household and persists it before
// returning. An empty id clears both the persisted value and memory.
func (r *Resolver) SetHouseholdID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		r.current = ""
		return r.kv.Delete(ctx, service.KeyHouseholdID)
	}

	r.current = id
	return r.kv.Set(ctx, service.KeyHouseholdID, id)
}

// GetHouseholdID returns the in-memory household, else the persisted one
// (which re-warms memory), else FallbackID.
func (r *Resolver) GetHouseholdID(ctx context.Context) string {
	r.mu.RLock()
	current := r.current
	r.mu.RUnlock()
	if current != "" {
		return current
	}

	persisted, ok, err := r.kv.Get(ctx, service.KeyHouseholdID)
	if err != nil {
		slog.Warn("Failed to read persisted household id", "error", err)
		return FallbackID
	}
	if !ok || persisted == "" {
		return FallbackID
	}

	r.mu.Lock()
	if r.current == "" {
		r.current = persisted
	}
	current = r.current
	r.mu.Unlock()
	return current
}

// Scope builds the acting scope for user within the current household.
func (r *Resolver) Scope(ctx context.Context, user *model.User) model.Scope {
	scope := model.Scope{HouseholdID: r.GetHouseholdID(ctx)}
	if user != nil {
		scope.UserID = user.ID
		scope.UserName = user.Name
	}
	return scope
}
