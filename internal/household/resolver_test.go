package household

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
)

type memoryKV struct {
	values map[string]string
	getErr error
	mu     sync.Mutex
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: make(map[string]string)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func TestResolver_FallbackWhenNothingSet(t *testing.T) {
	r := NewResolver(newMemoryKV())
	assert.Equal(t, FallbackID, r.GetHouseholdID(context.Background()))
}

func TestResolver_SurvivesReload(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()

	first := NewResolver(kv)
	require.NoError(t, first.SetHouseholdID(ctx, "HH1"))
	assert.Equal(t, "HH1", first.GetHouseholdID(ctx))

	// A new resolver over the same store has lost its memory.
	reloaded := NewResolver(kv)
	assert.Equal(t, "HH1", reloaded.GetHouseholdID(ctx))
	assert.Equal(t, "HH1", reloaded.current, "persisted value re-warms memory")
}

func TestResolver_ClearRemovesPersistedValue(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()
	r := NewResolver(kv)

	require.NoError(t, r.SetHouseholdID(ctx, "HH1"))
	require.NoError(t, r.SetHouseholdID(ctx, ""))

	assert.Equal(t, FallbackID, r.GetHouseholdID(ctx))
	_, ok, err := kv.Get(ctx, service.KeyHouseholdID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_ReadErrorFallsBack(t *testing.T) {
	kv := newMemoryKV()
	kv.getErr = errors.New("keychain locked")
	r := NewResolver(kv)
	assert.Equal(t, FallbackID, r.GetHouseholdID(context.Background()))
}

func TestResolver_Scope(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newMemoryKV())
	require.NoError(t, r.SetHouseholdID(ctx, "HH1"))

	scope := r.Scope(ctx, &model.User{ID: "u1", Name: "Asha"})
	assert.Equal(t, model.Scope{HouseholdID: "HH1", UserID: "u1", UserName: "Asha"}, scope)

	anonymous := r.Scope(ctx, nil)
	assert.Equal(t, "HH1", anonymous.HouseholdID)
	assert.Empty(t, anonymous.UserID)
}
