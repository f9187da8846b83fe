package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
	"github.com/Veraticus/hearth/internal/storage"
	"github.com/Veraticus/hearth/internal/testutil"
)

// stepClock returns a time that advances by step on every call.
type stepClock struct {
	now  time.Time
	step time.Duration
	mu   sync.Mutex
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// failingStore makes Put fail for chosen collections.
type failingStore struct {
	service.DocumentStore
	failPut map[string]error
	mu      sync.Mutex
}

func (f *failingStore) Collection(name string) service.Collection {
	return &failingCollection{Collection: f.DocumentStore.Collection(name), store: f}
}

func (f *failingStore) setFailure(collection string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failPut, collection)
		return
	}
	f.failPut[collection] = err
}

type failingCollection struct {
	service.Collection
	store *failingStore
}

func (c *failingCollection) Put(ctx context.Context, doc model.Document) (string, error) {
	c.store.mu.Lock()
	err := c.store.failPut[c.Name()]
	c.store.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.Collection.Put(ctx, doc)
}

type testEnv struct {
	svc   *Services
	store *storage.SQLiteStorage
	fail  *failingStore
	bus   *events.Bus
	clock *stepClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.SetupTestDB(t)

	fail := &failingStore{DocumentStore: store, failPut: make(map[string]error)}
	bus := events.New()
	clock := &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), step: time.Second}

	return &testEnv{
		svc:   New(fail, bus, clock),
		store: store,
		fail:  fail,
		bus:   bus,
		clock: clock,
	}
}

var hh1 = model.Scope{HouseholdID: "HH1", UserID: "u1", UserName: "Asha"}

func (e *testEnv) account(t *testing.T, scope model.Scope, name string, balance int64) *model.Account {
	t.Helper()
	a, err := e.svc.Accounts.Create(context.Background(), scope, &model.Account{
		Name:    name,
		Type:    model.AccountSavings,
		Balance: decimal.NewFromInt(balance),
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) balance(t *testing.T, id string) string {
	t.Helper()
	a, err := e.svc.Accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a.Balance.String()
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}
