package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
	"github.com/Veraticus/hearth/internal/storage"
	"github.com/Veraticus/hearth/internal/testutil"
)

type probeFunc func() bool

func (p probeFunc) Online(context.Context, *url.URL) bool { return p() }

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", errors.New("signed out")
}

type device struct {
	store  *storage.SQLiteStorage
	kv     *testutil.MemoryKV
	bus    *events.Bus
	engine *Engine
}

func testOptions(online bool) Options {
	return Options{
		Probe:        probeFunc(func() bool { return online }),
		Retry:        common.RetryOptions{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2},
		PollInterval: 20 * time.Millisecond,
	}
}

func newDevice(t *testing.T, remote string, env Env, opts Options) *device {
	t.Helper()
	d := &device{store: testutil.SetupTestDB(t), kv: testutil.NewMemoryKV(), bus: events.New()}
	if remote != "" {
		require.NoError(t, SaveStoredConfig(context.Background(), d.kv, StoredConfig{URL: remote, Enabled: true}))
	}
	d.engine = NewEngine(d.store, d.kv, d.bus, env, opts)
	t.Cleanup(d.engine.Stop)
	return d
}

func (d *device) put(t *testing.T, collection, id, household string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"id": id, "householdId": household, "name": id})
	require.NoError(t, err)
	rev, err := d.store.Documents(collection).Put(context.Background(), model.Document{ID: id, Body: body})
	require.NoError(t, err)
	return rev
}

func TestEngine_NoEndpointIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "", Env{}, testOptions(true))
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))

	require.NoError(t, d.engine.Initialize(ctx, StaticToken("tok"), "HH1", ""))
	status, _ := d.engine.Status()
	assert.Equal(t, StatusLocalOnly, status)
	assert.Zero(t, d.engine.SessionCount())
}

func TestEngine_KillSwitchBlocks(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{Disabled: true}, testOptions(true))
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	status, _ := d.engine.Status()
	assert.Equal(t, StatusBlocked, status)
	assert.Zero(t, d.engine.SessionCount())
	assert.Zero(t, couch.Requests())
}

func TestEngine_AutoSyncOffIsDisabled(t *testing.T) {
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))

	require.NoError(t, d.engine.Initialize(context.Background(), nil, "HH1", ""))
	status, _ := d.engine.Status()
	assert.Equal(t, StatusDisabled, status)
	assert.Zero(t, d.engine.SessionCount())
	assert.Zero(t, couch.Requests())
}

func TestEngine_OfflineOpensNoSessions(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(false))
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))

	err := d.engine.Initialize(ctx, StaticToken("tok"), "HH1", "")
	require.ErrorIs(t, err, common.ErrOffline)

	status, reason := d.engine.Status()
	assert.Equal(t, StatusError, status)
	assert.Equal(t, ReasonNoNetwork, reason)
	assert.Zero(t, d.engine.SessionCount())
	assert.Zero(t, couch.Requests())
}

func TestEngine_UnreachableServer(t *testing.T) {
	ctx := context.Background()
	// Nothing listens on port 1.
	d := newDevice(t, "http://127.0.0.1:1", Env{}, testOptions(true))
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))

	err := d.engine.Initialize(ctx, nil, "HH1", "")
	require.ErrorIs(t, err, common.ErrConnectivity)

	status, reason := d.engine.Status()
	assert.Equal(t, StatusError, status)
	assert.Equal(t, ReasonUnreachable, reason)
	assert.Zero(t, d.engine.SessionCount())
}

func TestEngine_ManualSyncRequiresInitialize(t *testing.T) {
	d := newDevice(t, "", Env{}, testOptions(true))
	err := d.engine.TriggerManualSync(context.Background())
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestEngine_ManualSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	a := newDevice(t, couch.URL(), Env{}, testOptions(true))
	b := newDevice(t, couch.URL(), Env{}, testOptions(true))

	a.put(t, model.CollectionAccounts, "acc-1", "HH1")
	a.put(t, model.CollectionAccounts, "acc-foreign", "HH2")

	require.NoError(t, a.engine.Initialize(ctx, StaticToken("tok"), "HH1", ""))
	require.NoError(t, a.engine.TriggerManualSync(ctx))

	status, _ := a.engine.Status()
	assert.Equal(t, StatusDisabled, status, "manual sync without auto-sync ends disabled")
	assert.Len(t, couch.Databases(), len(model.PersonalCollections)+1)
	assert.Contains(t, couch.Databases(), "hh_hh1_shared")

	_, body, ok := couch.Doc("hh_hh1_accounts", "acc-1")
	require.True(t, ok)
	assert.Equal(t, "HH1", body["householdId"])
	_, _, ok = couch.Doc("hh_hh1_accounts", "acc-foreign")
	assert.False(t, ok, "documents of other households stay local")

	require.NoError(t, b.engine.Initialize(ctx, StaticToken("tok"), "HH1", ""))
	require.NoError(t, b.engine.TriggerManualSync(ctx))

	doc, err := b.store.Documents(model.CollectionAccounts).Get(ctx, "acc-1")
	require.NoError(t, err)
	remoteRev, _, _ := couch.Doc("hh_hh1_accounts", "acc-1")
	assert.Equal(t, remoteRev, doc.Rev)

	// Deletion replicates as a tombstone.
	_, err = b.store.Documents(model.CollectionAccounts).Delete(ctx, "acc-1", doc.Rev)
	require.NoError(t, err)
	require.NoError(t, b.engine.TriggerManualSync(ctx))
	require.NoError(t, a.engine.TriggerManualSync(ctx))

	_, err = a.store.Documents(model.CollectionAccounts).Get(ctx, "acc-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, _, deleted, found, err := a.store.Documents(model.CollectionAccounts).Revision(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, deleted)
}

func TestEngine_PullsRemoteEdits(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))

	d.put(t, model.CollectionLoans, "loan-1", "HH1")
	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	require.NoError(t, d.engine.TriggerManualSync(ctx))

	_, body, ok := couch.Doc("hh_hh1_loans", "loan-1")
	require.True(t, ok)
	body["name"] = "edited elsewhere"
	delete(body, "_id")
	rev := couch.Put("hh_hh1_loans", "loan-1", body)

	require.NoError(t, d.engine.TriggerManualSync(ctx))
	doc, err := d.store.Documents(model.CollectionLoans).Get(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, rev, doc.Rev)
	assert.Contains(t, string(doc.Body), "edited elsewhere")
}

func TestEngine_ManualSyncIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))

	d.put(t, model.CollectionAccounts, "acc-1", "HH1")
	couch.Fail("hh_hh1_loans", http.StatusInternalServerError)

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	err := d.engine.TriggerManualSync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hh_hh1_loans")

	status, reason := d.engine.Status()
	assert.Equal(t, StatusError, status)
	assert.NotEmpty(t, reason)

	_, _, ok := couch.Doc("hh_hh1_accounts", "acc-1")
	assert.True(t, ok, "healthy collections still sync")
}

func TestEngine_SharedSessionOfAnotherHousehold(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))

	couch.Put("hh_hh2_shared", "snapshot-HH2", map[string]any{"id": "snapshot-HH2", "householdId": "HH2"})
	d.put(t, model.CollectionShared, "snapshot-HH1", "HH1")

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", "HH2"))
	require.NoError(t, d.engine.TriggerManualSync(ctx))

	_, err := d.store.Documents(model.CollectionShared).Get(ctx, "snapshot-HH2")
	require.NoError(t, err)
	_, _, ok := couch.Doc("hh_hh2_shared", "snapshot-HH1")
	assert.False(t, ok, "the viewed household's shared data is read only")
	assert.NotContains(t, couch.Databases(), "hh_hh1_shared")
}

func TestEngine_Authorization(t *testing.T) {
	ctx := context.Background()

	t.Run("bearer token", func(t *testing.T) {
		couch := testutil.NewCouchDB(t)
		d := newDevice(t, couch.URL(), Env{}, testOptions(true))
		require.NoError(t, d.engine.Initialize(ctx, StaticToken("tok-1"), "HH1", ""))
		require.NoError(t, d.engine.TriggerManualSync(ctx))
		for _, h := range couch.Authorization() {
			assert.Equal(t, "Bearer tok-1", h)
		}
	})

	t.Run("basic auth wins over token", func(t *testing.T) {
		couch := testutil.NewCouchDB(t)
		d := newDevice(t, "", Env{}, testOptions(true))
		require.NoError(t, SaveStoredConfig(ctx, d.kv, StoredConfig{
			URL: couch.URL(), Username: "me", Password: "pw", Enabled: true,
		}))
		require.NoError(t, d.engine.Initialize(ctx, StaticToken("tok-1"), "HH1", ""))
		require.NoError(t, d.engine.TriggerManualSync(ctx))
		for _, h := range couch.Authorization() {
			assert.True(t, strings.HasPrefix(h, "Basic "), h)
		}
	})

	t.Run("token failure sends unauthenticated requests", func(t *testing.T) {
		couch := testutil.NewCouchDB(t)
		d := newDevice(t, couch.URL(), Env{}, testOptions(true))
		require.NoError(t, d.engine.Initialize(ctx, failingTokens{}, "HH1", ""))
		require.NoError(t, d.engine.TriggerManualSync(ctx))
		require.NotZero(t, couch.Requests())
		for _, h := range couch.Authorization() {
			assert.Empty(t, h)
		}
	})
}

func TestEngine_LiveSessions(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))

	var statusEvents atomic.Int32
	d.bus.On(events.TopicSyncStatus, func() { statusEvents.Add(1) })

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	require.NoError(t, d.engine.SetAutoSync(ctx, true))
	assert.Equal(t, "true", d.kv.Value(service.KeyAutoSync))
	assert.Equal(t, len(model.PersonalCollections)+1, d.engine.SessionCount())

	require.Eventually(t, func() bool {
		status, _ := d.engine.Status()
		return status == StatusPaused
	}, 5*time.Second, 10*time.Millisecond)

	// A local write is pushed without a manual trigger.
	d.put(t, model.CollectionBudgets, "budget-1", "HH1")
	require.Eventually(t, func() bool {
		_, _, ok := couch.Doc("hh_hh1_budgets", "budget-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, d.engine.SetAutoSync(ctx, false))
	assert.Equal(t, "false", d.kv.Value(service.KeyAutoSync))
	status, _ := d.engine.Status()
	assert.Equal(t, StatusDisabled, status)
	assert.Zero(t, d.engine.SessionCount())
	assert.Positive(t, statusEvents.Load())
}

func TestEngine_LiveSessionsStartPaused(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))

	var (
		mu   sync.Mutex
		seen []Status
	)
	d.bus.On(events.TopicSyncStatus, func() {
		status, _ := d.engine.Status()
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	status, _ := d.engine.Status()
	assert.Equal(t, StatusPaused, status)

	// Several poll cycles with nothing to move.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.NotContains(t, seen, StatusActive)
	mu.Unlock()

	d.put(t, model.CollectionBudgets, "budget-1", "HH1")
	require.Eventually(t, func() bool {
		_, _, ok := couch.Doc("hh_hh1_budgets", "budget-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Contains(t, seen, StatusActive)
	mu.Unlock()
}

func TestEngine_RequestTimeoutFailsStalledSession(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	opts := testOptions(true)
	opts.RequestTimeout = 100 * time.Millisecond
	d := newDevice(t, couch.URL(), Env{}, opts)
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))
	couch.Stall("_changes")

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	require.Eventually(t, func() bool {
		status, _ := d.engine.Status()
		return status == StatusError
	}, 2*time.Second, 10*time.Millisecond)

	_, reason := d.engine.Status()
	assert.Contains(t, reason, "_changes")
}

func TestEngine_StopCancelsManualSync(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	opts := testOptions(true)
	opts.RequestTimeout = time.Minute
	d := newDevice(t, couch.URL(), Env{}, opts)
	couch.Stall("_changes")

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	done := make(chan error, 1)
	go func() { done <- d.engine.TriggerManualSync(ctx) }()

	require.Eventually(t, func() bool {
		return couch.Stalled() > 0
	}, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		d.engine.Stop()
		close(stopped)
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("manual sync kept running after Stop")
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	status, reason := d.engine.Status()
	assert.Equal(t, StatusDisabled, status)
	assert.Empty(t, reason)
}

func TestEngine_LiveSessionReportsErrors(t *testing.T) {
	ctx := context.Background()
	couch := testutil.NewCouchDB(t)
	d := newDevice(t, couch.URL(), Env{}, testOptions(true))
	require.NoError(t, d.kv.Set(ctx, service.KeyAutoSync, "true"))

	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))
	couch.Fail("hh_hh1_recurring", http.StatusServiceUnavailable)

	require.Eventually(t, func() bool {
		status, _ := d.engine.Status()
		return status == StatusError
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_SetAutoSyncRevertsWhenNothingOpens(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, "", Env{}, testOptions(true))
	require.NoError(t, d.engine.Initialize(ctx, nil, "HH1", ""))

	err := d.engine.SetAutoSync(ctx, true)
	require.ErrorIs(t, err, ErrNoSessions)
	assert.Equal(t, "false", d.kv.Value(service.KeyAutoSync))
	status, _ := d.engine.Status()
	assert.Equal(t, StatusLocalOnly, status)
}

func TestEngine_StopWithNothingRunning(t *testing.T) {
	d := newDevice(t, "", Env{}, testOptions(true))
	d.engine.Stop()
	d.engine.Stop()
	status, _ := d.engine.Status()
	assert.Equal(t, StatusDisabled, status)
}

func TestEngine_IgnoresStaleReports(t *testing.T) {
	d := newDevice(t, "", Env{}, testOptions(true))
	d.engine.mu.Lock()
	old := d.engine.generation
	d.engine.mu.Unlock()

	d.engine.Stop()
	d.engine.report(old, "hh_hh1_accounts", StatusError, errors.New("late failure"))

	status, reason := d.engine.Status()
	assert.Equal(t, StatusDisabled, status)
	assert.Empty(t, reason)
}
