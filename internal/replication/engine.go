package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/events"
	"github.com/Veraticus/hearth/internal/model"
	"github.com/Veraticus/hearth/internal/service"
	"github.com/Veraticus/hearth/internal/storage"
)

// Errors returned when sync cannot start.
var (
	ErrBlocked     = errors.New("sync is blocked")
	ErrNoEndpoint  = fmt.Errorf("%w: no sync endpoint", common.ErrMissingConfig)
	ErrNoSessions  = errors.New("no sync session could be opened")
	errAutoSyncOff = errors.New("auto-sync is disabled")
)

// Store is the part of the local store the engine replicates.
type Store interface {
	Documents(name string) *storage.Collection
	Checkpoints() *storage.CheckpointStore
	Watch(collection string) (<-chan struct{}, func())
}

// Options tune the engine.
type Options struct {
	// Transport is the base HTTP transport; nil means http.DefaultTransport.
	Transport      http.RoundTripper
	Probe          NetworkProbe
	Retry          common.RetryOptions
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	OneShotTimeout time.Duration
	PollInterval   time.Duration
	BatchSize      int
	Parallelism    int
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		Probe:          InterfaceProbe{},
		Retry:          common.RetryOptions{InitialDelay: time.Second, MaxDelay: 5 * time.Minute, Multiplier: 2},
		ProbeTimeout:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
		OneShotTimeout: 2 * time.Minute,
		PollInterval:   30 * time.Second,
		BatchSize:      100,
		Parallelism:    4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Probe == nil {
		o.Probe = d.Probe
	}
	if o.Retry == (common.RetryOptions{}) {
		o.Retry = d.Retry
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.OneShotTimeout <= 0 {
		o.OneShotTimeout = d.OneShotTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	return o
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns the sync sessions and the aggregated sync status.
//
// Every Stop bumps a generation counter; status reports and session starts
// carrying an older generation are ignored, so a session that is still
// winding down cannot overwrite the state of a newer run.
type Engine struct {
	store Store
	kv    service.KeyValueStore
	bus   *events.Bus
	env   Env
	opts  Options

	tokens    TokenProvider
	cancelRun context.CancelFunc
	states    map[string]Status
	status    Status
	reason    string
	tenantID  string
	viewingID string
	sessions  []*running
	// oneShots are the manual passes in flight.
	oneShots map[*running]struct{}

	generation  uint64
	mu          sync.Mutex
	initialized bool
}

// NewEngine creates a stopped engine.
func NewEngine(store Store, kv service.KeyValueStore, bus *events.Bus, env Env, opts Options) *Engine {
	return &Engine{
		store:  store,
		kv:     kv,
		bus:    bus,
		env:    env,
		opts:   opts.withDefaults(),
		status:   StatusDisabled,
		states:   make(map[string]Status),
		oneShots: make(map[*running]struct{}),
	}
}

// Status returns the aggregated sync state and, for errors, the reason.
func (e *Engine) Status() (Status, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.reason
}

// SessionCount returns the number of open live sessions.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) setStatus(gen uint64, status Status, reason string) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	changed := e.status != status || e.reason != reason
	e.status, e.reason = status, reason
	e.mu.Unlock()

	if changed {
		slog.Info("Sync status changed", "status", string(status), "reason", reason)
		e.bus.Emit(events.TopicSyncStatus)
	}
}

// report records the state of one session and recomputes the aggregate.
func (e *Engine) report(gen uint64, name string, status Status, err error) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	e.states[name] = status
	agg := aggregate(e.states)
	e.mu.Unlock()

	reason := ""
	if agg == StatusError && err != nil {
		reason = err.Error()
	} else if agg == StatusError {
		_, reason = e.Status()
	}
	e.setStatus(gen, agg, reason)
}

// AutoSyncEnabled reads the persisted auto-sync preference.
func (e *Engine) AutoSyncEnabled(ctx context.Context) bool {
	v, ok, err := e.kv.Get(ctx, service.KeyAutoSync)
	if err != nil {
		slog.Warn("Failed to read auto-sync preference", "error", err)
		return false
	}
	enabled, _ := strconv.ParseBool(v)
	return ok && enabled
}

// Stop cancels every live session and manual pass, waits for them to
// finish and enters DISABLED. It is safe to call with nothing running.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	sessions := e.sessions
	cancelRun := e.cancelRun
	oneShots := e.oneShots
	e.sessions = nil
	e.cancelRun = nil
	e.oneShots = make(map[*running]struct{})
	e.states = make(map[string]Status)
	e.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}
	for r := range oneShots {
		r.cancel()
	}
	for _, r := range sessions {
		r.cancel()
		<-r.done
	}
	for r := range oneShots {
		<-r.done
	}
	if len(sessions) > 0 {
		slog.Info("Stopped sync sessions", "count", len(sessions))
	}
	e.setStatus(gen, StatusDisabled, "")
}

// resolve loads and resolves the sync config, entering BLOCKED, LOCAL_ONLY
// or DISABLED when sync cannot run. requireAuto makes a disabled auto-sync
// preference a stop condition.
func (e *Engine) resolve(ctx context.Context, gen uint64, requireAuto bool) (*Endpoint, error) {
	stored, err := LoadStoredConfig(ctx, e.kv)
	if err != nil {
		e.setStatus(gen, StatusError, err.Error())
		return nil, err
	}
	res, err := ResolveConfig(stored, e.env)
	if err != nil {
		e.setStatus(gen, StatusError, err.Error())
		return nil, err
	}

	switch {
	case res.Blocked:
		e.setStatus(gen, StatusBlocked, "")
		return nil, ErrBlocked
	case res.Endpoint == nil:
		e.setStatus(gen, StatusLocalOnly, "")
		return nil, ErrNoEndpoint
	case requireAuto && !e.AutoSyncEnabled(ctx):
		e.setStatus(gen, StatusDisabled, "")
		return nil, errAutoSyncOff
	}
	return res.Endpoint, nil
}

// connect checks the network and the remote server and returns a client.
func (e *Engine) connect(ctx, runCtx context.Context, gen uint64, endpoint *Endpoint, tokens TokenProvider) (*Client, error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	online := e.opts.Probe.Online(probeCtx, endpoint.URL)
	cancel()
	if !online {
		e.setStatus(gen, StatusError, ReasonNoNetwork)
		return nil, common.ErrOffline
	}

	httpClient := &http.Client{Transport: newAuthTransport(runCtx, e.opts.Transport, endpoint, tokens)}
	client := NewClient(endpoint, httpClient, e.opts.RequestTimeout)

	if err := client.Ping(ctx); err != nil {
		common.LogError(err, "Sync server unreachable", common.Fields{"url": endpoint.URL.String()})
		e.setStatus(gen, StatusError, ReasonUnreachable)
		return nil, err
	}
	return client, nil
}

// plan lists the sessions for a tenant: one per personal collection and one
// for the shared collection of the viewed household.
func (e *Engine) plan(client *Client, tenantID, viewingID string) []*session {
	host := client.base.Host
	newSession := func(name, collection string) *session {
		return &session{
			client:       client,
			coll:         e.store.Documents(collection),
			checkpoints:  e.store.Checkpoints(),
			name:         name,
			collection:   collection,
			checkpointID: host + "/" + name,
			household:    tenantID,
			batchSize:    e.opts.BatchSize,
		}
	}

	sessions := make([]*session, 0, len(model.PersonalCollections)+1)
	for _, c := range model.PersonalCollections {
		s := newSession(DatabaseName(tenantID, c), c)
		s.ensure = true
		sessions = append(sessions, s)
	}

	owner := viewingID
	if owner == "" {
		owner = tenantID
	}
	shared := newSession(DatabaseName(owner, model.CollectionShared), model.CollectionShared)
	if SanitizeTenantID(owner) == SanitizeTenantID(tenantID) {
		shared.ensure = true
	} else {
		shared.pullOnly = true
	}
	return append(sessions, shared)
}

// Initialize stops any running sessions and, when sync is configured,
// enabled and the server is reachable, opens one live session per
// collection. Not starting because sync is blocked, unconfigured or
// disabled is not an error; the status says why.
func (e *Engine) Initialize(ctx context.Context, tokens TokenProvider, tenantID, viewingTenantID string) error {
	e.Stop()

	e.mu.Lock()
	gen := e.generation
	e.tokens = tokens
	e.tenantID = tenantID
	e.viewingID = viewingTenantID
	e.initialized = true
	e.mu.Unlock()

	if tenantID == "" {
		return common.ErrNoHousehold
	}

	endpoint, err := e.resolve(ctx, gen, true)
	if errors.Is(err, ErrBlocked) || errors.Is(err, ErrNoEndpoint) || errors.Is(err, errAutoSyncOff) {
		return nil
	}
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		cancelRun()
		return nil
	}
	e.cancelRun = cancelRun
	e.mu.Unlock()

	client, err := e.connect(ctx, runCtx, gen, endpoint, tokens)
	if err != nil {
		return err
	}

	opened := 0
	for _, s := range e.plan(client, tenantID, viewingTenantID) {
		if s.ensure {
			if err := client.EnsureDB(ctx, s.name); err != nil {
				common.LogError(err, "Failed to create remote database", common.Fields{"database": s.name})
				e.report(gen, s.name, StatusError, err)
				continue
			}
		}
		if e.startLive(runCtx, gen, s) {
			opened++
		}
	}

	if opened == 0 {
		e.setStatus(gen, StatusError, ErrNoSessions.Error())
		return ErrNoSessions
	}
	common.LogInfo("Opened sync sessions", common.Fields{"count": opened, "tenant": tenantID})
	return nil
}

func (e *Engine) startLive(runCtx context.Context, gen uint64, s *session) bool {
	ctx, cancel := context.WithCancel(runCtx)
	r := &running{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		cancel()
		return false
	}
	e.sessions = append(e.sessions, r)
	e.mu.Unlock()
	// ACTIVE waits for the session to move documents.
	e.report(gen, s.name, StatusPaused, nil)

	wake, stopWatch := e.store.Watch(s.collection)
	go func() {
		defer close(r.done)
		defer stopWatch()
		s.runLive(ctx, wake, e.opts.PollInterval, e.opts.Retry, func(status Status, err error) {
			e.report(gen, s.name, status, err)
		})
	}()
	return true
}

// TriggerManualSync runs one sync pass. With auto-sync running it restarts
// the live sessions; otherwise it runs one non-retrying pass per collection
// and waits for all of them. A failing collection does not stop the others.
func (e *Engine) TriggerManualSync(ctx context.Context) error {
	e.mu.Lock()
	initialized := e.initialized
	live := len(e.sessions) > 0
	tokens, tenantID, viewingID := e.tokens, e.tenantID, e.viewingID
	gen := e.generation
	e.mu.Unlock()

	if !initialized {
		return fmt.Errorf("%w: replication not initialized", common.ErrMissingConfig)
	}
	if tenantID == "" {
		return common.ErrNoHousehold
	}

	auto := e.AutoSyncEnabled(ctx)
	if auto && live {
		return e.Initialize(ctx, tokens, tenantID, viewingID)
	}

	endpoint, err := e.resolve(ctx, gen, false)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.OneShotTimeout)
	defer cancel()
	r := &running{cancel: cancel, done: make(chan struct{})}
	defer close(r.done)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return context.Canceled
	}
	e.oneShots[r] = struct{}{}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.oneShots, r)
		e.mu.Unlock()
	}()

	client, err := e.connect(runCtx, runCtx, gen, endpoint, tokens)
	if err != nil {
		return err
	}

	sessions := e.plan(client, tenantID, viewingID)
	onActive := func() { e.setStatus(gen, StatusActive, "") }

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(e.opts.Parallelism)
	for _, s := range sessions {
		g.Go(func() error {
			err := s.runOnce(runCtx, onActive)
			if err != nil {
				common.LogError(err, "One-shot sync failed", common.Fields{"database": s.name})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if runCtx.Err() != nil && e.stale(gen) {
		return context.Canceled
	}
	if err := errors.Join(errs...); err != nil {
		e.setStatus(gen, StatusError, fmt.Sprintf("%d of %d collections failed", len(errs), len(sessions)))
		return err
	}

	final := StatusDisabled
	if auto {
		final = StatusPaused
	}
	e.setStatus(gen, final, "")
	return nil
}

// runOnce is a single non-retrying pass.
func (s *session) runOnce(ctx context.Context, onActive func()) error {
	if s.ensure {
		if err := s.client.EnsureDB(ctx, s.name); err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}
	return s.syncOnce(ctx, onActive)
}

func (e *Engine) stale(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen != e.generation
}

// SetAutoSync persists the auto-sync preference. Enabling starts the live
// sessions and reverts the preference if none could be opened; disabling
// stops everything.
func (e *Engine) SetAutoSync(ctx context.Context, enabled bool) error {
	if err := e.kv.Set(ctx, service.KeyAutoSync, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("failed to save auto-sync preference: %w", err)
	}
	if !enabled {
		e.Stop()
		return nil
	}

	e.mu.Lock()
	tokens, tenantID, viewingID := e.tokens, e.tenantID, e.viewingID
	e.mu.Unlock()

	err := e.Initialize(ctx, tokens, tenantID, viewingID)
	if e.SessionCount() > 0 {
		return nil
	}

	if revertErr := e.kv.Set(ctx, service.KeyAutoSync, "false"); revertErr != nil {
		slog.Warn("Failed to revert auto-sync preference", "error", revertErr)
	}
	status, reason := e.Status()
	if err == nil {
		err = fmt.Errorf("%w (status %s)", ErrNoSessions, status)
	}
	slog.Warn("Auto-sync not started", "status", string(status), "reason", reason, "error", err)
	return err
}
