package engine

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/core"
)

const (
	sweepHashes   = "hashes"
	sweepHandlers = "handlers"

	burstMajorParameter = "burst"
)

// HashStore persists learned bucket hashes between runs.
type HashStore interface {
	LoadBucketHashes(ctx context.Context) (map[string]core.BucketHash, error)
	SaveBucketHashes(ctx context.Context, hashes map[string]core.BucketHash) error
}

// Manager routes requests to per-bucket handlers and owns the shared rate
// limit state.
type Manager struct {
	opts     Options
	logger   *zap.Logger
	hooks    Hooks
	client   *http.Client
	global   *GlobalLimiter
	invalid  *InvalidRequestCounter
	buckets  *BucketRegistry
	handlers *HandlerRegistry
	sweeper  *Sweeper

	tokenMu sync.RWMutex
	token   string

	authWarning sync.Once
	closeOnce   sync.Once
	closed      chan struct{}
}

// New validates opts, builds a Manager and starts its sweepers.
func New(opts Options) (*Manager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		hooks:    opts.Hooks,
		client:   opts.HTTPClient,
		global:   NewGlobalLimiter(opts.GlobalRequestsPerSecond, opts.Clock),
		invalid:  opts.InvalidRequests,
		buckets:  NewBucketRegistry(),
		handlers: NewHandlerRegistry(),
		sweeper:  newSweeper(opts.Logger),
		closed:   make(chan struct{}),
	}

	m.sweeper.schedule(sweepHashes, opts.HashSweepInterval, func() { m.SweepHashes() })
	m.sweeper.schedule(sweepHandlers, opts.HandlerSweepInterval, func() { m.SweepHandlers() })
	m.sweeper.Start()

	return m, nil
}

// Close stops the sweepers. Requests already queued run to completion.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.closed)
		m.sweeper.Stop()
	})
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	if m == nil {
		return true
	}
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// SetToken sets the credential sent with authenticated requests. An empty
// token clears it.
func (m *Manager) SetToken(token string) *Manager {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	m.token = token
	return m
}

// HasToken reports whether a credential is set.
func (m *Manager) HasToken() bool {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	return m.token != ""
}

func (m *Manager) currentToken() string {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	return m.token
}

// Options returns the effective configuration.
func (m *Manager) Options() Options {
	return m.opts
}

// Global returns the shared global limiter.
func (m *Manager) Global() *GlobalLimiter {
	return m.global
}

// Buckets returns the bucket hash registry.
func (m *Manager) Buckets() *BucketRegistry {
	return m.buckets
}

// Handlers returns the handler registry.
func (m *Manager) Handlers() *HandlerRegistry {
	return m.handlers
}

// Sweeper returns the sweep scheduler.
func (m *Manager) Sweeper() *Sweeper {
	return m.sweeper
}

// Submit sends a request through the scheduler and returns the raw response.
func (m *Manager) Submit(ctx context.Context, method, fullPath string, opts RequestOptions) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-m.closed:
		return nil, ErrClosed
	default:
	}

	routePath, query := splitQuery(fullPath)
	if len(query) > 0 {
		opts.Query = mergeQuery(query, opts.Query)
	}

	route := m.classify(method, routePath)
	req, err := m.resolveRequest(method, routePath, opts)
	if err != nil {
		return nil, err
	}

	handler, release := m.resolveHandler(route, method)
	defer release()

	return handler.QueueRequest(ctx, route, req)
}

// Get submits a GET request.
func (m *Manager) Get(ctx context.Context, fullPath string, opts RequestOptions) (*Response, error) {
	return m.Submit(ctx, http.MethodGet, fullPath, opts)
}

// Post submits a POST request.
func (m *Manager) Post(ctx context.Context, fullPath string, opts RequestOptions) (*Response, error) {
	return m.Submit(ctx, http.MethodPost, fullPath, opts)
}

// Put submits a PUT request.
func (m *Manager) Put(ctx context.Context, fullPath string, opts RequestOptions) (*Response, error) {
	return m.Submit(ctx, http.MethodPut, fullPath, opts)
}

// Patch submits a PATCH request.
func (m *Manager) Patch(ctx context.Context, fullPath string, opts RequestOptions) (*Response, error) {
	return m.Submit(ctx, http.MethodPatch, fullPath, opts)
}

// Delete submits a DELETE request.
func (m *Manager) Delete(ctx context.Context, fullPath string, opts RequestOptions) (*Response, error) {
	return m.Submit(ctx, http.MethodDelete, fullPath, opts)
}

// classify generalizes the route, folding configured burst routes into a
// single burst bucket.
func (m *Manager) classify(method, routePath string) core.RouteID {
	route := core.ClassifyRoute(method, routePath, m.now())
	for _, pattern := range m.opts.BurstRoutes {
		if ok, _ := path.Match(pattern, routePath); ok {
			route.BucketRoute = pattern
			route.MajorParameter = burstMajorParameter
			break
		}
	}
	return route
}

// resolveHandler finds the handler for route, creating it on first use.
func (m *Manager) resolveHandler(route core.RouteID, method string) (Handler, func()) {
	hash, ok := m.buckets.Get(core.HashKey(method, route.BucketRoute))
	if !ok {
		hash = core.SyntheticHash(method, route.BucketRoute)
	}

	id := hash.Value + ":" + route.MajorParameter
	return m.handlers.Acquire(id, func() Handler {
		if route.MajorParameter == burstMajorParameter {
			return NewBurstHandler(m, hash.Value, route.MajorParameter)
		}
		return NewSequentialHandler(m, hash.Value, route.MajorParameter)
	})
}

// recordBucket stores a bucket hash reported by the server, or refreshes its
// last access when it is unchanged.
func (m *Manager) recordBucket(route core.RouteID, method, current, reported string, debug func(string)) {
	if reported == "" {
		return
	}
	key := core.HashKey(method, route.BucketRoute)
	now := m.now()
	if reported != current {
		debug(fmt.Sprintf("Received bucket hash update\n  Old Hash  : %s\n  New Hash  : %s", current, reported))
		m.buckets.Set(key, core.BucketHash{Value: reported, LastAccess: now.UnixMilli()})
		return
	}
	m.buckets.Touch(key, now)
}

// SweepHashes evicts bucket hashes idle longer than the hash lifetime.
func (m *Manager) SweepHashes() map[string]core.BucketHash {
	evicted := m.buckets.Sweep(m.now(), m.opts.HashLifetime)
	for key, hash := range evicted {
		m.hooks.debug(fmt.Sprintf("Hash %s for %s swept due to lifetime being exceeded", hash.Value, key))
	}
	m.hooks.debug(fmt.Sprintf("Hash Collection: Swept %d hashes", len(evicted)))
	m.hooks.hashSweep(evicted)
	return evicted
}

// SweepHandlers evicts idle handlers.
func (m *Manager) SweepHandlers() []string {
	evicted := m.handlers.Sweep()
	for _, id := range evicted {
		m.hooks.debug(fmt.Sprintf("Handler %s swept due to being inactive", id))
	}
	m.hooks.debug(fmt.Sprintf("Handler Collection: Swept %d handlers", len(evicted)))
	m.hooks.handlerSweep(evicted)
	return evicted
}

// Restore loads persisted bucket hashes, keeping any already learned.
func (m *Manager) Restore(ctx context.Context, store HashStore) (int, error) {
	if store == nil {
		return 0, nil
	}
	hashes, err := store.LoadBucketHashes(ctx)
	if err != nil {
		return 0, fmt.Errorf("load bucket hashes: %w", err)
	}
	fresh := make(map[string]core.BucketHash, len(hashes))
	now := m.now()
	for key, hash := range hashes {
		if hash.Synthetic() || hash.Expired(now, m.opts.HashLifetime) {
			continue
		}
		fresh[key] = hash
	}
	return m.buckets.Merge(fresh), nil
}

// Persist saves the learned bucket hashes.
func (m *Manager) Persist(ctx context.Context, store HashStore) error {
	if store == nil {
		return nil
	}
	if err := store.SaveBucketHashes(ctx, m.buckets.Snapshot()); err != nil {
		return fmt.Errorf("save bucket hashes: %w", err)
	}
	return nil
}

func (m *Manager) now() time.Time {
	return m.opts.Clock()
}
