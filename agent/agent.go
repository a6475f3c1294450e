package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/offlinecache/cache"
	"github.com/jonwraymond/offlinecache/observe"
	"github.com/jonwraymond/offlinecache/resilience"
)

// Agent is the offline cache agent.
//
// Contract:
//   - Concurrency: Fetch is safe for concurrent use. Install and Activate
//     are serialized by the lifecycle state machine.
//   - Ownership: responses returned by Fetch belong to the caller.
//   - Errors: storage and network failures are logged and returned, except
//     where noted on each method.
type Agent struct {
	cfg      Config
	assets   resolvedConfig
	scope    *url.URL
	storage  cache.Storage
	fetcher  Fetcher
	logger   observe.Logger
	metrics  observe.Metrics
	deadline *resilience.Timeout

	mu      sync.Mutex
	state   State
	runtime Runtime
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. Default: a no-op logger.
func WithLogger(l observe.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the fetch metrics recorder. Default: no-op metrics.
func WithMetrics(m observe.Metrics) Option {
	return func(a *Agent) {
		if m != nil {
			a.metrics = m
		}
	}
}

// New creates an agent in StateParsed.
func New(cfg Config, storage cache.Storage, fetcher Fetcher, opts ...Option) (*Agent, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}

	cfg = cfg.withDefaults()
	assets, err := cfg.resolved()
	if err != nil {
		return nil, err
	}
	scope, err := parseScope(cfg.Scope)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		cfg:     cfg,
		assets:  assets,
		scope:   scope,
		storage: storage,
		fetcher: fetcher,
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
		state:   StateParsed,
	}
	if cfg.FetchTimeout > 0 {
		a.deadline = resilience.NewTimeout(resilience.TimeoutConfig{Timeout: cfg.FetchTimeout})
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Version returns the name of the generation this agent maintains.
func (a *Agent) Version() string {
	return a.cfg.Version
}

// Manifest returns the resolved asset URLs in install order.
func (a *Agent) Manifest() []string {
	return append([]string(nil), a.assets.manifest...)
}

func (a *Agent) eventLogger(name string) observe.Logger {
	return a.logger.WithEvent(observe.EventMeta{Name: name, Version: a.cfg.Version})
}

// Install populates the current generation with every manifest asset.
//
// All assets are fetched before any is stored. If any fetch fails or
// returns a non-2xx status nothing is stored, a generation created by this
// call is deleted, the agent moves to StateInstallFailed, and the error
// wraps ErrInstallFailed. Install is allowed from StateParsed and
// StateInstallFailed.
func (a *Agent) Install(ctx context.Context) error {
	if err := a.transition(StateInstalling, StateParsed, StateInstallFailed); err != nil {
		return err
	}

	logger := a.eventLogger(observe.EventInstall)
	if err := a.install(ctx, logger); err != nil {
		a.setState(StateInstallFailed)
		logger.Error(ctx, "failed to cache resources", observe.Field{Key: "error", Value: err})
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	a.setState(StateInstalled)
	logger.Info(ctx, "cache populated", observe.Field{Key: "assets", Value: len(a.assets.manifest)})
	return nil
}

func (a *Agent) install(ctx context.Context, logger observe.Logger) error {
	existed, err := a.storage.Has(ctx, a.cfg.Version)
	if err != nil {
		return fmt.Errorf("agent: check generation %q: %w", a.cfg.Version, err)
	}
	gen, err := a.storage.Open(ctx, a.cfg.Version)
	if err != nil {
		return fmt.Errorf("agent: open generation %q: %w", a.cfg.Version, err)
	}
	logger.Info(ctx, "cache opened", observe.Field{Key: "created", Value: !existed})

	err = a.precache(ctx, gen)
	if err != nil && !existed {
		// Use a fresh context: ctx may be the reason precache failed.
		if _, derr := a.storage.Delete(context.WithoutCancel(ctx), a.cfg.Version); derr != nil {
			logger.Warn(ctx, "failed to discard partial generation", observe.Field{Key: "error", Value: derr})
		}
	}
	return err
}

// precache fetches the whole manifest with bounded concurrency, then
// stores the responses in manifest order.
func (a *Agent) precache(ctx context.Context, gen cache.Generation) error {
	urls := a.assets.manifest
	responses := make([]*cache.Response, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.InstallConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			resp, err := a.network(gctx, cache.NewRequest(u))
			if err != nil {
				return fmt.Errorf("agent: fetch %s: %w", u, err)
			}
			if !resp.OK() {
				return fmt.Errorf("%w: %s returned %d", ErrBadStatus, u, resp.Status)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, u := range urls {
		if err := gen.Put(ctx, cache.NewRequest(u), responses[i]); err != nil {
			return fmt.Errorf("agent: store %s: %w", u, err)
		}
	}
	return nil
}

// network performs one network fetch, bounded by FetchTimeout when set.
// A timeout is reported as an error wrapping resilience.ErrTimeout.
func (a *Agent) network(ctx context.Context, req cache.Request) (*cache.Response, error) {
	if a.deadline == nil {
		return a.fetchOnce(ctx, req)
	}

	var resp *cache.Response
	err := a.deadline.Execute(ctx, func(ctx context.Context) error {
		r, err := a.fetchOnce(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *Agent) fetchOnce(ctx context.Context, req cache.Request) (*cache.Response, error) {
	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, cache.ErrNilResponse
	}
	return resp, nil
}

// Fetch answers an intercepted request cache-first.
//
// Non-GET requests are declined (ok=false). A cached response is returned
// without touching the network. On a miss the network response is
// returned, and stored first when its status is exactly 200 and the
// current generation exists; Fetch never creates one. A failure to store
// is logged and does not fail the request. When the network fails,
// navigation requests get the cached FallbackURL, or an error wrapping
// ErrNoFallback and the network error. Other network failures are
// returned unchanged.
func (a *Agent) Fetch(ctx context.Context, req cache.Request) (*cache.Response, bool, error) {
	if !req.IsGet() {
		return nil, false, nil
	}

	start := time.Now()
	req, err := a.normalize(req)
	meta := observe.EventMeta{
		Name:    observe.EventFetch,
		Version: a.cfg.Version,
		URL:     req.URL,
		Method:  http.MethodGet,
	}
	if err != nil {
		a.metrics.RecordFetch(ctx, meta, observe.SourceError, time.Since(start))
		return nil, true, err
	}

	resp, source, err := a.respond(ctx, req, a.logger.WithEvent(meta))
	if err != nil {
		source = observe.SourceError
	}
	a.metrics.RecordFetch(ctx, meta, source, time.Since(start))
	return resp, true, err
}

// normalize resolves a relative request URL against the scope.
func (a *Agent) normalize(req cache.Request) (cache.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return req, fmt.Errorf("%w: %w", cache.ErrInvalidKey, err)
	}
	if u.IsAbs() {
		return req, nil
	}
	req.URL = a.scope.ResolveReference(u).String()
	return req, nil
}

// current returns the current generation, or nil when it does not exist.
// It never creates one: only Install does.
func (a *Agent) current(ctx context.Context) (cache.Generation, error) {
	exists, err := a.storage.Has(ctx, a.cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("agent: check generation %q: %w", a.cfg.Version, err)
	}
	if !exists {
		return nil, nil
	}
	gen, err := a.storage.Open(ctx, a.cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("agent: open generation %q: %w", a.cfg.Version, err)
	}
	return gen, nil
}

func (a *Agent) respond(ctx context.Context, req cache.Request, logger observe.Logger) (*cache.Response, observe.FetchSource, error) {
	gen, err := a.current(ctx)
	if err != nil {
		logger.Error(ctx, "fetch event failed", observe.Field{Key: "error", Value: err})
		return nil, "", err
	}

	if gen != nil {
		cached, ok, err := gen.Match(ctx, req)
		if err != nil {
			logger.Error(ctx, "fetch event failed", observe.Field{Key: "error", Value: err})
			return nil, "", fmt.Errorf("agent: match %s: %w", req.URL, err)
		}
		if ok {
			return cached, observe.SourceCache, nil
		}
	}

	resp, err := a.network(ctx, req)
	if err != nil {
		logger.Warn(ctx, "network request failed", observe.Field{Key: "error", Value: err})
		if !req.IsNavigation() {
			return nil, "", err
		}
		return a.fallback(ctx, gen, err, logger)
	}

	// Without a generation there is nowhere to store; Install creates it.
	if gen != nil && resp.Status == http.StatusOK {
		if perr := gen.Put(ctx, req, resp); perr != nil {
			logger.Warn(ctx, "failed to cache response", observe.Field{Key: "error", Value: perr})
		}
	}
	return resp, observe.SourceNetwork, nil
}

func (a *Agent) fallback(ctx context.Context, gen cache.Generation, netErr error, logger observe.Logger) (*cache.Response, observe.FetchSource, error) {
	if gen == nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrNoFallback, a.assets.fallback, netErr)
	}
	shell, ok, err := gen.Match(ctx, cache.NewRequest(a.assets.fallback))
	if err != nil {
		logger.Error(ctx, "fetch event failed", observe.Field{Key: "error", Value: err})
		return nil, "", fmt.Errorf("agent: match fallback: %w (network: %w)", err, netErr)
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrNoFallback, a.assets.fallback, netErr)
	}
	logger.Info(ctx, "serving offline fallback", observe.Field{Key: "fallback", Value: a.assets.fallback})
	return shell, observe.SourceFallback, nil
}

// Activate makes the current generation the only one and claims clients.
//
// Every generation whose name differs from the configured version is
// deleted; enumeration and deletion failures are logged, not returned.
// The agent becomes StateActivated before the claim is attempted, and a
// claim failure is logged and returned. Activate requires StateInstalled.
func (a *Agent) Activate(ctx context.Context) error {
	if err := a.transition(StateActivating, StateInstalled); err != nil {
		return err
	}

	logger := a.eventLogger(observe.EventActivate)
	a.prune(ctx, logger)
	a.setState(StateActivated)

	rt := a.registeredRuntime()
	if rt == nil {
		return nil
	}
	if err := rt.Claim(ctx); err != nil {
		logger.Error(ctx, "failed to claim clients", observe.Field{Key: "error", Value: err})
		return fmt.Errorf("agent: claim clients: %w", err)
	}
	return nil
}

func (a *Agent) prune(ctx context.Context, logger observe.Logger) {
	names, err := a.storage.Keys(ctx)
	if err != nil {
		logger.Error(ctx, "failed to clean up old caches", observe.Field{Key: "error", Value: err})
		return
	}

	for _, name := range names {
		if name == a.cfg.Version {
			continue
		}
		logger.Info(ctx, "deleting old cache", observe.Field{Key: "cache.name", Value: name})
		if _, err := a.storage.Delete(ctx, name); err != nil {
			logger.Error(ctx, "failed to delete old cache",
				observe.Field{Key: "cache.name", Value: name},
				observe.Field{Key: "error", Value: err},
			)
		}
	}
}
