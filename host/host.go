package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/offlinecache/agent"
	"github.com/jonwraymond/offlinecache/cache"
	"github.com/jonwraymond/offlinecache/observe"
	"github.com/jonwraymond/offlinecache/resilience"
)

// maxRequestBody caps request bodies read from incoming passthrough requests.
const maxRequestBody = 10 << 20

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// clientNegotiation headers make the upstream answer one client's
// validators or encodings. A GET response may be stored and replayed to
// every client, so they are dropped and the transport negotiates and
// decodes compression itself.
var clientNegotiation = []string{
	"Accept-Encoding",
	"If-Match",
	"If-Modified-Since",
	"If-None-Match",
	"If-Range",
	"If-Unmodified-Since",
}

// Host is an HTTP runtime for an offline cache agent.
//
// Contract:
//   - Concurrency: ServeHTTP is safe for concurrent use. Start must not be
//     called concurrently with itself.
//   - Routing: requests reach the fetch handler only after Claim.
//   - Errors: handler and network failures are answered with 502.
type Host struct {
	origin  *url.URL
	network agent.Fetcher
	retry   *resilience.Retry
	exec    *resilience.Executor
	mw      *observe.Middleware
	obs     observe.Observer
	logger  observe.Logger
	version string

	installTimeout time.Duration

	mu       sync.RWMutex
	install  agent.PhaseHandler
	activate agent.PhaseHandler
	fetch    agent.FetchHandler

	controlling atomic.Bool
}

// Option configures a Host.
type Option func(*Host)

// WithNetwork sets the fetcher used for passthrough requests.
// Default: NewHTTPFetcher().
func WithNetwork(f agent.Fetcher) Option {
	return func(h *Host) {
		h.network = f
	}
}

// WithRetry sets the install retry policy.
// Default: 3 attempts with exponential backoff from 500ms, retrying only
// errors that wrap agent.ErrInstallFailed.
func WithRetry(r *resilience.Retry) Option {
	return func(h *Host) {
		h.retry = r
	}
}

// WithInstallTimeout bounds each install attempt. A timed-out attempt
// is not retried. Zero disables the bound.
func WithInstallTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.installTimeout = d
	}
}

// WithMiddleware sets the observability middleware wrapped around each
// lifecycle phase.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(h *Host) {
		h.mw = mw
	}
}

// WithObserver derives the phase middleware and the logger from obs.
// Explicit WithMiddleware and WithLogger options take precedence.
func WithObserver(obs observe.Observer) Option {
	return func(h *Host) {
		h.obs = obs
	}
}

// WithLogger sets the logger for routing and claim events.
func WithLogger(l observe.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithVersion labels lifecycle telemetry with the cache version.
func WithVersion(v string) Option {
	return func(h *Host) {
		h.version = v
	}
}

// New creates a host serving the site at origin.
func New(origin string, opts ...Option) (*Host, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrigin, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}

	h := &Host{origin: u}
	for _, opt := range opts {
		opt(h)
	}
	if h.obs != nil {
		if h.logger == nil {
			h.logger = h.obs.Logger()
		}
		if h.mw == nil {
			mw, err := observe.MiddlewareFromObserver(h.obs)
			if err != nil {
				return nil, fmt.Errorf("host: observer: %w", err)
			}
			h.mw = mw
		}
	}
	if h.logger == nil {
		h.logger = observe.NopLogger()
	}
	if h.network == nil {
		h.network = NewHTTPFetcher()
	}
	if h.mw == nil {
		h.mw = observe.NewMiddleware(nil, nil, h.logger)
	}
	if h.retry == nil {
		h.retry = h.defaultRetry()
	}

	execOpts := []resilience.ExecutorOption{resilience.WithRetry(h.retry)}
	if h.installTimeout > 0 {
		execOpts = append(execOpts, resilience.WithTimeout(h.installTimeout))
	}
	h.exec = resilience.NewExecutor(execOpts...)
	return h, nil
}

func (h *Host) defaultRetry() *resilience.Retry {
	return resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Strategy:     resilience.BackoffExponential,
		Jitter:       true,
		RetryIf: func(err error) bool {
			return errors.Is(err, agent.ErrInstallFailed)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			h.logger.Warn(context.Background(), "retrying install",
				observe.Field{Key: "attempt", Value: attempt},
				observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
				observe.Field{Key: "error", Value: err},
			)
		},
	})
}

// Network returns the passthrough fetcher, suitable as the agent's
// network primitive.
func (h *Host) Network() agent.Fetcher {
	return h.network
}

// OnInstall registers the install handler.
func (h *Host) OnInstall(fn agent.PhaseHandler) {
	h.mu.Lock()
	h.install = fn
	h.mu.Unlock()
}

// OnActivate registers the activate handler.
func (h *Host) OnActivate(fn agent.PhaseHandler) {
	h.mu.Lock()
	h.activate = fn
	h.mu.Unlock()
}

// OnFetch registers the fetch handler.
func (h *Host) OnFetch(fn agent.FetchHandler) {
	h.mu.Lock()
	h.fetch = fn
	h.mu.Unlock()
}

// Claim routes subsequent requests through the fetch handler.
func (h *Host) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !h.controlling.Swap(true) {
		h.logger.Info(ctx, "clients claimed")
	}
	return nil
}

// Controlling reports whether Claim has been called.
func (h *Host) Controlling() bool {
	return h.controlling.Load()
}

// Start runs the install phase under the retry policy and install
// timeout, then the activate phase. It blocks until both have settled.
func (h *Host) Start(ctx context.Context) error {
	h.mu.RLock()
	install, activate := h.install, h.activate
	h.mu.RUnlock()

	if install == nil || activate == nil {
		return ErrNotRegistered
	}

	installMeta := observe.EventMeta{Name: observe.EventInstall, Version: h.version}
	attempt := h.mw.Wrap(installMeta, observe.PhaseFunc(install))
	if err := h.exec.Execute(ctx, attempt); err != nil {
		return fmt.Errorf("host: install: %w", err)
	}

	activateMeta := observe.EventMeta{Name: observe.EventActivate, Version: h.version}
	if err := h.mw.Wrap(activateMeta, observe.PhaseFunc(activate))(ctx); err != nil {
		return fmt.Errorf("host: activate: %w", err)
	}
	return nil
}

// ServeHTTP answers r through the fetch handler when controlling, and
// from the network otherwise or when the handler declines.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := h.requestFrom(r)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ErrBodyTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), code)
		return
	}

	var (
		resp    *cache.Response
		handled bool
	)
	if h.controlling.Load() {
		h.mu.RLock()
		fetch := h.fetch
		h.mu.RUnlock()
		if fetch != nil {
			resp, handled, err = fetch(ctx, req)
		}
	}
	if !handled {
		resp, err = h.network.Fetch(ctx, req)
	}

	if err != nil {
		h.logger.Warn(ctx, "request failed",
			observe.Field{Key: "url", Value: req.URL},
			observe.Field{Key: "error", Value: err},
		)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeResponse(w, r, resp)
}

// requestFrom converts an incoming request into a cache request for the
// equivalent upstream URL.
func (h *Host) requestFrom(r *http.Request) (cache.Request, error) {
	ref := &url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery}
	req := cache.Request{
		Method: r.Method,
		URL:    h.origin.ResolveReference(ref).String(),
		Header: r.Header.Clone(),
		Mode:   detectMode(r),
	}
	for _, name := range hopHeaders {
		req.Header.Del(name)
	}
	if r.Method == http.MethodGet {
		for _, name := range clientNegotiation {
			req.Header.Del(name)
		}
	}

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			return req, fmt.Errorf("host: read request body: %w", err)
		}
		if len(body) > maxRequestBody {
			return req, fmt.Errorf("%w: request exceeds %d bytes", ErrBodyTooLarge, maxRequestBody)
		}
		req.Body = body
	}
	return req, nil
}

// detectMode derives the fetch mode from Sec-Fetch-Mode. Without it, a GET
// is a navigation when Sec-Fetch-Dest is document or when text/html is the
// first media type in Accept, as browsers send for page loads. Scripted
// requests that merely accept HTML are not navigations.
func detectMode(r *http.Request) cache.Mode {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return cache.ParseMode(mode)
	}
	if r.Method != http.MethodGet {
		return cache.ModeNoCORS
	}
	if r.Header.Get("Sec-Fetch-Dest") == "document" || firstMediaType(r.Header.Get("Accept")) == "text/html" {
		return cache.ModeNavigate
	}
	return cache.ModeNoCORS
}

func firstMediaType(accept string) string {
	first, _, _ := strings.Cut(accept, ",")
	mediaType, _, _ := strings.Cut(first, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *cache.Response) {
	header := w.Header()
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
	if r.Method != http.MethodHead {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

var (
	_ agent.Runtime = (*Host)(nil)
	_ http.Handler  = (*Host)(nil)
)
