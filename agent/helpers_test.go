package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/offlinecache/cache"
)

const testScope = "https://example.com/"

var errOffline = errors.New("network unreachable")

// fakeNetwork serves "body of <url>" with status 200 unless told otherwise.
type fakeNetwork struct {
	mu      sync.Mutex
	calls   map[string]int
	status  map[string]int
	fail    map[string]error
	offline bool
	delay   time.Duration
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		calls:  make(map[string]int),
		status: make(map[string]int),
		fail:   make(map[string]error),
	}
}

func (n *fakeNetwork) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	n.mu.Lock()
	n.calls[req.URL]++
	offline := n.offline
	delay := n.delay
	failErr := n.fail[req.URL]
	status, ok := n.status[req.URL]
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if offline {
		return nil, errOffline
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		status = http.StatusOK
	}
	return &cache.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte("body of " + req.URL),
		URL:    req.URL,
	}, nil
}

func (n *fakeNetwork) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNetwork) setDelay(d time.Duration) {
	n.mu.Lock()
	n.delay = d
	n.mu.Unlock()
}

func (n *fakeNetwork) setStatus(url string, status int) {
	n.mu.Lock()
	n.status[url] = status
	n.mu.Unlock()
}

func (n *fakeNetwork) setFail(url string, err error) {
	n.mu.Lock()
	if err == nil {
		delete(n.fail, url)
	} else {
		n.fail[url] = err
	}
	n.mu.Unlock()
}

func (n *fakeNetwork) callCount(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

func (n *fakeNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

// faultyStorage wraps MemoryStorage with injectable failures.
type faultyStorage struct {
	*cache.MemoryStorage

	mu        sync.Mutex
	openErr   error
	keysErr   error
	deleteErr error
	putErr    error
	matchErr  error
}

func newFaultyStorage() *faultyStorage {
	return &faultyStorage{MemoryStorage: cache.NewMemoryStorage()}
}

func (s *faultyStorage) set(fn func(s *faultyStorage)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *faultyStorage) errFor(pick func(s *faultyStorage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pick(s)
}

func (s *faultyStorage) Open(ctx context.Context, name string) (cache.Generation, error) {
	if err := s.errFor(func(s *faultyStorage) error { return s.openErr }); err != nil {
		return nil, err
	}
	gen, err := s.MemoryStorage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyGeneration{Generation: gen, storage: s}, nil
}

func (s *faultyStorage) Keys(ctx context.Context) ([]string, error) {
	if err := s.errFor(func(s *faultyStorage) error { return s.keysErr }); err != nil {
		return nil, err
	}
	return s.MemoryStorage.Keys(ctx)
}

func (s *faultyStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.errFor(func(s *faultyStorage) error { return s.deleteErr }); err != nil {
		return false, err
	}
	return s.MemoryStorage.Delete(ctx, name)
}

type faultyGeneration struct {
	cache.Generation
	storage *faultyStorage
}

func (g *faultyGeneration) Put(ctx context.Context, req cache.Request, resp *cache.Response) error {
	if err := g.storage.errFor(func(s *faultyStorage) error { return s.putErr }); err != nil {
		return err
	}
	return g.Generation.Put(ctx, req, resp)
}

func (g *faultyGeneration) Match(ctx context.Context, req cache.Request) (*cache.Response, bool, error) {
	if err := g.storage.errFor(func(s *faultyStorage) error { return s.matchErr }); err != nil {
		return nil, false, err
	}
	return g.Generation.Match(ctx, req)
}

// fakeRuntime records registered handlers and claims.
type fakeRuntime struct {
	mu       sync.Mutex
	install  PhaseHandler
	activate PhaseHandler
	fetch    FetchHandler
	claims   int
	claimErr error
}

func (r *fakeRuntime) OnInstall(h PhaseHandler)  { r.install = h }
func (r *fakeRuntime) OnActivate(h PhaseHandler) { r.activate = h }
func (r *fakeRuntime) OnFetch(h FetchHandler)    { r.fetch = h }

func (r *fakeRuntime) Claim(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims++
	return r.claimErr
}

func testConfig() Config {
	return Config{
		Version:  "portfolio-v1.1",
		Manifest: []string{"/", "/index.html", "/styles.css"},
		Scope:    testScope,
	}
}

func newTestAgent(t *testing.T, cfg Config, storage cache.Storage, net Fetcher, opts ...Option) *Agent {
	t.Helper()
	a, err := New(cfg, storage, net, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func installed(t *testing.T, cfg Config, storage cache.Storage, net Fetcher, opts ...Option) *Agent {
	t.Helper()
	a := newTestAgent(t, cfg, storage, net, opts...)
	if err := a.Install(context.Background()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	return a
}

func navigate(url string) cache.Request {
	req := cache.NewRequest(url)
	req.Mode = cache.ModeNavigate
	return req
}
