package host

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jonwraymond/offlinecache/agent"
	"github.com/jonwraymond/offlinecache/cache"
	"github.com/jonwraymond/offlinecache/observe"
	"github.com/jonwraymond/offlinecache/resilience"
)

const testVersion = "portfolio-v1.1"

// upstream is a fake origin site that counts hits per path.
type upstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	failures map[string]int
	delay    time.Duration
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{hits: make(map[string]int), failures: make(map[string]int)}
	u.srv = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.hits[r.URL.Path]++
	fail := u.failures[r.URL.Path] > 0
	if fail {
		u.failures[r.URL.Path]--
	}
	delay := u.delay
	u.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case "/", "/index.html":
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>shell</html>")
	case "/styles.css":
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, "body{}")
	case "/about":
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>about</html>")
	case "/negotiated":
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			w.Header().Set("Content-Encoding", "br")
			_, _ = io.WriteString(w, "BROTLI")
			return
		}
		_, _ = io.WriteString(w, "plain")
	case "/contact":
		body, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, r.Method+":"+string(body))
	default:
		http.NotFound(w, r)
	}
}

func (u *upstream) hitCount(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[path]
}

func (u *upstream) failNext(path string, n int) {
	u.mu.Lock()
	u.failures[path] = n
	u.mu.Unlock()
}

type fixture struct {
	up      *upstream
	host    *Host
	agent   *agent.Agent
	storage *cache.MemoryStorage
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	up := newUpstream(t)

	opts = append([]Option{
		WithNetwork(NewHTTPFetcher(WithClient(up.srv.Client()))),
		WithVersion(testVersion),
	}, opts...)
	h, err := New(up.srv.URL, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	storage := cache.NewMemoryStorage()
	a, err := agent.New(agent.Config{
		Version:  testVersion,
		Manifest: []string{"/", "/index.html", "/styles.css"},
		Scope:    up.srv.URL + "/",
	}, storage, h.Network())
	if err != nil {
		t.Fatalf("agent.New() error = %v", err)
	}
	a.Register(h)

	return &fixture{up: up, host: h, agent: a, storage: storage}
}

func fastRetry(attempts int) *resilience.Retry {
	return resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		RetryIf: func(err error) bool {
			return errors.Is(err, agent.ErrInstallFailed)
		},
	})
}

func get(h http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_InvalidOrigin(t *testing.T) {
	for _, origin := range []string{"", "/relative", "http://[::1"} {
		if _, err := New(origin); !errors.Is(err, ErrInvalidOrigin) {
			t.Errorf("New(%q) error = %v, want ErrInvalidOrigin", origin, err)
		}
	}
}

func TestStart_NotRegistered(t *testing.T) {
	h, err := New("https://example.com")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Start() error = %v, want ErrNotRegistered", err)
	}
}

func TestStart_InstallsActivatesAndClaims(t *testing.T) {
	f := newFixture(t)

	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !f.host.Controlling() {
		t.Error("host should control clients after Start")
	}
	if f.agent.State() != agent.StateActivated {
		t.Errorf("agent state = %v, want activated", f.agent.State())
	}

	keys, _ := f.storage.Keys(context.Background())
	if !slices.Equal(keys, []string{testVersion}) {
		t.Errorf("Keys() = %v", keys)
	}

	rec := get(f.host, "/styles.css", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
		t.Errorf("GET /styles.css = %d %q", rec.Code, rec.Body.String())
	}
	if got := f.up.hitCount("/styles.css"); got != 1 {
		t.Errorf("upstream /styles.css hits = %d, want 1 (install only)", got)
	}
	if rec.Header().Get("Content-Type") != "text/css" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestStart_RetriesFailedInstall(t *testing.T) {
	f := newFixture(t, WithRetry(fastRetry(3)))
	f.up.failNext("/styles.css", 2)

	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.up.hitCount("/styles.css"); got != 3 {
		t.Errorf("upstream /styles.css hits = %d, want 3", got)
	}
	if f.agent.State() != agent.StateActivated {
		t.Errorf("agent state = %v, want activated", f.agent.State())
	}
}

func TestStart_InstallExhausted(t *testing.T) {
	f := newFixture(t, WithRetry(fastRetry(2)))
	f.up.failNext("/styles.css", 10)

	err := f.host.Start(context.Background())
	if !errors.Is(err, agent.ErrInstallFailed) {
		t.Errorf("Start() error = %v, want ErrInstallFailed", err)
	}
	if !errors.Is(err, resilience.ErrMaxRetriesExceeded) {
		t.Errorf("Start() error = %v, want ErrMaxRetriesExceeded", err)
	}
	if f.host.Controlling() {
		t.Error("host must not claim clients after a failed install")
	}
	if has, _ := f.storage.Has(context.Background(), testVersion); has {
		t.Error("failed install left a generation behind")
	}
}

func TestStart_InstallTimeout(t *testing.T) {
	f := newFixture(t, WithRetry(fastRetry(3)), WithInstallTimeout(50*time.Millisecond))
	f.up.mu.Lock()
	f.up.delay = 5 * time.Second
	f.up.mu.Unlock()

	start := time.Now()
	err := f.host.Start(context.Background())
	if !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("Start() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Start() took %v, want the install bound to apply", elapsed)
	}
	if f.host.Controlling() {
		t.Error("host must not claim clients after a timed-out install")
	}
}

func TestStart_PhaseTelemetry(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mw := observe.NewMiddleware(observe.NewTracer(tp.Tracer("test")), nil, nil)

	f := newFixture(t, WithMiddleware(mw))
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	if !slices.Equal(names, []string{"offlinecache.install", "offlinecache.activate"}) {
		t.Errorf("span names = %v", names)
	}
}

func TestWithObserver(t *testing.T) {
	var logs strings.Builder
	cfg := observe.DefaultConfig(testVersion)
	cfg.Logging.Output = &logs
	obs, err := observe.NewObserver(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	defer obs.Shutdown(context.Background())

	f := newFixture(t, WithObserver(obs))
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	out := logs.String()
	for _, want := range []string{`"msg":"phase completed"`, `"msg":"clients claimed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("logs missing %s:\n%s", want, out)
		}
	}
}

func TestServeHTTP_BeforeClaimUsesNetwork(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		rec := get(f.host, "/about", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /about = %d", rec.Code)
		}
	}
	if got := f.up.hitCount("/about"); got != 2 {
		t.Errorf("upstream /about hits = %d, want 2", got)
	}
}

func TestServeHTTP_MissIsCachedAfterClaim(t *testing.T) {
	f := newFixture(t)
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := get(f.host, "/about", nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "<html>about</html>" {
			t.Fatalf("GET /about = %d %q", rec.Code, rec.Body.String())
		}
	}
	if got := f.up.hitCount("/about"); got != 1 {
		t.Errorf("upstream /about hits = %d, want 1", got)
	}
}

func TestServeHTTP_NotFoundIsNotCached(t *testing.T) {
	f := newFixture(t)
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if rec := get(f.host, "/nope", nil); rec.Code != http.StatusNotFound {
			t.Fatalf("GET /nope = %d, want 404", rec.Code)
		}
	}
	if got := f.up.hitCount("/nope"); got != 2 {
		t.Errorf("upstream /nope hits = %d, want 2", got)
	}
}

func TestServeHTTP_PostPassesThrough(t *testing.T) {
	f := newFixture(t)
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader("hi"))
		rec := httptest.NewRecorder()
		f.host.ServeHTTP(rec, req)
		if rec.Body.String() != "POST:hi" {
			t.Fatalf("POST /contact body = %q", rec.Body.String())
		}
	}
	if got := f.up.hitCount("/contact"); got != 2 {
		t.Errorf("upstream /contact hits = %d, want 2", got)
	}
}

func TestServeHTTP_Offline(t *testing.T) {
	f := newFixture(t)
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.up.srv.Close()

	t.Run("navigation gets the shell", func(t *testing.T) {
		rec := get(f.host, "/about", http.Header{"Sec-Fetch-Mode": []string{"navigate"}})
		if rec.Code != http.StatusOK || rec.Body.String() != "<html>shell</html>" {
			t.Errorf("GET /about = %d %q, want shell", rec.Code, rec.Body.String())
		}
	})

	t.Run("html accept counts as navigation", func(t *testing.T) {
		rec := get(f.host, "/blog", http.Header{"Accept": []string{"text/html,application/xhtml+xml"}})
		if rec.Code != http.StatusOK || rec.Body.String() != "<html>shell</html>" {
			t.Errorf("GET /blog = %d %q, want shell", rec.Code, rec.Body.String())
		}
	})

	t.Run("scripted request accepting html fails", func(t *testing.T) {
		rec := get(f.host, "/api/projects", http.Header{"Accept": []string{"application/json, text/html"}})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("GET /api/projects = %d, want 502", rec.Code)
		}
	})

	t.Run("precached asset still served", func(t *testing.T) {
		rec := get(f.host, "/styles.css", nil)
		if rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
			t.Errorf("GET /styles.css = %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("subresource fails with bad gateway", func(t *testing.T) {
		rec := get(f.host, "/photo.png", http.Header{"Sec-Fetch-Mode": []string{"no-cors"}})
		if rec.Code != http.StatusBadGateway {
			t.Errorf("GET /photo.png = %d, want 502", rec.Code)
		}
	})
}

func TestClaim(t *testing.T) {
	h, _ := New("https://example.com")
	if h.Controlling() {
		t.Fatal("new host should not control clients")
	}
	if err := h.Claim(context.Background()); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !h.Controlling() {
		t.Error("Claim should set controlling mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Claim(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Claim(cancelled) error = %v", err)
	}
}

func TestDetectMode(t *testing.T) {
	tests := []struct {
		name   string
		method string
		header http.Header
		want   cache.Mode
	}{
		{"sec-fetch navigate", http.MethodGet, http.Header{"Sec-Fetch-Mode": {"navigate"}}, cache.ModeNavigate},
		{"sec-fetch cors", http.MethodGet, http.Header{"Sec-Fetch-Mode": {"cors"}}, cache.ModeCORS},
		{"sec-fetch wins over accept", http.MethodGet, http.Header{
			"Sec-Fetch-Mode": {"no-cors"},
			"Accept":         {"text/html"},
		}, cache.ModeNoCORS},
		{"accept html", http.MethodGet, http.Header{"Accept": {"text/html"}}, cache.ModeNavigate},
		{"browser page load", http.MethodGet, http.Header{
			"Accept": {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		}, cache.ModeNavigate},
		{"html listed later", http.MethodGet, http.Header{"Accept": {"application/json, text/html"}}, cache.ModeNoCORS},
		{"scripted any", http.MethodGet, http.Header{"Accept": {"*/*, text/html;q=0.1"}}, cache.ModeNoCORS},
		{"sec-fetch-dest document", http.MethodGet, http.Header{
			"Sec-Fetch-Dest": {"document"},
			"Accept":         {"*/*"},
		}, cache.ModeNavigate},
		{"accept html on post", http.MethodPost, http.Header{"Accept": {"text/html"}}, cache.ModeNoCORS},
		{"no hints", http.MethodGet, http.Header{}, cache.ModeNoCORS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			r.Header = tt.header
			if got := detectMode(r); got != tt.want {
				t.Errorf("detectMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestFrom_ResolvesAgainstOrigin(t *testing.T) {
	h, _ := New("https://example.com/")
	r := httptest.NewRequest(http.MethodGet, "/styles.css?v=2", nil)
	r.Header.Set("Connection", "keep-alive")

	req, err := h.requestFrom(r)
	if err != nil {
		t.Fatalf("requestFrom() error = %v", err)
	}
	if req.URL != "https://example.com/styles.css?v=2" {
		t.Errorf("URL = %q", req.URL)
	}
	if req.Header.Get("Connection") != "" {
		t.Error("hop-by-hop headers should be dropped")
	}
}

func TestRequestFrom_DropsClientNegotiation(t *testing.T) {
	h, _ := New("https://example.com/")
	r := httptest.NewRequest(http.MethodGet, "/about", nil)
	r.Header.Set("Accept-Encoding", "gzip, br")
	r.Header.Set("If-None-Match", `"v1"`)
	r.Header.Set("If-Modified-Since", "Mon, 02 Jan 2006 15:04:05 GMT")
	r.Header.Set("Accept-Language", "en")

	req, err := h.requestFrom(r)
	if err != nil {
		t.Fatalf("requestFrom() error = %v", err)
	}
	for _, name := range []string{"Accept-Encoding", "If-None-Match", "If-Modified-Since"} {
		if v := req.Header.Get(name); v != "" {
			t.Errorf("%s = %q, want it dropped", name, v)
		}
	}
	if req.Header.Get("Accept-Language") != "en" {
		t.Error("other request headers should be forwarded")
	}
}

func TestServeHTTP_StoredResponseIgnoresClientNegotiation(t *testing.T) {
	f := newFixture(t)
	if err := f.host.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	first := get(f.host, "/negotiated", http.Header{
		"Accept-Encoding": {"br"},
		"If-None-Match":   {`"stale"`},
	})
	if first.Code != http.StatusOK || first.Body.String() != "plain" {
		t.Fatalf("first GET /negotiated = %d %q, want 200 plain", first.Code, first.Body.String())
	}
	if enc := first.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want identity", enc)
	}

	second := get(f.host, "/negotiated", nil)
	if second.Code != http.StatusOK || second.Body.String() != "plain" {
		t.Errorf("second GET /negotiated = %d %q, want 200 plain", second.Code, second.Body.String())
	}
	if got := f.up.hitCount("/negotiated"); got != 1 {
		t.Errorf("upstream /negotiated hits = %d, want 1", got)
	}
}
