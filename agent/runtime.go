package agent

import (
	"context"

	"github.com/jonwraymond/offlinecache/cache"
)

// Fetcher is the network fetch primitive.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Fetch must honor cancellation and deadlines.
//   - Errors: a transport failure returns an error; an HTTP error status is
//     a response, not an error. A nil error implies a non-nil response.
type Fetcher interface {
	Fetch(ctx context.Context, req cache.Request) (*cache.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req cache.Request) (*cache.Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	return f(ctx, req)
}

// PhaseHandler handles the install or activate event. The runtime treats
// the phase as settled only when the handler returns.
type PhaseHandler func(ctx context.Context) error

// FetchHandler answers an intercepted request. ok=false means the handler
// declined and the runtime should use the network directly.
type FetchHandler func(ctx context.Context, req cache.Request) (resp *cache.Response, ok bool, err error)

// Runtime delivers lifecycle events to the agent and provides client
// takeover.
//
// Contract:
//   - Registration: each On* call replaces any previous handler.
//   - Concurrency: fetch handlers may be invoked concurrently; phase
//     handlers are invoked one at a time.
//   - Claim: after Claim returns nil, every open client's requests are
//     routed through the fetch handler.
type Runtime interface {
	OnInstall(h PhaseHandler)
	OnActivate(h PhaseHandler)
	OnFetch(h FetchHandler)
	Claim(ctx context.Context) error
}

// Register binds the agent's handlers to rt. Activate claims clients
// through the most recently registered runtime.
func (a *Agent) Register(rt Runtime) {
	a.mu.Lock()
	a.runtime = rt
	a.mu.Unlock()

	rt.OnInstall(a.Install)
	rt.OnActivate(a.Activate)
	rt.OnFetch(a.Fetch)
}

func (a *Agent) registeredRuntime() Runtime {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runtime
}
