package host

import (
	"net/http"

	"github.com/jonwraymond/offlinecache/agent"
	"github.com/jonwraymond/offlinecache/cache"
	"github.com/jonwraymond/offlinecache/health"
	"github.com/jonwraymond/offlinecache/observe"
)

// NewHealth returns an aggregator reporting the agent lifecycle ("agent")
// and the generations held by storage ("generations").
func NewHealth(a *agent.Agent, storage cache.Storage) *health.Aggregator {
	agg := health.NewAggregator()
	agg.Register("agent", a.HealthChecker())
	agg.Register("generations", health.NewGenerationChecker(storage, a.Version()))
	return agg
}

// AdminMux serves the health endpoints of agg and, when obs is non-nil,
// the metrics scrape endpoint at /metrics. It is meant for a listener
// separate from the site itself.
func AdminMux(agg *health.Aggregator, obs observe.Observer) *http.ServeMux {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, agg)
	if obs != nil {
		mux.Handle("GET /metrics", obs.MetricsHandler())
	}
	return mux
}
