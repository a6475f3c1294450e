// Package health reports whether the offline cache is usable.
//
// A Checker reports a Status of Healthy, Degraded, or Unhealthy. The
// Aggregator runs many checkers in parallel and reduces their results to a
// single status, which the HTTP handlers expose as probes.
//
// # Checkers
//
// GenerationChecker inspects cache storage: the current generation must
// exist, and stale generations left behind by an interrupted activation
// degrade the status.
//
//	agg := health.NewAggregator()
//	agg.Register("generations", health.NewGenerationChecker(storage, "portfolio-v1.1"))
//	agg.Register("agent", a.HealthChecker())
//
// # HTTP Endpoints
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//
// registers /healthz (liveness), /readyz (readiness), /health (detailed
// JSON), and /health/{name} (one checker).
package health
