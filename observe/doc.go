// Package observe provides observability primitives for the offline cache agent.
//
// It covers structured JSON logging, OpenTelemetry tracing and metrics for
// lifecycle phases (install, activate) and fetch interception. It performs no
// I/O beyond exporter setup; the host wires the Middleware around phases and
// the agent reports fetch outcomes through Metrics.
package observe
