// Package metric provides Prometheus metrics for Retouch.
//
// A Registry owns a private prometheus.Registry with every application
// metric registered through promauto. Components record through Registry
// methods, all of which are safe on a nil *Registry so that metrics stay
// optional in tests and embedded use.
//
// Metrics include:
//
//   - Editor sessions and inbound commands by type and result
//   - Filter updates by tool
//   - History commits, restores and gate-suppressed events
//   - Autosave persists by result and latency
//   - HTTP requests and canvas store operations
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
