package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "retouch"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsOpened prometheus.Counter
	CommandsTotal  *prometheus.CounterVec
	FilterUpdates  *prometheus.CounterVec

	// History metrics
	HistoryCommits    prometheus.Counter
	HistoryDuplicates prometheus.Counter
	HistoryEvictions  prometheus.Counter
	HistoryRestores   *prometheus.CounterVec
	HistorySuppressed prometheus.Counter

	// Autosave metrics
	AutosaveTotal    *prometheus.CounterVec
	AutosaveDuration prometheus.Histogram

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Storage metrics
	StoreOps      *prometheus.CounterVec
	SnapshotBytes prometheus.Histogram
}

// NewRegistry creates a registry with all metrics registered, plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newRegistry(reg)
}

// Discard creates a registry that is never exposed. It has no runtime
// collectors.
func Discard() *Registry {
	return newRegistry(prometheus.NewRegistry())
}

func newRegistry(reg *prometheus.Registry) *Registry {
	f := promauto.With(reg)

	return &Registry{
		registry: reg,

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open editor sessions.",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Editor sessions opened.",
		}),
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound editor commands by type and result.",
		}, []string{"type", "result"}),
		FilterUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_updates_total",
			Help:      "Filter slider updates by tool and result.",
		}, []string{"tool", "result"}),

		HistoryCommits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "commits_total",
			Help:      "Snapshots appended to undo history.",
		}),
		HistoryDuplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "duplicates_total",
			Help:      "Snapshots dropped as identical to the current entry.",
		}),
		HistoryEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Oldest entries evicted by the history limit.",
		}),
		HistoryRestores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "restores_total",
			Help:      "Undo and redo restores by direction and result.",
		}, []string{"direction", "result"}),
		HistorySuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "suppressed_events_total",
			Help:      "Scene change events dropped while recording was suppressed.",
		}),

		AutosaveTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "persists_total",
			Help:      "Autosave persist attempts by result.",
		}, []string{"result"}),
		AutosaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "persist_duration_seconds",
			Help:      "Latency of remote autosave persists.",
			Buckets:   prometheus.DefBuckets,
		}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by protocol, method and status.",
		}, []string{"protocol", "method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by protocol and method.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"protocol", "method"}),

		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Canvas store operations by operation and result.",
		}, []string{"op", "result"}),
		SnapshotBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "snapshot_bytes",
			Help:      "Size of stored snapshot payloads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Registerer exposes the underlying registry to components that own their
// collectors, such as the storage engine.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// ============================================================================
// Recording helpers. All are no-ops on a nil Registry.
// ============================================================================

// IncSessionActive increments the open session gauge.
func (r *Registry) IncSessionActive() {
	if r == nil {
		return
	}
	r.SessionsActive.Inc()
	r.SessionsOpened.Inc()
}

// DecSessionActive decrements the open session gauge.
func (r *Registry) DecSessionActive() {
	if r == nil {
		return
	}
	r.SessionsActive.Dec()
}

// RecordCommand counts one inbound command.
func (r *Registry) RecordCommand(typ, result string) {
	if r == nil {
		return
	}
	r.CommandsTotal.WithLabelValues(typ, result).Inc()
}

// RecordFilterUpdate counts one slider update.
func (r *Registry) RecordFilterUpdate(tool, result string) {
	if r == nil {
		return
	}
	r.FilterUpdates.WithLabelValues(tool, result).Inc()
}

// IncHistoryCommit counts an appended history entry.
func (r *Registry) IncHistoryCommit() {
	if r == nil {
		return
	}
	r.HistoryCommits.Inc()
}

// IncHistoryDuplicate counts a suppressed duplicate snapshot.
func (r *Registry) IncHistoryDuplicate() {
	if r == nil {
		return
	}
	r.HistoryDuplicates.Inc()
}

// AddHistoryEvictions counts evicted history entries.
func (r *Registry) AddHistoryEvictions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.HistoryEvictions.Add(float64(n))
}

// RecordHistoryRestore counts an undo or redo.
func (r *Registry) RecordHistoryRestore(direction, result string) {
	if r == nil {
		return
	}
	r.HistoryRestores.WithLabelValues(direction, result).Inc()
}

// IncHistorySuppressed counts a scene change dropped by the session gate.
func (r *Registry) IncHistorySuppressed() {
	if r == nil {
		return
	}
	r.HistorySuppressed.Inc()
}

// RecordAutosave counts one autosave outcome.
func (r *Registry) RecordAutosave(result string) {
	if r == nil {
		return
	}
	r.AutosaveTotal.WithLabelValues(result).Inc()
}

// ObserveAutosaveDuration records persist latency in seconds.
func (r *Registry) ObserveAutosaveDuration(seconds float64) {
	if r == nil {
		return
	}
	r.AutosaveDuration.Observe(seconds)
}

// RecordRequest counts one request.
func (r *Registry) RecordRequest(protocol, method, status string) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(protocol, method, status).Inc()
}

// ObserveRequestDuration records request latency in seconds.
func (r *Registry) ObserveRequestDuration(protocol, method string, seconds float64) {
	if r == nil {
		return
	}
	r.RequestDuration.WithLabelValues(protocol, method).Observe(seconds)
}

// RecordStoreOp counts one canvas store operation.
func (r *Registry) RecordStoreOp(op, result string) {
	if r == nil {
		return
	}
	r.StoreOps.WithLabelValues(op, result).Inc()
}

// ObserveSnapshotBytes records a stored payload size.
func (r *Registry) ObserveSnapshotBytes(n int) {
	if r == nil {
		return
	}
	r.SnapshotBytes.Observe(float64(n))
}
