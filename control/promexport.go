// File: control/promexport.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus exporter for the execution engine's ambient metrics:
// dispatches, execution outcomes, AI-engine backend selections, and the
// execution tracker's live entry count. Generalized from
// MetricsRegistry's dynamic-key map shape to the fixed, typed metric
// families client_golang expects, since Prometheus collectors can't be
// registered dynamically by arbitrary string key.
package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromExporter owns the process-wide Prometheus collectors for C4
// (task pool), C6 (AI engine routing), and C7 (function service).
type PromExporter struct {
	registry *prometheus.Registry

	dispatchTotal      *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	trackerEntries     prometheus.Gauge
	backendSelections  *prometheus.CounterVec
	backendInvokeError *prometheus.CounterVec
}

// NewPromExporter constructs and registers every collector against a
// fresh registry, so a caller can expose it on its own /metrics mux
// without picking up the default global registry's Go runtime noise
// unless it chooses to merge the two.
func NewPromExporter() *PromExporter {
	reg := prometheus.NewRegistry()

	e := &PromExporter{
		registry: reg,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spearlet",
			Subsystem: "taskpool",
			Name:      "dispatch_total",
			Help:      "Total Dispatch calls, labeled by task and terminal status.",
		}, []string{"task", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spearlet",
			Subsystem: "functionservice",
			Name:      "execution_duration_ms",
			Help:      "Execution wall-clock duration in milliseconds, labeled by execution mode.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"mode"}),
		trackerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spearlet",
			Subsystem: "functionservice",
			Name:      "tracker_entries",
			Help:      "Current number of entries held by the execution tracker.",
		}),
		backendSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spearlet",
			Subsystem: "aiengine",
			Name:      "backend_selections_total",
			Help:      "Total Router.Select outcomes, labeled by chosen backend.",
		}, []string{"backend"}),
		backendInvokeError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spearlet",
			Subsystem: "aiengine",
			Name:      "backend_invoke_errors_total",
			Help:      "Total backend Invoke failures, labeled by backend and canonical error code.",
		}, []string{"backend", "code"}),
	}

	reg.MustRegister(e.dispatchTotal, e.executionDuration, e.trackerEntries, e.backendSelections, e.backendInvokeError)
	return e
}

// Registry exposes the underlying *prometheus.Registry so the caller can
// serve it via promhttp.HandlerFor on its own mux.
func (e *PromExporter) Registry() *prometheus.Registry {
	return e.registry
}

// ObserveDispatch records one taskpool.Dispatch outcome.
func (e *PromExporter) ObserveDispatch(task, status string) {
	e.dispatchTotal.WithLabelValues(task, status).Inc()
}

// ObserveExecutionDuration records one terminal execution's wall-clock
// duration in milliseconds.
func (e *PromExporter) ObserveExecutionDuration(mode string, durationMs float64) {
	e.executionDuration.WithLabelValues(mode).Observe(durationMs)
}

// SetTrackerEntries publishes the execution tracker's live entry count.
func (e *PromExporter) SetTrackerEntries(n int) {
	e.trackerEntries.Set(float64(n))
}

// ObserveBackendSelection records one Router.Select outcome.
func (e *PromExporter) ObserveBackendSelection(backend string) {
	e.backendSelections.WithLabelValues(backend).Inc()
}

// ObserveBackendInvokeError records one classified backend Invoke failure.
func (e *PromExporter) ObserveBackendInvokeError(backend, code string) {
	e.backendInvokeError.WithLabelValues(backend, code).Inc()
}
