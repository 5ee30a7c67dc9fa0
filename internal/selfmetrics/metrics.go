// Package selfmetrics exposes the tracer's own Prometheus metrics.
package selfmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coral_trace"

// Dispatch kinds used as the "kind" label.
const (
	KindCompleted = "completed"
	KindStuck     = "stuck"
)

// Metrics holds the tracer's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	OperationsStarted    prometheus.Counter
	OperationsInFlight   prometheus.Gauge
	OperationsDispatched *prometheus.CounterVec
	PopMismatches        prometheus.Counter
	EventsDropped        prometheus.Counter
	StackCaptures        prometheus.Counter
	TaskFailures         *prometheus.CounterVec
	SinkErrors           prometheus.Counter
	PollDuration         prometheus.Histogram
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		OperationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_started_total",
			Help: "Operations started.",
		}),
		OperationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "operations_in_flight",
			Help: "Operations currently running.",
		}),
		OperationsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_dispatched_total",
			Help: "Operation snapshots handed to sinks.",
		}, []string{"kind"}),
		PopMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trace_pop_mismatches_total",
			Help: "Trace event pops that did not match the innermost open event.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trace_events_dropped_total",
			Help: "Trace events recorded as metrics only because the operation hit its event cap.",
		}),
		StackCaptures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stack_captures_total",
			Help: "Goroutine stack samples merged into call trees.",
		}),
		TaskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "task_failures_total",
			Help: "Background task errors and panics.",
		}, []string{"scheduler"}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_errors_total",
			Help: "Errors returned by sinks.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_duration_seconds",
			Help:    "Time spent in one poller run.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
	}
	reg.MustRegister(
		m.OperationsStarted, m.OperationsInFlight, m.OperationsDispatched,
		m.PopMismatches, m.EventsDropped, m.StackCaptures, m.TaskFailures,
		m.SinkErrors, m.PollDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OperationStarted records a new operation.
func (m *Metrics) OperationStarted() {
	if m == nil {
		return
	}
	m.OperationsStarted.Inc()
	m.OperationsInFlight.Inc()
}

// OperationCompleted records the end of an operation.
func (m *Metrics) OperationCompleted() {
	if m == nil {
		return
	}
	m.OperationsInFlight.Dec()
}

// Dispatched records a snapshot handed to the sinks.
func (m *Metrics) Dispatched(kind string) {
	if m == nil {
		return
	}
	m.OperationsDispatched.WithLabelValues(kind).Inc()
}

// PopMismatch records an unbalanced trace event pop.
func (m *Metrics) PopMismatch() {
	if m == nil {
		return
	}
	m.PopMismatches.Inc()
}

// EventDropped records a push degraded to a metric-only span.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// StackCaptured records one stack sample.
func (m *Metrics) StackCaptured() {
	if m == nil {
		return
	}
	m.StackCaptures.Inc()
}

// TaskFailed records a failing task on the named scheduler.
func (m *Metrics) TaskFailed(scheduler string) {
	if m == nil {
		return
	}
	m.TaskFailures.WithLabelValues(scheduler).Inc()
}

// SinkError records an error returned by a sink.
func (m *Metrics) SinkError() {
	if m == nil {
		return
	}
	m.SinkErrors.Inc()
}

// ObservePoll records the duration of one poller run.
func (m *Metrics) ObservePoll(d time.Duration) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(d.Seconds())
}
