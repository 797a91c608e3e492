// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serroba/collab-notes/internal/bus"
)

const namespace = "collab"

// Metrics owns a registry and the engine collectors. It is a bus.Observer.
type Metrics struct {
	registry *prometheus.Registry

	events           *prometheus.CounterVec
	changes          *prometheus.CounterVec
	rebaseDepth      prometheus.Histogram
	evictions        prometheus.Counter
	observerFailures *prometheus.CounterVec
}

// New registers the collectors, including the Go runtime and process ones,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published, by kind.",
		}, []string{"kind"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Changes applied, by operation.",
		}, []string{"operation"}),
		rebaseDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "change_rebase_depth",
			Help:      "Number of concurrent changes an edit was transformed against.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_evictions_total",
			Help:      "Sessions closed for inactivity.",
		}),
		observerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observer_failures_total",
			Help:      "Observer errors and panics, by event kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.changes,
		m.rebaseDepth,
		m.evictions,
		m.observerFailures,
	)

	for _, k := range bus.Kinds {
		m.events.WithLabelValues(string(k))
	}

	return m
}

// Notify counts the event.
func (m *Metrics) Notify(_ context.Context, ev bus.Event) error {
	m.events.WithLabelValues(string(ev.Kind())).Inc()

	switch e := ev.(type) {
	case bus.ChangeApplied:
		m.changes.WithLabelValues(string(e.Change.Operation)).Inc()
		m.rebaseDepth.Observe(float64(max(e.Change.Version-1-e.Change.BaseVersion, 0)))
	case bus.UserLeft:
		if e.Reason == bus.LeaveIdle {
			m.evictions.Inc()
		}
	}

	return nil
}

// ObserverFailed has the bus.FailureHook signature.
func (m *Metrics) ObserverFailed(ev bus.Event, _ error) {
	m.observerFailures.WithLabelValues(string(ev.Kind())).Inc()
}

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Counter registers a counter read from fn at scrape time.
func (m *Metrics) Counter(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
