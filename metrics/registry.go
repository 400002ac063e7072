// Package metrics backs core.Telemetry with OpenTelemetry tracing and a
// Prometheus registry, following the teacher's MetricsRegistry
// Counter/Gauge/Histogram shape (core/interfaces.go) but as a concrete,
// constructor-injected value instead of a package-level global — every
// consumer receives a *Registry explicitly, so tests never reach for a
// shared global to reset between cases.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds dynamically registered Prometheus vectors, keyed by
// metric name. Label sets are discovered from the first call for a given
// name and must stay consistent across calls, matching Prometheus's own
// constraint that a metric's label names are fixed at registration.
type Registry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewRegistry creates a Registry backed by a fresh prometheus.Registry.
func NewRegistry() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

// Prometheus exposes the underlying registry for wiring an HTTP /metrics
// handler; kept separate from the Counter/Gauge/Histogram API so call
// sites that only emit metrics never need to import prometheus directly.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Counter increments a named counter by 1, creating it (with the label
// names from this first call) if it doesn't exist yet.
func (r *Registry) Counter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec, ok := r.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitizeName(name),
			Help: fmt.Sprintf("counter %s", name),
		}, labelNames(labels))
		r.reg.MustRegister(vec)
		r.counters[name] = vec
	}
	vec.With(labels).Inc()
}

// Gauge sets a named gauge to value.
func (r *Registry) Gauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec, ok := r.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitizeName(name),
			Help: fmt.Sprintf("gauge %s", name),
		}, labelNames(labels))
		r.reg.MustRegister(vec)
		r.gauges[name] = vec
	}
	vec.With(labels).Set(value)
}

// Histogram observes value in a named histogram.
func (r *Registry) Histogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec, ok := r.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: sanitizeName(name),
			Help: fmt.Sprintf("histogram %s", name),
		}, labelNames(labels))
		r.reg.MustRegister(vec)
		r.histograms[name] = vec
	}
	vec.With(labels).Observe(value)
}
