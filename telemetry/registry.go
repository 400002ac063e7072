package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talchain/olumi-cee/core"
)

var (
	// globalRegistry holds the singleton Registry instance. atomic.Value
	// gives lock-free reads on the hot path (metric emission); it is
	// written once, from Initialize.
	globalRegistry atomic.Value // *Registry

	// initOnce ensures Initialize can only succeed once.
	initOnce sync.Once

	// declaredMetrics stores metric declarations made from init()
	// functions (see resilience/instrumentation.go), before Initialize
	// has necessarily run.
	declaredMetrics sync.Map // map[string]ModuleConfig
)

// ModuleConfig is a module's metric declaration, registered up front so
// instruments exist before the module's first emission.
type ModuleConfig struct {
	Metrics []MetricDefinition
}

// MetricDefinition describes one metric's shape for pre-registration and
// documentation; Registry itself only uses Name and Type today.
type MetricDefinition struct {
	Name    string
	Type    string // counter, histogram, gauge, updowncounter
	Help    string
	Labels  []string
	Unit    string
	Buckets []float64
}

// Registry coordinates the OTel provider and rate-limited error logging
// behind the package-level Emit/Counter/Histogram/Gauge functions.
type Registry struct {
	config   Config
	provider *OTelProvider
	metrics  *MetricInstruments
	logger   *TelemetryLogger

	emitted   atomic.Int64
	startTime time.Time
}

// DeclareMetrics registers metric definitions for a module, safe to call
// from init() before Initialize has run.
func DeclareMetrics(module string, config ModuleConfig) {
	declaredMetrics.Store(module, config)
}

// Initialize activates the telemetry system. Only the first call takes
// effect; subsequent calls return the same result. Call this once from
// cmd/cee-server/main.go before any draft/repair/critique request is
// served, so resilience's circuit-breaker and retry metrics (declared via
// DeclareMetrics in their init()) have somewhere to go.
func Initialize(config Config) error {
	var initErr error
	initOnce.Do(func() {
		logger := NewTelemetryLogger(config.ServiceName)
		logger.Info("telemetry initialization starting", map[string]interface{}{
			"service_name": config.ServiceName,
			"endpoint":     config.Endpoint,
		})

		registry, err := newRegistry(config)
		if err != nil {
			initErr = err
			logger.Error("telemetry initialization failed", map[string]interface{}{
				"error":    err.Error(),
				"endpoint": config.Endpoint,
			})
			return
		}
		registry.logger = logger

		declaredCount := 0
		declaredMetrics.Range(func(key, value interface{}) bool {
			module := key.(string)
			moduleConfig := value.(ModuleConfig)
			registry.registerModule(module, moduleConfig)
			declaredCount++
			return true
		})

		globalRegistry.Store(registry)

		logger.Info("telemetry system initialized", map[string]interface{}{
			"declared_modules": declaredCount,
		})
	})
	return initErr
}

func newRegistry(config Config) (*Registry, error) {
	startTime := time.Now()

	if config.Endpoint == "" {
		config.Endpoint = "localhost:4318"
	}
	if config.ServiceName == "" {
		config.ServiceName = "cee-server"
	}

	provider, err := NewOTelProvider(config.ServiceName, config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTel provider: %w", err)
	}

	r := &Registry{
		config:    config,
		provider:  provider,
		metrics:   provider.metrics,
		startTime: startTime,
	}
	return r, nil
}

// registerModule pre-creates instruments for a module's declared metrics
// so the first real emission doesn't pay OTel's instrument-creation cost.
func (r *Registry) registerModule(_ string, config ModuleConfig) {
	ctx := context.Background()
	for _, metric := range config.Metrics {
		switch metric.Type {
		case "counter":
			_ = r.metrics.RecordCounter(ctx, metric.Name, 0)
		case "histogram":
			_ = r.metrics.RecordHistogram(ctx, metric.Name, 0)
		}
	}
}

func (r *Registry) emit(name string, value float64, labels map[string]string) {
	if r.provider == nil {
		return
	}
	r.provider.RecordMetric(name, value, labels)
	r.emitted.Add(1)
}

// Emit records a metric value against the global registry, a no-op until
// Initialize has run.
func Emit(name string, value float64, labels ...string) {
	registry := globalRegistry.Load()
	if registry == nil {
		return
	}
	r, ok := registry.(*Registry)
	if !ok || r == nil {
		return
	}
	r.emit(name, value, parseLabels(labels...))
}

// parseLabels converts "key1", "val1", "key2", "val2" into a label map.
func parseLabels(labels ...string) map[string]string {
	m := make(map[string]string)
	for i := 0; i < len(labels)-1; i += 2 {
		m[labels[i]] = labels[i+1]
	}
	return m
}

// Shutdown flushes and tears down the telemetry provider, then clears the
// global registry so Emit becomes a no-op again.
func Shutdown(ctx context.Context) error {
	registry := globalRegistry.Load()
	if registry == nil {
		return nil
	}
	r := registry.(*Registry)

	if r.logger != nil {
		r.logger.Info("shutting down telemetry system", map[string]interface{}{
			"total_emitted": r.emitted.Load(),
			"uptime_ms":     time.Since(r.startTime).Milliseconds(),
		})
	}

	var err error
	if r.provider != nil {
		err = r.provider.Shutdown(ctx)
		if err != nil && r.logger != nil {
			r.logger.Error("error during provider shutdown", map[string]interface{}{"error": err.Error()})
		}
	}

	// Store an empty Registry rather than a nil *Registry: atomic.Value
	// requires every Store to use the same concrete type, and emit's
	// existing nil-provider guard makes this the cleanest way to turn
	// Emit back into a no-op post-shutdown.
	globalRegistry.Store(&Registry{})
	return err
}

// GetRegistry returns the current registry, or nil before Initialize has
// run or after Shutdown.
func GetRegistry() *Registry {
	r := globalRegistry.Load()
	if r == nil {
		return nil
	}
	registry := r.(*Registry)
	if registry.provider == nil {
		return nil
	}
	return registry
}

// GetTelemetryProvider returns the OTelProvider as a core.Telemetry, for
// injecting into components that start spans (pipeline, httpapi). Returns
// nil before Initialize has run or after Shutdown.
func GetTelemetryProvider() core.Telemetry {
	registry := GetRegistry()
	if registry == nil {
		return nil
	}
	return registry.provider
}
