package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/talchain/olumi-cee/core"
)

// Telemetry implements core.Telemetry over an OpenTelemetry tracer for
// spans and a *Registry for metrics, mirroring the teacher's OTelProvider
// (telemetry/otel.go) which implements the same StartSpan/RecordMetric
// pair against the identical core.Telemetry seam.
type Telemetry struct {
	tracer   oteltrace.Tracer
	registry *Registry
}

var _ core.Telemetry = (*Telemetry)(nil)

// NewTelemetry builds a Telemetry using the global OpenTelemetry tracer
// provider under tracerName, recording metrics into registry.
func NewTelemetry(tracerName string, registry *Registry) *Telemetry {
	return &Telemetry{
		tracer:   otel.Tracer(tracerName),
		registry: registry,
	}
}

func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (t *Telemetry) RecordMetric(name string, value float64, labels map[string]string) {
	if t.registry == nil {
		return
	}
	// Heuristic metric-type routing by name suffix, matching the
	// teacher's approach in OTelProvider.RecordMetric: callers that
	// care about the exact instrument type should use *Registry
	// directly instead of going through the core.Telemetry seam.
	switch {
	case hasSuffix(name, ".duration_ms") || hasSuffix(name, ".latency_ms"):
		t.registry.Histogram(name, value, labels)
	case hasSuffix(name, ".count") || hasSuffix(name, ".size"):
		t.registry.Gauge(name, value, labels)
	default:
		t.registry.Counter(name, labels)
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
