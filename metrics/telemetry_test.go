package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanReturnsUsableSpan(t *testing.T) {
	tel := NewTelemetry("test-tracer", NewRegistry())

	ctx, span := tel.StartSpan(context.Background(), "pipeline.parse")
	require.NotNil(t, span)
	require.NotNil(t, ctx)

	span.SetAttribute("request_id", "r1")
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestRecordMetricRoutesBySuffix(t *testing.T) {
	registry := NewRegistry()
	tel := NewTelemetry("test-tracer", registry)

	tel.RecordMetric("pipeline.stage.duration_ms", 42, map[string]string{"stage": "parse"})
	tel.RecordMetric("prompt.cache.hit", 1, map[string]string{"task": "draft"})

	assert.Contains(t, registry.histograms, "pipeline.stage.duration_ms")
	assert.Contains(t, registry.counters, "prompt.cache.hit")
}
