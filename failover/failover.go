// Package failover implements C3: sequential trial across an ordered
// list of llm.Adapter values for every non-streaming operation, adapted
// from itsneelabh-gomind's ai.ChainClient (same ordered-trial loop; here
// network errors, 5xx and 429 fail over while every other 4xx, auth
// errors included, aborts the chain) but generalised from a single GenerateResponse method to the full adapter
// contract's six non-streaming operations.
package failover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/talchain/olumi-cee/core"
	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/llm"
	"github.com/talchain/olumi-cee/resilience"
)

// ErrStreamingUnsupported is returned by StreamDraftGraph when the
// primary adapter cannot stream. Mid-stream failover is not attempted
// (§4.3): streaming always delegates to the primary only.
var ErrStreamingUnsupported = errors.New("failover: primary adapter does not support streaming")

// AggregateError carries every underlying error from an exhausted
// failover chain, in attempt order.
type AggregateError struct {
	Failed []string
	Errors []error
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %v", e.Failed[i], err)
	}
	return fmt.Sprintf("failover: all %d providers failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is/As reach the first underlying error, consistent
// with Go's multi-error convention for single-parent Unwrap.
func (e *AggregateError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[0]
}

// Facade tries each adapter in order for non-streaming operations and
// implements llm.Adapter itself, so callers never need to know failover
// is happening beneath them.
type Facade struct {
	adapters []llm.Adapter
	logger   core.Logger
	telem    core.Telemetry
	breakers map[string]*resilience.CircuitBreaker
}

// New builds a Facade. adapters[0] is the primary; order is the failover
// sequence. logger/telem default to no-ops when nil. Each adapter gets its
// own circuit breaker (§4.3's failover chain otherwise has no memory: a
// provider that is down keeps being tried, and keeps paying its own
// request timeout, on every single request), so a provider that's been
// failing gets skipped for its SleepWindow instead of tried again.
func New(adapters []llm.Adapter, logger core.Logger, telem core.Telemetry) *Facade {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("llm/failover")
	}
	if telem == nil {
		telem = &core.NoOpTelemetry{}
	}
	breakers := make(map[string]*resilience.CircuitBreaker, len(adapters))
	for _, a := range adapters {
		cfg := resilience.DefaultConfig()
		cfg.Name = "failover." + a.Name()
		cfg.Logger = logger
		cfg.Metrics = resilience.NewTelemetryMetrics()
		if cb, err := resilience.NewCircuitBreaker(cfg); err == nil {
			breakers[a.Name()] = cb
		}
	}
	return &Facade{adapters: adapters, logger: logger, telem: telem, breakers: breakers}
}

func (f *Facade) Name() string { return "failover" }

func (f *Facade) SupportsStreaming() bool {
	if len(f.adapters) == 0 {
		return false
	}
	return f.adapters[0].SupportsStreaming()
}

// isRetryable classifies an adapter error for failover purposes: network
// errors and timeouts (no HTTPStatusError at all), 5xx, and 429 are
// retryable; any other HTTP status is a genuine client error and aborts
// the chain rather than trying the remaining adapters.
func isRetryable(err error) bool {
	var statusErr llm.HTTPStatusError
	if errors.As(err, &statusErr) {
		status := statusErr.Status()
		return status == http.StatusTooManyRequests || status >= 500
	}
	return true
}

func retryAfterReason(err error) string {
	var statusErr llm.HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.Status() == http.StatusTooManyRequests {
		return "rate_limited"
	}
	return "upstream_error"
}

// tryAll runs call against each adapter in order, stopping at the first
// success or the first non-retryable failure.
func (f *Facade) tryAll(ctx context.Context, operation string, call func(llm.Adapter) (*llm.Result, error)) (*llm.Result, error) {
	var failed []string
	var errs []error

	for i, adapter := range f.adapters {
		if cb, ok := f.breakers[adapter.Name()]; ok && !cb.CanExecute() {
			f.logger.WarnWithContext(ctx, "failover skipping open circuit", map[string]interface{}{
				"operation": operation,
				"provider":  adapter.Name(),
			})
			failed = append(failed, adapter.Name())
			errs = append(errs, fmt.Errorf("%s: circuit open", adapter.Name()))
			continue
		}

		start := time.Now()
		res, err := call(adapter)
		if cb, ok := f.breakers[adapter.Name()]; ok {
			if err != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
		}
		if err == nil {
			if i > 0 {
				f.telem.RecordMetric("provider.failover.success", 1, map[string]string{
					"operation": operation,
					"primary":   f.adapters[0].Name(),
					"chosen":    adapter.Name(),
				})
				f.logger.InfoWithContext(ctx, "failover succeeded on fallback provider", map[string]interface{}{
					"operation":        operation,
					"primary":          f.adapters[0].Name(),
					"chosen":           adapter.Name(),
					"failed_providers": failed,
					"duration_ms":      time.Since(start).Milliseconds(),
				})
			}
			return res, nil
		}

		failed = append(failed, adapter.Name())
		errs = append(errs, err)
		retryable := isRetryable(err)

		if i+1 < len(f.adapters) {
			f.telem.RecordMetric("provider.failover", 1, map[string]string{
				"operation": operation,
				"from":      adapter.Name(),
				"to":        f.adapters[i+1].Name(),
				"reason":    retryAfterReason(err),
			})
		}

		if !retryable {
			f.logger.WarnWithContext(ctx, "failover aborted on non-retryable error", map[string]interface{}{
				"operation": operation,
				"provider":  adapter.Name(),
				"error":     err.Error(),
			})
			break
		}
	}

	f.telem.RecordMetric("provider.failover.exhausted", 1, map[string]string{
		"operation":       operation,
		"providers_tried": fmt.Sprintf("%d", len(failed)),
	})
	f.logger.ErrorWithContext(ctx, "failover exhausted all providers", map[string]interface{}{
		"operation":        operation,
		"failed_providers": failed,
	})

	return nil, &AggregateError{Failed: failed, Errors: errs}
}

func (f *Facade) DraftGraph(ctx context.Context, brief string, seed int64, opts llm.CallOpts) (*llm.Result, error) {
	return f.tryAll(ctx, "draftGraph", func(a llm.Adapter) (*llm.Result, error) {
		return a.DraftGraph(ctx, brief, seed, opts)
	})
}

func (f *Facade) SuggestOptions(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return f.tryAll(ctx, "suggestOptions", func(a llm.Adapter) (*llm.Result, error) {
		return a.SuggestOptions(ctx, g, opts)
	})
}

func (f *Facade) RepairGraph(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return f.tryAll(ctx, "repairGraph", func(a llm.Adapter) (*llm.Result, error) {
		return a.RepairGraph(ctx, g, opts)
	})
}

func (f *Facade) ClarifyBrief(ctx context.Context, brief string, opts llm.CallOpts) (*llm.Result, error) {
	return f.tryAll(ctx, "clarifyBrief", func(a llm.Adapter) (*llm.Result, error) {
		return a.ClarifyBrief(ctx, brief, opts)
	})
}

func (f *Facade) CritiqueGraph(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return f.tryAll(ctx, "critiqueGraph", func(a llm.Adapter) (*llm.Result, error) {
		return a.CritiqueGraph(ctx, g, opts)
	})
}

func (f *Facade) ExplainDiff(ctx context.Context, before, after *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return f.tryAll(ctx, "explainDiff", func(a llm.Adapter) (*llm.Result, error) {
		return a.ExplainDiff(ctx, before, after, opts)
	})
}

// StreamDraftGraph delegates to the primary adapter only. Mid-stream
// failover is not attempted, matching §4.3's complexity constraint.
func (f *Facade) StreamDraftGraph(ctx context.Context, brief string, seed int64, opts llm.CallOpts, events chan<- llm.StreamEvent) error {
	if len(f.adapters) == 0 {
		return ErrStreamingUnsupported
	}
	primary := f.adapters[0]
	if !primary.SupportsStreaming() {
		return ErrStreamingUnsupported
	}
	return primary.StreamDraftGraph(ctx, brief, seed, opts, events)
}
