// Package orchestrator implements C7, the unified pipeline orchestrator:
// it sequences parse -> normalise -> enrich -> repair over the upstream
// LLM's draftGraph response, mapping any stage failure onto the closed
// error taxonomy in cee.
package orchestrator

import (
	"context"
	"errors"

	"github.com/talchain/olumi-cee/cee"
	"github.com/talchain/olumi-cee/core"
	"github.com/talchain/olumi-cee/failover"
	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/llm"
	"github.com/talchain/olumi-cee/pipeline/enrich"
	"github.com/talchain/olumi-cee/pipeline/parse"
	"github.com/talchain/olumi-cee/pipeline/repair"
)

// Orchestrator runs the draft pipeline against an upstream llm.Adapter,
// normally the failover.Facade wrapping the configured provider chain.
type Orchestrator struct {
	adapter llm.Adapter
	logger  core.Logger
	telem   core.Telemetry

	// LegacyEnabled gates the deprecated pipeline entry point; when
	// false, Legacy fails fast with a stable, greppable message.
	LegacyEnabled bool
}

// New builds an Orchestrator over adapter, defaulting logger/telem to
// no-ops when nil.
func New(adapter llm.Adapter, logger core.Logger, telem core.Telemetry) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telem == nil {
		telem = &core.NoOpTelemetry{}
	}
	if ca, ok := logger.(core.ComponentAwareLogger); ok {
		logger = ca.WithComponent("pipeline/orchestrator")
	}
	return &Orchestrator{adapter: adapter, logger: logger, telem: telem}
}

// ErrLegacyDisabled is returned by Legacy when LegacyEnabled is false.
var ErrLegacyDisabled = errors.New("orchestrator: legacy pipeline disabled (set CEE_LEGACY_PIPELINE_ENABLED=true)")

// DraftGraph runs parse -> normalise -> enrich -> repair over a fresh
// draftGraph call and returns the resulting graph plus the pipeline
// context carrying its correction/field-deletion audit trail. Any
// failure is returned as a *cee.Error with a code from the closed
// taxonomy.
func (o *Orchestrator) DraftGraph(ctx context.Context, requestID, brief string, seed int64, opts llm.CallOpts) (*graph.Graph, *graph.PipelineContext, error) {
	pctx := graph.NewPipelineContext(requestID)
	trace := cee.Trace{RequestID: requestID}

	idx := pctx.BeginStage("llm_call")
	result, err := o.adapter.DraftGraph(ctx, brief, seed, opts)
	pctx.FinishStage(idx, err)
	if err != nil {
		cerr := classifyUpstreamError(err, trace)
		o.logger.Error("draft graph upstream call failed", map[string]interface{}{"request_id": requestID, "error": err.Error()})
		return nil, pctx, cerr
	}
	pctx.EngineProvider = o.adapter.Name()
	pctx.EngineModel = result.Observability.Model

	idx = pctx.BeginStage("parse")
	g, err := parse.Parse(result.RawJSON, pctx)
	pctx.FinishStage(idx, err)
	if err != nil {
		return nil, pctx, cee.Wrap(cee.CodeLLMValidationFailed, "draft_graph_missing_result", trace, err).
			WithRecovery("retry the request; if this persists, contact support",
				"upstream response could not be parsed as a graph")
	}

	idx = pctx.BeginStage("enrich")
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errEnrichmentPanic(r)
			}
		}()
		enrich.Enrich(brief, g, pctx)
	}()
	pctx.FinishStage(idx, err)
	if err != nil {
		return nil, pctx, cee.Wrap(cee.CodeGraphInvalid, "enrichment failed on a degenerate graph", trace, err).
			WithDetails(map[string]interface{}{"reason": "enrichment_failed"})
	}

	idx = pctx.BeginStage("repair")
	repair.Sweep(g, pctx)
	pctx.FinishStage(idx, nil)

	pctx.Graph = g
	return g, pctx, nil
}

// Legacy is the deprecated draft pipeline entry point, gated behind
// LegacyEnabled per §4.7's "legacy code path must be gated behind a
// configuration flag" requirement.
func (o *Orchestrator) Legacy(ctx context.Context, requestID, brief string, seed int64, opts llm.CallOpts) (*graph.Graph, *graph.PipelineContext, error) {
	if !o.LegacyEnabled {
		return nil, nil, ErrLegacyDisabled
	}
	return o.DraftGraph(ctx, requestID, brief, seed, opts)
}

type enrichPanicError struct{ v interface{} }

func (e *enrichPanicError) Error() string { return "enrichment panicked" }

func errEnrichmentPanic(v interface{}) error { return &enrichPanicError{v: v} }

// classifyUpstreamError maps a failed DraftGraph call onto the closed
// error taxonomy per §4.7's stage-failure table.
func classifyUpstreamError(err error, trace cee.Trace) *cee.Error {
	var statusErr llm.HTTPStatusError
	if errors.As(err, &statusErr) {
		status := statusErr.Status()
		if status >= 500 {
			return cee.Wrap(cee.CodeLLMUpstreamError, "upstream LLM call failed", trace, err)
		}
		return cee.Wrap(cee.CodeLLMValidationFailed, "upstream LLM call rejected the request", trace, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cee.Wrap(cee.CodeLLMTimeout, "upstream LLM call timed out", trace, err)
	}
	var agg *failover.AggregateError
	if errors.As(err, &agg) {
		return cee.Wrap(cee.CodeLLMUpstreamError, "every provider in the failover chain failed", trace, err).
			WithDetails(map[string]interface{}{"failed_providers": agg.Failed})
	}
	return cee.Wrap(cee.CodeLLMUpstreamError, "upstream LLM call failed", trace, err)
}
