// Package llm defines the uniform adapter contract of C2: a single
// interface over every provider (Anthropic, OpenAI-compatible, Bedrock)
// covering the capability set {draftGraph, suggestOptions, repairGraph,
// clarifyBrief, critiqueGraph, explainDiff, streamDraftGraph}. Callers
// never branch on provider; they call an Adapter and get back a Result
// with usage and observability metadata attached uniformly.
package llm

import (
	"context"
	"time"

	"github.com/talchain/olumi-cee/graph"
)

// CallOpts carries per-call knobs threaded through every adapter method.
type CallOpts struct {
	RequestID   string
	TimeoutMs   int
	AbortSignal <-chan struct{}
	BypassCache bool

	// Collector, when set, receives one event per significant step
	// (request sent, retry, response received) for debugging/audit.
	// Never required; adapters must tolerate a nil Collector.
	Collector func(event string, fields map[string]interface{})
}

func (o CallOpts) timeout() time.Duration {
	if o.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

func (o CallOpts) emit(event string, fields map[string]interface{}) {
	if o.Collector != nil {
		o.Collector(event, fields)
	}
}

// Usage mirrors the token accounting every provider response carries,
// with the two cache fields left nil when a provider doesn't report them.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens *int
	CacheReadInputTokens     *int
}

// Observability carries the optional metadata attached to a Result. It
// holds no raw upstream text or JSON; the upstream payload travels in
// Result.Text or Result.RawJSON.
type Observability struct {
	Model             string
	PromptVersion     int
	PromptHash        string
	Temperature       float64
	Seed              *int64
	FinishReason      string
	ProviderLatencyMs int64
}

// Result is the typed return value of every adapter call. Graph-producing
// operations (draftGraph, suggestOptions, repairGraph) populate both Graph
// (a lightweight decode used only to check the adapter contract's
// determinism/size invariants) and RawJSON (the untouched upstream
// payload, handed on to the parser/normaliser for full unknown-field-
// preserving interpretation). Free-text operations populate only Text.
type Result struct {
	Graph   *graph.Graph
	RawJSON []byte
	Text    string

	Usage         Usage
	Observability Observability
}

// StreamEvent is one increment of a streamDraftGraph call: either a
// partial graph snapshot or a terminal error/result.
type StreamEvent struct {
	Partial *graph.Graph
	Final   *Result
	Err     error
}

// HTTPStatusError is implemented by provider errors that carry an
// upstream HTTP status, letting the failover facade classify
// retryability (§4.3) without importing any concrete provider package.
type HTTPStatusError interface {
	Status() int
}

// Adapter is the uniform polymorphic interface over every provider.
// Implementations must sort Result.Graph (graph.Sort) before returning
// it and must produce stable node/edge ids across retries for the same
// (brief, seed) pair.
type Adapter interface {
	// Name identifies the adapter for logging/telemetry, e.g.
	// "anthropic", "openai", "openai.deepseek", "bedrock".
	Name() string

	SupportsStreaming() bool

	DraftGraph(ctx context.Context, brief string, seed int64, opts CallOpts) (*Result, error)
	SuggestOptions(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error)
	RepairGraph(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error)
	ClarifyBrief(ctx context.Context, brief string, opts CallOpts) (*Result, error)
	CritiqueGraph(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error)
	ExplainDiff(ctx context.Context, before, after *graph.Graph, opts CallOpts) (*Result, error)

	// StreamDraftGraph delegates to the primary adapter only; callers
	// that need failover must check SupportsStreaming first.
	StreamDraftGraph(ctx context.Context, brief string, seed int64, opts CallOpts, events chan<- StreamEvent) error
}
