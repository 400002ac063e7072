package llm

import (
	"context"
	"fmt"

	"github.com/talchain/olumi-cee/graph"
)

// Default size caps enforced server-side regardless of upstream adapter
// behaviour (§4.2): a misbehaving or unbounded provider response never
// reaches the rest of the pipeline.
const (
	DefaultMaxNodes = 50
	DefaultMaxEdges = 200
)

// SizeCaps bounds the graph a provider is allowed to return.
type SizeCaps struct {
	MaxNodes int
	MaxEdges int
}

// DefaultSizeCaps returns the contract's default caps.
func DefaultSizeCaps() SizeCaps {
	return SizeCaps{MaxNodes: DefaultMaxNodes, MaxEdges: DefaultMaxEdges}
}

// EnforceSizeCaps reports an error naming the offending dimension when g
// exceeds caps. Callers apply it after every adapter call that returns a
// graph, independent of which provider produced it.
func EnforceSizeCaps(g *graph.Graph, caps SizeCaps) error {
	if g == nil {
		return nil
	}
	if caps.MaxNodes > 0 && len(g.Nodes) > caps.MaxNodes {
		return fmt.Errorf("llm: graph has %d nodes, exceeds cap of %d", len(g.Nodes), caps.MaxNodes)
	}
	if caps.MaxEdges > 0 && len(g.Edges) > caps.MaxEdges {
		return fmt.Errorf("llm: graph has %d edges, exceeds cap of %d", len(g.Edges), caps.MaxEdges)
	}
	return nil
}

// invariantAdapter wraps an Adapter so every call that returns a graph is
// sorted (deterministic node/edge ordering) and size-capped before the
// result reaches the caller, regardless of which concrete provider
// produced it.
type invariantAdapter struct {
	next Adapter
	caps SizeCaps
}

// EnforceInvariants wraps next so every graph-bearing Result satisfies
// the adapter contract's determinism and size-cap invariants (§4.2)
// without every provider having to implement that bookkeeping itself.
func EnforceInvariants(next Adapter, caps SizeCaps) Adapter {
	return &invariantAdapter{next: next, caps: caps}
}

func (a *invariantAdapter) Name() string            { return a.next.Name() }
func (a *invariantAdapter) SupportsStreaming() bool  { return a.next.SupportsStreaming() }

func (a *invariantAdapter) finish(r *Result, err error) (*Result, error) {
	if err != nil || r == nil {
		return r, err
	}
	if r.Graph != nil {
		r.Graph.Sort()
		if capErr := EnforceSizeCaps(r.Graph, a.caps); capErr != nil {
			return nil, capErr
		}
	}
	return r, nil
}

func (a *invariantAdapter) DraftGraph(ctx context.Context, brief string, seed int64, opts CallOpts) (*Result, error) {
	r, err := a.next.DraftGraph(ctx, brief, seed, opts)
	return a.finish(r, err)
}

func (a *invariantAdapter) SuggestOptions(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error) {
	r, err := a.next.SuggestOptions(ctx, g, opts)
	return a.finish(r, err)
}

func (a *invariantAdapter) RepairGraph(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error) {
	r, err := a.next.RepairGraph(ctx, g, opts)
	return a.finish(r, err)
}

func (a *invariantAdapter) ClarifyBrief(ctx context.Context, brief string, opts CallOpts) (*Result, error) {
	return a.next.ClarifyBrief(ctx, brief, opts)
}

func (a *invariantAdapter) CritiqueGraph(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error) {
	return a.next.CritiqueGraph(ctx, g, opts)
}

func (a *invariantAdapter) ExplainDiff(ctx context.Context, before, after *graph.Graph, opts CallOpts) (*Result, error) {
	return a.next.ExplainDiff(ctx, before, after, opts)
}

func (a *invariantAdapter) StreamDraftGraph(ctx context.Context, brief string, seed int64, opts CallOpts, events chan<- StreamEvent) error {
	return a.next.StreamDraftGraph(ctx, brief, seed, opts, events)
}
