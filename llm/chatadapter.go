package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/prompt"
)

// ChatCompletion is what a ChatBackend returns for one request/response
// turn: raw text plus the usage and observability fields the adapter
// contract requires on every Result.
type ChatCompletion struct {
	Text              string
	Usage             Usage
	Model             string
	FinishReason      string
	ProviderLatencyMs int64
}

// ChatBackend is the minimal seam a concrete provider (Anthropic, an
// OpenAI-compatible endpoint, Bedrock) must implement. ChatAdapter builds
// the rest of the Adapter contract (prompt lookup, JSON decoding) on top
// of it, so each provider package only has to know how to turn (system,
// user) text into a completion. ChatAdapter neither sorts nor size-caps
// the decoded graph; EnforceInvariants does that.
type ChatBackend interface {
	Name() string
	SupportsStreaming() bool
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CallOpts) (ChatCompletion, error)
	// StreamComplete is only called when SupportsStreaming is true.
	// delta receives incremental text chunks; the final ChatCompletion
	// is returned once the stream ends.
	StreamComplete(ctx context.Context, systemPrompt, userPrompt string, opts CallOpts, delta chan<- string) (ChatCompletion, error)
}

// ChatAdapter adapts a ChatBackend to the full Adapter contract, sourcing
// system prompts from a prompt.Registry (C1) so every operation's prompt
// is versioned, cacheable and experimentable the same way regardless of
// which provider answers it.
type ChatAdapter struct {
	backend ChatBackend
	prompts *prompt.Registry
}

// NewChatAdapter builds a ChatAdapter. prompts may be nil, in which case
// operations fall back to a minimal built-in instruction (useful for
// tests that don't need the full registry).
func NewChatAdapter(backend ChatBackend, prompts *prompt.Registry) *ChatAdapter {
	return &ChatAdapter{backend: backend, prompts: prompts}
}

func (a *ChatAdapter) Name() string           { return a.backend.Name() }
func (a *ChatAdapter) SupportsStreaming() bool { return a.backend.SupportsStreaming() }

func (a *ChatAdapter) systemPrompt(operation string, vars map[string]string) string {
	if a.prompts == nil {
		return fmt.Sprintf("You perform the %s operation on a decision graph. Respond with JSON only.", operation)
	}
	return a.prompts.GetSystemPrompt(operation, vars)
}

func (a *ChatAdapter) toResult(cc ChatCompletion, sys string, decodeGraph bool) (*Result, error) {
	r := &Result{
		Usage: cc.Usage,
		Observability: Observability{
			Model:             cc.Model,
			PromptHash:        prompt.HashTemplate(sys),
			FinishReason:      cc.FinishReason,
			ProviderLatencyMs: cc.ProviderLatencyMs,
		},
	}
	if !decodeGraph {
		r.Text = cc.Text
		return r, nil
	}
	r.RawJSON = []byte(cc.Text)
	var g graph.Graph
	if err := json.Unmarshal(r.RawJSON, &g); err != nil {
		return nil, fmt.Errorf("llm: %s returned non-JSON graph response: %w", a.backend.Name(), err)
	}
	r.Graph = &g
	return r, nil
}

// DraftGraph asks the backend to produce a fresh graph for brief, seeded
// for reproducibility across retries.
func (a *ChatAdapter) DraftGraph(ctx context.Context, brief string, seed int64, opts CallOpts) (*Result, error) {
	sys := a.systemPrompt("draftGraph", map[string]string{"seed": strconv.FormatInt(seed, 10)})
	opts.emit("llm.request", map[string]interface{}{"operation": "draftGraph", "provider": a.Name()})
	cc, err := a.backend.Complete(ctx, sys, brief, opts)
	if err != nil {
		return nil, err
	}
	return a.toResult(cc, sys, true)
}

// SuggestOptions asks the backend to propose additional option nodes for
// an existing graph.
func (a *ChatAdapter) SuggestOptions(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error) {
	sys := a.systemPrompt("suggestOptions", nil)
	body, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("llm: marshalling graph for suggestOptions: %w", err)
	}
	cc, err := a.backend.Complete(ctx, sys, string(body), opts)
	if err != nil {
		return nil, err
	}
	return a.toResult(cc, sys, true)
}

// RepairGraph asks the backend to propose a corrected version of g.
func (a *ChatAdapter) RepairGraph(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error) {
	sys := a.systemPrompt("repairGraph", nil)
	body, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("llm: marshalling graph for repairGraph: %w", err)
	}
	cc, err := a.backend.Complete(ctx, sys, string(body), opts)
	if err != nil {
		return nil, err
	}
	return a.toResult(cc, sys, true)
}

// ClarifyBrief asks the backend for clarifying questions about brief.
func (a *ChatAdapter) ClarifyBrief(ctx context.Context, brief string, opts CallOpts) (*Result, error) {
	sys := a.systemPrompt("clarifyBrief", nil)
	cc, err := a.backend.Complete(ctx, sys, brief, opts)
	if err != nil {
		return nil, err
	}
	return a.toResult(cc, sys, false)
}

// CritiqueGraph asks the backend for a free-text critique of g.
func (a *ChatAdapter) CritiqueGraph(ctx context.Context, g *graph.Graph, opts CallOpts) (*Result, error) {
	sys := a.systemPrompt("critiqueGraph", nil)
	body, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("llm: marshalling graph for critiqueGraph: %w", err)
	}
	cc, err := a.backend.Complete(ctx, sys, string(body), opts)
	if err != nil {
		return nil, err
	}
	return a.toResult(cc, sys, false)
}

// ExplainDiff asks the backend to narrate the difference between before
// and after.
func (a *ChatAdapter) ExplainDiff(ctx context.Context, before, after *graph.Graph, opts CallOpts) (*Result, error) {
	sys := a.systemPrompt("explainDiff", nil)
	payload := struct {
		Before *graph.Graph `json:"before"`
		After  *graph.Graph `json:"after"`
	}{before, after}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshalling graphs for explainDiff: %w", err)
	}
	cc, err := a.backend.Complete(ctx, sys, string(body), opts)
	if err != nil {
		return nil, err
	}
	return a.toResult(cc, sys, false)
}

// StreamDraftGraph delegates to the backend's StreamComplete. Callers
// must check SupportsStreaming first; this constrains complexity to the
// primary-only streaming rule of §4.3.
func (a *ChatAdapter) StreamDraftGraph(ctx context.Context, brief string, seed int64, opts CallOpts, events chan<- StreamEvent) error {
	if !a.backend.SupportsStreaming() {
		return fmt.Errorf("llm: %s does not support streaming", a.backend.Name())
	}
	sys := a.systemPrompt("draftGraph", map[string]string{"seed": strconv.FormatInt(seed, 10)})

	deltas := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range deltas {
			// Text streaming deltas are not valid JSON fragments on
			// their own; callers that want partial graphs wait for
			// the final event. Deltas exist so a caller can surface
			// "thinking" progress without waiting for completion.
		}
	}()

	cc, err := a.backend.StreamComplete(ctx, sys, brief, opts, deltas)
	close(deltas)
	<-done
	if err != nil {
		events <- StreamEvent{Err: err}
		return err
	}
	result, err := a.toResult(cc, sys, true)
	if err != nil {
		events <- StreamEvent{Err: err}
		return err
	}
	events <- StreamEvent{Final: result}
	return nil
}
