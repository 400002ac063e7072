package failover

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/llm"
)

type statusErr struct {
	status int
}

func (e *statusErr) Error() string { return "boom" }
func (e *statusErr) Status() int   { return e.status }

type fakeAdapter struct {
	name      string
	err       error
	result    *llm.Result
	streaming bool
}

func (a *fakeAdapter) Name() string           { return a.name }
func (a *fakeAdapter) SupportsStreaming() bool { return a.streaming }

func (a *fakeAdapter) DraftGraph(ctx context.Context, brief string, seed int64, opts llm.CallOpts) (*llm.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.result, nil
}
func (a *fakeAdapter) SuggestOptions(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) RepairGraph(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) ClarifyBrief(ctx context.Context, brief string, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) CritiqueGraph(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) ExplainDiff(ctx context.Context, before, after *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) StreamDraftGraph(ctx context.Context, brief string, seed int64, opts llm.CallOpts, events chan<- llm.StreamEvent) error {
	return a.err
}

func TestDraftGraphSucceedsOnPrimary(t *testing.T) {
	primary := &fakeAdapter{name: "primary", result: &llm.Result{Text: "ok"}}
	backup := &fakeAdapter{name: "backup", result: &llm.Result{Text: "backup"}}
	f := New([]llm.Adapter{primary, backup}, nil, nil)

	r, err := f.DraftGraph(context.Background(), "brief", 1, llm.CallOpts{})
	require.NoError(t, err)
	assert.Equal(t, "ok", r.Text)
}

func TestDraftGraphFailsOverToBackupOnRetryableError(t *testing.T) {
	primary := &fakeAdapter{name: "primary", err: &statusErr{status: http.StatusBadGateway}}
	backup := &fakeAdapter{name: "backup", result: &llm.Result{Text: "backup"}}
	f := New([]llm.Adapter{primary, backup}, nil, nil)

	r, err := f.DraftGraph(context.Background(), "brief", 1, llm.CallOpts{})
	require.NoError(t, err)
	assert.Equal(t, "backup", r.Text)
}

func TestDraftGraphAbortsChainOnNonRetryableClientError(t *testing.T) {
	primary := &fakeAdapter{name: "primary", err: &statusErr{status: http.StatusBadRequest}}
	backup := &fakeAdapter{name: "backup", result: &llm.Result{Text: "backup"}}
	f := New([]llm.Adapter{primary, backup}, nil, nil)

	_, err := f.DraftGraph(context.Background(), "brief", 1, llm.CallOpts{})
	require.Error(t, err)
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"primary"}, agg.Failed)
}

func TestDraftGraphExhaustsAllProvidersAndAggregatesErrors(t *testing.T) {
	primary := &fakeAdapter{name: "primary", err: &statusErr{status: http.StatusServiceUnavailable}}
	backup := &fakeAdapter{name: "backup", err: &statusErr{status: http.StatusServiceUnavailable}}
	f := New([]llm.Adapter{primary, backup}, nil, nil)

	_, err := f.DraftGraph(context.Background(), "brief", 1, llm.CallOpts{})
	require.Error(t, err)
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 2)
}

func TestDraftGraphRetriesOnPlainNetworkError(t *testing.T) {
	primary := &fakeAdapter{name: "primary", err: assertErr("dial tcp: timeout")}
	backup := &fakeAdapter{name: "backup", result: &llm.Result{Text: "backup"}}
	f := New([]llm.Adapter{primary, backup}, nil, nil)

	r, err := f.DraftGraph(context.Background(), "brief", 1, llm.CallOpts{})
	require.NoError(t, err)
	assert.Equal(t, "backup", r.Text)
}

func TestStreamDraftGraphDelegatesToPrimaryOnly(t *testing.T) {
	primary := &fakeAdapter{name: "primary", streaming: true}
	backup := &fakeAdapter{name: "backup", streaming: true}
	f := New([]llm.Adapter{primary, backup}, nil, nil)

	assert.True(t, f.SupportsStreaming())
	err := f.StreamDraftGraph(context.Background(), "brief", 1, llm.CallOpts{}, make(chan llm.StreamEvent, 1))
	assert.NoError(t, err)
}

func TestStreamDraftGraphFailsWhenPrimaryCannotStream(t *testing.T) {
	primary := &fakeAdapter{name: "primary", streaming: false}
	f := New([]llm.Adapter{primary}, nil, nil)

	assert.False(t, f.SupportsStreaming())
	err := f.StreamDraftGraph(context.Background(), "brief", 1, llm.CallOpts{}, make(chan llm.StreamEvent, 1))
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
