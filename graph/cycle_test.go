package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acyclicGraph() *Graph {
	return &Graph{
		Nodes: []*Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []*Edge{
			{ID: "e1", From: "a", To: "b", Strength: Strength{Mean: 0.8}, ExistsProbability: 0.9},
			{ID: "e2", From: "b", To: "c", Strength: Strength{Mean: 0.8}, ExistsProbability: 0.9},
		},
	}
}

func TestDetectCycleNoneFound(t *testing.T) {
	g := acyclicGraph()
	assert.Nil(t, g.DetectCycle())
}

func TestDetectCycleFindsLoop(t *testing.T) {
	g := acyclicGraph()
	g.Edges = append(g.Edges, &Edge{ID: "e3", From: "c", To: "a", Strength: Strength{Mean: 0.1}, ExistsProbability: 0.5})

	cycle := g.DetectCycle()
	require.NotNil(t, cycle)
	assert.GreaterOrEqual(t, len(cycle), 1)
}

func TestBreakCyclesDropsWeakestEdgeUntilAcyclic(t *testing.T) {
	g := acyclicGraph()
	// e3 closes the loop and is the weakest by mean*exists_probability.
	g.Edges = append(g.Edges, &Edge{ID: "e3", From: "c", To: "a", Strength: Strength{Mean: 0.1}, ExistsProbability: 0.5})

	ctx := NewPipelineContext("req-1")
	g.BreakCycles(ctx)

	assert.Nil(t, g.DetectCycle())
	require.Len(t, ctx.Corrections, 1)
	assert.Equal(t, CodeCycleBroken, ctx.Corrections[0].Code)
	assert.Equal(t, ReasonCycleBroken, ctx.Corrections[0].Reason)

	for _, e := range g.Edges {
		assert.NotEqual(t, "e3", e.ID)
	}
}

func TestBreakCyclesOnAcyclicGraphIsNoop(t *testing.T) {
	g := acyclicGraph()
	originalLen := len(g.Edges)

	ctx := NewPipelineContext("req-1")
	g.BreakCycles(ctx)

	assert.Len(t, g.Edges, originalLen)
	assert.Empty(t, ctx.Corrections)
}
