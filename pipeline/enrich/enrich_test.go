package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talchain/olumi-cee/graph"
)

func TestRedirectGoalThresholdExtractsExplicitTarget(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "g1", Kind: graph.KindGoal, Label: "grow the business"},
	}}

	Enrich("We want to target 800 customers by year end.", g, nil)

	goal := g.Nodes[0].Goal
	require.NotNil(t, goal)
	require.NotNil(t, goal.GoalThresholdRaw)
	assert.Equal(t, 800.0, *goal.GoalThresholdRaw)
	require.NotNil(t, goal.GoalThresholdCap)
	assert.Equal(t, 1000.0, *goal.GoalThresholdCap)
}

func TestRedirectGoalThresholdHandlesCurrencyAndScale(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "g1", Kind: graph.KindGoal},
	}}

	Enrich("Reach of £20k MRR within six months.", g, nil)

	goal := g.Nodes[0].Goal
	require.NotNil(t, goal)
	require.NotNil(t, goal.GoalThresholdRaw)
	assert.Equal(t, 20000.0, *goal.GoalThresholdRaw)
	assert.Equal(t, "£", goal.GoalThresholdUnit)
}

func TestRedirectGoalThresholdIgnoresTargetMarketPhrase(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "g1", Kind: graph.KindGoal},
	}}

	Enrich("Our target market churn is 8% today.", g, nil)

	assert.Nil(t, g.Nodes[0].Goal)
}

func TestRedirectGoalThresholdOnlyAnnotatesFirstGoal(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "g1", Kind: graph.KindGoal},
		{ID: "g2", Kind: graph.KindGoal},
	}}

	Enrich("Target 500 signups this quarter.", g, nil)

	assert.NotNil(t, g.Nodes[0].Goal)
	assert.Nil(t, g.Nodes[1].Goal)
}

func TestEnrichEarlyExitsWhenAllOptionsComplete(t *testing.T) {
	value := 0.5
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "f1", Kind: graph.KindFactor, Factor: &graph.FactorData{Value: &value}},
		{ID: "o1", Kind: graph.KindOption, Option: &graph.OptionData{
			Interventions: map[string]float64{"f1": 0.8},
		}},
	}}
	ctx := graph.NewPipelineContext("req-1")

	Enrich("Spend $5,000 on ads.", g, ctx)

	assert.Equal(t, "v4_complete_skip", ctx.ExtractionMode)
	assert.Len(t, g.Nodes, 2)
}

func TestEnrichInjectsInferredFactorForUnmatchedQuantity(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "o1", Kind: graph.KindOption, Option: &graph.OptionData{}},
	}}
	ctx := graph.NewPipelineContext("req-1")

	Enrich("We plan to spend $5,000 on advertising this quarter.", g, ctx)

	assert.Equal(t, "v4_extracted", ctx.ExtractionMode)

	var injected *graph.Node
	for _, n := range g.Nodes {
		if n.Kind == graph.KindFactor {
			injected = n
		}
	}
	require.NotNil(t, injected)
	require.NotNil(t, injected.Factor)
	assert.Equal(t, graph.ExtractionInferred, injected.Factor.ExtractionType)
	require.NotNil(t, injected.Factor.Value)
	require.NotNil(t, injected.Factor.Cap)
	assert.Equal(t, 10000.0, *injected.Factor.Cap)
	assert.Equal(t, 0.5, *injected.Factor.Value)
}

func TestEnrichEnhancesExistingFactorInsteadOfInjecting(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "f1", Kind: graph.KindFactor, Label: "advertising cost"},
		{ID: "o1", Kind: graph.KindOption, Option: &graph.OptionData{}},
	}}

	Enrich("We plan to spend $5,000 on advertising this quarter.", g, nil)

	assert.Len(t, g.Nodes, 2)
	require.NotNil(t, g.Nodes[0].Factor)
	assert.Equal(t, graph.FactorCost, g.Nodes[0].Factor.FactorType)
	assert.GreaterOrEqual(t, len(g.Nodes[0].Factor.UncertaintyDrivers), 3)
}

func TestEnrichStoresPercentageWithoutCap(t *testing.T) {
	g := &graph.Graph{Nodes: []*graph.Node{
		{ID: "o1", Kind: graph.KindOption, Option: &graph.OptionData{}},
	}}

	Enrich("We expect a conversion rate of 8% on this campaign.", g, nil)

	var injected *graph.Node
	for _, n := range g.Nodes {
		if n.Kind == graph.KindFactor {
			injected = n
		}
	}
	require.NotNil(t, injected)
	require.NotNil(t, injected.Factor.Value)
	assert.Equal(t, 0.08, *injected.Factor.Value)
	assert.Nil(t, injected.Factor.Cap)
}

func TestNextPowerOfTen(t *testing.T) {
	assert.Equal(t, 1.0, nextPowerOfTen(0))
	assert.Equal(t, 1000.0, nextPowerOfTen(800))
	assert.Equal(t, 10000.0, nextPowerOfTen(5000))
	assert.Equal(t, 100.0, nextPowerOfTen(100))
}

func TestLabelOverlap(t *testing.T) {
	assert.True(t, labelOverlap("advertising spend", "advertising"))
	assert.False(t, labelOverlap("team morale", "advertising"))
}
