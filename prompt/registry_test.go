package prompt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddVersionAssignsIncrementingNumbers(t *testing.T) {
	store := NewInMemoryStore()
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()

	v1, err := reg.AddVersion(ctx, "draft-graph", "v1 template", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Number)

	v2, err := reg.AddVersion(ctx, "draft-graph", "v2 template", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Number)
}

func TestPromoteToProductionRejectsSecondProductionVersion(t *testing.T) {
	store := NewInMemoryStore()
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()

	v1, _ := reg.AddVersion(ctx, "draft-graph", "v1", nil)
	v2, _ := reg.AddVersion(ctx, "draft-graph", "v2", nil)

	require.NoError(t, reg.PromoteToProduction(ctx, "draft-graph", v1.Number))

	err := reg.PromoteToProduction(ctx, "draft-graph", v2.Number)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draft-graph")
}

func TestPromoteToProductionSameVersionIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()

	v1, _ := reg.AddVersion(ctx, "draft-graph", "v1", nil)
	require.NoError(t, reg.PromoteToProduction(ctx, "draft-graph", v1.Number))
	require.NoError(t, reg.PromoteToProduction(ctx, "draft-graph", v1.Number))
}

func TestGetSystemPromptFallsBackToDefaultOnFirstCall(t *testing.T) {
	store := NewInMemoryStore()
	reg := NewRegistry(store, nil, nil)
	reg.RegisterDefault("draft-graph", "default prompt for {{brief}}")

	out := reg.GetSystemPrompt("draft-graph", map[string]string{"brief": "grow revenue"})
	assert.Equal(t, "default prompt for grow revenue", out)
}

func TestGetSystemPromptAsyncUsesExperimentTreatment(t *testing.T) {
	store := NewInMemoryStore()
	reg := NewRegistry(store, nil, nil)
	ctx := context.Background()

	v1, _ := reg.AddVersion(ctx, "draft-graph", "control template", nil)
	v2, _ := reg.AddVersion(ctx, "draft-graph", "treatment template", nil)
	require.NoError(t, reg.PromoteToProduction(ctx, "draft-graph", v1.Number))

	reg.RegisterExperiment(&Experiment{
		Name:             "draft-graph-v2-copy",
		TaskID:           "draft-graph",
		TreatmentPercent: 100,
		TreatmentVersion: v2.Number,
	})

	out, err := reg.GetSystemPromptAsync(ctx, "draft-graph", BucketContext{UserID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "treatment template", out)
}

func TestGetSystemPromptAsyncFallsBackWhenNoExperimentAssigned(t *testing.T) {
	store := NewInMemoryStore()
	reg := NewRegistry(store, nil, nil)
	reg.RegisterDefault("draft-graph", "default template")
	reg.RegisterExperiment(&Experiment{
		Name:             "draft-graph-v2-copy",
		TaskID:           "draft-graph",
		TreatmentPercent: 0,
		TreatmentVersion: 99,
	})

	out, err := reg.GetSystemPromptAsync(context.Background(), "draft-graph", BucketContext{UserID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "default template", out)
}
