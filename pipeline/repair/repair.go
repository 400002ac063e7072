// Package repair implements C6, the deterministic repair sweep: a fixed
// sequence of idempotent stages that reconcile a graph's declared
// category/threshold fields against its actual edge topology, each
// recording a Correction and matching FieldDeletion entries for anything
// it strips.
package repair

import (
	"regexp"

	"github.com/talchain/olumi-cee/graph"
)

// Sweep runs every repair stage in order against g, recording corrections
// and field deletions onto ctx. Stages only mutate fields; they never
// delete nodes.
func Sweep(g *graph.Graph, ctx *graph.PipelineContext) {
	unreachableFactorStage(g, ctx)
	structuralReconciliationStage(g, ctx)
	thresholdSweepStage(g, ctx)
	baselineDefaultingStage(g, ctx)
	capNormalisationStage(g, ctx)
	g.BreakCycles(ctx)
}

func hasIncomingOptionEdge(g *graph.Graph, factorID string) bool {
	for _, e := range g.Edges {
		if e.To != factorID {
			continue
		}
		from := g.NodeByID(e.From)
		if from != nil && from.Kind == graph.KindOption {
			return true
		}
	}
	return false
}

// stripControllableFields clears the fields only meaningful on a
// controllable factor, recording one field deletion per stripped field
// that actually held a value.
func stripControllableFields(node *graph.Node, stage, reason string, ctx *graph.PipelineContext) {
	fd := node.Factor
	if fd.Value != nil {
		fd.Value = nil
		record(ctx, stage, node.ID, "data.value", reason)
	}
	if fd.FactorType != "" {
		fd.FactorType = ""
		record(ctx, stage, node.ID, "data.factor_type", reason)
	}
	if len(fd.UncertaintyDrivers) > 0 {
		fd.UncertaintyDrivers = nil
		record(ctx, stage, node.ID, "data.uncertainty_drivers", reason)
	}
}

func record(ctx *graph.PipelineContext, stage, nodeID, field, reason string) {
	if ctx == nil {
		return
	}
	ctx.AddFieldDeletion(graph.FieldDeletion{
		Stage: stage, NodeID: nodeID, Field: field, Reason: reason,
	})
}

// unreachableFactorStage demotes a controllable factor with no incoming
// option edge: to observable if it still has a finite value, else to
// external, stripping the now-inapplicable controllable-only fields.
func unreachableFactorStage(g *graph.Graph, ctx *graph.PipelineContext) {
	const stage = "unreachable_factor"
	for _, node := range g.NodesByKind(graph.KindFactor) {
		if node.Factor == nil || node.Factor.Category != graph.CategoryControllable {
			continue
		}
		if hasIncomingOptionEdge(g, node.ID) {
			continue
		}

		before := node.Factor.Category
		hadValue := node.Factor.Value != nil
		if hadValue {
			node.Factor.Category = graph.CategoryObservable
		} else {
			node.Factor.Category = graph.CategoryExternal
		}
		stripControllableFields(node, stage, graph.ReasonUnreachableFactorReclassified, ctx)

		if ctx != nil {
			ctx.AddCorrection(graph.Correction{
				Code: graph.CodeUnreachableFactorReclassified, Layer: graph.LayerCEE,
				FieldPath: "nodes[" + node.ID + "].data.category",
				Before:    before, After: node.Factor.Category,
				Reason: graph.ReasonUnreachableFactorReclassified, Severity: graph.SeverityWarn,
			})
		}
	}
}

// inferCategory recomputes a factor's category from the edge topology: an
// incoming option edge makes it controllable. Without one, a factor
// already categorised observable or external keeps that category, and any
// other factor becomes observable if it has a value, else external.
func inferCategory(node *graph.Node, hasOptionEdge bool) graph.FactorCategory {
	if hasOptionEdge {
		return graph.CategoryControllable
	}
	if c := node.Factor.Category; c == graph.CategoryObservable || c == graph.CategoryExternal {
		return c
	}
	if node.Factor.Value != nil {
		return graph.CategoryObservable
	}
	return graph.CategoryExternal
}

// structuralReconciliationStage recomputes every factor's category from
// topology and overrides the declared one on mismatch, independent of
// whether unreachableFactorStage already touched it — this catches the
// opposite direction too, e.g. a factor declared observable that actually
// gained an incoming option edge.
func structuralReconciliationStage(g *graph.Graph, ctx *graph.PipelineContext) {
	const stage = "structural_reconciliation"
	for _, node := range g.NodesByKind(graph.KindFactor) {
		if node.Factor == nil {
			continue
		}
		hasEdge := hasIncomingOptionEdge(g, node.ID)
		inferred := inferCategory(node, hasEdge)
		if inferred == node.Factor.Category {
			continue
		}

		before := node.Factor.Category
		node.Factor.Category = inferred
		if inferred != graph.CategoryControllable {
			stripControllableFields(node, stage, graph.ReasonCategoryOverrideStrip, ctx)
		}

		if ctx != nil {
			ctx.AddCorrection(graph.Correction{
				Code: graph.CodeCategoryOverride, Layer: graph.LayerCEE,
				FieldPath: "nodes[" + node.ID + "].data.category",
				Before:    before, After: inferred,
				Reason: graph.ReasonCategoryOverrideStrip, Severity: graph.SeverityWarn,
			})
		}
	}
}

var digitPattern = regexp.MustCompile(`\d`)

func isRoundNumber(v float64) bool {
	return int64(v)%10 == 0
}

// thresholdSweepStage strips a goal's threshold fields when they can't be
// trusted: no raw value backing the normalised threshold, or a suspiciously
// round raw value with no digit anywhere in the goal's own label to confirm
// it was genuinely extracted rather than a coincidental round number.
func thresholdSweepStage(g *graph.Graph, ctx *graph.PipelineContext) {
	const stage = "threshold_sweep"
	for _, node := range g.NodesByKind(graph.KindGoal) {
		if node.Goal == nil {
			continue
		}
		gd := node.Goal

		if gd.GoalThreshold != nil && gd.GoalThresholdRaw == nil {
			gd.GoalThreshold = nil
			record(ctx, stage, node.ID, "data.goal_threshold", graph.ReasonThresholdStrippedNoRaw)
			if ctx != nil {
				ctx.AddCorrection(graph.Correction{
					Code: graph.CodeThresholdStrippedNoRaw, Layer: graph.LayerCEE,
					FieldPath: "nodes[" + node.ID + "].data.goal_threshold",
					Reason:    graph.ReasonThresholdStrippedNoRaw, Severity: graph.SeverityWarn,
				})
			}
			continue
		}

		if gd.GoalThresholdRaw != nil && isRoundNumber(*gd.GoalThresholdRaw) && !digitPattern.MatchString(node.Label) {
			record(ctx, stage, node.ID, "data.goal_threshold_raw", graph.ReasonThresholdStrippedNoDigits)
			gd.GoalThresholdRaw = nil
			if gd.GoalThreshold != nil {
				record(ctx, stage, node.ID, "data.goal_threshold", graph.ReasonThresholdStrippedNoDigits)
				gd.GoalThreshold = nil
			}
			if gd.GoalThresholdCap != nil {
				record(ctx, stage, node.ID, "data.goal_threshold_cap", graph.ReasonThresholdStrippedNoDigits)
				gd.GoalThresholdCap = nil
			}
			if gd.GoalThresholdUnit != "" {
				record(ctx, stage, node.ID, "data.goal_threshold_unit", graph.ReasonThresholdStrippedNoDigits)
				gd.GoalThresholdUnit = ""
			}
			if ctx != nil {
				ctx.AddCorrection(graph.Correction{
					Code: graph.CodeThresholdStrippedNoDigits, Layer: graph.LayerCEE,
					FieldPath: "nodes[" + node.ID + "].data.goal_threshold_raw",
					Reason:    graph.ReasonThresholdStrippedNoDigits, Severity: graph.SeverityWarn,
				})
			}
		}
	}
}

// baselineDefaultingStage is an idempotent re-check: the parser already
// defaults a controllable factor's missing value to 1.0, but
// structuralReconciliationStage can promote a factor to controllable after
// parsing, so this stage catches those too.
func baselineDefaultingStage(g *graph.Graph, ctx *graph.PipelineContext) {
	defaulted := map[string]bool{}
	if ctx != nil {
		for _, id := range ctx.BaselineDefaultedIDs {
			defaulted[id] = true
		}
	}
	for _, node := range g.NodesByKind(graph.KindFactor) {
		if node.Factor == nil || node.Factor.Category != graph.CategoryControllable {
			continue
		}
		if node.Factor.Value != nil {
			continue
		}
		baseline := 1.0
		node.Factor.Value = &baseline
		if ctx != nil && !defaulted[node.ID] {
			ctx.BaselineDefaultedIDs = append(ctx.BaselineDefaultedIDs, node.ID)
			defaulted[node.ID] = true
		}
	}
}

// capNormalisationStage recomputes value = raw_value/cap for every factor
// that carries both, clamped to [0,1], so a repaired raw_value or cap from
// an earlier stage is always reflected in value.
func capNormalisationStage(g *graph.Graph, _ *graph.PipelineContext) {
	for _, node := range g.NodesByKind(graph.KindFactor) {
		if node.Factor == nil || node.Factor.RawValue == nil || node.Factor.Cap == nil || *node.Factor.Cap == 0 {
			continue
		}
		v := *node.Factor.RawValue / *node.Factor.Cap
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		node.Factor.Value = &v
	}
}
