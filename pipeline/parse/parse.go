// Package parse implements C4, the parser + normaliser: it turns the
// upstream JSON-like payload (an LLM's draftGraph/repairGraph response,
// or a client-submitted graph) into a graph.Graph while preserving every
// field the caller doesn't recognise.
package parse

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/talchain/olumi-cee/graph"
)

// canonicalKinds maps non-canonical kind spellings onto the closest
// canonical graph.NodeKind. Anything not in this table and not already
// canonical keeps its original kind string; the parser guesses no
// further, and no later pipeline stage rejects it.
var canonicalKinds = map[string]graph.NodeKind{
	"evidence":     graph.KindFactor,
	"assumption":   graph.KindFactor,
	"lever":        graph.KindOption,
	"alternative":  graph.KindOption,
	"barrier":      graph.KindRisk,
	"threat":       graph.KindRisk,
	"result":       graph.KindOutcome,
	"consequence":  graph.KindOutcome,
	"objective":    graph.KindGoal,
	"target":       graph.KindGoal,
	"choice_point": graph.KindDecision,
}

func canonicalKind(raw string) graph.NodeKind {
	k := graph.NodeKind(raw)
	switch k {
	case graph.KindGoal, graph.KindDecision, graph.KindOption, graph.KindFactor, graph.KindOutcome, graph.KindRisk:
		return k
	}
	if mapped, ok := canonicalKinds[raw]; ok {
		return mapped
	}
	return k
}

const (
	factorFieldCategory   = "category"
	factorFieldValue      = "value"
	factorFieldRawValue   = "raw_value"
	factorFieldCap        = "cap"
	factorFieldUnit       = "unit"
	factorFieldBaseline   = "baseline"
	factorFieldType       = "factor_type"
	factorFieldDrivers    = "uncertainty_drivers"
	factorFieldExtraction = "extractionType"
)

// Parse decodes raw into a graph.Graph, canonicalising node kinds,
// unifying edge shapes, defaulting controllable-factor baselines, and
// preserving every field it doesn't interpret under the node/edge/graph
// Extra bag. ctx receives BaselineDefaultedIDs for any factor defaulted
// to 1.0, per §4.4's "factor baseline defaulting" policy.
func Parse(raw []byte, ctx *graph.PipelineContext) (*graph.Graph, error) {
	var wire map[string]interface{}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse: payload is not a JSON object: %w", err)
	}

	g := &graph.Graph{Extra: map[string]interface{}{}}

	if v, ok := wire["version"].(string); ok {
		g.Version = v
	}
	if v, ok := wire["seed"].(float64); ok {
		g.Seed = int64(v)
	}

	rawNodes, _ := wire["nodes"].([]interface{})
	for _, rn := range rawNodes {
		nodeMap, ok := rn.(map[string]interface{})
		if !ok {
			continue
		}
		node, err := parseNode(nodeMap, ctx)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, node)
	}

	rawEdges, _ := wire["edges"].([]interface{})
	for _, re := range rawEdges {
		edgeMap, ok := re.(map[string]interface{})
		if !ok {
			continue
		}
		edge := parseEdge(edgeMap)
		g.Edges = append(g.Edges, edge)
	}

	for k, v := range wire {
		switch k {
		case "version", "seed", "nodes", "edges", "meta":
		default:
			g.Extra[k] = v
		}
	}

	g.Sort()
	return g, nil
}

func parseNode(m map[string]interface{}, ctx *graph.PipelineContext) (*graph.Node, error) {
	node := &graph.Node{Extra: map[string]interface{}{}}

	id, _ := m["id"].(string)
	node.ID = id
	if kindStr, _ := m["kind"].(string); kindStr != "" {
		node.Kind = canonicalKind(kindStr)
	}
	node.Label, _ = m["label"].(string)
	node.Body, _ = m["body"].(string)

	data, _ := m["data"].(map[string]interface{})

	switch node.Kind {
	case graph.KindFactor:
		node.Factor = parseFactorData(data)
		if node.Factor.Category == graph.CategoryControllable && node.Factor.Value == nil {
			defaulted := 1.0
			node.Factor.Value = &defaulted
			if ctx != nil {
				ctx.BaselineDefaultedIDs = append(ctx.BaselineDefaultedIDs, node.ID)
			}
		}
	case graph.KindOption:
		node.Option = parseOptionData(data)
	case graph.KindGoal:
		node.Goal = parseGoalData(data)
	default:
		if data != nil {
			node.Extra["data"] = data
		}
	}

	for k, v := range m {
		switch k {
		case "id", "kind", "label", "body", "data":
		default:
			node.Extra[k] = v
		}
	}

	return node, nil
}

func floatPtr(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func parseFactorData(m map[string]interface{}) *graph.FactorData {
	fd := &graph.FactorData{}
	if m == nil {
		return fd
	}
	if cat, ok := m[factorFieldCategory].(string); ok {
		fd.Category = graph.FactorCategory(cat)
	}
	fd.Value = floatPtr(m, factorFieldValue)
	fd.RawValue = floatPtr(m, factorFieldRawValue)
	fd.Cap = floatPtr(m, factorFieldCap)
	fd.Baseline = floatPtr(m, factorFieldBaseline)
	fd.Unit, _ = m[factorFieldUnit].(string)
	if ft, ok := m[factorFieldType].(string); ok {
		fd.FactorType = graph.FactorType(ft)
	}
	if drivers, ok := m[factorFieldDrivers].([]interface{}); ok {
		for _, d := range drivers {
			if s, ok := d.(string); ok {
				fd.UncertaintyDrivers = append(fd.UncertaintyDrivers, s)
			}
		}
	}
	if et, ok := m[factorFieldExtraction].(string); ok {
		fd.ExtractionType = graph.ExtractionType(et)
	}
	return fd
}

func parseOptionData(m map[string]interface{}) *graph.OptionData {
	od := &graph.OptionData{Interventions: map[string]float64{}}
	if m == nil {
		return od
	}
	if interventions, ok := m["interventions"].(map[string]interface{}); ok {
		for k, v := range interventions {
			if f, ok := v.(float64); ok {
				od.Interventions[k] = f
			}
		}
	}
	return od
}

func parseGoalData(m map[string]interface{}) *graph.GoalData {
	gd := &graph.GoalData{}
	if m == nil {
		return gd
	}
	gd.GoalThreshold = floatPtr(m, "goal_threshold")
	gd.GoalThresholdRaw = floatPtr(m, "goal_threshold_raw")
	gd.GoalThresholdCap = floatPtr(m, "goal_threshold_cap")
	gd.GoalThresholdUnit, _ = m["goal_threshold_unit"].(string)
	return gd
}

func parseEdge(m map[string]interface{}) *graph.Edge {
	edge := &graph.Edge{Extra: map[string]interface{}{}}
	edge.ID, _ = m["id"].(string)
	edge.From, _ = m["from"].(string)
	edge.To, _ = m["to"].(string)
	if ed, ok := m["effect_direction"].(string); ok {
		edge.EffectDirection = graph.EffectDirection(ed)
	}

	if nested, ok := m["strength"].(map[string]interface{}); ok {
		if mean, ok := nested["mean"].(float64); ok {
			edge.Strength.Mean = mean
		}
		if std, ok := nested["std"].(float64); ok {
			edge.Strength.Std = std
		}
	} else {
		if mean, ok := m["strength_mean"].(float64); ok {
			edge.Strength.Mean = mean
		}
		if std, ok := m["strength_std"].(float64); ok {
			edge.Strength.Std = std
		}
	}
	if edge.Strength.Std < graph.MinStrengthStd {
		edge.Strength.Std = graph.MinStrengthStd
	}

	if v, ok := m["exists_probability"].(float64); ok {
		edge.ExistsProbability = v
	} else if v, ok := m["belief_exists"].(float64); ok {
		edge.ExistsProbability = v
	}

	for k, v := range m {
		switch k {
		case "id", "from", "to", "effect_direction", "strength", "strength_mean",
			"strength_std", "exists_probability", "belief_exists":
		default:
			edge.Extra[k] = v
		}
	}

	return edge
}

// sortedBaselineDefaultedIDs returns ids in deterministic order, used by
// tests that don't care about append order.
func sortedBaselineDefaultedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
