package graph

import "encoding/json"

// MarshalJSON serialises a node's canonical fields plus its kind-specific
// data (factor/option/goal) and any unknown passthrough fields recorded
// in Extra. Passthrough keys never shadow canonical ones.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range n.Extra {
		out[k] = v
	}
	out["id"] = n.ID
	out["kind"] = n.Kind
	if n.Label != "" {
		out["label"] = n.Label
	}
	if n.Body != "" {
		out["body"] = n.Body
	}

	switch {
	case n.Factor != nil:
		out["data"] = n.Factor
	case n.Option != nil:
		out["data"] = n.Option
	case n.Goal != nil:
		out["data"] = n.Goal
	}

	return json.Marshal(out)
}

// MarshalJSON serialises an edge in both the nested {strength:
// {mean,std}, exists_probability} shape and the flat {strength_mean,
// strength_std, belief_exists} shape, so downstream consumers can read
// either without branching (§4.4 edge-shape unification).
func (e *Edge) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range e.Extra {
		out[k] = v
	}
	out["id"] = e.ID
	out["from"] = e.From
	out["to"] = e.To
	out["strength"] = e.Strength
	out["exists_probability"] = e.ExistsProbability
	out["strength_mean"] = e.Strength.Mean
	out["strength_std"] = e.Strength.Std
	out["belief_exists"] = e.ExistsProbability
	if e.EffectDirection != "" {
		out["effect_direction"] = e.EffectDirection
	}

	return json.Marshal(out)
}

// MarshalJSON serialises the graph's canonical fields plus any unknown
// graph-level passthrough fields recorded in Extra.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range g.Extra {
		out[k] = v
	}
	out["version"] = g.Version
	out["seed"] = g.Seed
	out["nodes"] = g.Nodes
	out["edges"] = g.Edges
	out["meta"] = g.Meta

	return json.Marshal(out)
}
