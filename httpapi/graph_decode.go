package httpapi

import (
	"encoding/json"
	"fmt"

	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/pipeline/parse"
)

// decodeGraphField extracts the "graph" field from body and parses it
// into a canonical *graph.Graph via pipeline/parse.Parse, normalising
// the edge shape first: graph-readiness and bias-check accept edges
// keyed by either {from,to} or {source,target} (§6), while parse.Parse
// only understands {from,to}.
func decodeGraphField(body []byte) (*graph.Graph, error) {
	var wrapper struct {
		Graph json.RawMessage `json:"graph"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("httpapi: invalid request body: %w", err)
	}
	if len(wrapper.Graph) == 0 {
		return nil, fmt.Errorf("httpapi: missing graph field")
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(wrapper.Graph, &wire); err != nil {
		return nil, fmt.Errorf("httpapi: graph field is not a JSON object: %w", err)
	}
	normaliseEdgeAliases(wire)

	normalised, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	return parse.Parse(normalised, graph.NewPipelineContext(""))
}

// normaliseEdgeAliases rewrites source/target keys to from/to in place,
// only when from/to are absent, so existing callers using the
// canonical shape are unaffected.
func normaliseEdgeAliases(wire map[string]interface{}) {
	rawEdges, ok := wire["edges"].([]interface{})
	if !ok {
		return
	}
	for _, re := range rawEdges {
		edge, ok := re.(map[string]interface{})
		if !ok {
			continue
		}
		if _, hasFrom := edge["from"]; !hasFrom {
			if source, ok := edge["source"]; ok {
				edge["from"] = source
			}
		}
		if _, hasTo := edge["to"]; !hasTo {
			if target, ok := edge["target"]; ok {
				edge["to"] = target
			}
		}
	}
}
