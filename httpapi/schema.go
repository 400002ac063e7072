package httpapi

import (
	"encoding/json"
	"net/url"
)

// schemaVersion resolves the ?schema= query value to a wire schema
// version string, per §6: v1, v2 (alias 2, 2.2), v3 (default).
func schemaVersion(q url.Values) string {
	switch q.Get("schema") {
	case "v1":
		return "1.0"
	case "v2", "2", "2.2":
		return "2.2"
	case "v3", "":
		return "3.0"
	default:
		return "3.0"
	}
}

// renderEnvelope marshals v (an *envelope.Envelope) and, for schema
// versions before 3.0, rewrites every node's "kind" key to "type" to
// match the v2 wire shape that scenario 2 requires. graph.Node's own
// MarshalJSON always emits "kind" — the canonical internal
// representation is never changed; this is a response-shape
// post-processing step specific to the HTTP surface.
func renderEnvelope(v interface{}, schema string) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out["schema_version"] = schema

	if schema == "3.0" {
		return out, nil
	}

	g, ok := out["graph"].(map[string]interface{})
	if !ok {
		return out, nil
	}
	nodes, ok := g["nodes"].([]interface{})
	if !ok {
		return out, nil
	}
	for _, raw := range nodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if kind, ok := node["kind"]; ok {
			node["type"] = kind
			delete(node, "kind")
		}
	}
	return out, nil
}
