package httpapi

import (
	"io"
	"net/http"

	"github.com/talchain/olumi-cee/cee"
	"github.com/talchain/olumi-cee/envelope"
	"github.com/talchain/olumi-cee/graph"
)

// biasFinding is one entry of POST /assist/v1/bias-check's
// bias_findings array (§6). As with graph-readiness, there is no
// dedicated pipeline component behind this endpoint; the rules below
// are a deterministic heuristic sweep over the graph's existing
// factor/edge data model.
type biasFinding struct {
	Code             string `json:"code"`
	Severity         string `json:"severity"`
	CausalValidation string `json:"causal_validation,omitempty"`
	EvidenceStrength string `json:"evidence_strength,omitempty"`
}

type biasCheckRequest struct {
	Seed *int64 `json:"seed"`
}

type biasCheckResponse struct {
	BiasFindings []biasFinding `json:"bias_findings"`
	Trace        cee.Trace     `json:"trace"`
}

// handleBiasCheck implements POST /assist/v1/bias-check (§6).
func (d *Dependencies) handleBiasCheck(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "could not read request body", cee.Trace{RequestID: requestID}, err))
		return
	}
	g, err := decodeGraphField(body)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "invalid bias-check request", cee.Trace{RequestID: requestID}, err))
		return
	}

	findings := findBiases(g)
	if len(findings) > envelope.BiasFindingsMax {
		findings = findings[:envelope.BiasFindingsMax]
	}

	writeJSON(w, http.StatusOK, biasCheckResponse{
		BiasFindings: findings,
		Trace:        cee.Trace{RequestID: requestID},
	})
}

// findBiases runs three rule-based checks: edges claimed at near-certain
// strength with the floor std (overconfidence), inferred factor values
// carrying no uncertainty driver (unvalidated inference), and option
// interventions that target a factor id absent from the graph (dangling
// intervention, the most severe — it cannot be evaluated at all).
func findBiases(g *graph.Graph) []biasFinding {
	var findings []biasFinding

	for _, e := range g.Edges {
		if e.Strength.Std <= graph.MinStrengthStd && e.Strength.Mean >= 0.9 {
			findings = append(findings, biasFinding{
				Code:             "OVERCONFIDENT_EDGE",
				Severity:         "warning",
				CausalValidation: "unverified",
				EvidenceStrength: "low",
			})
		}
	}

	for _, n := range g.NodesByKind(graph.KindFactor) {
		if n.Factor == nil {
			continue
		}
		if n.Factor.ExtractionType == graph.ExtractionInferred && len(n.Factor.UncertaintyDrivers) == 0 {
			findings = append(findings, biasFinding{
				Code:             "UNVALIDATED_INFERENCE",
				Severity:         "warning",
				CausalValidation: "unverified",
			})
		}
	}

	for _, opt := range g.NodesByKind(graph.KindOption) {
		if opt.Option == nil {
			continue
		}
		for factorID := range opt.Option.Interventions {
			if g.NodeByID(factorID) == nil {
				findings = append(findings, biasFinding{
					Code:     "DANGLING_INTERVENTION",
					Severity: "error",
				})
			}
		}
	}

	return findings
}
