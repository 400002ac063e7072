package httpapi

import (
	"io"
	"net/http"

	"github.com/talchain/olumi-cee/cee"
	"github.com/talchain/olumi-cee/graph"
)

// readinessResponse is the body of POST /assist/v1/graph-readiness.
// There is no dedicated pipeline component behind this endpoint (spec.md
// fixes only its request/response shape); the scoring below is a
// deterministic heuristic over the existing graph.FactorType/Category
// model, not a port of an existing stage.
type readinessResponse struct {
	ReadinessScore   int      `json:"readiness_score"`
	ReadinessLevel   string   `json:"readiness_level"`
	ConfidenceLevel  string   `json:"confidence_level"`
	QualityFactors   []string `json:"quality_factors"`
	CanRunAnalysis   bool     `json:"can_run_analysis"`
	TotalFactorCount int      `json:"total_factor_count"`
	UserQuestionCount int     `json:"user_question_count"`
	FactorCount      int      `json:"factor_count"` // deprecated, mirrors TotalFactorCount
	Trace            cee.Trace `json:"trace"`
}

// handleGraphReadiness implements POST /assist/v1/graph-readiness (§6).
func (d *Dependencies) handleGraphReadiness(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "could not read request body", cee.Trace{RequestID: requestID}, err))
		return
	}
	g, err := decodeGraphField(body)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "invalid graph-readiness request", cee.Trace{RequestID: requestID}, err))
		return
	}

	resp := scoreReadiness(g)
	resp.Trace = cee.Trace{RequestID: requestID}
	writeJSON(w, http.StatusOK, resp)
}

// scoreReadiness walks factor nodes and their value/category completeness
// to derive a 0-100 readiness score: a factor counts as "ready" when it
// carries a finite value and a non-empty category; unresolved factors
// (no value, category still "observable"/unset) lower the score and are
// named in quality_factors. Goals/options/edges presence gates
// can_run_analysis independently of the score.
func scoreReadiness(g *graph.Graph) readinessResponse {
	factors := g.NodesByKind(graph.KindFactor)
	var qualityFactors []string
	ready := 0
	needsInput := 0

	for _, f := range factors {
		if f.Factor == nil {
			qualityFactors = append(qualityFactors, "missing_factor_data:"+f.ID)
			needsInput++
			continue
		}
		hasValue := f.Factor.Value != nil
		hasCategory := f.Factor.Category != ""
		switch {
		case hasValue && hasCategory:
			ready++
		case !hasValue:
			qualityFactors = append(qualityFactors, "missing_value:"+f.ID)
			needsInput++
		case !hasCategory:
			qualityFactors = append(qualityFactors, "missing_category:"+f.ID)
		}
	}

	score := 100
	if len(factors) > 0 {
		score = (ready * 100) / len(factors)
	}

	level := "needs_work"
	switch {
	case score >= 80:
		level = "ready"
	case score >= 50:
		level = "fair"
	}

	confidence := "low"
	switch {
	case score >= 80:
		confidence = "high"
	case score >= 50:
		confidence = "medium"
	}

	hasGoal := len(g.NodesByKind(graph.KindGoal)) > 0
	hasOption := len(g.NodesByKind(graph.KindOption)) > 0
	canRun := hasGoal && hasOption && needsInput == 0

	return readinessResponse{
		ReadinessScore:    score,
		ReadinessLevel:    level,
		ConfidenceLevel:   confidence,
		QualityFactors:    qualityFactors,
		CanRunAnalysis:    canRun,
		TotalFactorCount:  len(factors),
		UserQuestionCount: needsInput,
		FactorCount:       len(factors),
	}
}
