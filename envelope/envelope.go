// Package envelope implements C8, the envelope finaliser: it wraps a
// pipeline's output with trace/quality/archetype/truncation/degraded
// metadata and enforces the response-list caps, producing the
// outward-facing response shape.
package envelope

import (
	"github.com/talchain/olumi-cee/graph"
)

// Response caps enforced by Finalise, per §4.8.
const (
	BiasFindingsMax          = 10
	OptionsMax               = 6
	EvidenceSuggestionsMax   = 20
	SensitivitySuggestionsMax = 10
)

// Engine describes which upstream provider/model produced a result, and
// whether it reported degraded-mode operation.
type Engine struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Degraded string `json:"degraded,omitempty"`
}

// Trace is attached to every response.
type Trace struct {
	RequestID     string `json:"request_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Engine        Engine `json:"engine"`
}

// Quality carries the overall 1-10 confidence-derived score.
type Quality struct {
	Overall int `json:"overall"`
}

// QualityFromConfidence maps a confidence in [0,1] onto the 1-10 overall
// quality score, clamping out-of-range input.
func QualityFromConfidence(confidence float64) Quality {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	score := int(confidence*9) + 1
	if score > 10 {
		score = 10
	}
	return Quality{Overall: score}
}

// Match classifies how an Archetype was determined.
type Match string

const (
	MatchExact   Match = "exact"
	MatchFuzzy   Match = "fuzzy"
	MatchGeneric Match = "generic"
)

// Archetype is the {decision_type, match, confidence} triple attached to
// every draft response.
type Archetype struct {
	DecisionType string  `json:"decision_type"`
	Match        Match   `json:"match"`
	Confidence   string  `json:"confidence"`
}

// ValidationIssue is an ordered, severity-tagged note about an observable
// degradation in the response.
type ValidationIssue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
}

const (
	SeverityWarning = "warning"
)

// ResponseLimits records which response lists were truncated to their cap.
type ResponseLimits struct {
	BiasFindingsTruncated          bool `json:"bias_findings_truncated"`
	OptionsTruncated               bool `json:"options_truncated"`
	EvidenceSuggestionsTruncated   bool `json:"evidence_suggestions_truncated"`
	SensitivitySuggestionsTruncated bool `json:"sensitivity_suggestions_truncated"`
}

// Envelope is the outward-facing wrapper around a drafted graph.
type Envelope struct {
	Graph                 *graph.Graph      `json:"graph"`
	Rationales            []string          `json:"rationales,omitempty"`
	Options               []string          `json:"options,omitempty"`
	BiasFindings          []string          `json:"bias_findings,omitempty"`
	EvidenceSuggestions   []string          `json:"evidence_suggestions,omitempty"`
	SensitivitySuggestions []string         `json:"sensitivity_suggestions,omitempty"`

	ResponseLimits    ResponseLimits    `json:"response_limits"`
	Archetype         Archetype         `json:"archetype"`
	Trace             Trace             `json:"trace"`
	Quality           Quality           `json:"quality"`
	ValidationIssues  []ValidationIssue `json:"validation_issues,omitempty"`
}

// Input collects everything Finalise needs to build a response.
type Input struct {
	Graph                  *graph.Graph
	Rationales             []string
	Options                []string
	BiasFindings           []string
	EvidenceSuggestions    []string
	SensitivitySuggestions []string

	RequestID     string
	CorrelationID string
	Provider      string
	Model         string
	Degraded      string

	Confidence float64

	// Brief and ArchetypeHint feed the archetype classifier.
	Brief         string
	ArchetypeHint string
	ArchetypeEnabled bool

	// PipelineCtx, when non-nil, is scanned for CEE_REPRO_MISMATCH
	// corrections to surface as validation issues. ENGINE_DEGRADED comes
	// from Degraded, not from the corrections.
	PipelineCtx *graph.PipelineContext
}

// Finalise builds the outward-facing Envelope from in, truncating list
// fields to their caps and recording which were truncated.
func Finalise(in Input) *Envelope {
	env := &Envelope{
		Graph:      in.Graph,
		Rationales: in.Rationales,
		Trace: Trace{
			RequestID:     in.RequestID,
			CorrelationID: in.CorrelationID,
			Engine:        Engine{Provider: in.Provider, Model: in.Model, Degraded: in.Degraded},
		},
		Quality:   QualityFromConfidence(in.Confidence),
		Archetype: ClassifyArchetype(in.Brief, in.ArchetypeHint, in.ArchetypeEnabled),
	}

	env.Options, env.ResponseLimits.OptionsTruncated = truncate(in.Options, OptionsMax)
	env.BiasFindings, env.ResponseLimits.BiasFindingsTruncated = truncate(in.BiasFindings, BiasFindingsMax)
	env.EvidenceSuggestions, env.ResponseLimits.EvidenceSuggestionsTruncated = truncate(in.EvidenceSuggestions, EvidenceSuggestionsMax)
	env.SensitivitySuggestions, env.ResponseLimits.SensitivitySuggestionsTruncated = truncate(in.SensitivitySuggestions, SensitivitySuggestionsMax)

	env.ValidationIssues = validationIssues(in)

	return env
}

func truncate(items []string, max int) ([]string, bool) {
	if len(items) <= max {
		return items, false
	}
	return items[:max], true
}

// validationIssues surfaces observable degradations as warning-severity
// entries: a degraded upstream signal, and any CEE_REPRO_MISMATCH
// correction code recorded during the pipeline run.
func validationIssues(in Input) []ValidationIssue {
	var issues []ValidationIssue
	if in.Degraded != "" {
		issues = append(issues, ValidationIssue{Code: "ENGINE_DEGRADED", Severity: SeverityWarning})
	}
	if in.PipelineCtx != nil {
		for _, c := range in.PipelineCtx.Corrections {
			if c.Code == "CEE_REPRO_MISMATCH" {
				issues = append(issues, ValidationIssue{Code: "CEE_REPRO_MISMATCH", Severity: SeverityWarning})
			}
		}
	}
	return issues
}
