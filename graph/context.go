package graph

import "time"

// StageTrace records the start/finish/error of one pipeline stage, keyed by
// stage name in PipelineContext.Trace (e.g. "parse", "deterministic_sweep").
type StageTrace struct {
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        string    `json:"err,omitempty"`
}

// PipelineContext is threaded through parse -> normalise -> enrich ->
// repair -> package -> boundary. It is mutated only by its owning stage at
// any given moment; the orchestrator hands it to exactly one stage at a
// time, so no internal locking is needed.
type PipelineContext struct {
	RequestID string

	Graph *Graph

	Corrections    []Correction
	FieldDeletions []FieldDeletion

	// Trace holds one StageTrace per stage name, in execution order.
	Trace []StageTrace

	// ExtractionMode records the enricher's early-exit decision, e.g.
	// "v4_complete_skip". Empty when the enricher ran in full.
	ExtractionMode string

	// BaselineDefaultedIDs lists factor ids that were assigned the 1.0
	// baseline value because they had no finite data.value on input.
	BaselineDefaultedIDs []string

	// Degraded carries a non-empty signal name (e.g. "redis") when the
	// upstream call reported degraded-mode operation.
	Degraded string

	// EngineProvider and EngineModel identify which adapter and model
	// produced the graph, for the envelope's trace.engine block.
	EngineProvider string
	EngineModel    string
}

// NewPipelineContext creates an empty context for the given request,
// ready to receive the parser's output as its first mutation.
func NewPipelineContext(requestID string) *PipelineContext {
	return &PipelineContext{RequestID: requestID}
}

// BeginStage appends a new StageTrace with StartedAt set to now and returns
// its index so the caller can finish it via FinishStage.
func (c *PipelineContext) BeginStage(name string) int {
	c.Trace = append(c.Trace, StageTrace{Name: name, StartedAt: time.Now()})
	return len(c.Trace) - 1
}

// FinishStage stamps FinishedAt (and Err, if non-nil) on the trace entry
// opened by BeginStage.
func (c *PipelineContext) FinishStage(idx int, err error) {
	if idx < 0 || idx >= len(c.Trace) {
		return
	}
	c.Trace[idx].FinishedAt = time.Now()
	if err != nil {
		c.Trace[idx].Err = err.Error()
	}
}

// AddCorrection appends a correction record. Corrections are append-only:
// no stage may remove or rewrite one already recorded.
func (c *PipelineContext) AddCorrection(corr Correction) {
	c.Corrections = append(c.Corrections, corr)
}

// AddFieldDeletion appends a field-deletion audit entry.
func (c *PipelineContext) AddFieldDeletion(d FieldDeletion) {
	c.FieldDeletions = append(c.FieldDeletions, d)
}
