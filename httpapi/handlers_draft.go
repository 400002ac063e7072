package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/talchain/olumi-cee/cee"
	"github.com/talchain/olumi-cee/envelope"
	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/llm"
	"github.com/talchain/olumi-cee/sse"
)

// draftGraphRequest is the decoded body of POST /assist/v1/draft-graph
// and /assist/draft-graph/stream.
type draftGraphRequest struct {
	Brief         string `json:"brief" validate:"required"`
	ArchetypeHint string `json:"archetype_hint"`
	Seed          *int64 `json:"seed"`
}

// randomSeed draws a seed for requests that don't pin one explicitly,
// matching core/redis_registry.go's crypto/rand idiom for generating
// identifiers that must not be guessable or reused across requests.
func randomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.BigEndian.Uint64(buf[:]) & 0x7fffffffffffffff)
}

func decodeDraftGraphRequest(r *http.Request) (draftGraphRequest, error) {
	var req draftGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if err := validate.Struct(req); err != nil {
		return req, err
	}
	return req, nil
}

func (d *Dependencies) seedOf(req draftGraphRequest) int64 {
	if req.Seed != nil {
		return *req.Seed
	}
	return randomSeed()
}

// handleDraftGraph implements POST /assist/v1/draft-graph (§6): runs the
// pipeline orchestrator over the brief and finalises the result through
// the envelope, rendered at the requested schema version.
func (d *Dependencies) handleDraftGraph(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	req, err := decodeDraftGraphRequest(r)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "invalid draft-graph request body", cee.Trace{RequestID: requestID}, err))
		return
	}

	seed := d.seedOf(req)
	g, pctx, perr := d.Orchestrator.DraftGraph(r.Context(), requestID, req.Brief, seed, llm.CallOpts{RequestID: requestID})
	if perr != nil {
		writeCeeErrorFromAny(w, perr, requestID)
		return
	}

	env := envelope.Finalise(envelope.Input{
		Graph:            g,
		RequestID:        requestID,
		Provider:         pctx.EngineProvider,
		Model:            pctx.EngineModel,
		Degraded:         pctx.Degraded,
		Confidence:       confidenceOf(pctx),
		Brief:            req.Brief,
		ArchetypeHint:    req.ArchetypeHint,
		ArchetypeEnabled: true,
		PipelineCtx:      pctx,
	})

	out, rerr := renderEnvelope(env, schemaVersion(r.URL.Query()))
	if rerr != nil {
		writeCeeError(w, cee.Wrap(cee.CodeInternalError, "failed to render response", cee.Trace{RequestID: requestID}, rerr))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// confidenceOf derives the envelope's confidence score from the
// pipeline run: full confidence unless a correction or field deletion
// was recorded, matching envelope.QualityFromConfidence's 1-10 scale.
func confidenceOf(pctx *graph.PipelineContext) float64 {
	if len(pctx.Corrections) == 0 && len(pctx.FieldDeletions) == 0 {
		return 1.0
	}
	return 0.6
}

// handleDraftGraphStream implements POST /assist/draft-graph/stream
// (§6, §4.9): opens an SSE stream and runs the pipeline in the
// background, emitting a final stage{COMPLETE} event carrying the
// finalised envelope, or a terminal error event on failure.
func (d *Dependencies) handleDraftGraphStream(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	req, err := decodeDraftGraphRequest(r)
	if err != nil {
		writeCeeError(w, cee.Wrap(cee.CodeValidationFailed, "invalid draft-graph request body", cee.Trace{RequestID: requestID}, err))
		return
	}
	schema := schemaVersion(r.URL.Query())
	seed := d.seedOf(req)

	produce := func(ctx context.Context, s *sse.Stream) {
		g, pctx, perr := d.Orchestrator.DraftGraph(ctx, requestID, req.Brief, seed, llm.CallOpts{RequestID: requestID})
		if perr != nil {
			cerr := asCeeError(perr, requestID)
			s.EmitTerminal(ctx, sse.EventError, cerr)
			return
		}
		env := envelope.Finalise(envelope.Input{
			Graph: g, RequestID: requestID,
			Provider: pctx.EngineProvider, Model: pctx.EngineModel,
			Degraded: pctx.Degraded, Confidence: confidenceOf(pctx),
			Brief: req.Brief, ArchetypeHint: req.ArchetypeHint,
			ArchetypeEnabled: true, PipelineCtx: pctx,
		})
		out, rerr := renderEnvelope(env, schema)
		if rerr != nil {
			s.EmitTerminal(ctx, sse.EventError, cee.New(cee.CodeInternalError, "failed to render response", cee.Trace{RequestID: requestID}))
			return
		}
		s.EmitTerminal(ctx, sse.EventStage, sse.StagePayload{Stage: sse.StageComplete, Payload: out})
	}

	_ = d.SSEHandler.ServeStream(w, r, requestID, produce)
}

// handleDraftGraphResume implements POST /assist/draft-graph/resume
// (§6, §4.9): replays buffered events from the token's seq, optionally
// continuing in live mode.
func (d *Dependencies) handleDraftGraphResume(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	token := r.Header.Get("X-Resume-Token")
	live := r.URL.Query().Get("mode") == "live" || r.Header.Get("X-Resume-Mode") == "live"

	_, err := d.SSEHandler.ServeResume(w, r, token, live)
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, sse.ErrTokenInvalid):
		writeAuthError(w, http.StatusUnauthorized, "BAD_INPUT", "resume token invalid", requestID, nil)
	case errors.Is(err, sse.ErrStreamUnavailable):
		writeAuthError(w, http.StatusUpgradeRequired, "BAD_INPUT", "stream expired or unknown", requestID,
			map[string]interface{}{"upgrade": "resume=unsupported"})
	default:
		writeCeeError(w, cee.Wrap(cee.CodeInternalError, "resume failed", cee.Trace{RequestID: requestID}, err))
	}
}

// asCeeError coerces any pipeline error into a *cee.Error, defaulting to
// CEE_INTERNAL_ERROR for anything outside the closed taxonomy.
func asCeeError(err error, requestID string) *cee.Error {
	if cerr, ok := err.(*cee.Error); ok {
		return cerr
	}
	return cee.Wrap(cee.CodeInternalError, "unexpected pipeline failure", cee.Trace{RequestID: requestID}, err)
}

func writeCeeErrorFromAny(w http.ResponseWriter, err error, requestID string) {
	writeCeeError(w, asCeeError(err, requestID))
}
