package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talchain/olumi-cee/core"
	"github.com/talchain/olumi-cee/graph"
	"github.com/talchain/olumi-cee/hmac"
	"github.com/talchain/olumi-cee/llm"
	"github.com/talchain/olumi-cee/pipeline/orchestrator"
	"github.com/talchain/olumi-cee/ratelimit"
	"github.com/talchain/olumi-cee/sse"
)

// fakeAdapter mirrors pipeline/orchestrator's own test fake: a
// canned llm.Result or error, no real upstream call.
type fakeAdapter struct {
	result *llm.Result
	err    error
}

func (a *fakeAdapter) Name() string           { return "fake" }
func (a *fakeAdapter) SupportsStreaming() bool { return false }
func (a *fakeAdapter) DraftGraph(ctx context.Context, brief string, seed int64, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) SuggestOptions(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) RepairGraph(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) ClarifyBrief(ctx context.Context, brief string, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) CritiqueGraph(ctx context.Context, g *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) ExplainDiff(ctx context.Context, before, after *graph.Graph, opts llm.CallOpts) (*llm.Result, error) {
	return a.result, a.err
}
func (a *fakeAdapter) StreamDraftGraph(ctx context.Context, brief string, seed int64, opts llm.CallOpts, events chan<- llm.StreamEvent) error {
	return nil
}

const validDraftGraphJSON = `{
	"nodes": [
		{"id": "g1", "kind": "goal"},
		{"id": "f1", "kind": "factor", "data": {"category": "controllable", "value": 10}},
		{"id": "o1", "kind": "option", "data": {"interventions": {"f1": 20}}}
	],
	"edges": [
		{"id": "e1", "from": "o1", "to": "f1", "strength": {"mean": 0.5, "std": 0.2}, "exists_probability": 0.9}
	]
}`

func newTestDependencies(t *testing.T, adapter *fakeAdapter) *Dependencies {
	t.Helper()
	cfg := &core.Config{
		APIKeys:             []string{"test-key"},
		EnableEvidencePack:  true,
		FeatureRateLimitRPM: map[string]int{},
	}
	limiter := ratelimit.New(func(feature string) int {
		return cfg.FeatureRateLimitRPM[feature]
	})
	buf := sse.NewMemoryBuffer(time.Minute)
	t.Cleanup(buf.Stop)
	manager := sse.NewManager(buf)
	signer := sse.NewTokenSigner([]byte("resume-secret"))
	sseHandler := sse.NewHandler(manager, signer, func() bool { return true })
	verifier := hmac.NewVerifier([]byte("hmac-secret"), 0)
	t.Cleanup(verifier.Stop)

	return &Dependencies{
		Config:       cfg,
		Orchestrator: orchestrator.New(adapter, nil, nil),
		Limiter:      limiter,
		SSEHandler:   sseHandler,
		SSEManager:   manager,
		HMACVerifier: verifier,
	}
}

func postWithAPIKey(router http.Handler, path, apiKey string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(HeaderAPIKey, apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDraftGraphHappyPathDefaultsToSchemaV3(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON), Observability: llm.Observability{Model: "fake-model-1"}}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	rec := postWithAPIKey(router, "/assist/v1/draft-graph", "test-key", `{"brief": "Raise 800 new customers this quarter."}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-CEE-API-Version"))
	assert.NotEmpty(t, rec.Header().Get("X-CEE-Request-Id"))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "3.0", out["schema_version"])

	g, ok := out["graph"].(map[string]interface{})
	require.True(t, ok)
	nodes, ok := g["nodes"].([]interface{})
	require.True(t, ok)
	first := nodes[0].(map[string]interface{})
	assert.Contains(t, first, "kind")
	assert.NotContains(t, first, "type")
}

func TestDraftGraphSchemaV2RenamesKindToType(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON), Observability: llm.Observability{Model: "fake-model-1"}}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	rec := postWithAPIKey(router, "/assist/v1/draft-graph?schema=v2", "test-key", `{"brief": "Raise 800 new customers this quarter."}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "2.2", out["schema_version"])

	g := out["graph"].(map[string]interface{})
	nodes := g["nodes"].([]interface{})
	for _, raw := range nodes {
		node := raw.(map[string]interface{})
		assert.NotContains(t, node, "kind")
		assert.Contains(t, node, "type")
	}
}

func TestDraftGraphRejectsMissingBrief(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON)}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	rec := postWithAPIKey(router, "/assist/v1/draft-graph", "test-key", `{"brief": ""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "CEE_VALIDATION_FAILED", out["code"])
}

func TestDraftGraphRejectsUnknownAPIKey(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON)}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	rec := postWithAPIKey(router, "/assist/v1/draft-graph", "wrong-key", `{"brief": "x"}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "BAD_INPUT", out["code"])
}

func TestDraftGraphAcceptsValidHMACSignatureWithoutAPIKey(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON)}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	body := []byte(`{"brief": "Raise 800 new customers this quarter."}`)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := "nonce-1"
	sig := hmac.Sign([]byte("hmac-secret"), http.MethodPost, "/assist/v1/draft-graph", ts, nonce, body)

	req := httptest.NewRequest(http.MethodPost, "/assist/v1/draft-graph", bytes.NewReader(body))
	req.Header.Set(hmac.HeaderSignature, sig)
	req.Header.Set(hmac.HeaderTimestamp, ts)
	req.Header.Set(hmac.HeaderNonce, nonce)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDraftGraphRejectsInvalidHMACSignature(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON)}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/assist/v1/draft-graph", strings.NewReader(`{"brief": "x"}`))
	req.Header.Set(hmac.HeaderSignature, "not-a-real-signature")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGraphReadinessOnlyAcceptsAPIKeyNotHMAC(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/assist/v1/graph-readiness", strings.NewReader(`{"graph": {"nodes": []}}`))
	req.Header.Set(hmac.HeaderSignature, "anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGraphReadinessScoresCompleteFactorsAsReady(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	body := `{"graph": {"nodes": [
		{"id": "g1", "kind": "goal"},
		{"id": "o1", "kind": "option"},
		{"id": "f1", "kind": "factor", "data": {"category": "controllable", "value": 10}}
	]}}`
	rec := postWithAPIKey(router, "/assist/v1/graph-readiness", "test-key", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(100), out["readiness_score"])
	assert.Equal(t, "ready", out["readiness_level"])
	assert.Equal(t, true, out["can_run_analysis"])
}

func TestGraphReadinessFlagsFactorsMissingValue(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	body := `{"graph": {"nodes": [
		{"id": "g1", "kind": "goal"},
		{"id": "o1", "kind": "option"},
		{"id": "f1", "kind": "factor", "data": {"category": "observable"}}
	]}}`
	rec := postWithAPIKey(router, "/assist/v1/graph-readiness", "test-key", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["can_run_analysis"])
	qf := out["quality_factors"].([]interface{})
	assert.Contains(t, qf, "missing_value:f1")
}

func TestBiasCheckFlagsOverconfidentEdgeAndDanglingIntervention(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	body := `{"graph": {
		"nodes": [
			{"id": "o1", "kind": "option", "data": {"interventions": {"missing-factor": 5}}},
			{"id": "f1", "kind": "factor", "data": {"category": "observable", "value": 1}}
		],
		"edges": [
			{"id": "e1", "source": "o1", "target": "f1", "strength": {"mean": 0.95, "std": 0.0}, "exists_probability": 0.9}
		]
	}}`
	rec := postWithAPIKey(router, "/assist/v1/bias-check", "test-key", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	findings := out["bias_findings"].([]interface{})

	var codes []string
	for _, f := range findings {
		codes = append(codes, f.(map[string]interface{})["code"].(string))
	}
	assert.Contains(t, codes, "OVERCONFIDENT_EDGE")
	assert.Contains(t, codes, "DANGLING_INTERVENTION")
}

func TestRateLimitExceededReturns429WithRetryAfter(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON)}})
	d.Config.FeatureRateLimitRPM["draft-graph"] = 1
	router := NewRouter(d)

	first := postWithAPIKey(router, "/assist/v1/draft-graph", "test-key", `{"brief": "first"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := postWithAPIKey(router, "/assist/v1/draft-graph", "test-key", `{"brief": "second"}`)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &out))
	assert.Equal(t, "CEE_RATE_LIMIT", out["code"])
}

func TestEvidencePackRendersEachFormat(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	body := `{"citations": ["Source A"], "rationales": ["Because X"], "csv_stats": [{"mean": 1.5}]}`

	json := postWithAPIKey(router, "/assist/evidence-pack?format=json", "test-key", body)
	require.Equal(t, http.StatusOK, json.Code)
	assert.Equal(t, "application/json", json.Header().Get("Content-Type"))

	csv := postWithAPIKey(router, "/assist/evidence-pack?format=csv", "test-key", body)
	require.Equal(t, http.StatusOK, csv.Code)
	assert.Equal(t, "text/csv", csv.Header().Get("Content-Type"))
	assert.Contains(t, csv.Body.String(), "citation,Source A")

	md := postWithAPIKey(router, "/assist/evidence-pack?format=markdown", "test-key", body)
	require.Equal(t, http.StatusOK, md.Code)
	assert.Equal(t, "text/markdown", md.Header().Get("Content-Type"))
	assert.Contains(t, md.Body.String(), "# Evidence Pack")
}

func TestEvidencePackNotMountedWhenDisabled(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	d.Config.EnableEvidencePack = false
	router := NewRouter(d)

	rec := postWithAPIKey(router, "/assist/evidence-pack", "test-key", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftGraphStreamEmitsCompleteStage(t *testing.T) {
	adapter := &fakeAdapter{result: &llm.Result{RawJSON: []byte(validDraftGraphJSON)}}
	d := newTestDependencies(t, adapter)
	router := NewRouter(d)

	rec := postWithAPIKey(router, "/assist/draft-graph/stream", "test-key", `{"brief": "Raise 800 new customers this quarter."}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event: stage\ndata: {\"stage\":\"DRAFTING\"}")
	assert.Contains(t, body, "\"stage\":\"COMPLETE\"")
}

func TestDraftGraphResumeRejectsInvalidToken(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/assist/draft-graph/resume", nil)
	req.Header.Set(HeaderAPIKey, "test-key")
	req.Header.Set("X-Resume-Token", "garbage")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "BAD_INPUT", out["code"])
}

func TestDraftGraphResumeReportsUpgradeRequiredForUnknownStream(t *testing.T) {
	d := newTestDependencies(t, &fakeAdapter{})
	router := NewRouter(d)

	signer := sse.NewTokenSigner([]byte("resume-secret"))
	tok, err := signer.Sign(sse.Token{RequestID: "never-existed", Seq: 0})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/assist/draft-graph/resume", nil)
	req.Header.Set(HeaderAPIKey, "test-key")
	req.Header.Set("X-Resume-Token", tok)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "resume=unsupported", out["details"].(map[string]interface{})["upgrade"])
}
