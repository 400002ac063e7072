package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talchain/olumi-cee/llm"
)

func TestOpenAICompatibleCompleteParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "draft a graph", body.Messages[len(body.Messages)-1].Content)

		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message      chatMessage `json:"message"`
				FinishReason string      `json:"finish_reason"`
			}{{Message: chatMessage{Role: "assistant", Content: "{}"}, FinishReason: "stop"}},
			Model: "gpt-4o",
		})
	}))
	defer server.Close()

	backend := NewOpenAICompatible("openai", HTTPConfig{APIKey: "test-key", BaseURL: server.URL})
	cc, err := backend.Complete(context.Background(), "system", "draft a graph", llm.CallOpts{})
	require.NoError(t, err)
	assert.Equal(t, "{}", cc.Text)
	assert.Equal(t, "gpt-4o", cc.Model)
	assert.Equal(t, "stop", cc.FinishReason)
}

func TestOpenAICompatibleCompleteFailsOnEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer server.Close()

	backend := NewOpenAICompatible("openai", HTTPConfig{APIKey: "k", BaseURL: server.URL})
	_, err := backend.Complete(context.Background(), "system", "prompt", llm.CallOpts{})
	require.Error(t, err)
}

func TestOpenAICompatibleAliasResolvesKnownSubprovider(t *testing.T) {
	backend := NewOpenAICompatible("openai.groq", HTTPConfig{APIKey: "explicit-key"})
	assert.Equal(t, "openai.groq", backend.Name())
	assert.Equal(t, "https://api.groq.com/openai/v1", backend.cfg.BaseURL)
	assert.Equal(t, "explicit-key", backend.cfg.APIKey)
}

func TestOpenAICompatibleStreamCompleteAccumulatesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	backend := NewOpenAICompatible("openai", HTTPConfig{APIKey: "k", BaseURL: server.URL})
	deltas := make(chan string, 8)
	cc, err := backend.StreamComplete(context.Background(), "system", "prompt", llm.CallOpts{}, deltas)
	require.NoError(t, err)
	assert.Equal(t, "hello", cc.Text)
	assert.Equal(t, "stop", cc.FinishReason)
}
