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

func TestAnthropicCompleteParsesContentBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		resp := anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "text", Text: "{}"}},
			Model:      "claude-3-5-sonnet-20241022",
			StopReason: "end_turn",
		}
		resp.Usage.InputTokens = 10
		resp.Usage.OutputTokens = 5
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	backend := NewAnthropic(HTTPConfig{APIKey: "test-key", BaseURL: server.URL})
	cc, err := backend.Complete(context.Background(), "system", "draft a graph", llm.CallOpts{})
	require.NoError(t, err)
	assert.Equal(t, "{}", cc.Text)
	assert.Equal(t, 10, cc.Usage.InputTokens)
	assert.Equal(t, 5, cc.Usage.OutputTokens)
	assert.Equal(t, "end_turn", cc.FinishReason)
}

func TestAnthropicCompleteFailsOnEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(anthropicResponse{})
	}))
	defer server.Close()

	backend := NewAnthropic(HTTPConfig{APIKey: "k", BaseURL: server.URL})
	_, err := backend.Complete(context.Background(), "system", "prompt", llm.CallOpts{})
	require.Error(t, err)
}

func TestAnthropicCompleteRequiresAPIKey(t *testing.T) {
	backend := NewAnthropic(HTTPConfig{BaseURL: "http://unused"})
	_, err := backend.Complete(context.Background(), "system", "prompt", llm.CallOpts{})
	require.Error(t, err)
}
