package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/talchain/olumi-cee/llm"
)

// OpenAICompatible implements llm.ChatBackend against any chat/completions
// endpoint that follows the OpenAI wire format: OpenAI itself, and the
// OpenAI-compatible aliases itsneelabh-gomind's WithProviderAlias resolves
// (DeepSeek, Groq, xAI, Together, Ollama). The alias only changes base URL
// and API-key env var; the request/response shape is identical.
type OpenAICompatible struct {
	alias      string
	cfg        HTTPConfig
	httpClient *http.Client
}

// knownAliases mirrors WithProviderAlias's auto-configuration table:
// subprovider -> (API key env var, default base URL).
var knownAliases = map[string]struct {
	envKey  string
	baseURL string
}{
	"openai":   {"OPENAI_API_KEY", "https://api.openai.com/v1"},
	"deepseek": {"DEEPSEEK_API_KEY", "https://api.deepseek.com"},
	"groq":     {"GROQ_API_KEY", "https://api.groq.com/openai/v1"},
	"xai":      {"XAI_API_KEY", "https://api.x.ai/v1"},
	"qwen":     {"QWEN_API_KEY", "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"},
	"together": {"TOGETHER_API_KEY", "https://api.together.xyz/v1"},
	"ollama":   {"", "http://localhost:11434/v1"},
}

// NewOpenAICompatible builds a backend for alias (e.g. "openai",
// "openai.deepseek"). Only the portion after the dot selects the
// subprovider; a bare "openai" uses OpenAI itself. cfg's explicit
// APIKey/BaseURL take precedence over the alias's defaults.
func NewOpenAICompatible(alias string, cfg HTTPConfig) *OpenAICompatible {
	cfg = cfg.withDefaults()

	sub := "openai"
	if parts := strings.SplitN(alias, ".", 2); len(parts) == 2 {
		sub = parts[1]
	}
	if known, ok := knownAliases[sub]; ok {
		if cfg.APIKey == "" && known.envKey != "" {
			cfg.APIKey = os.Getenv(known.envKey)
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = known.baseURL
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if alias == "" {
		alias = "openai"
	}

	return &OpenAICompatible{alias: alias, cfg: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (o *OpenAICompatible) Name() string           { return o.alias }
func (o *OpenAICompatible) SupportsStreaming() bool { return true }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (o *OpenAICompatible) buildRequest(ctx context.Context, systemPrompt, userPrompt string, stream bool) (*http.Request, error) {
	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:    o.cfg.Model,
		Messages: messages,
		Stream:   stream,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", o.alias, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", o.alias, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	return req, nil
}

func (o *OpenAICompatible) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CallOpts) (llm.ChatCompletion, error) {
	start := time.Now()

	resp, err := httpRetry(ctx, o.httpClient, o.cfg.MaxRetries, func() (*http.Request, error) {
		return o.buildRequest(ctx, systemPrompt, userPrompt, false)
	})
	if err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("%s: %w", o.alias, err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("%s: decode response: %w", o.alias, err)
	}
	if len(parsed.Choices) == 0 {
		return llm.ChatCompletion{}, fmt.Errorf("%s: no choices in response", o.alias)
	}

	opts.emit("llm.response", map[string]interface{}{"provider": o.alias, "finish_reason": parsed.Choices[0].FinishReason})

	return llm.ChatCompletion{
		Text: parsed.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
		Model:             parsed.Model,
		FinishReason:      parsed.Choices[0].FinishReason,
		ProviderLatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// StreamComplete reads the OpenAI-style SSE stream of
// `data: {"choices":[{"delta":{"content":"..."}}]}` chunks terminated by
// `data: [DONE]`.
func (o *OpenAICompatible) StreamComplete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CallOpts, delta chan<- string) (llm.ChatCompletion, error) {
	start := time.Now()

	req, err := o.buildRequest(ctx, systemPrompt, userPrompt, true)
	if err != nil {
		return llm.ChatCompletion{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("%s: stream request: %w", o.alias, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return llm.ChatCompletion{}, &statusError{status: resp.StatusCode, body: readAndClose(resp.Body)}
	}

	dec := newSSEDecoder(resp.Body)
	var text, model, finishReason string
	for {
		_, raw, ok := dec.Next()
		if !ok {
			break
		}
		if strings.TrimSpace(string(raw)) == "[DONE]" {
			break
		}
		var chunk struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if json.Unmarshal(raw, &chunk) != nil || len(chunk.Choices) == 0 {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if c := chunk.Choices[0].Delta.Content; c != "" {
			text += c
			delta <- c
		}
		if chunk.Choices[0].FinishReason != "" {
			finishReason = chunk.Choices[0].FinishReason
		}
	}

	return llm.ChatCompletion{
		Text:              text,
		Model:             model,
		FinishReason:      finishReason,
		ProviderLatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
