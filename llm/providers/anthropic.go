package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/talchain/olumi-cee/llm"
)

// Anthropic implements llm.ChatBackend against the Anthropic Messages API.
// Grounded on itsneelabh-gomind's OpenAIClient (request/response shape,
// retry-by-cloning pattern) but targets /v1/messages' system+messages
// body and content-block response instead of OpenAI's chat/completions.
type Anthropic struct {
	cfg        HTTPConfig
	httpClient *http.Client
}

// NewAnthropic builds an Anthropic backend. cfg.BaseURL defaults to the
// public Anthropic API when empty.
func NewAnthropic(cfg HTTPConfig) *Anthropic {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	return &Anthropic{cfg: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (a *Anthropic) Name() string           { return "anthropic" }
func (a *Anthropic) SupportsStreaming() bool { return true }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Stream    bool                `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens              int  `json:"input_tokens"`
		OutputTokens             int  `json:"output_tokens"`
		CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
		CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
	} `json:"usage"`
}

func (a *Anthropic) buildRequest(ctx context.Context, systemPrompt, userPrompt string, stream bool) (*http.Request, error) {
	reqBody := anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: 4096,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: userPrompt}},
		Stream:    stream,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (a *Anthropic) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CallOpts) (llm.ChatCompletion, error) {
	if a.cfg.APIKey == "" {
		return llm.ChatCompletion{}, fmt.Errorf("anthropic: API key not configured")
	}
	start := time.Now()

	resp, err := httpRetry(ctx, a.httpClient, a.cfg.MaxRetries, func() (*http.Request, error) {
		return a.buildRequest(ctx, systemPrompt, userPrompt, false)
	})
	if err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return llm.ChatCompletion{}, fmt.Errorf("anthropic: empty response content")
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	opts.emit("llm.response", map[string]interface{}{"provider": a.Name(), "stop_reason": parsed.StopReason})

	return llm.ChatCompletion{
		Text: text,
		Usage: llm.Usage{
			InputTokens:              parsed.Usage.InputTokens,
			OutputTokens:             parsed.Usage.OutputTokens,
			CacheCreationInputTokens: parsed.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     parsed.Usage.CacheReadInputTokens,
		},
		Model:             parsed.Model,
		FinishReason:      parsed.StopReason,
		ProviderLatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// StreamComplete reads the SSE response from the streaming Messages API,
// forwarding each text delta and accumulating the final completion.
func (a *Anthropic) StreamComplete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CallOpts, delta chan<- string) (llm.ChatCompletion, error) {
	if a.cfg.APIKey == "" {
		return llm.ChatCompletion{}, fmt.Errorf("anthropic: API key not configured")
	}
	start := time.Now()

	req, err := a.buildRequest(ctx, systemPrompt, userPrompt, true)
	if err != nil {
		return llm.ChatCompletion{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("anthropic: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return llm.ChatCompletion{}, &statusError{status: resp.StatusCode, body: readAndClose(resp.Body)}
	}

	dec := newSSEDecoder(resp.Body)
	var text, model, stopReason string
	var usage llm.Usage
	for {
		event, raw, ok := dec.Next()
		if !ok {
			break
		}
		switch event {
		case "content_block_delta":
			var d struct {
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if json.Unmarshal(raw, &d) == nil && d.Delta.Text != "" {
				text += d.Delta.Text
				delta <- d.Delta.Text
			}
		case "message_delta":
			var d struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if json.Unmarshal(raw, &d) == nil {
				stopReason = d.Delta.StopReason
				usage.OutputTokens = d.Usage.OutputTokens
			}
		case "message_start":
			var d struct {
				Message struct {
					Model string `json:"model"`
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
			}
			if json.Unmarshal(raw, &d) == nil {
				model = d.Message.Model
				usage.InputTokens = d.Message.Usage.InputTokens
			}
		}
	}

	return llm.ChatCompletion{
		Text:              text,
		Usage:             usage,
		Model:             model,
		FinishReason:      stopReason,
		ProviderLatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
