package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/talchain/olumi-cee/llm"
)

// Bedrock implements llm.ChatBackend against AWS Bedrock's Converse API,
// adapted from itsneelabh-gomind's bedrock.Client (same API, same
// content-block unwrapping) but speaking the ChatBackend seam instead of
// core.AIClient.
type Bedrock struct {
	client *bedrockruntime.Client
	model  string
}

// NewBedrock builds a Bedrock backend from an already-resolved AWS config
// (region, credentials); wiring that config is cmd/cee-server's job.
func NewBedrock(awsConfig aws.Config, model string) *Bedrock {
	if model == "" {
		model = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	return &Bedrock{client: bedrockruntime.NewFromConfig(awsConfig), model: model}
}

func (b *Bedrock) Name() string           { return "bedrock" }
func (b *Bedrock) SupportsStreaming() bool { return true }

func (b *Bedrock) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CallOpts) (llm.ChatCompletion, error) {
	start := time.Now()

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: userPrompt}},
			},
		},
	}
	if systemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}

	output, err := b.client.Converse(ctx, input)
	if err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	if output.Output == nil {
		return llm.ChatCompletion{}, fmt.Errorf("bedrock: no output in response")
	}

	var text string
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return llm.ChatCompletion{}, fmt.Errorf("bedrock: unexpected output type")
	}
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	if text == "" {
		return llm.ChatCompletion{}, fmt.Errorf("bedrock: no text content in response")
	}

	var usage llm.Usage
	if output.Usage != nil {
		if output.Usage.InputTokens != nil {
			usage.InputTokens = int(*output.Usage.InputTokens)
		}
		if output.Usage.OutputTokens != nil {
			usage.OutputTokens = int(*output.Usage.OutputTokens)
		}
	}

	opts.emit("llm.response", map[string]interface{}{"provider": b.Name(), "stop_reason": string(output.StopReason)})

	return llm.ChatCompletion{
		Text:              text,
		Usage:             usage,
		Model:             b.model,
		FinishReason:      string(output.StopReason),
		ProviderLatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// StreamComplete uses Bedrock's ConverseStream API, forwarding each text
// delta from the event stream and accumulating the final completion.
func (b *Bedrock) StreamComplete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CallOpts, delta chan<- string) (llm.ChatCompletion, error) {
	start := time.Now()

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(b.model),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: userPrompt}},
			},
		},
	}
	if systemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}

	output, err := b.client.ConverseStream(ctx, input)
	if err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("bedrock: converse stream: %w", err)
	}

	stream := output.GetStream()
	defer stream.Close()

	var text, stopReason string
	var usage llm.Usage
	for event := range stream.Events() {
		switch e := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if textDelta, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
				text += textDelta.Value
				delta <- textDelta.Value
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = string(e.Value.StopReason)
		case *types.ConverseStreamOutputMemberMetadata:
			if e.Value.Usage != nil {
				if e.Value.Usage.InputTokens != nil {
					usage.InputTokens = int(*e.Value.Usage.InputTokens)
				}
				if e.Value.Usage.OutputTokens != nil {
					usage.OutputTokens = int(*e.Value.Usage.OutputTokens)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llm.ChatCompletion{}, fmt.Errorf("bedrock: stream: %w", err)
	}

	return llm.ChatCompletion{
		Text:              text,
		Usage:             usage,
		Model:             b.model,
		FinishReason:      stopReason,
		ProviderLatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
