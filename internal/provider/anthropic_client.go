package provider

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relayforge/relay/internal/retry"
)

// AnthropicClient drives the Anthropic messages API as the execution
// provider backing the agent. Wiring this SDK is an enrichment from the
// jordigilh-kubernaut example, which carries the same dependency for the
// same concern.
type AnthropicClient struct {
	sdk   *anthropic.Client
	Model string
}

// NewAnthropicClient constructs a client with the given API key and
// endpoint override (empty uses the SDK default).
func NewAnthropicClient(apiKey, baseURL, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	sdk := anthropic.NewClient(opts...)
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &AnthropicClient{sdk: &sdk, Model: model}
}

// Chat sends a single message with the fixed tool catalog declared as
// Anthropic tool-use parameters, per spec.md §4.7 steps 1-3.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.Model
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
			},
		})
	}

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Tools: tools,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	})
	duration := time.Since(start)
	if err != nil {
		return ChatResult{}, classifyAnthropicError(err)
	}

	result := ChatResult{DurationMs: duration.Milliseconds()}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			result.Output += block.Text
		case "tool_use":
			args := map[string]any{}
			_ = block.Input.UnmarshalInto(&args)
			result.ToolCalls = append(result.ToolCalls, ToolCall{Name: block.Name, Args: args})
		}
	}
	return result, nil
}

// HealthProbe sends a minimal, one-token request, per spec.md §4.7's
// healthCheck() contract.
func (c *AnthropicClient) HealthProbe(ctx context.Context) (bool, time.Duration, error) {
	start := time.Now()
	_, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	latency := time.Since(start)
	if err != nil {
		return false, latency, classifyAnthropicError(err)
	}
	return true, latency, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		return retry.ClassifyHTTPStatus(apiErr.StatusCode, apiErr.Error())
	}
	return retry.ClassifyNetworkError(err)
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	for err != nil {
		if ae, ok := err.(*anthropic.Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
