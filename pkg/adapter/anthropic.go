package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements the Adapter interface for Claude models.
type AnthropicAdapter struct {
	client anthropic.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(apiKey string) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &AnthropicAdapter{client: client}, nil
}

// Name returns the backend identifier.
func (a *AnthropicAdapter) Name() string {
	return BackendAnthropic
}

// Generate sends a prompt to Claude.
func (a *AnthropicAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, Classify(apiErr.StatusCode, fmt.Errorf("anthropic API error: %w", err))
		}
		return nil, Classify(0, fmt.Errorf("anthropic API error: %w", err))
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &Response{
		Text:    content,
		Backend: a.Name(),
		Model:   model,
		Usage: normalizeUsage(&Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		}),
	}, nil
}
