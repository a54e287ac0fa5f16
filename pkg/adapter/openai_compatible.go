package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompatible implements the Adapter interface for any server speaking
// the OpenAI chat-completions API: local inference servers, OpenRouter and
// OpenAI itself.
type OpenAICompatible struct {
	name      string
	client    openai.Client
	maxTokens int64
}

// NewLocalAdapter creates an adapter for a local OpenAI-compatible inference server.
func NewLocalAdapter(baseURL, apiKey string) (*OpenAICompatible, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local base URL is required")
	}
	if apiKey == "" {
		apiKey = "local"
	}
	return newOpenAICompatible(BackendLocal, baseURL, apiKey), nil
}

// NewOpenRouterAdapter creates an adapter for the OpenRouter aggregator.
func NewOpenRouterAdapter(baseURL, apiKey string) (*OpenAICompatible, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	return newOpenAICompatible(BackendOpenRouter, baseURL, apiKey), nil
}

// NewOpenAIAdapter creates an adapter for OpenAI.
func NewOpenAIAdapter(apiKey string) (*OpenAICompatible, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return newOpenAICompatible(BackendOpenAI, "", apiKey), nil
}

func newOpenAICompatible(name, baseURL, apiKey string) *OpenAICompatible {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatible{
		name:      name,
		client:    openai.NewClient(opts...),
		maxTokens: 4096,
	}
}

// Name returns the backend identifier.
func (a *OpenAICompatible) Name() string {
	return a.name
}

// Generate sends a prompt as a single user message.
func (a *OpenAICompatible) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens: openai.Int(a.maxTokens),
	})
	if err != nil {
		return nil, classifyOpenAI(a.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{Kind: KindServerError, Err: fmt.Errorf("%s returned no choices", a.name)}
	}

	return &Response{
		Text:    resp.Choices[0].Message.Content,
		Backend: a.name,
		Model:   model,
		Usage: normalizeUsage(&Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}),
	}, nil
}

// ListModels returns the model ids the server reports.
func (a *OpenAICompatible) ListModels(ctx context.Context) ([]string, error) {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return nil, classifyOpenAI(a.name, err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func classifyOpenAI(name string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return Classify(apiErr.StatusCode, fmt.Errorf("%s API error: %w", name, err))
	}
	if IsTransient(err) {
		return &Error{Kind: KindServerError, Temporary: true, Err: fmt.Errorf("%s API error: %w", name, err)}
	}
	return Classify(0, fmt.Errorf("%s API error: %w", name, err))
}
