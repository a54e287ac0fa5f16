package adapter

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleAdapter implements the Adapter interface for Gemini models.
type GoogleAdapter struct {
	client *genai.Client
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter(ctx context.Context, apiKey string) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleAdapter{client: client}, nil
}

// Name returns the backend identifier.
func (a *GoogleAdapter) Name() string {
	return BackendGoogle
}

// Generate sends a prompt to Gemini.
func (a *GoogleAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	resp, err := a.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, Classify(apiErr.Code, fmt.Errorf("google API error: %w", err))
		}
		return nil, Classify(0, fmt.Errorf("google API error: %w", err))
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &Error{Kind: KindServerError, Err: fmt.Errorf("google returned no candidates")}
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
		}
	}

	out := &Response{Text: content, Backend: a.Name(), Model: model}
	if resp.UsageMetadata != nil {
		out.Usage = normalizeUsage(&Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		})
	}
	return out, nil
}
