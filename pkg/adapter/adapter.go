package adapter

import "context"

// Adapter defines the interface for model backends.
type Adapter interface {
	// Generate sends a prompt to the model and returns its text and usage.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the backend identifier used in Model.Backend.
	Name() string
}

// Backend identifiers.
const (
	BackendLocal      = "local"
	BackendOpenRouter = "openrouter"
	BackendAnthropic  = "anthropic"
	BackendOpenAI     = "openai"
	BackendGoogle     = "google"
	BackendMock       = "mock"
)
