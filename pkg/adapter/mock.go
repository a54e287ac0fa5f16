package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockAdapter returns deterministic responses for local runs and tests.
// Responses are matched by exact prompt first, then by substring.
type MockAdapter struct {
	mu              sync.Mutex
	name            string
	responses       map[string]string
	defaultResponse string
	err             error
	calls           []string
	Usage           *Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            BackendMock,
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	a := NewMockAdapter()
	if defaultResponse != "" {
		a.defaultResponse = defaultResponse
	}
	for k, v := range responses {
		a.responses[k] = v
	}
	return a
}

// WithName makes the mock stand in for another backend.
func (a *MockAdapter) WithName(name string) *MockAdapter {
	a.name = name
	return a
}

// FailWith makes every subsequent call return err.
func (a *MockAdapter) FailWith(err error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
	return a
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Calls returns the prompts received so far.
func (a *MockAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

// Generate returns a deterministic response for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	a.mu.Lock()
	a.calls = append(a.calls, prompt)
	err := a.err
	a.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "mock-1"
	}
	resp := &Response{Backend: a.name, Model: model, Usage: a.Usage}
	if text, ok := a.responses[prompt]; ok {
		resp.Text = text
		return resp, nil
	}
	keys := make([]string, 0, len(a.responses))
	for key := range a.responses {
		keys = append(keys, key)
	}
	// Longest key wins so overlapping substrings stay deterministic.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		if key != "" && strings.Contains(prompt, key) {
			resp.Text = a.responses[key]
			return resp, nil
		}
	}
	resp.Text = fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	return resp, nil
}
