package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	models := &ModelFile{
		Aliases: map[string]string{
			"local":   "llama3:8b",
			"quality": "anthropic/claude-3.5-sonnet",
		},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "resolve known alias", input: "local", expected: "llama3:8b"},
		{name: "resolve another alias", input: "quality", expected: "anthropic/claude-3.5-sonnet"},
		{name: "unknown alias returns input unchanged", input: "mistral:7b", expected: "mistral:7b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.Resolve(tt.input); got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolve_NilModelFile(t *testing.T) {
	var models *ModelFile
	if got := models.Resolve("local"); got != "local" {
		t.Errorf("Resolve on nil should return input, got %q", got)
	}
}

func TestLoadModelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `aliases:
  fast: phi3:mini
models:
  - id: phi3:mini
    backend: local
    provider: local
    context_window: 4096
  - id: acme/coder-large
    backend: openrouter
    provider: remote-paid
    prompt_per_1k: 0.5
    completion_per_1k: 1.5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write models file: %v", err)
	}

	mf, err := LoadModelFile(path)
	if err != nil {
		t.Fatalf("LoadModelFile failed: %v", err)
	}
	if mf.Resolve("fast") != "phi3:mini" {
		t.Errorf("alias not loaded")
	}
	if len(mf.Models) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(mf.Models))
	}
	if mf.Models[0].ContextWindow != 4096 {
		t.Errorf("context window = %d, want 4096", mf.Models[0].ContextWindow)
	}
	if mf.Models[1].CompletionPer1K != 1.5 {
		t.Errorf("completion price = %v, want 1.5", mf.Models[1].CompletionPer1K)
	}
}

func TestModelFileValidate(t *testing.T) {
	tests := []struct {
		name    string
		seeds   []ModelSeed
		wantErr string
	}{
		{name: "valid", seeds: []ModelSeed{{ID: "a", Provider: "local"}}},
		{name: "missing id", seeds: []ModelSeed{{Backend: "local"}}, wantErr: "id is required"},
		{name: "duplicate", seeds: []ModelSeed{{ID: "a"}, {ID: "a"}}, wantErr: "duplicate"},
		{name: "bad provider", seeds: []ModelSeed{{ID: "a", Provider: "paid"}}, wantErr: "unknown provider"},
		{name: "negative price", seeds: []ModelSeed{{ID: "a", PromptPer1K: -1}}, wantErr: "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&ModelFile{Models: tt.seeds}).Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadModelFileWithFallback(t *testing.T) {
	mf, err := LoadModelFileWithFallback(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if len(mf.ListAliases()) == 0 {
		t.Errorf("expected default aliases")
	}
}
