package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/router"
)

func TestShorten(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"collapse   inner\n\twhitespace", 40, "collapse inner whitespace"},
		{"abcdefghijkl", 8, "abcde..."},
		{"ééééééééé", 6, "ééé..."},
	}
	for _, tt := range tests {
		if got := shorten(tt.in, tt.n); got != tt.want {
			t.Errorf("shorten(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestPrintDecision(t *testing.T) {
	d := router.Decision{
		Provider:    catalog.ProviderLocal,
		Model:       "qwen2.5-coder:7b",
		Confidence:  0.42,
		Explanation: "cost prioritization favors zero-cost execution",
		Reasons:     []string{"priority:cost"},
	}

	var buf bytes.Buffer
	if err := printDecision(&buf, d); err != nil {
		t.Fatalf("printDecision: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"PROVIDER", "local", "qwen2.5-coder:7b", "0.42", "cost prioritization", "- priority:cost"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Estimated paid cost") {
		t.Errorf("cost line printed without an estimate:\n%s", out)
	}
}

func TestPrintDecisionJSON(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	var buf bytes.Buffer
	if err := printDecision(&buf, router.Decision{Provider: catalog.ProviderRemotePaid, Model: "m"}); err != nil {
		t.Fatalf("printDecision: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["provider"] != "remote-paid" {
		t.Errorf("provider = %v, want remote-paid", got["provider"])
	}
}

func TestPrintModels(t *testing.T) {
	models := []catalog.Model{
		{ID: "llama3.2:3b", Provider: catalog.ProviderLocal, Backend: "local", SizeTier: catalog.SizeSmall},
		{ID: "anthropic/claude-sonnet", Provider: catalog.ProviderRemotePaid, Backend: "openrouter", ContextWindow: 200000,
			Pricing: catalog.Pricing{Prompt: 3e-6, Completion: 15e-6}},
	}

	var buf bytes.Buffer
	if err := printModels(&buf, models); err != nil {
		t.Fatalf("printModels: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "-") {
		t.Errorf("unknown context window should print '-': %q", lines[1])
	}
	if !strings.Contains(lines[2], "200000") || !strings.Contains(lines[2], "3.00") || !strings.Contains(lines[2], "15.00") {
		t.Errorf("paid row missing window or per-million pricing: %q", lines[2])
	}
}

func TestPrintProfilesEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := printProfiles(&buf, nil); err != nil {
		t.Fatalf("printProfiles: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "No executions recorded yet." {
		t.Errorf("output = %q", got)
	}
}
