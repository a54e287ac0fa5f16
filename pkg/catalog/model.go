// Package catalog maintains the registry of known models: local models
// served by an inference server and remote models offered by an aggregator.
package catalog

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ProviderKind classifies where a model runs and whether it costs money.
type ProviderKind string

const (
	ProviderLocal      ProviderKind = "local"
	ProviderRemoteFree ProviderKind = "remote-free"
	ProviderRemotePaid ProviderKind = "remote-paid"
)

// IsRemote reports whether the provider is an API model.
func (p ProviderKind) IsRemote() bool {
	return p == ProviderRemoteFree || p == ProviderRemotePaid
}

// SizeTier is the structured size class of a model, set at ingest.
type SizeTier string

const (
	SizeUnknown SizeTier = ""
	SizeSmall   SizeTier = "small"
	SizeMedium  SizeTier = "medium"
	SizeLarge   SizeTier = "large"
)

// Capabilities are the feature flags a catalog reports.
type Capabilities struct {
	Chat       bool `json:"chat"`
	Completion bool `json:"completion"`
	Vision     bool `json:"vision"`
}

// Pricing is USD per token.
type Pricing struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
}

// IsZero reports whether both prices are zero within epsilon.
func (p Pricing) IsZero(epsilon float64) bool {
	return math.Abs(p.Prompt) < epsilon && math.Abs(p.Completion) < epsilon
}

// Tags carry structured metadata derived from the model name at ingest.
type Tags struct {
	CodeSpecialized bool `json:"code_specialized,omitempty"`
	Instruct        bool `json:"instruct,omitempty"`
	Quantized       bool `json:"quantized,omitempty"`
}

// Model is one entry of the registry.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Provider          ProviderKind `json:"provider"`
	Backend           string       `json:"backend"`
	Capabilities      Capabilities `json:"capabilities"`
	Pricing           Pricing      `json:"pricing"`
	ContextWindow     int          `json:"context_window,omitempty"`
	SizeTier          SizeTier     `json:"size_tier,omitempty"`
	ParameterBillions float64      `json:"parameter_billions,omitempty"`
	Tags              Tags         `json:"tags"`
}

// Fits reports whether tokens fit the context window. Unknown windows fit.
func (m Model) Fits(tokens int) bool {
	return m.ContextWindow <= 0 || m.ContextWindow >= tokens
}

var paramPattern = regexp.MustCompile(`(?:^|[^a-z0-9.])(\d+(?:\.\d+)?)b(?:$|[^a-z])`)

// Enrich fills SizeTier, ParameterBillions and Tags from the model id and
// name. It runs once when a model enters the registry so scoring never has
// to inspect names.
func Enrich(m Model) Model {
	name := strings.ToLower(m.ID + " " + m.Name)

	if m.ParameterBillions == 0 {
		if match := paramPattern.FindStringSubmatch(name); match != nil {
			if v, err := strconv.ParseFloat(match[1], 64); err == nil {
				m.ParameterBillions = v
			}
		}
	}

	if m.SizeTier == SizeUnknown {
		switch {
		case m.ParameterBillions > 0 && m.ParameterBillions <= 8:
			m.SizeTier = SizeSmall
		case m.ParameterBillions > 8 && m.ParameterBillions <= 20:
			m.SizeTier = SizeMedium
		case m.ParameterBillions > 20:
			m.SizeTier = SizeLarge
		case containsAny(name, "tiny", "mini", "small", "haiku", "flash"):
			m.SizeTier = SizeSmall
		case containsAny(name, "medium", "sonnet"):
			m.SizeTier = SizeMedium
		case containsAny(name, "large", "opus", "ultra"):
			m.SizeTier = SizeLarge
		}
	}

	if containsAny(name, "code", "coder", "codestral", "starcoder") {
		m.Tags.CodeSpecialized = true
	}
	if containsAny(name, "instruct", "-it", ":it", "chat") {
		m.Tags.Instruct = true
	}
	if containsAny(name, "q4", "q5", "q6", "q8", "gguf", "gptq", "awq", "quant") {
		m.Tags.Quantized = true
	}

	if m.Name == "" {
		m.Name = m.ID
	}
	if !m.Capabilities.Chat && !m.Capabilities.Completion && !m.Capabilities.Vision {
		m.Capabilities = Capabilities{Chat: true, Completion: true}
	}
	return m
}

// classifyRemote picks the remote provider kind from pricing.
func classifyRemote(p Pricing, epsilon float64) ProviderKind {
	if p.IsZero(epsilon) {
		return ProviderRemoteFree
	}
	return ProviderRemotePaid
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
