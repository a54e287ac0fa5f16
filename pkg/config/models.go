package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelFile is the structure of ~/.localroute/models.yaml: short aliases for
// model ids and statically declared models that seed the registry.
type ModelFile struct {
	Aliases map[string]string `yaml:"aliases"`
	Models  []ModelSeed       `yaml:"models"`
}

// ModelSeed declares a model the registry should know about even when no
// catalog source reports it.
type ModelSeed struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name,omitempty"`
	Backend         string   `yaml:"backend"`
	Provider        string   `yaml:"provider,omitempty"`
	ContextWindow   int      `yaml:"context_window,omitempty"`
	PromptPer1K     float64  `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64  `yaml:"completion_per_1k,omitempty"`
	Tags            []string `yaml:"tags,omitempty"`
}

// LoadModelFile reads model aliases and seeds from a YAML file.
func LoadModelFile(path string) (*ModelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var mf ModelFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, err
	}

	if mf.Aliases == nil {
		mf.Aliases = make(map[string]string)
	}
	if err := mf.Validate(); err != nil {
		return nil, err
	}
	return &mf, nil
}

// LoadModelFileWithFallback loads path if it exists, otherwise returns the
// built-in defaults.
func LoadModelFileWithFallback(path string) (*ModelFile, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadModelFile(path)
		}
	}
	return DefaultModelFile(), nil
}

// Resolve returns the canonical model id for an alias.
// If the input is not an alias, it returns the input unchanged.
func (m *ModelFile) Resolve(modelOrAlias string) string {
	if m == nil || m.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := m.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ListAliases returns alias names in sorted order.
func (m *ModelFile) ListAliases() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Aliases))
	for name := range m.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks seeds for missing ids, unknown providers and duplicates.
func (m *ModelFile) Validate() error {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool, len(m.Models))
	for i, seed := range m.Models {
		if seed.ID == "" {
			return fmt.Errorf("models[%d]: id is required", i)
		}
		if seen[seed.ID] {
			return fmt.Errorf("models[%d]: duplicate id %q", i, seed.ID)
		}
		seen[seed.ID] = true
		switch seed.Provider {
		case "", "local", "remote-free", "remote-paid":
		default:
			return fmt.Errorf("model %q: unknown provider %q", seed.ID, seed.Provider)
		}
		if seed.ContextWindow < 0 || seed.PromptPer1K < 0 || seed.CompletionPer1K < 0 {
			return fmt.Errorf("model %q: negative limits or pricing", seed.ID)
		}
	}
	return nil
}

// DefaultModelFile returns the built-in aliases. It declares no seeds.
func DefaultModelFile() *ModelFile {
	return &ModelFile{
		Aliases: map[string]string{
			"local":        "llama3:8b",
			"local-code":   "codellama:7b-instruct",
			"cheap":        "anthropic/claude-3-haiku",
			"quality":      "anthropic/claude-3.5-sonnet",
			"quality-code": "anthropic/claude-3.5-sonnet",
		},
	}
}
