// Package task defines decomposed coding tasks and their subtasks.
package task

import (
	"fmt"
	"math"
	"strings"

	"github.com/zen-systems/localroute/pkg/config"
)

// CodeType tags what kind of code a subtask produces.
type CodeType string

const (
	CodeFunction  CodeType = "function"
	CodeClass     CodeType = "class"
	CodeTest      CodeType = "test"
	CodeInterface CodeType = "interface"
	CodeOther     CodeType = "other"
)

// ParseCodeType normalizes free text into a CodeType.
func ParseCodeType(s string) CodeType {
	switch CodeType(strings.ToLower(strings.TrimSpace(s))) {
	case CodeFunction:
		return CodeFunction
	case CodeClass:
		return CodeClass
	case CodeTest:
		return CodeTest
	case CodeInterface:
		return CodeInterface
	default:
		return CodeOther
	}
}

// Tier is the recommended model size for a subtask.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
	TierRemote Tier = "remote"
)

// TierForComplexity maps complexity to a tier using the complexity thresholds.
func TierForComplexity(complexity float64, th config.ComplexityThresholds) Tier {
	switch {
	case complexity <= th.Simple:
		return TierSmall
	case complexity <= th.Medium:
		return TierMedium
	case complexity <= th.Complex:
		return TierLarge
	default:
		return TierRemote
	}
}

// TokensForComplexity synthesizes a token estimate when none was given.
func TokensForComplexity(complexity float64) int {
	return 500 + int(math.Round(ClampComplexity(complexity)*1500))
}

// ClampComplexity bounds a complexity score to [0,1].
func ClampComplexity(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// CodeSubtask is one schedulable unit of a decomposed task.
type CodeSubtask struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	Complexity      float64  `json:"complexity"`
	EstimatedTokens int      `json:"estimated_tokens"`
	Dependencies    []string `json:"dependencies"`
	CodeType        CodeType `json:"code_type"`
	RecommendedTier Tier     `json:"recommended_tier"`
}

// DecomposedCodeTask is a task broken into subtasks. Dependencies mirrors
// the subtasks' dependency lists keyed by subtask id.
type DecomposedCodeTask struct {
	OriginalTask         string              `json:"original_task"`
	Subtasks             []CodeSubtask       `json:"subtasks"`
	TotalEstimatedTokens int                 `json:"total_estimated_tokens"`
	Dependencies         map[string][]string `json:"dependencies"`
	Analysis             *ComplexityAnalysis `json:"analysis,omitempty"`
}

// ComplexityAnalysis is the overall complexity estimate of a task.
type ComplexityAnalysis struct {
	Overall            float64            `json:"overall"`
	Factors            map[string]float64 `json:"factors"`
	IntegrationFactors map[string]float64 `json:"integration_factors,omitempty"`
	Integration        float64            `json:"integration"`
	Reasoning          string             `json:"reasoning,omitempty"`
	Source             string             `json:"source"`
}

// New builds a task from subtasks, deriving the dependency map and the
// token total.
func New(original string, subtasks []CodeSubtask) *DecomposedCodeTask {
	t := &DecomposedCodeTask{OriginalTask: original, Subtasks: subtasks}
	t.Sync()
	return t
}

// Sync recomputes Dependencies and TotalEstimatedTokens from Subtasks.
func (t *DecomposedCodeTask) Sync() {
	t.Dependencies = make(map[string][]string, len(t.Subtasks))
	t.TotalEstimatedTokens = 0
	for _, st := range t.Subtasks {
		t.Dependencies[st.ID] = append([]string{}, st.Dependencies...)
		t.TotalEstimatedTokens += st.EstimatedTokens
	}
}

// Clone returns a deep copy.
func (t *DecomposedCodeTask) Clone() *DecomposedCodeTask {
	if t == nil {
		return nil
	}
	out := &DecomposedCodeTask{
		OriginalTask:         t.OriginalTask,
		TotalEstimatedTokens: t.TotalEstimatedTokens,
		Subtasks:             make([]CodeSubtask, len(t.Subtasks)),
		Dependencies:         make(map[string][]string, len(t.Dependencies)),
	}
	for i, st := range t.Subtasks {
		st.Dependencies = append([]string{}, st.Dependencies...)
		out.Subtasks[i] = st
	}
	for k, v := range t.Dependencies {
		out.Dependencies[k] = append([]string{}, v...)
	}
	if t.Analysis != nil {
		a := *t.Analysis
		a.Factors = copyFactors(t.Analysis.Factors)
		a.IntegrationFactors = copyFactors(t.Analysis.IntegrationFactors)
		out.Analysis = &a
	}
	return out
}

// Index maps subtask id to its position in Subtasks.
func (t *DecomposedCodeTask) Index() map[string]int {
	idx := make(map[string]int, len(t.Subtasks))
	for i, st := range t.Subtasks {
		idx[st.ID] = i
	}
	return idx
}

// Subtask returns the subtask with the given id.
func (t *DecomposedCodeTask) Subtask(id string) (CodeSubtask, bool) {
	for _, st := range t.Subtasks {
		if st.ID == id {
			return st, true
		}
	}
	return CodeSubtask{}, false
}

// Validate checks ids are unique, dependencies reference known subtasks,
// the dependency map keys are exactly the subtask ids and the token total
// matches.
func (t *DecomposedCodeTask) Validate() error {
	seen := make(map[string]bool, len(t.Subtasks))
	total := 0
	for _, st := range t.Subtasks {
		if st.ID == "" {
			return fmt.Errorf("subtask with empty id")
		}
		if seen[st.ID] {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		seen[st.ID] = true
		total += st.EstimatedTokens
	}
	for _, st := range t.Subtasks {
		for _, dep := range st.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, dep)
			}
		}
	}
	if len(t.Dependencies) != len(t.Subtasks) {
		return fmt.Errorf("dependency map has %d keys for %d subtasks", len(t.Dependencies), len(t.Subtasks))
	}
	for id := range t.Dependencies {
		if !seen[id] {
			return fmt.Errorf("dependency map key %s is not a subtask", id)
		}
	}
	if total != t.TotalEstimatedTokens {
		return fmt.Errorf("total estimated tokens %d, subtasks sum to %d", t.TotalEstimatedTokens, total)
	}
	return nil
}

func copyFactors(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
