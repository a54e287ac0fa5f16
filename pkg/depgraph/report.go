package depgraph

import (
	"fmt"
	"strings"

	"github.com/zen-systems/localroute/pkg/task"
)

// Metrics summarize the shape of a dependency graph.
type Metrics struct {
	Subtasks             int     `json:"subtasks"`
	Edges                int     `json:"edges"`
	Levels               int     `json:"levels"`
	MaxParallelism       int     `json:"max_parallelism"`
	ParallelizationScore float64 `json:"parallelization_score"`
	CriticalPathLength   int     `json:"critical_path_length"`
	CriticalPathTokens   int     `json:"critical_path_tokens"`
	TotalTokens          int     `json:"total_tokens"`
	Bottleneck           string  `json:"bottleneck,omitempty"`
	BottleneckDependents int     `json:"bottleneck_dependents,omitempty"`
}

// Analyze computes the graph metrics. The parallelization score is 1 for a
// graph that runs in one level and 0 for a pure chain. The bottleneck is the
// subtask with the most dependents, reported only when at least two depend
// on it.
func (m *Mapper) Analyze(t *task.DecomposedCodeTask) Metrics {
	if t == nil || len(t.Subtasks) == 0 {
		return Metrics{ParallelizationScore: 1}
	}
	g := build(t)
	levels := m.levels(g)
	met := Metrics{
		Subtasks:    len(g.ids),
		Edges:       g.edgeCount(),
		Levels:      len(levels),
		TotalTokens: t.TotalEstimatedTokens,
	}
	for _, l := range levels {
		if len(l) > met.MaxParallelism {
			met.MaxParallelism = len(l)
		}
	}
	met.ParallelizationScore = 1
	if met.Subtasks > 1 {
		met.ParallelizationScore = 1 - float64(met.Levels-1)/float64(met.Subtasks-1)
	}

	for _, st := range m.FindCriticalPath(t) {
		met.CriticalPathLength++
		met.CriticalPathTokens += tokens(st)
	}

	dependents := g.dependents()
	for _, id := range g.ids {
		if n := len(dependents[id]); n >= 2 && n > met.BottleneckDependents {
			met.Bottleneck = id
			met.BottleneckDependents = n
		}
	}
	return met
}

// Suggestion is one rule-based optimization hint.
type Suggestion struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	SubtaskIDs []string `json:"subtask_ids,omitempty"`
}

// SuggestOptimizations derives hints from the graph metrics.
func (m *Mapper) SuggestOptimizations(t *task.DecomposedCodeTask) []Suggestion {
	suggestions := []Suggestion{}
	if t == nil || len(t.Subtasks) == 0 {
		return suggestions
	}
	met := m.Analyze(t)

	if met.Subtasks > 2 && met.ParallelizationScore < 0.3 {
		suggestions = append(suggestions, Suggestion{
			Kind:    "restructure",
			Message: fmt.Sprintf("parallelization score %.2f is low; restructure subtasks to reduce sequential dependencies", met.ParallelizationScore),
		})
	}
	if met.Bottleneck != "" {
		suggestions = append(suggestions, Suggestion{
			Kind:       "split-bottleneck",
			Message:    fmt.Sprintf("%d subtasks depend on %s; consider splitting it", met.BottleneckDependents, shortID(met.Bottleneck)),
			SubtaskIDs: []string{met.Bottleneck},
		})
	}
	if met.Subtasks > 2 && met.TotalTokens > 0 && float64(met.CriticalPathTokens) > 0.7*float64(met.TotalTokens) {
		suggestions = append(suggestions, Suggestion{
			Kind:    "critical-path",
			Message: fmt.Sprintf("critical path carries %d of %d estimated tokens; shorten it to gain from parallel execution", met.CriticalPathTokens, met.TotalTokens),
		})
	}
	var heavy []string
	for _, st := range t.Subtasks {
		if st.Complexity > 0.8 {
			heavy = append(heavy, st.ID)
		}
	}
	if len(heavy) > 0 {
		suggestions = append(suggestions, Suggestion{
			Kind:       "decompose-further",
			Message:    fmt.Sprintf("%d subtask(s) exceed complexity 0.8 and will need a remote model; decompose them further to run locally", len(heavy)),
			SubtaskIDs: heavy,
		})
	}
	return suggestions
}

// Visualize renders levels, edges and the critical path as plain text.
func (m *Mapper) Visualize(t *task.DecomposedCodeTask) string {
	if t == nil || len(t.Subtasks) == 0 {
		return "(no subtasks)\n"
	}
	var b strings.Builder
	g := build(t)

	b.WriteString("Execution levels:\n")
	for i, level := range m.IdentifyParallelExecutionGroups(t) {
		fmt.Fprintf(&b, "  Level %d:\n", i+1)
		for _, st := range level {
			fmt.Fprintf(&b, "    [%s] %s (complexity %.2f, %d tokens, %s)\n",
				shortID(st.ID), truncate(st.Description, 60), st.Complexity, st.EstimatedTokens, st.RecommendedTier)
		}
	}

	if g.edgeCount() > 0 {
		b.WriteString("Dependencies:\n")
		for _, id := range g.ids {
			if len(g.deps[id]) == 0 {
				continue
			}
			names := make([]string, len(g.deps[id]))
			for i, d := range g.deps[id] {
				names[i] = shortID(d)
			}
			fmt.Fprintf(&b, "  %s <- %s\n", shortID(id), strings.Join(names, ", "))
		}
	}

	critical := m.FindCriticalPath(t)
	names := make([]string, len(critical))
	for i, st := range critical {
		names[i] = shortID(st.ID)
	}
	fmt.Fprintf(&b, "Critical path: %s\n", strings.Join(names, " -> "))
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
