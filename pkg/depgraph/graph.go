// Package depgraph orders, levels and schedules the subtasks of a
// decomposed task from their dependency edges.
package depgraph

import (
	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/task"
)

// Edge points from a subtask to one of its dependencies.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Mapper analyzes subtask dependency graphs. It holds no state beyond its
// logger and is safe for concurrent use.
type Mapper struct {
	logger *zap.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger.Named("depgraph")
		}
	}
}

// New creates a Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// graph is the adjacency view of a task: ids in subtask order and, per id,
// its known dependencies without duplicates.
type graph struct {
	ids  []string
	deps map[string][]string
	pos  map[string]int
}

func build(t *task.DecomposedCodeTask) *graph {
	g := &graph{
		ids:  make([]string, 0, len(t.Subtasks)),
		deps: make(map[string][]string, len(t.Subtasks)),
		pos:  make(map[string]int, len(t.Subtasks)),
	}
	for i, st := range t.Subtasks {
		g.ids = append(g.ids, st.ID)
		g.pos[st.ID] = i
	}
	for _, st := range t.Subtasks {
		raw, ok := t.Dependencies[st.ID]
		if !ok {
			raw = st.Dependencies
		}
		seen := make(map[string]bool, len(raw))
		var deps []string
		for _, d := range raw {
			if _, known := g.pos[d]; !known || seen[d] {
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
		g.deps[st.ID] = deps
	}
	return g
}

// dependents inverts the edges: id -> subtasks that depend on it.
func (g *graph) dependents() map[string][]string {
	out := make(map[string][]string, len(g.ids))
	for _, id := range g.ids {
		for _, d := range g.deps[id] {
			out[d] = append(out[d], id)
		}
	}
	return out
}

func (g *graph) edgeCount() int {
	n := 0
	for _, id := range g.ids {
		n += len(g.deps[id])
	}
	return n
}

func subtasksByID(t *task.DecomposedCodeTask, ids []string) []task.CodeSubtask {
	idx := t.Index()
	out := make([]task.CodeSubtask, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.Subtasks[idx[id]])
	}
	return out
}
