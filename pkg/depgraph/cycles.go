package depgraph

import (
	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/task"
)

const (
	white = iota
	gray
	black
)

// FindCycles returns the cycle closed by each back edge of a colored
// depth-first search. Each cycle lists ids so that every element
// depends on the next and the last depends on the first.
func (m *Mapper) FindCycles(t *task.DecomposedCodeTask) [][]string {
	if t == nil {
		return nil
	}
	g := build(t)
	var cycles [][]string
	colors := make(map[string]int, len(g.ids))
	var path []string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		path = append(path, id)
		for _, d := range g.deps[id] {
			switch colors[d] {
			case gray:
				cycles = append(cycles, cycleFrom(path, d))
			case white:
				visit(d)
			}
		}
		path = path[:len(path)-1]
		colors[id] = black
	}

	for _, id := range g.ids {
		if colors[id] == white {
			visit(id)
		}
	}
	return cycles
}

func cycleFrom(path []string, start string) []string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == start {
			return append([]string(nil), path[i:]...)
		}
	}
	return []string{start}
}

// ResolveCircularDependencies returns a copy of t with every cycle broken.
func (m *Mapper) ResolveCircularDependencies(t *task.DecomposedCodeTask) *task.DecomposedCodeTask {
	out, _ := m.ResolveCycles(t)
	return out
}

// ResolveCycles breaks each cycle by removing one edge: the one leaving the
// cycle member with the fewest dependencies toward the next member. Cycles
// already broken by an earlier removal are skipped, and a removed edge that
// no longer closes a cycle once the others are gone is restored. It reports
// the removed edges. An acyclic input comes back unchanged.
func (m *Mapper) ResolveCycles(t *task.DecomposedCodeTask) (*task.DecomposedCodeTask, []Edge) {
	if t == nil {
		return nil, nil
	}
	out := t.Clone()
	var removed []Edge

	// the first cycle of every pass is intact, so each pass removes an edge
	for {
		cycles := m.FindCycles(out)
		if len(cycles) == 0 {
			break
		}
		g := build(out)
		for _, cycle := range cycles {
			if !intact(g, cycle) {
				continue
			}
			e, ok := weakestLink(g, cycle)
			if !ok {
				continue
			}
			removeEdge(out, g, e)
			removed = append(removed, e)
		}
	}

	for i := len(removed) - 1; i >= 0; i-- {
		rest := append(append([]Edge(nil), removed[:i]...), removed[i+1:]...)
		trial := withoutEdges(t, rest)
		if len(m.FindCycles(trial)) == 0 {
			removed, out = rest, trial
		}
	}

	for _, e := range removed {
		m.logger.Info("removed circular dependency", zap.String("from", e.From), zap.String("to", e.To))
	}
	return out, removed
}

func intact(g *graph, cycle []string) bool {
	for i, id := range cycle {
		if !contains(g.deps[id], cycle[(i+1)%len(cycle)]) {
			return false
		}
	}
	return true
}

func withoutEdges(t *task.DecomposedCodeTask, edges []Edge) *task.DecomposedCodeTask {
	out := t.Clone()
	g := build(out)
	for _, e := range edges {
		removeEdge(out, g, e)
	}
	return out
}

func weakestLink(g *graph, cycle []string) (Edge, bool) {
	best := -1
	for i, id := range cycle {
		next := cycle[(i+1)%len(cycle)]
		if !contains(g.deps[id], next) {
			continue
		}
		if best < 0 || len(g.deps[id]) < len(g.deps[cycle[best]]) {
			best = i
		}
	}
	if best < 0 {
		return Edge{}, false
	}
	return Edge{From: cycle[best], To: cycle[(best+1)%len(cycle)]}, true
}

func removeEdge(t *task.DecomposedCodeTask, g *graph, e Edge) {
	g.deps[e.From] = without(g.deps[e.From], e.To)
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == e.From {
			t.Subtasks[i].Dependencies = without(t.Subtasks[i].Dependencies, e.To)
		}
	}
	if deps, ok := t.Dependencies[e.From]; ok {
		t.Dependencies[e.From] = without(deps, e.To)
	}
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
