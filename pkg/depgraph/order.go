package depgraph

import (
	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/task"
)

// SortByExecutionOrder returns the subtasks so that each one follows its
// dependencies. A back edge is logged and not followed; callers resolve
// cycles first.
func (m *Mapper) SortByExecutionOrder(t *task.DecomposedCodeTask) []task.CodeSubtask {
	if t == nil || len(t.Subtasks) == 0 {
		return []task.CodeSubtask{}
	}
	return subtasksByID(t, m.order(build(t)))
}

func (m *Mapper) order(g *graph) []string {
	temp := make(map[string]bool, len(g.ids))
	done := make(map[string]bool, len(g.ids))
	order := make([]string, 0, len(g.ids))

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		if temp[id] {
			m.logger.Warn("dependency cycle detected during ordering", zap.String("subtask", id))
			return
		}
		temp[id] = true
		for _, d := range g.deps[id] {
			visit(d)
		}
		delete(temp, id)
		done[id] = true
		order = append(order, id)
	}

	for _, id := range g.ids {
		visit(id)
	}
	return order
}

// IdentifyParallelExecutionGroups peels off every subtask whose
// dependencies are all satisfied into one level, repeating until none
// remain. A residual cycle forces its first remaining subtask into the
// level so the loop always terminates.
func (m *Mapper) IdentifyParallelExecutionGroups(t *task.DecomposedCodeTask) [][]task.CodeSubtask {
	if t == nil || len(t.Subtasks) == 0 {
		return [][]task.CodeSubtask{}
	}
	levels := m.levels(build(t))
	out := make([][]task.CodeSubtask, len(levels))
	for i, ids := range levels {
		out[i] = subtasksByID(t, ids)
	}
	return out
}

func (m *Mapper) levels(g *graph) [][]string {
	inDeg := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		inDeg[id] = len(g.deps[id])
	}
	dependents := g.dependents()
	remaining := make(map[string]bool, len(g.ids))
	for _, id := range g.ids {
		remaining[id] = true
	}

	var levels [][]string
	for len(remaining) > 0 {
		var level []string
		for _, id := range g.ids {
			if remaining[id] && inDeg[id] == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			for _, id := range g.ids {
				if remaining[id] {
					m.logger.Warn("residual dependency cycle, forcing subtask into level", zap.String("subtask", id))
					level = []string{id}
					break
				}
			}
		}
		for _, id := range level {
			delete(remaining, id)
			for _, next := range dependents[id] {
				if remaining[next] {
					inDeg[next]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels
}
