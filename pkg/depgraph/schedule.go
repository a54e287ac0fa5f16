package depgraph

import (
	"sort"

	"github.com/zen-systems/localroute/pkg/task"
)

// ScheduleEntry is the critical-path timing of one subtask, measured in
// estimated tokens.
type ScheduleEntry struct {
	Subtask        task.CodeSubtask `json:"subtask"`
	EarliestStart  int              `json:"earliest_start"`
	EarliestFinish int              `json:"earliest_finish"`
	LatestStart    int              `json:"latest_start"`
	LatestFinish   int              `json:"latest_finish"`
	Slack          int              `json:"slack"`
}

// Schedule runs the forward and backward passes and returns one entry per
// subtask in execution order plus the project duration.
func (m *Mapper) Schedule(t *task.DecomposedCodeTask) ([]ScheduleEntry, int) {
	if t == nil || len(t.Subtasks) == 0 {
		return []ScheduleEntry{}, 0
	}
	g := build(t)
	order := m.order(g)
	idx := t.Index()
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	es := make(map[string]int, len(order))
	ef := make(map[string]int, len(order))
	duration := 0
	for _, id := range order {
		start := 0
		for _, d := range g.deps[id] {
			// back edges left by an unresolved cycle are ignored
			if rank[d] < rank[id] && ef[d] > start {
				start = ef[d]
			}
		}
		es[id] = start
		ef[id] = start + tokens(t.Subtasks[idx[id]])
		if ef[id] > duration {
			duration = ef[id]
		}
	}

	dependents := g.dependents()
	ls := make(map[string]int, len(order))
	lf := make(map[string]int, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		finish := duration
		for _, next := range dependents[id] {
			if rank[next] > rank[id] && ls[next] < finish {
				finish = ls[next]
			}
		}
		lf[id] = finish
		ls[id] = finish - tokens(t.Subtasks[idx[id]])
	}

	entries := make([]ScheduleEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, ScheduleEntry{
			Subtask:        t.Subtasks[idx[id]],
			EarliestStart:  es[id],
			EarliestFinish: ef[id],
			LatestStart:    ls[id],
			LatestFinish:   lf[id],
			Slack:          ls[id] - es[id],
		})
	}
	return entries, duration
}

// FindCriticalPath returns the zero-slack subtasks sorted by earliest start.
func (m *Mapper) FindCriticalPath(t *task.DecomposedCodeTask) []task.CodeSubtask {
	entries, _ := m.Schedule(t)
	var critical []ScheduleEntry
	for _, e := range entries {
		if e.Slack == 0 {
			critical = append(critical, e)
		}
	}
	sort.SliceStable(critical, func(i, j int) bool {
		return critical[i].EarliestStart < critical[j].EarliestStart
	})
	out := make([]task.CodeSubtask, len(critical))
	for i, e := range critical {
		out[i] = e.Subtask
	}
	return out
}

func tokens(st task.CodeSubtask) int {
	if st.EstimatedTokens < 0 {
		return 0
	}
	return st.EstimatedTokens
}
