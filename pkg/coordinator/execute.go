package coordinator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/selector"
	"github.com/zen-systems/localroute/pkg/task"
)

// ManualIntegrationNote ends a synthesis that fell back to concatenation.
const ManualIntegrationNote = "Note: automatic synthesis failed; manual integration needed."

// SubtaskResult is the outcome of one subtask. A failed call leaves an
// inline error string in Output so synthesis can still proceed.
type SubtaskResult struct {
	SubtaskID   string         `json:"subtask_id"`
	Description string         `json:"description"`
	ModelID     string         `json:"model_id"`
	Backend     string         `json:"backend"`
	Success     bool           `json:"success"`
	Output      string         `json:"output"`
	ErrorKind   adapter.Kind   `json:"error_kind,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Usage       *adapter.Usage `json:"usage,omitempty"`
}

// Result is a planned, executed and synthesized task.
type Result struct {
	Plan    *Plan           `json:"plan"`
	Results []SubtaskResult `json:"results"`
	Final   string          `json:"final"`
	Cost    RunCost         `json:"cost"`
}

// Run plans text, executes every subtask and synthesizes the outputs.
func (c *Coordinator) Run(ctx context.Context, text string, opts Options) (*Result, error) {
	plan, err := c.ProcessCodeTask(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	tracker := newCostTracker(c.registry)
	results := c.executeAll(ctx, plan, tracker)
	final := c.synthesize(ctx, plan.Task.OriginalTask, results, tracker)
	return &Result{Plan: plan, Results: results, Final: final, Cost: tracker.report()}, nil
}

// ExecuteSubtask runs one subtask on its assigned model. deps are the
// results of the subtask's dependencies in execution order; their outputs
// are passed as context.
func (c *Coordinator) ExecuteSubtask(ctx context.Context, original string, st task.CodeSubtask, a selector.Assignment, deps []SubtaskResult) SubtaskResult {
	return c.executeSubtask(ctx, original, st, a, deps, nil)
}

func (c *Coordinator) executeSubtask(ctx context.Context, original string, st task.CodeSubtask, a selector.Assignment, deps []SubtaskResult, tracker *costTracker) SubtaskResult {
	res := SubtaskResult{
		SubtaskID:   st.ID,
		Description: st.Description,
		ModelID:     a.ModelID,
		Backend:     a.Backend,
	}
	if c.caller == nil {
		res.ErrorKind = adapter.KindInvalidRequest
		res.Output = inlineError(st.ID, "no model caller configured")
		return res
	}

	target := adapter.Target{Backend: a.Backend, Model: a.ModelID}
	if target.Backend == "" {
		target = TargetFor(c.registry, a.ModelID)
		res.Backend = target.Backend
	}

	call := c.caller.Call(ctx, target, subtaskPrompt(original, st, deps), c.timeout)
	res.DurationMs = call.DurationMs
	res.Usage = call.Usage
	if call.Success {
		res.Success = true
		res.Output = call.Text
	} else {
		res.ErrorKind = call.ErrorKind
		msg := string(call.ErrorKind)
		if call.Err != nil {
			msg = call.Err.Error()
		}
		res.Output = inlineError(st.ID, msg)
		c.logger.Warn("subtask failed",
			zap.String("subtask", st.ID),
			zap.String("target", target.String()),
			zap.String("kind", string(call.ErrorKind)))
	}
	if tracker != nil {
		tracker.record(a.ModelID, call.Usage)
	}
	c.recordProfile(ctx, a.ModelID, st, res)
	return res
}

func (c *Coordinator) recordProfile(ctx context.Context, modelID string, st task.CodeSubtask, res SubtaskResult) {
	if c.profiles == nil || modelID == "" {
		return
	}
	e := profile.Execution{
		Complexity:     st.Complexity,
		Success:        res.Success,
		Quality:        profile.QualityFor(res.Success, res.Output),
		ResponseTimeMs: float64(res.DurationMs),
	}
	if res.Usage != nil {
		e.TokensUsed = res.Usage.TotalTokens
		if st.EstimatedTokens > 0 && res.Usage.TotalTokens > 0 {
			eff := float64(st.EstimatedTokens) / float64(res.Usage.TotalTokens)
			if eff > 1 {
				eff = 1
			}
			e.TokenEfficiency = &eff
		}
	}
	if _, err := c.profiles.Record(ctx, modelID, e); err != nil {
		c.logger.Warn("profile update not persisted", zap.String("model", modelID), zap.Error(err))
	}
}

// ExecuteAllSubtasks runs the plan level by level. Subtasks within a level
// run concurrently, bounded by the configured worker count; the next level
// starts once the current one has finished. Results come back in execution
// order.
func (c *Coordinator) ExecuteAllSubtasks(ctx context.Context, plan *Plan) []SubtaskResult {
	return c.executeAll(ctx, plan, nil)
}

func (c *Coordinator) executeAll(ctx context.Context, plan *Plan, tracker *costTracker) []SubtaskResult {
	done := make(map[string]SubtaskResult, len(plan.Task.Subtasks))
	position := make(map[string]int, len(plan.ExecutionOrder))
	for i, st := range plan.ExecutionOrder {
		position[st.ID] = i
	}

	for level, group := range plan.ParallelGroups {
		out := make([]SubtaskResult, len(group))
		g := new(errgroup.Group)
		g.SetLimit(c.workers)
		for i, st := range group {
			deps := dependencyResults(st, done, position)
			a, ok := plan.Assignment(st.ID)
			if !ok {
				a = c.selector.FindBestModelForSubtask(st)
			}
			g.Go(func() error {
				out[i] = c.executeSubtask(ctx, plan.Task.OriginalTask, st, a, deps, tracker)
				return nil
			})
		}
		_ = g.Wait()
		for _, r := range out {
			done[r.SubtaskID] = r
		}
		c.logger.Debug("level complete", zap.Int("level", level), zap.Int("subtasks", len(group)))
	}

	results := make([]SubtaskResult, 0, len(done))
	for _, st := range plan.ExecutionOrder {
		if r, ok := done[st.ID]; ok {
			results = append(results, r)
		}
	}
	return results
}

// dependencyResults collects finished dependency results in execution order.
func dependencyResults(st task.CodeSubtask, done map[string]SubtaskResult, position map[string]int) []SubtaskResult {
	var deps []SubtaskResult
	for _, id := range st.Dependencies {
		if r, ok := done[id]; ok {
			deps = append(deps, r)
		}
	}
	for i := 1; i < len(deps); i++ {
		for j := i; j > 0 && position[deps[j].SubtaskID] < position[deps[j-1].SubtaskID]; j-- {
			deps[j], deps[j-1] = deps[j-1], deps[j]
		}
	}
	return deps
}

// SynthesizeFinalResult asks the synthesis model to merge the subtask
// outputs. On failure it concatenates them and appends ManualIntegrationNote.
func (c *Coordinator) SynthesizeFinalResult(ctx context.Context, original string, results []SubtaskResult) string {
	return c.synthesize(ctx, original, results, nil)
}

func (c *Coordinator) synthesize(ctx context.Context, original string, results []SubtaskResult, tracker *costTracker) string {
	if len(results) == 0 {
		return ""
	}
	if len(results) == 1 && results[0].Success {
		return results[0].Output
	}
	if c.caller != nil {
		call := c.caller.Call(ctx, c.synthesis, synthesisPrompt(original, results), c.timeout)
		if tracker != nil {
			tracker.record(c.synthesis.Model, call.Usage)
		}
		if call.Success && strings.TrimSpace(call.Text) != "" {
			return call.Text
		}
		c.logger.Warn("synthesis failed, concatenating outputs",
			zap.String("target", c.synthesis.String()),
			zap.String("kind", string(call.ErrorKind)))
	}
	return concatenate(results)
}

func concatenate(results []SubtaskResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "## Part %d: %s\n\n%s\n\n", i+1, r.Description, strings.TrimSpace(r.Output))
	}
	b.WriteString(ManualIntegrationNote)
	return b.String()
}

func inlineError(subtaskID, msg string) string {
	return fmt.Sprintf("[error: subtask %s failed: %s]", subtaskID, msg)
}

func subtaskPrompt(original string, st task.CodeSubtask, deps []SubtaskResult) string {
	var b strings.Builder
	b.WriteString("You are implementing one part of a larger coding task.\n\n")
	fmt.Fprintf(&b, "Overall task:\n%s\n\n", original)
	if len(deps) > 0 {
		b.WriteString("Completed parts this one builds on:\n\n")
		for _, d := range deps {
			fmt.Fprintf(&b, "### %s\n%s\n\n", d.Description, d.Output)
		}
	}
	fmt.Fprintf(&b, "Your part (%s):\n%s\n\n", st.CodeType, st.Description)
	b.WriteString("Respond with the code for this part only, followed by a short note on how it connects to the rest.")
	return b.String()
}

func synthesisPrompt(original string, results []SubtaskResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Combine the following parts into one coherent solution for this task:\n%s\n\n", original)
	for i, r := range results {
		fmt.Fprintf(&b, "## Part %d: %s\n%s\n\n", i+1, r.Description, r.Output)
	}
	b.WriteString("Resolve naming conflicts, remove duplication and return the integrated code with brief usage notes.")
	return b.String()
}
