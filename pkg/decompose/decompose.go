// Package decompose breaks a natural-language coding task into subtasks
// with dependencies, complexity scores and token estimates.
package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/task"
)

// ErrEmptyTask is returned for blank task text.
var ErrEmptyTask = errors.New("decompose: empty task")

// fallbackWordLimit is the word count below which the fallback keeps a task
// as a single subtask.
const fallbackWordLimit = 20

// Granularity steers how finely the model splits a task.
type Granularity string

const (
	GranularityCoarse Granularity = "coarse"
	GranularityMedium Granularity = "medium"
	GranularityFine   Granularity = "fine"
)

// Options tune one decomposition.
type Options struct {
	// FixedSubtaskCount asks for exactly this many subtasks and disables the
	// simple-task short circuit.
	FixedSubtaskCount int
	MaxSubtasks       int
	Granularity       Granularity
}

// Decomposer turns tasks into DecomposedCodeTasks.
type Decomposer struct {
	caller   adapter.Caller
	target   adapter.Target
	timeout  time.Duration
	tunables config.Tunables
	logger   *zap.Logger
	newID    func() string
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithModel sets the caller and target used for analysis and breakdown.
// Without one the decomposer works from patterns and fallbacks alone.
func WithModel(caller adapter.Caller, target adapter.Target) Option {
	return func(d *Decomposer) {
		d.caller = caller
		d.target = target
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Decomposer) {
		d.timeout = timeout
	}
}

// WithTunables sets the thresholds.
func WithTunables(t config.Tunables) Option {
	return func(d *Decomposer) {
		d.tunables = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decomposer) {
		if logger != nil {
			d.logger = logger.Named("decompose")
		}
	}
}

// WithIDGenerator overrides subtask id generation.
func WithIDGenerator(fn func() string) Option {
	return func(d *Decomposer) {
		d.newID = fn
	}
}

// New creates a Decomposer.
func New(opts ...Option) *Decomposer {
	d := &Decomposer{
		timeout:  60 * time.Second,
		tunables: config.DefaultTunables(),
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose breaks text into subtasks. Model or parse failures never
// surface: the result is then a fallback decomposition.
func (d *Decomposer) Decompose(ctx context.Context, text string, opts Options) (*task.DecomposedCodeTask, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTask
	}

	analysis := d.AnalyzeComplexity(ctx, text)
	d.logger.Debug("complexity analyzed",
		zap.Float64("overall", analysis.Overall),
		zap.Float64("integration", analysis.Integration),
		zap.String("source", analysis.Source))

	if analysis.Overall < d.tunables.Complexity.Simple && opts.FixedSubtaskCount <= 0 {
		d.logger.Debug("simple task, skipping breakdown")
		return d.withAnalysis(d.single(text, analysis.Overall), analysis), nil
	}

	if d.caller == nil {
		return d.withAnalysis(d.fallback(text, analysis.Overall), analysis), nil
	}

	res := d.caller.Call(ctx, d.target, d.breakdownPrompt(text, analysis, opts), d.timeout)
	if !res.Success {
		d.logger.Warn("decomposition call failed, using fallback",
			zap.String("target", d.target.String()), zap.String("kind", string(res.ErrorKind)))
		return d.withAnalysis(d.fallback(text, analysis.Overall), analysis), nil
	}

	raw, format, err := parseSubtasks(res.Text)
	if err != nil {
		d.logger.Warn("decomposition response unparsable, using fallback", zap.Error(err))
		return d.withAnalysis(d.fallback(text, analysis.Overall), analysis), nil
	}

	limit := opts.MaxSubtasks
	if opts.FixedSubtaskCount > 0 {
		limit = opts.FixedSubtaskCount
		if len(raw) != opts.FixedSubtaskCount {
			d.logger.Info("model returned a different subtask count",
				zap.Int("requested", opts.FixedSubtaskCount), zap.Int("returned", len(raw)))
		}
	}
	if limit > 0 && len(raw) > limit {
		raw = raw[:limit]
	}

	subtasks := d.build(raw, analysis.Overall)
	d.logger.Info("task decomposed", zap.Int("subtasks", len(subtasks)), zap.String("format", format))
	return d.withAnalysis(task.New(text, subtasks), analysis), nil
}

func (d *Decomposer) withAnalysis(t *task.DecomposedCodeTask, a task.ComplexityAnalysis) *task.DecomposedCodeTask {
	t.Analysis = &a
	return t
}

// build assigns generated ids, remaps model ids in dependencies and drops
// dependencies that name no subtask of this decomposition.
func (d *Decomposer) build(raw []rawSubtask, overall float64) []task.CodeSubtask {
	ids := make(map[string]string, len(raw)*2)
	generated := make([]string, len(raw))
	for i, r := range raw {
		generated[i] = d.newID()
		if r.ID != "" {
			ids[string(r.ID)] = generated[i]
		}
	}
	// 1-based positions resolve when no explicit id claims them
	for i := range raw {
		pos := fmt.Sprintf("%d", i+1)
		if _, taken := ids[pos]; !taken {
			ids[pos] = generated[i]
		}
	}

	out := make([]task.CodeSubtask, 0, len(raw))
	for i, r := range raw {
		complexity := overall
		if r.Complexity != nil {
			complexity = *r.Complexity
		}
		complexity = task.ClampComplexity(complexity)

		tokens := r.tokens()
		if tokens <= 0 {
			tokens = task.TokensForComplexity(complexity)
		}

		deps := []string{}
		seen := map[string]bool{}
		for _, dep := range r.Dependencies {
			id, ok := ids[string(dep)]
			if !ok {
				d.logger.Debug("dropping unknown dependency", zap.String("dependency", string(dep)))
				continue
			}
			if !seen[id] {
				seen[id] = true
				deps = append(deps, id)
			}
		}

		out = append(out, task.CodeSubtask{
			ID:              generated[i],
			Description:     r.description(),
			Complexity:      complexity,
			EstimatedTokens: tokens,
			Dependencies:    deps,
			CodeType:        task.ParseCodeType(r.codeType()),
			RecommendedTier: task.TierForComplexity(complexity, d.tunables.Complexity),
		})
	}
	return out
}

func (d *Decomposer) single(text string, complexity float64) *task.DecomposedCodeTask {
	return task.New(text, []task.CodeSubtask{d.subtask(text, complexity, nil)})
}

// fallback is the decomposition used when the model cannot help: one
// subtask for short tasks, otherwise a plan step followed by an implement
// step that depends on it.
func (d *Decomposer) fallback(text string, complexity float64) *task.DecomposedCodeTask {
	if len(strings.Fields(text)) < fallbackWordLimit {
		return d.single(text, complexity)
	}
	planComplexity := complexity * 0.6
	plan := d.subtask("Plan the implementation: "+text, planComplexity, nil)
	plan.CodeType = task.CodeInterface
	impl := d.subtask("Implement: "+text, complexity, []string{plan.ID})
	return task.New(text, []task.CodeSubtask{plan, impl})
}

func (d *Decomposer) subtask(desc string, complexity float64, deps []string) task.CodeSubtask {
	complexity = task.ClampComplexity(complexity)
	if deps == nil {
		deps = []string{}
	}
	return task.CodeSubtask{
		ID:              d.newID(),
		Description:     desc,
		Complexity:      complexity,
		EstimatedTokens: task.TokensForComplexity(complexity),
		Dependencies:    deps,
		CodeType:        guessCodeType(desc),
		RecommendedTier: task.TierForComplexity(complexity, d.tunables.Complexity),
	}
}

func guessCodeType(desc string) task.CodeType {
	lower := strings.ToLower(desc)
	switch {
	case containsWord(lower, "test") || containsWord(lower, "tests"):
		return task.CodeTest
	case containsWord(lower, "interface"):
		return task.CodeInterface
	case containsWord(lower, "class") || containsWord(lower, "struct") || containsWord(lower, "type"):
		return task.CodeClass
	case containsWord(lower, "function") || containsWord(lower, "method") || containsWord(lower, "func"):
		return task.CodeFunction
	default:
		return task.CodeOther
	}
}

func (d *Decomposer) breakdownPrompt(text string, a task.ComplexityAnalysis, opts Options) string {
	var count string
	switch {
	case opts.FixedSubtaskCount > 0:
		count = fmt.Sprintf("Produce exactly %d subtasks.", opts.FixedSubtaskCount)
	case opts.MaxSubtasks > 0:
		count = fmt.Sprintf("Produce at most %d subtasks.", opts.MaxSubtasks)
	default:
		count = "Produce between 2 and 8 subtasks."
	}
	granularity := opts.Granularity
	if granularity == "" {
		granularity = GranularityMedium
	}

	return fmt.Sprintf(`Break this coding task into subtasks that can each be implemented by one model call.

Task: %s

Estimated overall complexity: %.2f (integration risk %.2f)
%s Use %s granularity.

For each subtask give:
- id: a short identifier such as "1"
- description: what to implement
- complexity: 0 to 1
- estimated_tokens: expected output tokens
- dependencies: ids of subtasks that must finish first
- code_type: one of "function", "class", "test", "interface", "other"

Return ONLY JSON in this shape:
{"subtasks": [{"id": "1", "description": "...", "complexity": 0.4, "estimated_tokens": 800, "dependencies": [], "code_type": "function"}]}`,
		text, a.Overall, a.Integration, count, granularity)
}
