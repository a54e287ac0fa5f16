// Package coordinator turns a coding task into an executable plan and runs
// it: decomposition, dependency resolution, model assignment, cost
// estimation, level-parallel execution and synthesis.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/decompose"
	"github.com/zen-systems/localroute/pkg/depgraph"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/selector"
	"github.com/zen-systems/localroute/pkg/task"
)

// Coordinator wires the planning components to a model caller.
type Coordinator struct {
	registry   *catalog.Registry
	profiles   *profile.DB
	decomposer *decompose.Decomposer
	mapper     *depgraph.Mapper
	selector   *selector.Selector
	caller     adapter.Caller
	synthesis  adapter.Target
	timeout    time.Duration
	workers    int
	logger     *zap.Logger
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithCaller sets the model caller used for decomposition, execution and
// synthesis. Without one, planning uses the heuristic fallbacks and
// execution reports every subtask as failed.
func WithCaller(caller adapter.Caller) Option {
	return func(c *Coordinator) {
		c.caller = caller
	}
}

// WithProfiles enables history-aware selection and records every execution.
func WithProfiles(db *profile.DB) Option {
	return func(c *Coordinator) {
		c.profiles = db
	}
}

// WithSynthesisTarget overrides the model used to merge subtask outputs.
func WithSynthesisTarget(target adapter.Target) Option {
	return func(c *Coordinator) {
		c.synthesis = target
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxConcurrency bounds the subtasks dispatched at once within a level.
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger for the coordinator and the components it builds.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Coordinator over registry.
func New(registry *catalog.Registry, opts ...Option) *Coordinator {
	defaults := registry.Defaults()
	c := &Coordinator{
		registry: registry,
		timeout:  defaults.CallTimeout,
		workers:  registry.Tunables().MaxConcurrency,
		logger:   zap.NewNop(),
	}
	c.synthesis = TargetFor(registry, defaults.SynthesisModel)
	for _, opt := range opts {
		opt(c)
	}

	decomposeOpts := []decompose.Option{
		decompose.WithTimeout(c.timeout),
		decompose.WithTunables(registry.Tunables()),
		decompose.WithLogger(c.logger),
		decompose.WithIDGenerator(uuid.NewString),
	}
	if c.caller != nil {
		decomposeOpts = append(decomposeOpts, decompose.WithModel(c.caller, TargetFor(registry, defaults.DecompositionModel)))
	}
	c.decomposer = decompose.New(decomposeOpts...)
	c.mapper = depgraph.New(depgraph.WithLogger(c.logger))

	selectorOpts := []selector.Option{selector.WithLogger(c.logger)}
	if c.profiles != nil {
		selectorOpts = append(selectorOpts, selector.WithProfiles(c.profiles))
	}
	c.selector = selector.New(registry, selectorOpts...)
	c.logger = c.logger.Named("coordinator")
	return c
}

// TargetFor resolves a model id to an invocation target. Models unknown to
// the registry run locally when they are the default local model and on the
// aggregator otherwise.
func TargetFor(registry *catalog.Registry, modelID string) adapter.Target {
	if m, ok := registry.Get(modelID); ok && m.Backend != "" {
		return adapter.Target{Backend: m.Backend, Model: m.ID}
	}
	if modelID == registry.Defaults().LocalModel {
		return adapter.Target{Backend: adapter.BackendLocal, Model: modelID}
	}
	return adapter.Target{Backend: adapter.BackendOpenRouter, Model: modelID}
}

// Options control one planning request.
type Options struct {
	Decompose decompose.Options `json:"decompose"`
	// ResourceEfficient shares one model across subtasks with the same tier
	// and code type.
	ResourceEfficient bool `json:"resource_efficient"`
	// BalanceLoad moves subtasks off heavily shared models.
	BalanceLoad bool `json:"balance_load"`
}

// Plan bundles everything derived from a task before execution.
type Plan struct {
	Task           *task.DecomposedCodeTask `json:"task"`
	RemovedEdges   []depgraph.Edge          `json:"removed_edges,omitempty"`
	ExecutionOrder []task.CodeSubtask       `json:"execution_order"`
	ParallelGroups [][]task.CodeSubtask     `json:"parallel_groups"`
	CriticalPath   []task.CodeSubtask       `json:"critical_path"`
	Schedule       []depgraph.ScheduleEntry `json:"schedule"`
	Visualization  string                   `json:"visualization"`
	Suggestions    []depgraph.Suggestion    `json:"suggestions"`
	Metrics        depgraph.Metrics         `json:"metrics"`
	Assignments    []selector.Assignment    `json:"assignments"`
	EstimatedCost  PlanCost                 `json:"estimated_cost"`
}

// Assignment returns the model assignment of a subtask.
func (p *Plan) Assignment(subtaskID string) (selector.Assignment, bool) {
	for _, a := range p.Assignments {
		if a.SubtaskID == subtaskID {
			return a, true
		}
	}
	return selector.Assignment{}, false
}

// ProcessCodeTask plans text without executing anything.
func (c *Coordinator) ProcessCodeTask(ctx context.Context, text string, opts Options) (*Plan, error) {
	decomposed, err := c.decomposer.Decompose(ctx, text, opts.Decompose)
	if err != nil {
		return nil, fmt.Errorf("process code task: decompose: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("process code task: %w", err)
	}

	resolved, removed := c.mapper.ResolveCycles(decomposed)
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("process code task: resolve dependencies: %w", err)
	}

	schedule, _ := c.mapper.Schedule(resolved)
	plan := &Plan{
		Task:           resolved,
		RemovedEdges:   removed,
		ExecutionOrder: c.mapper.SortByExecutionOrder(resolved),
		ParallelGroups: c.mapper.IdentifyParallelExecutionGroups(resolved),
		CriticalPath:   c.mapper.FindCriticalPath(resolved),
		Schedule:       schedule,
		Visualization:  c.mapper.Visualize(resolved),
		Suggestions:    c.mapper.SuggestOptimizations(resolved),
		Metrics:        c.mapper.Analyze(resolved),
	}

	if opts.BalanceLoad {
		plan.Assignments = c.selector.OptimizeResourceUsage(resolved.Subtasks)
	} else {
		plan.Assignments = c.selector.SelectModelsForSubtasks(resolved.Subtasks, opts.ResourceEfficient)
	}
	plan.EstimatedCost = c.estimatePlanCost(plan)

	c.logger.Info("planned code task",
		zap.Int("subtasks", len(resolved.Subtasks)),
		zap.Int("levels", len(plan.ParallelGroups)),
		zap.Int("removed_edges", len(removed)),
		zap.Float64("estimated_cost", plan.EstimatedCost.Assigned))
	return plan, nil
}
