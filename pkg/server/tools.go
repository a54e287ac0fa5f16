package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/coordinator"
	"github.com/zen-systems/localroute/pkg/decompose"
	"github.com/zen-systems/localroute/pkg/router"
)

func routeParams(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("The task to route"),
		),
		mcp.WithNumber("context_length",
			mcp.Description("Prompt tokens, estimated from the task text when omitted"),
		),
		mcp.WithNumber("expected_output_length",
			mcp.Description("Expected completion tokens"),
		),
		mcp.WithNumber("complexity",
			mcp.Description("Task complexity between 0 and 1, estimated when omitted"),
		),
		mcp.WithString("priority",
			mcp.Description("Routing preference"),
			mcp.Enum("speed", "cost", "quality"),
		),
	)
}

// RouteTaskTool returns the route_task definition.
func (h *Handler) RouteTaskTool() mcp.Tool {
	return routeParams("route_task",
		"Decide whether a task should run on a local, free or paid model, using the full analysis including cost and model history.")
}

// PreemptiveRouteTool returns the preemptive_route_task definition.
func (h *Handler) PreemptiveRouteTool() mcp.Tool {
	return routeParams("preemptive_route_task",
		"Fast routing decision from thresholds alone, without contacting any catalog.")
}

func parseRouteParams(req mcp.CallToolRequest) (router.Params, error) {
	text := req.GetString("task", "")
	if text == "" {
		return router.Params{}, fmt.Errorf("'task' is required")
	}
	priority, err := router.ParsePriority(req.GetString("priority", ""))
	if err != nil {
		return router.Params{}, err
	}
	return router.Params{
		Task:                 text,
		ContextLength:        intArg(req, "context_length", 0),
		ExpectedOutputLength: intArg(req, "expected_output_length", 0),
		Complexity:           req.GetFloat("complexity", -1),
		Priority:             priority,
	}, nil
}

// HandleRouteTask processes route_task.
func (h *Handler) HandleRouteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseRouteParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := h.engine.RouteTask(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("routing failed: %v", err)), nil
	}
	return jsonResult(d)
}

// HandlePreemptiveRoute processes preemptive_route_task.
func (h *Handler) HandlePreemptiveRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := parseRouteParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(h.engine.PreemptiveRouting(p))
}

// CostEstimateTool returns the get_cost_estimate definition.
func (h *Handler) CostEstimateTool() mcp.Tool {
	return mcp.NewTool("get_cost_estimate",
		mcp.WithDescription("Compare the cost of running a request locally and on a paid model."),
		mcp.WithNumber("context_length",
			mcp.Required(),
			mcp.Description("Prompt tokens"),
		),
		mcp.WithNumber("output_length",
			mcp.Required(),
			mcp.Description("Completion tokens"),
		),
		mcp.WithString("model",
			mcp.Description("Remote model id; defaults to the complex remote default"),
		),
	)
}

// HandleCostEstimate processes get_cost_estimate.
func (h *Handler) HandleCostEstimate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contextLength := intArg(req, "context_length", -1)
	outputLength := intArg(req, "output_length", -1)
	if contextLength < 0 || outputLength < 0 {
		return mcp.NewToolResultError("'context_length' and 'output_length' must be non-negative"), nil
	}
	return jsonResult(h.registry.EstimateCost(contextLength, outputLength, req.GetString("model", "")))
}

func planParams(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("The coding task"),
		),
		mcp.WithNumber("max_subtasks",
			mcp.Description("Upper bound on the number of subtasks"),
		),
		mcp.WithNumber("subtask_count",
			mcp.Description("Exact number of subtasks to request"),
		),
		mcp.WithString("granularity",
			mcp.Description("How finely to split the task"),
			mcp.Enum("coarse", "medium", "fine"),
		),
		mcp.WithBoolean("resource_efficient",
			mcp.Description("Share one model across similar subtasks (default: false)"),
		),
		mcp.WithBoolean("balance_load",
			mcp.Description("Move subtasks off heavily shared models (default: false)"),
		),
	)
}

func parsePlanOptions(req mcp.CallToolRequest) (string, coordinator.Options, error) {
	text := req.GetString("task", "")
	if text == "" {
		return "", coordinator.Options{}, fmt.Errorf("'task' is required")
	}
	opts := coordinator.Options{
		Decompose: decompose.Options{
			MaxSubtasks:       intArg(req, "max_subtasks", 0),
			FixedSubtaskCount: intArg(req, "subtask_count", 0),
			Granularity:       decompose.Granularity(req.GetString("granularity", "")),
		},
		ResourceEfficient: boolArg(req, "resource_efficient", false),
		BalanceLoad:       boolArg(req, "balance_load", false),
	}
	return text, opts, nil
}

// ProcessCodeTaskTool returns the process_code_task definition.
func (h *Handler) ProcessCodeTaskTool() mcp.Tool {
	return planParams("process_code_task",
		"Break a coding task into subtasks and return the execution order, parallel groups, critical path, model assignments and estimated cost. Nothing is executed.")
}

// HandleProcessCodeTask processes process_code_task.
func (h *Handler) HandleProcessCodeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, opts, err := parsePlanOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plan, err := h.coordinator.ProcessCodeTask(ctx, text, opts)
	if err != nil {
		h.logger.Warn("process_code_task failed", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(plan)
}

// ExecuteCodeTaskTool returns the execute_code_task definition.
func (h *Handler) ExecuteCodeTaskTool() mcp.Tool {
	return planParams("execute_code_task",
		"Plan a coding task, run every subtask on its assigned model and synthesize the outputs into one result.")
}

// HandleExecuteCodeTask processes execute_code_task.
func (h *Handler) HandleExecuteCodeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, opts, err := parsePlanOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := h.coordinator.Run(ctx, text, opts)
	if err != nil {
		h.logger.Warn("execute_code_task failed", zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// ListModelsTool returns the list_models definition.
func (h *Handler) ListModelsTool() mcp.Tool {
	return mcp.NewTool("list_models",
		mcp.WithDescription("List the models in the catalog."),
		mcp.WithBoolean("free_only",
			mcp.Description("Only zero-cost hosted models (default: false)"),
		),
		mcp.WithString("provider",
			mcp.Description("Filter by provider"),
			mcp.Enum(string(catalog.ProviderLocal), string(catalog.ProviderRemoteFree), string(catalog.ProviderRemotePaid)),
		),
	)
}

// HandleListModels processes list_models.
func (h *Handler) HandleListModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	models := h.registry.ListModels()
	if boolArg(req, "free_only", false) {
		models = h.registry.ListFreeModels()
	}
	if provider := catalog.ProviderKind(req.GetString("provider", "")); provider != "" {
		filtered := models[:0:0]
		for _, m := range models {
			if m.Provider == provider {
				filtered = append(filtered, m)
			}
		}
		models = filtered
	}
	return jsonResult(models)
}

// RefreshModelsTool returns the refresh_models definition.
func (h *Handler) RefreshModelsTool() mcp.Tool {
	return mcp.NewTool("refresh_models",
		mcp.WithDescription("Fetch the model catalogs again. Without force, only a stale catalog is refreshed."),
		mcp.WithBoolean("force",
			mcp.Description("Refresh even when the catalog is fresh (default: false)"),
		),
	)
}

// HandleRefreshModels processes refresh_models.
func (h *Handler) HandleRefreshModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.registry.Refresh(ctx, boolArg(req, "force", false)))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// intArg reads a numeric argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}
