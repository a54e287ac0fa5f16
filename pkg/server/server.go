// Package server exposes routing, cost estimation and code task planning
// as MCP tools and resources over stdio.
package server

import (
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/coordinator"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/router"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Handler implements every tool and resource against the core components.
type Handler struct {
	registry    *catalog.Registry
	engine      *router.Engine
	coordinator *coordinator.Coordinator
	profiles    *profile.DB
	logger      *zap.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithProfiles exposes the profile database as a resource.
func WithProfiles(db *profile.DB) Option {
	return func(h *Handler) {
		h.profiles = db
	}
}

// WithLogger sets the logger for the handler.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger.Named("server")
		}
	}
}

// NewHandler creates a Handler.
func NewHandler(registry *catalog.Registry, engine *router.Engine, coord *coordinator.Coordinator, opts ...Option) *Handler {
	h := &Handler{
		registry:    registry,
		engine:      engine,
		coordinator: coord,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// New creates the MCP server with every tool and resource registered.
func New(h *Handler) *server.MCPServer {
	s := server.NewMCPServer(
		"localroute",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s.AddTool(h.RouteTaskTool(), h.HandleRouteTask)
	s.AddTool(h.PreemptiveRouteTool(), h.HandlePreemptiveRoute)
	s.AddTool(h.CostEstimateTool(), h.HandleCostEstimate)
	s.AddTool(h.ProcessCodeTaskTool(), h.HandleProcessCodeTask)
	s.AddTool(h.ExecuteCodeTaskTool(), h.HandleExecuteCodeTask)
	s.AddTool(h.ListModelsTool(), h.HandleListModels)
	s.AddTool(h.RefreshModelsTool(), h.HandleRefreshModels)

	s.AddResource(ModelsResource(), h.HandleModels)
	s.AddResource(FreeModelsResource(), h.HandleFreeModels)
	s.AddResource(ProfilesResource(), h.HandleProfiles)
	return s
}

// Serve runs s over stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `localroute decides where coding work should run: a local model, a free hosted model or a paid hosted model.
Use preemptive_route_task for an instant answer and route_task for the full analysis.
Use process_code_task to break a larger task into subtasks with model assignments and costs, and execute_code_task to run the plan.`
