package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/coordinator"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/router"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	reg := catalog.NewRegistry()
	reg.Upsert(
		catalog.Model{ID: "llama3:8b", Name: "llama3:8b", Provider: catalog.ProviderLocal, Backend: "local", ContextWindow: 8192},
		catalog.Model{ID: "mistral-7b-instruct:free", Name: "Mistral 7B Instruct (free)", Provider: catalog.ProviderRemoteFree, Backend: "openrouter", ContextWindow: 32768},
		catalog.Model{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Provider: catalog.ProviderRemotePaid, Backend: "openrouter",
			ContextWindow: 200000, Pricing: catalog.Pricing{Prompt: 3e-6, Completion: 15e-6}},
	)
	db := profile.NewDB()
	if _, err := db.Record(context.Background(), "llama3:8b", profile.Execution{Complexity: 0.4, Success: true, Quality: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	return NewHandler(reg, router.New(reg, router.WithProfiles(db)), coordinator.New(reg, coordinator.WithProfiles(db)), WithProfiles(db))
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRouteTask(t *testing.T) {
	h := newTestHandler(t)
	res, err := h.HandleRouteTask(context.Background(), makeReq(map[string]interface{}{
		"task":                   "Write a function to validate an email address",
		"context_length":         float64(250),
		"expected_output_length": float64(350),
		"complexity":             0.3,
		"priority":               "cost",
	}))
	if err != nil {
		t.Fatalf("HandleRouteTask: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}

	var d router.Decision
	if err := json.Unmarshal([]byte(resultText(res)), &d); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if d.Provider == catalog.ProviderRemotePaid {
		t.Errorf("cost priority on a small task should not pick a paid model: %+v", d)
	}
	if !strings.Contains(d.Explanation, "cost prioritization") {
		t.Errorf("explanation = %q", d.Explanation)
	}
}

func TestRouteTaskValidation(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing task", map[string]interface{}{}, "'task' is required"},
		{"bad priority", map[string]interface{}{"task": "x", "priority": "cheap"}, "unknown priority"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.HandleRouteTask(context.Background(), makeReq(tt.args))
			if err != nil {
				t.Fatalf("HandleRouteTask: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected a tool error")
			}
			if !strings.Contains(resultText(res), tt.want) {
				t.Errorf("error = %q, want %q", resultText(res), tt.want)
			}
		})
	}
}

func TestPreemptiveRouteForcesRemoteForHugeContext(t *testing.T) {
	h := newTestHandler(t)
	res, err := h.HandlePreemptiveRoute(context.Background(), makeReq(map[string]interface{}{
		"task":           "Review this whole codebase",
		"context_length": float64(100000),
		"priority":       "speed",
	}))
	if err != nil || res.IsError {
		t.Fatalf("HandlePreemptiveRoute: %v %s", err, resultText(res))
	}
	var d router.Decision
	if err := json.Unmarshal([]byte(resultText(res)), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Provider != catalog.ProviderRemotePaid || d.Confidence < 0.9 || !d.Preemptive {
		t.Errorf("unexpected decision %+v", d)
	}
}

func TestCostEstimate(t *testing.T) {
	h := newTestHandler(t)

	res, err := h.HandleCostEstimate(context.Background(), makeReq(map[string]interface{}{
		"context_length": float64(1000),
		"output_length":  float64(500),
		"model":          "mistral-7b-instruct:free",
	}))
	if err != nil || res.IsError {
		t.Fatalf("HandleCostEstimate: %v %s", err, resultText(res))
	}
	var est catalog.CostEstimate
	if err := json.Unmarshal([]byte(resultText(res)), &est); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if est.Paid.Cost.Total != 0 {
		t.Errorf("free model should cost nothing, got %v", est.Paid.Cost.Total)
	}
	if est.Paid.Tokens.Total != 1500 {
		t.Errorf("tokens = %d, want 1500", est.Paid.Tokens.Total)
	}

	res, err = h.HandleCostEstimate(context.Background(), makeReq(map[string]interface{}{"context_length": float64(10)}))
	if err != nil {
		t.Fatalf("HandleCostEstimate: %v", err)
	}
	if !res.IsError {
		t.Error("missing output_length should be a tool error")
	}
}

func TestProcessCodeTask(t *testing.T) {
	h := newTestHandler(t)
	res, err := h.HandleProcessCodeTask(context.Background(), makeReq(map[string]interface{}{
		"task": "Build a service with database integration, authentication, caching and retry handling across several components for the billing team",
	}))
	if err != nil || res.IsError {
		t.Fatalf("HandleProcessCodeTask: %v %s", err, resultText(res))
	}
	var plan coordinator.Plan
	if err := json.Unmarshal([]byte(resultText(res)), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(plan.Task.Subtasks) == 0 || len(plan.Assignments) != len(plan.Task.Subtasks) {
		t.Errorf("plan has %d subtasks and %d assignments", len(plan.Task.Subtasks), len(plan.Assignments))
	}
	if plan.Visualization == "" {
		t.Error("plan should include a visualization")
	}

	res, err = h.HandleProcessCodeTask(context.Background(), makeReq(map[string]interface{}{"task": ""}))
	if err != nil {
		t.Fatalf("HandleProcessCodeTask: %v", err)
	}
	if !res.IsError {
		t.Error("empty task should be a tool error")
	}
}

func TestListModels(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name string
		args map[string]interface{}
		want []string
	}{
		{"all", map[string]interface{}{}, []string{"anthropic/claude-3.5-sonnet", "llama3:8b", "mistral-7b-instruct:free"}},
		{"free", map[string]interface{}{"free_only": true}, []string{"mistral-7b-instruct:free"}},
		{"local", map[string]interface{}{"provider": "local"}, []string{"llama3:8b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.HandleListModels(context.Background(), makeReq(tt.args))
			if err != nil || res.IsError {
				t.Fatalf("HandleListModels: %v %s", err, resultText(res))
			}
			var models []catalog.Model
			if err := json.Unmarshal([]byte(resultText(res)), &models); err != nil {
				t.Fatalf("decode: %v", err)
			}
			var ids []string
			for _, m := range models {
				ids = append(ids, m.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestResources(t *testing.T) {
	h := newTestHandler(t)

	var req mcp.ReadResourceRequest
	req.Params.URI = "profiles://all"
	contents, err := h.HandleProfiles(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleProfiles: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents)
	if text.URI != "profiles://all" || text.MIMEType != "application/json" {
		t.Errorf("unexpected resource header %+v", text)
	}
	if !strings.Contains(text.Text, `"llama3:8b"`) {
		t.Errorf("profiles resource missing llama3:8b: %s", text.Text)
	}

	req.Params.URI = "models://free"
	contents, err = h.HandleFreeModels(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleFreeModels: %v", err)
	}
	if got := contents[0].(mcp.TextResourceContents).Text; strings.Contains(got, "sonnet") {
		t.Errorf("paid model listed as free: %s", got)
	}
}

func TestToolDefinitions(t *testing.T) {
	h := newTestHandler(t)
	if New(h) == nil {
		t.Fatal("New returned nil")
	}

	tools := map[string]mcp.Tool{
		"route_task":            h.RouteTaskTool(),
		"preemptive_route_task": h.PreemptiveRouteTool(),
		"get_cost_estimate":     h.CostEstimateTool(),
		"process_code_task":     h.ProcessCodeTaskTool(),
		"execute_code_task":     h.ExecuteCodeTaskTool(),
		"list_models":           h.ListModelsTool(),
		"refresh_models":        h.RefreshModelsTool(),
	}
	for name, tool := range tools {
		if tool.Name != name {
			t.Errorf("tool name = %q, want %q", tool.Name, name)
		}
	}

	required := h.CostEstimateTool().InputSchema.Required
	if strings.Join(required, ",") != "context_length,output_length" {
		t.Errorf("get_cost_estimate required = %v", required)
	}
	if _, ok := h.RouteTaskTool().InputSchema.Properties["priority"]; !ok {
		t.Error("route_task is missing the priority parameter")
	}
}
