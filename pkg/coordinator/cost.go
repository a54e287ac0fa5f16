package coordinator

import (
	"sync"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/catalog"
)

// SubtaskCost is the estimate for one subtask under its assignment.
type SubtaskCost struct {
	SubtaskID string               `json:"subtask_id"`
	ModelID   string               `json:"model_id"`
	Provider  catalog.ProviderKind `json:"provider"`
	Estimate  catalog.CostEstimate `json:"estimate"`
	Assigned  float64              `json:"assigned"`
}

// PlanCost sums the per-subtask estimates over each execution path.
// Assigned is what the plan costs with the models it actually chose.
type PlanCost struct {
	Subtasks []SubtaskCost       `json:"subtasks"`
	Local    float64             `json:"local"`
	Paid     float64             `json:"paid"`
	Assigned float64             `json:"assigned"`
	Tokens   catalog.TokenCounts `json:"tokens"`
	Currency string              `json:"currency"`
}

// splitTokens divides a subtask's estimate into prompt and completion.
// Prompts carry the task and dependency context, so they take the larger half.
func splitTokens(total int) (prompt, completion int) {
	completion = total / 2
	return total - completion, completion
}

func (c *Coordinator) estimatePlanCost(p *Plan) PlanCost {
	out := PlanCost{Currency: "USD"}
	for _, st := range p.Task.Subtasks {
		prompt, completion := splitTokens(st.EstimatedTokens)
		sc := SubtaskCost{SubtaskID: st.ID}

		remote := ""
		if a, ok := p.Assignment(st.ID); ok {
			sc.ModelID, sc.Provider = a.ModelID, a.Provider
			if a.Provider.IsRemote() {
				remote = a.ModelID
			}
		}
		sc.Estimate = c.registry.EstimateCost(prompt, completion, remote)
		if sc.Provider.IsRemote() {
			sc.Assigned = sc.Estimate.Paid.Cost.Total
		}

		out.Subtasks = append(out.Subtasks, sc)
		out.Local += sc.Estimate.Local.Cost.Total
		out.Paid += sc.Estimate.Paid.Cost.Total
		out.Assigned += sc.Assigned
		out.Tokens.Prompt += prompt
		out.Tokens.Completion += completion
	}
	out.Tokens.Total = out.Tokens.Prompt + out.Tokens.Completion
	return out
}

// RunCost is the actual spend of an execution, from reported usage.
type RunCost struct {
	Usage    adapter.Usage `json:"usage"`
	Amount   float64       `json:"amount"`
	Currency string        `json:"currency"`
	Calls    int           `json:"calls"`
}

// costTracker accumulates usage across concurrent calls.
type costTracker struct {
	registry *catalog.Registry
	mu       sync.Mutex
	cost     RunCost
}

func newCostTracker(registry *catalog.Registry) *costTracker {
	return &costTracker{registry: registry, cost: RunCost{Currency: "USD"}}
}

func (t *costTracker) record(modelID string, usage *adapter.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cost.Calls++
	if usage == nil {
		return
	}
	t.cost.Usage.PromptTokens += usage.PromptTokens
	t.cost.Usage.CompletionTokens += usage.CompletionTokens
	t.cost.Usage.TotalTokens += usage.TotalTokens
	if m, ok := t.registry.Get(modelID); ok {
		t.cost.Amount += float64(usage.PromptTokens)*m.Pricing.Prompt + float64(usage.CompletionTokens)*m.Pricing.Completion
	}
}

func (t *costTracker) report() RunCost {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}
