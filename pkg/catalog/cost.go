package catalog

import "fmt"

// fallbackPaidPricing prices remote models the catalog has not seen.
var fallbackPaidPricing = Pricing{Prompt: 3.0 / 1e6, Completion: 15.0 / 1e6}

// TokenCounts are the token totals of one execution path.
type TokenCounts struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// CostBreakdown is the cost of one execution path.
type CostBreakdown struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
	Total      float64 `json:"total"`
	Currency   string  `json:"currency"`
}

// PathCost pairs token counts and cost.
type PathCost struct {
	Model  string        `json:"model"`
	Tokens TokenCounts   `json:"tokens"`
	Cost   CostBreakdown `json:"cost"`
}

// CostEstimate compares running on the local path and the paid path.
type CostEstimate struct {
	Local PathCost `json:"local"`
	Paid  PathCost `json:"paid"`
	Note  string   `json:"note,omitempty"`
}

// EstimateCost prices contextTokens of prompt and outputTokens of completion
// on the default local model and on a remote model. modelID selects the
// remote model; empty means the default complex remote model.
func (r *Registry) EstimateCost(contextTokens, outputTokens int, modelID string) CostEstimate {
	if contextTokens < 0 {
		contextTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	tokens := TokenCounts{Prompt: contextTokens, Completion: outputTokens, Total: contextTokens + outputTokens}

	est := CostEstimate{
		Local: PathCost{
			Model:  r.DefaultLocalModel().ID,
			Tokens: tokens,
			Cost:   CostBreakdown{Currency: "USD"},
		},
	}

	paid := r.RemoteModel(r.defaults.RemoteComplexModel)
	if modelID != "" {
		if m, ok := r.Get(modelID); ok {
			paid = m
		} else {
			est.Note = fmt.Sprintf("model %s not in catalog, priced as %s", modelID, paid.ID)
		}
	}
	est.Paid = priceFor(paid, tokens)
	return est
}

func priceFor(m Model, tokens TokenCounts) PathCost {
	prompt := float64(tokens.Prompt) * m.Pricing.Prompt
	completion := float64(tokens.Completion) * m.Pricing.Completion
	return PathCost{
		Model:  m.ID,
		Tokens: tokens,
		Cost: CostBreakdown{
			Prompt:     prompt,
			Completion: completion,
			Total:      prompt + completion,
			Currency:   "USD",
		},
	}
}

// EstimateTokens approximates the token count of text at four characters
// per token, with a floor of one token for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
