package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/task"
)

// Integration risk factors scored from keyword patterns.
const (
	FactorSystemInteractions  = "system_interactions"
	FactorDataTransformations = "data_transformations"
	FactorStateManagement     = "state_management"
	FactorErrorHandling       = "error_handling"
	FactorSecurity            = "security"
)

var integrationPatterns = map[string][]string{
	FactorSystemInteractions: {
		"api", "database", "db", "http", "service", "microservice", "network", "external",
		"integrate", "integration", "queue", "socket", "grpc", "rest", "webhook", "endpoint",
	},
	FactorDataTransformations: {
		"parse", "parser", "transform", "convert", "serialize", "deserialize", "json", "xml",
		"csv", "yaml", "format", "aggregate", "migrate", "migration", "schema", "encode", "decode",
	},
	FactorStateManagement: {
		"state", "cache", "session", "store", "persist", "transaction", "concurrent",
		"concurrency", "sync", "lock", "mutex", "race", "stateful",
	},
	FactorErrorHandling: {
		"error", "errors", "retry", "fallback", "exception", "recover", "timeout", "validate",
		"validation", "rollback", "resilient", "fault",
	},
	FactorSecurity: {
		"auth", "authentication", "authorization", "encrypt", "encryption", "token", "password",
		"permission", "secure", "security", "oauth", "jwt", "sanitize", "csrf", "xss",
	},
}

var integrationOrder = []string{
	FactorSystemInteractions, FactorDataTransformations, FactorStateManagement,
	FactorErrorHandling, FactorSecurity,
}

var (
	algorithmicKeywords = []string{
		"algorithm", "optimize", "optimization", "recursive", "recursion", "graph", "tree",
		"dynamic programming", "parallel", "distributed", "scheduler", "compiler", "search",
		"sort", "performance", "scalable",
	}
	scopeKeywords = []string{
		"system", "architecture", "framework", "multiple", "several", "entire", "full",
		"complete", "end-to-end", "platform", "pipeline", "application", "module", "library",
	}
	simpleKeywords = []string{
		"simple", "basic", "small", "single", "trivial", "hello world", "one-liner", "quick",
	}
)

// matchCount counts distinct keywords found on word boundaries.
func matchCount(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if containsWord(text, kw) {
			n++
		}
	}
	return n
}

func containsWord(text, word string) bool {
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)
		if (start == 0 || !isWordChar(text[start-1])) && (end == len(text) || !isWordChar(text[end])) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}

// stepScore maps a keyword hit count onto [0,1].
func stepScore(hits int) float64 {
	switch {
	case hits <= 0:
		return 0
	case hits == 1:
		return 0.4
	case hits == 2:
		return 0.7
	default:
		return 1
	}
}

// IntegrationFactors scores the five integration risk factors of a task
// from keyword patterns.
func IntegrationFactors(text string) map[string]float64 {
	lower := strings.ToLower(text)
	out := make(map[string]float64, len(integrationOrder))
	for _, name := range integrationOrder {
		out[name] = stepScore(matchCount(lower, integrationPatterns[name]))
	}
	return out
}

// patternIntegration folds the factor scores into one value: the mean of
// the strongest factor and the average factor.
func patternIntegration(factors map[string]float64) float64 {
	if len(factors) == 0 {
		return 0
	}
	peak, sum := 0.0, 0.0
	for _, v := range factors {
		sum += v
		if v > peak {
			peak = v
		}
	}
	return (peak + sum/float64(len(factors))) / 2
}

// EstimateComplexity is the pattern-only complexity estimate. It makes no
// model calls.
func EstimateComplexity(text string) task.ComplexityAnalysis {
	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))

	factors := map[string]float64{
		"length":      math.Min(1, float64(words)/150),
		"algorithmic": stepScore(matchCount(lower, algorithmicKeywords)),
		"scope":       stepScore(matchCount(lower, scopeKeywords)),
	}
	integ := IntegrationFactors(text)
	integration := patternIntegration(integ)
	factors["integration"] = integration

	overall := 0.25*factors["length"] + 0.3*factors["algorithmic"] + 0.25*factors["scope"] + 0.2*integration
	if matchCount(lower, simpleKeywords) > 0 {
		overall -= 0.1
	}
	overall = finalOverall(overall, integration)

	return task.ComplexityAnalysis{
		Overall:            overall,
		Factors:            factors,
		IntegrationFactors: integ,
		Integration:        integration,
		Source:             "heuristic",
	}
}

// finalOverall lets a strong integration risk lift the overall score.
func finalOverall(overall, integration float64) float64 {
	if lifted := 0.9 * integration; lifted > overall {
		overall = lifted
	}
	return task.ClampComplexity(overall)
}

type modelAnalysis struct {
	Overall     *float64 `json:"overall"`
	Algorithmic float64  `json:"algorithmic"`
	Scope       float64  `json:"scope"`
	Integration float64  `json:"integration"`
	Reasoning   string   `json:"reasoning"`
}

// AnalyzeComplexity combines a model-driven analysis with the pattern
// estimate. The integration factor is the larger of the two independent
// integration estimates. Without a model, or when the model call or its
// parsing fails, the pattern estimate stands alone.
func (d *Decomposer) AnalyzeComplexity(ctx context.Context, text string) task.ComplexityAnalysis {
	heuristic := EstimateComplexity(text)
	if d.caller == nil {
		return heuristic
	}

	prompt := fmt.Sprintf(`Rate the implementation complexity of this coding task.

Task: %s

Return ONLY a JSON object with numbers between 0 and 1:
{"overall": 0.5, "algorithmic": 0.5, "scope": 0.5, "integration": 0.5, "reasoning": "one sentence"}`, text)

	res := d.caller.Call(ctx, d.target, prompt, d.timeout)
	if !res.Success {
		d.logger.Warn("complexity analysis call failed, using pattern estimate",
			zap.String("target", d.target.String()), zap.String("kind", string(res.ErrorKind)))
		return heuristic
	}

	var ma modelAnalysis
	if err := json.Unmarshal([]byte(extractObject(res.Text)), &ma); err != nil || ma.Overall == nil {
		d.logger.Warn("complexity analysis unparsable, using pattern estimate", zap.Error(err))
		return heuristic
	}

	integration := math.Max(task.ClampComplexity(ma.Integration), heuristic.Integration)
	overall := 0.6*task.ClampComplexity(*ma.Overall) + 0.4*heuristic.Overall

	factors := make(map[string]float64, len(heuristic.Factors))
	for k, v := range heuristic.Factors {
		factors[k] = v
	}
	factors["algorithmic"] = math.Max(factors["algorithmic"], task.ClampComplexity(ma.Algorithmic))
	factors["scope"] = math.Max(factors["scope"], task.ClampComplexity(ma.Scope))
	factors["integration"] = integration

	return task.ComplexityAnalysis{
		Overall:            finalOverall(overall, integration),
		Factors:            factors,
		IntegrationFactors: heuristic.IntegrationFactors,
		Integration:        integration,
		Reasoning:          ma.Reasoning,
		Source:             "model",
	}
}
