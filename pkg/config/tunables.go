package config

import "time"

// Tunables collects every numeric knob used by the selector, router and
// registry. Zero values are replaced by defaults in applyDefaults.
type Tunables struct {
	Complexity ComplexityThresholds `yaml:"complexity,omitempty"`
	Tokens     TokenThresholds      `yaml:"tokens,omitempty"`

	// ResponseTimeNormMs is the latency at which the response-time score reaches zero.
	ResponseTimeNormMs float64 `yaml:"response_time_norm_ms,omitempty"`

	ResourceWeights ResourceWeights `yaml:"resource_weights,omitempty"`
	ScoreWeights    ScoreWeights    `yaml:"score_weights,omitempty"`
	FactorWeights   FactorWeights   `yaml:"factor_weights,omitempty"`

	// IdealContextUtilization is the fraction of a context window a subtask
	// should ideally occupy.
	IdealContextUtilization float64 `yaml:"ideal_context_utilization,omitempty"`

	CostFactor             float64 `yaml:"cost_factor,omitempty"`
	CostCap                float64 `yaml:"cost_cap,omitempty"`
	ShortCircuitConfidence float64 `yaml:"short_circuit_confidence,omitempty"`
	ForcedPaidConfidence   float64 `yaml:"forced_paid_confidence,omitempty"`
	QualityHigh            float64 `yaml:"quality_high,omitempty"`
	QualityLow             float64 `yaml:"quality_low,omitempty"`

	LoadThreshold         int     `yaml:"load_threshold,omitempty"`
	AlternativeScoreRatio float64 `yaml:"alternative_score_ratio,omitempty"`

	CatalogStaleness time.Duration `yaml:"catalog_staleness,omitempty"`
	HistoryLength    int           `yaml:"history_length,omitempty"`
	MaxConcurrency   int           `yaml:"max_concurrency,omitempty"`
	FreeEpsilon      float64       `yaml:"free_epsilon,omitempty"`
}

// ComplexityThresholds bound the simple/medium/complex complexity bands.
type ComplexityThresholds struct {
	Simple  float64 `yaml:"simple,omitempty"`
	Medium  float64 `yaml:"medium,omitempty"`
	Complex float64 `yaml:"complex,omitempty"`
}

// TokenThresholds bound the small/medium/large token bands.
type TokenThresholds struct {
	Small  int `yaml:"small,omitempty"`
	Medium int `yaml:"medium,omitempty"`
	Large  int `yaml:"large,omitempty"`
}

// ResourceWeights split the resource-efficiency score.
type ResourceWeights struct {
	ResponseTime       float64 `yaml:"response_time,omitempty"`
	ContextUtilization float64 `yaml:"context_utilization,omitempty"`
	Tracked            float64 `yaml:"tracked,omitempty"`
}

// ScoreWeights weight the four selector sub-scores.
type ScoreWeights struct {
	ComplexityMatch    float64 `yaml:"complexity_match,omitempty"`
	Historical         float64 `yaml:"historical,omitempty"`
	ResourceEfficiency float64 `yaml:"resource_efficiency,omitempty"`
	CostEffectiveness  float64 `yaml:"cost_effectiveness,omitempty"`
}

// FactorWeights weight the routing factors.
type FactorWeights struct {
	Complexity float64 `yaml:"complexity,omitempty"`
	Tokens     float64 `yaml:"tokens,omitempty"`
	Priority   float64 `yaml:"priority,omitempty"`
	Benchmark  float64 `yaml:"benchmark,omitempty"`
}

// Defaults names the fallback models and call policy.
type Defaults struct {
	LocalModel         string        `yaml:"local_model,omitempty"`
	LocalContextWindow int           `yaml:"local_context_window,omitempty"`
	RemoteSimpleModel  string        `yaml:"remote_simple_model,omitempty"`
	RemoteComplexModel string        `yaml:"remote_complex_model,omitempty"`
	DecompositionModel string        `yaml:"decomposition_model,omitempty"`
	SynthesisModel     string        `yaml:"synthesis_model,omitempty"`
	CallTimeout        time.Duration `yaml:"call_timeout,omitempty"`
	Retry              RetryConfig   `yaml:"retry,omitempty"`
}

// RetryConfig defines retry and backoff behavior.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// PricingConfig maps model id -> pricing override.
type PricingConfig map[string]ModelPricing

// ModelPricing defines per-1k token pricing.
type ModelPricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty"`
}

// DefaultTunables returns the tunables with every default applied.
func DefaultTunables() Tunables {
	var t Tunables
	t.applyDefaults()
	return t
}

// DefaultDefaults returns the default model and call policy settings.
func DefaultDefaults() Defaults {
	var d Defaults
	d.applyDefaults()
	return d
}

func (t *Tunables) applyDefaults() {
	setFloat(&t.Complexity.Simple, 0.3)
	setFloat(&t.Complexity.Medium, 0.6)
	setFloat(&t.Complexity.Complex, 0.8)
	setInt(&t.Tokens.Small, 500)
	setInt(&t.Tokens.Medium, 2000)
	setInt(&t.Tokens.Large, 8000)
	setFloat(&t.ResponseTimeNormMs, 15000)

	setFloat(&t.ResourceWeights.ResponseTime, 0.3)
	setFloat(&t.ResourceWeights.ContextUtilization, 0.4)
	setFloat(&t.ResourceWeights.Tracked, 0.3)

	setFloat(&t.ScoreWeights.ComplexityMatch, 0.30)
	setFloat(&t.ScoreWeights.Historical, 0.25)
	setFloat(&t.ScoreWeights.ResourceEfficiency, 0.25)
	setFloat(&t.ScoreWeights.CostEffectiveness, 0.20)

	setFloat(&t.FactorWeights.Complexity, 0.3)
	setFloat(&t.FactorWeights.Tokens, 0.2)
	setFloat(&t.FactorWeights.Priority, 0.3)
	setFloat(&t.FactorWeights.Benchmark, 0.1)

	setFloat(&t.IdealContextUtilization, 0.7)
	setFloat(&t.CostFactor, 0.1)
	setFloat(&t.CostCap, 0.3)
	setFloat(&t.ShortCircuitConfidence, 0.7)
	setFloat(&t.ForcedPaidConfidence, 0.9)
	setFloat(&t.QualityHigh, 0.8)
	setFloat(&t.QualityLow, 0.7)
	setInt(&t.LoadThreshold, 3)
	setFloat(&t.AlternativeScoreRatio, 0.85)

	if t.CatalogStaleness <= 0 {
		t.CatalogStaleness = 24 * time.Hour
	}
	setInt(&t.HistoryLength, 10)
	setInt(&t.MaxConcurrency, 4)
	setFloat(&t.FreeEpsilon, 1e-9)
}

func (d *Defaults) applyDefaults() {
	if d.LocalModel == "" {
		d.LocalModel = "llama3:8b"
	}
	setInt(&d.LocalContextWindow, 8192)
	if d.RemoteSimpleModel == "" {
		d.RemoteSimpleModel = "anthropic/claude-3-haiku"
	}
	if d.RemoteComplexModel == "" {
		d.RemoteComplexModel = "anthropic/claude-3.5-sonnet"
	}
	if d.DecompositionModel == "" {
		d.DecompositionModel = d.LocalModel
	}
	if d.SynthesisModel == "" {
		d.SynthesisModel = d.LocalModel
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 60 * time.Second
	}
	if d.Retry.MaxRetries == 0 {
		d.Retry.MaxRetries = 2
	}
	if d.Retry.BaseBackoffMs == 0 {
		d.Retry.BaseBackoffMs = 200
	}
	if d.Retry.MaxBackoffMs == 0 {
		d.Retry.MaxBackoffMs = 2000
	}
	if d.Retry.MaxBackoffMs < d.Retry.BaseBackoffMs {
		d.Retry.MaxBackoffMs = d.Retry.BaseBackoffMs
	}
}

func setFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
