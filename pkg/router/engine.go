// Package router decides whether a whole task should run on a local model,
// a free hosted model or a paid hosted model.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/decompose"
	"github.com/zen-systems/localroute/pkg/profile"
)

// Engine routes tasks against a model registry and, optionally, the
// performance history of each model.
type Engine struct {
	registry *catalog.Registry
	profiles *profile.DB
	tunables config.Tunables
	defaults config.Defaults
	logger   *zap.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithProfiles enables the benchmark factor.
func WithProfiles(db *profile.DB) Option {
	return func(e *Engine) {
		e.profiles = db
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.Named("router")
		}
	}
}

// New creates an Engine over registry.
func New(registry *catalog.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		tunables: registry.Tunables(),
		defaults: registry.Defaults(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PreemptiveRouting makes a fast decision from thresholds alone. It never
// touches the network: the only catalog input is whether any free model is
// known and whether a local model can hold the request.
func (e *Engine) PreemptiveRouting(p Params) Decision {
	p = e.normalize(p)
	t := newTally(len(e.registry.ListFreeModels()) > 0)
	e.score(t, p)

	d := e.decide(t, p)
	d.Preemptive = true
	return d
}

// RouteTask routes with the full analysis. When the preemptive decision is
// already confident enough it is returned as is.
func (e *Engine) RouteTask(ctx context.Context, p Params) (Decision, error) {
	p = e.normalize(p)

	pre := e.PreemptiveRouting(p)
	if pre.Forced || pre.Confidence >= e.tunables.ShortCircuitConfidence {
		e.logger.Debug("preemptive decision accepted",
			zap.String("provider", string(pre.Provider)),
			zap.Float64("confidence", pre.Confidence))
		pre.Reasons = append(pre.Reasons, "preemptive decision confident enough, full analysis skipped")
		return pre, nil
	}

	report := e.registry.EnsureFresh(ctx)
	if len(report.Failed) > 0 {
		e.logger.Warn("catalog refresh incomplete", zap.Strings("failed", report.Failed))
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, fmt.Errorf("route task: %w", err)
	}

	free := e.fittingFree(p.TotalTokens())
	t := newTally(len(free) > 0)
	e.score(t, p)

	est := e.registry.EstimateCost(p.ContextLength, p.ExpectedOutputLength, e.paidModel(p.Complexity))
	e.costFactor(t, est)
	e.benchmarkFactor(t, p)

	d := e.decide(t, p)
	d.Cost = &est
	e.logger.Debug("routed task",
		zap.String("provider", string(d.Provider)),
		zap.String("model", d.Model),
		zap.Float64("confidence", d.Confidence),
		zap.Float64("local", d.Scores.Local),
		zap.Float64("paid", d.Scores.Paid),
		zap.Float64("free", d.Scores.Free))
	return d, nil
}

func (e *Engine) normalize(p Params) Params {
	if p.ContextLength < 0 {
		p.ContextLength = 0
	}
	if p.ExpectedOutputLength < 0 {
		p.ExpectedOutputLength = 0
	}
	if p.ContextLength == 0 && p.Task != "" {
		p.ContextLength = catalog.EstimateTokens(p.Task)
	}
	if p.Complexity < 0 {
		p.Complexity = decompose.EstimateComplexity(p.Task).Overall
	}
	if p.Complexity > 1 {
		p.Complexity = 1
	}
	return p
}

// score applies the complexity, token and priority factors.
func (e *Engine) score(t *tally, p Params) {
	w := e.tunables.FactorWeights
	th := e.tunables.Complexity

	// Complexity: distance from the medium threshold, scaled into the weight.
	if p.Complexity < th.Medium {
		delta := w.Complexity * (th.Medium - p.Complexity) / th.Medium
		t.add("complexity", SideLocal, w.Complexity, delta)
		t.note("complexity %.2f is below the medium threshold %.2f", p.Complexity, th.Medium)
	} else {
		delta := w.Complexity * (p.Complexity - th.Medium) / (1 - th.Medium)
		t.add("complexity", SidePaid, w.Complexity, delta)
		t.add("complexity", SideFree, w.Complexity, delta/2)
		t.note("complexity %.2f is at or above the medium threshold %.2f", p.Complexity, th.Medium)
	}

	tokens := p.TotalTokens()
	tk := e.tunables.Tokens
	if tokens < tk.Medium {
		delta := w.Tokens * float64(tk.Medium-tokens) / float64(tk.Medium)
		t.add("tokens", SideLocal, w.Tokens, delta)
	} else {
		frac := float64(tokens-tk.Medium) / float64(tk.Large-tk.Medium)
		delta := w.Tokens * math.Min(1, frac)
		t.add("tokens", SidePaid, w.Tokens, delta)
		t.add("tokens", SideFree, w.Tokens, delta)
	}

	switch p.Priority {
	case PrioritySpeed:
		t.add("priority:speed", SidePaid, w.Priority, 0.8*w.Priority)
		t.add("priority:speed", SideFree, w.Priority, 0.4*w.Priority)
	case PriorityCost:
		t.add("priority:cost", SideLocal, w.Priority, 0.8*w.Priority)
		t.add("priority:cost", SideFree, w.Priority, 0.8*w.Priority)
	case PriorityQuality:
		if p.Complexity >= th.Medium {
			t.add("priority:quality", SidePaid, w.Priority, 0.8*w.Priority)
		} else {
			t.add("priority:quality", SidePaid, w.Priority, 0.4*w.Priority)
		}
	}
}

// costFactor compares the paid cost against the local one on a log scale.
// Local and free models cost nothing, so any positive paid cost hits the cap.
func (e *Engine) costFactor(t *tally, est catalog.CostEstimate) {
	paid, local := est.Paid.Cost.Total, est.Local.Cost.Total
	if paid <= local {
		return
	}
	delta := e.tunables.CostCap
	if local > 0 {
		delta = math.Min(e.tunables.CostCap, math.Log10(paid/local)*e.tunables.CostFactor)
	}
	t.add("cost", SideLocal, e.tunables.CostCap, delta)
	t.add("cost", SideFree, e.tunables.CostCap, delta)
	t.note("paid path costs $%.6f against $%.6f locally", paid, local)
}

// benchmarkFactor consults the history of the local candidate.
func (e *Engine) benchmarkFactor(t *tally, p Params) {
	if e.profiles == nil {
		return
	}
	local, ok := e.localModel(p)
	if !ok {
		return
	}
	w := e.tunables.FactorWeights.Benchmark

	if lo, hi, ok := e.profiles.RecommendedRange(local.ID); ok && p.Complexity >= lo && p.Complexity <= hi {
		t.add("benchmark:range", SideLocal, w, w)
		t.note("%s has a good record for complexity %.2f-%.2f", local.ID, lo, hi)
	}

	band := e.profiles.Band(p.Complexity)
	q, ok := e.profiles.BandQuality(local.ID, band)
	switch {
	case !ok:
	case q >= e.tunables.QualityHigh:
		t.add("benchmark:quality", SideLocal, w, w)
	case q < e.tunables.QualityLow:
		t.add("benchmark:quality", SidePaid, w, w)
		t.note("%s scored %.2f on %s tasks", local.ID, q, band)
	}
}

// decide turns the tally into a decision and applies the context-window
// constraint, which overrides every score.
func (e *Engine) decide(t *tally, p Params) Decision {
	provider, conf := t.winner()
	d := Decision{
		Provider:   provider,
		Confidence: conf,
		Scores:     t.scores(),
		Factors:    t.factors,
		Complexity: p.Complexity,
		Reasons:    t.reasons,
	}

	local, localFits := e.localModel(p)
	if !localFits {
		d.Forced = true
		d.Confidence = e.tunables.ForcedPaidConfidence
		d.Provider = catalog.ProviderRemotePaid
		if p.Priority == PriorityCost {
			if free := e.fittingFree(p.TotalTokens()); len(free) > 0 {
				d.Provider = catalog.ProviderRemoteFree
			}
		}
		d.Reasons = append(d.Reasons, fmt.Sprintf("%d tokens exceed every local context window", p.TotalTokens()))
	}

	switch d.Provider {
	case catalog.ProviderLocal:
		d.Model, d.Backend = local.ID, local.Backend
	case catalog.ProviderRemoteFree:
		if free := e.fittingFree(p.TotalTokens()); len(free) > 0 {
			d.Model, d.Backend = free[0].ID, free[0].Backend
		} else {
			d.Provider = catalog.ProviderRemotePaid
		}
	}
	if d.Provider == catalog.ProviderRemotePaid {
		m := e.registry.RemoteModel(e.paidModel(p.Complexity))
		d.Model, d.Backend = m.ID, m.Backend
	}

	d.Candidates = e.candidates(t, p, local, localFits)
	d.Explanation = explain(d, t.factors)
	return d
}

func (e *Engine) candidates(t *tally, p Params, local catalog.Model, localFits bool) []Candidate {
	var out []Candidate
	if localFits {
		out = append(out, Candidate{Provider: catalog.ProviderLocal, Model: local.ID, Score: t.local})
	}
	if free := e.fittingFree(p.TotalTokens()); len(free) > 0 && t.freeAvailable {
		out = append(out, Candidate{Provider: catalog.ProviderRemoteFree, Model: free[0].ID, Score: t.free})
	}
	out = append(out, Candidate{Provider: catalog.ProviderRemotePaid, Model: e.paidModel(p.Complexity), Score: t.paid})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// localModel picks the local model for p: among those whose window holds
// the request, prefer the size tier matching the complexity, then the
// configured default, then the largest window.
func (e *Engine) localModel(p Params) (catalog.Model, bool) {
	models := e.registry.LocalModels()
	if len(models) == 0 {
		models = []catalog.Model{e.registry.DefaultLocalModel()}
	}
	tokens := p.TotalTokens()
	want := e.wantTier(p.Complexity)

	var best catalog.Model
	found := false
	better := func(m catalog.Model) bool {
		if !found {
			return true
		}
		if (m.SizeTier == want) != (best.SizeTier == want) {
			return m.SizeTier == want
		}
		if (m.ID == e.defaults.LocalModel) != (best.ID == e.defaults.LocalModel) {
			return m.ID == e.defaults.LocalModel
		}
		return m.ContextWindow > best.ContextWindow
	}
	for _, m := range models {
		if !m.Fits(tokens) {
			continue
		}
		if better(m) {
			best, found = m, true
		}
	}
	return best, found
}

func (e *Engine) wantTier(c float64) catalog.SizeTier {
	th := e.tunables.Complexity
	switch {
	case c <= th.Simple:
		return catalog.SizeSmall
	case c < th.Complex:
		return catalog.SizeMedium
	default:
		return catalog.SizeLarge
	}
}

// fittingFree returns the free models that hold tokens, code-specialized and
// larger models first.
func (e *Engine) fittingFree(tokens int) []catalog.Model {
	var out []catalog.Model
	for _, m := range e.registry.ListFreeModels() {
		if m.Fits(tokens) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Tags.CodeSpecialized != b.Tags.CodeSpecialized {
			return a.Tags.CodeSpecialized
		}
		return a.ParameterBillions > b.ParameterBillions
	})
	return out
}

func (e *Engine) paidModel(c float64) string {
	if c < e.tunables.Complexity.Medium {
		return e.defaults.RemoteSimpleModel
	}
	return e.defaults.RemoteComplexModel
}
