// Package selector scores candidate models against subtasks and assigns
// each subtask a model.
package selector

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/task"
)

// Assignment is the model chosen for one subtask.
type Assignment struct {
	SubtaskID string               `json:"subtask_id"`
	ModelID   string               `json:"model_id"`
	Backend   string               `json:"backend"`
	Provider  catalog.ProviderKind `json:"provider"`
	Score     float64              `json:"score"`
	Fallback  bool                 `json:"fallback,omitempty"`
	Reason    string               `json:"reason"`
}

// Thresholds are the acceptance bars for one complexity level.
type Thresholds struct {
	MinScore    float64 `json:"min_score"`
	PreferLocal float64 `json:"prefer_local"`
}

// Selector picks models for subtasks from the registry.
type Selector struct {
	registry *catalog.Registry
	profiles *profile.DB
	tunables config.Tunables
	defaults config.Defaults
	logger   *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithProfiles enables history-based scoring.
func WithProfiles(db *profile.DB) Option {
	return func(s *Selector) {
		s.profiles = db
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger.Named("selector")
		}
	}
}

// New creates a Selector over registry, taking tunables and defaults from it.
func New(registry *catalog.Registry, opts ...Option) *Selector {
	s := &Selector{
		registry: registry,
		tunables: registry.Tunables(),
		defaults: registry.Defaults(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ThresholdsFor returns the adaptive bars for a complexity: complex tasks
// demand more before accepting a model or preferring a local one.
func (s *Selector) ThresholdsFor(complexity float64) Thresholds {
	switch {
	case complexity >= s.tunables.Complexity.Medium:
		return Thresholds{MinScore: 0.6, PreferLocal: 0.75}
	case complexity <= s.tunables.Complexity.Simple:
		return Thresholds{MinScore: 0.4, PreferLocal: 0.55}
	default:
		return Thresholds{MinScore: 0.5, PreferLocal: 0.65}
	}
}

// Candidates returns local and free remote models whose context window
// fits the subtask. Unknown windows are assumed to fit.
func (s *Selector) Candidates(sub task.CodeSubtask) []catalog.Model {
	pool := append(s.registry.LocalModels(), s.registry.ListFreeModels()...)
	out := pool[:0]
	for _, m := range pool {
		if m.Fits(sub.EstimatedTokens) {
			out = append(out, m)
		}
	}
	return out
}

type scored struct {
	model catalog.Model
	score float64
}

func (s *Selector) rank(sub task.CodeSubtask) []scored {
	cands := s.Candidates(sub)
	out := make([]scored, 0, len(cands))
	for _, m := range cands {
		out = append(out, scored{model: m, score: s.Score(m, sub)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].model.ID < out[j].model.ID
	})
	return out
}

// FindBestModelForSubtask picks the model for sub. A local model clearing
// the prefer-local bar wins even over a higher-scoring remote one; otherwise
// the top scorer wins if it clears the minimum. When nothing qualifies the
// tier fallback applies.
func (s *Selector) FindBestModelForSubtask(sub task.CodeSubtask) Assignment {
	ranked := s.rank(sub)
	th := s.ThresholdsFor(sub.Complexity)

	for _, r := range ranked {
		if r.model.Provider != catalog.ProviderLocal {
			continue
		}
		if r.score >= th.PreferLocal {
			return s.assign(sub, r.model, r.score, false,
				fmt.Sprintf("local model scored %.2f, above prefer-local bar %.2f", r.score, th.PreferLocal))
		}
		break
	}

	if len(ranked) > 0 && ranked[0].score >= th.MinScore {
		top := ranked[0]
		return s.assign(sub, top.model, top.score, false,
			fmt.Sprintf("best score %.2f of %d candidates", top.score, len(ranked)))
	}

	m := s.FallbackModel(sub.RecommendedTier, sub.EstimatedTokens)
	reason := fmt.Sprintf("no candidate reached %.2f, %s tier fallback", th.MinScore, sub.RecommendedTier)
	if len(ranked) == 0 {
		reason = fmt.Sprintf("no candidate fits %d tokens, %s tier fallback", sub.EstimatedTokens, sub.RecommendedTier)
	}
	s.logger.Debug("using fallback model",
		zap.String("subtask", sub.ID), zap.String("model", m.ID), zap.String("reason", reason))
	return s.assign(sub, m, s.Score(m, sub), true, reason)
}

// FallbackModel is the deterministic tier default. Small uses the default
// local model, medium any local model, large and remote the default complex
// remote model. A local choice that cannot hold tokens moves to remote.
func (s *Selector) FallbackModel(tier task.Tier, tokens int) catalog.Model {
	switch tier {
	case task.TierSmall:
		if m := s.registry.DefaultLocalModel(); m.Fits(tokens) {
			return m
		}
	case task.TierMedium:
		def := s.registry.DefaultLocalModel()
		if def.Fits(tokens) && def.SizeTier == catalog.SizeMedium {
			return def
		}
		var fit *catalog.Model
		for _, m := range s.registry.LocalModels() {
			if !m.Fits(tokens) {
				continue
			}
			if m.SizeTier == catalog.SizeMedium {
				return m
			}
			if fit == nil {
				mm := m
				fit = &mm
			}
		}
		if fit != nil {
			return *fit
		}
		if def.Fits(tokens) {
			return def
		}
	}
	return s.registry.RemoteModel(s.defaults.RemoteComplexModel)
}

func (s *Selector) assign(sub task.CodeSubtask, m catalog.Model, score float64, fallback bool, reason string) Assignment {
	return Assignment{
		SubtaskID: sub.ID,
		ModelID:   m.ID,
		Backend:   m.Backend,
		Provider:  m.Provider,
		Score:     score,
		Fallback:  fallback,
		Reason:    reason,
	}
}

type groupKey struct {
	tier       task.Tier
	complexity float64
}

// SelectModelsForSubtasks assigns a model to every subtask, in input order.
// In resource-efficient mode subtasks sharing a tier and a complexity
// rounded to 0.1 share one model, chosen for the group's most complex
// member and sized for its largest token estimate.
func (s *Selector) SelectModelsForSubtasks(subtasks []task.CodeSubtask, resourceEfficient bool) []Assignment {
	out := make([]Assignment, len(subtasks))
	if !resourceEfficient {
		for i, sub := range subtasks {
			out[i] = s.FindBestModelForSubtask(sub)
		}
		return out
	}

	groups := make(map[groupKey][]int)
	var order []groupKey
	for i, sub := range subtasks {
		k := groupKey{tier: sub.RecommendedTier, complexity: math.Round(sub.Complexity*10) / 10}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	for _, k := range order {
		members := groups[k]
		rep := subtasks[members[0]]
		maxTokens := 0
		for _, i := range members {
			if subtasks[i].Complexity > rep.Complexity {
				rep = subtasks[i]
			}
			if subtasks[i].EstimatedTokens > maxTokens {
				maxTokens = subtasks[i].EstimatedTokens
			}
		}
		rep.EstimatedTokens = maxTokens
		shared := s.FindBestModelForSubtask(rep)
		for _, i := range members {
			a := shared
			a.SubtaskID = subtasks[i].ID
			if len(members) > 1 {
				a.Reason = fmt.Sprintf("%s (shared by %d subtasks)", shared.Reason, len(members))
			}
			out[i] = a
		}
	}
	return out
}

// OptimizeResourceUsage computes each subtask's ideal model, then walks the
// subtasks most complex first and moves any whose ideal model already
// carries more than the load threshold to the best alternative scoring at
// least the alternative ratio of the ideal score with a lower load.
func (s *Selector) OptimizeResourceUsage(subtasks []task.CodeSubtask) []Assignment {
	ideal := make([]Assignment, len(subtasks))
	for i, sub := range subtasks {
		ideal[i] = s.FindBestModelForSubtask(sub)
	}

	idx := make([]int, len(subtasks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return subtasks[idx[a]].Complexity > subtasks[idx[b]].Complexity
	})

	load := make(map[string]int)
	out := make([]Assignment, len(subtasks))
	for _, i := range idx {
		sub := subtasks[i]
		chosen := ideal[i]
		if load[chosen.ModelID] > s.tunables.LoadThreshold {
			if alt, ok := s.alternative(sub, chosen, load); ok {
				s.logger.Debug("rebalanced subtask",
					zap.String("subtask", sub.ID), zap.String("from", chosen.ModelID), zap.String("to", alt.ModelID))
				chosen = alt
			}
		}
		load[chosen.ModelID]++
		out[i] = chosen
	}
	return out
}

func (s *Selector) alternative(sub task.CodeSubtask, ideal Assignment, load map[string]int) (Assignment, bool) {
	floor := ideal.Score * s.tunables.AlternativeScoreRatio
	for _, r := range s.rank(sub) {
		if r.model.ID == ideal.ModelID || r.score < floor || load[r.model.ID] >= load[ideal.ModelID] {
			continue
		}
		return s.assign(sub, r.model, r.score, false,
			fmt.Sprintf("rebalanced from %s (load %d), score %.2f", ideal.ModelID, load[ideal.ModelID], r.score)), true
	}
	return Assignment{}, false
}
