package selector

import (
	"math"

	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/task"
)

const (
	tierMatchBonus      = 0.1
	localBonus          = 0.1
	lightweightBonus    = 0.05
	codeModelBoost      = 0.05
	instructOtherBoost  = 0.02
	freeCostScore       = 0.8
	paidComplexCost     = 0.7
	paidSimpleCost      = 0.2
	bestPerformingCount = 3
)

// Breakdown holds the four weighted sub-scores of one model for one subtask.
type Breakdown struct {
	ComplexityMatch    float64 `json:"complexity_match"`
	Historical         float64 `json:"historical"`
	ResourceEfficiency float64 `json:"resource_efficiency"`
	CostEffectiveness  float64 `json:"cost_effectiveness"`
	Boost              float64 `json:"boost"`
	Total              float64 `json:"total"`
}

// Score rates model for sub in [0,1].
func (s *Selector) Score(m catalog.Model, sub task.CodeSubtask) float64 {
	return s.Breakdown(m, sub).Total
}

// Breakdown rates model for sub and keeps the sub-scores.
func (s *Selector) Breakdown(m catalog.Model, sub task.CodeSubtask) Breakdown {
	c := task.ClampComplexity(sub.Complexity)
	prof, hasHistory := s.profileFor(m.ID)

	b := Breakdown{
		ComplexityMatch:    s.complexityMatch(m, sub, c, prof, hasHistory),
		Historical:         s.historical(m, c, prof, hasHistory),
		ResourceEfficiency: s.resourceEfficiency(m, sub, prof, hasHistory),
		CostEffectiveness:  s.costEffectiveness(m, c),
	}

	if m.Tags.CodeSpecialized && sub.CodeType != task.CodeOther {
		b.Boost += codeModelBoost
	}
	if m.Tags.Instruct && (sub.CodeType == task.CodeOther || sub.CodeType == "") {
		b.Boost += instructOtherBoost
	}

	w := s.tunables.ScoreWeights
	total := w.ComplexityMatch*b.ComplexityMatch +
		w.Historical*b.Historical +
		w.ResourceEfficiency*b.ResourceEfficiency +
		w.CostEffectiveness*b.CostEffectiveness +
		b.Boost
	b.Total = clamp(total)
	return b
}

func (s *Selector) profileFor(id string) (profile.Profile, bool) {
	if s.profiles == nil {
		return profile.Profile{}, false
	}
	p, ok := s.profiles.Get(id)
	return p, ok && p.BenchmarkCount > 0
}

var tierRank = map[string]int{
	string(task.TierSmall):  0,
	string(task.TierMedium): 1,
	string(task.TierLarge):  2,
	string(task.TierRemote): 3,
}

// modelTierRank places a model on the subtask tier scale. Remote models
// without a size class count as remote-tier.
func modelTierRank(m catalog.Model) (int, bool) {
	if m.SizeTier != catalog.SizeUnknown {
		r, ok := tierRank[string(m.SizeTier)]
		return r, ok
	}
	if m.Provider.IsRemote() {
		return tierRank[string(task.TierRemote)], true
	}
	return 0, false
}

func (s *Selector) complexityMatch(m catalog.Model, sub task.CodeSubtask, c float64, prof profile.Profile, hasHistory bool) float64 {
	score := 0.5
	mr, known := modelTierRank(m)
	if hasHistory {
		score = 1 - math.Abs(prof.ComplexityAffinity-c)
	} else if known {
		score = 1 - math.Abs(float64(mr-tierRank[string(sub.RecommendedTier)]))/3
	}
	if known && string(m.SizeTier) == string(sub.RecommendedTier) {
		score += tierMatchBonus
	}
	return clamp(score)
}

func (s *Selector) historical(m catalog.Model, c float64, prof profile.Profile, hasHistory bool) float64 {
	if !hasHistory {
		score := 0.5
		if m.Tags.CodeSpecialized {
			score += 0.2
		}
		if m.Tags.Instruct {
			score += 0.1
		}
		return clamp(score)
	}

	band := s.profiles.Band(c)
	sr, q := prof.SuccessRate, prof.QualityScore
	if bs, ok := prof.Bands[band]; ok && bs.Count > 0 {
		sr, q = bs.SuccessRate, bs.QualityScore
	}

	score := 0.6 * (sr + q) / 2
	if cohortSR, cohortQ, ok := s.profiles.CohortAverage(band); ok {
		if sr > cohortSR {
			score += 0.15
		}
		if q > cohortQ {
			score += 0.15
		}
	}
	if s.profiles.IsBestPerforming(m.ID, band, bestPerformingCount) {
		score += 0.1
	}
	return clamp(score)
}

func (s *Selector) resourceEfficiency(m catalog.Model, sub task.CodeSubtask, prof profile.Profile, hasHistory bool) float64 {
	t := s.tunables
	w := t.ResourceWeights

	responseTime := 0.5
	if hasHistory && t.ResponseTimeNormMs > 0 {
		responseTime = clamp(1 - prof.AvgResponseTimeMs/t.ResponseTimeNormMs)
	}

	utilization := 0.5
	if m.ContextWindow > 0 && t.IdealContextUtilization > 0 {
		u := float64(sub.EstimatedTokens) / float64(m.ContextWindow)
		utilization = clamp(1 - math.Abs(u-t.IdealContextUtilization)/t.IdealContextUtilization)
	}

	tracked := 0.5
	if hasHistory {
		var sum float64
		var n int
		if prof.TokenEfficiency != nil {
			sum += clamp(*prof.TokenEfficiency)
			n++
		}
		if prof.ResourceUsage != nil {
			sum += 1 - clamp(*prof.ResourceUsage)
			n++
		}
		if n > 0 {
			tracked = sum / float64(n)
		}
	}

	score := w.ResponseTime*responseTime + w.ContextUtilization*utilization + w.Tracked*tracked
	if m.Provider == catalog.ProviderLocal {
		score += localBonus
		if m.Tags.Quantized || m.SizeTier == catalog.SizeSmall {
			score += lightweightBonus
		}
	}
	return clamp(score)
}

func (s *Selector) costEffectiveness(m catalog.Model, c float64) float64 {
	if m.Provider == catalog.ProviderLocal || m.Pricing.IsZero(s.tunables.FreeEpsilon) {
		return freeCostScore
	}
	if c >= s.tunables.Complexity.Complex {
		return paidComplexCost
	}
	return paidSimpleCost
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
