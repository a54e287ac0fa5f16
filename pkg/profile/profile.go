// Package profile tracks rolling performance statistics per model.
package profile

import (
	"time"

	"github.com/zen-systems/localroute/pkg/config"
)

// Band is a complexity band.
type Band string

const (
	BandSimple      Band = "simple"
	BandMedium      Band = "medium"
	BandComplex     Band = "complex"
	BandVeryComplex Band = "very-complex"
)

// Bands lists every band in ascending complexity.
var Bands = []Band{BandSimple, BandMedium, BandComplex, BandVeryComplex}

// BandFor maps a complexity score to its band.
func BandFor(complexity float64, th config.ComplexityThresholds) Band {
	switch {
	case complexity <= th.Simple:
		return BandSimple
	case complexity <= th.Medium:
		return BandMedium
	case complexity <= th.Complex:
		return BandComplex
	default:
		return BandVeryComplex
	}
}

// BandBounds returns the complexity interval covered by a band.
func BandBounds(b Band, th config.ComplexityThresholds) (lo, hi float64) {
	switch b {
	case BandSimple:
		return 0, th.Simple
	case BandMedium:
		return th.Simple, th.Medium
	case BandComplex:
		return th.Medium, th.Complex
	default:
		return th.Complex, 1
	}
}

// Execution is one tracked model run.
type Execution struct {
	Complexity      float64   `json:"complexity"`
	Success         bool      `json:"success"`
	Quality         float64   `json:"quality"`
	ResponseTimeMs  float64   `json:"response_time_ms"`
	TokensUsed      int       `json:"tokens_used"`
	TokenEfficiency *float64  `json:"token_efficiency,omitempty"`
	ResourceUsage   *float64  `json:"resource_usage,omitempty"`
	At              time.Time `json:"at"`
}

// BandStats are rolling statistics restricted to one complexity band.
type BandStats struct {
	Count        int     `json:"count"`
	SuccessRate  float64 `json:"success_rate"`
	QualityScore float64 `json:"quality_score"`
}

// Profile holds the rolling statistics of one model. Every rolling value is
// a running average (old*n + sample)/(n+1) where n is BenchmarkCount before
// the update. The optional signals count their own samples instead.
type Profile struct {
	ModelID            string             `json:"model_id"`
	SuccessRate        float64            `json:"success_rate"`
	QualityScore       float64            `json:"quality_score"`
	AvgResponseTimeMs  float64            `json:"avg_response_time_ms"`
	ComplexityAffinity float64            `json:"complexity_affinity"`
	BenchmarkCount     int                `json:"benchmark_count"`
	TokenEfficiency    *float64           `json:"token_efficiency,omitempty"`
	TokenSamples       int                `json:"token_efficiency_samples,omitempty"`
	ResourceUsage      *float64           `json:"resource_usage,omitempty"`
	ResourceSamples    int                `json:"resource_usage_samples,omitempty"`
	Recent             []Execution        `json:"recent,omitempty"`
	Bands              map[Band]BandStats `json:"bands,omitempty"`
	LastUpdated        time.Time          `json:"last_updated"`
}

// QualityFor returns the quality proxy of a run: 1 for a successful
// non-empty result, 0 otherwise.
func QualityFor(success bool, output string) float64 {
	if success && output != "" {
		return 1
	}
	return 0
}

func rolling(old float64, n int, sample float64) float64 {
	return (old*float64(n) + sample) / float64(n+1)
}

// rollingPtr averages an optional signal over its own sample count n.
func rollingPtr(old *float64, n *int, sample *float64) *float64 {
	if sample == nil {
		return old
	}
	if old == nil {
		*n = 0
	} else if *n == 0 {
		*n = 1
	}
	v := rolling(derefOr(old, 0), *n, *sample)
	*n++
	return &v
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// apply folds one execution into the profile.
func (p *Profile) apply(e Execution, th config.ComplexityThresholds, historyLen int) {
	n := p.BenchmarkCount
	success := 0.0
	affinity := e.Complexity / 2
	if e.Success {
		success = 1
		affinity = e.Complexity
	}

	p.SuccessRate = rolling(p.SuccessRate, n, success)
	p.QualityScore = rolling(p.QualityScore, n, e.Quality)
	p.AvgResponseTimeMs = rolling(p.AvgResponseTimeMs, n, e.ResponseTimeMs)
	p.ComplexityAffinity = rolling(p.ComplexityAffinity, n, affinity)
	p.TokenEfficiency = rollingPtr(p.TokenEfficiency, &p.TokenSamples, e.TokenEfficiency)
	p.ResourceUsage = rollingPtr(p.ResourceUsage, &p.ResourceSamples, e.ResourceUsage)
	p.BenchmarkCount = n + 1

	if p.Bands == nil {
		p.Bands = make(map[Band]BandStats)
	}
	band := BandFor(e.Complexity, th)
	bs := p.Bands[band]
	bs.SuccessRate = rolling(bs.SuccessRate, bs.Count, success)
	bs.QualityScore = rolling(bs.QualityScore, bs.Count, e.Quality)
	bs.Count++
	p.Bands[band] = bs

	p.Recent = append(p.Recent, e)
	if historyLen > 0 && len(p.Recent) > historyLen {
		p.Recent = append([]Execution(nil), p.Recent[len(p.Recent)-historyLen:]...)
	}
	p.LastUpdated = e.At
}

func (p Profile) clone() Profile {
	out := p
	if p.TokenEfficiency != nil {
		v := *p.TokenEfficiency
		out.TokenEfficiency = &v
	}
	if p.ResourceUsage != nil {
		v := *p.ResourceUsage
		out.ResourceUsage = &v
	}
	out.Recent = append([]Execution(nil), p.Recent...)
	if p.Bands != nil {
		out.Bands = make(map[Band]BandStats, len(p.Bands))
		for k, v := range p.Bands {
			out.Bands[k] = v
		}
	}
	return out
}
