package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/localroute/pkg/catalog"
)

// Priority is the caller's routing preference.
type Priority string

const (
	PrioritySpeed    Priority = "speed"
	PriorityCost     Priority = "cost"
	PriorityQuality  Priority = "quality"
	PriorityBalanced Priority = ""
)

// ParsePriority accepts speed, cost, quality or empty.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PrioritySpeed, PriorityCost, PriorityQuality, PriorityBalanced:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q (want speed, cost or quality)", s)
	}
}

// Params describe one whole-task routing request. A negative Complexity
// means unknown; it is then estimated from the task text.
type Params struct {
	Task                 string   `json:"task"`
	ContextLength        int      `json:"context_length"`
	ExpectedOutputLength int      `json:"expected_output_length"`
	Complexity           float64  `json:"complexity"`
	Priority             Priority `json:"priority"`
}

// TotalTokens is the context plus the expected output.
func (p Params) TotalTokens() int {
	return p.ContextLength + p.ExpectedOutputLength
}

// Sides a factor can favor.
const (
	SideLocal = "local"
	SidePaid  = "paid"
	SideFree  = "free"
)

// Factor records one scoring increment.
type Factor struct {
	Name   string  `json:"name"`
	Side   string  `json:"side"`
	Weight float64 `json:"weight"`
	Delta  float64 `json:"delta"`
}

// Scores are the competing raw scores. Free is zero when no free model is
// available.
type Scores struct {
	Local float64 `json:"local"`
	Paid  float64 `json:"paid"`
	Free  float64 `json:"free"`
}

// Candidate is one model the decision considered.
type Candidate struct {
	Provider catalog.ProviderKind `json:"provider"`
	Model    string               `json:"model"`
	Score    float64              `json:"score"`
}

// Decision is the outcome of one routing request.
type Decision struct {
	Provider    catalog.ProviderKind  `json:"provider"`
	Model       string                `json:"model"`
	Backend     string                `json:"backend"`
	Confidence  float64               `json:"confidence"`
	Explanation string                `json:"explanation"`
	Scores      Scores                `json:"scores"`
	Factors     []Factor              `json:"factors"`
	Candidates  []Candidate           `json:"candidates,omitempty"`
	Complexity  float64               `json:"complexity"`
	Preemptive  bool                  `json:"preemptive"`
	Forced      bool                  `json:"forced,omitempty"`
	Reasons     []string              `json:"reasons,omitempty"`
	Cost        *catalog.CostEstimate `json:"cost,omitempty"`
}

// tally accumulates the three tracks.
type tally struct {
	local, paid, free float64
	freeAvailable     bool
	factors           []Factor
	reasons           []string
}

func newTally(freeAvailable bool) *tally {
	t := &tally{local: 0.5, paid: 0.5, freeAvailable: freeAvailable}
	if freeAvailable {
		t.free = 0.5
	}
	return t
}

func (t *tally) add(name, side string, weight, delta float64) {
	if delta == 0 {
		return
	}
	switch side {
	case SideLocal:
		t.local += delta
	case SidePaid:
		t.paid += delta
	case SideFree:
		if !t.freeAvailable {
			return
		}
		t.free += delta
	}
	t.factors = append(t.factors, Factor{Name: name, Side: side, Weight: weight, Delta: delta})
}

func (t *tally) note(format string, args ...any) {
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
}

// winner returns the best side and the confidence: the gap to the runner
// up, capped at 1.
func (t *tally) winner() (catalog.ProviderKind, float64) {
	type side struct {
		kind  catalog.ProviderKind
		score float64
	}
	sides := []side{{catalog.ProviderLocal, t.local}, {catalog.ProviderRemotePaid, t.paid}}
	if t.freeAvailable {
		sides = append(sides, side{catalog.ProviderRemoteFree, t.free})
	}
	sort.SliceStable(sides, func(i, j int) bool { return sides[i].score > sides[j].score })
	conf := sides[0].score - sides[1].score
	if conf > 1 {
		conf = 1
	}
	return sides[0].kind, conf
}

func (t *tally) scores() Scores {
	return Scores{Local: t.local, Paid: t.paid, Free: t.free}
}

// explain summarizes the strongest factors behind the chosen side.
func explain(d Decision, factors []Factor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Routed to %s model %s (confidence %.2f)", d.Provider, d.Model, d.Confidence)
	if d.Forced {
		b.WriteString(": no local model can hold the request, remote execution required")
		return b.String()
	}

	want := SidePaid
	switch d.Provider {
	case catalog.ProviderLocal:
		want = SideLocal
	case catalog.ProviderRemoteFree:
		want = SideFree
	}
	var favor []Factor
	for _, f := range factors {
		if f.Side == want {
			favor = append(favor, f)
		}
	}
	sort.SliceStable(favor, func(i, j int) bool { return favor[i].Delta > favor[j].Delta })

	var parts []string
	for _, f := range favor {
		if text := describe(f); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	return b.String()
}

func describe(f Factor) string {
	switch f.Name {
	case "priority:cost":
		return "cost prioritization favors zero-cost execution"
	case "priority:speed":
		return "speed prioritization favors hosted models"
	case "priority:quality":
		return "quality prioritization favors stronger models"
	case "complexity":
		if f.Side == SideLocal {
			return "complexity is low enough for a local model"
		}
		return "complexity calls for a stronger model"
	case "tokens":
		if f.Side == SideLocal {
			return "token budget is small"
		}
		return "token budget is large"
	case "cost":
		return "estimated cost difference"
	case "benchmark:range":
		return "task is within the local model's proven complexity range"
	case "benchmark:quality":
		if f.Side == SideLocal {
			return "local model has strong history in this complexity band"
		}
		return "local model has weak history in this complexity band"
	}
	return ""
}
