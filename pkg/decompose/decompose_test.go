package decompose

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/task"
)

const (
	simpleTask  = "Write a function to validate an email address"
	complexTask = "Build a distributed system architecture with database integration, authentication, caching layer and retry handling across multiple services"
	longTask    = complexTask + " for the billing team in production"
)

type scriptedCaller struct {
	mu        sync.Mutex
	analysis  string
	breakdown string
	fail      bool
	prompts   []string
}

func (s *scriptedCaller) Call(_ context.Context, _ adapter.Target, prompt string, _ time.Duration) adapter.CallResult {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.fail {
		return adapter.CallResult{ErrorKind: adapter.KindServerError, Err: &adapter.Error{Kind: adapter.KindServerError}}
	}
	switch {
	case strings.Contains(prompt, "Rate the implementation complexity"):
		if s.analysis == "" {
			return adapter.CallResult{ErrorKind: adapter.KindUnknown}
		}
		return adapter.CallResult{Success: true, Text: s.analysis}
	case strings.Contains(prompt, "Break this coding task"):
		return adapter.CallResult{Success: true, Text: s.breakdown}
	}
	return adapter.CallResult{ErrorKind: adapter.KindInvalidRequest}
}

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("st-%d", n)
	}
}

func newDecomposer(c adapter.Caller) *Decomposer {
	opts := []Option{WithIDGenerator(counterIDs())}
	if c != nil {
		opts = append(opts, WithModel(c, adapter.Target{Backend: "mock", Model: "planner"}))
	}
	return New(opts...)
}

func TestEstimateComplexitySimpleTask(t *testing.T) {
	a := EstimateComplexity(simpleTask)
	assert.Less(t, a.Overall, 0.3)
	assert.Equal(t, "heuristic", a.Source)
	assert.Equal(t, 0.4, a.IntegrationFactors[FactorErrorHandling])
	assert.Equal(t, 0.0, a.IntegrationFactors[FactorSecurity])
}

func TestEstimateComplexityRisesWithRisk(t *testing.T) {
	simple := EstimateComplexity(simpleTask)
	heavy := EstimateComplexity(complexTask)
	assert.Greater(t, heavy.Overall, simple.Overall)
	assert.Greater(t, heavy.Integration, simple.Integration)
	assert.GreaterOrEqual(t, heavy.Overall, 0.3)
}

func TestContainsWordBoundaries(t *testing.T) {
	assert.True(t, containsWord("call the api now", "api"))
	assert.False(t, containsWord("rapid prototyping", "api"))
	assert.True(t, containsWord("see rapid api", "api"))
	assert.False(t, containsWord("services", "service"))
}

func TestAnalyzeComplexityIntegrationIsMax(t *testing.T) {
	pattern := EstimateComplexity(complexTask)

	low := &scriptedCaller{analysis: `{"overall": 0.7, "integration": 0.1, "reasoning": "big"}`}
	a := newDecomposer(low).AnalyzeComplexity(context.Background(), complexTask)
	assert.Equal(t, "model", a.Source)
	assert.InDelta(t, pattern.Integration, a.Integration, 1e-9)
	assert.Equal(t, "big", a.Reasoning)

	high := &scriptedCaller{analysis: "```json\n{\"overall\": 0.2, \"integration\": 0.95}\n```"}
	a = newDecomposer(high).AnalyzeComplexity(context.Background(), complexTask)
	assert.InDelta(t, 0.95, a.Integration, 1e-9)
	assert.GreaterOrEqual(t, a.Overall, 0.9*0.95-1e-9)
}

func TestAnalyzeComplexityFallsBackOnBadModelOutput(t *testing.T) {
	c := &scriptedCaller{analysis: "I think it is hard"}
	a := newDecomposer(c).AnalyzeComplexity(context.Background(), complexTask)
	assert.Equal(t, "heuristic", a.Source)
}

func TestDecomposeSimpleShortCircuit(t *testing.T) {
	c := &scriptedCaller{breakdown: `{"subtasks":[{"id":"1","description":"x"},{"id":"2","description":"y"}]}`}
	d := newDecomposer(c)
	got, err := d.Decompose(context.Background(), simpleTask, Options{})
	require.NoError(t, err)
	require.Len(t, got.Subtasks, 1)
	assert.Equal(t, task.TierSmall, got.Subtasks[0].RecommendedTier)
	assert.Equal(t, task.CodeFunction, got.Subtasks[0].CodeType)
	require.NoError(t, got.Validate())
	for _, p := range c.prompts {
		assert.NotContains(t, p, "Break this coding task")
	}
}

func TestDecomposeFixedCountSkipsShortCircuit(t *testing.T) {
	c := &scriptedCaller{breakdown: `{"subtasks":[{"id":"1","description":"regex"},{"id":"2","description":"tests","dependencies":["1"]},{"id":"3","description":"extra"}]}`}
	got, err := newDecomposer(c).Decompose(context.Background(), simpleTask, Options{FixedSubtaskCount: 2})
	require.NoError(t, err)
	require.Len(t, got.Subtasks, 2)
	assert.Equal(t, []string{"st-1"}, got.Subtasks[1].Dependencies)
	require.NoError(t, got.Validate())
}

func TestDecomposeFencedJSON(t *testing.T) {
	c := &scriptedCaller{breakdown: "Here you go:\n```json\n" +
		`{"subtasks":[{"id":"a","description":"Parse config","complexity":0.2,"estimated_tokens":400,"dependencies":[]},` +
		`{"id":"b","description":"Validate config","complexity":0.7,"dependencies":["a","zzz"],"code_type":"function"}]}` +
		"\n```"}
	got, err := newDecomposer(c).Decompose(context.Background(), complexTask, Options{})
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	require.Len(t, got.Subtasks, 2)

	a, b := got.Subtasks[0], got.Subtasks[1]
	assert.Equal(t, "st-1", a.ID)
	assert.Equal(t, 400, a.EstimatedTokens)
	assert.Equal(t, task.TierSmall, a.RecommendedTier)
	assert.Equal(t, []string{a.ID}, b.Dependencies)
	assert.Equal(t, 1550, b.EstimatedTokens)
	assert.Equal(t, task.TierLarge, b.RecommendedTier)
	assert.Equal(t, task.CodeFunction, b.CodeType)
	assert.Equal(t, 1950, got.TotalEstimatedTokens)
	require.NotNil(t, got.Analysis)
}

func TestDecomposeBareArrayWithNumericIDs(t *testing.T) {
	c := &scriptedCaller{breakdown: `Sure! [{"id":1,"title":"Schema","complexity":0.9},{"id":2,"description":"Handlers","dependencies":[1]}]`}
	got, err := newDecomposer(c).Decompose(context.Background(), complexTask, Options{})
	require.NoError(t, err)
	require.Len(t, got.Subtasks, 2)
	assert.Equal(t, "Schema", got.Subtasks[0].Description)
	assert.Equal(t, task.TierRemote, got.Subtasks[0].RecommendedTier)
	assert.Equal(t, []string{got.Subtasks[0].ID}, got.Subtasks[1].Dependencies)
	assert.InDelta(t, got.Analysis.Overall, got.Subtasks[1].Complexity, 1e-9)
}

func TestDecomposeNumberedSections(t *testing.T) {
	c := &scriptedCaller{breakdown: `Here is the plan:
1. Define the storage interface
   Complexity: 0.3
   Type: interface
2. Implement the SQL store
   Complexity: 0.6
   Tokens: 1200
   Dependencies: 1
3. Write tests for the store
   Complexity: 0.4
   Depends on: 1, 2
   Type: test
`}
	got, err := newDecomposer(c).Decompose(context.Background(), complexTask, Options{})
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	require.Len(t, got.Subtasks, 3)

	s1, s2, s3 := got.Subtasks[0], got.Subtasks[1], got.Subtasks[2]
	assert.Equal(t, "Define the storage interface", s1.Description)
	assert.Equal(t, task.CodeInterface, s1.CodeType)
	assert.Equal(t, 950, s1.EstimatedTokens)
	assert.Equal(t, 1200, s2.EstimatedTokens)
	assert.Equal(t, []string{s1.ID}, s2.Dependencies)
	assert.Equal(t, []string{s1.ID, s2.ID}, s3.Dependencies)
	assert.Equal(t, task.CodeTest, s3.CodeType)
}

func TestDecomposeFallbacks(t *testing.T) {
	t.Run("call failure on long task gives plan and implement", func(t *testing.T) {
		got, err := newDecomposer(&scriptedCaller{fail: true}).Decompose(context.Background(), longTask, Options{})
		require.NoError(t, err)
		require.NoError(t, got.Validate())
		require.Len(t, got.Subtasks, 2)
		plan, impl := got.Subtasks[0], got.Subtasks[1]
		assert.True(t, strings.HasPrefix(plan.Description, "Plan"))
		assert.True(t, strings.HasPrefix(impl.Description, "Implement"))
		assert.Equal(t, []string{plan.ID}, impl.Dependencies)
		assert.Empty(t, plan.Dependencies)
	})

	t.Run("unparsable breakdown on short task gives one subtask", func(t *testing.T) {
		c := &scriptedCaller{analysis: `{"overall": 0.9}`, breakdown: "no idea, sorry"}
		got, err := newDecomposer(c).Decompose(context.Background(), complexTask, Options{})
		require.NoError(t, err)
		require.Len(t, got.Subtasks, 1)
		assert.Equal(t, complexTask, got.Subtasks[0].Description)
	})

	t.Run("no model at all", func(t *testing.T) {
		got, err := newDecomposer(nil).Decompose(context.Background(), longTask, Options{})
		require.NoError(t, err)
		assert.Len(t, got.Subtasks, 2)
	})
}

func TestDecomposeEmptyTask(t *testing.T) {
	_, err := newDecomposer(nil).Decompose(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrEmptyTask)
}

func TestDecomposeMaxSubtasksDropsDanglingDependencies(t *testing.T) {
	c := &scriptedCaller{breakdown: `{"subtasks":[{"id":"1","description":"a","dependencies":["3"]},{"id":"2","description":"b"},{"id":"3","description":"c"}]}`}
	got, err := newDecomposer(c).Decompose(context.Background(), complexTask, Options{MaxSubtasks: 2})
	require.NoError(t, err)
	require.Len(t, got.Subtasks, 2)
	assert.Empty(t, got.Subtasks[0].Dependencies)
	require.NoError(t, got.Validate())
}
