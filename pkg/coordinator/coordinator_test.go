package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/decompose"
	"github.com/zen-systems/localroute/pkg/profile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const taskText = "Build a config loader with database integration, validation and retry handling for the billing service"

const analysisJSON = `{"overall":0.7,"algorithmic":0.6,"scope":0.6,"integration":0.5,"reasoning":"several moving parts"}`

const chainJSON = `{"subtasks":[
{"id":"1","description":"Define the config struct","complexity":0.3,"estimated_tokens":400},
{"id":"2","description":"Implement the loader function","complexity":0.5,"estimated_tokens":900,"dependencies":["1"]},
{"id":"3","description":"Write tests for the loader","complexity":0.4,"estimated_tokens":600,"dependencies":["2"]}]}`

const fanInJSON = `{"subtasks":[
{"id":"1","description":"Parse the YAML file","complexity":0.3},
{"id":"2","description":"Read environment overrides","complexity":0.3},
{"id":"3","description":"Open the database connection","complexity":0.3},
{"id":"4","description":"Combine everything into the loader","complexity":0.5,"dependencies":["1","2","3"]}]}`

// fakeCaller scripts the planner, subtask and synthesis calls.
type fakeCaller struct {
	breakdown string
	synthFail bool
	failPart  string
	delay     time.Duration

	mu       sync.Mutex
	prompts  []string
	inFlight int
	peak     int
}

func (f *fakeCaller) Call(ctx context.Context, _ adapter.Target, prompt string, _ time.Duration) adapter.CallResult {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	usage := &adapter.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}
	switch {
	case strings.Contains(prompt, "Rate the implementation complexity"):
		return adapter.CallResult{Success: true, Text: analysisJSON}
	case strings.Contains(prompt, "Break this coding task"):
		return adapter.CallResult{Success: true, Text: f.breakdown}
	case strings.Contains(prompt, "Combine the following parts"):
		if f.synthFail {
			return adapter.CallResult{ErrorKind: adapter.KindServerError, Err: &adapter.Error{Kind: adapter.KindServerError, Err: errors.New("boom")}}
		}
		return adapter.CallResult{Success: true, Text: "integrated solution", Usage: usage}
	case strings.Contains(prompt, "Your part"):
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
			}
		}
		part := partOf(prompt)
		if f.failPart != "" && strings.Contains(part, f.failPart) {
			return adapter.CallResult{ErrorKind: adapter.KindRateLimit, Err: &adapter.Error{Kind: adapter.KindRateLimit, Status: 429, Err: errors.New("slow down")}}
		}
		return adapter.CallResult{Success: true, Text: "code for " + part, Usage: usage, DurationMs: 5}
	}
	return adapter.CallResult{ErrorKind: adapter.KindInvalidRequest}
}

func (f *fakeCaller) promptsContaining(s string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.prompts {
		if strings.Contains(p, s) {
			out = append(out, p)
		}
	}
	return out
}

// partOf extracts the subtask description from a subtask prompt.
func partOf(prompt string) string {
	rest := prompt[strings.Index(prompt, "Your part"):]
	rest = rest[strings.Index(rest, "\n")+1:]
	return strings.TrimSpace(rest[:strings.Index(rest, "\n")])
}

func newRegistry() *catalog.Registry {
	r := catalog.NewRegistry()
	r.Upsert(catalog.Model{ID: "llama3:8b", Name: "llama3:8b", Provider: catalog.ProviderLocal, Backend: "local", ContextWindow: 8192})
	return r
}

func TestProcessCodeTaskChain(t *testing.T) {
	c := New(newRegistry(), WithCaller(&fakeCaller{breakdown: chainJSON}))

	plan, err := c.ProcessCodeTask(context.Background(), taskText, Options{})
	require.NoError(t, err)
	require.NoError(t, plan.Task.Validate())
	require.Len(t, plan.Task.Subtasks, 3)

	var order, critical []string
	for _, st := range plan.ExecutionOrder {
		order = append(order, st.Description)
	}
	for _, st := range plan.CriticalPath {
		critical = append(critical, st.Description)
	}
	want := []string{"Define the config struct", "Implement the loader function", "Write tests for the loader"}
	assert.Equal(t, want, order)
	assert.Equal(t, want, critical)
	require.Len(t, plan.ParallelGroups, 3)
	for _, level := range plan.ParallelGroups {
		assert.Len(t, level, 1)
	}

	assert.Len(t, plan.Assignments, 3)
	assert.Contains(t, plan.Visualization, "Level")
	assert.Equal(t, 1900, plan.Metrics.TotalTokens)
	assert.Equal(t, 1900, plan.EstimatedCost.Tokens.Total)
	assert.Len(t, plan.EstimatedCost.Subtasks, 3)
	assert.Zero(t, plan.EstimatedCost.Local)
	assert.Greater(t, plan.EstimatedCost.Paid, 0.0)
	assert.Empty(t, plan.RemovedEdges)
}

func TestProcessCodeTaskResolvesCycles(t *testing.T) {
	cyclic := `{"subtasks":[
{"id":"1","description":"Alpha","dependencies":["2"]},
{"id":"2","description":"Beta","dependencies":["1"]}]}`
	c := New(newRegistry(), WithCaller(&fakeCaller{breakdown: cyclic}))

	plan, err := c.ProcessCodeTask(context.Background(), taskText, Options{})
	require.NoError(t, err)
	assert.Len(t, plan.RemovedEdges, 1)
	assert.Len(t, plan.ExecutionOrder, 2)
	assert.Len(t, plan.ParallelGroups, 2)
}

func TestProcessCodeTaskEmpty(t *testing.T) {
	c := New(newRegistry())
	_, err := c.ProcessCodeTask(context.Background(), "   ", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, decompose.ErrEmptyTask))
	assert.Contains(t, err.Error(), "process code task")
}

func TestRunPassesDependencyOutputsForward(t *testing.T) {
	fc := &fakeCaller{breakdown: chainJSON}
	db := profile.NewDB()
	c := New(newRegistry(), WithCaller(fc), WithProfiles(db))

	res, err := c.Run(context.Background(), taskText, Options{})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	for _, r := range res.Results {
		assert.True(t, r.Success, r.Output)
	}
	assert.Equal(t, "integrated solution", res.Final)

	tests := fc.promptsContaining("Your part (test):\nWrite tests for the loader")
	require.Len(t, tests, 1)
	assert.Contains(t, tests[0], "code for Implement the loader function")
	assert.NotContains(t, tests[0], "code for Define the config struct", "only direct dependencies are passed")

	assert.Equal(t, 4, res.Cost.Calls)
	assert.Equal(t, 600, res.Cost.Usage.TotalTokens)

	for _, r := range res.Results {
		_, ok := db.Get(r.ModelID)
		assert.True(t, ok, "profile recorded for %s", r.ModelID)
	}
	total := 0
	for _, p := range db.All() {
		total += p.BenchmarkCount
	}
	assert.Equal(t, 3, total)
}

func TestExecuteAllSubtasksRunsLevelsConcurrently(t *testing.T) {
	fc := &fakeCaller{breakdown: fanInJSON, delay: 30 * time.Millisecond}
	c := New(newRegistry(), WithCaller(fc), WithMaxConcurrency(2))

	plan, err := c.ProcessCodeTask(context.Background(), taskText, Options{})
	require.NoError(t, err)
	require.Len(t, plan.ParallelGroups, 2)
	require.Len(t, plan.ParallelGroups[0], 3)

	results := c.ExecuteAllSubtasks(context.Background(), plan)
	require.Len(t, results, 4)
	assert.Equal(t, "Combine everything into the loader", results[3].Description)

	fc.mu.Lock()
	peak := fc.peak
	fc.mu.Unlock()
	assert.Equal(t, 2, peak, "first level should run two at a time")

	last := fc.promptsContaining("Combine everything into the loader")
	require.Len(t, last, 1)
	for _, dep := range []string{"Parse the YAML file", "Read environment overrides", "Open the database connection"} {
		assert.Contains(t, last[0], "code for "+dep)
	}
}

func TestFailedSubtaskBecomesInlineError(t *testing.T) {
	fc := &fakeCaller{breakdown: chainJSON, failPart: "loader function"}
	c := New(newRegistry(), WithCaller(fc))

	res, err := c.Run(context.Background(), taskText, Options{})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	failed := res.Results[1]
	assert.False(t, failed.Success)
	assert.Equal(t, adapter.KindRateLimit, failed.ErrorKind)
	assert.Contains(t, failed.Output, "[error: subtask")
	assert.True(t, res.Results[2].Success, "pipeline continues past a failed subtask")
	assert.Equal(t, "integrated solution", res.Final)
}

func TestSynthesisFallsBackToConcatenation(t *testing.T) {
	fc := &fakeCaller{breakdown: chainJSON, synthFail: true}
	c := New(newRegistry(), WithCaller(fc))

	res, err := c.Run(context.Background(), taskText, Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Final, ManualIntegrationNote))
	assert.Contains(t, res.Final, "## Part 1: Define the config struct")
	assert.Contains(t, res.Final, "code for Write tests for the loader")
}

func TestRunWithoutCaller(t *testing.T) {
	c := New(newRegistry())

	res, err := c.Run(context.Background(), taskText, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	for _, r := range res.Results {
		assert.False(t, r.Success)
		assert.Contains(t, r.Output, "no model caller configured")
	}
	assert.True(t, strings.HasSuffix(res.Final, ManualIntegrationNote))
}

func TestTargetFor(t *testing.T) {
	r := newRegistry()
	r.Upsert(catalog.Model{ID: "claude-3-5-haiku", Name: "claude-3-5-haiku", Provider: catalog.ProviderRemotePaid, Backend: "anthropic"})

	assert.Equal(t, adapter.Target{Backend: "local", Model: "llama3:8b"}, TargetFor(r, "llama3:8b"))
	assert.Equal(t, adapter.Target{Backend: "anthropic", Model: "claude-3-5-haiku"}, TargetFor(r, "claude-3-5-haiku"))
	assert.Equal(t, adapter.Target{Backend: "openrouter", Model: "openai/gpt-4o"}, TargetFor(r, "openai/gpt-4o"))
}
