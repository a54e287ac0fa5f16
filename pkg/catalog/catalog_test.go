package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/store"
)

type fakeLister struct {
	ids []string
	err error
}

func (f fakeLister) ListModels(context.Context) ([]string, error) { return f.ids, f.err }

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Fetch(context.Context) ([]Model, error) {
	return nil, errors.New("connection refused")
}

func TestEnrich(t *testing.T) {
	tests := []struct {
		id       string
		tier     SizeTier
		params   float64
		code     bool
		instruct bool
		quant    bool
	}{
		{id: "llama3:8b", tier: SizeSmall, params: 8},
		{id: "codellama:13b-instruct", tier: SizeMedium, params: 13, code: true, instruct: true},
		{id: "llama3.1:70b-q4_K_M", tier: SizeLarge, params: 70, quant: true},
		{id: "phi3:mini", tier: SizeSmall},
		{id: "anthropic/claude-3.5-sonnet", tier: SizeMedium},
		{id: "qwen2.5-coder:1.5b", tier: SizeSmall, params: 1.5, code: true},
		{id: "mystery-model", tier: SizeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			m := Enrich(Model{ID: tt.id})
			assert.Equal(t, tt.tier, m.SizeTier)
			assert.InDelta(t, tt.params, m.ParameterBillions, 1e-9)
			assert.Equal(t, tt.code, m.Tags.CodeSpecialized)
			assert.Equal(t, tt.instruct, m.Tags.Instruct)
			assert.Equal(t, tt.quant, m.Tags.Quantized)
			assert.Equal(t, tt.id, m.Name)
		})
	}
}

func TestLookupContextWindow(t *testing.T) {
	assert.Equal(t, 131072, LookupContextWindow("Llama3.1:70B"))
	assert.Equal(t, 8192, LookupContextWindow("llama3:8b"))
	assert.Equal(t, 16384, LookupContextWindow("CodeLlama:13b"))
	assert.Equal(t, 32768, LookupContextWindow("qwen2.5-coder:7b"))
	assert.Equal(t, 0, LookupContextWindow("unheard-of"))
}

func TestAggregatorSourceParsesFlexiblePricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"acme/free-7b","name":"Free","context_length":8192,"pricing":{"prompt":"0","completion":"0.0000000000"}},
			{"id":"acme/tiny-price","context_length":4096,"pricing":{"prompt":1e-12,"completion":"1e-12"}},
			{"id":"acme/paid","context_length":200000,"pricing":{"prompt":"0.000003","completion":"0.000015"},
			 "architecture":{"input_modalities":["text","image"]}},
			{"id":"","pricing":{"prompt":"1","completion":"1"}}
		]}`))
	}))
	defer srv.Close()

	src := NewAggregatorSource(srv.URL+"/api/v1/", "k", 1e-9)
	models, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)

	assert.Equal(t, ProviderRemoteFree, models[0].Provider)
	assert.Equal(t, ProviderRemoteFree, models[1].Provider, "near-zero price must count as free")
	assert.Equal(t, ProviderRemotePaid, models[2].Provider)
	assert.True(t, models[2].Capabilities.Vision)
	assert.InDelta(t, 0.000015, models[2].Pricing.Completion, 1e-12)
	assert.Equal(t, 200000, models[2].ContextWindow)
}

func TestAggregatorSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewAggregatorSource(srv.URL, "", 0).Fetch(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := truncate(strings.Repeat("é", 10), 3)
	assert.Equal(t, "ééé...", got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "short", truncate("short", 10))
}

func TestRefreshSkipsFailedSources(t *testing.T) {
	r := NewRegistry(WithSources(
		NewLocalSource(fakeLister{ids: []string{"llama3:8b", "codellama:13b"}}),
		failingSource{},
	))

	report := r.Refresh(context.Background(), true)
	assert.True(t, report.Refreshed)
	assert.Equal(t, []string{"broken"}, report.Failed)
	assert.Equal(t, 2, report.Counts["local"])

	local := r.LocalModels()
	require.Len(t, local, 2)
	assert.Equal(t, 16384, local[0].ContextWindow)
	assert.Equal(t, 8192, local[1].ContextWindow)
}

func TestRefreshAllFailFallsBackToDefault(t *testing.T) {
	r := NewRegistry(WithSources(failingSource{}, NewLocalSource(fakeLister{err: errors.New("down")})))
	report := r.Refresh(context.Background(), true)

	assert.False(t, report.Refreshed)
	models := r.ListModels()
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:8b", models[0].ID)
	assert.Equal(t, ProviderLocal, models[0].Provider)
	assert.Equal(t, 8192, models[0].ContextWindow)
}

func TestRefreshHonorsStaleness(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	lister := listerFunc(func() ([]string, error) {
		calls++
		return []string{"llama3:8b"}, nil
	})
	r := NewRegistry(WithSources(NewLocalSource(lister)), WithClock(func() time.Time { return now }))

	r.EnsureFresh(context.Background())
	r.EnsureFresh(context.Background())
	assert.Equal(t, 1, calls, "fresh catalog must not be refetched")

	now = now.Add(25 * time.Hour)
	r.EnsureFresh(context.Background())
	assert.Equal(t, 2, calls, "stale catalog must be refetched")
}

type listerFunc func() ([]string, error)

func (f listerFunc) ListModels(context.Context) ([]string, error) { return f() }

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	first := NewRegistry(WithStore(s), WithSources(NewLocalSource(fakeLister{ids: []string{"mistral:7b"}})))
	first.Refresh(ctx, true)

	second := NewRegistry(WithStore(s))
	require.NoError(t, second.Load(ctx))

	want := first.ListModels()
	if diff := cmp.Diff(want, second.ListModels()); diff != "" {
		t.Fatalf("reloaded catalog mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, second.IsStale())
}

func TestSaveMergesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	a := NewRegistry(WithStore(s))
	a.Upsert(Model{ID: "a-model", Provider: ProviderLocal, Backend: "local"})
	b := NewRegistry(WithStore(s))
	b.Upsert(Model{ID: "b-model", Provider: ProviderLocal, Backend: "local"})

	require.NoError(t, a.Save(ctx))
	require.NoError(t, b.Save(ctx))

	c := NewRegistry(WithStore(s))
	require.NoError(t, c.Load(ctx))
	_, okA := c.Get("a-model")
	_, okB := c.Get("b-model")
	assert.True(t, okA && okB, "both writers' models must survive")
}

func TestSaveAfterRefreshDropsVanishedModels(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })

	old := NewRegistry(WithStore(s), clock,
		WithSources(NewLocalSource(fakeLister{ids: []string{"llama3:8b", "phi3:mini"}})))
	old.Refresh(ctx, true)

	now = now.Add(time.Hour)
	current := NewRegistry(WithStore(s), clock,
		WithSources(NewLocalSource(fakeLister{ids: []string{"llama3:8b"}})))
	current.Refresh(ctx, true)

	reloaded := NewRegistry(WithStore(s), clock)
	require.NoError(t, reloaded.Load(ctx))
	_, ok := reloaded.Get("phi3:mini")
	assert.False(t, ok, "a model removed upstream must not come back")
	_, ok = reloaded.Get("llama3:8b")
	assert.True(t, ok)
}

func TestListFreeModels(t *testing.T) {
	r := NewRegistry()
	r.Upsert(
		Model{ID: "llama3:8b", Provider: ProviderLocal, Backend: "local"},
		Model{ID: "free/x", Provider: ProviderRemoteFree, Backend: "openrouter"},
		Model{ID: "paid/y", Provider: ProviderRemotePaid, Backend: "openrouter", Pricing: Pricing{Prompt: 1e-6, Completion: 2e-6}},
	)
	free := r.ListFreeModels()
	require.Len(t, free, 1)
	assert.Equal(t, "free/x", free[0].ID)
}

func TestPricingOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Pricing = config.PricingConfig{"paid/y": {PromptPer1K: 0.001, CompletionPer1K: 0.002}}
	r := NewRegistry(WithConfig(cfg))
	r.Upsert(Model{ID: "paid/y", Provider: ProviderRemoteFree, Backend: "openrouter"})

	m, ok := r.Get("paid/y")
	require.True(t, ok)
	assert.Equal(t, ProviderRemotePaid, m.Provider)
	assert.InDelta(t, 1e-6, m.Pricing.Prompt, 1e-15)
}

func TestEstimateCost(t *testing.T) {
	r := NewRegistry()
	r.Upsert(
		Model{ID: "free/x", Provider: ProviderRemoteFree, Backend: "openrouter"},
		Model{ID: "paid/y", Provider: ProviderRemotePaid, Backend: "openrouter", Pricing: Pricing{Prompt: 1e-6, Completion: 2e-6}},
	)

	t.Run("free model costs nothing", func(t *testing.T) {
		est := r.EstimateCost(5000, 2000, "free/x")
		assert.Zero(t, est.Paid.Cost.Total)
		assert.Zero(t, est.Local.Cost.Total)
	})

	t.Run("paid model breakdown", func(t *testing.T) {
		est := r.EstimateCost(1000, 500, "paid/y")
		assert.InDelta(t, 0.001, est.Paid.Cost.Prompt, 1e-12)
		assert.InDelta(t, 0.001, est.Paid.Cost.Completion, 1e-12)
		assert.InDelta(t, 0.002, est.Paid.Cost.Total, 1e-12)
		assert.Equal(t, 1500, est.Paid.Tokens.Total)
		assert.Equal(t, "USD", est.Paid.Cost.Currency)
	})

	t.Run("monotonic in both inputs", func(t *testing.T) {
		prev := -1.0
		for ctxTokens := 0; ctxTokens <= 4000; ctxTokens += 500 {
			for out := 0; out <= 2000; out += 250 {
				total := r.EstimateCost(ctxTokens, out, "paid/y").Paid.Cost.Total
				assert.GreaterOrEqual(t, total, r.EstimateCost(ctxTokens, 0, "paid/y").Paid.Cost.Total)
				assert.GreaterOrEqual(t, total, r.EstimateCost(0, out, "paid/y").Paid.Cost.Total)
			}
			total := r.EstimateCost(ctxTokens, 100, "paid/y").Paid.Cost.Total
			assert.GreaterOrEqual(t, total, prev)
			prev = total
		}
	})

	t.Run("unknown model uses default remote", func(t *testing.T) {
		est := r.EstimateCost(1000, 1000, "nope/z")
		assert.NotEmpty(t, est.Note)
		assert.Equal(t, "anthropic/claude-3.5-sonnet", est.Paid.Model)
		assert.Greater(t, est.Paid.Cost.Total, 0.0)
	})
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}
