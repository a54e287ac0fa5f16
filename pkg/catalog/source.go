package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zen-systems/localroute/pkg/config"
)

// Source fetches models from one upstream catalog.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Model, error)
}

// ModelLister lists model ids on an OpenAI-compatible server.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// LocalSource reports the models installed on the local inference server.
type LocalSource struct {
	lister  ModelLister
	backend string
}

// NewLocalSource creates a local catalog source.
func NewLocalSource(lister ModelLister) *LocalSource {
	return &LocalSource{lister: lister, backend: "local"}
}

// Name returns the source identifier.
func (s *LocalSource) Name() string { return "local" }

// Fetch lists local models. Local models are free and get their context
// window from the lookup table.
func (s *LocalSource) Fetch(ctx context.Context) ([]Model, error) {
	ids, err := s.lister.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list local models: %w", err)
	}
	models := make([]Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, Enrich(Model{
			ID:            id,
			Name:          id,
			Provider:      ProviderLocal,
			Backend:       s.backend,
			Capabilities:  Capabilities{Chat: true, Completion: true},
			ContextWindow: LookupContextWindow(id),
		}))
	}
	return models, nil
}

// AggregatorSource reads a remote aggregator's /models catalog.
type AggregatorSource struct {
	baseURL    string
	apiKey     string
	backend    string
	epsilon    float64
	httpClient *http.Client
}

// NewAggregatorSource creates an aggregator catalog source.
func NewAggregatorSource(baseURL, apiKey string, epsilon float64) *AggregatorSource {
	if epsilon <= 0 {
		epsilon = 1e-9
	}
	return &AggregatorSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		backend:    "openrouter",
		epsilon:    epsilon,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the source identifier.
func (s *AggregatorSource) Name() string { return "aggregator" }

type aggregatorResponse struct {
	Data []aggregatorModel `json:"data"`
}

type aggregatorModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Prompt     flexFloat `json:"prompt"`
		Completion flexFloat `json:"completion"`
	} `json:"pricing"`
	Features *struct {
		Chat       bool `json:"chat"`
		Completion bool `json:"completion"`
		Vision     bool `json:"vision"`
	} `json:"features,omitempty"`
	Architecture *struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture,omitempty"`
}

// flexFloat decodes numbers that upstream may serialize as strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// Fetch downloads and converts the aggregator catalog.
func (s *AggregatorSource) Fetch(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed aggregatorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		if raw.ID == "" {
			continue
		}
		pricing := Pricing{Prompt: float64(raw.Pricing.Prompt), Completion: float64(raw.Pricing.Completion)}
		caps := Capabilities{Chat: true, Completion: true}
		if raw.Features != nil {
			caps = Capabilities{Chat: raw.Features.Chat, Completion: raw.Features.Completion, Vision: raw.Features.Vision}
		}
		if raw.Architecture != nil {
			for _, m := range raw.Architecture.InputModalities {
				if m == "image" {
					caps.Vision = true
				}
			}
		}
		models = append(models, Enrich(Model{
			ID:            raw.ID,
			Name:          raw.Name,
			Provider:      classifyRemote(pricing, s.epsilon),
			Backend:       s.backend,
			Capabilities:  caps,
			Pricing:       pricing,
			ContextWindow: raw.ContextLength,
		}))
	}
	return models, nil
}

// StaticSource serves models declared in models.yaml.
type StaticSource struct {
	seeds   []config.ModelSeed
	epsilon float64
}

// NewStaticSource creates a source from configured seeds.
func NewStaticSource(seeds []config.ModelSeed, epsilon float64) *StaticSource {
	if epsilon <= 0 {
		epsilon = 1e-9
	}
	return &StaticSource{seeds: seeds, epsilon: epsilon}
}

// Name returns the source identifier.
func (s *StaticSource) Name() string { return "static" }

// Fetch converts seeds into models.
func (s *StaticSource) Fetch(_ context.Context) ([]Model, error) {
	models := make([]Model, 0, len(s.seeds))
	for _, seed := range s.seeds {
		m := Model{
			ID:            seed.ID,
			Name:          seed.Name,
			Backend:       seed.Backend,
			ContextWindow: seed.ContextWindow,
			Pricing:       Pricing{Prompt: seed.PromptPer1K / 1000, Completion: seed.CompletionPer1K / 1000},
		}
		switch {
		case seed.Provider != "":
			m.Provider = ProviderKind(seed.Provider)
		case seed.Backend == "local" || seed.Backend == "":
			m.Provider = ProviderLocal
		default:
			m.Provider = classifyRemote(m.Pricing, s.epsilon)
		}
		if m.Backend == "" {
			m.Backend = "local"
		}
		if m.Provider == ProviderLocal && m.ContextWindow == 0 {
			m.ContextWindow = LookupContextWindow(m.ID)
		}
		for _, tag := range seed.Tags {
			switch tag {
			case "code":
				m.Tags.CodeSpecialized = true
			case "instruct":
				m.Tags.Instruct = true
			case "quantized":
				m.Tags.Quantized = true
			case "small", "medium", "large":
				m.SizeTier = SizeTier(tag)
			}
		}
		models = append(models, Enrich(m))
	}
	return models, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
