package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	catalogKey           = "catalog"
	catalogSchemaVersion = 1
	saveRetries          = 5
)

// ErrModelNotFound is returned when a model id is not in the registry.
var ErrModelNotFound = errors.New("catalog: model not found")

// Registry holds the known models. It is constructed once and shared by
// reference; Load, Refresh and Save are explicit.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]Model
	lastRefresh time.Time

	sources  []Source
	store    store.Store
	tunables config.Tunables
	defaults config.Defaults
	pricing  config.PricingConfig
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithSources sets the upstream sources, in increasing precedence.
func WithSources(sources ...Source) Option {
	return func(r *Registry) {
		r.sources = append(r.sources, sources...)
	}
}

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(r *Registry) {
		r.store = s
	}
}

// WithConfig applies tunables, defaults and pricing overrides.
func WithConfig(cfg *config.Config) Option {
	return func(r *Registry) {
		if cfg == nil {
			return
		}
		r.tunables = cfg.Tunables
		r.defaults = cfg.Defaults
		r.pricing = cfg.Pricing
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.Named("catalog")
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		models:   make(map[string]Model),
		tunables: config.DefaultTunables(),
		defaults: config.DefaultDefaults(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type persistedCatalog struct {
	SchemaVersion int       `json:"schema_version"`
	LastRefresh   time.Time `json:"last_refresh"`
	Models        []Model   `json:"models"`
}

// Load reads the last persisted catalog. A missing document is not an
// error. On failure the registry keeps its in-memory state.
func (r *Registry) Load(ctx context.Context) error {
	defer r.ensureDefault()
	if r.store == nil {
		return nil
	}

	doc, err := r.store.Get(ctx, catalogKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		r.logger.Warn("catalog load failed", zap.Error(err))
		return fmt.Errorf("load catalog: %w", err)
	}

	var pc persistedCatalog
	if err := json.Unmarshal(doc.Data, &pc); err != nil {
		r.logger.Warn("catalog decode failed", zap.Error(err))
		return fmt.Errorf("decode catalog: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range pc.Models {
		r.models[m.ID] = m
	}
	if pc.LastRefresh.After(r.lastRefresh) {
		r.lastRefresh = pc.LastRefresh
	}
	r.logger.Debug("catalog loaded", zap.Int("models", len(pc.Models)))
	return nil
}

// Save persists the catalog. The stored document is re-read immediately
// before writing. When this registry refreshed at least as recently as the
// stored snapshot its models replace the stored ones, so models gone from
// every source are not revived by the next Load. Otherwise the two are
// merged, so models written by another process survive.
func (r *Registry) Save(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.RLock()
	ours := make(map[string]Model, len(r.models))
	for id, m := range r.models {
		ours[id] = m
	}
	lastRefresh := r.lastRefresh
	r.mu.RUnlock()

	_, err := store.Update(ctx, r.store, catalogKey, saveRetries, func(current []byte) ([]byte, error) {
		merged := make(map[string]Model, len(ours))
		out := persistedCatalog{SchemaVersion: catalogSchemaVersion, LastRefresh: lastRefresh}
		if current != nil {
			var stored persistedCatalog
			if err := json.Unmarshal(current, &stored); err == nil {
				if lastRefresh.IsZero() || stored.LastRefresh.After(lastRefresh) {
					for _, m := range stored.Models {
						merged[m.ID] = m
					}
				}
				if stored.LastRefresh.After(out.LastRefresh) {
					out.LastRefresh = stored.LastRefresh
				}
			}
		}
		for id, m := range ours {
			merged[id] = m
		}
		out.Models = sortedModels(merged)
		return json.Marshal(out)
	})
	if err != nil {
		r.logger.Warn("catalog save failed", zap.Error(err))
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

// RefreshReport summarizes one refresh.
type RefreshReport struct {
	Refreshed bool           `json:"refreshed"`
	Counts    map[string]int `json:"counts"`
	Failed    []string       `json:"failed,omitempty"`
	Total     int            `json:"total"`
}

// IsStale reports whether the catalog is older than the staleness window.
func (r *Registry) IsStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh.IsZero() || r.now().Sub(r.lastRefresh) > r.tunables.CatalogStaleness
}

// EnsureFresh refreshes only when the catalog is stale.
func (r *Registry) EnsureFresh(ctx context.Context) RefreshReport {
	return r.Refresh(ctx, false)
}

// Refresh fetches all sources concurrently. Failed sources are logged and
// contribute nothing; if every source fails the previous models are kept.
func (r *Registry) Refresh(ctx context.Context, force bool) RefreshReport {
	report := RefreshReport{Counts: make(map[string]int)}
	if !force && !r.IsStale() {
		report.Total = len(r.ListModels())
		return report
	}

	results := make([][]Model, len(r.sources))
	errs := make([]error, len(r.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		g.Go(func() error {
			models, err := src.Fetch(gctx)
			results[i], errs[i] = models, err
			return nil
		})
	}
	_ = g.Wait()

	fresh := make(map[string]Model)
	succeeded := 0
	for i, src := range r.sources {
		if errs[i] != nil {
			r.logger.Warn("catalog source failed", zap.String("source", src.Name()), zap.Error(errs[i]))
			report.Failed = append(report.Failed, src.Name())
			continue
		}
		succeeded++
		report.Counts[src.Name()] = len(results[i])
		for _, m := range results[i] {
			fresh[m.ID] = r.applyPricing(m)
		}
	}

	r.mu.Lock()
	if succeeded > 0 && len(fresh) > 0 {
		r.models = fresh
		r.lastRefresh = r.now()
		report.Refreshed = true
	}
	r.mu.Unlock()
	r.ensureDefault()

	report.Total = len(r.ListModels())
	r.logger.Info("catalog refreshed",
		zap.Bool("refreshed", report.Refreshed),
		zap.Int("models", report.Total),
		zap.Int("failed_sources", len(report.Failed)))

	if report.Refreshed {
		_ = r.Save(ctx)
	}
	return report
}

// Upsert adds or replaces models directly.
func (r *Registry) Upsert(models ...Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		r.models[m.ID] = r.applyPricing(Enrich(m))
	}
}

// ListModels returns every model sorted by id.
func (r *Registry) ListModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedModels(r.models)
}

// ListFreeModels returns remote models whose prices are zero within epsilon.
func (r *Registry) ListFreeModels() []Model {
	var out []Model
	for _, m := range r.ListModels() {
		if m.Provider.IsRemote() && m.Pricing.IsZero(r.tunables.FreeEpsilon) {
			out = append(out, m)
		}
	}
	return out
}

// LocalModels returns models served by the local backend.
func (r *Registry) LocalModels() []Model {
	var out []Model
	for _, m := range r.ListModels() {
		if m.Provider == ProviderLocal {
			out = append(out, m)
		}
	}
	return out
}

// Get returns a model by id.
func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// Tunables returns the registry's tunables.
func (r *Registry) Tunables() config.Tunables {
	return r.tunables
}

// Defaults returns the registry's default models.
func (r *Registry) Defaults() config.Defaults {
	return r.defaults
}

// DefaultLocalModel returns the configured default local model, from the
// registry if present.
func (r *Registry) DefaultLocalModel() Model {
	if m, ok := r.Get(r.defaults.LocalModel); ok {
		return m
	}
	return Enrich(Model{
		ID:            r.defaults.LocalModel,
		Name:          r.defaults.LocalModel,
		Provider:      ProviderLocal,
		Backend:       "local",
		ContextWindow: r.defaults.LocalContextWindow,
	})
}

// RemoteModel returns a remote model by id, synthesizing an entry with
// fallback pricing when the catalog does not know it.
func (r *Registry) RemoteModel(id string) Model {
	if m, ok := r.Get(id); ok {
		return m
	}
	return r.applyPricing(Enrich(Model{
		ID:       id,
		Name:     id,
		Provider: ProviderRemotePaid,
		Backend:  "openrouter",
		Pricing:  fallbackPaidPricing,
	}))
}

func (r *Registry) ensureDefault() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.models) > 0 {
		return
	}
	m := Enrich(Model{
		ID:            r.defaults.LocalModel,
		Name:          r.defaults.LocalModel,
		Provider:      ProviderLocal,
		Backend:       "local",
		ContextWindow: r.defaults.LocalContextWindow,
	})
	r.models[m.ID] = m
	r.logger.Info("catalog empty, using default local model", zap.String("model", m.ID))
}

func (r *Registry) applyPricing(m Model) Model {
	if p, ok := r.pricing[m.ID]; ok {
		m.Pricing = Pricing{Prompt: p.PromptPer1K / 1000, Completion: p.CompletionPer1K / 1000}
		if m.Provider.IsRemote() {
			m.Provider = classifyRemote(m.Pricing, r.tunables.FreeEpsilon)
		}
	}
	return m
}

func sortedModels(models map[string]Model) []Model {
	out := make([]Model, 0, len(models))
	for _, m := range models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
