package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zen-systems/localroute/pkg/adapter"
	"github.com/zen-systems/localroute/pkg/catalog"
	"github.com/zen-systems/localroute/pkg/config"
	"github.com/zen-systems/localroute/pkg/coordinator"
	"github.com/zen-systems/localroute/pkg/profile"
	"github.com/zen-systems/localroute/pkg/router"
	"github.com/zen-systems/localroute/pkg/store"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    store.Store
	registry *catalog.Registry
	profiles *profile.DB
	invoker  *adapter.Invoker
	engine   *router.Engine
	coord    *coordinator.Coordinator
}

func newLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	st, err := store.Open(cfg.StoreKind, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreKind, err)
	}

	adapters, local, err := createAdapters(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}

	eps := cfg.Tunables.FreeEpsilon
	registry := catalog.NewRegistry(
		catalog.WithSources(
			catalog.NewLocalSource(local),
			catalog.NewAggregatorSource(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, eps),
			catalog.NewStaticSource(cfg.Models.Models, eps),
		),
		catalog.WithStore(st),
		catalog.WithConfig(cfg),
		catalog.WithLogger(logger),
	)
	if err := registry.Load(ctx); err != nil {
		logger.Warn("using empty catalog", zap.Error(err))
	}

	profiles := profile.NewDB(
		profile.WithStore(st),
		profile.WithTunables(cfg.Tunables),
		profile.WithLogger(logger),
	)
	if err := profiles.Load(ctx); err != nil {
		logger.Warn("starting without profile history", zap.Error(err))
	}

	invoker := adapter.NewInvoker(adapters,
		adapter.WithRetry(cfg.Defaults.Retry),
		adapter.WithLogger(logger),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: registry,
		profiles: profiles,
		invoker:  invoker,
		engine:   router.New(registry, router.WithProfiles(profiles), router.WithLogger(logger)),
		coord: coordinator.New(registry,
			coordinator.WithCaller(invoker),
			coordinator.WithProfiles(profiles),
			coordinator.WithTimeout(cfg.Defaults.CallTimeout),
			coordinator.WithMaxConcurrency(cfg.Tunables.MaxConcurrency),
			coordinator.WithLogger(logger),
		),
	}, nil
}

func (a *app) Close() {
	_ = a.logger.Sync()
	_ = a.store.Close()
}

// createAdapters builds an adapter for every configured backend. The local
// backend needs no key and is always present.
func createAdapters(ctx context.Context, cfg *config.Config) ([]adapter.Adapter, *adapter.OpenAICompatible, error) {
	local, err := adapter.NewLocalAdapter(cfg.LocalBaseURL, cfg.LocalAPIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create local adapter: %w", err)
	}
	adapters := []adapter.Adapter{local}

	if cfg.HasBackend(adapter.BackendOpenRouter) {
		a, err := adapter.NewOpenRouterAdapter(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openrouter adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	if cfg.HasBackend(adapter.BackendAnthropic) {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	if cfg.HasBackend(adapter.BackendOpenAI) {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	if cfg.HasBackend(adapter.BackendGoogle) {
		a, err := adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters = append(adapters, a)
	}

	adapters = append(adapters, adapter.NewMockAdapter())
	return adapters, local, nil
}
