package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/cache"
	"github.com/around-me/discovery/internal/gateway"
	"github.com/around-me/discovery/internal/pipeline"
	"github.com/around-me/discovery/internal/prefs"
	"github.com/around-me/discovery/pkg/googleplaces"
	"github.com/around-me/discovery/pkg/yelp"
)

// pipelineEnv holds the initialized cache, providers, and pipeline needed by
// the serve/search commands.
type pipelineEnv struct {
	Cache    cache.Store
	Prefs    *prefs.Store // may be nil
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Prefs != nil {
		_ = pe.Prefs.Close()
	}
}

// initPipeline sets up the cache backend, provider clients, and preference
// store, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	store, err := initCache(ctx)
	if err != nil {
		return nil, err
	}

	providers, err := initProviders()
	if err != nil {
		return nil, err
	}
	gw := gateway.New(providers...)

	// Preference store is optional; an absent store disables personalization.
	var prefStore *prefs.Store
	if cfg.Prefs.DSN != "" {
		prefStore, err = prefs.Open(cfg.Prefs.DSN)
		if err != nil {
			zap.L().Warn("preference store open failed, personalization disabled", zap.Error(err))
			prefStore = nil
		} else if err := prefStore.Migrate(ctx); err != nil {
			zap.L().Warn("preference store migrate failed, personalization disabled", zap.Error(err))
			_ = prefStore.Close()
			prefStore = nil
		}
	}

	var prefSource pipeline.PreferenceSource
	if prefStore != nil {
		prefSource = prefStore
	}

	return &pipelineEnv{
		Cache:    store,
		Prefs:    prefStore,
		Pipeline: pipeline.New(cfg.Pipeline, gw, store, prefSource),
	}, nil
}

func initCache(ctx context.Context) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "redis":
		store, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		zap.L().Info("redis cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
		return store, nil
	case "", "memory":
		return cache.NewMemory(cfg.Cache.MaxEntries), nil
	default:
		return nil, eris.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func initProviders() ([]gateway.Provider, error) {
	var providers []gateway.Provider

	if cfg.Google.Enabled && cfg.Google.Key != "" {
		var opts []googleplaces.Option
		if cfg.Google.BaseURL != "" {
			opts = append(opts, googleplaces.WithBaseURL(cfg.Google.BaseURL))
		}
		providers = append(providers, gateway.NewGoogleProvider(googleplaces.NewClient(cfg.Google.Key, opts...)))
		zap.L().Info("google places provider enabled")
	} else {
		zap.L().Debug("DISCOVERY_GOOGLE_KEY not set or disabled, skipping google provider")
	}

	if cfg.Yelp.Enabled && cfg.Yelp.Key != "" {
		var opts []yelp.Option
		if cfg.Yelp.BaseURL != "" {
			opts = append(opts, yelp.WithBaseURL(cfg.Yelp.BaseURL))
		}
		providers = append(providers, gateway.NewYelpProvider(yelp.NewClient(cfg.Yelp.Key, opts...)))
		zap.L().Info("yelp provider enabled")
	} else {
		zap.L().Debug("DISCOVERY_YELP_KEY not set or disabled, skipping yelp provider")
	}

	if len(providers) == 0 {
		return nil, eris.New("no providers configured: set DISCOVERY_GOOGLE_KEY or DISCOVERY_YELP_KEY")
	}
	return providers, nil
}
