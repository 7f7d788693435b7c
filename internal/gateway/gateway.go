// Package gateway fans a search out to every configured place provider
// concurrently, retries transient failures per provider, and normalizes
// native shapes into the common ProviderRecord. A provider that exhausts its
// retries contributes zero records and a diagnostics entry; it never aborts
// the request.
package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/around-me/discovery/internal/model"
	"github.com/around-me/discovery/internal/resilience"
)

// Query is one provider search, already reduced to the fields every provider
// understands. Text drives a text-search style call; an empty Text with a
// Category drives a nearby/category call.
type Query struct {
	Lat        float64
	Lng        float64
	RadiusM    int
	Text       string
	Category   string
	MaxResults int
}

// Provider is one place-data source.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]model.ProviderRecord, error)
}

// Gateway runs queries across all configured providers.
type Gateway struct {
	providers []Provider
	retry     resilience.RetryConfig
}

// New creates a Gateway over the given providers with the default retry
// policy.
func New(providers ...Provider) *Gateway {
	return &Gateway{
		providers: providers,
		retry:     resilience.DefaultRetryConfig(),
	}
}

// WithRetryConfig overrides the per-provider retry policy.
func (g *Gateway) WithRetryConfig(cfg resilience.RetryConfig) *Gateway {
	g.retry = cfg
	return g
}

// Providers returns the configured provider names.
func (g *Gateway) Providers() []string {
	names := make([]string, len(g.providers))
	for i, p := range g.providers {
		names[i] = p.Name()
	}
	return names
}

// Search issues the query to every provider concurrently and returns the
// combined records plus one failure entry per provider that exhausted its
// retries.
func (g *Gateway) Search(ctx context.Context, q Query) ([]model.ProviderRecord, []model.ProviderFailure) {
	results := make([][]model.ProviderRecord, len(g.providers))

	var mu sync.Mutex
	var failures []model.ProviderFailure

	eg, ctx := errgroup.WithContext(ctx)
	for i, provider := range g.providers {
		eg.Go(func() error {
			start := time.Now()
			cfg := g.retry
			cfg.OnRetry = resilience.RetryLogger(provider.Name())

			records, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]model.ProviderRecord, error) {
				return provider.Search(ctx, q)
			})
			if err != nil {
				zap.L().Warn("provider failed",
					zap.String("provider", provider.Name()),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				mu.Lock()
				failures = append(failures, model.ProviderFailure{
					Provider: provider.Name(),
					Error:    err.Error(),
				})
				mu.Unlock()
				return nil
			}

			zap.L().Debug("provider returned",
				zap.String("provider", provider.Name()),
				zap.Int("count", len(records)),
				zap.Duration("elapsed", time.Since(start)))
			results[i] = records
			return nil
		})
	}
	_ = eg.Wait() // closures never return an error; failures are collected above

	var combined []model.ProviderRecord
	for _, records := range results {
		combined = append(combined, records...)
	}
	return combined, failures
}
