package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/around-me/discovery/internal/apperr"
	"github.com/around-me/discovery/internal/cache"
	"github.com/around-me/discovery/internal/config"
	"github.com/around-me/discovery/internal/gateway"
	"github.com/around-me/discovery/internal/model"
	"github.com/around-me/discovery/internal/resilience"
)

const (
	originLat = 37.7749
	originLng = -122.4194
)

type stubProvider struct {
	name    string
	records []model.ProviderRecord
	byText  map[string][]model.ProviderRecord
	err     error
	calls   atomic.Int32
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Search(_ context.Context, q gateway.Query) ([]model.ProviderRecord, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	if p.byText != nil {
		return p.byText[q.Text], nil
	}
	return p.records, nil
}

type stubPrefs struct {
	rules []model.PreferenceRule
}

func (s stubPrefs) ForUser(_ context.Context, _ string) ([]model.PreferenceRule, error) {
	return s.rules, nil
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxResultsPerProvider: 30,
		RequestTimeoutSecs:    5,
		MinResults:            3,
	}
}

func testPipeline(providers ...gateway.Provider) *Pipeline {
	gw := gateway.New(providers...).WithRetryConfig(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	})
	return New(testConfig(), gw, cache.NewMemory(64), nil)
}

func record(id, name string, lat, lng, rating float64, reviews int, feats map[string]float64) model.ProviderRecord {
	return model.ProviderRecord{
		Provider:    model.ProviderGoogle,
		ProviderID:  id,
		Name:        name,
		Category:    "cafe",
		Lat:         lat,
		Lng:         lng,
		Rating:      rating,
		ReviewCount: reviews,
		Features:    feats,
		FetchedAt:   time.Now(),
	}
}

// spread returns n records far enough apart that none of them dedupe.
func spread(n int) []model.ProviderRecord {
	records := make([]model.ProviderRecord, n)
	for i := range records {
		records[i] = record(
			fmt.Sprintf("g%d", i),
			fmt.Sprintf("Cafe %c", 'A'+i),
			originLat+float64(i)*0.003, originLng,
			4.0, 100, nil)
	}
	return records
}

func TestSearchFreshRanksAndReturns(t *testing.T) {
	p := testPipeline(&stubProvider{name: "google", records: []model.ProviderRecord{
		record("g1", "Lumen Roastery", originLat+0.003, originLng, 4.8, 2000, nil),
		record("g2", "Harbor Beans", originLat+0.050, originLng, 3.0, 5, nil),
		record("g3", "Dockside Grind", originLat+0.006, originLng, 4.1, 300, nil),
	}})

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng, RadiusM: 10000,
	})
	require.NoError(t, err)

	require.Len(t, resp.Places, 3)
	assert.Equal(t, "Lumen Roastery", resp.Places[0].Name)
	assert.NotEmpty(t, resp.ResultSetID)

	assert.False(t, resp.Debug.CacheHit)
	assert.Equal(t, "deterministic", resp.Debug.AgentMode)
	assert.Equal(t, "balanced", resp.Debug.RankingPreset)
	assert.NotEmpty(t, resp.Debug.TraceID)
	assert.Equal(t, 3, resp.Debug.Counts["provider_records"])
	assert.Equal(t, 3, resp.Debug.Counts["returned"])
	assert.Contains(t, resp.Debug.Timings, "providers_ms")
	assert.Contains(t, resp.Debug.Timings, "total_ms")
}

func TestSearchRejectsInvalidRequest(t *testing.T) {
	p := testPipeline(&stubProvider{name: "google"})

	_, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: 91, Lng: originLng,
	})

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestSearchCacheHitSkipsProviders(t *testing.T) {
	provider := &stubProvider{name: "google", records: spread(3)}
	p := testPipeline(provider)

	first, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
	})
	require.NoError(t, err)
	require.False(t, first.Debug.CacheHit)

	second, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
	})
	require.NoError(t, err)

	assert.True(t, second.Debug.CacheHit)
	assert.Equal(t, "cached", second.Debug.AgentMode)
	assert.Len(t, second.Places, len(first.Places))
	// The cached turn still gets its own result set for follow-ups.
	assert.NotEqual(t, first.ResultSetID, second.ResultSetID)
	assert.Equal(t, int32(1), provider.calls.Load())

	snap := p.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Searches)
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, 0.5, snap.CacheHitRate)
}

func TestSearchPartialProviderFailureDegrades(t *testing.T) {
	failing := &stubProvider{
		name: "yelp",
		err:  resilience.NewTransientError(eris.New("upstream 503"), 503),
	}
	p := testPipeline(&stubProvider{name: "google", records: spread(20)}, failing)

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng, RadiusM: 10000,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Places, 20)
	require.Len(t, resp.Debug.ProviderFailures, 1)
	assert.Equal(t, "yelp", resp.Debug.ProviderFailures[0].Provider)
	assert.Contains(t, resp.Debug.ProviderFailures[0].Error, "503")
	assert.Equal(t, int64(1), p.Metrics().Snapshot().ProviderFailures)
}

func TestSearchAllProvidersFailReturnsError(t *testing.T) {
	p := testPipeline(
		&stubProvider{name: "google", err: eris.New("401 invalid key")},
		&stubProvider{name: "yelp", err: eris.New("401 invalid key")},
	)

	_, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
	})

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindProvider, appErr.Kind)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	p := testPipeline(&stubProvider{name: "google", records: spread(10)})

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng, RadiusM: 10000, TopK: 4,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Places, 4)
	assert.Equal(t, 4, resp.Debug.Counts["returned"])
}

func TestSearchSparseResultsSuggestWiderRadius(t *testing.T) {
	p := testPipeline(&stubProvider{name: "google", records: spread(1)})

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
	})
	require.NoError(t, err)

	require.Len(t, resp.Places, 1)
	require.NotEmpty(t, resp.Debug.Validation)
	assert.Contains(t, resp.Debug.Validation, "retry with radius_m=6000")
}

func TestSearchFollowUpFiltersStoredSet(t *testing.T) {
	priceHigh := 3
	provider := &stubProvider{name: "google", records: []model.ProviderRecord{
		record("g1", "Lumen Roastery", originLat+0.003, originLng, 4.6, 200,
			map[string]float64{"feat_wifi": 1.0}),
		{Provider: model.ProviderGoogle, ProviderID: "g2", Name: "Harbor Beans",
			Category: "cafe", Lat: originLat + 0.006, Lng: originLng,
			Rating: 4.4, ReviewCount: 150, PriceLevel: &priceHigh, FetchedAt: time.Now()},
		record("g3", "Dockside Grind", originLat+0.009, originLng, 4.0, 90,
			map[string]float64{"feat_wifi": 0.2}),
	}}
	p := testPipeline(provider)

	first, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
		Context: &model.Context{ConversationID: "c1"},
	})
	require.NoError(t, err)
	require.Len(t, first.Places, 3)

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "with wifi", Lat: originLat, Lng: originLng,
		Filters: &model.Filters{Price: []int{0, 2}},
		Context: &model.Context{ConversationID: "c1", FollowUp: true},
	})
	require.NoError(t, err)

	require.Len(t, resp.Places, 1)
	assert.Equal(t, "Lumen Roastery", resp.Places[0].Name)
	assert.Equal(t, "followup", resp.Debug.AgentMode)
	assert.Equal(t, 3, resp.Debug.Counts["before"])
	assert.Equal(t, 1, resp.Debug.Counts["after"])
	// Refinement never goes back to the providers.
	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Equal(t, int64(1), p.Metrics().Snapshot().FollowUps)
}

func TestSearchFollowUpWithoutPriorSetFallsBack(t *testing.T) {
	provider := &stubProvider{name: "google", records: spread(3)}
	p := testPipeline(provider)

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
		Context: &model.Context{ConversationID: "never-seen", FollowUp: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "deterministic", resp.Debug.AgentMode)
	assert.Len(t, resp.Places, 3)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestSearchMultiEntityJoinsAnchors(t *testing.T) {
	provider := &stubProvider{name: "google", byText: map[string][]model.ProviderRecord{
		"ramen": {
			record("r1", "Menya Ichi", originLat, originLng, 4.5, 400, nil),
			record("r2", "Noodle Barn", originLat+0.050, originLng, 4.2, 250, nil),
		},
		"park": {
			record("p1", "Willow Park", originLat+0.003, originLng, 4.7, 900,
				map[string]float64{"feat_playground": 1.0}),
			record("p2", "Far Meadow", originLat+0.100, originLng, 4.9, 1200,
				map[string]float64{"feat_playground": 1.0}),
		},
	}}
	p := testPipeline(provider)

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "ramen", Lat: originLat, Lng: originLng, RadiusM: 20000,
		MultiEntity: &model.MultiEntityIntent{
			Entities: []model.EntitySpec{
				{Kind: "restaurant"},
				{Kind: "park", MustHaves: []string{"playground"}},
			},
			Relations: []model.Relation{
				{Left: 0, Right: 1, Kind: model.RelationNear, DistanceM: 500},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Places, 1)
	assert.Equal(t, "Menya Ichi", resp.Places[0].Name)
	require.Len(t, resp.Places[0].MatchedPartners, 1)
	partner := resp.Places[0].MatchedPartners[0]
	assert.Equal(t, "park", partner.Kind)
	assert.Equal(t, "Willow Park", partner.Name)
	assert.Less(t, partner.DistanceM, 500.0)
	assert.Equal(t, []string{"playground"}, partner.MatchedMustHaves)

	assert.Equal(t, 2, resp.Debug.ConstraintsSatisfied["anchors_in"])
	assert.Equal(t, 1, resp.Debug.ConstraintsSatisfied["kept"])
	assert.Equal(t, 1, resp.Debug.ConstraintsSatisfied["dropped"])
	assert.Equal(t, 1, resp.Debug.Counts["joined"])
	assert.Contains(t, resp.Debug.Timings, "join_ms")
}

func TestSearchDropsRecordsOutsideRadius(t *testing.T) {
	p := testPipeline(&stubProvider{name: "google", records: []model.ProviderRecord{
		record("g1", "Lumen Roastery", originLat+0.003, originLng, 4.8, 2000, nil),
		record("g2", "Dockside Grind", originLat+0.006, originLng, 4.1, 300, nil),
		// Roughly 11 km out; providers sometimes ignore the radius hint.
		record("g3", "Valley Outpost", originLat+0.100, originLng, 4.9, 5000, nil),
	}})

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
	})
	require.NoError(t, err)

	require.Len(t, resp.Places, 2)
	for _, place := range resp.Places {
		assert.NotEqual(t, "Valley Outpost", place.Name)
	}
	assert.Equal(t, 3, resp.Debug.Counts["provider_records"])
	assert.Equal(t, 2, resp.Debug.Counts["in_radius"])
}

// sessionFaultStore fails reads of session keys while leaving the rest of the
// store healthy, the shape of a Redis node that lost the result-set slots.
type sessionFaultStore struct {
	cache.Store
}

func (s sessionFaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, "result_set:") || strings.HasPrefix(key, "conversation:") {
		return nil, eris.New("connection refused")
	}
	return s.Store.Get(ctx, key)
}

func TestSearchFollowUpDegradesWhenSessionStoreFails(t *testing.T) {
	provider := &stubProvider{name: "google", records: spread(3)}
	gw := gateway.New(provider).WithRetryConfig(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	})
	p := New(testConfig(), gw, sessionFaultStore{Store: cache.NewMemory(64)}, nil)

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
		Context: &model.Context{ConversationID: "c1", FollowUp: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "deterministic", resp.Debug.AgentMode)
	assert.Len(t, resp.Places, 3)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestSearchAppliesStoredPreferences(t *testing.T) {
	gw := gateway.New(&stubProvider{name: "google", records: []model.ProviderRecord{
		record("g1", "Echo Room", originLat+0.003, originLng, 4.2, 100, nil),
		record("g2", "Pixel Den", originLat+0.003, originLng+0.003, 4.2, 100,
			map[string]float64{"feat_quiet": 1.0}),
	}})
	p := New(testConfig(), gw, cache.NewMemory(64),
		stubPrefs{rules: []model.PreferenceRule{{FeatureKey: "quiet", Weight: 1.0}}})

	resp, err := p.Search(context.Background(), &model.SearchRequest{
		Query: "coffee", Lat: originLat, Lng: originLng,
		Context: &model.Context{UserID: "u1"},
	})
	require.NoError(t, err)

	require.Len(t, resp.Places, 2)
	assert.Equal(t, "Pixel Den", resp.Places[0].Name)
	assert.Equal(t, 0.05, resp.Places[0].Evidence["preferences"])
	assert.NotContains(t, resp.Places[1].Evidence, "preferences")
}
