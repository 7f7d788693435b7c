// Package pipeline orchestrates a search request through its fixed stage
// order: plan, call providers, fuse/dedupe, constraint join (multi-entity
// only), score/rank, validate, format. Provider and cache I/O is isolated to
// their stages; the middle stages are pure functions over in-memory data.
package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/apperr"
	"github.com/around-me/discovery/internal/cache"
	"github.com/around-me/discovery/internal/config"
	"github.com/around-me/discovery/internal/constraint"
	"github.com/around-me/discovery/internal/features"
	"github.com/around-me/discovery/internal/fusion"
	"github.com/around-me/discovery/internal/geo"
	"github.com/around-me/discovery/internal/gateway"
	"github.com/around-me/discovery/internal/model"
	"github.com/around-me/discovery/internal/ranking"
	"github.com/around-me/discovery/internal/session"
)

// PreferenceSource supplies a user's stored preference rules. May be nil when
// personalization is disabled.
type PreferenceSource interface {
	ForUser(ctx context.Context, userID string) ([]model.PreferenceRule, error)
}

// Pipeline executes search requests.
type Pipeline struct {
	cfg     config.PipelineConfig
	gw      *gateway.Gateway
	cache   cache.Store
	results *session.ResultStore
	prefs   PreferenceSource
	metrics *Metrics
}

// New creates a Pipeline.
func New(cfg config.PipelineConfig, gw *gateway.Gateway, store cache.Store, prefs PreferenceSource) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		gw:      gw,
		cache:   store,
		results: session.NewResultStore(store),
		prefs:   prefs,
		metrics: NewMetrics(),
	}
}

// Metrics exposes the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// cachedPayload is the cached form of a completed fresh search.
type cachedPayload struct {
	Places []model.FusedPlace `json:"places"`
	Counts map[string]int     `json:"counts"`
}

// Search executes one request end to end. Validation and parse failures
// return an error; provider failures degrade into diagnostics.
func (p *Pipeline) Search(ctx context.Context, req *model.SearchRequest) (*model.SearchResponse, error) {
	traceID := uuid.NewString()
	start := time.Now()

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.metrics.searches.Add(1)
	_, preset := ranking.PresetWeights(req.Preset())

	log := zap.L().With(zap.String("trace_id", traceID))
	log.Info("search start",
		zap.String("query", req.Query),
		zap.Float64("lat", req.Lat),
		zap.Float64("lng", req.Lng),
		zap.Int("radius_m", req.RadiusM),
		zap.String("preset", preset))

	if p.cfg.RequestTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout())
		defer cancel()
	}

	if req.Context != nil && req.Context.FollowUp {
		if resp, ok := p.followUp(ctx, req, traceID, preset, start); ok {
			return resp, nil
		}
		// No live result set: silently fall through to a fresh search.
		log.Info("follow-up fell back to fresh search")
	}

	key := cache.Fingerprint(req, preset)
	if resp, ok := p.fromCache(ctx, req, key, traceID, preset, start); ok {
		log.Info("cache hit", zap.String("key", key))
		return resp, nil
	}

	return p.fresh(ctx, req, key, traceID, preset, start)
}

// fresh runs the full provider pipeline.
func (p *Pipeline) fresh(ctx context.Context, req *model.SearchRequest, key, traceID, preset string, start time.Time) (*model.SearchResponse, error) {
	timings := make(map[string]float64)
	counts := make(map[string]int)

	debug := model.Debug{
		Timings:       timings,
		Counts:        counts,
		TraceID:       traceID,
		RankingPreset: preset,
		AgentMode:     "deterministic",
	}

	var places []model.FusedPlace
	var failures []model.ProviderFailure
	providerCalls := 0

	if req.MultiEntity != nil {
		joined, joinStats, multiFailures, calls := p.multiEntity(ctx, req, timings, counts)
		places = joined
		failures = multiFailures
		providerCalls = calls
		debug.ConstraintsSatisfied = map[string]int{
			"anchors_in":        joinStats.AnchorsIn,
			"kept":              joinStats.Kept,
			"dropped":           joinStats.Dropped,
			"relations_skipped": joinStats.Unsolvable,
		}
	} else {
		stageStart := time.Now()
		q := p.planQuery(req, req.Query, "")
		timings["plan_ms"] = msSince(stageStart)

		stageStart = time.Now()
		records, fetchFailures := p.gw.Search(ctx, q)
		failures = fetchFailures
		providerCalls = 1
		timings["providers_ms"] = msSince(stageStart)
		counts["provider_records"] = len(records)

		records = inRadius(records, req.Lat, req.Lng, float64(req.RadiusM))
		counts["in_radius"] = len(records)

		stageStart = time.Now()
		fused, stats := fusion.Fuse(records, req.Lat, req.Lng)
		timings["fuse_ms"] = msSince(stageStart)
		counts["fused"] = stats.Output
		counts["duplicates_removed"] = stats.DuplicatesRemoved
		places = fused
	}
	p.metrics.providerFailures.Add(int64(len(failures)))
	debug.ProviderFailures = failures

	providerCount := len(p.gw.Providers())
	if providerCount > 0 && len(places) == 0 && len(failures) == providerCalls*providerCount {
		return nil, apperr.Provider("all", "every provider failed; nothing to return")
	}

	// Score and rank.
	stageStart := time.Now()
	rules := p.preferenceRules(ctx, req)
	places = ranking.Rank(places, preset, filtersOrEmpty(req), rules)
	timings["rank_ms"] = msSince(stageStart)

	if len(places) > req.TopK {
		places = places[:req.TopK]
	}
	counts["returned"] = len(places)

	// Validate coverage.
	stageStart = time.Now()
	debug.Validation = p.validate(req, len(places))
	timings["validate_ms"] = msSince(stageStart)

	resultSetID, err := p.results.Save(ctx, places, conversationID(req))
	if err != nil {
		// A dead session store degrades follow-ups, not this response.
		zap.L().Warn("result set save failed", zap.String("trace_id", traceID), zap.Error(err))
	}

	timings["total_ms"] = msSince(start)
	debug.CacheHit = false

	resp := &model.SearchResponse{
		Places:      places,
		Debug:       debug,
		ResultSetID: resultSetID,
	}

	// Cache only searches where at least one provider delivered.
	if providerCalls > 0 && len(failures) < providerCalls*len(p.gw.Providers()) {
		p.writeCache(ctx, key, places, counts)
	}

	p.metrics.placesReturned.Add(int64(len(places)))
	zap.L().Info("search complete",
		zap.String("trace_id", traceID),
		zap.Int("count", len(places)),
		zap.Float64("total_ms", timings["total_ms"]))

	return resp, nil
}

// multiEntity fetches and fuses candidates per entity, then joins them.
func (p *Pipeline) multiEntity(ctx context.Context, req *model.SearchRequest, timings map[string]float64, counts map[string]int) ([]model.FusedPlace, constraint.Stats, []model.ProviderFailure, int) {
	intent := req.MultiEntity

	stageStart := time.Now()
	queries := make([]gateway.Query, len(intent.Entities))
	for i, entity := range intent.Entities {
		text := entity.Kind
		if i == 0 && req.Query != "" {
			text = req.Query
		}
		queries[i] = p.planQuery(req, text, entity.Kind)
	}
	timings["plan_ms"] = msSince(stageStart)

	stageStart = time.Now()
	candidates := make(map[int][]model.FusedPlace, len(intent.Entities))
	var failures []model.ProviderFailure
	totalRecords := 0

	var fuseMs float64
	for i, q := range queries {
		records, fetchFailures := p.gw.Search(ctx, q)
		failures = append(failures, fetchFailures...)
		totalRecords += len(records)
		records = inRadius(records, req.Lat, req.Lng, float64(req.RadiusM))

		fuseStart := time.Now()
		fused, _ := fusion.Fuse(records, req.Lat, req.Lng)
		fuseMs += msSince(fuseStart)
		candidates[i] = fused
	}
	timings["providers_ms"] = msSince(stageStart) - fuseMs
	timings["fuse_ms"] = fuseMs
	counts["provider_records"] = totalRecords

	stageStart = time.Now()
	joined, stats := constraint.Join(intent.Entities, intent.Relations, candidates)
	timings["join_ms"] = msSince(stageStart)
	counts["fused"] = len(candidates[0])
	counts["joined"] = len(joined)

	return joined, stats, failures, len(queries)
}

// followUp re-filters the prior result set instead of hitting providers.
// Returns ok=false when no live set exists or the store cannot be read.
func (p *Pipeline) followUp(ctx context.Context, req *model.SearchRequest, traceID, preset string, start time.Time) (*model.SearchResponse, bool) {
	previous, err := p.loadPrevious(ctx, req)
	if err != nil {
		// A broken session store degrades the follow-up into a fresh
		// search, same as an expired result set.
		zap.L().Warn("previous result set unavailable", zap.String("trace_id", traceID), zap.Error(err))
		return nil, false
	}
	if previous == nil {
		return nil, false
	}
	p.metrics.followUps.Add(1)

	mustHaves := features.MustHavesFromText(req.Query)
	filters := filtersOrEmpty(req)

	filtered := make([]model.FusedPlace, 0, len(previous))
	for _, place := range previous {
		if !followUpKeeps(place, filters, mustHaves) {
			continue
		}
		filtered = append(filtered, place)
	}

	resultSetID, err := p.results.Save(ctx, filtered, conversationID(req))
	if err != nil {
		zap.L().Warn("result set save failed", zap.String("trace_id", traceID), zap.Error(err))
	}

	places := filtered
	if len(places) > req.TopK {
		places = places[:req.TopK]
	}
	p.metrics.placesReturned.Add(int64(len(places)))

	zap.L().Info("follow-up complete",
		zap.String("trace_id", traceID),
		zap.Int("before", len(previous)),
		zap.Int("after", len(filtered)))

	return &model.SearchResponse{
		Places: places,
		Debug: model.Debug{
			Timings:       map[string]float64{"followup_filter_ms": msSince(start), "total_ms": msSince(start)},
			Counts:        map[string]int{"before": len(previous), "after": len(filtered)},
			TraceID:       traceID,
			RankingPreset: preset,
			AgentMode:     "followup",
		},
		ResultSetID: resultSetID,
	}, true
}

func (p *Pipeline) loadPrevious(ctx context.Context, req *model.SearchRequest) ([]model.FusedPlace, error) {
	if req.Context.ResultSetID != "" {
		return p.results.Get(ctx, req.Context.ResultSetID)
	}
	if req.Context.ConversationID != "" {
		return p.results.Latest(ctx, req.Context.ConversationID)
	}
	return nil, nil
}

// inRadius drops provider records outside the requested radius. Providers
// treat the radius as a hint, so the bound is enforced here before fusion
// sees the records. A bounding-box check culls the obvious outliers cheaply;
// survivors get the exact haversine test.
func inRadius(records []model.ProviderRecord, lat, lng, radiusM float64) []model.ProviderRecord {
	box := geo.BoundingBox(lat, lng, radiusM)
	kept := records[:0]
	for _, r := range records {
		if !geo.ContainsPoint(box, r.Lat, r.Lng) {
			continue
		}
		if !geo.WithinRadius(lat, lng, r.Lat, r.Lng, radiusM) {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// followUpKeeps applies the refinement filters to one stored place.
func followUpKeeps(place model.FusedPlace, filters model.Filters, mustHaves []string) bool {
	if len(filters.Price) > 0 && place.PriceLevel != nil && !filters.PriceMatches(*place.PriceLevel) {
		return false
	}
	if len(filters.Categories) > 0 && !matchesCategory(place, filters.Categories) {
		return false
	}
	if len(mustHaves) > 0 {
		if satisfied, _ := features.CheckMustHaves(place.Features, mustHaves); !satisfied {
			return false
		}
	}
	return true
}

func matchesCategory(place model.FusedPlace, categories []string) bool {
	for _, c := range categories {
		if place.Category == c {
			return true
		}
	}
	return false
}

// fromCache serves a fingerprint hit. The cached places are re-saved as a new
// result set so the conversation can refine them.
func (p *Pipeline) fromCache(ctx context.Context, req *model.SearchRequest, key, traceID, preset string, start time.Time) (*model.SearchResponse, bool) {
	data, err := p.cache.Get(ctx, key)
	if err != nil {
		if !eris.Is(err, cache.ErrMiss) {
			zap.L().Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var payload cachedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		zap.L().Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	p.metrics.cacheHits.Add(1)

	resultSetID, err := p.results.Save(ctx, payload.Places, conversationID(req))
	if err != nil {
		zap.L().Warn("result set save failed", zap.String("trace_id", traceID), zap.Error(err))
	}

	places := payload.Places
	if len(places) > req.TopK {
		places = places[:req.TopK]
	}
	p.metrics.placesReturned.Add(int64(len(places)))

	return &model.SearchResponse{
		Places: places,
		Debug: model.Debug{
			Timings:       map[string]float64{"total_ms": msSince(start)},
			Counts:        payload.Counts,
			CacheHit:      true,
			TraceID:       traceID,
			RankingPreset: preset,
			AgentMode:     "cached",
		},
		ResultSetID: resultSetID,
	}, true
}

func (p *Pipeline) writeCache(ctx context.Context, key string, places []model.FusedPlace, counts map[string]int) {
	data, err := json.Marshal(cachedPayload{Places: places, Counts: counts})
	if err != nil {
		zap.L().Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := p.cache.Set(ctx, key, data, cache.FreshSearchTTL); err != nil {
		zap.L().Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// validate checks result coverage and proposes fallbacks.
func (p *Pipeline) validate(req *model.SearchRequest, count int) []string {
	minResults := p.cfg.MinResults
	if minResults <= 0 {
		minResults = 5
	}

	var suggestions []string
	switch {
	case count == 0:
		suggestions = append(suggestions, "no results found; try broadening the search criteria")
	case count < minResults:
		suggestions = append(suggestions, "few results found; consider increasing the search radius")
	}
	if count < minResults && req.RadiusM < model.MaxRadiusM {
		wider := min(req.RadiusM*2, model.MaxRadiusM)
		suggestions = append(suggestions, "retry with radius_m="+strconv.Itoa(wider))
	}
	return suggestions
}

func (p *Pipeline) planQuery(req *model.SearchRequest, text, category string) gateway.Query {
	if text == "" && category == "" && req.Filters != nil && len(req.Filters.Categories) > 0 {
		category = req.Filters.Categories[0]
	}
	return gateway.Query{
		Lat:        req.Lat,
		Lng:        req.Lng,
		RadiusM:    req.RadiusM,
		Text:       text,
		Category:   category,
		MaxResults: p.cfg.MaxResultsPerProvider,
	}
}

func (p *Pipeline) preferenceRules(ctx context.Context, req *model.SearchRequest) []model.PreferenceRule {
	if p.prefs == nil || req.Context == nil || req.Context.UserID == "" {
		return nil
	}
	rules, err := p.prefs.ForUser(ctx, req.Context.UserID)
	if err != nil {
		zap.L().Warn("preference lookup failed", zap.String("user_id", req.Context.UserID), zap.Error(err))
		return nil
	}
	return rules
}

func filtersOrEmpty(req *model.SearchRequest) model.Filters {
	if req.Filters == nil {
		return model.Filters{}
	}
	return *req.Filters
}

func conversationID(req *model.SearchRequest) string {
	if req.Context == nil {
		return ""
	}
	return req.Context.ConversationID
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
