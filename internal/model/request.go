package model

// Relation kinds between a multi-entity anchor and a partner entity.
const (
	RelationNear           = "NEAR"
	RelationWithinDistance = "WITHIN_DISTANCE"
)

// Request bounds. Values outside these ranges are rejected before the
// pipeline runs.
const (
	MinRadiusM = 100
	MaxRadiusM = 50000
	MinTopK    = 1
	MaxTopK    = 100

	DefaultRadiusM = 3000
	DefaultTopK    = 30
)

// Filters narrows a search. Price is a two-element [lo, hi] range of price
// levels; Categories matches against the fused place category.
type Filters struct {
	Price      []int    `json:"price,omitempty"`
	OpenNow    *bool    `json:"open_now,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// PriceMatches reports whether a price level satisfies the filter's price
// range. An empty filter matches everything.
func (f Filters) PriceMatches(level int) bool {
	switch len(f.Price) {
	case 0:
		return true
	case 1:
		return level == f.Price[0]
	default:
		return level >= f.Price[0] && level <= f.Price[len(f.Price)-1]
	}
}

// EntitySpec describes one entity of a multi-entity query. Entity index 0 is
// always the anchor.
type EntitySpec struct {
	Kind      string   `json:"kind"`
	MustHaves []string `json:"must_haves,omitempty"`
	Filters   *Filters `json:"filters,omitempty"`
}

// Relation is a spatial relation between two entities by index. DistanceM
// defaults to 500 when unset.
type Relation struct {
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Kind      string  `json:"relation"`
	DistanceM float64 `json:"distance_m,omitempty"`
}

// MultiEntityIntent is the structured form of queries like "restaurant near a
// park with a playground", produced by the upstream intent parser.
type MultiEntityIntent struct {
	Entities  []EntitySpec `json:"entities"`
	Relations []Relation   `json:"relations,omitempty"`
}

// Context carries conversational state across search turns.
type Context struct {
	ConversationID string `json:"conversation_id,omitempty"`
	ResultSetID    string `json:"result_set_id,omitempty"`
	FollowUp       bool   `json:"follow_up,omitempty"`
	AgentMode      string `json:"agent_mode,omitempty"`
	RankingPreset  string `json:"ranking_preset,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// SearchRequest is the inbound search operation.
type SearchRequest struct {
	Query       string             `json:"query,omitempty"`
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	RadiusM     int                `json:"radius_m,omitempty"`
	Filters     *Filters           `json:"filters,omitempty"`
	MultiEntity *MultiEntityIntent `json:"multi_entity,omitempty"`
	Context     *Context           `json:"context,omitempty"`
	TopK        int                `json:"top_k,omitempty"`
}

// ApplyDefaults fills zero-valued optional request fields.
func (r *SearchRequest) ApplyDefaults() {
	if r.RadiusM == 0 {
		r.RadiusM = DefaultRadiusM
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
}

// Preset returns the requested ranking preset, empty when absent.
func (r *SearchRequest) Preset() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.RankingPreset
}

// ProviderFailure records one provider that exhausted retries during a search.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Debug is the diagnostic block attached to every response.
type Debug struct {
	Timings              map[string]float64 `json:"timings"`
	CacheHit             bool               `json:"cache_hit"`
	TraceID              string             `json:"trace_id"`
	Counts               map[string]int     `json:"counts_before_after"`
	RankingPreset        string             `json:"ranking_preset"`
	ConstraintsSatisfied map[string]int     `json:"constraints_satisfied,omitempty"`
	ProviderFailures     []ProviderFailure  `json:"provider_failures,omitempty"`
	Validation           []string           `json:"validation,omitempty"`
	AgentMode            string             `json:"agent_mode,omitempty"`
}

// SearchResponse is the outbound search result.
type SearchResponse struct {
	Places      []FusedPlace `json:"places"`
	Debug       Debug        `json:"debug"`
	ResultSetID string       `json:"result_set_id"`
}
