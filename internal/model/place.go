package model

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifiers. ProviderGoogle records are preferred when a duplicate
// cluster must pick a representative and all other tie-break keys are equal.
const (
	ProviderGoogle = "google"
	ProviderYelp   = "yelp"
)

// ProviderRecord is a place as returned by a single provider, normalized into
// the common shape. Records are immutable once produced by a normalizer.
type ProviderRecord struct {
	Provider    string   `json:"provider"`
	ProviderID  string   `json:"provider_id"`
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count,omitempty"`
	PriceLevel  *int     `json:"price_level,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Website     string   `json:"website,omitempty"`
	MapsURL     string   `json:"maps_url,omitempty"`
	Address     string   `json:"address,omitempty"`
	Types       []string `json:"types,omitempty"`
	OpenNow     *bool    `json:"open_now,omitempty"`

	// Features maps normalized feature keys (feat_*) to presence confidence
	// in [0,1], seeded from structured provider amenity fields.
	Features map[string]float64 `json:"features,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// ProvenanceEntry records one cluster member backing a fused place.
type ProvenanceEntry struct {
	Provider       string  `json:"provider"`
	ProviderID     string  `json:"provider_id"`
	Name           string  `json:"name"`
	NameSimilarity float64 `json:"name_similarity"`
	GeoDistanceM   float64 `json:"geo_distance_m"`
	Rating         float64 `json:"rating,omitempty"`
	ReviewCount    int     `json:"review_count,omitempty"`
	PriceLevel     *int    `json:"price_level,omitempty"`
}

// MatchedPartner is a partner place that satisfied one relation of a
// multi-entity query, attached to the anchor it qualified.
type MatchedPartner struct {
	Kind             string   `json:"kind"`
	Name             string   `json:"name"`
	DistanceM        float64  `json:"distance_m"`
	MatchedMustHaves []string `json:"matched_must_haves,omitempty"`
	Lat              float64  `json:"lat"`
	Lng              float64  `json:"lng"`
}

// FusedPlace is the canonical deduplicated place: the cluster representative's
// core fields plus provenance, scoring evidence, and any matched partners.
// FinalScore is the exact sum of the Evidence components and is deliberately
// not re-normalized, so it may exceed 1.0 once bonuses apply.
type FusedPlace struct {
	ID              uuid.UUID          `json:"id"`
	Name            string             `json:"name"`
	Category        string             `json:"category,omitempty"`
	Lat             float64            `json:"lat"`
	Lng             float64            `json:"lng"`
	Rating          float64            `json:"rating,omitempty"`
	ReviewCount     int                `json:"review_count,omitempty"`
	PriceLevel      *int               `json:"price_level,omitempty"`
	Phone           string             `json:"phone,omitempty"`
	Website         string             `json:"website,omitempty"`
	MapsURL         string             `json:"maps_url,omitempty"`
	Address         string             `json:"address,omitempty"`
	OpenNow         *bool              `json:"open_now,omitempty"`
	DistanceKm      float64            `json:"distance_km"`
	Features        map[string]float64 `json:"features,omitempty"`
	FinalScore      float64            `json:"final_score"`
	Evidence        map[string]float64 `json:"evidence,omitempty"`
	Provenance      []ProvenanceEntry  `json:"provenance"`
	MatchedPartners []MatchedPartner   `json:"matched_partners,omitempty"`
}

// PreferenceRule is one row of a user's stored preferences: a feature the
// user cares about and how strongly, in [0,1].
type PreferenceRule struct {
	FeatureKey string  `json:"feature_key"`
	Weight     float64 `json:"weight"`
}
