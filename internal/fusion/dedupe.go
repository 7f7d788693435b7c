// Package fusion clusters near-duplicate records across providers and picks
// one representative per cluster, keeping every member as provenance.
//
// Clustering is pairwise-test + union-find, so duplicate membership is
// transitive: if A–B and B–C pass the test, A and C land in one cluster even
// when A–C alone would fail. That is accepted behavior, not a bug to fix.
// Complexity is O(n²) over the combined per-request record set, which is fine
// below roughly a thousand records; a spatial index would be the next step if
// that bound ever moves.
package fusion

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/features"
	"github.com/around-me/discovery/internal/geo"
	"github.com/around-me/discovery/internal/model"
)

// Duplicate thresholds: both must hold for a pair to merge.
const (
	NameSimilarityThreshold = 82
	GeoThresholdM           = 120.0
)

// AreDuplicates reports whether two records refer to the same place:
// normalized-name partial-ratio similarity at least 82 and great-circle
// distance at most 120 m. Symmetric by construction.
func AreDuplicates(a, b model.ProviderRecord) bool {
	if Similarity(a.Name, b.Name) < NameSimilarityThreshold {
		return false
	}
	return geo.DistanceM(a.Lat, a.Lng, b.Lat, b.Lng) <= GeoThresholdM
}

// Stats summarizes one fusion pass.
type Stats struct {
	Input             int `json:"input_count"`
	Output            int `json:"output_count"`
	Clusters          int `json:"clusters_found"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]] // path compression
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[rj] = ri
	}
}

// clusters groups records into duplicate clusters, ordered by the first
// occurrence of each cluster in the input.
func clusters(records []model.ProviderRecord) [][]model.ProviderRecord {
	uf := newUnionFind(len(records))
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if AreDuplicates(records[i], records[j]) {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int][]model.ProviderRecord)
	var order []int
	for i, rec := range records {
		root := uf.find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], rec)
	}

	grouped := make([][]model.ProviderRecord, 0, len(order))
	for _, root := range order {
		grouped = append(grouped, byRoot[root])
	}
	return grouped
}

// representative picks the record that stands for a cluster: most reviews,
// then highest rating, then preferred provider. A member replaces the current
// pick only when strictly better, so ties keep the first-encountered record
// and the choice is a pure function of cluster membership order-independently
// whenever the tuple comparison is decisive.
func representative(cluster []model.ProviderRecord) model.ProviderRecord {
	best := cluster[0]
	for _, rec := range cluster[1:] {
		if better(rec, best) {
			best = rec
		}
	}
	return best
}

func better(a, b model.ProviderRecord) bool {
	if a.ReviewCount != b.ReviewCount {
		return a.ReviewCount > b.ReviewCount
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	return providerRank(a.Provider) < providerRank(b.Provider)
}

func providerRank(provider string) int {
	if provider == model.ProviderGoogle {
		return 0
	}
	return 1
}

// provenance describes every cluster member relative to the representative.
func provenance(cluster []model.ProviderRecord, rep model.ProviderRecord) []model.ProvenanceEntry {
	entries := make([]model.ProvenanceEntry, 0, len(cluster))
	for _, rec := range cluster {
		entries = append(entries, model.ProvenanceEntry{
			Provider:       rec.Provider,
			ProviderID:     rec.ProviderID,
			Name:           rec.Name,
			NameSimilarity: float64(Similarity(rec.Name, rep.Name)) / 100,
			GeoDistanceM:   geo.DistanceM(rec.Lat, rec.Lng, rep.Lat, rep.Lng),
			Rating:         rec.Rating,
			ReviewCount:    rec.ReviewCount,
			PriceLevel:     rec.PriceLevel,
		})
	}
	return entries
}

// Fuse deduplicates the combined provider records into one FusedPlace per
// cluster. DistanceKm is measured from the search origin; features are the
// per-key max across cluster members.
func Fuse(records []model.ProviderRecord, originLat, originLng float64) ([]model.FusedPlace, Stats) {
	if len(records) == 0 {
		return nil, Stats{}
	}

	grouped := clusters(records)

	fused := make([]model.FusedPlace, 0, len(grouped))
	for _, cluster := range grouped {
		rep := representative(cluster)

		featureMaps := make([]map[string]float64, 0, len(cluster))
		for _, rec := range cluster {
			featureMaps = append(featureMaps, rec.Features)
		}

		fused = append(fused, model.FusedPlace{
			ID:          uuid.New(),
			Name:        rep.Name,
			Category:    rep.Category,
			Lat:         rep.Lat,
			Lng:         rep.Lng,
			Rating:      rep.Rating,
			ReviewCount: rep.ReviewCount,
			PriceLevel:  rep.PriceLevel,
			Phone:       rep.Phone,
			Website:     rep.Website,
			MapsURL:     rep.MapsURL,
			Address:     rep.Address,
			OpenNow:     rep.OpenNow,
			DistanceKm:  geo.DistanceKm(originLat, originLng, rep.Lat, rep.Lng),
			Features:    features.Merge(featureMaps...),
			Provenance:  provenance(cluster, rep),
		})
	}

	stats := Stats{
		Input:             len(records),
		Output:            len(fused),
		Clusters:          len(grouped),
		DuplicatesRemoved: len(records) - len(fused),
	}

	zap.L().Info("fusion: deduplication complete",
		zap.Int("input", stats.Input),
		zap.Int("output", stats.Output),
		zap.Int("duplicates_removed", stats.DuplicatesRemoved),
	)

	return fused, stats
}
