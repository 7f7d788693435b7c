// Package constraint resolves multi-entity spatial relations: "restaurant
// near a park with a playground". It is a pure function over per-entity
// candidate sets that have already been fetched and deduplicated.
//
// Only relations rooted at the anchor (left == 0) are evaluated. Relation
// chains between non-anchor entities are a known scope limitation, left
// unevaluated pending a real design decision rather than guessed at.
//
// The join is brute force, O(anchors × partners) per relation, which is fine
// below roughly a thousand total candidates.
package constraint

import (
	"sort"

	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/features"
	"github.com/around-me/discovery/internal/geo"
	"github.com/around-me/discovery/internal/model"
)

// DefaultNearDistanceM applies when a relation carries no distance.
const DefaultNearDistanceM = 500.0

// Stats summarizes one join pass for diagnostics.
type Stats struct {
	AnchorsIn  int `json:"anchors_in"`
	Kept       int `json:"kept"`
	Dropped    int `json:"dropped"`
	Unsolvable int `json:"relations_skipped"`
}

// Join filters anchor candidates (entity index 0) by spatial relations to
// partner candidates. An anchor survives only when every relation rooted at
// it finds a qualifying partner; survivors carry one matched partner per
// relation, the nearest candidate that passed the partner's must-haves and
// the distance bound.
func Join(
	entities []model.EntitySpec,
	relations []model.Relation,
	candidates map[int][]model.FusedPlace,
) ([]model.FusedPlace, Stats) {
	if len(entities) == 0 {
		return nil, Stats{}
	}

	anchorSpec := entities[0]
	anchors := filterByMustHaves(candidates[0], anchorSpec.MustHaves)
	stats := Stats{AnchorsIn: len(anchors)}

	anchorRelations := make([]model.Relation, 0, len(relations))
	for _, rel := range relations {
		if rel.Left != 0 {
			stats.Unsolvable++
			zap.L().Debug("constraint: skipping non-anchor relation",
				zap.Int("left", rel.Left),
				zap.Int("right", rel.Right),
			)
			continue
		}
		anchorRelations = append(anchorRelations, rel)
	}

	var kept []model.FusedPlace
	for _, anchor := range anchors {
		partners, ok := matchAll(anchor, anchorRelations, entities, candidates)
		if !ok {
			stats.Dropped++
			continue
		}
		anchor.MatchedPartners = partners
		kept = append(kept, anchor)
		stats.Kept++
	}

	return kept, stats
}

// matchAll resolves every relation for one anchor, all-or-nothing.
func matchAll(
	anchor model.FusedPlace,
	relations []model.Relation,
	entities []model.EntitySpec,
	candidates map[int][]model.FusedPlace,
) ([]model.MatchedPartner, bool) {
	var partners []model.MatchedPartner
	for _, rel := range relations {
		if rel.Right < 0 || rel.Right >= len(entities) {
			return nil, false
		}
		spec := entities[rel.Right]

		maxDistM := rel.DistanceM
		if maxDistM == 0 {
			maxDistM = DefaultNearDistanceM
		}

		partner, ok := nearestQualifying(anchor, candidates[rel.Right], spec, maxDistM)
		if !ok {
			return nil, false
		}
		partners = append(partners, partner)
	}
	return partners, true
}

// nearestQualifying picks the closest partner candidate that satisfies the
// entity's must-haves and sits within maxDistM of the anchor. Ties on
// distance keep the earlier candidate, so the result is deterministic for
// identical candidate sets.
func nearestQualifying(
	anchor model.FusedPlace,
	pool []model.FusedPlace,
	spec model.EntitySpec,
	maxDistM float64,
) (model.MatchedPartner, bool) {
	type scored struct {
		partner model.MatchedPartner
		dist    float64
		index   int
	}
	var qualifying []scored

	for i, cand := range pool {
		if cand.ID == anchor.ID {
			continue
		}
		satisfied, matched := features.CheckMustHaves(cand.Features, spec.MustHaves)
		if !satisfied {
			continue
		}
		dist := geo.DistanceM(anchor.Lat, anchor.Lng, cand.Lat, cand.Lng)
		if dist > maxDistM {
			continue
		}
		qualifying = append(qualifying, scored{
			partner: model.MatchedPartner{
				Kind:             spec.Kind,
				Name:             cand.Name,
				DistanceM:        dist,
				MatchedMustHaves: matched,
				Lat:              cand.Lat,
				Lng:              cand.Lng,
			},
			dist:  dist,
			index: i,
		})
	}

	if len(qualifying) == 0 {
		return model.MatchedPartner{}, false
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		if qualifying[i].dist != qualifying[j].dist {
			return qualifying[i].dist < qualifying[j].dist
		}
		return qualifying[i].index < qualifying[j].index
	})
	return qualifying[0].partner, true
}

func filterByMustHaves(pool []model.FusedPlace, mustHaves []string) []model.FusedPlace {
	if len(mustHaves) == 0 {
		return pool
	}
	var out []model.FusedPlace
	for _, cand := range pool {
		if ok, _ := features.CheckMustHaves(cand.Features, mustHaves); ok {
			out = append(out, cand)
		}
	}
	return out
}
