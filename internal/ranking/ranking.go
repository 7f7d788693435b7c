// Package ranking scores fused places with preset-weighted base components
// and bounded bonuses, recording every contribution in an evidence map so the
// final score is fully explainable.
package ranking

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/around-me/discovery/internal/features"
	"github.com/around-me/discovery/internal/model"
)

const (
	// MaxDistanceKm is where the distance component bottoms out. Places
	// farther than this contribute zero distance score.
	MaxDistanceKm = 10.0

	// reviewLogDivisor saturates the log review curve: exp(8)-1 ≈ 2980
	// reviews reach the full component.
	reviewLogDivisor = 8.0

	// OpenNowBonus rewards places confirmed open when the request asked
	// for open places.
	OpenNowBonus = 0.05

	// PriceFitBonus is added when the price level falls inside the
	// requested range and subtracted when it falls outside.
	PriceFitBonus = 0.05

	// PreferenceStep scales each matching preference rule's weight.
	PreferenceStep = 0.05

	// PreferenceCap bounds the total personalization boost so stored
	// preferences can reorder results but never dominate the base score.
	PreferenceCap = 0.15
)

// Evidence component keys.
const (
	EvidenceRating      = "rating"
	EvidenceReviews     = "reviews"
	EvidenceDistance    = "distance"
	EvidenceOpenNow     = "open_now"
	EvidencePriceFit    = "price_fit"
	EvidencePreferences = "preferences"
)

// Score computes the final score and evidence breakdown for one place. The
// returned score is exactly the sum of the evidence values; it is never
// re-normalized and may exceed 1.0 once bonuses apply.
func Score(place *model.FusedPlace, w Weights, filters model.Filters, prefs []model.PreferenceRule) (float64, map[string]float64) {
	evidence := make(map[string]float64, 6)
	score := 0.0
	add := func(key string, value float64) {
		evidence[key] = value
		score += value
	}

	add(EvidenceRating, w.Rating*(place.Rating/5.0))
	add(EvidenceReviews, w.Reviews*math.Min(1.0, math.Log1p(float64(place.ReviewCount))/reviewLogDivisor))
	add(EvidenceDistance, w.Distance*(1.0-math.Min(place.DistanceKm, MaxDistanceKm)/MaxDistanceKm))

	if filters.OpenNow != nil && *filters.OpenNow && place.OpenNow != nil && *place.OpenNow {
		add(EvidenceOpenNow, OpenNowBonus)
	}

	if len(filters.Price) > 0 && place.PriceLevel != nil {
		if filters.PriceMatches(*place.PriceLevel) {
			add(EvidencePriceFit, PriceFitBonus)
		} else {
			add(EvidencePriceFit, -PriceFitBonus)
		}
	}

	if boost := preferenceBoost(place.Features, prefs); boost > 0 {
		add(EvidencePreferences, boost)
	}

	return score, evidence
}

// preferenceBoost sums weight-scaled boosts for preference rules whose
// feature is present on the place, hard-capped at PreferenceCap.
func preferenceBoost(have map[string]float64, prefs []model.PreferenceRule) float64 {
	boost := 0.0
	for _, rule := range prefs {
		if have[features.Key(rule.FeatureKey)] >= features.PresenceThreshold {
			boost += rule.Weight * PreferenceStep
		}
	}
	return math.Min(boost, PreferenceCap)
}

// Rank scores every place in-place and sorts by final score descending,
// review count descending, then name ascending so identical inputs always
// produce identical orderings.
func Rank(places []model.FusedPlace, preset string, filters model.Filters, prefs []model.PreferenceRule) []model.FusedPlace {
	w, resolved := PresetWeights(preset)

	for i := range places {
		score, evidence := Score(&places[i], w, filters, prefs)
		places[i].FinalScore = score
		places[i].Evidence = evidence
	}

	sort.SliceStable(places, func(i, j int) bool {
		if places[i].FinalScore != places[j].FinalScore {
			return places[i].FinalScore > places[j].FinalScore
		}
		if places[i].ReviewCount != places[j].ReviewCount {
			return places[i].ReviewCount > places[j].ReviewCount
		}
		return places[i].Name < places[j].Name
	})

	top := 0.0
	if len(places) > 0 {
		top = places[0].FinalScore
	}
	zap.L().Info("ranking complete",
		zap.String("preset", resolved),
		zap.Int("count", len(places)),
		zap.Float64("top_score", top))

	return places
}
