// Package features normalizes amenity signals from providers and queries into
// a closed set of recognized feature keys. Unrecognized amenities still get a
// key (feat_<slug>) so providers can extend the set, but recognition and
// must-have matching go through the alias table, validated at ingestion
// rather than by ad hoc string matching downstream.
package features

import (
	"sort"
	"strings"
)

// PresenceThreshold is the minimum confidence at which a feature counts as
// present for must-have matching.
const PresenceThreshold = 0.5

// KeyPrefix namespaces every feature key.
const KeyPrefix = "feat_"

// aliasTable maps canonical feature names to the spellings providers and
// users produce for them.
var aliasTable = map[string][]string{
	"changing_station":      {"changing_station", "changing_table", "baby_changing", "diaper_changing"},
	"stroller_parking":      {"stroller_parking", "stroller_friendly", "pram_parking"},
	"playground":            {"playground", "play_area", "kids_play", "children_playground"},
	"family_friendly":       {"family_friendly", "kid_friendly", "kids_welcome", "children_welcome", "good_for_children"},
	"recliners":             {"recliners", "recliner_seats", "luxury_seating"},
	"dolby":                 {"dolby", "dolby_atmos", "dolby_cinema", "dolby_sound"},
	"shade":                 {"shade", "shaded_area", "covered_seating", "umbrella"},
	"outdoor_seating":       {"outdoor_seating", "patio", "terrace", "outdoor_dining", "garden_seating"},
	"wifi":                  {"wifi", "wireless", "internet", "free_wifi"},
	"wheelchair_accessible": {"wheelchair_accessible", "accessible", "ada_compliant"},
	"parking":               {"parking", "parking_lot", "valet_parking", "free_parking", "parking_options"},
	"pet_friendly":          {"pet_friendly", "dog_friendly", "pets_allowed", "allows_dogs"},
	"vegetarian":            {"vegetarian", "veggie_options", "vegetarian_friendly", "serves_vegetarian_food"},
	"vegan":                 {"vegan", "vegan_options", "plant_based"},
	"gluten_free":           {"gluten_free", "gf_options"},
	"takeout":               {"takeout", "take_out", "to_go"},
	"delivery":              {"delivery", "food_delivery"},
	"reservations":          {"reservations", "booking", "table_booking", "reservable"},
	"quiet":                 {"quiet", "peaceful", "calm", "relaxing"},
	"live_music":            {"live_music", "music", "entertainment"},
	"groups":                {"groups", "good_for_groups"},
}

var aliasToKey = func() map[string]string {
	m := make(map[string]string)
	for feature, aliases := range aliasTable {
		for _, alias := range aliases {
			m[alias] = KeyPrefix + feature
		}
	}
	return m
}()

// Key normalizes an amenity spelling to its feature key. Unrecognized text
// falls into the open extension namespace as feat_<slug>.
func Key(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	if key, ok := aliasToKey[slug]; ok {
		return key
	}
	return KeyPrefix + strings.ReplaceAll(slug, " ", "_")
}

// Recognized reports whether the amenity spelling maps to the closed key set.
func Recognized(text string) bool {
	_, ok := aliasToKey[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// FromText extracts features mentioned in free text (names, descriptions).
// Confidence grows with mention count but saturates at 1.0.
func FromText(text string) map[string]float64 {
	found := make(map[string]float64)
	lower := strings.ToLower(text)

	for feature, aliases := range aliasTable {
		for _, alias := range aliases {
			needle := strings.ReplaceAll(alias, "_", " ")
			count := strings.Count(lower, needle)
			if count == 0 {
				count = strings.Count(lower, alias)
			}
			if count > 0 {
				score := min(1.0, 0.3+float64(count)*0.2)
				key := KeyPrefix + feature
				if score > found[key] {
					found[key] = score
				}
				break
			}
		}
	}
	return found
}

// MustHavesFromText returns the canonical names of recognized features
// mentioned in free text, sorted. Used by follow-up turns to turn "with wifi"
// into a must-have without the upstream parser.
func MustHavesFromText(text string) []string {
	lower := strings.ToLower(text)

	var names []string
	for feature, aliases := range aliasTable {
		for _, alias := range aliases {
			if strings.Contains(lower, strings.ReplaceAll(alias, "_", " ")) || strings.Contains(lower, alias) {
				names = append(names, feature)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Merge combines feature maps, keeping the max confidence per key.
func Merge(maps ...map[string]float64) map[string]float64 {
	merged := make(map[string]float64)
	for _, m := range maps {
		for key, value := range m {
			if value > merged[key] {
				merged[key] = value
			}
		}
	}
	return merged
}

// CheckMustHaves reports whether every must-have is present above the
// threshold, and which ones matched.
func CheckMustHaves(have map[string]float64, mustHaves []string) (bool, []string) {
	var matched []string
	for _, mh := range mustHaves {
		if have[Key(mh)] >= PresenceThreshold {
			matched = append(matched, mh)
		}
	}
	return len(matched) == len(mustHaves), matched
}

// DisplayName renders a feature key for humans.
func DisplayName(key string) string {
	name := strings.TrimPrefix(key, KeyPrefix)
	return strings.ReplaceAll(name, "_", " ")
}
