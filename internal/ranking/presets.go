package ranking

// Weights holds the base-score component weights for a ranking preset.
// The three weights sum to 1.0 for every built-in preset.
type Weights struct {
	Rating   float64 `json:"rating"`
	Reviews  float64 `json:"reviews"`
	Distance float64 `json:"distance"`
}

// Built-in preset names.
const (
	PresetBalanced    = "balanced"
	PresetNearby      = "nearby"
	PresetReviewHeavy = "review-heavy"
)

var presets = map[string]Weights{
	PresetBalanced:    {Rating: 0.55, Reviews: 0.30, Distance: 0.15},
	PresetNearby:      {Rating: 0.35, Reviews: 0.20, Distance: 0.45},
	PresetReviewHeavy: {Rating: 0.45, Reviews: 0.50, Distance: 0.05},
}

// PresetWeights returns the weights for the named preset. Unknown names
// fall back to the balanced preset so that a bad request field degrades
// gracefully instead of failing the search.
func PresetWeights(name string) (Weights, string) {
	if w, ok := presets[name]; ok {
		return w, name
	}
	return presets[PresetBalanced], PresetBalanced
}
