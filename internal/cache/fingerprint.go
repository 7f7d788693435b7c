package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/around-me/discovery/internal/model"
)

// fingerprintPrefix namespaces fresh-search cache keys.
const fingerprintPrefix = "search:"

// Fingerprint derives the content-addressed cache key for a search request.
// Coordinates are rounded to six decimal places (~0.1 m) and filter slices
// are sorted before serialization, so semantically identical requests with
// reordered fields always produce the identical key.
func Fingerprint(req *model.SearchRequest, preset string) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(req.Query)),
		fmt.Sprintf("%.6f", req.Lat),
		fmt.Sprintf("%.6f", req.Lng),
		fmt.Sprintf("%d", req.RadiusM),
		preset,
	}

	if req.Filters != nil {
		parts = append(parts, canonicalJSON(canonicalFilters(*req.Filters)))
	}
	if req.MultiEntity != nil {
		parts = append(parts, canonicalJSON(canonicalIntent(*req.MultiEntity)))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:16]
}

// canonicalFilters returns a copy with slices sorted. The struct's fixed
// field order plus sorted slices makes the JSON form canonical.
func canonicalFilters(f model.Filters) model.Filters {
	f.Price = sortedInts(f.Price)
	f.Categories = sortedStrings(f.Categories)
	return f
}

// canonicalIntent sorts per-entity slices. Entity and relation order is
// semantic (index 0 is the anchor) and must not be reordered.
func canonicalIntent(intent model.MultiEntityIntent) model.MultiEntityIntent {
	entities := make([]model.EntitySpec, len(intent.Entities))
	for i, e := range intent.Entities {
		e.MustHaves = sortedStrings(e.MustHaves)
		if e.Filters != nil {
			canon := canonicalFilters(*e.Filters)
			e.Filters = &canon
		}
		entities[i] = e
	}
	intent.Entities = entities
	return intent
}

func canonicalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only unmarshalable types reach here; request structs never do.
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}

func sortedInts(in []int) []int {
	if len(in) == 0 {
		return in
	}
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	return out
}

func sortedStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
