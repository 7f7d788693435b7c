package fusion

import (
	"strings"
	"unicode"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Corporate suffixes stripped during name normalization. Punctuation is
// removed before these are applied, so the list holds the bare forms.
var corporateSuffixes = []string{" inc", " llc", " ltd", " corporation", " corp"}

var punctuationStripper = strings.NewReplacer(
	".", "", ",", "", "!", "", "?", "", ";", "", ":", "", `"`, "", "'", "", "(", "", ")", "",
)

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName prepares a place name for fuzzy comparison: fold diacritics,
// lowercase, strip punctuation, strip corporate suffixes, collapse
// whitespace. Idempotent: suffixes are stripped repeatedly, so a second pass
// is always a no-op.
func NormalizeName(name string) string {
	if folded, _, err := transform.String(diacriticFolder, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)
	name = punctuationStripper.Replace(name)
	name = strings.Join(strings.Fields(name), " ")

	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range corporateSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
				stripped = true
			}
		}
	}

	return name
}

// Similarity returns the fuzzy partial-ratio similarity of two normalized
// names, in [0, 100]. Symmetric.
func Similarity(a, b string) int {
	return fuzzy.PartialRatio(NormalizeName(a), NormalizeName(b))
}
