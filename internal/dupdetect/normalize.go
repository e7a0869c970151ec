// Package dupdetect flags candidate leads that match existing leads or
// already-converted restaurants. It flags, it never filters: false
// positives in name/city matching are expected and the operator decides.
package dupdetect

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// vendorSuffixes lists common restaurant/entity suffixes to strip during
// name normalization.
var vendorSuffixes = []string{
	" LLC", " L.L.C.",
	" INC", " INC.",
	" LTD", " LTD.", " LIMITED",
	" GMBH", " BV", " B.V.",
	" RESTAURANT", " RESTAURANTE", " RISTORANTE",
	" CAFE", " KAFE", " COFFEE",
	" BISTRO", " EATERY", " KITCHEN",
	" BAR AND GRILL", " BAR & GRILL",
	" DELIVERY", " TAKEAWAY",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

var foldDiacritics = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName standardizes a business name for matching by:
//  1. Trimming whitespace and uppercasing
//  2. Folding diacritics (Café -> CAFE)
//  3. Removing common vendor/legal suffixes
//  4. Stripping punctuation
//  5. Collapsing runs of spaces
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(foldDiacritics, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	for _, suffix := range vendorSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
		"(", "",
		")", "",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeCity standardizes a city name: diacritics folded, uppercased,
// punctuation dropped, spaces collapsed.
func NormalizeCity(city string) string {
	city = strings.TrimSpace(city)
	if city == "" {
		return ""
	}
	if folded, _, err := transform.String(foldDiacritics, city); err == nil {
		city = folded
	}
	city = strings.ToUpper(city)
	city = strings.NewReplacer(",", "", ".", "", "-", " ").Replace(city)
	city = multiSpaceRe.ReplaceAllString(city, " ")
	return strings.TrimSpace(city)
}
