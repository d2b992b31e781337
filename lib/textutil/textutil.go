package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// suffixes the portal appends to company names inconsistently
var companySuffixes = []string{"limited", "ltd.", "ltd"}

// NormalizeName lowercases, trims and collapses internal whitespace so
// offering names can be compared across pages that render them
// differently.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, " ")
	return name
}

// StripCompanySuffix removes a trailing corporate suffix ("Ltd.",
// "Limited") from an already-normalized name.
func StripCompanySuffix(name string) string {
	for _, suffix := range companySuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimRight(strings.TrimSuffix(name, suffix), " (")
		}
	}
	return name
}

// SameName reports whether two raw offering names refer to the same
// offering after normalization and suffix stripping.
func SameName(a, b string) bool {
	return StripCompanySuffix(NormalizeName(a)) == StripCompanySuffix(NormalizeName(b))
}
