package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// IdentityKey derives the stable cross-source identity of an entry from
// its normalized title, release year, and canonical category. Two entries
// with the same key are the same video regardless of which source
// reported them.
func IdentityKey(title, year, categoryID string) string {
	return normalizeComponent(title) + "|" + normalizeComponent(year) + "|" + normalizeComponent(categoryID)
}

// normalizeComponent applies Unicode NFKC normalization and case folding,
// then collapses runs of whitespace to a single space. Full-width variants
// and casing differences common across providers collapse to one form.
// A Caser carries internal state and must not be shared across the
// goroutines of concurrent source workers, so each call gets its own.
func normalizeComponent(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
