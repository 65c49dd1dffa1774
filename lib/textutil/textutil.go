package textutil

import (
	"regexp"
	"strings"
)

var nonAlphanumRegex = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
var whitespaceRegex = regexp.MustCompile(`\s+`)

// CleanTitle strips trademark glyphs and punctuation from a storefront
// title and collapses whitespace, so that titles from different catalogs
// can be compared against each other.
func CleanTitle(title string) string {
	title = strings.NewReplacer("®", "", "™", "", "©", "").Replace(title)
	title = nonAlphanumRegex.ReplaceAllString(title, "")
	title = whitespaceRegex.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}

// NormalizeTitle is CleanTitle folded to lower case, the canonical
// form used for equality and containment checks.
func NormalizeTitle(title string) string {
	return strings.ToLower(CleanTitle(title))
}
