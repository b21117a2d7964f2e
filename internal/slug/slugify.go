package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultSeparator joins words in a slug.
const DefaultSeparator = "-"

var (
	disallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	gaps       = regexp.MustCompile(`[-\s]+`)
)

// Slugify normalizes text into a URL-safe slug.
//
// The text is decomposed (NFKD) so accented letters lose their marks,
// remaining non-ASCII is dropped, the result is lowercased, everything but
// letters, digits, whitespace and hyphens is removed, and runs of whitespace
// and hyphens collapse into sep. Leading and trailing separators are
// trimmed. An empty sep means DefaultSeparator.
func Slugify(text, sep string) string {
	if sep == "" {
		sep = DefaultSeparator
	}
	ascii, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(isNonASCII))), text)
	if err != nil {
		// The chain only drops runes; fall back to a byte filter.
		ascii = strings.Map(func(r rune) rune {
			if isNonASCII(r) {
				return -1
			}
			return r
		}, text)
	}
	s := strings.ToLower(ascii)
	s = disallowed.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = gaps.ReplaceAllString(s, sep)
	s = strings.Trim(s, sep+"-")
	return s
}

func isNonASCII(r rune) bool {
	return r > unicode.MaxASCII
}
