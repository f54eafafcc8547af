package catalog

import (
	"regexp"
	"strings"
)

var (
	// Bracketed spans carry packaging notes ("(export)", "（500g装）") that
	// must not influence matching. Shortest-match so adjacent spans are
	// removed independently.
	bracketSpan = regexp.MustCompile(`[\(（].*?[\)）]`)

	// Weight and count units from the source locale, longest token first.
	// The token must stand alone: surrounded by start/end or characters
	// outside the word class used for matching.
	unitToken = regexp.MustCompile(`(^|[^0-9a-z_\x{4e00}-\x{9fff}])(千克|公斤|kg|克|斤|箱|袋|包|g)($|[^0-9a-z_\x{4e00}-\x{9fff}])`)

	// Everything that is not a word character, whitespace, a bracket, or a
	// CJK ideograph collapses to a space.
	nonWord    = regexp.MustCompile(`[^\w\s\(\)（）\x{4e00}-\x{9fff}]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize turns a raw free-text product label into the canonical lookup
// key. Deterministic and idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = bracketSpan.ReplaceAllString(s, "")
	s = stripUnitTokens(s)
	s = nonWord.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// stripUnitTokens removes standalone unit words. Replacement keeps the
// delimiters, so adjacent tokens can share one; iterate to a fixed point.
func stripUnitTokens(s string) string {
	for {
		next := unitToken.ReplaceAllString(s, "$1$3")
		if next == s {
			return s
		}
		s = next
	}
}
