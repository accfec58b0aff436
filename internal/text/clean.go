package text

import (
	"regexp"
	"strings"
)

// URLPlaceholder replaces bare URLs in cleaned text.
const URLPlaceholder = "Link"

var (
	markdownLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	// A URL ends at any Unicode space, not only ASCII whitespace.
	urlRegex = regexp.MustCompile(`(?i)https?://[^\s\p{Z}\x{1c}-\x{1f}\x{85}]+`)

	// Anything outside the speakable allow-list becomes a space.
	bannedRegex = regexp.MustCompile(`[^a-zA-Z0-9\s.,!?;:'%\-]`)
)

// Clean returns text with markdown links reduced to their labels, bare URLs
// replaced with URLPlaceholder, characters outside the allow-list removed and
// whitespace collapsed.
func Clean(s string) string {
	s = markdownLinkRegex.ReplaceAllString(s, "$1")
	s = urlRegex.ReplaceAllString(s, URLPlaceholder)
	s = bannedRegex.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
