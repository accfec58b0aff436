package text

import (
	"regexp"
	"strings"
)

// slugWords is how many leading words make up a slug.
const slugWords = 5

var nonAlnumRegex = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// Slug derives a lowercase, underscore-joined name from the first words of
// s. It returns "audio" when s has no usable words.
func Slug(s string) string {
	words := strings.Fields(nonAlnumRegex.ReplaceAllString(s, ""))
	if len(words) == 0 {
		return "audio"
	}
	if len(words) > slugWords {
		words = words[:slugWords]
	}
	return strings.ToLower(strings.Join(words, "_"))
}
