package text

import (
	"regexp"
	"strings"
	"unicode"
)

// Terminal punctuation followed by whitespace marks a boundary.
var boundaryRegex = regexp.MustCompile(`\s*([.?!;:]+)\s+`)

// abbreviations never end a sentence. Matching is case-sensitive and
// whole-word, so "Dr." suppresses a split but "HDr." does not.
var abbreviations = []string{
	"Mr", "Mrs", "Ms", "Dr", "Jr", "Sr", "Prof", "Vol", "No", "Vs", "Etc",
}

// Split breaks text into sentences. Each sentence keeps its terminal
// punctuation. Text without a boundary comes back as a single trimmed
// sentence and blank text yields no sentences.
func Split(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var (
		sentences []string
		last      int // start of the pending sentence
		pos       int // search offset
		found     bool
	)
	for pos < len(s) {
		loc := boundaryRegex.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if followsAbbreviation(s[:start]) {
			// Retry one byte later, the same way a lookbehind would.
			pos = start + 1
			continue
		}

		found = true
		body := strings.TrimSpace(s[last:start])
		if body != "" {
			sentences = append(sentences, body+s[pos+loc[2]:pos+loc[3]])
		}
		last, pos = end, end
	}

	if !found {
		return []string{strings.TrimSpace(s)}
	}
	if tail := strings.TrimSpace(s[last:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func followsAbbreviation(prefix string) bool {
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(prefix, abbr) {
			continue
		}
		rest := prefix[:len(prefix)-len(abbr)]
		if rest == "" {
			return true
		}
		r := []rune(rest)
		if !isWordRune(r[len(r)-1]) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
