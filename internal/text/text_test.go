package text

import (
	"reflect"
	"strings"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Hello world.", "Hello world."},
		{"markdown link", "See [the docs](https://example.com/docs) now.", "See the docs now."},
		{"bare url", "Visit https://example.com/a?b=c today", "Visit Link today"},
		{"uppercase scheme", "HTTP://EXAMPLE.COM is loud", "Link is loud"},
		{"banned characters", "a*b#c@d", "a b c d"},
		{"whitespace collapse", "  one \n\t two   three ", "one two three"},
		{"keeps punctuation", "Yes; no: maybe! 50% don't-care?", "Yes; no: maybe! 50% don't-care?"},
		{"non ascii", "café — naïve", "caf na ve"},
		{"url before nbsp", "Read https://example.com/docs\u00a0before you deploy.", "Read Link before you deploy."},
		{"url before ideographic space", "See http://e.com/a\u3000then go", "See Link then go"},
		{"nbsp between words", "Mrshttp://e.com/a.\u00a0VsMrsleft:1Dr", "MrsLink VsMrsleft:1Dr"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanRemovesBannedCharacters(t *testing.T) {
	inputs := []string{
		"<b>bold</b> & \"quoted\" {braces} [brackets] (parens)",
		"emoji 🎉 and tabs\tand ~tilde~ `code` $dollar ^caret",
		"# Heading\n* bullet\n> quote | pipe / slash \\ back",
	}

	for _, input := range inputs {
		for _, sentence := range Split(Clean(input)) {
			for _, r := range sentence {
				if !allowed(r) {
					t.Errorf("sentence %q from %q contains banned rune %q", sentence, input, r)
				}
			}
		}
	}
}

// allowed reports whether r may appear in cleaned text.
func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '.', r == ',', r == '!', r == '?', r == ';',
		r == ':', r == '\'', r == '%', r == '-':
		return true
	}
	return false
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "two sentences",
			input: "Dr. Smith said hello. He left.",
			want:  []string{"Dr. Smith said hello.", "He left."},
		},
		{
			name:  "abbreviation only",
			input: "Dr. Smith arrived.",
			want:  []string{"Dr. Smith arrived."},
		},
		{
			name:  "all abbreviations",
			input: "Mr. A met Mrs. B and Ms. C with Jr. D, Sr. E, Prof. F, Vol. G, No. H, Vs. I and Etc. J here. Done.",
			want: []string{
				"Mr. A met Mrs. B and Ms. C with Jr. D, Sr. E, Prof. F, Vol. G, No. H, Vs. I and Etc. J here.",
				"Done.",
			},
		},
		{
			name:  "abbreviation must be a whole word",
			input: "Take the HDr. Then go.",
			want:  []string{"Take the HDr.", "Then go."},
		},
		{
			name:  "mixed terminators",
			input: "Really?! Yes; certainly: now. End",
			want:  []string{"Really?!", "Yes;", "certainly:", "now.", "End"},
		},
		{
			name:  "no boundary",
			input: "  just one fragment  ",
			want:  []string{"just one fragment"},
		},
		{
			name:  "trailing punctuation without space",
			input: "First. Second.",
			want:  []string{"First.", "Second."},
		},
		{
			name:  "blank",
			input: "   ",
			want:  nil,
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitNeverBreaksAfterAbbreviation(t *testing.T) {
	for _, abbr := range abbreviations {
		input := "Ask " + abbr + ". Smith arrived."
		got := Split(input)
		if len(got) != 1 {
			t.Errorf("Split(%q) = %q, want one sentence", input, got)
		}
	}
}

func TestSplitRejoinsToCleanText(t *testing.T) {
	input := Clean("Hello there, friend. How are you? I'm fine; thanks!")
	got := strings.Join(Split(input), " ")
	if got != input {
		t.Errorf("rejoined %q, want %q", got, input)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Dr. Smith said hello. He left.", "dr_smith_said_hello_he"},
		{"Hi", "hi"},
		{"!!! ???", "audio"},
		{"", "audio"},
		{"It's 50% done", "its_50_done"},
	}

	for _, tt := range tests {
		if got := Slug(tt.input); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
