package chunks

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase index tokens. Words are cut at
// non-alphanumeric boundaries, then CamelCase and snake_case words are
// further split into constituents. Compound words index both the whole
// word and its parts so "HandleRequest" matches "handlerequest", "handle",
// and "request". Tokens under two characters are dropped.
func Tokenize(text string) []string {
	seen := make(map[string]bool)
	var tokens []string

	add := func(tok string) {
		tok = strings.ToLower(tok)
		if len(tok) < 2 || seen[tok] {
			return
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	for _, word := range splitWords(text) {
		parts := splitCompound(word)
		if len(parts) > 1 {
			add(word)
		}
		for _, part := range parts {
			add(part)
		}
		if len(parts) == 1 {
			add(word)
		}
	}
	return tokens
}

// splitWords cuts on any rune that is not a letter, digit, or underscore.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// splitCompound breaks snake_case on underscores and CamelCase at
// lower-to-upper transitions. Digit runs stay attached to the preceding
// letters ("v2" stays one token).
func splitCompound(word string) []string {
	var parts []string
	for _, seg := range strings.Split(word, "_") {
		if seg == "" {
			continue
		}
		parts = append(parts, splitCamel(seg)...)
	}
	return parts
}

func splitCamel(word string) []string {
	runes := []rune(word)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case i+1 < len(runes) && unicode.IsUpper(prev) && unicode.IsUpper(cur) && unicode.IsLower(runes[i+1]):
			// End of an acronym run: "HTTPServer" cuts before "Server".
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}
