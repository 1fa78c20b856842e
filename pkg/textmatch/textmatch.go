// Package textmatch holds the word-boundary phrase matching shared by scoring, routing and search.
package textmatch

import "strings"

// ContainsPhrase reports whether text contains phrase on word boundaries.
// Both arguments are expected in lower case.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], phrase)
		if idx == -1 {
			return false
		}
		start := offset + idx
		end := start + len(phrase)

		boundaryBefore := start == 0 || !isWordChar(text[start-1])
		boundaryAfter := end == len(text) || !isWordChar(text[end])
		if boundaryBefore && boundaryAfter {
			return true
		}
		offset = start + 1
	}
}

// Matches returns the phrases found in text, preserving input order.
func Matches(text string, phrases []string) []string {
	var out []string
	for _, p := range phrases {
		if ContainsPhrase(text, p) {
			out = append(out, p)
		}
	}
	return out
}

// Words splits text into lower-cased words with surrounding punctuation removed.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '\'' || r > 127)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isWordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
