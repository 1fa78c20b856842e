package search

import (
	"fmt"
	"strings"
)

// BuildContext renders snippets as a context block, keeping at most
// maxSnippets entries and maxChars characters. The last snippet that fits
// partially is truncated.
func BuildContext(snippets []Snippet, maxSnippets, maxChars int) string {
	if maxSnippets > 0 && len(snippets) > maxSnippets {
		snippets = snippets[:maxSnippets]
	}
	var b strings.Builder
	for i, s := range snippets {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		header := fmt.Sprintf("[%d] %s", i+1, s.Source)
		if s.Ref != "" {
			header += ": " + s.Ref
		}
		block := header + "\n" + text + "\n\n"
		if maxChars > 0 {
			room := maxChars - b.Len()
			if room <= len(header)+1 {
				break
			}
			if len(block) > room {
				b.WriteString(truncate(block, room))
				break
			}
		}
		b.WriteString(block)
	}
	return strings.TrimSpace(b.String())
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
