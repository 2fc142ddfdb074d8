// Package search shapes ranked chunks into results: snippets, the keyword filter
// fallback and final ordering.
package search

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// Highlight returns at most maxLen bytes of content (plus ellipses), centred on the
// first occurrence of a query term. Without a match it keeps the beginning.
func Highlight(content, query string, maxLen int) string {
	content = strings.TrimSpace(content)
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	start := 0
	if pos, termLen := firstTerm(content, query); pos >= 0 {
		start = pos - (maxLen-termLen)/2
		if start < 0 {
			start = 0
		}
		if start+maxLen > len(content) {
			start = len(content) - maxLen
		}
	}
	end := start + maxLen
	start = alignStart(content, start)
	end = alignEnd(content, end)

	var b strings.Builder
	if start > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.TrimSpace(content[start:end]))
	if end < len(content) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

// firstTerm finds the earliest case-insensitive occurrence of any query term.
func firstTerm(content, query string) (int, int) {
	lower := strings.ToLower(content)
	// ToLower can change byte lengths for some scripts; offsets would not map back.
	if len(lower) != len(content) {
		return -1, 0
	}
	best, bestLen := -1, 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		term = strings.TrimFunc(term, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if utf8.RuneCountInString(term) < 2 {
			continue
		}
		if i := strings.Index(lower, term); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(term)
		}
	}
	return best, bestLen
}

// alignStart moves i forward to the next word start.
func alignStart(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	if j := strings.IndexAny(s[i:], " \t\n"); j >= 0 && j < 20 && !isSpace(s[i-1]) {
		return i + j + 1
	}
	return i
}

// alignEnd moves i back to a rune boundary, then to the previous word end.
func alignEnd(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if isSpace(s[i]) {
		return i
	}
	if j := strings.LastIndexAny(s[:i], " \t\n"); j >= 0 && i-j < 20 {
		return j
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}
