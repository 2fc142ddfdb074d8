package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes chunk text before it is sent to the embedder: whitespace runs
// collapse to one space and control characters left by extractors are dropped.
// Offsets and chunk identities always refer to the unprocessed text.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
