// Package indexer provides chunking, incremental index maintenance and semantic search.
package indexer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/ragindex/internal/fileid"
	"github.com/hyperjump/ragindex/internal/models"
)

// chunkerRevision is bumped whenever the splitting algorithm changes, which changes every
// chunk identity and forces a rebuild through the manifest.
const chunkerRevision = "words-v1"

// ChunkPolicy controls how documents are split. Size and Overlap are in words;
// Size <= 0 means one chunk per document.
type ChunkPolicy struct {
	Size    int
	Overlap int
}

// Version identifies the policy. It is part of every chunk identity and of the manifest.
func (p ChunkPolicy) Version() string {
	if p.Size <= 0 {
		return chunkerRevision + ":whole"
	}
	return fmt.Sprintf("%s:size=%d:overlap=%d", chunkerRevision, p.Size, p.normalizedOverlap())
}

func (p ChunkPolicy) normalizedOverlap() int {
	if p.Overlap < 0 {
		return 0
	}
	if p.Overlap >= p.Size {
		return p.Size - 1
	}
	return p.Overlap
}

// Span is a chunk's byte range in the source text.
type Span struct {
	Start int
	End   int
	Text  string
}

// Chunker splits text into overlapping word windows while keeping byte offsets.
type Chunker struct {
	policy ChunkPolicy
}

// NewChunker creates a chunker for the given policy.
func NewChunker(policy ChunkPolicy) *Chunker {
	return &Chunker{policy: policy}
}

// Policy returns the chunker's policy.
func (c *Chunker) Policy() ChunkPolicy {
	return c.policy
}

// Split returns the ordered spans for text. Empty or whitespace-only text yields nil.
// Identical text and policy always yield identical spans.
func (c *Chunker) Split(text string) []Span {
	words := wordBounds(text)
	if len(words) == 0 {
		return nil
	}
	size := c.policy.Size
	if size <= 0 || size >= len(words) {
		start, end := words[0][0], words[len(words)-1][1]
		return []Span{{Start: start, End: end, Text: text[start:end]}}
	}
	step := size - c.policy.normalizedOverlap()
	if step <= 0 {
		step = 1
	}
	spans := make([]Span, 0, len(words)/step+1)
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		s, e := words[i][0], words[end-1][1]
		spans = append(spans, Span{Start: s, End: e, Text: text[s:e]})
		if end >= len(words) {
			break
		}
	}
	return spans
}

// Chunk splits text and assigns content-addressed chunk identities for documentPath.
func (c *Chunker) Chunk(documentPath, text string) []*models.Chunk {
	spans := c.Split(text)
	if len(spans) == 0 {
		return nil
	}
	version := c.policy.Version()
	chunks := make([]*models.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = &models.Chunk{
			ID:           fileid.ChunkID(documentPath, sp.Start, sp.End, version, sp.Text),
			DocumentPath: documentPath,
			Index:        i,
			Start:        sp.Start,
			End:          sp.End,
			Text:         sp.Text,
		}
	}
	return chunks
}

// wordBounds returns [start, end) byte offsets of whitespace-separated words.
func wordBounds(text string) [][2]int {
	var out [][2]int
	start := -1
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, [2]int{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += w
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(text)})
	}
	return out
}
