package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabSize  = 30522
	firstToken = 1000
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask, token_type_ids)
// padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps normalized words to stable IDs in the BERT vocabulary range.
// It does not reproduce a model's WordPiece vocabulary.
type HashTokenizer struct{}

// Tokenize wraps the words of text in [CLS] ... [SEP], truncating to maxTokens.
func (HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, w := range NormalizedWords(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = firstToken + int64(wordHash(w)%(vocabSize-firstToken))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// NormalizedWords lowercases text and splits it into runs of letters and digits.
func NormalizedWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordHash(w string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(w))
	return h.Sum64()
}
