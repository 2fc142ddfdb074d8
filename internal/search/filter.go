package search

import (
	"sort"
	"strings"

	"github.com/hyperjump/ragindex/internal/models"
)

// ContainsAllTerms reports whether text contains every whitespace-separated term of
// query, case-insensitively. It backs MustMatch when no keyword index is available.
func ContainsAllTerms(text, query string) bool {
	lower := strings.ToLower(text)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// Rank orders results by score (descending) then chunk ID, keeps the first limit
// and assigns 1-based ranks.
func Rank(results []*models.SearchResult, limit int) []*models.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
	}
	return results
}
