package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultSearchLimit is used when a query does not set Limit.
	DefaultSearchLimit = 10
	// MaxSearchLimit caps Limit.
	MaxSearchLimit = 100
)

// SearchQuery represents a semantic search request with optional filters.
type SearchQuery struct {
	Query    string         `json:"query"`
	Limit    int            `json:"limit,omitempty"`
	MinScore *float64       `json:"min_score,omitempty"` // cosine threshold in [-1, 1]; nil means no threshold
	Filters  *SearchFilters `json:"filters,omitempty"`
}

// SearchFilters restricts results after ranking.
type SearchFilters struct {
	// PathPrefix keeps results whose document path is inside this folder subtree.
	PathPrefix string `json:"path_prefix,omitempty"`
	// Extensions keeps results whose document extension is in the list (e.g. ".md").
	Extensions []string `json:"extensions,omitempty"`
	// MustMatch keeps results whose chunk text contains every term of this keyword query.
	MustMatch string `json:"must_match,omitempty"`
}

// Active reports whether any filter is set.
func (f *SearchFilters) Active() bool {
	if f == nil {
		return false
	}
	return f.PathPrefix != "" || len(f.Extensions) > 0 || strings.TrimSpace(f.MustMatch) != ""
}

// MatchPath reports whether path passes the PathPrefix and Extensions filters.
func (f *SearchFilters) MatchPath(path string) bool {
	if f == nil {
		return true
	}
	if f.PathPrefix != "" {
		prefix := filepath.Clean(f.PathPrefix)
		clean := filepath.Clean(path)
		if clean != prefix && !strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return false
		}
	}
	if len(f.Extensions) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		found := false
		for _, e := range f.Extensions {
			if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Validate ensures the search query has valid fields and sets defaults.
// maxLimit <= 0 uses MaxSearchLimit.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultSearchLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxSearchLimit
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.MinScore != nil && (*q.MinScore < -1 || *q.MinScore > 1) {
		return fmt.Errorf("min_score must be within [-1, 1], got %v", *q.MinScore)
	}
	return nil
}
