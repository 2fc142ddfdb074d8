package search

import (
	"strings"
	"testing"

	"github.com/hyperjump/ragindex/internal/models"
)

func TestHighlight(t *testing.T) {
	if Highlight("short", "x", 10) != "short" {
		t.Error("short string should be unchanged")
	}
	if got := Highlight("long text here", "", 4); got != "long..." {
		t.Errorf("got %s", got)
	}
	if Highlight("x", "x", 0) != "x" {
		t.Error("maxLen 0 should return as-is")
	}
}

func TestHighlight_CentresOnTerm(t *testing.T) {
	content := strings.Repeat("filler words here ", 20) + "the Omnisyan study shows results " + strings.Repeat("more trailing text ", 20)
	got := Highlight(content, "omnisyan", 60)
	if !strings.Contains(got, "Omnisyan") {
		t.Fatalf("snippet %q lacks the term", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet %q should be elided on both sides", got)
	}
	if len(got) > 60+2*len("...") {
		t.Errorf("snippet too long: %d", len(got))
	}
}

func TestHighlight_RuneSafe(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 30)
	got := Highlight(content, "wörld", 25)
	if !strings.Contains(got, "wörld") {
		t.Errorf("got %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatalf("snippet split a rune: %q", got)
		}
	}
}

func TestContainsAllTerms(t *testing.T) {
	cases := []struct {
		text, query string
		want        bool
	}{
		{"The Bayes app", "bayes", true},
		{"The Bayes app", "bayes APP", true},
		{"The Bayes app", "bayes web", false},
		{"anything", "", true},
	}
	for _, c := range cases {
		if got := ContainsAllTerms(c.text, c.query); got != c.want {
			t.Errorf("ContainsAllTerms(%q, %q) = %v, want %v", c.text, c.query, got, c.want)
		}
	}
}

func TestRank(t *testing.T) {
	results := []*models.SearchResult{
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "c", Score: 0.9},
		{ChunkID: "a", Score: 0.5},
	}
	got := Rank(results, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ChunkID != "c" || got[1].ChunkID != "a" {
		t.Errorf("order = %s,%s", got[0].ChunkID, got[1].ChunkID)
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Errorf("ranks = %d,%d", got[0].Rank, got[1].Rank)
	}
}
