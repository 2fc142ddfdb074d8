package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "keyword.bleve"), nil)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func seed(t *testing.T, idx *BleveIndex) {
	t.Helper()
	err := idx.IndexChunks(context.Background(), []Chunk{
		{ID: "c1", Path: "/r/report.docx", Text: "This report mentions Omnisyan and other findings."},
		{ID: "c2", Path: "/r/report.docx", Text: "The Bayes app is also referenced."},
		{ID: "c3", Path: "/r/notes.txt", Text: "Bayesian priors and the Omnisyan study."},
	})
	if err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}
}

func TestBleveIndex_FilterRestrictsToCandidates(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	got, err := idx.Filter(ctx, "Omnisyan", []string{"c1", "c2"}, nil)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !got["c1"] || got["c2"] || got["c3"] {
		t.Errorf("Filter(Omnisyan) = %v, want only c1", got)
	}

	// Standard analyzer: "bayes" matches "Bayes" but not "Bayesian".
	got, err = idx.Filter(ctx, "bayes", []string{"c1", "c2", "c3"}, nil)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !got["c2"] || got["c3"] {
		t.Errorf("Filter(bayes) = %v, want only c2", got)
	}
}

func TestBleveIndex_FilterRequiresAllTerms(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)
	got, err := idx.Filter(context.Background(), "omnisyan study", []string{"c1", "c3"}, nil)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(got) != 1 || !got["c3"] {
		t.Errorf("got %v, want only c3", got)
	}
}

func TestBleveIndex_FilterFuzzy(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()
	got, _ := idx.Filter(ctx, "omnisyam", []string{"c1", "c2", "c3"}, nil)
	if len(got) != 0 {
		t.Errorf("exact filter matched a typo: %v", got)
	}
	got, err := idx.Filter(ctx, "omnisyam", []string{"c1", "c2", "c3"}, &FilterOptions{Fuzziness: 1})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if !got["c1"] || !got["c3"] {
		t.Errorf("fuzzy filter = %v, want c1 and c3", got)
	}
}

func TestBleveIndex_FilterEmpty(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)
	got, err := idx.Filter(context.Background(), "   ", []string{"c1"}, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("blank query: got %v, %v", got, err)
	}
	got, err = idx.Filter(context.Background(), "bayes", nil, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("no candidates: got %v, %v", got, err)
	}
}

func TestBleveIndex_DeleteAndReset(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	if err := idx.Delete(ctx, []string{"c1", "missing"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := idx.DocCount(); n != 2 {
		t.Errorf("DocCount after delete = %d, want 2", n)
	}
	got, _ := idx.Filter(ctx, "omnisyan", []string{"c1", "c3"}, nil)
	if got["c1"] {
		t.Error("deleted chunk still matches")
	}

	if err := idx.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount after reset = %d, want 0", n)
	}
	// Still usable after reset.
	if err := idx.IndexChunks(ctx, []Chunk{{ID: "n1", Text: "fresh"}}); err != nil {
		t.Fatalf("IndexChunks after reset: %v", err)
	}
}

func TestNewBleveIndex_ReopensExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.bleve")
	idx, err := NewBleveIndex(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	seed(t, idx)
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewBleveIndex(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.DocCount(); n != 3 {
		t.Errorf("DocCount = %d, want 3", n)
	}
}

func TestNewBleveIndex_RecreatesCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyword.bleve")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	idx, err := NewBleveIndex(path, nil)
	if err != nil {
		t.Fatalf("NewBleveIndex on corrupt dir: %v", err)
	}
	defer idx.Close()
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount = %d, want 0", n)
	}
}

func TestNewBleveIndex_MemOnly(t *testing.T) {
	idx, err := NewBleveIndex("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)
	if err := idx.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 0 {
		t.Errorf("DocCount = %d, want 0", n)
	}
}
