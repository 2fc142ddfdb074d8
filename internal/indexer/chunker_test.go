package indexer

import (
	"reflect"
	"testing"
)

func TestChunker_Chunk(t *testing.T) {
	c := NewChunker(ChunkPolicy{Size: 3, Overlap: 1})
	text := "one two three four five six seven"
	chunks := c.Chunk("/docs/a.txt", text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []string{"one two three", "three four five", "five six seven"}
	for i, ch := range chunks {
		if ch.Text != want[i] {
			t.Errorf("chunk %d text=%q, want %q", i, ch.Text, want[i])
		}
		if text[ch.Start:ch.End] != ch.Text {
			t.Errorf("chunk %d offsets [%d,%d) do not match text", i, ch.Start, ch.End)
		}
		if ch.DocumentPath != "/docs/a.txt" {
			t.Errorf("chunk %d DocumentPath=%s", i, ch.DocumentPath)
		}
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d", i, ch.Index)
		}
		if ch.ID == "" {
			t.Error("chunk ID should be set")
		}
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(ChunkPolicy{Size: 5, Overlap: 1})
	if chunks := c.Chunk("d", "   \n\t  "); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
	if chunks := c.Chunk("d", ""); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_ShortDocumentIsOneChunk(t *testing.T) {
	c := NewChunker(ChunkPolicy{Size: 50, Overlap: 10})
	text := "  apples and\noranges  "
	chunks := c.Chunk("d", text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "apples and\noranges" {
		t.Errorf("text=%q", chunks[0].Text)
	}
}

func TestChunker_WholeDocumentPolicy(t *testing.T) {
	c := NewChunker(ChunkPolicy{})
	words := "a b c d e f g h i j k l m n o p"
	chunks := c.Chunk("d", words)
	if len(chunks) != 1 || chunks[0].Text != words {
		t.Fatalf("whole document policy: got %+v", chunks)
	}
}

func TestChunker_Deterministic(t *testing.T) {
	c := NewChunker(ChunkPolicy{Size: 4, Overlap: 2})
	text := "the quick brown fox jumps over the lazy dog again and again"
	a := c.Chunk("/p", text)
	b := c.Chunk("/p", text)
	if !reflect.DeepEqual(a, b) {
		t.Error("chunking is not deterministic")
	}
}

func TestChunker_EditChangesOnlyAffectedIDs(t *testing.T) {
	c := NewChunker(ChunkPolicy{Size: 2, Overlap: 0})
	before := c.Chunk("/p", "alpha beta gamma delta")
	after := c.Chunk("/p", "alpha beta gamma omega")
	if before[0].ID != after[0].ID {
		t.Error("unchanged leading chunk should keep its ID")
	}
	if before[1].ID == after[1].ID {
		t.Error("edited chunk should get a new ID")
	}
}

func TestChunkPolicy_Version(t *testing.T) {
	if (ChunkPolicy{Size: 10, Overlap: 2}).Version() == (ChunkPolicy{Size: 10, Overlap: 3}).Version() {
		t.Error("different overlap should change the version")
	}
	if (ChunkPolicy{}).Version() == (ChunkPolicy{Size: 10}).Version() {
		t.Error("whole document policy should differ from windowed policy")
	}
	a := NewChunker(ChunkPolicy{Size: 2}).Chunk("/p", "x y")
	b := NewChunker(ChunkPolicy{Size: 3}).Chunk("/p", "x y")
	if a[0].ID == b[0].ID {
		t.Error("policy change should change chunk identity")
	}
}

func TestPreprocess(t *testing.T) {
	if Preprocess("  a  b  ") != "a b" {
		t.Error("expected trimmed and collapsed spaces")
	}
	if Preprocess("a\n\tb") != "a b" {
		t.Error("expected newlines and tabs collapsed")
	}
}
