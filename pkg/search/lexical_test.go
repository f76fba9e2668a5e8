package search

import (
	"testing"

	"github.com/quarryhq/quarry/pkg/db"
)

func testSegments() []db.Segment {
	return []db.Segment{
		{ID: "s1", DocumentID: "d1", Content: "Postgres uses write-ahead logging for crash recovery."},
		{ID: "s2", DocumentID: "d1", Content: "Indexes in Postgres speed up query planning and lookups."},
		{ID: "s3", DocumentID: "d1", Content: "The cat sat on the mat and ignored the database entirely."},
	}
}

func TestLexicalIndex_RanksMatchingSegmentFirst(t *testing.T) {
	ix := NewLexicalIndex(testSegments())

	hits := ix.Search("postgres crash recovery", 3)
	if len(hits) == 0 {
		t.Fatalf("Search() returned no hits")
	}
	if hits[0].ID != "s1" {
		t.Fatalf("Search() top hit = %s, want s1", hits[0].ID)
	}
	for _, h := range hits {
		if h.Similarity < 0 || h.Similarity > 1 {
			t.Fatalf("hit %s similarity %v out of [0,1]", h.ID, h.Similarity)
		}
	}
	if hits[0].Similarity != 1 {
		t.Fatalf("best hit similarity = %v, want 1 after normalization", hits[0].Similarity)
	}
}

func TestLexicalIndex_NoMatches(t *testing.T) {
	ix := NewLexicalIndex(testSegments())

	if hits := ix.Search("zeppelin airship voyage", 3); len(hits) != 0 {
		t.Fatalf("Search() = %d hits, want 0", len(hits))
	}
}

func TestLexicalIndex_StopwordOnlyQuery(t *testing.T) {
	ix := NewLexicalIndex(testSegments())

	if hits := ix.Search("the and of", 3); len(hits) != 0 {
		t.Fatalf("Search() = %d hits, want 0 for stopword-only query", len(hits))
	}
}

func TestLexicalIndex_TruncatesToK(t *testing.T) {
	ix := NewLexicalIndex(testSegments())

	hits := ix.Search("postgres", 1)
	if len(hits) != 1 {
		t.Fatalf("Search() = %d hits, want 1", len(hits))
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("The Quick brown-fox, jumps 2 times!")
	want := []string{"quick", "brown", "fox", "jumps", "2", "times"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
