package chunker

import (
	"strings"
	"testing"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word"
	}
	return strings.Join(parts, " ")
}

func TestSplitEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t "} {
		if got := Split(in, 10, 0); got != nil {
			t.Errorf("Split(%q) = %v, want nil", in, got)
		}
	}
}

func TestSplitSingleChunk(t *testing.T) {
	got := Split("just a few words here", 100, 0)
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got[0] != "just a few words here" {
		t.Errorf("chunk = %q", got[0])
	}
}

func TestSplitSizeLimit(t *testing.T) {
	// chunk_size 10 tokens = 20 words; 50 words should make 3 chunks.
	got := Split(words(50), 10, 0)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for i, c := range got[:2] {
		if n := len(strings.Fields(c)); n != 20 {
			t.Errorf("chunk %d has %d words, want 20", i, n)
		}
	}
	if n := len(strings.Fields(got[2])); n != 10 {
		t.Errorf("last chunk has %d words, want 10", n)
	}
}

func TestSplitOverlap(t *testing.T) {
	// 20-word chunks stepping 10 words: consecutive chunks share 10 words.
	text := words(40)
	got := Split(text, 10, 5)
	if len(got) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(got))
	}
	first := strings.Fields(got[0])
	second := strings.Fields(got[1])
	if len(first) != 20 || len(second) != 20 {
		t.Errorf("chunk sizes = %d, %d; want 20, 20", len(first), len(second))
	}
}

func TestSplitOverlapAtLeastAdvances(t *testing.T) {
	// Overlap >= chunk size must still terminate, one word per step.
	got := Split(words(5), 1, 10)
	if len(got) == 0 {
		t.Fatal("expected chunks")
	}
	if len(got) > 5 {
		t.Errorf("chunks = %d, runaway overlap", len(got))
	}
}

func TestSplitDefaults(t *testing.T) {
	// Zero size falls back to the default: 201 words → two chunks.
	got := Split(words(DefaultChunkSize*2+1), 0, 0)
	if len(got) != 2 {
		t.Errorf("chunks = %d, want 2", len(got))
	}
}
