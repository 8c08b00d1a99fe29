package engine

import (
	"context"
	"errors"
	"testing"
)

func TestOpenAIEmbedderModel(t *testing.T) {
	emb := NewOpenAIEmbedder("test-key", "text-embedding-3-small", 1536)
	if emb.Model() != "openai:text-embedding-3-small" {
		t.Errorf("model = %q", emb.Model())
	}
	if emb.Dimensions() != 1536 {
		t.Errorf("dimensions = %d, want 1536", emb.Dimensions())
	}
}

func TestEmbedBatchedSplits(t *testing.T) {
	texts := make([]string, 250)
	for i := range texts {
		texts[i] = "text"
	}

	var sizes []int
	vecs, err := embedBatched(context.Background(), texts, func(_ context.Context, batch []string) ([][]float64, error) {
		sizes = append(sizes, len(batch))
		out := make([][]float64, len(batch))
		for i := range out {
			out[i] = []float64{1}
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("embedBatched: %v", err)
	}
	if len(vecs) != 250 {
		t.Fatalf("vectors = %d, want 250", len(vecs))
	}
	want := []int{100, 100, 50}
	if len(sizes) != len(want) {
		t.Fatalf("batches = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestEmbedBatchedPermanentFailure(t *testing.T) {
	vecs, err := embedBatched(context.Background(), []string{"a", "b"}, func(context.Context, []string) ([][]float64, error) {
		return nil, errors.New("provider down")
	})
	if err != nil {
		t.Fatalf("permanent failure must not fail the call: %v", err)
	}
	if len(vecs) != 2 || vecs[0] != nil || vecs[1] != nil {
		t.Errorf("vecs = %v, want two nil slots", vecs)
	}
}

func TestEmbedBatchedRetriesTransient(t *testing.T) {
	calls := 0
	vecs, err := embedBatched(context.Background(), []string{"a"}, func(context.Context, []string) ([][]float64, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return [][]float64{{1, 2}}, nil
	})
	if err != nil {
		t.Fatalf("embedBatched: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(vecs) != 1 || vecs[0] == nil {
		t.Errorf("vecs = %v, want one vector", vecs)
	}
}
