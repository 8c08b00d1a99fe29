package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fathomlabs/mnemo/internal/llm"
	"github.com/fathomlabs/mnemo/internal/store"
)

func TestSearchValidation(t *testing.T) {
	e := testEngine(t, nil, nil)

	cases := []struct {
		name      string
		query     string
		container string
		mode      Mode
		opts      SearchOpts
	}{
		{"empty query", "", "c", ModeMemory, SearchOpts{}},
		{"blank query", "   ", "c", ModeMemory, SearchOpts{}},
		{"empty container", "q", "", ModeMemory, SearchOpts{}},
		{"bad mode", "q", "c", "graph", SearchOpts{}},
		{"negative limit", "q", "c", ModeMemory, SearchOpts{Limit: -1}},
		{"bad min similarity", "q", "c", ModeMemory, SearchOpts{MinSimilarity: 1.5}},
		{"negative rerank n", "q", "c", ModeMemory, SearchOpts{RerankTopN: -2}},
	}
	for _, tc := range cases {
		_, err := Search(context.Background(), e.DB, nil, nil, nil, tc.query, tc.container, tc.mode, tc.opts)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestSearchKeywordOnly(t *testing.T) {
	// No embedder: the keyword leg alone still serves results.
	e := testEngine(t, nil, nil)

	seedMemory(t, e, &store.Memory{Content: "Alice deployed the payment service", MemoryType: store.TypeFact, ContainerTag: "c"})
	seedMemory(t, e, &store.Memory{Content: "Bob likes gardening on weekends", MemoryType: store.TypeFact, ContainerTag: "c"})

	results, err := Search(context.Background(), e.DB, nil, nil, nil, "payment service", "c", ModeMemory, SearchOpts{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Content != "Alice deployed the payment service" {
		t.Errorf("got %q", results[0].Content)
	}
	if results[0].Score <= 0 || results[0].Score > 1 {
		t.Errorf("normalized score = %f, want (0,1]", results[0].Score)
	}
}

func TestSearchMergeTakesMaxNotSum(t *testing.T) {
	emb := &stubEmbedder{
		vectors: map[string][]float64{
			"database migration checklist": {1, 0, 0},
		},
		fallback: []float64{1, 0, 0},
	}
	e := testEngine(t, nil, emb)

	m := seedMemory(t, e, &store.Memory{Content: "database migration checklist", MemoryType: store.TypeFact, ContainerTag: "c"})

	// The memory hits on both legs: keyword (exact terms) and vector
	// (identical embedding, sim 1.0). Merged score must be the max, 1.0,
	// not 2.0, and the id must appear once.
	results, err := Search(context.Background(), e.DB, emb, nil, nil, "database migration checklist", "c", ModeMemory, SearchOpts{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (no duplicate for dual-leg hit)", len(results))
	}
	if results[0].ID != m.ID {
		t.Errorf("id = %s, want %s", results[0].ID, m.ID)
	}
	if results[0].Score > 1.0001 {
		t.Errorf("merged score = %f, agreement must not be double-counted", results[0].Score)
	}
}

func TestSearchDeterministicOrder(t *testing.T) {
	e := testEngine(t, nil, nil)

	// Same created_at and identical keyword scores: ties fall back to id.
	at := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		m := &store.Memory{
			ID:           fmt.Sprintf("id-%d", i),
			Content:      "standup notes for sprint",
			MemoryType:   store.TypeFact,
			ContainerTag: "c",
			CreatedAt:    at,
		}
		if err := e.DB.CreateMemory(m); err != nil {
			t.Fatalf("CreateMemory: %v", err)
		}
	}

	var first []string
	for run := 0; run < 3; run++ {
		results, err := Search(context.Background(), e.DB, nil, nil, nil, "standup sprint", "c", ModeMemory, SearchOpts{})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		if run == 0 {
			first = ids
			continue
		}
		for i := range ids {
			if ids[i] != first[i] {
				t.Fatalf("run %d order differs at %d: %s vs %s", run, i, ids[i], first[i])
			}
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1] >= first[i] {
			t.Errorf("tie-break not by id: %s before %s", first[i-1], first[i])
		}
	}
}

func TestSearchExcludesForgotten(t *testing.T) {
	e := testEngine(t, nil, nil)

	m := seedMemory(t, e, &store.Memory{Content: "secret project codename", MemoryType: store.TypeFact, ContainerTag: "c"})
	e.DB.MarkForgotten(m.ID, time.Now().UnixMilli())

	results, err := Search(context.Background(), e.DB, nil, nil, nil, "project codename", "c", ModeMemory, SearchOpts{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Error("forgotten memory surfaced in default search")
	}

	results, _ = Search(context.Background(), e.DB, nil, nil, nil, "project codename", "c", ModeMemory, SearchOpts{IncludeForgotten: true})
	if len(results) != 1 {
		t.Error("IncludeForgotten should surface it")
	}
}

func TestSearchModes(t *testing.T) {
	e := testEngine(t, nil, nil)

	seedMemory(t, e, &store.Memory{Content: "release process runbook memory", MemoryType: store.TypeFact, ContainerTag: "c"})
	doc := &store.Document{ContainerTag: "c"}
	if err := e.DB.CreateDocument(doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	chunk := &store.Chunk{DocumentID: doc.ID, Content: "release process runbook chunk", ContainerTag: "c"}
	if err := e.DB.CreateChunk(chunk); err != nil {
		t.Fatalf("CreateChunk: %v", err)
	}

	memOnly, _ := Search(context.Background(), e.DB, nil, nil, nil, "release runbook", "c", ModeMemory, SearchOpts{})
	if len(memOnly) != 1 || memOnly[0].Kind != store.KindMemory {
		t.Errorf("memory mode results = %+v", memOnly)
	}

	ragOnly, _ := Search(context.Background(), e.DB, nil, nil, nil, "release runbook", "c", ModeRAG, SearchOpts{})
	if len(ragOnly) != 1 || ragOnly[0].Kind != store.KindChunk {
		t.Errorf("rag mode results = %+v", ragOnly)
	}

	both, _ := Search(context.Background(), e.DB, nil, nil, nil, "release runbook", "c", ModeHybrid, SearchOpts{})
	if len(both) != 2 {
		t.Errorf("hybrid results = %d, want 2", len(both))
	}
}

func TestSearchExpansionFallsBackOnFailure(t *testing.T) {
	client := &llm.MockClient{Err: errors.New("oracle down")}
	e := testEngine(t, client, nil)

	seedMemory(t, e, &store.Memory{Content: "kubernetes cluster upgrade", MemoryType: store.TypeFact, ContainerTag: "c"})

	// Expansion fails; the raw query still hits the keyword leg.
	results, err := Search(context.Background(), e.DB, nil, client, nil, "kubernetes upgrade", "c", ModeMemory, SearchOpts{Expand: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1 despite expansion failure", len(results))
	}
}

func TestSearchLimit(t *testing.T) {
	e := testEngine(t, nil, nil)
	for i := 0; i < 8; i++ {
		seedMemory(t, e, &store.Memory{Content: fmt.Sprintf("meeting notes item %d", i), MemoryType: store.TypeFact, ContainerTag: "c"})
	}
	results, err := Search(context.Background(), e.DB, nil, nil, nil, "meeting notes", "c", ModeMemory, SearchOpts{Limit: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("results = %d, want 3", len(results))
	}
}
