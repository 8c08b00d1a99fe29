package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fathomlabs/mnemo/internal/llm"
	"github.com/fathomlabs/mnemo/internal/store"
)

func TestClassifyUpdate(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: `{"relation":"UPDATE","confidence":0.9}`}}
	emb := &stubEmbedder{
		vectors: map[string][]float64{
			"Alice works at Acme":    {1, 0, 0},
			"Alice works at Initech": {0.99, 0.1, 0},
		},
		fallback: []float64{0, 0, 1},
	}
	e := testEngine(t, client, emb)

	old := seedMemory(t, e, &store.Memory{Content: "Alice works at Acme", MemoryType: store.TypeFact, ContainerTag: "c"})
	newer := seedMemory(t, e, &store.Memory{Content: "Alice works at Initech", MemoryType: store.TypeFact, ContainerTag: "c"})

	applied, err := e.ClassifyNewMemory(context.Background(), newer)
	if err != nil {
		t.Fatalf("ClassifyNewMemory: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(applied))
	}
	if applied[0].Relation != RelationUpdate || applied[0].CandidateID != old.ID {
		t.Errorf("applied = %+v", applied[0])
	}

	gotOld, _ := e.DB.GetMemory(old.ID)
	if gotOld.IsLatest {
		t.Error("old memory should lose is_latest")
	}
	gotOld, _ = e.DB.GetMemory(old.ID)
	if gotOld.ForgottenAt != nil {
		t.Error("superseded memory is not forgotten, only non-latest")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: `{"relation":"EXTEND","confidence":0.8}`}}
	emb := &stubEmbedder{fallback: []float64{1, 0, 0}}
	e := testEngine(t, client, emb)

	seedMemory(t, e, &store.Memory{Content: "base fact", MemoryType: store.TypeFact, ContainerTag: "c"})
	m := seedMemory(t, e, &store.Memory{Content: "detail fact", MemoryType: store.TypeFact, ContainerTag: "c"})

	first, err := e.ClassifyNewMemory(context.Background(), m)
	if err != nil {
		t.Fatalf("first classify: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first applied = %d, want 1", len(first))
	}
	oracleCalls := len(client.Calls)

	// Re-running must neither duplicate edges nor consult the oracle.
	second, err := e.ClassifyNewMemory(context.Background(), m)
	if err != nil {
		t.Fatalf("second classify: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second applied = %d, want 0", len(second))
	}
	if len(client.Calls) != oracleCalls {
		t.Errorf("oracle calls grew from %d to %d on re-run", oracleCalls, len(client.Calls))
	}

	var n int
	e.DB.QueryRow("SELECT COUNT(*) FROM memory_edges").Scan(&n)
	if n != 1 {
		t.Errorf("edges = %d, want 1", n)
	}
}

func TestClassifyDerive(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{
		Content: `{"relation":"DERIVE","confidence":0.85,"derived_fact":"Bob lives near the waterfront"}`,
	}}
	emb := &stubEmbedder{fallback: []float64{1, 0, 0}}
	e := testEngine(t, client, emb)

	src := seedMemory(t, e, &store.Memory{Content: "Bob lives in Lisbon", MemoryType: store.TypeFact, ContainerTag: "c"})
	m := seedMemory(t, e, &store.Memory{Content: "Bob commutes by ferry", MemoryType: store.TypeFact, ContainerTag: "c"})

	applied, err := e.ClassifyNewMemory(context.Background(), m)
	if err != nil {
		t.Fatalf("ClassifyNewMemory: %v", err)
	}
	if len(applied) != 1 || applied[0].DerivedID == "" {
		t.Fatalf("applied = %+v, want one DERIVE with derived id", applied)
	}

	derived, err := e.DB.GetMemory(applied[0].DerivedID)
	if err != nil {
		t.Fatalf("load derived: %v", err)
	}
	if derived.MemoryType != store.TypeDerived {
		t.Errorf("derived type = %q", derived.MemoryType)
	}
	if derived.Content != "Bob lives near the waterfront" {
		t.Errorf("derived content = %q", derived.Content)
	}
	edges, _ := e.DB.EdgesTo(derived.ID)
	if len(edges) != 2 {
		t.Errorf("DERIVES edges = %d, want 2 (both sources)", len(edges))
	}
	_ = src
}

func TestClassifyMalformedIsNone(t *testing.T) {
	client := &llm.MockClient{Response: &llm.Response{Content: "I think these are related somehow."}}
	emb := &stubEmbedder{fallback: []float64{1, 0, 0}}
	e := testEngine(t, client, emb)

	seedMemory(t, e, &store.Memory{Content: "existing fact", MemoryType: store.TypeFact, ContainerTag: "c"})
	m := seedMemory(t, e, &store.Memory{Content: "new fact", MemoryType: store.TypeFact, ContainerTag: "c"})

	applied, err := e.ClassifyNewMemory(context.Background(), m)
	if err != nil {
		t.Fatalf("ClassifyNewMemory: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("malformed verdict applied %d relations, want 0", len(applied))
	}

	var n int
	e.DB.QueryRow("SELECT COUNT(*) FROM memory_edges").Scan(&n)
	if n != 0 {
		t.Errorf("edges = %d, want 0", n)
	}
}

func TestClassifyOracleTimeoutSkipsCandidate(t *testing.T) {
	// The oracle times out for one candidate but answers for the other.
	// The failing pair is skipped; the healthy pair is still applied.
	client := &llm.MockClient{Fn: func(prompt string) (*llm.Response, error) {
		if strings.Contains(prompt, "slow candidate") {
			return nil, context.DeadlineExceeded
		}
		return &llm.Response{Content: `{"relation":"EXTEND","confidence":0.8}`}, nil
	}}
	emb := &stubEmbedder{fallback: []float64{1, 0, 0}}
	e := testEngine(t, client, emb)

	seedMemory(t, e, &store.Memory{Content: "slow candidate", MemoryType: store.TypeFact, ContainerTag: "c"})
	seedMemory(t, e, &store.Memory{Content: "fast candidate", MemoryType: store.TypeFact, ContainerTag: "c"})
	m := seedMemory(t, e, &store.Memory{Content: "new arrival", MemoryType: store.TypeFact, ContainerTag: "c"})

	applied, err := e.ClassifyNewMemory(context.Background(), m)
	if err != nil {
		t.Fatalf("ClassifyNewMemory: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %d, want 1 (timeout pair skipped)", len(applied))
	}
}

func TestClassifyRequiresOracleAndEmbedder(t *testing.T) {
	e := testEngine(t, nil, &stubEmbedder{fallback: []float64{1}})
	m := seedMemory(t, e, &store.Memory{Content: "x", MemoryType: store.TypeFact, ContainerTag: "c"})
	if _, err := e.ClassifyNewMemory(context.Background(), m); err == nil {
		t.Error("expected error without oracle")
	}

	e2 := testEngine(t, &llm.MockClient{}, nil)
	m2 := &store.Memory{Content: "y", MemoryType: store.TypeFact, ContainerTag: "c"}
	e2.DB.CreateMemory(m2)
	if _, err := e2.ClassifyNewMemory(context.Background(), m2); err == nil {
		t.Error("expected error without embedder")
	}
}

func TestParseClassification(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"relation":"UPDATE","confidence":0.9}`, RelationUpdate, false},
		{"fenced", "```json\n{\"relation\":\"NONE\",\"confidence\":0.5}\n```", RelationNone, false},
		{"prose wrapped", `Here you go: {"relation":"extend","confidence":0.7} hope that helps`, RelationExtend, false},
		{"derive with fact", `{"relation":"DERIVE","confidence":0.8,"derived_fact":"x"}`, RelationDerive, false},
		{"derive missing fact", `{"relation":"DERIVE","confidence":0.8}`, "", true},
		{"unknown relation", `{"relation":"MERGE","confidence":0.8}`, "", true},
		{"confidence out of range", `{"relation":"UPDATE","confidence":1.5}`, "", true},
		{"no json", "sorry, I cannot help with that", "", true},
	}
	for _, tc := range cases {
		got, err := parseClassification(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			} else if !errors.Is(err, llm.ErrMalformed) {
				t.Errorf("%s: err = %v, want ErrMalformed", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if got.Relation != tc.want {
			t.Errorf("%s: relation = %q, want %q", tc.name, got.Relation, tc.want)
		}
	}
}
