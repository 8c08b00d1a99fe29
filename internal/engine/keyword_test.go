package engine

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Alice works at Acme!", []string{"alice", "works", "at", "acme"}},
		{"snake_case and kebab-case", []string{"snake_case", "and", "kebab-case"}},
		{"a I x", nil}, // single chars dropped
		{"v2 release (2024)", []string{"v2", "release", "2024"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := tokenize(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestBM25RanksRareTermsHigher(t *testing.T) {
	docs := []string{
		"the payment gateway handles card payments",
		"the user profile page shows settings",
		"payments are settled nightly by the gateway batch job",
		"weekly team meeting notes",
	}
	ix := newBM25(docs)
	query := tokenize("payment gateway")

	scores := make([]float64, len(docs))
	for i := range docs {
		scores[i] = ix.Score(query, i)
	}

	if scores[0] <= scores[1] {
		t.Errorf("matching doc scored %f, non-matching %f", scores[0], scores[1])
	}
	if scores[0] <= scores[3] {
		t.Error("doc with both terms should beat unrelated doc")
	}
	if scores[1] != 0 {
		t.Errorf("doc without query terms scored %f, want 0", scores[1])
	}
}

func TestBM25EmptyQueryAndCorpus(t *testing.T) {
	ix := newBM25(nil)
	if got := ix.Score([]string{"anything"}, 0); got != 0 {
		t.Errorf("empty corpus score = %f, want 0", got)
	}

	ix = newBM25([]string{"some document"})
	if got := ix.Score(nil, 0); got != 0 {
		t.Errorf("empty query score = %f, want 0", got)
	}
}
