package engine

import (
	"math"
	"strings"
)

// BM25 parameters. Standard values; the candidate sets here are small
// enough that tuning buys nothing.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// tokenize splits text into lowercase tokens, stripping punctuation.
// Single-character tokens are dropped.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// bm25Index scores documents against a query using BM25 over the given
// corpus. Document frequencies are computed from the corpus itself, so the
// index is only meaningful for the documents it was built from.
type bm25Index struct {
	docs   [][]string       // tokenized documents
	df     map[string]int   // document frequency per term
	tf     []map[string]int // term frequency per document
	avgLen float64
}

// newBM25 builds an index over the given documents.
func newBM25(docs []string) *bm25Index {
	ix := &bm25Index{
		docs: make([][]string, len(docs)),
		df:   make(map[string]int),
		tf:   make([]map[string]int, len(docs)),
	}

	totalLen := 0
	for i, doc := range docs {
		tokens := tokenize(doc)
		ix.docs[i] = tokens
		totalLen += len(tokens)

		tf := make(map[string]int)
		for _, tok := range tokens {
			tf[tok]++
		}
		ix.tf[i] = tf
		for tok := range tf {
			ix.df[tok]++
		}
	}
	if len(docs) > 0 {
		ix.avgLen = float64(totalLen) / float64(len(docs))
	}
	return ix
}

// Score returns the BM25 score of document i against the query tokens.
func (ix *bm25Index) Score(queryTokens []string, i int) float64 {
	if i < 0 || i >= len(ix.docs) || ix.avgLen == 0 {
		return 0
	}

	n := float64(len(ix.docs))
	docLen := float64(len(ix.docs[i]))

	var score float64
	for _, tok := range queryTokens {
		tf := float64(ix.tf[i][tok])
		if tf == 0 {
			continue
		}
		df := float64(ix.df[tok])
		// Smoothed IDF, always positive
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*docLen/ix.avgLen))
	}
	return score
}
