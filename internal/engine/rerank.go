package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fathomlabs/mnemo/internal/llm"
)

// Reranker reorders a candidate slice by relevance to the query. It must
// return a permutation of its input; Search treats anything else as a
// failure and keeps the merged order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Result) ([]Result, error)
}

// LLMReranker asks the oracle to order candidates by relevance. The model
// returns a JSON array of zero-based candidate indexes, best first.
type LLMReranker struct {
	Client llm.Client
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Result) ([]Result, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}
	contents := make([]string, len(candidates))
	for i, c := range candidates {
		contents[i] = c.Content
	}
	resp, err := r.Client.Complete(ctx, llm.RerankPrompt(query, contents))
	if err != nil {
		return nil, fmt.Errorf("rerank oracle: %w", err)
	}
	order, err := parseRerankOrder(resp.Content, len(candidates))
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(candidates))
	for pos, idx := range order {
		out[pos] = candidates[idx]
	}
	return out, nil
}

// parseRerankOrder extracts an index array and verifies it is a complete
// permutation of [0, n).
func parseRerankOrder(raw string, n int) ([]int, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no index array in rerank response", llm.ErrMalformed)
	}

	var order []int
	if err := json.Unmarshal([]byte(text[start:end+1]), &order); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}
	if len(order) != n {
		return nil, fmt.Errorf("%w: rerank returned %d indexes for %d candidates", llm.ErrMalformed, len(order), n)
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return nil, fmt.Errorf("%w: rerank indexes are not a permutation", llm.ErrMalformed)
		}
		seen[idx] = true
	}
	return order, nil
}
