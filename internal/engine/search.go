package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/fathomlabs/mnemo/internal/llm"
	"github.com/fathomlabs/mnemo/internal/store"
)

// Mode selects where retrieval candidates are drawn from.
type Mode string

const (
	ModeMemory Mode = "memory" // Memory nodes only
	ModeRAG    Mode = "rag"    // document chunks only
	ModeHybrid Mode = "hybrid" // both
)

const (
	defaultLimit         = 10
	defaultMinSimilarity = 0.6
	defaultRerankTopN    = 20
	expandTimeout        = 20 * time.Second
	rerankTimeout        = 20 * time.Second
)

// SearchOpts controls search behavior. The zero value gives the defaults;
// every recognized option is validated once at the boundary before the
// query enters the engine.
type SearchOpts struct {
	Limit         int     `json:"limit"`          // max results (default 10)
	MinSimilarity float64 `json:"min_similarity"` // vector leg floor (default 0.6)
	Expand        bool    `json:"expand"`         // HyDE query expansion
	Rerank        bool    `json:"rerank"`         // cross-encoder rerank of top candidates
	RerankTopN    int     `json:"rerank_top_n"`   // candidates passed to the reranker (default 20)

	// Visibility overrides. Default retrieval excludes expired and
	// soft-deleted memories.
	IncludeExpired   bool `json:"include_expired"`
	IncludeForgotten bool `json:"include_forgotten"`
}

func (o SearchOpts) validate() error {
	if o.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidInput)
	}
	if o.MinSimilarity < 0 || o.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity %f outside [0,1]", ErrInvalidInput, o.MinSimilarity)
	}
	if o.RerankTopN < 0 {
		return fmt.Errorf("%w: negative rerank_top_n", ErrInvalidInput)
	}
	return nil
}

func (o SearchOpts) limit() int {
	if o.Limit <= 0 {
		return defaultLimit
	}
	return o.Limit
}

func (o SearchOpts) minSimilarity() float64 {
	if o.MinSimilarity == 0 {
		return defaultMinSimilarity
	}
	return o.MinSimilarity
}

func (o SearchOpts) rerankTopN() int {
	if o.RerankTopN <= 0 {
		return defaultRerankTopN
	}
	return o.RerankTopN
}

// Result is a single ranked retrieval hit.
type Result struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"` // "memory" or "chunk"
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	CreatedAt int64   `json:"created_at"`

	Memory *store.Memory `json:"memory,omitempty"`
	Chunk  *store.Chunk  `json:"chunk,omitempty"`
}

// Search produces a ranked candidate set by merging keyword and vector
// legs, optionally preceded by HyDE expansion and followed by reranking.
// Optional stages never fail the query: expansion falls back to the raw
// query, a missing embedder degrades to keyword-only, rerank failure keeps
// the pre-rerank order.
func Search(ctx context.Context, db *store.DB, embedder Embedder, client llm.Client, reranker Reranker, query, container string, mode Mode, opts SearchOpts) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if strings.TrimSpace(container) == "" {
		return nil, fmt.Errorf("%w: empty container", ErrInvalidInput)
	}
	switch mode {
	case ModeMemory, ModeRAG, ModeHybrid:
	case "":
		mode = ModeMemory
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	// HyDE: embed a hypothetical answer instead of the raw query.
	embedText := query
	if opts.Expand && client != nil {
		expandCtx, cancel := context.WithTimeout(ctx, expandTimeout)
		resp, err := client.Complete(expandCtx, llm.ExpandPrompt(query))
		cancel()
		if err != nil || strings.TrimSpace(resp.Content) == "" {
			log.Printf("search: expansion failed, using raw query: %v", err)
		} else {
			embedText = resp.Content
		}
	}

	var queryVec []float64
	if embedder != nil {
		vec, err := EmbedOne(ctx, embedder, embedText)
		if err != nil || vec == nil {
			log.Printf("search: embed query failed, keyword leg only: %v", err)
		} else {
			queryVec = vec
		}
	}

	merged := make(map[string]Result)

	if mode == ModeMemory || mode == ModeHybrid {
		if err := searchMemories(db, query, queryVec, container, opts, merged); err != nil {
			return nil, err
		}
	}
	if mode == ModeRAG || mode == ModeHybrid {
		if err := searchChunks(db, query, queryVec, container, opts, merged); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sortResults(results)

	// Rerank the head of the merged list, then cut to the caller's limit.
	limit := opts.limit()
	if opts.Rerank && reranker != nil {
		topN := opts.rerankTopN()
		if topN > len(results) {
			topN = len(results)
		}
		head := results[:topN]

		rerankCtx, cancel := context.WithTimeout(ctx, rerankTimeout)
		reordered, err := reranker.Rerank(rerankCtx, query, head)
		cancel()
		if err != nil {
			log.Printf("search: rerank failed, keeping merged order: %v", err)
		} else {
			copy(results[:topN], reordered)
		}
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchMemories runs the keyword and vector legs over Memory nodes and
// folds the hits into merged, taking the higher score on overlap.
func searchMemories(db *store.DB, query string, queryVec []float64, container string, opts SearchOpts, merged map[string]Result) error {
	filter := store.ListFilter{
		IncludeExpired:   opts.IncludeExpired,
		IncludeForgotten: opts.IncludeForgotten,
	}

	mems, err := db.ListMemories(container, filter)
	if err != nil {
		return fmt.Errorf("load memories: %w", err)
	}
	byID := make(map[string]*store.Memory, len(mems))
	docs := make([]string, len(mems))
	for i := range mems {
		byID[mems[i].ID] = &mems[i]
		docs[i] = mems[i].Content
	}

	// Keyword leg: BM25, normalized into [0,1] by the leg's max score.
	ix := newBM25(docs)
	queryTokens := tokenize(query)
	rawScores := make([]float64, len(mems))
	maxScore := 0.0
	for i := range mems {
		rawScores[i] = ix.Score(queryTokens, i)
		if rawScores[i] > maxScore {
			maxScore = rawScores[i]
		}
	}
	for i := range mems {
		if rawScores[i] <= 0 {
			continue
		}
		m := mems[i]
		mergeResult(merged, Result{
			ID:        m.ID,
			Kind:      store.KindMemory,
			Content:   m.Content,
			Score:     rawScores[i] / maxScore,
			CreatedAt: m.CreatedAt,
			Memory:    &m,
		})
	}

	// Vector leg: store-side similarity with the same visibility filter.
	if queryVec != nil {
		neighbors, err := db.SimilarMemories(container, queryVec, 0, opts.minSimilarity(), filter)
		if err != nil {
			return fmt.Errorf("vector leg: %w", err)
		}
		for _, n := range neighbors {
			m, ok := byID[n.ID]
			if !ok {
				continue
			}
			mergeResult(merged, Result{
				ID:        m.ID,
				Kind:      store.KindMemory,
				Content:   m.Content,
				Score:     n.Similarity,
				CreatedAt: m.CreatedAt,
				Memory:    m,
			})
		}
	}
	return nil
}

// searchChunks is the rag-mode equivalent of searchMemories.
func searchChunks(db *store.DB, query string, queryVec []float64, container string, opts SearchOpts, merged map[string]Result) error {
	chunks, err := db.ListChunks(container)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	docs := make([]string, len(chunks))
	for i := range chunks {
		byID[chunks[i].ID] = &chunks[i]
		docs[i] = chunks[i].Content
	}

	ix := newBM25(docs)
	queryTokens := tokenize(query)
	rawScores := make([]float64, len(chunks))
	maxScore := 0.0
	for i := range chunks {
		rawScores[i] = ix.Score(queryTokens, i)
		if rawScores[i] > maxScore {
			maxScore = rawScores[i]
		}
	}
	for i := range chunks {
		if rawScores[i] <= 0 {
			continue
		}
		c := chunks[i]
		mergeResult(merged, Result{
			ID:        c.ID,
			Kind:      store.KindChunk,
			Content:   c.Content,
			Score:     rawScores[i] / maxScore,
			CreatedAt: c.CreatedAt,
			Chunk:     &c,
		})
	}

	if queryVec != nil {
		neighbors, err := db.SimilarChunks(container, queryVec, 0, opts.minSimilarity())
		if err != nil {
			return fmt.Errorf("chunk vector leg: %w", err)
		}
		for _, n := range neighbors {
			c, ok := byID[n.ID]
			if !ok {
				continue
			}
			mergeResult(merged, Result{
				ID:        c.ID,
				Kind:      store.KindChunk,
				Content:   c.Content,
				Score:     n.Similarity,
				CreatedAt: c.CreatedAt,
				Chunk:     c,
			})
		}
	}
	return nil
}

// mergeResult folds a hit into the merged set by item identity. An item
// present in both legs takes the higher score, not the sum; agreement is
// not double-counted.
func mergeResult(merged map[string]Result, r Result) {
	existing, ok := merged[r.ID]
	if !ok || r.Score > existing.Score {
		merged[r.ID] = r
	}
}

// sortResults imposes the total result order: score descending, then
// most-recently-created first, then identifier. Identical inputs always
// produce identical output order.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].CreatedAt != results[j].CreatedAt {
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].ID < results[j].ID
	})
}
