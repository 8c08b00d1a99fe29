package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fathomlabs/mnemo/internal/llm"
	"github.com/fathomlabs/mnemo/internal/store"
)

// ErrInvalidInput indicates a request was rejected at the boundary before
// any mutation or oracle call.
var ErrInvalidInput = errors.New("invalid input")

// Engine orchestrates the memory lifecycle (relation classification,
// confidence decay, soft/hard delete) and hybrid retrieval. It holds no
// state of its own between invocations: the store is the single source of
// truth, and concurrent mutation paths rely on the store's transactional
// atomicity rather than in-process locks.
type Engine struct {
	DB       *store.DB
	LLM      llm.Client
	Embedder Embedder
	Reranker Reranker

	classifyCh chan string
	stopCh     chan struct{}
}

// New creates a new Engine around the given store and oracle client.
func New(db *store.DB, client llm.Client) *Engine {
	return &Engine{
		DB:     db,
		LLM:    client,
		stopCh: make(chan struct{}),
	}
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// SetReranker configures the optional rerank oracle.
func (e *Engine) SetReranker(r Reranker) {
	e.Reranker = r
}

// IngestClassify stores a new memory and synchronously classifies it
// against its similarity neighbors. This is the synchronous form of the
// ingestion path; the HTTP layer uses EnqueueClassify instead so requests
// return before oracle calls complete.
func (e *Engine) IngestClassify(ctx context.Context, m *store.Memory) ([]AppliedRelation, error) {
	if err := e.DB.CreateMemory(m); err != nil {
		return nil, err
	}
	if err := e.EmbedMemory(ctx, m); err != nil {
		// The memory is stored; classification just has no vector to work
		// with yet. EmbedMissing picks it up later.
		log.Printf("ingest: embed %s: %v", m.ID, err)
		return nil, nil
	}
	return e.ClassifyNewMemory(ctx, m)
}

// EmbedMemory generates and stores an embedding for a single memory.
func (e *Engine) EmbedMemory(ctx context.Context, m *store.Memory) error {
	if e.Embedder == nil {
		return nil
	}
	vec, err := EmbedOne(ctx, e.Embedder, m.Content)
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", m.ID, err)
	}
	if vec == nil {
		return fmt.Errorf("embed memory %s: no vector", m.ID)
	}
	return e.DB.SaveVector(m.ID, store.KindMemory, vec, e.Embedder.Model())
}

// EmbedMissing embeds all memories and chunks that don't have a vector or
// whose model differs. Returns the number embedded.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	if e.Embedder == nil {
		return 0, nil
	}

	embedded := 0

	mems, err := e.DB.ListActiveMemories()
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}
	for i := range mems {
		existing, err := e.DB.GetVector(mems[i].ID, store.KindMemory)
		if err != nil {
			log.Printf("embed missing: get vector for %s: %v", mems[i].ID, err)
			continue
		}
		if existing != nil && existing.Model == e.Embedder.Model() {
			continue
		}
		if err := e.EmbedMemory(ctx, &mems[i]); err != nil {
			log.Printf("embed missing: %v", err)
			continue
		}
		embedded++
	}

	chunks, err := e.DB.ListChunks("")
	if err == nil {
		for _, c := range chunks {
			existing, err := e.DB.GetVector(c.ID, store.KindChunk)
			if err != nil || (existing != nil && existing.Model == e.Embedder.Model()) {
				continue
			}
			vec, err := EmbedOne(ctx, e.Embedder, c.Content)
			if err != nil || vec == nil {
				log.Printf("embed missing: chunk %s: %v", c.ID, err)
				continue
			}
			if err := e.DB.SaveVector(c.ID, store.KindChunk, vec, e.Embedder.Model()); err != nil {
				log.Printf("embed missing: save chunk vector %s: %v", c.ID, err)
				continue
			}
			embedded++
		}
	}

	return embedded, nil
}

// Retrieve runs a hybrid search and records access against the results.
func (e *Engine) Retrieve(ctx context.Context, query, container string, mode Mode, opts SearchOpts) ([]Result, error) {
	results, err := Search(ctx, e.DB, e.Embedder, e.LLM, e.Reranker, query, container, mode, opts)
	if err != nil {
		return nil, err
	}
	e.RecordAccess(query, container, results)
	return results, nil
}
