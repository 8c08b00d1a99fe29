package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fathomlabs/mnemo/internal/chunker"
	"github.com/fathomlabs/mnemo/internal/engine"
	"github.com/fathomlabs/mnemo/internal/store"
)

const classifyRequestTimeout = 2 * time.Minute

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content      string  `json:"content"`
		MemoryType   string  `json:"memory_type"`
		ContainerTag string  `json:"container_tag"`
		Confidence   float64 `json:"confidence,omitempty"`
		ValidFrom    *int64  `json:"valid_from,omitempty"`
		ValidTo      *int64  `json:"valid_to,omitempty"`
		SourceDocID  string  `json:"source_doc_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	m := &store.Memory{
		Content:      req.Content,
		MemoryType:   req.MemoryType,
		ContainerTag: req.ContainerTag,
		Confidence:   req.Confidence,
		ValidTo:      req.ValidTo,
		SourceDocID:  req.SourceDocID,
	}
	if req.ValidFrom != nil {
		m.ValidFrom = *req.ValidFrom
	}
	if err := s.db.CreateMemory(m); err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Embed now so the memory is immediately searchable; classification
	// runs in the background so the request doesn't wait on the oracle.
	if err := s.engine.EmbedMemory(r.Context(), m); err != nil {
		log.Printf("create memory: embed %s: %v", m.ID, err)
	}
	queued := s.engine.EnqueueClassify(m.ID)

	writeJSON(w, http.StatusCreated, map[string]any{
		"memory":            m,
		"classify_enqueued": queued,
	})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.db.GetMemory(chi.URLParam(r, "memoryID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMemoryRelations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	if _, err := s.db.GetMemory(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out, err := s.db.EdgesFrom(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	in, err := s.db.EdgesTo(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outgoing": edgeList(out),
		"incoming": edgeList(in),
	})
}

// edgeList keeps JSON arrays as [] instead of null.
func edgeList(edges []store.Edge) []store.Edge {
	if edges == nil {
		return []store.Edge{}
	}
	return edges
}

func (s *Server) handleClassifyMemory(w http.ResponseWriter, r *http.Request) {
	m, err := s.db.GetMemory(chi.URLParam(r, "memoryID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), classifyRequestTimeout)
	defer cancel()
	applied, err := s.engine.ClassifyNewMemory(ctx, m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if applied == nil {
		applied = []engine.AppliedRelation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *Server) handleForgetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	marked, err := s.db.MarkForgotten(id, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := "forgotten"
	if !marked {
		status = "already_forgotten"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query        string            `json:"query"`
		ContainerTag string            `json:"container_tag"`
		Mode         string            `json:"mode"`
		Opts         engine.SearchOpts `json:"opts"`
	}

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	} else {
		q := r.URL.Query()
		req.Query = q.Get("q")
		req.ContainerTag = q.Get("container")
		req.Mode = q.Get("mode")
		if l := q.Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil {
				req.Opts.Limit = n
			}
		}
		if ms := q.Get("min_similarity"); ms != "" {
			if f, err := strconv.ParseFloat(ms, 64); err == nil {
				req.Opts.MinSimilarity = f
			}
		}
		req.Opts.Expand = q.Get("expand") == "true"
		req.Opts.Rerank = q.Get("rerank") == "true"
	}

	results, err := s.engine.Retrieve(r.Context(), req.Query, req.ContainerTag, engine.Mode(req.Mode), req.Opts)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []engine.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string   `json:"title"`
		ContainerTag string   `json:"container_tag"`
		Content      string   `json:"content,omitempty"` // raw text, chunked server-side
		Chunks       []string `json:"chunks,omitempty"`  // pre-chunked alternative
		ChunkSize    int      `json:"chunk_size,omitempty"`
		Overlap      int      `json:"overlap,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ContainerTag == "" {
		writeError(w, http.StatusBadRequest, "container_tag required")
		return
	}
	if len(req.Chunks) == 0 {
		req.Chunks = chunker.Split(req.Content, req.ChunkSize, req.Overlap)
	}
	if len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "content or chunks required")
		return
	}

	doc := &store.Document{
		ID:           uuid.NewString(),
		Title:        req.Title,
		ContainerTag: req.ContainerTag,
		Status:       "ingested",
	}
	if err := s.db.CreateDocument(doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chunks := make([]store.Chunk, 0, len(req.Chunks))
	for i, content := range req.Chunks {
		c := store.Chunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Content:      content,
			ContainerTag: req.ContainerTag,
			Position:     i,
		}
		if err := s.db.CreateChunk(&c); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		chunks = append(chunks, c)
	}

	// Chunk embeddings happen in the background; unembedded chunks still
	// serve the keyword leg in the meantime.
	go func() {
		if _, err := s.engine.EmbedMissing(context.Background()); err != nil {
			log.Printf("ingest document %s: embed chunks: %v", doc.ID, err)
		}
	}()

	writeJSON(w, http.StatusCreated, map[string]any{
		"document": doc,
		"chunks":   len(chunks),
	})
}

func (s *Server) handleDecayTick(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.RunDecayTick(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSweepTick(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.engine.RunHardDeleteTick(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
