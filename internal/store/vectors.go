package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// Vector owner kinds.
const (
	KindMemory = "memory"
	KindChunk  = "chunk"
)

// VectorRecord holds an embedding for a memory or chunk.
type VectorRecord struct {
	OwnerID    string
	Kind       string
	Embedding  []float64
	Model      string
	Dimensions int
	CreatedAt  int64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveVector stores or replaces the embedding for a memory or chunk.
func (db *DB) SaveVector(ownerID, kind string, embedding []float64, model string) error {
	now := time.Now().UnixMilli()
	blob := encodeEmbedding(embedding)

	_, err := db.Exec(`
		INSERT INTO vectors (owner_id, kind, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, kind) DO UPDATE SET embedding = ?, model = ?, dimensions = ?, created_at = ?
	`, ownerID, kind, blob, model, len(embedding), now,
		blob, model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector returns the embedding for a memory or chunk, or nil if not found.
func (db *DB) GetVector(ownerID, kind string) (*VectorRecord, error) {
	var v VectorRecord
	var blob []byte

	err := db.QueryRow(`
		SELECT owner_id, kind, embedding, model, dimensions, created_at
		FROM vectors WHERE owner_id = ? AND kind = ?
	`, ownerID, kind).Scan(&v.OwnerID, &v.Kind, &blob, &v.Model, &v.Dimensions, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vector: %w", err)
	}
	v.Embedding = decodeEmbedding(blob)
	return &v, nil
}

// DeleteVector removes the embedding for a memory or chunk.
func (db *DB) DeleteVector(ownerID, kind string) error {
	_, err := db.Exec("DELETE FROM vectors WHERE owner_id = ? AND kind = ?", ownerID, kind)
	if err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	return nil
}

// Neighbor is a vector-similarity match.
type Neighbor struct {
	ID         string
	Similarity float64
	CreatedAt  int64
}

// SimilarMemories returns the top-k memories in a container whose embedding
// cosine similarity to vec is >= minSim, ordered by similarity descending
// with ties broken by most-recent created_at first, then id. Similarity is
// computed in Go: modernc.org/sqlite has no vector functions, and the
// candidate sets here are small enough that a scan is fine.
func (db *DB) SimilarMemories(container string, vec []float64, k int, minSim float64, f ListFilter) ([]Neighbor, error) {
	now := time.Now().UnixMilli()
	q := `
		SELECT v.owner_id, v.embedding, m.created_at
		FROM vectors v
		JOIN memories m ON m.id = v.owner_id
		WHERE v.kind = 'memory' AND m.container_tag = ?`
	args := []any{container}
	if !f.IncludeForgotten {
		q += " AND m.forgotten_at IS NULL"
	}
	if !f.IncludeExpired {
		q += " AND (m.valid_to IS NULL OR m.valid_to >= ?)"
		args = append(args, now)
	}

	return db.similar(q, args, vec, k, minSim)
}

// SimilarChunks returns the top-k chunks in a container by cosine similarity.
func (db *DB) SimilarChunks(container string, vec []float64, k int, minSim float64) ([]Neighbor, error) {
	q := `
		SELECT v.owner_id, v.embedding, c.created_at
		FROM vectors v
		JOIN chunks c ON c.id = v.owner_id
		WHERE v.kind = 'chunk' AND c.container_tag = ?`
	return db.similar(q, []any{container}, vec, k, minSim)
}

func (db *DB) similar(q string, args []any, vec []float64, k int, minSim float64) ([]Neighbor, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var id string
		var blob []byte
		var createdAt int64
		if err := rows.Scan(&id, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan similarity row: %w", err)
		}
		sim := CosineSimilarity(vec, decodeEmbedding(blob))
		if sim < minSim {
			continue
		}
		neighbors = append(neighbors, Neighbor{ID: id, Similarity: sim, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Similarity != neighbors[j].Similarity {
			return neighbors[i].Similarity > neighbors[j].Similarity
		}
		if neighbors[i].CreatedAt != neighbors[j].CreatedAt {
			return neighbors[i].CreatedAt > neighbors[j].CreatedAt
		}
		return neighbors[i].ID < neighbors[j].ID
	})

	if k > 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
