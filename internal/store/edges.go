package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Relation edge kinds between memories.
const (
	RelationUpdates = "UPDATES"
	RelationExtends = "EXTENDS"
	RelationDerives = "DERIVES"
)

// Edge is a classification edge between two memories. Direction follows
// the relation: UPDATES/EXTENDS run new→old, DERIVES runs source→derived.
type Edge struct {
	ID         int64   `json:"id"`
	Relation   string  `json:"relation"`
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	Confidence float64 `json:"confidence"`
	CreatedAt  int64   `json:"created_at"`
}

// ApplyUpdate records that newID supersedes oldID: inserts the UPDATES edge
// and flips the old memory's is_latest flag in one transaction. Partial
// application is impossible. Re-applying the same pair is a no-op (the
// edge's uniqueness constraint absorbs the duplicate); the flag flip is
// idempotent anyway. Returns true if the edge was newly created.
func (db *DB) ApplyUpdate(newID, oldID string, confidence float64) (bool, error) {
	if confidence < 0 || confidence > 1 {
		return false, fmt.Errorf("%w: confidence %f outside [0,1]", ErrInvalidInput, confidence)
	}
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin apply update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO memory_edges (relation, from_id, to_id, confidence, created_at)
		VALUES ('UPDATES', ?, ?, ?, ?)
	`, newID, oldID, confidence, now)
	if err != nil {
		return false, fmt.Errorf("insert updates edge: %w", err)
	}
	inserted, _ := res.RowsAffected()

	if _, err := tx.Exec("UPDATE memories SET is_latest = 0 WHERE id = ?", oldID); err != nil {
		return false, fmt.Errorf("flip is_latest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit apply update: %w", err)
	}
	return inserted > 0, nil
}

// ApplyExtend records that newID adds detail to oldID. No flag change.
// Returns true if the edge was newly created.
func (db *DB) ApplyExtend(newID, oldID string, confidence float64) (bool, error) {
	if confidence < 0 || confidence > 1 {
		return false, fmt.Errorf("%w: confidence %f outside [0,1]", ErrInvalidInput, confidence)
	}
	now := time.Now().UnixMilli()

	res, err := db.Exec(`
		INSERT OR IGNORE INTO memory_edges (relation, from_id, to_id, confidence, created_at)
		VALUES ('EXTENDS', ?, ?, ?, ?)
	`, newID, oldID, confidence, now)
	if err != nil {
		return false, fmt.Errorf("insert extends edge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ApplyDerive creates a derived memory inferred from sourceIDs, with
// DERIVES edges from each source, in one transaction. The derived memory's
// confidence is capped at the minimum confidence of its sources: derived
// facts never exceed the certainty of their evidence.
func (db *DB) ApplyDerive(derived *Memory, sourceIDs []string, edgeConfidence float64) error {
	if len(sourceIDs) == 0 {
		return fmt.Errorf("%w: derive without sources", ErrInvalidInput)
	}
	if strings.TrimSpace(derived.Content) == "" {
		return fmt.Errorf("%w: empty derived content", ErrInvalidInput)
	}
	if edgeConfidence < 0 || edgeConfidence > 1 {
		return fmt.Errorf("%w: confidence %f outside [0,1]", ErrInvalidInput, edgeConfidence)
	}

	now := time.Now().UnixMilli()
	if derived.ID == "" {
		derived.ID = uuid.NewString()
	}
	derived.MemoryType = TypeDerived
	if derived.Confidence == 0 {
		derived.Confidence = edgeConfidence
	}
	if derived.CreatedAt == 0 {
		derived.CreatedAt = now
	}
	if derived.ValidFrom == 0 {
		derived.ValidFrom = derived.CreatedAt
	}
	derived.AnchorAt = derived.CreatedAt
	derived.IsLatest = true

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin apply derive: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(sourceIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		args[i] = id
	}

	var minConf float64
	var count int
	err = tx.QueryRow(
		"SELECT COALESCE(MIN(confidence), 0), COUNT(*) FROM memories WHERE id IN ("+placeholders+")",
		args...).Scan(&minConf, &count)
	if err != nil {
		return fmt.Errorf("min source confidence: %w", err)
	}
	if count != len(sourceIDs) {
		return fmt.Errorf("derive sources: %w", ErrNotFound)
	}
	if derived.Confidence > minConf {
		derived.Confidence = minConf
	}
	derived.BaseConfidence = derived.Confidence

	_, err = tx.Exec(`
		INSERT INTO memories (id, content, memory_type, container_tag, is_latest, confidence,
			base_confidence, anchor_at, valid_from, valid_to, forgotten_at, source_doc_id,
			access_count, last_access, created_at)
		VALUES (?, ?, 'derived', ?, 1, ?, ?, ?, ?, NULL, NULL, NULLIF(?, ''), 0, NULL, ?)
	`, derived.ID, derived.Content, derived.ContainerTag, derived.Confidence,
		derived.BaseConfidence, derived.AnchorAt, derived.ValidFrom, derived.SourceDocID, derived.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("derived memory %s: %w", derived.ID, ErrConflict)
		}
		return fmt.Errorf("insert derived memory: %w", err)
	}

	for _, src := range sourceIDs {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO memory_edges (relation, from_id, to_id, confidence, created_at)
			VALUES ('DERIVES', ?, ?, ?, ?)
		`, src, derived.ID, edgeConfidence, now); err != nil {
			return fmt.Errorf("insert derives edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply derive: %w", err)
	}
	return nil
}

// PairClassified reports whether a classification between a and b has
// already been applied: a direct edge in either direction, or a shared
// derived memory both contributed to. The classifier checks this before
// calling the oracle so re-ingesting a memory produces no duplicate work.
func (db *DB) PairClassified(a, b string) (bool, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM memory_edges
		WHERE relation IN ('UPDATES', 'EXTENDS')
		  AND ((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?))
	`, a, b, b, a).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check direct edges: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM memory_edges x
		JOIN memory_edges y ON x.to_id = y.to_id
		WHERE x.relation = 'DERIVES' AND y.relation = 'DERIVES'
		  AND x.from_id = ? AND y.from_id = ?
	`, a, b).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check shared derives: %w", err)
	}
	return count > 0, nil
}

// UnrelatedMemoryIDs returns active latest memories that have no outgoing
// relation edge, oldest first. These are the memories a lost or shed
// classification pass left behind; rescanning them is cheap because
// PairClassified short-circuits pairs the oracle already ruled on.
func (db *DB) UnrelatedMemoryIDs(limit int) ([]string, error) {
	q := `
		SELECT m.id FROM memories m
		WHERE m.forgotten_at IS NULL AND m.is_latest = 1
		  AND NOT EXISTS (SELECT 1 FROM memory_edges e WHERE e.from_id = m.id)
		ORDER BY m.created_at, m.id`
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query unrelated memories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan memory id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EdgesFrom returns all edges originating at a memory.
func (db *DB) EdgesFrom(id string) ([]Edge, error) {
	return db.queryEdges("SELECT id, relation, from_id, to_id, confidence, created_at FROM memory_edges WHERE from_id = ? ORDER BY created_at, id", id)
}

// EdgesTo returns all edges pointing at a memory.
func (db *DB) EdgesTo(id string) ([]Edge, error) {
	return db.queryEdges("SELECT id, relation, from_id, to_id, confidence, created_at FROM memory_edges WHERE to_id = ? ORDER BY created_at, id", id)
}

func (db *DB) queryEdges(q string, args ...any) ([]Edge, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.Relation, &e.FromID, &e.ToID, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// SourcesAllLatest reports whether every DERIVES source of the given
// derived memory still has is_latest set. A derived memory whose evidence
// was superseded is invalidated by the decay engine.
func (db *DB) SourcesAllLatest(derivedID string) (bool, error) {
	var stale int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM memory_edges e
		JOIN memories m ON m.id = e.from_id
		WHERE e.relation = 'DERIVES' AND e.to_id = ? AND m.is_latest = 0
	`, derivedID).Scan(&stale)
	if err != nil {
		return false, fmt.Errorf("check derive sources: %w", err)
	}
	return stale == 0, nil
}
