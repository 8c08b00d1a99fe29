package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Memory type values.
const (
	TypeFact       = "fact"
	TypePreference = "preference"
	TypeEpisode    = "episode"
	TypeDerived    = "derived"
)

// InitialConfidence returns the creation-time confidence for a memory type.
func InitialConfidence(memoryType string) float64 {
	switch memoryType {
	case TypeFact:
		return 1.0
	case TypePreference:
		return 0.8
	case TypeEpisode:
		return 0.9
	default: // derived confidence is set by the classifier, capped by sources
		return 1.0
	}
}

// Memory is an atomic, versioned fact with confidence and validity window.
type Memory struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	MemoryType     string  `json:"memory_type"`
	ContainerTag   string  `json:"container_tag"`
	IsLatest       bool    `json:"is_latest"`
	Confidence     float64 `json:"confidence"`
	BaseConfidence float64 `json:"base_confidence"`
	AnchorAt       int64   `json:"anchor_at"`
	ValidFrom      int64   `json:"valid_from"`
	ValidTo        *int64  `json:"valid_to,omitempty"`
	ForgottenAt    *int64  `json:"forgotten_at,omitempty"`
	SourceDocID    string  `json:"source_doc_id,omitempty"`
	AccessCount    int     `json:"access_count"`
	LastAccess     *int64  `json:"last_access,omitempty"`
	CreatedAt      int64   `json:"created_at"`
}

func validMemoryType(t string) bool {
	switch t {
	case TypeFact, TypePreference, TypeEpisode, TypeDerived:
		return true
	}
	return false
}

// CreateMemory inserts a new memory. Fails fast on invalid input before any
// mutation. Fields left at their zero value are defaulted: ID gets a UUID,
// confidence the per-type initial value, timestamps the current time.
// Explicit timestamps are honored so callers can backfill historical data.
func (db *DB) CreateMemory(m *Memory) error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if !validMemoryType(m.MemoryType) {
		return fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, m.MemoryType)
	}
	if strings.TrimSpace(m.ContainerTag) == "" {
		return fmt.Errorf("%w: empty container tag", ErrInvalidInput)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f outside [0,1]", ErrInvalidInput, m.Confidence)
	}

	now := time.Now().UnixMilli()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Confidence == 0 {
		m.Confidence = InitialConfidence(m.MemoryType)
	}
	if m.BaseConfidence == 0 {
		m.BaseConfidence = m.Confidence
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.ValidFrom == 0 {
		m.ValidFrom = m.CreatedAt
	}
	if m.AnchorAt == 0 {
		m.AnchorAt = m.CreatedAt
	}
	m.IsLatest = true

	_, err := db.Exec(`
		INSERT INTO memories (id, content, memory_type, container_tag, is_latest, confidence,
			base_confidence, anchor_at, valid_from, valid_to, forgotten_at, source_doc_id,
			access_count, last_access, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, NULL, NULLIF(?, ''), 0, NULL, ?)
	`, m.ID, m.Content, m.MemoryType, m.ContainerTag, m.Confidence,
		m.BaseConfidence, m.AnchorAt, m.ValidFrom, m.ValidTo, m.SourceDocID, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create memory %s: %w", m.ID, ErrConflict)
		}
		return fmt.Errorf("create memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, content, memory_type, container_tag, is_latest, confidence,
	base_confidence, anchor_at, valid_from, valid_to, forgotten_at, source_doc_id,
	access_count, last_access, created_at`

func scanMemory(row interface{ Scan(...any) error }) (*Memory, error) {
	var m Memory
	var isLatest int
	var validTo, forgottenAt, lastAccess sql.NullInt64
	var sourceDocID sql.NullString
	err := row.Scan(&m.ID, &m.Content, &m.MemoryType, &m.ContainerTag, &isLatest, &m.Confidence,
		&m.BaseConfidence, &m.AnchorAt, &m.ValidFrom, &validTo, &forgottenAt, &sourceDocID,
		&m.AccessCount, &lastAccess, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.IsLatest = isLatest != 0
	if validTo.Valid {
		m.ValidTo = &validTo.Int64
	}
	if forgottenAt.Valid {
		m.ForgottenAt = &forgottenAt.Int64
	}
	if lastAccess.Valid {
		m.LastAccess = &lastAccess.Int64
	}
	m.SourceDocID = sourceDocID.String
	return &m, nil
}

// GetMemory returns a memory by id, or ErrNotFound.
func (db *DB) GetMemory(id string) (*Memory, error) {
	m, err := scanMemory(db.QueryRow(
		"SELECT "+memoryColumns+" FROM memories WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetMemoriesByIDs returns the memories for the given ids, in no particular order.
func (db *DB) GetMemoriesByIDs(ids []string) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.Query(
		"SELECT "+memoryColumns+" FROM memories WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListFilter controls which lifecycle states a listing includes.
type ListFilter struct {
	IncludeExpired   bool // include memories past their valid_to
	IncludeForgotten bool // include soft-deleted memories
}

// ListMemories returns memories in a container, newest first. An empty
// container matches all containers. By default expired and forgotten
// memories are excluded, matching the retrieval visibility rules.
func (db *DB) ListMemories(container string, f ListFilter) ([]Memory, error) {
	now := time.Now().UnixMilli()
	q := "SELECT " + memoryColumns + " FROM memories WHERE 1=1"
	var args []any
	if container != "" {
		q += " AND container_tag = ?"
		args = append(args, container)
	}
	if !f.IncludeForgotten {
		q += " AND forgotten_at IS NULL"
	}
	if !f.IncludeExpired {
		q += " AND (valid_to IS NULL OR valid_to >= ?)"
		args = append(args, now)
	}
	q += " ORDER BY created_at DESC, id"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// ListActiveMemories returns every non-forgotten memory across all
// containers. The decay engine iterates this set once per tick.
func (db *DB) ListActiveMemories() ([]Memory, error) {
	rows, err := db.Query(
		"SELECT " + memoryColumns + " FROM memories WHERE forgotten_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list active memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

func collectMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// SetConfidence atomically writes a recomputed confidence value.
// The decay anchor is untouched: base_confidence and anchor_at only move
// on reinforcement.
func (db *DB) SetConfidence(id string, confidence float64) error {
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %f outside [0,1]", ErrInvalidInput, confidence)
	}
	_, err := db.Exec("UPDATE memories SET confidence = ? WHERE id = ?", confidence, id)
	if err != nil {
		return fmt.Errorf("set confidence: %w", err)
	}
	return nil
}

// MarkForgotten soft-deletes a memory. The SQL guard makes the transition
// null→timestamp happen at most once; a second call is a no-op.
// Returns true if this call performed the transition.
func (db *DB) MarkForgotten(id string, at int64) (bool, error) {
	res, err := db.Exec(
		"UPDATE memories SET forgotten_at = ? WHERE id = ? AND forgotten_at IS NULL", at, id)
	if err != nil {
		return false, fmt.Errorf("mark forgotten: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Reinforce bumps a preference memory's confidence by delta (capped at 1.0)
// and resets its decay anchor. Non-preference and forgotten memories are
// unaffected. Returns true if a row changed.
func (db *DB) Reinforce(id string, delta float64, at int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE memories
		SET confidence = MIN(1.0, confidence + ?),
		    base_confidence = MIN(1.0, confidence + ?),
		    anchor_at = ?
		WHERE id = ? AND memory_type = 'preference' AND forgotten_at IS NULL
	`, delta, delta, at, id)
	if err != nil {
		return false, fmt.Errorf("reinforce: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TouchMemories records read access: bumps access_count and last_access.
func (db *DB) TouchMemories(ids []string, at int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{at}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.Exec(
		"UPDATE memories SET last_access = ?, access_count = access_count + 1 WHERE id IN ("+placeholders+")",
		args...)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// HardDeleteExpired permanently removes memories whose forgotten_at is
// older than the cutoff, along with their edges and vectors. Edges cascade
// via foreign keys; vectors are polymorphic and removed explicitly.
// Returns the number of memories removed.
func (db *DB) HardDeleteExpired(cutoff int64) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin hard delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM vectors WHERE kind = 'memory' AND owner_id IN
			(SELECT id FROM memories WHERE forgotten_at IS NOT NULL AND forgotten_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired vectors: %w", err)
	}

	res, err := tx.Exec(
		"DELETE FROM memories WHERE forgotten_at IS NOT NULL AND forgotten_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired memories: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit hard delete: %w", err)
	}
	return int(n), nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
// modernc.org/sqlite does not export a typed error for this, so we match
// the constraint message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
