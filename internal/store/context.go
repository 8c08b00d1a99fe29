package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Supporting nodes: entities, documents, chunks. These are owned by the
// external ingestion/CRUD layer; the core reads them for retrieval context
// and provenance, and the access tracker bumps entity counters.

// Entity is a named thing mentioned by memories, scoped to a container.
type Entity struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContainerTag string `json:"container_tag"`
	AccessCount  int    `json:"access_count"`
	LastAccess   *int64 `json:"last_access,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// Document is a provenance anchor for ingested content.
type Document struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	ContainerTag string `json:"container_tag"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
}

// Chunk is a pre-chunked slice of a document, retrievable in rag mode.
type Chunk struct {
	ID           string `json:"id"`
	DocumentID   string `json:"document_id"`
	Content      string `json:"content"`
	ContainerTag string `json:"container_tag"`
	Position     int    `json:"position"`
	CreatedAt    int64  `json:"created_at"`
}

// CreateEntity inserts an entity. Entity names are globally unique;
// re-creating an existing name returns ErrConflict.
func (db *DB) CreateEntity(e *Entity) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: empty entity name", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO entities (id, name, container_tag, access_count, last_access, created_at)
		VALUES (?, ?, ?, 0, NULL, ?)
	`, e.ID, e.Name, e.ContainerTag, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entity %q: %w", e.Name, ErrConflict)
		}
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

// MatchEntities returns entities in a container whose lowercase name is one
// of the given tokens. Used by the access tracker to attribute query hits.
func (db *DB) MatchEntities(container string, tokens []string) ([]Entity, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(tokens))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{container}
	for _, tok := range tokens {
		args = append(args, strings.ToLower(tok))
	}

	rows, err := db.Query(`
		SELECT id, name, container_tag, access_count, last_access, created_at
		FROM entities WHERE container_tag = ? AND LOWER(name) IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("match entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var lastAccess sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Name, &e.ContainerTag, &e.AccessCount, &lastAccess, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if lastAccess.Valid {
			e.LastAccess = &lastAccess.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TouchEntities records read access against entities.
func (db *DB) TouchEntities(ids []string, at int64) error {
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
		"UPDATE entities SET last_access = ?, access_count = access_count + 1 WHERE id IN ("+placeholders+")",
		args...)
	if err != nil {
		return fmt.Errorf("touch entities: %w", err)
	}
	return nil
}

// CreateDocument inserts a document provenance record.
func (db *DB) CreateDocument(d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = "ingested"
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO documents (id, title, container_tag, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.Title, d.ContainerTag, d.Status, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("document %s: %w", d.ID, ErrConflict)
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// CreateChunk inserts a pre-chunked document slice.
func (db *DB) CreateChunk(c *Chunk) error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("%w: empty chunk content", ErrInvalidInput)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO chunks (id, document_id, content, container_tag, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.DocumentID, c.Content, c.ContainerTag, c.Position, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("chunk %s: %w", c.ID, ErrConflict)
		}
		return fmt.Errorf("create chunk: %w", err)
	}
	return nil
}

// ListChunks returns all chunks in a container, in document order. An
// empty container matches every container.
func (db *DB) ListChunks(container string) ([]Chunk, error) {
	query := `
		SELECT id, document_id, content, container_tag, position, created_at
		FROM chunks WHERE container_tag = ? ORDER BY document_id, position`
	args := []any{container}
	if container == "" {
		query = `
		SELECT id, document_id, content, container_tag, position, created_at
		FROM chunks ORDER BY document_id, position`
		args = nil
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ContainerTag, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunksByIDs returns the chunks for the given ids.
func (db *DB) GetChunksByIDs(ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.Query(`
		SELECT id, document_id, content, container_tag, position, created_at
		FROM chunks WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks by ids: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ContainerTag, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
