package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: atomic facts with lifecycle state",
		SQL: `
CREATE TABLE memories (
    id              TEXT PRIMARY KEY,
    content         TEXT NOT NULL,
    memory_type     TEXT NOT NULL CHECK (memory_type IN ('fact', 'preference', 'episode', 'derived')),
    container_tag   TEXT NOT NULL,
    is_latest       INTEGER NOT NULL DEFAULT 1,
    confidence      REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),

    -- Decay anchor: confidence at last reinforcement and when it was set.
    -- Kept separate from created_at so reinforcement resets the clock.
    base_confidence REAL NOT NULL CHECK (base_confidence >= 0.0 AND base_confidence <= 1.0),
    anchor_at       INTEGER NOT NULL,

    -- Validity window and soft-delete marker
    valid_from      INTEGER NOT NULL,
    valid_to        INTEGER,
    forgotten_at    INTEGER,

    -- Provenance and access tracking
    source_doc_id   TEXT,
    access_count    INTEGER NOT NULL DEFAULT 0,
    last_access     INTEGER,
    created_at      INTEGER NOT NULL
);

CREATE INDEX idx_memories_container ON memories(container_tag);
CREATE INDEX idx_memories_latest    ON memories(is_latest);
CREATE INDEX idx_memories_type      ON memories(memory_type);
CREATE INDEX idx_memories_forgotten ON memories(forgotten_at);
`,
	},
	{
		Version:     2,
		Description: "memory_edges: UPDATES/EXTENDS/DERIVES relations between memories",
		SQL: `
CREATE TABLE memory_edges (
    id          INTEGER PRIMARY KEY,
    relation    TEXT NOT NULL CHECK (relation IN ('UPDATES', 'EXTENDS', 'DERIVES')),
    from_id     TEXT NOT NULL,
    to_id       TEXT NOT NULL,
    confidence  REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
    created_at  INTEGER NOT NULL,

    UNIQUE (relation, from_id, to_id),
    FOREIGN KEY (from_id) REFERENCES memories(id) ON DELETE CASCADE,
    FOREIGN KEY (to_id)   REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX idx_edges_from ON memory_edges(from_id);
CREATE INDEX idx_edges_to   ON memory_edges(to_id);
`,
	},
	{
		Version:     3,
		Description: "entities/documents/chunks: provenance and retrieval context",
		SQL: `
CREATE TABLE entities (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL UNIQUE,
    container_tag TEXT NOT NULL,
    access_count  INTEGER NOT NULL DEFAULT 0,
    last_access   INTEGER,
    created_at    INTEGER NOT NULL
);

CREATE TABLE documents (
    id            TEXT PRIMARY KEY,
    title         TEXT,
    container_tag TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'ingested' CHECK (status IN ('pending', 'ingested', 'failed')),
    created_at    INTEGER NOT NULL
);

CREATE TABLE chunks (
    id            TEXT PRIMARY KEY,
    document_id   TEXT NOT NULL,
    content       TEXT NOT NULL,
    container_tag TEXT NOT NULL,
    position      INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,

    FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
);

CREATE INDEX idx_entities_container ON entities(container_tag);
CREATE INDEX idx_documents_status   ON documents(status);
CREATE INDEX idx_chunks_document    ON chunks(document_id);
CREATE INDEX idx_chunks_container   ON chunks(container_tag);
`,
	},
	{
		Version:     4,
		Description: "vectors: embeddings for memories and chunks",
		SQL: `
CREATE TABLE vectors (
    owner_id   TEXT NOT NULL,
    kind       TEXT NOT NULL CHECK (kind IN ('memory', 'chunk')),
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (owner_id, kind)
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
