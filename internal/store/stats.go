package store

import "fmt"

// Stats is a point-in-time summary of the store's contents.
type Stats struct {
	MemoriesByType map[string]int `json:"memories_by_type"`
	ActiveMemories int            `json:"active_memories"`
	Forgotten      int            `json:"forgotten"`
	Edges          int            `json:"edges"`
	Entities       int            `json:"entities"`
	Documents      int            `json:"documents"`
	Chunks         int            `json:"chunks"`
	Vectors        int            `json:"vectors"`
}

// GetStats counts rows across the schema.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{MemoriesByType: make(map[string]int)}

	rows, err := db.Query(`SELECT memory_type, COUNT(*) FROM memories WHERE forgotten_at IS NULL GROUP BY memory_type`)
	if err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan memory count: %w", err)
		}
		s.MemoriesByType[typ] = n
		s.ActiveMemories += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM memories WHERE forgotten_at IS NOT NULL`, &s.Forgotten},
		{`SELECT COUNT(*) FROM memory_edges`, &s.Edges},
		{`SELECT COUNT(*) FROM entities`, &s.Entities},
		{`SELECT COUNT(*) FROM documents`, &s.Documents},
		{`SELECT COUNT(*) FROM chunks`, &s.Chunks},
		{`SELECT COUNT(*) FROM vectors`, &s.Vectors},
	}
	for _, c := range counts {
		if err := db.QueryRow(c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return s, nil
}
