package engine

import (
	"log"
	"time"

	"github.com/fathomlabs/mnemo/internal/store"
)

// RecordAccess updates access bookkeeping for a result set in the
// background. Retrieval latency never waits on it and its failures are
// logged, not surfaced.
func (e *Engine) RecordAccess(query, container string, results []Result) {
	go e.recordAccess(query, container, results, time.Now().UnixMilli())
}

// recordAccess is the synchronous body of RecordAccess. Each returned
// memory gets its access count and timestamp bumped; preference memories
// are additionally reinforced, which resets their decay clock. Entities
// named in the query get their mention counters touched.
func (e *Engine) recordAccess(query, container string, results []Result, now int64) {
	var memIDs []string
	for _, r := range results {
		if r.Kind != store.KindMemory || r.Memory == nil {
			continue
		}
		memIDs = append(memIDs, r.ID)
		if r.Memory.MemoryType == store.TypePreference {
			if _, err := e.DB.Reinforce(r.ID, reinforceBonus, now); err != nil {
				log.Printf("access: reinforce %s: %v", r.ID, err)
			}
		}
	}
	if err := e.DB.TouchMemories(memIDs, now); err != nil {
		log.Printf("access: touch memories: %v", err)
	}

	entities, err := e.DB.MatchEntities(container, tokenize(query))
	if err != nil {
		log.Printf("access: match entities: %v", err)
		return
	}
	entityIDs := make([]string, len(entities))
	for i, ent := range entities {
		entityIDs[i] = ent.ID
	}
	if err := e.DB.TouchEntities(entityIDs, now); err != nil {
		log.Printf("access: touch entities: %v", err)
	}
}
