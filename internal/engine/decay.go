package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/fathomlabs/mnemo/internal/store"
)

// Decay parameters. Confidence follows
// base_confidence * 0.5^(elapsed_days / half_life), anchored at the last
// reinforcement (or creation). Facts never decay.
const (
	softDeleteThreshold = 0.1
	retentionDays       = 30 // forgotten_at age before hard delete

	preferenceHalfLifeDays = 180
	episodeHalfLifeDays    = 7
	derivedHalfLifeDays    = 90

	reinforceBonus = 0.15

	dayMillis = 24 * 60 * 60 * 1000
)

// DecayStats summarizes one decay tick.
type DecayStats struct {
	Scanned     int `json:"scanned"`
	Updated     int `json:"updated"`
	SoftDeleted int `json:"soft_deleted"`
	Invalidated int `json:"invalidated"` // derived memories whose sources were superseded
}

// RunDecayTick recomputes confidence for every active memory and
// soft-deletes those that fall below the threshold. Each memory is
// processed independently: an error on one aborts just that memory's step
// for this tick (it is retried on the next), and partial progress is kept.
// Safe to run concurrently with retrieval: every write is a single atomic
// column update at the store.
func (e *Engine) RunDecayTick(ctx context.Context) (DecayStats, error) {
	var stats DecayStats

	mems, err := e.DB.ListActiveMemories()
	if err != nil {
		return stats, fmt.Errorf("list active memories: %w", err)
	}

	now := time.Now()
	for i := range mems {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		m := &mems[i]
		stats.Scanned++

		if m.MemoryType == store.TypeDerived {
			ok, err := e.DB.SourcesAllLatest(m.ID)
			if err != nil {
				log.Printf("decay: source check %s: %v", m.ID, err)
				continue
			}
			if !ok {
				// Evidence superseded, so the derived fact no longer stands.
				if err := e.invalidate(m, now); err != nil {
					log.Printf("decay: invalidate %s: %v", m.ID, err)
					continue
				}
				stats.Invalidated++
				stats.SoftDeleted++
				continue
			}
		}

		conf, decays := decayedConfidence(m, now)
		if !decays {
			continue
		}

		if conf < m.Confidence {
			if err := e.DB.SetConfidence(m.ID, conf); err != nil {
				log.Printf("decay: set confidence %s: %v", m.ID, err)
				continue
			}
			stats.Updated++
		}

		if conf < softDeleteThreshold {
			marked, err := e.DB.MarkForgotten(m.ID, now.UnixMilli())
			if err != nil {
				log.Printf("decay: mark forgotten %s: %v", m.ID, err)
				continue
			}
			if marked {
				stats.SoftDeleted++
			}
		}
	}

	return stats, nil
}

// RunHardDeleteTick permanently removes memories whose forgotten_at is
// older than the retention window, including their edges and vectors.
func (e *Engine) RunHardDeleteTick(ctx context.Context) (int, error) {
	cutoff := time.Now().UnixMilli() - retentionDays*dayMillis
	return e.DB.HardDeleteExpired(cutoff)
}

// invalidate forces a derived memory's confidence to zero and soft-deletes it.
func (e *Engine) invalidate(m *store.Memory, now time.Time) error {
	if err := e.DB.SetConfidence(m.ID, 0); err != nil {
		return err
	}
	_, err := e.DB.MarkForgotten(m.ID, now.UnixMilli())
	return err
}

// decayedConfidence computes the memory's confidence at the given time.
// The second return is false for types that never decay.
//
// The anchor differs per type: preferences decay from their last
// reinforcement (anchor_at), episodes from the end of their validity
// window (valid_to, or creation when unset), derived memories from
// creation.
func decayedConfidence(m *store.Memory, now time.Time) (float64, bool) {
	var halfLifeDays float64
	var anchor int64

	switch m.MemoryType {
	case store.TypeFact:
		// Fixed; only an UPDATES edge changes its standing.
		return m.Confidence, false
	case store.TypePreference:
		halfLifeDays = preferenceHalfLifeDays
		anchor = m.AnchorAt
	case store.TypeEpisode:
		halfLifeDays = episodeHalfLifeDays
		anchor = m.CreatedAt
		if m.ValidTo != nil {
			anchor = *m.ValidTo
		}
	case store.TypeDerived:
		halfLifeDays = derivedHalfLifeDays
		anchor = m.CreatedAt
	default:
		return m.Confidence, false
	}

	elapsed := float64(now.UnixMilli() - anchor)
	if elapsed <= 0 {
		return m.BaseConfidence, true
	}

	elapsedDays := elapsed / dayMillis
	conf := m.BaseConfidence * math.Pow(0.5, elapsedDays/halfLifeDays)
	if conf < 0 {
		conf = 0
	}
	return conf, true
}
