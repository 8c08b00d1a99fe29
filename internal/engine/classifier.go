package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fathomlabs/mnemo/internal/llm"
	"github.com/fathomlabs/mnemo/internal/store"
)

// Classification pipeline parameters.
const (
	candidateLimit  = 10   // neighbors considered per new memory
	candidateMinSim = 0.75 // cosine similarity floor for candidates

	classifyAttempts = 3                // oracle attempts per candidate
	classifyBackoff  = 500 * time.Millisecond
	classifyTimeout  = 30 * time.Second // per-candidate oracle budget
)

// Oracle relation values.
const (
	RelationUpdate = "UPDATE"
	RelationExtend = "EXTEND"
	RelationDerive = "DERIVE"
	RelationNone   = "NONE"
)

// classification is the parsed oracle verdict for one candidate pair.
type classification struct {
	Relation    string  `json:"relation"`
	Confidence  float64 `json:"confidence"`
	DerivedFact string  `json:"derived_fact"`
}

// AppliedRelation describes one graph mutation the classifier performed.
type AppliedRelation struct {
	Relation    string  `json:"relation"`
	CandidateID string  `json:"candidate_id"`
	DerivedID   string  `json:"derived_id,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// ClassifyNewMemory finds existing memories similar to m and applies the
// oracle-classified relation for each. Each candidate is an isolated unit
// of work: an oracle failure on one is logged and treated as NONE without
// aborting the rest. Re-running for the same memory is idempotent: pairs
// that already carry a classification are skipped before the oracle is
// consulted.
func (e *Engine) ClassifyNewMemory(ctx context.Context, m *store.Memory) ([]AppliedRelation, error) {
	if e.LLM == nil {
		return nil, fmt.Errorf("llm not configured")
	}
	if e.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	vec, err := e.DB.GetVector(m.ID, store.KindMemory)
	if err != nil {
		return nil, fmt.Errorf("load vector for %s: %w", m.ID, err)
	}
	if vec == nil {
		if err := e.EmbedMemory(ctx, m); err != nil {
			return nil, err
		}
		vec, err = e.DB.GetVector(m.ID, store.KindMemory)
		if err != nil || vec == nil {
			return nil, fmt.Errorf("vector missing for %s after embed", m.ID)
		}
	}

	neighbors, err := e.DB.SimilarMemories(m.ContainerTag, vec.Embedding, candidateLimit+1, candidateMinSim, store.ListFilter{IncludeExpired: true})
	if err != nil {
		return nil, fmt.Errorf("similarity candidates: %w", err)
	}

	var applied []AppliedRelation
	seen := 0
	for _, n := range neighbors {
		if n.ID == m.ID {
			continue
		}
		if seen >= candidateLimit {
			break
		}
		seen++

		done, err := e.DB.PairClassified(m.ID, n.ID)
		if err != nil {
			log.Printf("classify: pair check %s/%s: %v", m.ID, n.ID, err)
			continue
		}
		if done {
			continue
		}

		candidate, err := e.DB.GetMemory(n.ID)
		if err != nil {
			log.Printf("classify: load candidate %s: %v", n.ID, err)
			continue
		}

		verdict, err := e.classifyPair(ctx, m, candidate)
		if err != nil {
			// Treated as NONE: skipped this invocation, not retried until
			// the memory is re-ingested or re-classified.
			log.Printf("classify: %s vs %s skipped: %v", m.ID, candidate.ID, err)
			continue
		}

		rel, err := e.applyClassification(m, candidate, verdict)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // already applied concurrently, counts as success
			}
			log.Printf("classify: apply %s %s→%s: %v", verdict.Relation, m.ID, candidate.ID, err)
			continue
		}
		if rel != nil {
			applied = append(applied, *rel)
		}
	}

	return applied, nil
}

// classifyPair asks the oracle how m relates to candidate, retrying
// transient failures with exponential backoff. A timeout is not retried:
// the candidate is skipped this invocation and the next classification
// pass picks the pair up again. A malformed response is NONE, not an error.
func (e *Engine) classifyPair(ctx context.Context, m, candidate *store.Memory) (*classification, error) {
	prompt := llm.ClassifyPrompt(m.Content, candidate.Content)

	var lastErr error
	for attempt := 0; attempt < classifyAttempts; attempt++ {
		if attempt > 0 {
			delay := classifyBackoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, classifyTimeout)
		resp, err := e.LLM.Complete(callCtx, prompt)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, fmt.Errorf("oracle timeout: %w", err)
			}
			lastErr = err
			continue
		}

		verdict, perr := parseClassification(resp.Content)
		if perr != nil {
			log.Printf("classify: malformed oracle response, treating as NONE: %v", perr)
			return &classification{Relation: RelationNone}, nil
		}
		return verdict, nil
	}
	return nil, fmt.Errorf("oracle failed after %d attempts: %w", classifyAttempts, lastErr)
}

// applyClassification turns a verdict into the corresponding atomic store
// mutation. NONE applies nothing.
func (e *Engine) applyClassification(m, candidate *store.Memory, verdict *classification) (*AppliedRelation, error) {
	switch verdict.Relation {
	case RelationNone:
		return nil, nil

	case RelationUpdate:
		if _, err := e.DB.ApplyUpdate(m.ID, candidate.ID, verdict.Confidence); err != nil {
			return nil, err
		}
		return &AppliedRelation{
			Relation:    RelationUpdate,
			CandidateID: candidate.ID,
			Confidence:  verdict.Confidence,
		}, nil

	case RelationExtend:
		if _, err := e.DB.ApplyExtend(m.ID, candidate.ID, verdict.Confidence); err != nil {
			return nil, err
		}
		return &AppliedRelation{
			Relation:    RelationExtend,
			CandidateID: candidate.ID,
			Confidence:  verdict.Confidence,
		}, nil

	case RelationDerive:
		derived := &store.Memory{
			Content:      verdict.DerivedFact,
			MemoryType:   store.TypeDerived,
			ContainerTag: m.ContainerTag,
			Confidence:   verdict.Confidence,
		}
		if err := e.DB.ApplyDerive(derived, []string{m.ID, candidate.ID}, verdict.Confidence); err != nil {
			return nil, err
		}
		return &AppliedRelation{
			Relation:    RelationDerive,
			CandidateID: candidate.ID,
			DerivedID:   derived.ID,
			Confidence:  verdict.Confidence,
		}, nil

	default:
		// parseClassification validates relations, so this is unreachable
		// unless the set grows out of sync.
		return nil, fmt.Errorf("unknown relation %q", verdict.Relation)
	}
}

// parseClassification extracts the JSON verdict from an oracle response,
// tolerating markdown fences and surrounding prose.
func parseClassification(content string) (*classification, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) > 2 {
			content = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", llm.ErrMalformed)
	}

	var verdict classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &verdict); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformed, err)
	}

	verdict.Relation = strings.ToUpper(strings.TrimSpace(verdict.Relation))
	switch verdict.Relation {
	case RelationUpdate, RelationExtend, RelationDerive, RelationNone:
	default:
		return nil, fmt.Errorf("%w: unknown relation %q", llm.ErrMalformed, verdict.Relation)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %f outside [0,1]", llm.ErrMalformed, verdict.Confidence)
	}
	if verdict.Relation == RelationDerive && strings.TrimSpace(verdict.DerivedFact) == "" {
		return nil, fmt.Errorf("%w: DERIVE without derived_fact", llm.ErrMalformed)
	}
	return &verdict, nil
}
