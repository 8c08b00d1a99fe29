package llm

import (
	"fmt"
	"strings"
)

// ClassifyPrompt generates the prompt for classifying how a new memory
// relates to an existing one. The oracle must return strict JSON.
func ClassifyPrompt(newFact, existingFact string) string {
	return fmt.Sprintf(`You are a knowledge-base maintenance system. Decide how a NEW fact relates to an EXISTING fact.

NEW FACT:
%s

EXISTING FACT:
%s

Relations:
- UPDATE: the new fact supersedes the existing one (same subject, newer/contradicting value)
- EXTEND: the new fact adds detail to the existing one without replacing it
- DERIVE: combining both facts implies a third fact worth storing
- NONE: unrelated, or a duplicate adding nothing

Rules:
- Be conservative: prefer NONE over a weak UPDATE
- confidence is your certainty in the chosen relation, 0.0 to 1.0
- derived_fact is required for DERIVE and must be a single self-contained sentence; omit it otherwise
- Return ONLY a JSON object, no other text

Return JSON:
{"relation": "UPDATE|EXTEND|DERIVE|NONE", "confidence": 0.0, "derived_fact": ""}`, newFact, existingFact)
}

// ExpandPrompt generates the HyDE prompt: write a hypothetical document
// that would answer the query. Its embedding replaces the raw query's for
// the vector leg, which helps recall on short or sparse queries.
func ExpandPrompt(query string) string {
	return fmt.Sprintf(`Write a short hypothetical passage (3-5 sentences) that would be the ideal answer to this query. State it as fact, even if you must invent plausible specifics. Return ONLY the passage.

QUERY: %s`, query)
}

// RerankPrompt generates the prompt for reordering retrieval candidates by
// relevance to the query. The oracle returns the ranked candidate indexes.
func RerankPrompt(query string, candidates []string) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, c)
	}

	return fmt.Sprintf(`You are a relevance ranker. Reorder the candidates below from most to least relevant to the query.

QUERY: %s

CANDIDATES:
%s
Rules:
- Include every index exactly once
- Return ONLY a JSON array of integers, no other text

Return JSON: [0, 1, 2]`, query, b.String())
}
