// Package chunker splits raw document text into overlapping word-based
// chunks for ingestion. Sizes are measured in approximate tokens, where
// one token is about two words.
package chunker

import "strings"

const (
	// DefaultChunkSize is the approximate token budget per chunk.
	DefaultChunkSize = 100
	// DefaultOverlap is the approximate token overlap between
	// consecutive chunks.
	DefaultOverlap = 0

	wordsPerToken = 2
)

// Split breaks text into chunks of roughly chunkSize tokens with the
// given overlap. Whitespace-only input yields no chunks. Overlap at or
// above the chunk size still advances one word per step so the walk
// always terminates.
func Split(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	wordsPerChunk := chunkSize * wordsPerToken
	overlapWords := overlap * wordsPerToken

	var chunks []string
	start := 0
	for start < len(words) {
		end := start + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}
		step := wordsPerChunk - overlapWords
		if step < 1 {
			step = 1
		}
		start += step
	}
	return chunks
}
