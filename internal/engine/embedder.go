package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// maxEmbedBatch is the largest batch a single provider call may carry.
const maxEmbedBatch = 100

// Embedder generates vector embeddings for text. Embed is batched: one
// vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
	Dimensions() int
}

// EmbedOne is a convenience wrapper for single-text embedding.
func EmbedOne(ctx context.Context, emb Embedder, text string) ([]float64, error) {
	vecs, err := emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	return vecs[0], nil
}

// embedBatched splits texts into provider-sized batches and retries each
// batch with exponential backoff on transient failure. A batch that fails
// permanently yields nil vectors for its items rather than failing the
// whole call, so one bad item cannot poison the others.
func embedBatched(ctx context.Context, texts []string, call func(ctx context.Context, batch []string) ([][]float64, error)) ([][]float64, error) {
	const (
		attempts  = 3
		baseDelay = 500 * time.Millisecond
	)

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var vecs [][]float64
		var err error
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				delay := baseDelay << (attempt - 1)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			vecs, err = call(ctx, batch)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		if err != nil {
			log.Printf("embed: batch of %d failed permanently: %v", len(batch), err)
			for range batch {
				out = append(out, nil)
			}
			continue
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// OpenAIEmbedder uses the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(apiKey, model string, dims int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
		dims:   dims,
	}
}

func (o *OpenAIEmbedder) Model() string   { return "openai:" + o.model }
func (o *OpenAIEmbedder) Dimensions() int { return o.dims }

// Embed sends texts to the OpenAI embeddings endpoint in batches of up to 100.
func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return embedBatched(ctx, texts, func(ctx context.Context, batch []string) ([][]float64, error) {
		resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(o.model),
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings api: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(batch))
		}

		vecs := make([][]float64, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float64, len(d.Embedding))
			for j, f := range d.Embedding {
				vec[j] = float64(f)
			}
			vecs[i] = vec
		}
		return vecs, nil
	})
}

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    url,
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends texts to Ollama's embed endpoint.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	return embedBatched(ctx, texts, func(ctx context.Context, batch []string) ([][]float64, error) {
		reqBody := map[string]any{
			"model": o.model,
			"input": batch,
		}
		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal embed request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/embed", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("ollama embed api: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read embed response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, respBody)
		}

		var result struct {
			Embeddings [][]float64 `json:"embeddings"`
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decode embed response: %w", err)
		}
		if len(result.Embeddings) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(result.Embeddings), len(batch))
		}
		if len(result.Embeddings) > 0 {
			o.dims = len(result.Embeddings[0])
		}
		return result.Embeddings, nil
	})
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	reqBody, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	resp, err := client.Post(url+"/api/embed", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
