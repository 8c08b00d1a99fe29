package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/fathomlabs/mnemo/internal/config"
	"github.com/fathomlabs/mnemo/internal/engine"
	"github.com/fathomlabs/mnemo/internal/llm"
	"github.com/fathomlabs/mnemo/internal/store"
)

// loadConfig builds the effective config: defaults, then .env, then
// process environment.
func loadConfig() config.Config {
	godotenv.Load()

	cfg := config.Default()
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.Provider = "openai"
		cfg.LLM.OpenAIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}
	if model := os.Getenv("MNEMO_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if path := os.Getenv("MNEMO_DB"); path != "" {
		cfg.Database.Path = path
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		cfg.LLM.OllamaURL = url
	}
	return cfg
}

func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// buildEngine wires an engine with whatever oracle and embedder the
// environment provides. A missing oracle disables classification and
// expansion; a missing embedder degrades retrieval to the keyword leg.
func buildEngine(cfg config.Config, db *store.DB) *engine.Engine {
	var client llm.Client
	c, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: oracle not configured (%v), classification disabled\n", err)
	} else {
		client = c
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	eng := engine.New(db, client)
	if client != nil {
		eng.SetReranker(&engine.LLMReranker{Client: client})
	}

	switch {
	case cfg.LLM.OpenAIKey != "" && cfg.Embedding.Provider == "openai":
		eng.SetEmbedder(engine.NewOpenAIEmbedder(cfg.LLM.OpenAIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions))
		fmt.Fprintf(os.Stderr, "  embedder: openai (%s)\n", cfg.Embedding.Model)
	default:
		ollamaURL := cfg.LLM.OllamaURL
		if ollamaURL == "" {
			ollamaURL = "http://localhost:11434"
		}
		model := "nomic-embed-text"
		if engine.ProbeOllama(ollamaURL, model) {
			eng.SetEmbedder(engine.NewOllamaEmbedder(ollamaURL, model, 768))
			fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", model)
		} else {
			fmt.Fprintln(os.Stderr, "warning: no embedder available, keyword search only")
		}
	}
	return eng
}
