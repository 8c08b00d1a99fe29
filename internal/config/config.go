package config

import "fmt"

// Config holds all mnemo configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LLMConfig struct {
	Provider     string `toml:"provider"` // "openai", "anthropic", "ollama"
	Model        string `toml:"model"`
	OpenAIKey    string `toml:"openai_key"`
	AnthropicKey string `toml:"anthropic_key"`
	OllamaURL    string `toml:"ollama_url"`
	OllamaModel  string `toml:"ollama_model"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"` // "openai", "ollama"
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type SchedulerConfig struct {
	ClassifyWorkers       int `toml:"classify_workers"`
	ClassifyQueueSize     int `toml:"classify_queue_size"`
	ClassifyIntervalHours int `toml:"classify_interval_hours"` // rescan of memories with no relations
	DecayIntervalHours    int `toml:"decay_interval_hours"`
	SweepIntervalHours    int `toml:"sweep_interval_hours"` // hard-delete pass
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 38380,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Scheduler: SchedulerConfig{
			ClassifyWorkers:       2,
			ClassifyQueueSize:     128,
			ClassifyIntervalHours: 6,
			DecayIntervalHours:    24,
			SweepIntervalHours:    24,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
