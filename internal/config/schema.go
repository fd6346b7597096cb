// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for studykit.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Chat       ChatConfig       `yaml:"chat"`
	Context    ContextConfig    `yaml:"context"`
	Generation GenerationConfig `yaml:"generation"`
	Janitor    JanitorConfig    `yaml:"janitor"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	// Listen is the address the gateway binds, e.g. ":8080".
	Listen string `yaml:"listen"`
}

// StorageConfig configures the SQLite persistence layer.
type StorageConfig struct {
	// Path is the database file for conversations and documents.
	Path string `yaml:"path"`

	// RetrievalIndexPath is the database backing the retrieval index.
	// ":memory:" keeps it ephemeral.
	RetrievalIndexPath string `yaml:"retrieval_index_path"`
}

// UpstreamConfig configures the external generation service.
type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChatConfig configures the turn-based chat path.
type ChatConfig struct {
	// Model backs upstream chat sessions.
	Model string `yaml:"model"`

	// SystemPrompt is the base instruction for chat sessions.
	SystemPrompt string `yaml:"system_prompt"`
}

// ContextConfig configures context assembly thresholds. Zero values fall
// back to the reference constants.
type ContextConfig struct {
	RAGThresholdTokens int           `yaml:"rag_threshold_tokens"`
	RAGMaxTokens       int           `yaml:"rag_max_tokens"`
	FallbackMaxChars   int           `yaml:"fallback_max_chars"`
	ChunkSize          int           `yaml:"chunk_size"`
	ChunkOverlap       int           `yaml:"chunk_overlap"`
	MinRelevanceScore  float64       `yaml:"min_relevance_score"`
	MaxChunks          int           `yaml:"max_chunks"`
	HybridWeight       float64       `yaml:"hybrid_weight"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
}

// GenerationConfig configures the model fallback chain.
type GenerationConfig struct {
	// Tiers is the fallback chain, most capable first. Empty uses the
	// built-in default chain.
	Tiers []TierConfig `yaml:"tiers"`
}

// TierConfig configures one model tier.
type TierConfig struct {
	Name            string  `yaml:"name"`
	MaxInputTokens  int     `yaml:"max_input_tokens"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TopK            int     `yaml:"top_k"`
	MaxRetries      int     `yaml:"max_retries"`
}

// JanitorConfig configures the background cache sweeper.
type JanitorConfig struct {
	// Schedule is a five-field cron expression. Empty disables the
	// janitor; caches still sweep lazily on write.
	Schedule string `yaml:"schedule"`
}

// WithDefaults fills unset fields with working defaults.
func (c *Config) WithDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "studykit.db"
	}
	if c.Storage.RetrievalIndexPath == "" {
		c.Storage.RetrievalIndexPath = ":memory:"
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gemini-2.5-flash"
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = "You are a study assistant. Answer questions using the provided documents."
	}
}
