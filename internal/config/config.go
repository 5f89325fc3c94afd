// Package config handles coda configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/coda/config.yaml, /config/config.yaml,
// /etc/coda/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "coda", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/coda/config.yaml")
	return paths
}

// searchPathsFunc is indirected so tests can override the search order
// without touching real config files on the developer/deploy machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all coda configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Memory     MemoryConfig     `yaml:"memory"`
	Perf       PerfConfig       `yaml:"perf"`
	STT        STTConfig        `yaml:"stt"`
	TTS        TTSConfig        `yaml:"tts"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// WebSearchConfig selects and configures the web_search tool's backend.
// Leaving both BraveAPIKey and SearXNGURL empty disables the tool.
type WebSearchConfig struct {
	Provider    string `yaml:"provider"` // "brave" or "searxng"
	BraveAPIKey string `yaml:"brave_api_key"`
	SearXNGURL  string `yaml:"searxng_url"`
}

// Enabled reports whether enough configuration is present to construct
// a search provider.
func (c WebSearchConfig) Enabled() bool {
	return c.BraveAPIKey != "" || c.SearXNGURL != ""
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// ListenConfig defines the event bus WebSocket server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MemoryConfig defines short-term and long-term memory settings.
type MemoryConfig struct {
	// ShortTermCapacity bounds the in-process turn log (C3).
	ShortTermCapacity int `yaml:"short_term_capacity"`
	// LongTermPath is the SQLite database path for the long-term
	// archive (C4). Relative to DataDir if not absolute.
	LongTermPath string `yaml:"long_term_path"`
	// VectorBackend selects the Archive's similarity search backend:
	// "cosine" (in-process, default) or "qdrant" (external ANN service).
	VectorBackend    string `yaml:"vector_backend"`
	QdrantDSN        string `yaml:"qdrant_dsn"`
	QdrantCollection string `yaml:"qdrant_collection"`
	// MaxMemories is the forgetting policy's capacity target.
	MaxMemories int `yaml:"max_memories"`
	// SimilarityThreshold drives topic-cluster merging.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// PerfConfig defines performance tracker sampling settings (C2).
type PerfConfig struct {
	// SamplingIntervalSec is how often the background resource
	// sampler snapshots CPU/RSS/thread counts. 0 selects the default of
	// 5 seconds.
	SamplingIntervalSec int `yaml:"sampling_interval_sec"`
}

// STTConfig selects the speech-to-text adapter. The adapter shape
// itself is not mandated here; only the name used to select it.
type STTConfig struct {
	Adapter string `yaml:"adapter"` // e.g. "mock", "whisper"
}

// TTSConfig selects the text-to-speech adapter.
type TTSConfig struct {
	Adapter string `yaml:"adapter"` // e.g. "mock", "piper"
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default    string        `yaml:"default"`
	OllamaURL  string        `yaml:"ollama_url"`
	LocalFirst bool          `yaml:"local_first"`
	Available  []ModelConfig `yaml:"available"`
}

// ModelConfig defines a single model's capabilities.
type ModelConfig struct {
	Name          string `yaml:"name"`
	Provider      string `yaml:"provider"` // ollama, anthropic, openai
	SupportsTools bool   `yaml:"supports_tools"`
	ContextWindow int    `yaml:"context_window"`
	Speed         int    `yaml:"speed"`          // 1-10
	Quality       int    `yaml:"quality"`        // 1-10
	CostTier      int    `yaml:"cost_tier"`      // 0=local, 1=cheap, 2=moderate, 3=expensive
	MinComplexity string `yaml:"min_complexity"` // simple, moderate, complex
	// PricePerMillionInput/Output let a model entry double as a pricing
	// table row for usage.ComputeCost; zero for local/Ollama models.
	PricePerMillionInput  float64 `yaml:"price_per_million_input"`
	PricePerMillionOutput float64 `yaml:"price_per_million_output"`
}

// PricingEntry is one model's per-token cost, used by
// [github.com/codalite/coda/internal/usage.ComputeCost].
type PricingEntry struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Pricing builds a model-name-keyed pricing table from the configured
// model list. Models with zero pricing (the common case for local
// Ollama models) are included with a zero-cost entry, which
// ComputeCost treats the same as an absent entry.
func (c *Config) Pricing() map[string]PricingEntry {
	out := make(map[string]PricingEntry, len(c.Models.Available))
	for _, m := range c.Models.Available {
		out[m.Name] = PricingEntry{
			InputPerMillion:  m.PricePerMillionInput,
			OutputPerMillion: m.PricePerMillionOutput,
		}
	}
	return out
}

// Configured reports whether an Anthropic API key is present.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${ANTHROPIC_API_KEY}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8765
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Memory.ShortTermCapacity == 0 {
		c.Memory.ShortTermCapacity = 50
	}
	if c.Memory.LongTermPath == "" {
		c.Memory.LongTermPath = filepath.Join(c.DataDir, "longterm.db")
	}
	if c.Memory.VectorBackend == "" {
		c.Memory.VectorBackend = "cosine"
	}
	if c.Memory.MaxMemories == 0 {
		c.Memory.MaxMemories = 1000
	}
	if c.Memory.SimilarityThreshold == 0 {
		c.Memory.SimilarityThreshold = 0.7
	}
	if c.Perf.SamplingIntervalSec == 0 {
		c.Perf.SamplingIntervalSec = 5
	}
	if c.STT.Adapter == "" {
		c.STT.Adapter = "mock"
	}
	if c.TTS.Adapter == "" {
		c.TTS.Adapter = "mock"
	}

	// Ensure each model has a provider (default: ollama)
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Memory.VectorBackend != "cosine" && c.Memory.VectorBackend != "qdrant" {
		return fmt.Errorf("memory.vector_backend %q must be %q or %q", c.Memory.VectorBackend, "cosine", "qdrant")
	}
	if c.Memory.VectorBackend == "qdrant" && c.Memory.QdrantDSN == "" {
		return fmt.Errorf("memory.qdrant_dsn is required when vector_backend is %q", "qdrant")
	}
	if c.Memory.ShortTermCapacity < 1 {
		return fmt.Errorf("memory.short_term_capacity %d must be at least 1", c.Memory.ShortTermCapacity)
	}
	if c.Perf.SamplingIntervalSec < 0 {
		return fmt.Errorf("perf.sampling_interval_sec %d must not be negative", c.Perf.SamplingIntervalSec)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// ContextWindowForModel returns the context window size for the named
// model, or defaultSize if the model is not found in the configuration.
func (c *Config) ContextWindowForModel(name string, defaultSize int) int {
	for _, m := range c.Models.Available {
		if m.Name == name {
			return m.ContextWindow
		}
	}
	return defaultSize
}

// Default returns a default configuration suitable for local development
// with Ollama. All defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default:    "qwen3:4b",
			LocalFirst: true,
			Available: []ModelConfig{
				{
					Name:          "qwen3:4b",
					Provider:      "ollama",
					SupportsTools: true,
					ContextWindow: 4096,
					Speed:         9,
					Quality:       5,
					CostTier:      0,
					MinComplexity: "simple",
				},
				{
					Name:          "qwen2.5:72b",
					Provider:      "ollama",
					SupportsTools: true,
					ContextWindow: 32768,
					Speed:         4,
					Quality:       8,
					CostTier:      0,
					MinComplexity: "moderate",
				},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
