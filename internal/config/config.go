package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type GraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// DistillConfig tunes the distiller and chunk planner. BackoffMillis is the
// wait sequence between retried inference attempts; its length bounds the
// attempt count.
type DistillConfig struct {
	MaxEntities   int   `toml:"max_entities"`
	ChunkTokens   int   `toml:"chunk_tokens"`
	ChunkChars    int   `toml:"chunk_chars"`
	CacheSize     int   `toml:"cache_size"`
	BackoffMillis []int `toml:"backoff_ms"`
}

// WeaverConfig tunes repair runs.
type WeaverConfig struct {
	Threshold       float64  `toml:"threshold"`
	Delta           float64  `toml:"delta"`
	SummaryLimit    int      `toml:"summary_limit"`
	CandidateLimit  int      `toml:"candidate_limit"`
	Concurrency     int      `toml:"concurrency"`
	MaxCommit       int      `toml:"max_commit"`
	TimeWindowHours int      `toml:"time_window_hours"`
	RequireSameApp  bool     `toml:"require_same_app"`
	MinOriginLength int      `toml:"min_origin_length"`
	SkipJSON        bool     `toml:"skip_json"`
	SkipHTML        bool     `toml:"skip_html"`
	ExcludePhrases  []string `toml:"exclude_phrases"`
	RerankAmbiguous bool     `toml:"rerank_ambiguous"`
}

type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	Graph   GraphConfig   `toml:"graph"`
	Distill DistillConfig `toml:"distill"`
	Weaver  WeaverConfig  `toml:"weaver"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// Default returns the engine defaults; Load overlays the TOML file on top.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			TimeoutSeconds: 120,
		},
		Graph: GraphConfig{
			URI: "bolt://localhost:7687",
		},
		Distill: DistillConfig{
			MaxEntities:   10,
			ChunkTokens:   2048,
			ChunkChars:    4000,
			CacheSize:     4096,
			BackoffMillis: []int{500, 1000, 2000, 4000},
		},
		Weaver: WeaverConfig{
			Threshold:       0.75,
			Delta:           0.05,
			SummaryLimit:    100,
			CandidateLimit:  200,
			Concurrency:     4,
			MinOriginLength: 100,
			SkipJSON:        true,
			SkipHTML:        true,
		},
	}
}

// LLMTimeout converts the configured per-call timeout.
func (c *Config) LLMTimeout() time.Duration {
	if c.LLM.TimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// Backoff converts the configured retry wait sequence.
func (c *DistillConfig) Backoff() []time.Duration {
	if len(c.BackoffMillis) == 0 {
		return []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}
	}
	out := make([]time.Duration, len(c.BackoffMillis))
	for i, ms := range c.BackoffMillis {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
