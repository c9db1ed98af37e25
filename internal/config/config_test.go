package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[llm]
provider = "openai"
model = "gpt-4o-mini"

[weaver]
threshold = 0.8
rerank_ambiguous = true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.InDelta(t, 0.8, cfg.Weaver.Threshold, 1e-9)
	assert.True(t, cfg.Weaver.RerankAmbiguous)
	// Untouched sections keep their defaults.
	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, 4096, cfg.Distill.CacheSize)
	assert.InDelta(t, 0.05, cfg.Weaver.Delta, 1e-9)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestBackoffConversion(t *testing.T) {
	d := DistillConfig{BackoffMillis: []int{100, 250}}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 250 * time.Millisecond}, d.Backoff())

	var empty DistillConfig
	assert.Len(t, empty.Backoff(), 4)
}

func TestLLMTimeoutDefault(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 2*time.Minute, cfg.LLMTimeout())
	cfg.LLM.TimeoutSeconds = 30
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
}
