package llm

import (
	"context"
)

// GenerateOptions carries the per-call knobs a caller may set. The zero
// value means "provider defaults".
type GenerateOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
	HasTemp      bool
}

// GenerateOption mutates GenerateOptions.
type GenerateOption func(*GenerateOptions)

func WithSystemPrompt(s string) GenerateOption {
	return func(o *GenerateOptions) { o.SystemPrompt = s }
}

func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxTokens = n }
}

func WithTemperature(t float32) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = t
		o.HasTemp = true
	}
}

func applyOptions(opts []GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type RerankerClient interface {
	Rank(ctx context.Context, query string, documents []string) ([]int, error)
}

// ModelDetector is implemented by clients that can ask the serving endpoint
// which model is loaded. Best effort; callers fall back to configuration.
type ModelDetector interface {
	DetectModel(ctx context.Context) (string, error)
}

// ContextSizeReporter is implemented by clients that learn the server's
// context window (from model metadata or overflow errors). Zero means
// unknown.
type ContextSizeReporter interface {
	DetectedContextSize() int
}
