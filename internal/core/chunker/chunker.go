// Package chunker makes long inputs processable under an inference
// endpoint's token budget. It splits text at semantic boundaries, decides a
// processing strategy per chunk, and recombines the processed parts in
// order.
package chunker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/llm"
)

// Strategy is the per-chunk processing decision.
type Strategy string

const (
	// AnnotationOnly compresses the chunk to a short tag; used for
	// acknowledgements and repetitive context.
	AnnotationOnly Strategy = "annotation_only"
	// Distilled compresses while keeping critical facts; used for logs and
	// verbose explanations.
	Distilled Strategy = "distilled"
	// FullDetail passes the chunk through near-verbatim; used for code and
	// structured technical payloads.
	FullDetail Strategy = "full_detail"
)

// ProcessedChunk pairs a chunk's output with the strategy that produced it.
type ProcessedChunk struct {
	Strategy       Strategy
	Content        string
	Annotation     string
	OriginalLength int
}

type Chunker struct {
	LLM       llm.LLMClient
	Log       *zap.Logger
	ChunkSize int // characters per chunk
}

const defaultChunkSize = 4000

func New(client llm.LLMClient, log *zap.Logger) *Chunker {
	return &Chunker{
		LLM:       client,
		Log:       log,
		ChunkSize: defaultChunkSize,
	}
}

var (
	sentenceEndRe = regexp.MustCompile(`(?m)[.!?]\s+`)
	codeFenceRe   = regexp.MustCompile("```")
	pyCodePathRe  = regexp.MustCompile(`\b[A-Za-z]:[\\/][\w\-./\\]+\.py\b`)
	ackWords      = []string{"yes", "ok", "agree", "sure", "understood"}
	logMarkers    = []string{"INFO:", "WARNING:", "slot ", "srv "}
)

// SplitSemanticChunks splits text on paragraph boundaries, packing
// paragraphs into chunks of at most ChunkSize characters. A single
// paragraph longer than ChunkSize is split further on sentence boundaries,
// then on whitespace, so no returned chunk exceeds the threshold by more
// than one sentence unit.
func (c *Chunker) SplitSemanticChunks(text string) []string {
	size := c.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}

	var chunks []string
	current := ""
	for _, para := range strings.Split(text, "\n\n") {
		if len(para) > size {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
				current = ""
			}
			chunks = append(chunks, splitOversized(para, size)...)
			continue
		}
		if len(current)+len(para) > size && current != "" {
			chunks = append(chunks, strings.TrimSpace(current))
			current = para
		} else if current != "" {
			current += "\n\n" + para
		} else {
			current = para
		}
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// splitOversized breaks one oversized paragraph at sentence boundaries,
// falling back to whitespace and finally hard cuts for unbroken runs.
func splitOversized(para string, size int) []string {
	var out []string
	var units []string

	locs := sentenceEndRe.FindAllStringIndex(para, -1)
	prev := 0
	for _, loc := range locs {
		units = append(units, para[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(para) {
		units = append(units, para[prev:])
	}

	current := ""
	for _, u := range units {
		if len(u) > size {
			if current != "" {
				out = append(out, strings.TrimSpace(current))
				current = ""
			}
			out = append(out, splitByWhitespace(u, size)...)
			continue
		}
		if len(current)+len(u) > size && current != "" {
			out = append(out, strings.TrimSpace(current))
			current = u
		} else {
			current += u
		}
	}
	if strings.TrimSpace(current) != "" {
		out = append(out, strings.TrimSpace(current))
	}
	return out
}

func splitByWhitespace(s string, size int) []string {
	var out []string
	current := ""
	for _, w := range strings.Fields(s) {
		if len(current)+len(w)+1 > size && current != "" {
			out = append(out, current)
			current = w
			continue
		}
		if current == "" {
			current = w
		} else {
			current += " " + w
		}
	}
	if current != "" {
		out = append(out, current)
	}
	// A single token longer than size gets hard-cut.
	var final []string
	for _, chunk := range out {
		for len(chunk) > size {
			final = append(final, chunk[:size])
			chunk = chunk[size:]
		}
		if chunk != "" {
			final = append(final, chunk)
		}
	}
	return final
}

// DetermineStrategy routes a chunk to a processing strategy. Cheap
// heuristics decide the obvious cases; ambiguous chunks fall back to one
// very small LLM call.
func (c *Chunker) DetermineStrategy(ctx context.Context, chunk, queryContext string) Strategy {
	if codeFenceRe.MatchString(chunk) || strings.Contains(chunk, "def ") || strings.Contains(chunk, "class ") {
		return FullDetail
	}
	if pyCodePathRe.MatchString(chunk) {
		return FullDetail
	}
	if strings.Contains(chunk, "ERROR:") || strings.Contains(chunk, "Traceback") || strings.Contains(chunk, "Exception") {
		return Distilled
	}
	if len(chunk) < 200 {
		lower := strings.ToLower(chunk)
		for _, w := range ackWords {
			if strings.Contains(lower, w) {
				return AnnotationOnly
			}
		}
	}
	for _, m := range logMarkers {
		if strings.Contains(chunk, m) {
			return Distilled
		}
	}

	if c.LLM == nil {
		return FullDetail
	}
	preview := chunk
	if len(preview) > 500 {
		preview = preview[:500]
	}
	qc := queryContext
	if len(qc) > 200 {
		qc = qc[:200]
	}
	prompt := fmt.Sprintf(`Analyze this chunk and determine if it needs:
A) annotation_only - Simple, repetitive, or already-known context
B) distilled - Long but compressible (logs, verbose explanations)
C) full_detail - Code, specs, novel information requiring full context

Query context: %s

Chunk preview:
%s

Answer with just the letter (A, B, or C):`, qc, preview)

	resp, err := c.LLM.Generate(ctx, prompt, llm.WithTemperature(0.1), llm.WithMaxTokens(5))
	if err != nil {
		c.Log.Debug("strategy probe failed, defaulting to full detail", zap.Error(err))
		return FullDetail
	}
	switch {
	case strings.Contains(strings.ToUpper(resp), "A"):
		return AnnotationOnly
	case strings.Contains(strings.ToUpper(resp), "B"):
		return Distilled
	default:
		return FullDetail
	}
}

// ProcessChunk applies the strategy to one chunk.
func (c *Chunker) ProcessChunk(ctx context.Context, chunk string, index, total int, strategy Strategy) (ProcessedChunk, error) {
	switch strategy {
	case AnnotationOnly:
		annotation, err := c.annotateChunk(ctx, chunk, index, total)
		if err != nil {
			return ProcessedChunk{}, err
		}
		return ProcessedChunk{Strategy: AnnotationOnly, Content: annotation, OriginalLength: len(chunk)}, nil

	case Distilled:
		summary, err := c.distillChunk(ctx, chunk, index, total)
		if err != nil {
			return ProcessedChunk{}, err
		}
		return ProcessedChunk{Strategy: Distilled, Content: summary, OriginalLength: len(chunk)}, nil

	default:
		annotation, err := c.annotateChunk(ctx, chunk, index, total)
		if err != nil {
			// Full detail keeps the content even when annotation fails.
			annotation = ""
		}
		return ProcessedChunk{Strategy: FullDetail, Content: chunk, Annotation: annotation, OriginalLength: len(chunk)}, nil
	}
}

func (c *Chunker) annotateChunk(ctx context.Context, chunk string, index, total int) (string, error) {
	body := chunk
	if len(body) > 3000 {
		body = body[:3000]
	}
	prompt := fmt.Sprintf(`Chunk %d/%d - Extract key meaning:

%s

In 2-3 sentences, state:
1. Main theme/topic
2. Key entities mentioned
3. Any decisions/insights

Be concise:`, index, total, body)

	resp, err := c.LLM.Generate(ctx, prompt, llm.WithTemperature(0.2), llm.WithMaxTokens(150))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (c *Chunker) distillChunk(ctx context.Context, chunk string, index, total int) (string, error) {
	body := chunk
	if len(body) > 3000 {
		body = body[:3000]
	}
	prompt := fmt.Sprintf(`Chunk %d/%d - Distill this down:

%s

Provide a compressed version that:
- Keeps critical facts, errors, decisions
- Removes verbose/repetitive content
- Stays under 300 words

Distilled version:`, index, total, body)

	resp, err := c.LLM.Generate(ctx, prompt, llm.WithTemperature(0.2), llm.WithMaxTokens(400))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// ProcessLargeInput is the top-level entry: chunk, strategize, process,
// recombine preserving original order. Inputs under ChunkSize pass through.
func (c *Chunker) ProcessLargeInput(ctx context.Context, input, queryContext string) (string, error) {
	size := c.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	if len(input) < size {
		return input, nil
	}

	chunks := c.SplitSemanticChunks(input)
	processed := make([]ProcessedChunk, 0, len(chunks))
	for i, chunk := range chunks {
		strategy := c.DetermineStrategy(ctx, chunk, queryContext)
		p, err := c.ProcessChunk(ctx, chunk, i+1, len(chunks), strategy)
		if err != nil {
			return "", fmt.Errorf("processing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		processed = append(processed, p)
	}
	c.Log.Info("processed large input",
		zap.Int("chunks", len(chunks)),
		zap.Int("input_chars", len(input)))
	return combine(processed), nil
}

func combine(processed []ProcessedChunk) string {
	parts := make([]string, 0, len(processed))
	for i, p := range processed {
		switch p.Strategy {
		case AnnotationOnly:
			parts = append(parts, fmt.Sprintf("[Chunk %d summary] %s", i+1, p.Content))
		case Distilled:
			parts = append(parts, fmt.Sprintf("[Chunk %d distilled]\n%s", i+1, p.Content))
		default:
			if p.Annotation != "" {
				parts = append(parts, fmt.Sprintf("[Chunk %d - FULL DETAIL]\nNote: %s\nContent:\n%s", i+1, p.Annotation, p.Content))
			} else {
				parts = append(parts, fmt.Sprintf("[Chunk %d - FULL DETAIL]\n%s", i+1, p.Content))
			}
		}
	}
	return strings.Join(parts, "\n\n")
}
