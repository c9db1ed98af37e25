package chunker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/llm"
)

// scriptedLLM returns queued responses in order, then the default.
type scriptedLLM struct {
	mu        sync.Mutex
	calls     int
	responses []string
	err       error
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) > 0 {
		r := s.responses[0]
		s.responses = s.responses[1:]
		return r, nil
	}
	return "ok", nil
}

func newTestChunker(client llm.LLMClient) *Chunker {
	return New(client, zap.NewNop())
}

func TestSplitSemanticChunksRespectsSize(t *testing.T) {
	c := newTestChunker(nil)
	c.ChunkSize = 300

	var paras []string
	for i := 0; i < 20; i++ {
		paras = append(paras, fmt.Sprintf("paragraph %02d with a reasonable amount of text to pack.", i))
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.SplitSemanticChunks(text)
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.LessOrEqualf(t, len(chunk), c.ChunkSize, "chunk %d over size", i)
	}
	// Every paragraph survives, in order.
	joined := strings.Join(chunks, "\n\n")
	last := -1
	for i := 0; i < 20; i++ {
		idx := strings.Index(joined, fmt.Sprintf("paragraph %02d", i))
		require.NotEqual(t, -1, idx)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestSplitSemanticChunksOversizedParagraph(t *testing.T) {
	c := newTestChunker(nil)
	c.ChunkSize = 200

	para := strings.TrimSpace(strings.Repeat("This sentence is part of one very long paragraph. ", 30))
	chunks := c.SplitSemanticChunks(para)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), c.ChunkSize)
	}
}

func TestSplitSemanticChunksUnbrokenToken(t *testing.T) {
	c := newTestChunker(nil)
	c.ChunkSize = 100

	token := strings.Repeat("x", 950)
	chunks := c.SplitSemanticChunks(token)

	total := 0
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		total += len(chunk)
	}
	assert.Equal(t, 950, total)
}

func TestDetermineStrategyHeuristics(t *testing.T) {
	c := newTestChunker(nil)
	ctx := context.Background()

	assert.Equal(t, FullDetail, c.DetermineStrategy(ctx, "```go\nfunc main() {}\n```", ""))
	assert.Equal(t, FullDetail, c.DetermineStrategy(ctx, "class Parser handles the grammar", ""))
	assert.Equal(t, Distilled, c.DetermineStrategy(ctx, "ERROR: connection refused while dialing", ""))
	assert.Equal(t, Distilled, c.DetermineStrategy(ctx, "Traceback (most recent call last)", ""))
	assert.Equal(t, AnnotationOnly, c.DetermineStrategy(ctx, "ok sounds fine, proceed", ""))
	assert.Equal(t, Distilled, c.DetermineStrategy(ctx, strings.Repeat("INFO: worker heartbeat received on schedule ", 6), ""))
}

func TestDetermineStrategyProbesLLMWhenAmbiguous(t *testing.T) {
	ambiguous := strings.Repeat("the meeting covered quarterly planning and headcount details at length ", 4)
	require.GreaterOrEqual(t, len(ambiguous), 200)

	mock := &scriptedLLM{responses: []string{"B"}}
	c := newTestChunker(mock)

	assert.Equal(t, Distilled, c.DetermineStrategy(context.Background(), ambiguous, "planning"))
	assert.Equal(t, 1, mock.calls)
}

func TestDetermineStrategyProbeFailureDefaultsToFullDetail(t *testing.T) {
	ambiguous := strings.Repeat("the meeting covered quarterly planning and headcount details at length ", 4)

	mock := &scriptedLLM{err: fmt.Errorf("probe unavailable")}
	c := newTestChunker(mock)

	assert.Equal(t, FullDetail, c.DetermineStrategy(context.Background(), ambiguous, ""))
}

func TestProcessLargeInputPassthroughUnderSize(t *testing.T) {
	mock := &scriptedLLM{}
	c := newTestChunker(mock)

	out, err := c.ProcessLargeInput(context.Background(), "short input", "")
	require.NoError(t, err)
	assert.Equal(t, "short input", out)
	assert.Equal(t, 0, mock.calls)
}

func TestProcessLargeInputCombinesInOrder(t *testing.T) {
	mock := &scriptedLLM{responses: []string{"summary one", "summary two", "summary three"}}
	c := newTestChunker(mock)
	c.ChunkSize = 120

	input := strings.Join([]string{
		"ok agreed, that first plan works for everyone here",
		"ERROR: the second stage kept failing with a refused connection on every retry attempt made",
		"ok agreed, closing this thread now as discussed",
	}, "\n\n")
	require.Greater(t, len(input), c.ChunkSize)

	out, err := c.ProcessLargeInput(context.Background(), input, "")
	require.NoError(t, err)

	assert.Contains(t, out, "[Chunk 1 summary]")
	assert.Contains(t, out, "[Chunk 2 distilled]")
	assert.True(t, strings.Index(out, "Chunk 1") < strings.Index(out, "Chunk 2"))
}
