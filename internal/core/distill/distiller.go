// Package distill turns raw content units into compact, scored moments.
// Inference is a last resort: obvious junk and code-like sources resolve
// through heuristics, identical content resolves through the cache, and only
// genuinely new prose reaches the model.
package distill

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core/chunker"
	"github.com/agenthands/loom/internal/core/content"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/llm"
)

type Distiller struct {
	LLM     llm.LLMClient
	Chunker *chunker.Chunker
	Cache   *Cache
	Log     *zap.Logger

	MaxEntities int
	ChunkTokens int
	Backoff     []time.Duration
	Timeout     time.Duration
}

func New(client llm.LLMClient, ck *chunker.Chunker, log *zap.Logger, cfg config.DistillConfig, timeout time.Duration) *Distiller {
	return &Distiller{
		LLM:         client,
		Chunker:     ck,
		Cache:       NewCache(cfg.CacheSize),
		Log:         log,
		MaxEntities: cfg.MaxEntities,
		ChunkTokens: cfg.ChunkTokens,
		Backoff:     cfg.Backoff(),
		Timeout:     timeout,
	}
}

const distillPrompt = `Distill the following content into a structured summary.
Respond with ONLY a JSON object in this exact shape:
{"summary": "...", "entities": [{"text": "...", "type": "...", "description": "..."}], "score": 0.0}

Rules:
- "summary": 2-4 sentences capturing what actually matters.
- "entities": up to %d key entities (people, systems, files, versions, decisions).
- "score": salience from 0.0 (noise) to 1.0 (critical decision or architecture).

Content:
%s`

const mergePrompt = `The following are summaries of consecutive chunks of one document.
Merge them into a single coherent summary.
Respond with ONLY a JSON object in this exact shape:
{"summary": "...", "entities": [{"text": "...", "type": "..."}], "score": 0.0}

Chunk summaries:
%s`

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".java": true, ".go": true,
	".rs": true, ".c": true, ".cpp": true, ".sh": true, ".md": true, ".log": true,
}

// sourceLooksLikeCode reports whether the unit's provenance marks it as raw
// code or log material, which is summarized heuristically rather than fed to
// the model.
func sourceLooksLikeCode(unit model.ContentUnit) bool {
	for _, candidate := range []string{unit.Source, unit.Metadata["path"], unit.Metadata["file"]} {
		if candidate == "" {
			continue
		}
		if codeExtensions[strings.ToLower(filepath.Ext(candidate))] {
			return true
		}
		if strings.Contains(candidate, "/logs/") {
			return true
		}
	}
	if strings.Contains(unit.Text, "Traceback (most recent call last)") {
		return true
	}
	if strings.Contains(unit.Text, "goroutine ") && strings.Contains(unit.Text, "[running]:") {
		return true
	}
	return false
}

// cacheMetadata selects the metadata subset that affects distillation output.
// Volatile fields like request ids must not fragment the cache.
func cacheMetadata(unit model.ContentUnit) map[string]string {
	md := map[string]string{}
	if unit.ContentType != "" {
		md["content_type"] = unit.ContentType
	}
	for _, k := range []string{"path", "file", "language"} {
		if v, ok := unit.Metadata[k]; ok && v != "" {
			md[k] = v
		}
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// Distill produces a moment for one content unit. Token soup and code-like
// sources short-circuit to a heuristic moment with zero inference calls;
// everything else goes through the cache and, on a miss, exactly one
// singleflight-guarded inference pipeline.
func (d *Distiller) Distill(ctx context.Context, unit model.ContentUnit) (*model.DistilledMoment, error) {
	raw := unit.Text
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("content must be non-empty")
	}

	technical := content.HasTechnicalSignal(raw)
	cleaned := content.CleanContent(raw, content.CleanOptions{
		RemoveEmojis:      !technical,
		AnnotateTechnical: technical,
	})
	if strings.TrimSpace(cleaned) == "" {
		cleaned = strings.TrimSpace(raw)
	}

	key := Key(cleaned, cacheMetadata(unit))
	if m, ok := d.Cache.Get(key); ok {
		return m, nil
	}

	if content.IsTokenSoup(cleaned) {
		// Annotating technical noise sometimes rescues enough prose to be
		// worth a real pass; otherwise fall back to the heuristic moment.
		normalized := content.CleanContent(content.NormalizeTechnicalContent(raw), content.CleanOptions{})
		if strings.TrimSpace(normalized) != "" && !content.IsTokenSoup(normalized) {
			cleaned = normalized
		} else {
			sanitized := cleaned
			if !technical {
				sanitized = content.SanitizeTokenSoup(cleaned)
			}
			m := d.heuristicMoment(sanitized, raw, 300)
			d.Cache.Put(key, m)
			d.Log.Debug("token soup short-circuit",
				zap.Int("input_chars", len(raw)),
				zap.Int("entities", len(m.Entities)))
			return m, nil
		}
	}

	if sourceLooksLikeCode(unit) {
		m := d.heuristicMoment(cleaned, raw, 400)
		d.Cache.Put(key, m)
		d.Log.Debug("code-like source short-circuit", zap.String("source", unit.Source))
		return m, nil
	}

	if d.LLM == nil {
		m := d.heuristicMoment(cleaned, raw, 400)
		d.Cache.Put(key, m)
		return m, nil
	}

	text := cleaned
	return d.Cache.Do(key, func() (*model.DistilledMoment, error) {
		t := text
		// Very large inputs get compressed strategy-by-strategy before the
		// first distillation attempt, so most never hit the context window.
		if d.Chunker != nil && len(t) > d.preprocessThreshold() {
			compressed, err := d.Chunker.ProcessLargeInput(ctx, t, "")
			if err != nil {
				d.Log.Warn("large-input preprocessing failed, distilling raw text", zap.Error(err))
			} else if strings.TrimSpace(compressed) != "" {
				t = compressed
			}
		}
		return d.inferMoment(ctx, t)
	})
}

func (d *Distiller) preprocessThreshold() int {
	if d.Chunker != nil && d.Chunker.ChunkSize > 0 {
		return d.Chunker.ChunkSize * 4
	}
	return 16000
}

// heuristicMoment builds a moment without inference: a leading excerpt as
// summary, pattern-extracted entities, and the floor score that marks the
// result as unverified.
func (d *Distiller) heuristicMoment(sanitized, raw string, summaryLen int) *model.DistilledMoment {
	summary := strings.TrimSpace(sanitized)
	if len(summary) > summaryLen {
		summary = summary[:summaryLen] + "..."
	}
	if summary == "" {
		summary = "[unintelligible content]"
	}

	entities := SimpleEntityExtraction(sanitized, d.MaxEntities)
	if len(entities) == 0 {
		// Sanitization may have stripped every proper noun; mine the raw
		// text for code artifacts instead.
		entities = TechnicalArtifacts(raw, d.MaxEntities)
	}

	return &model.DistilledMoment{
		Summary:   summary,
		Entities:  entities,
		Score:     model.HeuristicScore,
		Text:      sanitized,
		CreatedAt: time.Now().UTC(),
	}
}

// inferMoment runs one distillation call, switching to the chunk-and-merge
// path on context overflow.
func (d *Distiller) inferMoment(ctx context.Context, text string) (*model.DistilledMoment, error) {
	resp, err := d.generateWithRetry(ctx, fmt.Sprintf(distillPrompt, d.maxEntities(), text))
	if err != nil {
		if cse, ok := llm.IsContextSizeExceeded(err); ok {
			return d.chunkAndMerge(ctx, text, cse.Limit)
		}
		return nil, fmt.Errorf("distillation failed: %w", err)
	}
	return d.parseResponse(resp, text), nil
}

// generateWithRetry wraps one model call in the transient backoff sequence.
// Context overflow and fatal errors return immediately; transient failures
// wait out the backoff and only fail once it is exhausted. Every inference in
// the pipeline, including per-chunk and merge calls, goes through here.
func (d *Distiller) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= len(d.Backoff); attempt++ {
		if attempt > 0 {
			wait := d.Backoff[attempt-1]
			d.Log.Warn("retrying distillation",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := d.generate(ctx, prompt)
		if err == nil {
			return resp, nil
		}
		if _, ok := llm.IsContextSizeExceeded(err); ok {
			return "", err
		}
		if !llm.IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d attempts: %w", len(d.Backoff)+1, lastErr)
}

// generate issues one model call under the per-call timeout.
func (d *Distiller) generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	return d.LLM.Generate(ctx, prompt, opts...)
}

// parseResponse never fails: structured parse, then best-effort recovery,
// then a low-confidence placeholder built from the source text.
func (d *Distiller) parseResponse(resp, text string) *model.DistilledMoment {
	if m, err := ParseMoment(resp, d.maxEntities()); err == nil && strings.TrimSpace(m.Summary) != "" {
		m.Text = text
		m.CreatedAt = time.Now().UTC()
		return m
	}
	if m, ok := BestEffortParse(resp, d.maxEntities()); ok {
		d.Log.Debug("structured parse failed, recovered best-effort summary")
		m.Text = text
		m.CreatedAt = time.Now().UTC()
		return m
	}
	d.Log.Warn("unusable distillation response, emitting placeholder",
		zap.Int("response_chars", len(resp)))
	return d.heuristicMoment(text, text, 400)
}

// chunkAndMerge recovers from context overflow: split the text into chunks
// sized for the server's window, distill each, then merge the partial
// summaries in one final call. Entities are the union across all parts.
func (d *Distiller) chunkAndMerge(ctx context.Context, text string, limitTokens int) (*model.DistilledMoment, error) {
	chunkChars := d.chunkChars(limitTokens)
	return d.chunkAndMergeSized(ctx, text, chunkChars, 0)
}

const maxChunkDepth = 3

func (d *Distiller) chunkAndMergeSized(ctx context.Context, text string, chunkChars, depth int) (*model.DistilledMoment, error) {
	splitter := &chunker.Chunker{LLM: d.LLM, Log: d.Log, ChunkSize: chunkChars}
	chunks := splitter.SplitSemanticChunks(text)
	if len(chunks) == 0 {
		return nil, errors.New("no chunks produced from oversized input")
	}

	d.Log.Info("context overflow, distilling in chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_chars", chunkChars),
		zap.Int("input_chars", len(text)))

	var moments []*model.DistilledMoment
	var summaries []string
	var entities []model.DistilledEntity
	for i, chunk := range chunks {
		m, err := d.distillChunk(ctx, chunk, chunkChars, depth)
		if err != nil {
			return nil, fmt.Errorf("distilling chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if m == nil {
			continue
		}
		moments = append(moments, m)
		summaries = append(summaries, m.Summary)
		entities = append(entities, m.Entities...)
	}
	if len(moments) == 0 {
		return nil, errors.New("all chunks were skipped during overflow recovery")
	}
	if len(moments) == 1 {
		only := moments[0]
		only.Entities = ConsolidateEntities(only.Entities)
		only.Text = text
		return only, nil
	}

	combined := strings.Join(summaries, "\n\n")
	resp, err := d.generateWithRetry(ctx, fmt.Sprintf(mergePrompt, combined))
	if err != nil {
		// The merge is a refinement; losing it should not lose the run.
		d.Log.Warn("merge call failed, using concatenated chunk summaries", zap.Error(err))
		return &model.DistilledMoment{
			Summary:  truncateSummary(combined),
			Entities: ConsolidateEntities(entities),
			Score:    model.DefaultScore,
			Text:     text,
		}, nil
	}

	merged := d.parseResponse(resp, text)
	merged.Entities = ConsolidateEntities(append(merged.Entities, entities...))
	if d.maxEntities() > 0 && len(merged.Entities) > d.maxEntities() {
		merged.Entities = merged.Entities[:d.maxEntities()]
	}
	if strings.TrimSpace(merged.Summary) == "" {
		merged.Summary = truncateSummary(combined)
	}
	return merged, nil
}

// distillChunk summarizes one chunk, halving the chunk size and recursing if
// even a single chunk overflows the window.
func (d *Distiller) distillChunk(ctx context.Context, chunk string, chunkChars, depth int) (*model.DistilledMoment, error) {
	resp, err := d.generateWithRetry(ctx, fmt.Sprintf(distillPrompt, d.maxEntities(), chunk))
	if err == nil {
		return d.parseResponse(resp, chunk), nil
	}
	if _, ok := llm.IsContextSizeExceeded(err); ok {
		if depth < maxChunkDepth && chunkChars/2 >= 512 {
			return d.chunkAndMergeSized(ctx, chunk, chunkChars/2, depth+1)
		}
		d.Log.Warn("chunk still exceeds context window at minimum size, skipping",
			zap.Int("chunk_chars", len(chunk)))
		return nil, nil
	}
	return nil, err
}

// chunkChars sizes overflow-recovery chunks. The configured token budget is
// the ceiling; a window reported by the server (or carried on the overflow
// error) lowers it, keeping a reply buffer below the window.
func (d *Distiller) chunkChars(limitTokens int) int {
	const charsPerToken = 4
	const replyBuffer = 512

	tokens := d.ChunkTokens
	if tokens <= 0 {
		tokens = 2048
	}

	window := limitTokens
	if reporter, ok := d.LLM.(llm.ContextSizeReporter); ok {
		if detected := reporter.DetectedContextSize(); detected > 0 && (window == 0 || detected < window) {
			window = detected
		}
	}
	if window > 0 {
		usable := window - replyBuffer
		if usable < 256 {
			usable = 256
		}
		if usable < tokens {
			tokens = usable
		}
	}
	return tokens * charsPerToken
}

func (d *Distiller) maxEntities() int {
	if d.MaxEntities <= 0 {
		return 10
	}
	return d.MaxEntities
}

func truncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[:400] + "..."
	}
	return s
}
