// Package core wires the distiller, the graph store, and the weaver into one
// engine the server and CLI entrypoints talk to.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core/chunker"
	"github.com/agenthands/loom/internal/core/content"
	"github.com/agenthands/loom/internal/core/distill"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/core/weave"
	"github.com/agenthands/loom/internal/driver"
	"github.com/agenthands/loom/internal/llm"
)

const summaryImportance = 5

type Engine struct {
	Driver    driver.GraphDriver
	Distiller *distill.Distiller
	Weaver    *weave.Weaver
	Log       *zap.Logger

	Clock func() time.Time
	NewID func() string
}

// NewEngine assembles the full pipeline. Embedder and reranker may be nil;
// repair runs then fail with a clear error instead of at construction time.
func NewEngine(d driver.GraphDriver, client llm.LLMClient, embedder llm.EmbedderClient, reranker llm.RerankerClient, log *zap.Logger, cfg *config.Config, auditDir string) *Engine {
	ck := chunker.New(client, log)
	if cfg.Distill.ChunkChars > 0 {
		ck.ChunkSize = cfg.Distill.ChunkChars
	}
	matcher := &weave.Matcher{
		Driver:   d,
		Embedder: embedder,
		Reranker: reranker,
		Log:      log,
		Cfg:      cfg.Weaver,
	}
	return &Engine{
		Driver:    d,
		Distiller: distill.New(client, ck, log, cfg.Distill, cfg.LLMTimeout()),
		Weaver:    weave.NewWeaver(d, matcher, log, cfg.Weaver, auditDir),
		Log:       log,
		Clock:     time.Now,
		NewID:     uuid.NewString,
	}
}

// Distill runs the distillation pipeline without touching the store.
func (e *Engine) Distill(ctx context.Context, unit model.ContentUnit) (*model.DistilledMoment, error) {
	return e.Distiller.Distill(ctx, unit)
}

// DistillAndStore distills one content unit and persists the result as a
// summary node. When the unit names its origin (metadata key
// "origin_app_id"), the provenance link is written immediately; otherwise
// the node starts orphaned and a later repair run can recover the link.
// Returns the moment and the stored node's element id.
func (e *Engine) DistillAndStore(ctx context.Context, unit model.ContentUnit) (*model.DistilledMoment, string, error) {
	moment, err := e.Distiller.Distill(ctx, unit)
	if err != nil {
		return nil, "", err
	}

	appID := unit.Metadata["app_id"]
	if appID == "" {
		appID = e.NewID()
	}
	now := e.Clock().UTC().Format(time.RFC3339)

	metadata := map[string]string{"distilled_from": unit.Source}
	for k, v := range unit.Metadata {
		metadata[k] = v
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", fmt.Errorf("encoding summary metadata: %w", err)
	}

	res, err := e.Driver.ExecuteQuery(ctx, driver.SaveSummaryNodeQuery, map[string]interface{}{
		"app_id":          appID,
		"content":         moment.Summary,
		"content_cleaned": content.CleanContent(moment.Summary, content.CleanOptions{RemoveEmojis: true}),
		"tags":            []string{"distilled", "summary"},
		"importance":      summaryImportance,
		"metadata":        string(metaJSON),
		"created_at":      now,
	})
	if err != nil {
		return nil, "", fmt.Errorf("persisting summary node: %w", err)
	}

	var summaryEID string
	if len(res.Records) > 0 {
		if v, ok := res.Records[0].Get("s_eid"); ok {
			summaryEID, _ = v.(string)
		}
	}

	if origin := unit.Metadata["origin_app_id"]; origin != "" {
		_, err := e.Driver.ExecuteQuery(ctx, driver.LinkDistilledFromByAppIDQuery, map[string]interface{}{
			"s_app_id":    appID,
			"orig_app_id": origin,
			"now":         now,
		})
		if err != nil {
			// The summary itself is stored; the missing link is exactly what
			// a repair run recovers.
			e.Log.Warn("linking summary to origin failed, leaving orphan",
				zap.String("s_app_id", appID),
				zap.String("orig_app_id", origin),
				zap.Error(err))
		}
	}

	e.Log.Info("summary stored",
		zap.String("app_id", appID),
		zap.String("s_eid", summaryEID),
		zap.Float64("score", moment.Score),
		zap.Int("entities", len(moment.Entities)))
	return moment, summaryEID, nil
}

// RunRepair executes one repair pass over orphaned summaries.
func (e *Engine) RunRepair(ctx context.Context, mode model.RepairMode) (*model.RepairSummary, *model.RepairRun, error) {
	return e.Weaver.RunRepair(ctx, mode)
}

// Verify re-checks previously committed provenance links.
func (e *Engine) Verify(ctx context.Context, runID string, pairs [][2]string) (*model.VerifyReport, error) {
	return e.Weaver.Verify(ctx, runID, pairs)
}

// Undo removes the links one repair run created.
func (e *Engine) Undo(ctx context.Context, runID string, pairs [][2]string) (*model.UndoReport, error) {
	return e.Weaver.Undo(ctx, runID, pairs)
}

// BuildIndices prepares the store's lookup indices.
func (e *Engine) BuildIndices(ctx context.Context) error {
	return e.Driver.BuildIndices(ctx)
}

// Close releases the underlying store connection.
func (e *Engine) Close(ctx context.Context) error {
	return e.Driver.Close(ctx)
}
