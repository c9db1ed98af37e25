//go:build integration

package integration

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/core/weave"
	"github.com/agenthands/loom/internal/driver"
)

// hashEmbedder produces deterministic vectors so the repair flow can run
// against a real graph store without a serving endpoint.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 16)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255.0
	}
	return vec, nil
}

// TestRepairRoundTrip runs dry-run, commit, verify, and undo against a live
// store. It creates its own nodes and removes its own links.
func TestRepairRoundTrip(t *testing.T) {
	_ = godotenv.Load("../../.env")

	uri := os.Getenv("GRAPH_URI")
	if uri == "" {
		t.Skip("skipping integration test: GRAPH_URI not set")
	}
	log := zap.NewNop()

	d, err := driver.NewBoltDriver(uri, os.Getenv("GRAPH_USER"), os.Getenv("GRAPH_PASSWORD"), log)
	require.NoError(t, err)
	ctx := context.Background()
	defer d.Close(ctx)

	marker := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	// One original and one orphaned summary sharing identical cleaned
	// content, so the hash embedder scores them at cosine 1.
	shared := "integration fixture content " + marker
	_, err = d.ExecuteQuery(ctx, `
		CREATE (o:Memory {app_id: $orig_app, content: $content, content_cleaned: $content,
		                  category: 'conversation', created_at: $now})
		CREATE (s:Memory {app_id: $s_app, content: $content, content_cleaned: $content,
		                  category: 'summary', tags: ['distilled','summary'], created_at: $now})
	`, map[string]interface{}{
		"orig_app": "it-orig-" + marker,
		"s_app":    "it-sum-" + marker,
		"content":  shared,
		"now":      now,
	})
	require.NoError(t, err)
	defer func() {
		_, _ = d.ExecuteQuery(ctx, `
			MATCH (n:Memory) WHERE n.app_id STARTS WITH 'it-' AND n.app_id ENDS WITH $marker
			DETACH DELETE n
		`, map[string]interface{}{"marker": marker})
	}()

	cfg := config.Default().Weaver
	cfg.Threshold = 0.95
	cfg.SummaryLimit = 500
	cfg.MinOriginLength = 10

	matcher := &weave.Matcher{Driver: d, Embedder: hashEmbedder{}, Log: log, Cfg: cfg}
	w := weave.NewWeaver(d, matcher, log, cfg, t.TempDir())

	dry, _, err := w.RunRepair(ctx, model.ModeDryRun)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, dry.Candidates, 1)

	committed, run, err := w.RunRepair(ctx, model.ModeCommit)
	require.NoError(t, err)
	require.GreaterOrEqual(t, committed.Committed, 1)

	report, err := w.Verify(ctx, committed.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, report.Checked, report.Confirmed)
	assert.Zero(t, report.Missing)

	undo, err := w.Undo(ctx, committed.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, committed.Committed, undo.Deleted)

	fmt.Printf("round trip: run=%s committed=%d undone=%d pairs=%d\n",
		committed.RunID, committed.Committed, undo.Deleted, len(run.Pairs))
}
