package weave

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/loom/internal/core/model"
)

func sampleRun() *model.RepairRun {
	return &model.RepairRun{
		RunID:     "run-audit",
		Mode:      model.ModeCommit,
		Threshold: 0.75,
		Timestamp: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
		Pairs: []model.CandidatePair{
			{
				SummaryID: "s-1", OriginalID: "o-1",
				Score: 0.91, SecondScore: 0.40, DeltaDiff: 0.51,
				NumCandidates: 5, Method: model.MethodSimilarityEmbedding,
				Status: model.StatusCommitted, CommitTS: "2024-03-02T12:00:00Z",
			},
			{
				SummaryID: "s-2", OriginalID: "o-2",
				Score: 0.55, NumCandidates: 3,
				Method: model.MethodSimilarityEmbedding,
				Status: model.StatusBelowThreshold,
			},
			{
				SummaryID: "s-3",
				Method:    model.MethodSimilarityEmbedding,
				Status:    model.StatusMergeFailed,
				Error:     "store unavailable",
			},
		},
	}
}

func TestWriteAuditRoundTripsThroughLoadPairs(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteAudit(sampleRun(), dir)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	assert.Equal(t, dir, filepath.Dir(path))

	// Only the committed row comes back as an actionable pair.
	pairs, err := LoadPairsCSV(path)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, [2]string{"s-1", "o-1"}, pairs[0])
}

func TestWriteAuditNoDirConfigured(t *testing.T) {
	path, err := WriteAudit(sampleRun(), "")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoadPairsCSVMissingColumns(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,b\n1,2\n"), 0o644))

	_, err := LoadPairsCSV(bad)
	assert.Error(t, err)
}
