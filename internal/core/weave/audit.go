package weave

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/agenthands/loom/internal/core/model"
)

// auditHeader is the stable column order of the audit CSV. Downstream
// tooling (verify, undo, spreadsheets) keys on these names; do not reorder.
var auditHeader = []string{
	"run_id",
	"s_eid", "s_app_id", "s_created_at",
	"orig_eid", "orig_app_id", "orig_created_at",
	"score", "second_score", "delta_diff",
	"num_candidates", "method", "status", "error",
	"s_excerpt", "orig_excerpt", "commit_ts",
}

// WriteAudit writes one CSV row per scanned summary, committed or not, so a
// dry run produces the exact file a commit run would. Returns the file path,
// or "" when no audit directory is configured.
func WriteAudit(run *model.RepairRun, dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating audit dir: %w", err)
	}

	name := fmt.Sprintf("repair_run_%s_%s.csv", run.RunID, run.Timestamp.Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating audit file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(auditHeader); err != nil {
		return "", err
	}
	for _, p := range run.Pairs {
		row := []string{
			run.RunID,
			p.SummaryID, p.SummaryAppID, p.SummaryCreatedAt,
			p.OriginalID, p.OriginalAppID, p.OriginalCreatedAt,
			formatScore(p.Score), formatScore(p.SecondScore), formatScore(p.DeltaDiff),
			strconv.Itoa(p.NumCandidates), p.Method, p.Status, p.Error,
			p.SummaryExcerpt, p.OriginalExcerpt, p.CommitTS,
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// LoadPairsCSV reads (s_eid, orig_eid) pairs from an audit CSV for
// CSV-driven verify and undo. Only rows that were actually committed are
// returned; a file without a status column is treated as all-committed.
func LoadPairsCSV(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pairs file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading pairs file: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[name] = i
	}
	sIdx, sOK := col["s_eid"]
	oIdx, oOK := col["orig_eid"]
	if !sOK || !oOK {
		return nil, fmt.Errorf("pairs file %s missing s_eid/orig_eid columns", path)
	}
	statusIdx, hasStatus := col["status"]

	var pairs [][2]string
	for _, row := range rows[1:] {
		if sIdx >= len(row) || oIdx >= len(row) {
			continue
		}
		if hasStatus && statusIdx < len(row) && row[statusIdx] != model.StatusCommitted {
			continue
		}
		if row[sIdx] == "" || row[oIdx] == "" {
			continue
		}
		pairs = append(pairs, [2]string{row[sIdx], row[oIdx]})
	}
	return pairs, nil
}
