package weave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/driver"
)

// committedBy is stamped on every relationship this engine creates, so graph
// queries can tell repaired provenance from importer-written provenance.
const committedBy = "loom-weaver"

// Weaver drives repair runs end to end and owns verify and undo.
type Weaver struct {
	Driver   driver.GraphDriver
	Matcher  *Matcher
	Log      *zap.Logger
	Cfg      config.WeaverConfig
	AuditDir string

	// Clock and NewRunID exist so tests can pin time and run identity.
	Clock    func() time.Time
	NewRunID func() string
}

func NewWeaver(d driver.GraphDriver, m *Matcher, log *zap.Logger, cfg config.WeaverConfig, auditDir string) *Weaver {
	return &Weaver{
		Driver:   d,
		Matcher:  m,
		Log:      log,
		Cfg:      cfg,
		AuditDir: auditDir,
		Clock:    time.Now,
		NewRunID: uuid.NewString,
	}
}

// RunRepair scans orphaned summaries, matches each against candidate
// origins, and (in commit mode) writes the accepted links. Matching fans out
// across a worker pool; commits happen on this goroutine in scan order so a
// max-commit cap cuts off deterministically. A store outage fails the
// affected items but the rest of the batch still runs, and the summary and
// audit trail reflect everything done; the outage is returned alongside them.
func (w *Weaver) RunRepair(ctx context.Context, mode model.RepairMode) (*model.RepairSummary, *model.RepairRun, error) {
	run := &model.RepairRun{
		RunID:     w.NewRunID(),
		Mode:      mode,
		Threshold: w.Cfg.Threshold,
		Timestamp: w.Clock().UTC(),
	}
	w.Log.Info("repair run starting",
		zap.String("run_id", run.RunID),
		zap.String("mode", string(mode)),
		zap.Float64("threshold", run.Threshold))

	orphans, err := w.collectOrphans(ctx)
	if err != nil {
		return nil, run, err
	}
	if len(orphans) == 0 {
		w.Log.Info("no orphaned summaries found", zap.String("run_id", run.RunID))
		return w.finish(run, 0), run, nil
	}

	pairs, matchErr := w.matchAll(ctx, orphans)
	run.Pairs = pairs

	var commitErr error
	if mode == model.ModeCommit {
		commitErr = w.commitPairs(ctx, run)
	}

	summary := w.finish(run, len(orphans))

	if path, err := WriteAudit(run, w.AuditDir); err != nil {
		w.Log.Error("writing audit trail failed", zap.String("run_id", run.RunID), zap.Error(err))
	} else if path != "" {
		w.Log.Info("audit trail written", zap.String("run_id", run.RunID), zap.String("path", path))
	}

	if matchErr != nil {
		return summary, run, matchErr
	}
	return summary, run, commitErr
}

// collectOrphans pages until the summary limit or the end of the orphan set.
func (w *Weaver) collectOrphans(ctx context.Context) ([]graphNode, error) {
	limit := w.Cfg.SummaryLimit
	if limit <= 0 {
		limit = 100
	}
	const pageSize = 50

	var orphans []graphNode
	for skip := 0; len(orphans) < limit; skip += pageSize {
		want := pageSize
		if remaining := limit - len(orphans); remaining < want {
			want = remaining
		}
		page, err := w.Matcher.FetchOrphans(ctx, skip, want)
		if err != nil {
			return nil, err
		}
		orphans = append(orphans, page...)
		if len(page) < want {
			break
		}
	}
	return orphans, nil
}

// matchAll fans matching out across a bounded worker pool. Results land at
// the orphan's scan index so pair order is deterministic regardless of
// worker scheduling. A store outage fails only the items it hit; every
// orphan is still attempted, and the first such error is returned with the
// pairs. The driver fails fast while down, so the remaining attempts are
// cheap.
func (w *Weaver) matchAll(ctx context.Context, orphans []graphNode) ([]model.CandidatePair, error) {
	concurrency := w.Cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating matcher pool: %w", err)
	}
	defer pool.Release()

	pairs := make([]model.CandidatePair, len(orphans))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		storeErr error
	)
	for i, s := range orphans {
		i, s := i, s
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			pair, err := w.Matcher.MatchOne(ctx, s)
			if err != nil {
				pair.Status = model.StatusMergeFailed
				pair.Error = err.Error()
				if errors.Is(err, driver.ErrStoreUnavailable) {
					mu.Lock()
					if storeErr == nil {
						storeErr = err
					}
					mu.Unlock()
				} else {
					w.Log.Warn("matching failed",
						zap.String("s_eid", s.EID), zap.Error(err))
				}
			}
			pairs[i] = pair
		})
		if submitErr != nil {
			wg.Done()
			pairs[i] = skippedPair(s, submitErr.Error())
		}
	}
	wg.Wait()

	return pairs, storeErr
}

func skippedPair(s graphNode, reason string) model.CandidatePair {
	return model.CandidatePair{
		SummaryID:        s.EID,
		SummaryAppID:     s.AppID,
		SummaryCreatedAt: s.CreatedAt,
		Method:           model.MethodSimilarityEmbedding,
		Status:           model.StatusMergeFailed,
		Error:            reason,
	}
}

// commitPairs writes accepted pairs in scan order. MERGE in the commit query
// makes re-running a run over the same pairs safe. MaxCommit > 0 caps how
// many links one run may create; pairs past the cap stay candidates. A pair
// whose commit hit a store outage also stays a candidate, with the error
// recorded on its audit row, so a later run can pick it up; the first such
// error is returned after the whole loop has run.
func (w *Weaver) commitPairs(ctx context.Context, run *model.RepairRun) error {
	committed := 0
	var storeErr error
	for i := range run.Pairs {
		pair := &run.Pairs[i]
		if pair.Status != model.StatusCandidate {
			continue
		}
		if w.Cfg.MaxCommit > 0 && committed >= w.Cfg.MaxCommit {
			continue
		}

		now := w.Clock().UTC().Format(time.RFC3339)
		_, err := w.Driver.ExecuteQuery(ctx, driver.CommitDistilledFromQuery, map[string]interface{}{
			"s_eid":    pair.SummaryID,
			"orig_eid": pair.OriginalID,
			"run_id":   run.RunID,
			"score":    pair.Score,
			"delta":    pair.DeltaDiff,
			"by":       committedBy,
			"now":      now,
		})
		if err != nil {
			pair.Error = err.Error()
			if errors.Is(err, driver.ErrStoreUnavailable) {
				if storeErr == nil {
					storeErr = err
					w.Log.Error("store unavailable mid-commit",
						zap.String("run_id", run.RunID),
						zap.Int("committed", committed))
				}
				continue
			}
			pair.Status = model.StatusMergeFailed
			w.Log.Warn("commit failed",
				zap.String("s_eid", pair.SummaryID),
				zap.String("orig_eid", pair.OriginalID),
				zap.Error(err))
			continue
		}

		pair.Status = model.StatusCommitted
		pair.CommitTS = now
		committed++
	}
	return storeErr
}

// finish tallies the run into a caller-facing summary.
func (w *Weaver) finish(run *model.RepairRun, scanned int) *model.RepairSummary {
	s := &model.RepairSummary{RunID: run.RunID, Scanned: scanned}
	for _, p := range run.Pairs {
		switch p.Status {
		case model.StatusCandidate:
			s.Candidates++
		case model.StatusCommitted:
			s.Candidates++
			s.Committed++
		case model.StatusBelowThreshold, model.StatusBelowDelta, model.StatusNoCandidates, model.StatusRejected:
			s.Rejected++
		case model.StatusMergeFailed:
			s.Failed++
		}
	}
	w.Log.Info("repair run finished",
		zap.String("run_id", s.RunID),
		zap.Int("scanned", s.Scanned),
		zap.Int("candidates", s.Candidates),
		zap.Int("committed", s.Committed),
		zap.Int("rejected", s.Rejected),
		zap.Int("failed", s.Failed))
	return s
}

// Verify checks that previously committed relationships still exist. With
// explicit pairs it checks each endpoint pair; with only a run id it lists
// the run's relationships and re-checks every one.
func (w *Weaver) Verify(ctx context.Context, runID string, pairs [][2]string) (*model.VerifyReport, error) {
	if len(pairs) == 0 {
		if runID == "" {
			return nil, errors.New("verify requires a run id or explicit pairs")
		}
		res, err := w.Driver.ExecuteQuery(ctx, driver.FindCommitsByRunQuery, map[string]interface{}{
			"run_id": runID,
		})
		if err != nil {
			return nil, fmt.Errorf("listing commits for run %s: %w", runID, err)
		}
		for _, rec := range res.Records {
			pairs = append(pairs, [2]string{recordString(rec, "s_eid"), recordString(rec, "orig_eid")})
		}
	}

	report := &model.VerifyReport{Checked: len(pairs)}
	for _, p := range pairs {
		res, err := w.Driver.ExecuteQuery(ctx, driver.VerifyPairQuery, map[string]interface{}{
			"s_eid":    p[0],
			"orig_eid": p[1],
		})
		if err != nil {
			return report, fmt.Errorf("verifying pair %s -> %s: %w", p[0], p[1], err)
		}
		if countFromResult(res) > 0 {
			report.Confirmed++
		} else {
			report.Missing++
			report.MissingPairs = append(report.MissingPairs, p)
		}
	}
	return report, nil
}

// Undo removes exactly what a run created. With a run id, relationships are
// matched by their auto_commit_run_id tag; pre-existing links and other
// runs' links are untouched. With explicit pairs, each pair is deleted
// individually.
func (w *Weaver) Undo(ctx context.Context, runID string, pairs [][2]string) (*model.UndoReport, error) {
	report := &model.UndoReport{}

	if len(pairs) > 0 {
		report.Matched = len(pairs)
		for _, p := range pairs {
			res, err := w.Driver.ExecuteQuery(ctx, driver.DeleteCommitByPairQuery, map[string]interface{}{
				"s_eid":    p[0],
				"orig_eid": p[1],
			})
			if err != nil {
				return report, fmt.Errorf("undoing pair %s -> %s: %w", p[0], p[1], err)
			}
			report.Deleted += countFromResult(res)
		}
		w.Log.Info("undo by pairs finished",
			zap.Int("matched", report.Matched), zap.Int("deleted", report.Deleted))
		return report, nil
	}

	if runID == "" {
		return nil, errors.New("undo requires a run id or explicit pairs")
	}

	listed, err := w.Driver.ExecuteQuery(ctx, driver.FindCommitsByRunQuery, map[string]interface{}{
		"run_id": runID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing commits for run %s: %w", runID, err)
	}
	report.Matched = len(listed.Records)

	res, err := w.Driver.ExecuteQuery(ctx, driver.DeleteCommitsByRunQuery, map[string]interface{}{
		"run_id": runID,
	})
	if err != nil {
		return report, fmt.Errorf("deleting commits for run %s: %w", runID, err)
	}
	report.Deleted = countFromResult(res)

	w.Log.Info("undo by run finished",
		zap.String("run_id", runID),
		zap.Int("matched", report.Matched),
		zap.Int("deleted", report.Deleted))
	return report, nil
}

// countFromResult pulls the single integer a count/delete query returns.
func countFromResult(res neo4j.EagerResult) int {
	if len(res.Records) == 0 || len(res.Records[0].Values) == 0 {
		return 0
	}
	switch v := res.Records[0].Values[0].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
