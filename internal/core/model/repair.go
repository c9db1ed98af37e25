package model

import "time"

// Pair status values as recorded in the audit trail.
const (
	StatusCandidate      = "candidate"
	StatusCommitted      = "committed"
	StatusRejected       = "rejected"
	StatusUndone         = "undone"
	StatusBelowThreshold = "below_threshold"
	StatusBelowDelta     = "below_delta"
	StatusMergeFailed    = "merge_failed"
	StatusNoCandidates   = "no_candidates"
)

// Matching method identifiers.
const (
	MethodSimilarityEmbedding = "similarity_emb"
	MethodSimilarityReranked  = "similarity_emb+rerank"
)

// CandidatePair is the best-scoring original found for one orphaned summary.
// SecondScore is the runner-up (0 with fewer than two candidates) so
// DeltaDiff = Score - SecondScore is always >= 0.
type CandidatePair struct {
	SummaryID         string  `json:"s_eid"`
	SummaryAppID      string  `json:"s_app_id,omitempty"`
	SummaryCreatedAt  string  `json:"s_created_at,omitempty"`
	OriginalID        string  `json:"orig_eid"`
	OriginalAppID     string  `json:"orig_app_id,omitempty"`
	OriginalCreatedAt string  `json:"orig_created_at,omitempty"`
	Score             float64 `json:"score"`
	SecondScore       float64 `json:"second_score"`
	DeltaDiff         float64 `json:"delta_diff"`
	NumCandidates     int     `json:"num_candidates"`
	Method            string  `json:"method"`
	Status            string  `json:"status"`
	Error             string  `json:"error,omitempty"`
	SummaryExcerpt    string  `json:"s_excerpt,omitempty"`
	OriginalExcerpt   string  `json:"orig_excerpt,omitempty"`
	CommitTS          string  `json:"commit_ts,omitempty"`
}

// RepairMode selects between auditing only and mutating the store.
type RepairMode string

const (
	ModeDryRun RepairMode = "dry_run"
	ModeCommit RepairMode = "commit"
)

// RepairRun is one weave invocation. RunID tags every relationship the run
// commits, which is what makes verify and undo possible later.
type RepairRun struct {
	RunID     string          `json:"run_id"`
	Mode      RepairMode      `json:"mode"`
	Threshold float64         `json:"threshold"`
	Pairs     []CandidatePair `json:"pairs"`
	Timestamp time.Time       `json:"timestamp"`
}

// RepairSummary is the caller-facing result of a repair run.
type RepairSummary struct {
	RunID      string `json:"run_id"`
	Scanned    int    `json:"scanned"`
	Candidates int    `json:"candidates"`
	Committed  int    `json:"committed"`
	Rejected   int    `json:"rejected"`
	Failed     int    `json:"failed"`
}

// VerifyReport counts confirmed vs missing relationships for a run or CSV.
type VerifyReport struct {
	Checked      int        `json:"checked"`
	Confirmed    int        `json:"confirmed"`
	Missing      int        `json:"missing"`
	MissingPairs [][2]string `json:"missing_pairs,omitempty"`
}

// UndoReport counts relationships deleted by an undo pass.
type UndoReport struct {
	Matched int `json:"matched"`
	Deleted int `json:"deleted"`
}
