// Package weave repairs missing DISTILLED_FROM provenance links. The matcher
// scores candidate origins against orphaned summaries with embedding cosine
// similarity; the weaver turns accepted pairs into graph relationships with a
// full audit trail, and can verify or undo a run afterwards.
package weave

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/agenthands/loom/internal/config"
	"github.com/agenthands/loom/internal/core/common"
	"github.com/agenthands/loom/internal/core/content"
	"github.com/agenthands/loom/internal/core/model"
	"github.com/agenthands/loom/internal/driver"
	"github.com/agenthands/loom/internal/llm"
)

// Matcher finds the most plausible origin node for an orphaned summary.
type Matcher struct {
	Driver   driver.GraphDriver
	Embedder llm.EmbedderClient
	Reranker llm.RerankerClient
	Log      *zap.Logger
	Cfg      config.WeaverConfig
}

// graphNode is one Memory node row as returned by the orphan and candidate
// queries.
type graphNode struct {
	EID       string
	AppID     string
	CreatedAt string
	Content   string
	Cleaned   string
}

// comparableText is what gets embedded: the pre-cleaned content when the
// importer stored one, otherwise a cleaning pass over the raw content.
func (n graphNode) comparableText() string {
	if strings.TrimSpace(n.Cleaned) != "" {
		return n.Cleaned
	}
	return content.CleanContent(n.Content, content.CleanOptions{RemoveEmojis: true})
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func nodeFromRecord(rec *neo4j.Record, eidKey, appKey, createdKey string) graphNode {
	return graphNode{
		EID:       recordString(rec, eidKey),
		AppID:     recordString(rec, appKey),
		CreatedAt: recordString(rec, createdKey),
		Content:   recordString(rec, "content"),
		Cleaned:   recordString(rec, "content_cleaned"),
	}
}

// FetchOrphans pages through summary nodes that have no provenance link.
func (m *Matcher) FetchOrphans(ctx context.Context, skip, limit int) ([]graphNode, error) {
	res, err := m.Driver.ExecuteQuery(ctx, driver.FindOrphanSummariesQuery, map[string]interface{}{
		"skip":  skip,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching orphan summaries: %w", err)
	}
	orphans := make([]graphNode, 0, len(res.Records))
	for _, rec := range res.Records {
		orphans = append(orphans, nodeFromRecord(rec, "s_eid", "s_app_id", "s_created_at"))
	}
	return orphans, nil
}

// fetchCandidates selects the candidate pool for one summary, narrowing by
// time window and app when configured.
func (m *Matcher) fetchCandidates(ctx context.Context, s graphNode) ([]graphNode, error) {
	query := driver.FindCandidateOriginsQuery
	params := map[string]interface{}{"candidate_limit": m.candidateLimit()}

	if m.Cfg.TimeWindowHours > 0 && s.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			window := time.Duration(m.Cfg.TimeWindowHours) * time.Hour
			params["min_dt"] = ts.Add(-window).Format(time.RFC3339)
			params["max_dt"] = ts.Add(window).Format(time.RFC3339)
			if m.Cfg.RequireSameApp && s.AppID != "" {
				query = driver.FindCandidateOriginsSameAppInWindowQuery
				params["s_app_id"] = s.AppID
			} else {
				query = driver.FindCandidateOriginsInWindowQuery
			}
		} else {
			m.Log.Debug("unparseable summary timestamp, using unwindowed candidates",
				zap.String("s_eid", s.EID), zap.String("created_at", s.CreatedAt))
		}
	}

	res, err := m.Driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("fetching candidate origins: %w", err)
	}
	candidates := make([]graphNode, 0, len(res.Records))
	for _, rec := range res.Records {
		c := nodeFromRecord(rec, "orig_eid", "orig_app_id", "orig_created_at")
		if m.admissible(c) {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

// admissible applies the cheap content filters before any embedding is paid
// for.
func (m *Matcher) admissible(c graphNode) bool {
	text := c.Content
	if m.Cfg.MinOriginLength > 0 && len(text) < m.Cfg.MinOriginLength {
		return false
	}
	if m.Cfg.SkipJSON && content.IsJSONLike(text) {
		return false
	}
	if m.Cfg.SkipHTML && content.IsHTMLLike(text) {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range m.Cfg.ExcludePhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return false
		}
	}
	return true
}

func (m *Matcher) candidateLimit() int {
	if m.Cfg.CandidateLimit <= 0 {
		return 200
	}
	return m.Cfg.CandidateLimit
}

type scoredCandidate struct {
	node  graphNode
	score float64
}

const excerptLen = 120

// MatchOne scores every admissible candidate against one orphaned summary
// and returns the audit pair for the best one. The returned pair always
// carries a status; errors are reserved for infrastructure failures the
// caller must react to, such as the store going away.
func (m *Matcher) MatchOne(ctx context.Context, s graphNode) (model.CandidatePair, error) {
	pair := model.CandidatePair{
		SummaryID:        s.EID,
		SummaryAppID:     s.AppID,
		SummaryCreatedAt: s.CreatedAt,
		Method:           model.MethodSimilarityEmbedding,
		SummaryExcerpt:   common.Excerpt(s.comparableText(), excerptLen),
	}

	candidates, err := m.fetchCandidates(ctx, s)
	if err != nil {
		return pair, err
	}
	if len(candidates) == 0 {
		pair.Status = model.StatusNoCandidates
		return pair, nil
	}

	queryText := s.comparableText()
	queryVec, err := m.Embedder.Embed(ctx, queryText)
	if err != nil {
		return pair, fmt.Errorf("embedding summary %s: %w", s.EID, err)
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		vec, err := m.Embedder.Embed(ctx, c.comparableText())
		if err != nil {
			m.Log.Debug("candidate embedding failed, skipping",
				zap.String("orig_eid", c.EID), zap.Error(err))
			continue
		}
		scored = append(scored, scoredCandidate{node: c, score: common.Cosine(queryVec, vec)})
	}
	if len(scored) == 0 {
		pair.Status = model.StatusNoCandidates
		return pair, nil
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	best := scored[0]
	pair.NumCandidates = len(scored)
	pair.Score = best.score
	if len(scored) > 1 {
		pair.SecondScore = scored[1].score
	}
	pair.DeltaDiff = pair.Score - pair.SecondScore
	m.fillOriginal(&pair, best.node)

	if pair.Score < m.Cfg.Threshold {
		pair.Status = model.StatusBelowThreshold
		return pair, nil
	}
	if len(scored) > 1 && pair.DeltaDiff < m.Cfg.Delta {
		return m.resolveAmbiguous(ctx, queryText, scored, pair)
	}
	pair.Status = model.StatusCandidate
	return pair, nil
}

func (m *Matcher) fillOriginal(pair *model.CandidatePair, n graphNode) {
	pair.OriginalID = n.EID
	pair.OriginalAppID = n.AppID
	pair.OriginalCreatedAt = n.CreatedAt
	pair.OriginalExcerpt = common.Excerpt(n.comparableText(), excerptLen)
}

const rerankPool = 5

// resolveAmbiguous handles a best score too close to the runner-up. With a
// reranker configured, the top candidates get a second opinion and the
// reranker's pick wins if it still clears the threshold; otherwise the pair
// is rejected as ambiguous.
func (m *Matcher) resolveAmbiguous(ctx context.Context, queryText string, scored []scoredCandidate, pair model.CandidatePair) (model.CandidatePair, error) {
	if !m.Cfg.RerankAmbiguous || m.Reranker == nil {
		pair.Status = model.StatusBelowDelta
		return pair, nil
	}

	pool := scored
	if len(pool) > rerankPool {
		pool = pool[:rerankPool]
	}
	docs := make([]string, len(pool))
	for i, c := range pool {
		docs[i] = c.node.comparableText()
	}

	order, err := m.Reranker.Rank(ctx, queryText, docs)
	if err != nil || len(order) == 0 {
		m.Log.Debug("rerank failed, rejecting ambiguous pair",
			zap.String("s_eid", pair.SummaryID), zap.Error(err))
		pair.Status = model.StatusBelowDelta
		return pair, nil
	}

	winner := pool[order[0]]
	if winner.score < m.Cfg.Threshold {
		pair.Status = model.StatusBelowDelta
		return pair, nil
	}

	pair.Method = model.MethodSimilarityReranked
	pair.Score = winner.score
	m.fillOriginal(&pair, winner.node)
	pair.Status = model.StatusCandidate
	return pair, nil
}
