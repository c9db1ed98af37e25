package weave

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/loom/internal/driver"
)

func rec(keys []string, values []interface{}) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func orphanRecord(eid, appID, createdAt, content string) *neo4j.Record {
	return rec(
		[]string{"s_eid", "s_app_id", "s_created_at", "content", "content_cleaned", "tags"},
		[]interface{}{eid, appID, createdAt, content, content, []interface{}{"distilled", "summary"}},
	)
}

func candidateRecord(eid, appID, createdAt, content string) *neo4j.Record {
	return rec(
		[]string{"orig_eid", "orig_app_id", "orig_created_at", "content", "content_cleaned"},
		[]interface{}{eid, appID, createdAt, content, content},
	)
}

type commitCall struct {
	SummaryID  string
	OriginalID string
	RunID      string
}

// fakeGraph routes the engine's cypher constants against in-memory state:
// orphan rows, candidate rows, and a relationship map keyed by endpoint pair
// whose value is the committing run id. MERGE semantics are honored: an
// existing pair keeps its original run id.
type fakeGraph struct {
	mu         sync.Mutex
	orphans    []*neo4j.Record
	candidates []*neo4j.Record
	rels       map[[2]string]string
	commits    []commitCall

	// failCommitAfter > 0 makes the nth and later commit queries return
	// ErrStoreUnavailable. failCandidates fails every candidate query;
	// unavailable fails every query.
	failCommitAfter int
	failCandidates  bool
	unavailable     bool

	candidateCalls int
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{rels: map[[2]string]string{}}
}

func (g *fakeGraph) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return neo4j.EagerResult{}, driver.ErrStoreUnavailable
	}

	switch query {
	case driver.FindOrphanSummariesQuery:
		skip := params["skip"].(int)
		limit := params["limit"].(int)
		var out []*neo4j.Record
		for i := skip; i < len(g.orphans) && len(out) < limit; i++ {
			out = append(out, g.orphans[i])
		}
		return neo4j.EagerResult{Records: out}, nil

	case driver.FindCandidateOriginsQuery,
		driver.FindCandidateOriginsInWindowQuery,
		driver.FindCandidateOriginsSameAppInWindowQuery:
		g.candidateCalls++
		if g.failCandidates {
			return neo4j.EagerResult{}, driver.ErrStoreUnavailable
		}
		return neo4j.EagerResult{Records: g.candidates}, nil

	case driver.CommitDistilledFromQuery:
		if g.failCommitAfter > 0 && len(g.commits)+1 >= g.failCommitAfter {
			return neo4j.EagerResult{}, driver.ErrStoreUnavailable
		}
		pair := [2]string{params["s_eid"].(string), params["orig_eid"].(string)}
		runID := params["run_id"].(string)
		g.commits = append(g.commits, commitCall{pair[0], pair[1], runID})
		if _, exists := g.rels[pair]; !exists {
			g.rels[pair] = runID
		}
		return neo4j.EagerResult{Records: []*neo4j.Record{
			rec([]string{"r_eid"}, []interface{}{fmt.Sprintf("r-%s-%s", pair[0], pair[1])}),
		}}, nil

	case driver.VerifyPairQuery:
		pair := [2]string{params["s_eid"].(string), params["orig_eid"].(string)}
		var count int64
		if _, ok := g.rels[pair]; ok {
			count = 1
		}
		return neo4j.EagerResult{Records: []*neo4j.Record{
			rec([]string{"c"}, []interface{}{count}),
		}}, nil

	case driver.FindCommitsByRunQuery:
		runID := params["run_id"].(string)
		var out []*neo4j.Record
		for pair, r := range g.rels {
			if r == runID {
				out = append(out, rec(
					[]string{"s_eid", "orig_eid", "score"},
					[]interface{}{pair[0], pair[1], 0.9},
				))
			}
		}
		return neo4j.EagerResult{Records: out}, nil

	case driver.DeleteCommitsByRunQuery:
		runID := params["run_id"].(string)
		var deleted int64
		for pair, r := range g.rels {
			if r == runID {
				delete(g.rels, pair)
				deleted++
			}
		}
		return neo4j.EagerResult{Records: []*neo4j.Record{
			rec([]string{"deleted"}, []interface{}{deleted}),
		}}, nil

	case driver.DeleteCommitByPairQuery:
		pair := [2]string{params["s_eid"].(string), params["orig_eid"].(string)}
		var deleted int64
		if _, ok := g.rels[pair]; ok {
			delete(g.rels, pair)
			deleted = 1
		}
		return neo4j.EagerResult{Records: []*neo4j.Record{
			rec([]string{"deleted"}, []interface{}{deleted}),
		}}, nil
	}
	return neo4j.EagerResult{}, fmt.Errorf("fakeGraph: unexpected query: %s", query)
}

func (g *fakeGraph) BuildIndices(ctx context.Context) error { return nil }
func (g *fakeGraph) Close(ctx context.Context) error        { return nil }

func (g *fakeGraph) commitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.commits)
}

func (g *fakeGraph) candidateCallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.candidateCalls
}

// fakeEmbedder maps the first known token found in the text to a fixed
// vector; unknown text gets the fallback.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	for token, vec := range f.vectors {
		if token != "" && strings.Contains(text, token) {
			return vec, nil
		}
	}
	return f.fallback, nil
}

type fakeReranker struct {
	order []int
	err   error
	calls int
}

func (f *fakeReranker) Rank(ctx context.Context, query string, docs []string) ([]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}
