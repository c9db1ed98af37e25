package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// SimpleLLMReranker orders documents by relevance to a query with a single
// generation call. The weaver uses it to break ties when embedding scores
// for competing originals are too close to trust.
type SimpleLLMReranker struct {
	LLM LLMClient
}

func NewSimpleLLMReranker(client LLMClient) *SimpleLLMReranker {
	return &SimpleLLMReranker{LLM: client}
}

func (r *SimpleLLMReranker) Rank(ctx context.Context, query string, docs []string) ([]int, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) == 1 {
		return []int{0}, nil
	}

	docList := ""
	for i, d := range docs {
		content := d
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		docList += fmt.Sprintf("[%d] %s\n", i, content)
	}

	prompt := fmt.Sprintf(`You are matching a distilled summary back to the source text it was distilled from.

Summary:
%s

Candidate sources:
%s

Order the candidate indices from most to least likely to be the source of the summary.
Output ONLY the indices separated by commas, e.g.: 0, 2, 1`, query, docList)

	resp, err := r.LLM.Generate(ctx, prompt, WithTemperature(0.1), WithMaxTokens(50))
	if err != nil {
		return nil, fmt.Errorf("rerank generation failed: %w", err)
	}
	return parseIndices(resp, len(docs)), nil
}

var indexRe = regexp.MustCompile(`\d+`)

func parseIndices(s string, n int) []int {
	var indices []int
	seen := map[int]bool{}
	for _, m := range indexRe.FindAllString(s, -1) {
		i, err := strconv.Atoi(m)
		if err != nil || i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		indices = append(indices, i)
	}
	return indices
}
