package distill

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agenthands/loom/internal/core/common"
	"github.com/agenthands/loom/internal/core/model"
)

// entityPayload tolerates the shapes models actually emit: a bare string,
// or an object using "text" or the legacy "name" field.
type entityPayload struct {
	Text        string
	Type        string
	Description string
	Score       float64
}

func (e *entityPayload) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		e.Text = s
		return nil
	}
	var obj struct {
		Text        string  `json:"text"`
		Name        string  `json:"name"`
		Type        string  `json:"type"`
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.Text = obj.Text
	if e.Text == "" {
		e.Text = obj.Name
	}
	e.Type = obj.Type
	e.Description = obj.Description
	e.Score = obj.Score
	return nil
}

type distillResponse struct {
	Summary  string          `json:"summary"`
	Title    string          `json:"title"`
	Score    float64         `json:"score"`
	Entities []entityPayload `json:"entities"`
}

// ParseMoment parses a structured distillation response. Scores on a 0-10
// scale are normalized; an absent score defaults to DefaultScore.
func ParseMoment(raw string, maxEntities int) (*model.DistilledMoment, error) {
	resp, err := common.ParseJSON[distillResponse](raw)
	if err != nil {
		return nil, err
	}

	summary := resp.Summary
	if summary == "" {
		summary = resp.Title
	}

	score := resp.Score
	if score > 1.0 {
		score = score / 10.0
	}
	if score <= 0 {
		score = model.DefaultScore
	}
	if score > 1.0 {
		score = 1.0
	}

	var entities []model.DistilledEntity
	for _, e := range resp.Entities {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		entities = append(entities, model.DistilledEntity{
			Text:        strings.TrimSpace(e.Text),
			Type:        e.Type,
			Description: e.Description,
			Score:       e.Score,
		})
		if maxEntities > 0 && len(entities) >= maxEntities {
			break
		}
	}

	return &model.DistilledMoment{
		Summary:  summary,
		Entities: entities,
		Score:    score,
	}, nil
}

var (
	sentenceSplitRe = regexp.MustCompile(`(?m)(?:[.!?])\s+`)
	capSpanRe       = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
)

// BestEffortParse recovers something usable from a response that is not
// valid structured output: the first sentence becomes the summary and
// capitalized multi-word spans become entity candidates. Returns false when
// no summary text at all can be extracted.
func BestEffortParse(raw string, maxEntities int) (*model.DistilledMoment, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, false
	}

	summary := text
	if loc := sentenceSplitRe.FindStringIndex(text); loc != nil {
		summary = strings.TrimSpace(text[:loc[1]])
	}
	if len(summary) > 400 {
		summary = summary[:400] + "..."
	}
	if summary == "" {
		return nil, false
	}

	var entities []model.DistilledEntity
	seen := map[string]bool{}
	for _, m := range capSpanRe.FindAllString(text, -1) {
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, model.DistilledEntity{Text: m, Type: "proper_noun"})
		if maxEntities > 0 && len(entities) >= maxEntities {
			break
		}
	}

	return &model.DistilledMoment{
		Summary:  summary,
		Entities: entities,
		Score:    model.DefaultScore,
	}, true
}
