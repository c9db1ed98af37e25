package model

import "time"

// DistilledEntity is a single entity surfaced by distillation.
type DistilledEntity struct {
	Text        string  `json:"text"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// DistilledMoment is the structured result of distilling one ContentUnit.
// Score is a salience/confidence value in [0,1]. Heuristic fallback paths
// always produce HeuristicScore; LLM-backed paths use the model's score
// (0-10 scales are normalized) or DefaultScore when the model omits one.
type DistilledMoment struct {
	Summary   string            `json:"summary"`
	Entities  []DistilledEntity `json:"entities"`
	Score     float64           `json:"score"`
	Text      string            `json:"text,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

const (
	HeuristicScore = 0.1
	DefaultScore   = 1.0
)

// ContentUnit is a raw piece of text handed to the distiller, plus the
// metadata the caller knows about it. Transient; never persisted as-is.
type ContentUnit struct {
	Text        string            `json:"text"`
	Source      string            `json:"source,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
