package models

import "time"

// Engagement carries the raw interaction counts attached to a content event.
type Engagement struct {
	Upvotes  int `json:"upvotes"`
	Comments int `json:"comments"`
}

// ContentEvent is a normalized short-text item produced by an external source.
// Events are immutable once ingested and are not retained beyond aggregation,
// except for capped evidence references on trend candidates.
type ContentEvent struct {
	ID         string     `json:"id"`
	Platform   string     `json:"platform"`
	Text       string     `json:"text"`
	URL        string     `json:"url"`
	AuthorHash string     `json:"author_hash,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Engagement Engagement `json:"engagement"`
}

// Weight folds the engagement counts into a single contribution factor.
// Comments weigh heavier than upvotes since they cost the author more.
func (e Engagement) Weight() float64 {
	return 1.0 + 0.5*float64(e.Upvotes) + 1.5*float64(e.Comments)
}

// Valid reports whether the event carries the fields ingestion requires.
func (e ContentEvent) Valid() bool {
	return e.ID != "" && e.Platform != "" && e.Text != ""
}

// ScoreResult is the scoring oracle's verdict for one event.
type ScoreResult struct {
	Keywords         []string `json:"keywords"`
	Category         string   `json:"category"`
	OpportunityScore float64  `json:"opportunity_score"`
	Confidence       float64  `json:"confidence"`
}
