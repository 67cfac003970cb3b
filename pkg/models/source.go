package models

import "time"

// Source is a web document discovered during research. URL is globally unique;
// re-encountering a URL only adds task links.
type Source struct {
	ID           int64     `json:"id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Domain       string    `json:"domain"`
	Snippet      string    `json:"snippet,omitempty"`
	Content      string    `json:"content,omitempty"`
	QualityScore float64   `json:"quality_score"`
	IsAcademic   bool      `json:"is_academic"`
	AccessedAt   time.Time `json:"accessed_at"`
}

// TaskSource links a task to a source. Position is the presentation position:
// the integer the model sees as "Source N" and therefore the local citation
// number within the task's notes. Gap-fill sources carry positions >= 100.
type TaskSource struct {
	TaskID           int64  `json:"task_id"`
	SourceID         int64  `json:"source_id"`
	Position         int    `json:"position"`
	ExtractedContent string `json:"extracted_content,omitempty"`
}

// GlossaryTerm is a term/definition pair collected during research.
// Terms are unique per session under case-insensitive comparison.
type GlossaryTerm struct {
	ID         int64  `json:"id"`
	SessionID  int64  `json:"session_id"`
	Term       string `json:"term"`
	Definition string `json:"definition"`
	TaskID     *int64 `json:"task_id,omitempty"`
}
