package models

import "time"

// SectionStatus is the lifecycle status of a report section.
type SectionStatus string

// Section statuses.
const (
	SectionPlanned      SectionStatus = "planned"
	SectionResearching  SectionStatus = "researching"
	SectionSynthesizing SectionStatus = "synthesizing"
	SectionComplete     SectionStatus = "complete"
)

// Section is a chapter of the final report. Position is 1-based and determines
// report ordering. Executive summary and conclusion are not sections.
type Section struct {
	ID                 int64         `json:"id"`
	SessionID          int64         `json:"session_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Position           int           `json:"position"`
	Status             SectionStatus `json:"status"`
	SynthesizedContent string        `json:"synthesized_content,omitempty"`
	WordCount          int           `json:"word_count"`
	CitationCount      int           `json:"citation_count"`
	IsGapFill          bool          `json:"is_gap_fill"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}
