package models

import "time"

// SessionStatus is the lifecycle status of a research session.
type SessionStatus string

// Session statuses. A session is created as StatusRunning and receives exactly
// one terminal status when the phase runner finalizes or cancels.
const (
	StatusRunning             SessionStatus = "running"
	StatusCompleted           SessionStatus = "completed"
	StatusCompletedWithErrors SessionStatus = "completed_with_errors"
	StatusPartial             SessionStatus = "partial"
	StatusPartialWithErrors   SessionStatus = "partial_with_errors"
	StatusCancelled           SessionStatus = "cancelled"
	StatusFailed              SessionStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	return s != StatusRunning && s != ""
}

// Phase is the observable pipeline phase of a session.
type Phase string

// Pipeline phases, in order. GapAnalysis may cycle back to Researching once.
const (
	PhaseIdle          Phase = "idle"
	PhasePrePlanning   Phase = "pre_planning"
	PhaseOutlineDesign Phase = "outline_design"
	PhaseTaskPlanning  Phase = "task_planning"
	PhaseResearching   Phase = "researching"
	PhaseGapAnalysis   Phase = "gap_analysis"
	PhaseSynthesizing  Phase = "synthesizing"
	PhaseCompiling     Phase = "compiling"
	PhaseComplete      Phase = "complete"
)

// Session is the unit of work for one research query.
type Session struct {
	ID                int64         `json:"id"`
	Query             string        `json:"query"`
	RefinedBrief      string        `json:"refined_brief,omitempty"`
	RefinementQA      string        `json:"refinement_qa,omitempty"`
	Status            SessionStatus `json:"status"`
	Phase             Phase         `json:"phase"`
	TotalTasks        int           `json:"total_tasks"`
	CompletedTasks    int           `json:"completed_tasks"`
	TotalWords        int           `json:"total_words"`
	TotalSources      int           `json:"total_sources"`
	ExecutiveSummary  string        `json:"executive_summary,omitempty"`
	Conclusion        string        `json:"conclusion,omitempty"`
	MarkdownPath      string        `json:"markdown_path,omitempty"`
	HTMLPath          string        `json:"html_path,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	CancelRequestedAt *time.Time    `json:"cancel_requested_at,omitempty"`
}
