package models

import "time"

// TaskStatus is the lifecycle status of a research task.
type TaskStatus string

// Task statuses. Tasks are claimed atomically (pending → in_progress) and may
// be reset to pending by the retry sweep after a failure.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Task is a single research investigation owned by a section.
// SectionID is nil for session-level tasks. Priority orders claiming
// (higher first); Depth tracks recursive follow-ups.
type Task struct {
	ID            int64      `json:"id"`
	SessionID     int64      `json:"session_id"`
	SectionID     *int64     `json:"section_id,omitempty"`
	ParentTaskID  *int64     `json:"parent_task_id,omitempty"`
	Topic         string     `json:"topic"`
	Description   string     `json:"description"`
	FilePath      string     `json:"file_path,omitempty"`
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	Depth         int        `json:"depth"`
	WordCount     int        `json:"word_count"`
	CitationCount int        `json:"citation_count"`
	IsGapFill     bool       `json:"is_gap_fill"`
	RetryCount    int        `json:"retry_count"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
