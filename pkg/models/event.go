package models

import "time"

// EventType classifies run events.
type EventType string

// Run event types.
const (
	EventQuery                 EventType = "query"
	EventResult                EventType = "result"
	EventPhaseChanged          EventType = "phase_changed"
	EventAgentAction           EventType = "agent_action"
	EventCancellationRequested EventType = "cancellation_requested"
)

// RunEvent is an append-only observability record. For any session, events are
// totally ordered by (created_at, id); pagination cursors are keyset on this
// pair.
type RunEvent struct {
	ID           int64          `json:"event_id"`
	SessionID    int64          `json:"session_id"`
	TaskID       *int64         `json:"task_id,omitempty"`
	Type         EventType      `json:"type"`
	QueryGroup   string         `json:"query_group,omitempty"`
	QueryText    string         `json:"query_text,omitempty"`
	URL          string         `json:"url,omitempty"`
	Title        string         `json:"title,omitempty"`
	Snippet      string         `json:"snippet,omitempty"`
	QualityScore float64        `json:"quality_score,omitempty"`
	Phase        string         `json:"phase,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"ts"`
}

// AddEventRequest carries the fields for appending one run event.
// Payload is an opaque JSON object for structured data the schema does not
// anticipate.
type AddEventRequest struct {
	SessionID    int64
	TaskID       *int64
	Type         EventType
	QueryGroup   string
	QueryText    string
	URL          string
	Title        string
	Snippet      string
	QualityScore float64
	Phase        string
	Severity     string
	Payload      map[string]any
}
