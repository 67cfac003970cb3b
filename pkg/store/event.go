package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tomeworks/tome/pkg/models"
)

const (
	eventPageDefault = 100
	eventPageMax     = 500
)

// AddEvent appends a run event and returns it with id and timestamp assigned.
// Events are append-only; nothing ever updates or deletes a row.
func (s *Store) AddEvent(ctx context.Context, req models.AddEventRequest) (*models.RunEvent, error) {
	payloadJSON := ""
	if len(req.Payload) > 0 {
		b, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event payload: %w", err)
		}
		payloadJSON = string(b)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (session_id, task_id, event_type, query_group, query_text,
			url, title, snippet, quality_score, phase, severity, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.SessionID, req.TaskID, req.Type, req.QueryGroup, req.QueryText,
		req.URL, req.Title, req.Snippet, req.QualityScore, req.Phase, req.Severity,
		payloadJSON, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}

	ev := &models.RunEvent{
		ID:           id,
		SessionID:    req.SessionID,
		TaskID:       req.TaskID,
		Type:         req.Type,
		QueryGroup:   req.QueryGroup,
		QueryText:    req.QueryText,
		URL:          req.URL,
		Title:        req.Title,
		Snippet:      req.Snippet,
		QualityScore: req.QualityScore,
		Phase:        req.Phase,
		Severity:     req.Severity,
		Payload:      req.Payload,
		CreatedAt:    now,
	}
	return ev, nil
}

// EventPage is one page of run events with the cursor for the next page.
type EventPage struct {
	Events     []*models.RunEvent
	NextCursor string
	HasMore    bool
}

// EventsAfter returns events strictly after the cursor, ordered by
// (created_at, id). An empty or undecodable cursor reads from the start.
// limit is clamped to [1, 500]; 0 means the default page size.
func (s *Store) EventsAfter(ctx context.Context, sessionID int64, cursor string, limit int) (*EventPage, error) {
	if limit <= 0 {
		limit = eventPageDefault
	}
	if limit > eventPageMax {
		limit = eventPageMax
	}

	afterTS, afterID := decodeEventCursor(cursor)

	// Fetch one extra row to learn whether another page exists.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, task_id, event_type, query_group, query_text,
			url, title, snippet, quality_score, phase, severity, payload_json, created_at
		 FROM run_events
		 WHERE session_id = ? AND (created_at > ? OR (created_at = ? AND id > ?))
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		sessionID, afterTS, afterTS, afterID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.RunEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &EventPage{}
	if len(events) > limit {
		page.HasMore = true
		events = events[:limit]
	}
	page.Events = events
	if len(events) > 0 {
		last := events[len(events)-1]
		page.NextCursor = encodeEventCursor(last.CreatedAt.UnixNano(), last.ID)
	} else {
		page.NextCursor = cursor
	}
	return page, nil
}

// CountEvents returns the number of events recorded for a session.
func (s *Store) CountEvents(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM run_events WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

type eventCursor struct {
	TS int64 `json:"ts"`
	ID int64 `json:"id"`
}

func encodeEventCursor(ts, id int64) string {
	b, _ := json.Marshal(eventCursor{TS: ts, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeEventCursor returns the (created_at, id) pair a page continues after.
// Malformed cursors decode to (0, 0): reading from the start, never an error.
func decodeEventCursor(cursor string) (int64, int64) {
	if cursor == "" {
		return 0, 0
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, 0
	}
	var c eventCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return 0, 0
	}
	return c.TS, c.ID
}

func scanEvent(row rowScanner) (*models.RunEvent, error) {
	var (
		ev          models.RunEvent
		taskID      sql.NullInt64
		payloadJSON string
		createdAt   int64
	)
	err := row.Scan(
		&ev.ID, &ev.SessionID, &taskID, &ev.Type, &ev.QueryGroup, &ev.QueryText,
		&ev.URL, &ev.Title, &ev.Snippet, &ev.QualityScore, &ev.Phase, &ev.Severity,
		&payloadJSON, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if taskID.Valid {
		ev.TaskID = &taskID.Int64
	}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode event payload: %w", err)
		}
	}
	ev.CreatedAt = time.Unix(0, createdAt)
	return &ev, nil
}
