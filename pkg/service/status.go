package service

import (
	"context"
	"time"

	"github.com/tomeworks/tome/pkg/models"
)

// Progress summarizes task completion.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Pct       float64 `json:"pct"`
}

// Timing summarizes run wall-clock.
type Timing struct {
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
}

// Counts summarizes run volume.
type Counts struct {
	Sources     int `json:"sources"`
	Words       int `json:"words"`
	FailedTasks int `json:"failed_tasks"`
}

// StatusResponse is the observable state of a run.
type StatusResponse struct {
	RunID             int64                `json:"run_id"`
	Status            models.SessionStatus `json:"status"`
	Phase             models.Phase         `json:"phase"`
	Running           bool                 `json:"running"`
	Progress          Progress             `json:"progress"`
	Timing            Timing               `json:"timing"`
	Counts            Counts               `json:"counts"`
	CancelRequestedAt *time.Time           `json:"cancel_requested_at,omitempty"`
}

// GetRunStatus reports progress, timing, and counters for a session,
// defaulting to the most recent one.
func (s *Service) GetRunStatus(ctx context.Context, sessionID *int64) (*StatusResponse, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	taskCounts, err := s.store.CountTasks(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	pct := 0.0
	if taskCounts.Total > 0 {
		pct = 100 * float64(taskCounts.Completed) / float64(taskCounts.Total)
	}

	end := time.Now()
	if session.EndedAt != nil {
		end = *session.EndedAt
	}

	s.mu.Lock()
	running := s.running && s.runID == session.ID
	s.mu.Unlock()

	return &StatusResponse{
		RunID:   session.ID,
		Status:  session.Status,
		Phase:   session.Phase,
		Running: running,
		Progress: Progress{
			Completed: taskCounts.Completed,
			Total:     taskCounts.Total,
			Pct:       pct,
		},
		Timing: Timing{
			StartedAt:      session.StartedAt,
			EndedAt:        session.EndedAt,
			ElapsedSeconds: end.Sub(session.StartedAt).Seconds(),
		},
		Counts: Counts{
			Sources:     session.TotalSources,
			Words:       session.TotalWords,
			FailedTasks: taskCounts.Failed,
		},
		CancelRequestedAt: session.CancelRequestedAt,
	}, nil
}

// EventsResponse is one keyset page of run events.
type EventsResponse struct {
	SessionID  int64              `json:"session_id"`
	Events     []*models.RunEvent `json:"events"`
	NextCursor string             `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
}

// GetRunEventsPage returns one page of the session's event log. limit is
// clamped by the store (default 100, max 500).
func (s *Service) GetRunEventsPage(ctx context.Context, sessionID *int64, cursor string, limit int) (*EventsResponse, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	page, err := s.store.EventsAfter(ctx, session.ID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return &EventsResponse{
		SessionID:  session.ID,
		Events:     page.Events,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}, nil
}

// SectionSummary is one section's stats in a run result.
type SectionSummary struct {
	Title         string `json:"title"`
	Position      int    `json:"position"`
	WordCount     int    `json:"word_count"`
	CitationCount int    `json:"citation_count"`
}

// ResultSummary carries the report's framing content and section stats.
type ResultSummary struct {
	ExecutiveSummary string           `json:"executive_summary,omitempty"`
	Conclusion       string           `json:"conclusion,omitempty"`
	Sections         []SectionSummary `json:"sections"`
}

// Artifacts locates the written report files.
type Artifacts struct {
	MarkdownPath string `json:"markdown_path,omitempty"`
	HTMLPath     string `json:"html_path,omitempty"`
}

// ResultResponse is the final deliverable view of a run.
type ResultResponse struct {
	RunID     int64                `json:"run_id"`
	Status    models.SessionStatus `json:"status"`
	Artifacts Artifacts            `json:"artifacts"`
	Summary   ResultSummary        `json:"summary"`
	Sources   []*models.Source     `json:"sources"`
}

// GetRunResult returns the artifacts, summary, and cited sources of a
// session, defaulting to the most recent one.
func (s *Service) GetRunResult(ctx context.Context, sessionID *int64) (*ResultResponse, error) {
	session, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sections, err := s.store.ListSections(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	sources, err := s.store.SourcesForSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	summaries := make([]SectionSummary, 0, len(sections))
	for _, sec := range sections {
		summaries = append(summaries, SectionSummary{
			Title:         sec.Title,
			Position:      sec.Position,
			WordCount:     sec.WordCount,
			CitationCount: sec.CitationCount,
		})
	}

	return &ResultResponse{
		RunID:  session.ID,
		Status: session.Status,
		Artifacts: Artifacts{
			MarkdownPath: session.MarkdownPath,
			HTMLPath:     session.HTMLPath,
		},
		Summary: ResultSummary{
			ExecutiveSummary: session.ExecutiveSummary,
			Conclusion:       session.Conclusion,
			Sections:         summaries,
		},
		Sources: sources,
	}, nil
}
