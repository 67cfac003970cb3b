package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomeworks/tome/pkg/models"
)

const sessionColumns = `id, query, refined_brief, refinement_qa, status, phase,
	total_tasks, completed_tasks, total_words, total_sources,
	executive_summary, conclusion, markdown_path, html_path,
	started_at, ended_at, cancel_requested_at`

// CreateSession inserts a new running session for the given query.
func (s *Store) CreateSession(ctx context.Context, query, refinedBrief, refinementQA string) (*models.Session, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (query, refined_brief, refinement_qa, status, phase, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		query, refinedBrief, refinementQA, models.StatusRunning, models.PhaseIdle, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read session id: %w", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	return scanSession(row)
}

// LatestSession returns the most recently started session, or ErrNotFound.
func (s *Store) LatestSession(ctx context.Context) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY started_at DESC, id DESC LIMIT 1")
	return scanSession(row)
}

// UpdateSessionPhase records the current pipeline phase.
func (s *Store) UpdateSessionPhase(ctx context.Context, id int64, phase models.Phase) error {
	return s.execSessionUpdate(ctx, id, "UPDATE sessions SET phase = ? WHERE id = ?", phase, id)
}

// SetSessionStatus sets a session status without finalizing.
func (s *Store) SetSessionStatus(ctx context.Context, id int64, status models.SessionStatus) error {
	return s.execSessionUpdate(ctx, id, "UPDATE sessions SET status = ? WHERE id = ?", status, id)
}

// FinalizeSession sets the terminal status and end timestamp. The terminal
// status is set once: a session already in a terminal state is not updated.
func (s *Store) FinalizeSession(ctx context.Context, id int64, status models.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, ended_at = ?, phase = ? WHERE id = ? AND status = ?",
		status, time.Now().UnixNano(), models.PhaseComplete, id, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already terminal, or missing. Missing is the caller's error.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkCancelRequested records the cancellation request timestamp if not
// already set. Calling it twice leaves the first timestamp in place.
func (s *Store) MarkCancelRequested(ctx context.Context, id int64, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET cancel_requested_at = ? WHERE id = ? AND cancel_requested_at IS NULL",
		ts.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to mark cancel requested: %w", err)
	}
	return nil
}

// UpdateSessionCounters refreshes the aggregate counters.
func (s *Store) UpdateSessionCounters(ctx context.Context, id int64, totalTasks, completedTasks, totalWords, totalSources int) error {
	return s.execSessionUpdate(ctx, id,
		`UPDATE sessions SET total_tasks = ?, completed_tasks = ?, total_words = ?, total_sources = ? WHERE id = ?`,
		totalTasks, completedTasks, totalWords, totalSources, id)
}

// SetSessionSummary persists the executive summary and conclusion.
func (s *Store) SetSessionSummary(ctx context.Context, id int64, executiveSummary, conclusion string) error {
	return s.execSessionUpdate(ctx, id,
		"UPDATE sessions SET executive_summary = ?, conclusion = ? WHERE id = ?",
		executiveSummary, conclusion, id)
}

// SetSessionArtifacts persists report artifact paths.
func (s *Store) SetSessionArtifacts(ctx context.Context, id int64, markdownPath, htmlPath string) error {
	return s.execSessionUpdate(ctx, id,
		"UPDATE sessions SET markdown_path = ?, html_path = ? WHERE id = ?",
		markdownPath, htmlPath, id)
}

// SetSessionBrief persists a refined brief and Q&A transcript.
func (s *Store) SetSessionBrief(ctx context.Context, id int64, brief, qa string) error {
	return s.execSessionUpdate(ctx, id,
		"UPDATE sessions SET refined_brief = ?, refinement_qa = ? WHERE id = ?",
		brief, qa, id)
}

func (s *Store) execSessionUpdate(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess              models.Session
		startedAt         int64
		endedAt           sql.NullInt64
		cancelRequestedAt sql.NullInt64
	)
	err := row.Scan(
		&sess.ID, &sess.Query, &sess.RefinedBrief, &sess.RefinementQA,
		&sess.Status, &sess.Phase,
		&sess.TotalTasks, &sess.CompletedTasks, &sess.TotalWords, &sess.TotalSources,
		&sess.ExecutiveSummary, &sess.Conclusion, &sess.MarkdownPath, &sess.HTMLPath,
		&startedAt, &endedAt, &cancelRequestedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.StartedAt = time.Unix(0, startedAt)
	if endedAt.Valid {
		t := time.Unix(0, endedAt.Int64)
		sess.EndedAt = &t
	}
	if cancelRequestedAt.Valid {
		t := time.Unix(0, cancelRequestedAt.Int64)
		sess.CancelRequestedAt = &t
	}
	return &sess, nil
}
