package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomeworks/tome/pkg/models"
)

const taskColumns = `id, session_id, section_id, parent_task_id, topic, description,
	file_path, status, priority, depth, word_count, citation_count,
	is_gap_fill, retry_count, error_message, created_at, completed_at`

// CreateTask inserts a pending task and returns it with its id assigned.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (session_id, section_id, parent_task_id, topic, description,
			file_path, status, priority, depth, is_gap_fill, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.SectionID, t.ParentTaskID, t.Topic, t.Description,
		t.FilePath, t.Status, t.Priority, t.Depth, boolToInt(t.IsGapFill), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read task id: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	return scanTask(row)
}

// ClaimNext atomically claims up to n pending tasks for a session: rows are
// selected ordered by (priority DESC, depth ASC, id ASC) and transitioned to
// in_progress inside one transaction. Two concurrent callers never claim the
// same row; a rolled-back claim leaves no row in_progress.
func (s *Store) ClaimNext(ctx context.Context, sessionID int64, n int) ([]*models.Task, error) {
	if n < 1 {
		return nil, nil
	}

	var claimed []*models.Task
	err := s.inTx(func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+taskColumns+` FROM tasks
			 WHERE session_id = ? AND status = ?
			 ORDER BY priority DESC, depth ASC, id ASC
			 LIMIT ?`,
			sessionID, models.TaskPending, n)
		if err != nil {
			return fmt.Errorf("failed to query pending tasks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			claimed = append(claimed, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		args := make([]any, 0, len(claimed)+1)
		args = append(args, models.TaskInProgress)
		for i, t := range claimed {
			ids[i] = "?"
			args = append(args, t.ID)
		}
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE tasks SET status = ? WHERE id IN (%s)", strings.Join(ids, ",")),
			args...)
		if err != nil {
			return fmt.Errorf("failed to claim tasks: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected != int64(len(claimed)) {
			return fmt.Errorf("claim updated %d of %d rows", affected, len(claimed))
		}
		for _, t := range claimed {
			t.Status = models.TaskInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteTask marks a task completed with its note statistics.
func (s *Store) CompleteTask(ctx context.Context, id int64, wordCount, citationCount int) error {
	return s.execTaskUpdate(ctx,
		`UPDATE tasks SET status = ?, word_count = ?, citation_count = ?, error_message = '', completed_at = ?
		 WHERE id = ?`,
		models.TaskCompleted, wordCount, citationCount, time.Now().UnixNano(), id)
}

// FailTask marks a task failed with the error message and increments its
// retry count. Every failure increments the count, so retry_count observes
// at most max_retries + 1.
func (s *Store) FailTask(ctx context.Context, id int64, message string) error {
	return s.execTaskUpdate(ctx,
		`UPDATE tasks SET status = ?, error_message = ?, retry_count = retry_count + 1, completed_at = ?
		 WHERE id = ?`,
		models.TaskFailed, truncate(message, 2000), time.Now().UnixNano(), id)
}

// SkipTask marks a task skipped (budget exhaustion).
func (s *Store) SkipTask(ctx context.Context, id int64, reason string) error {
	return s.execTaskUpdate(ctx,
		"UPDATE tasks SET status = ?, error_message = ? WHERE id = ?",
		models.TaskSkipped, truncate(reason, 2000), id)
}

// RetryFailed transitions failed tasks whose retry_count has not exceeded
// maxRetries back to pending, clearing the error message. Returns the number
// of tasks reset.
func (s *Store) RetryFailed(ctx context.Context, sessionID int64, maxRetries int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error_message = '', completed_at = NULL
		 WHERE session_id = ? AND status = ? AND retry_count <= ?`,
		models.TaskPending, sessionID, models.TaskFailed, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep failed tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ResetInProgress returns in_progress tasks to pending. Used on open to
// recover tasks orphaned by a crashed process, and after a cancelled run.
func (s *Store) ResetInProgress(ctx context.Context, sessionID int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ? WHERE session_id = ? AND status = ?",
		models.TaskPending, sessionID, models.TaskInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-progress tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListTasks returns all tasks for a session ordered by id.
func (s *Store) ListTasks(ctx context.Context, sessionID int64) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE session_id = ? ORDER BY id ASC", sessionID)
}

// TasksForSection returns a section's tasks ordered by id.
func (s *Store) TasksForSection(ctx context.Context, sectionID int64) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE section_id = ? ORDER BY id ASC", sectionID)
}

// TaskCounts summarises task statuses for a session.
type TaskCounts struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Skipped    int
}

// CountTasks returns per-status task counts for a session.
func (s *Store) CountTasks(ctx context.Context, sessionID int64) (TaskCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM tasks WHERE session_id = ? GROUP BY status", sessionID)
	if err != nil {
		return TaskCounts{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	var counts TaskCounts
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return TaskCounts{}, err
		}
		counts.Total += n
		switch status {
		case models.TaskPending:
			counts.Pending = n
		case models.TaskInProgress:
			counts.InProgress = n
		case models.TaskCompleted:
			counts.Completed = n
		case models.TaskFailed:
			counts.Failed = n
		case models.TaskSkipped:
			counts.Skipped = n
		}
	}
	return counts, rows.Err()
}

// MaxFileIndex returns the highest file-path index allocated for a session's
// task notes files, derived from the count of tasks with a file path.
func (s *Store) MaxFileIndex(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE session_id = ? AND file_path != ''", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count task files: %w", err)
	}
	return n, nil
}

// SetTaskFilePath records the notes file path for a task.
func (s *Store) SetTaskFilePath(ctx context.Context, id int64, path string) error {
	return s.execTaskUpdate(ctx, "UPDATE tasks SET file_path = ? WHERE id = ?", path, id)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) execTaskUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		sectionID   sql.NullInt64
		parentID    sql.NullInt64
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.SessionID, &sectionID, &parentID, &t.Topic, &t.Description,
		&t.FilePath, &t.Status, &t.Priority, &t.Depth, &t.WordCount, &t.CitationCount,
		&t.IsGapFill, &t.RetryCount, &t.ErrorMessage, &createdAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if sectionID.Valid {
		t.SectionID = &sectionID.Int64
	}
	if parentID.Valid {
		t.ParentTaskID = &parentID.Int64
	}
	t.CreatedAt = time.Unix(0, createdAt)
	if completedAt.Valid {
		ts := time.Unix(0, completedAt.Int64)
		t.CompletedAt = &ts
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
