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

const sourceColumns = `id, url, title, domain, snippet, content,
	quality_score, is_academic, accessed_at`

// AddSource upserts a source by URL and links it to the task at the given
// presentation position. If a source row for the URL already exists, only the
// (task, source, position) edge is inserted; the existing row is untouched
// apart from its title and snippet, which are refreshed when previously empty.
// Linking the same (task, source) pair twice keeps the first position.
func (s *Store) AddSource(ctx context.Context, taskID int64, src *models.Source, position int) (*models.Source, error) {
	var out *models.Source
	err := s.inTx(func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+sourceColumns+" FROM sources WHERE url = ?", src.URL)
		existing, err := scanSource(row)
		switch {
		case err == nil:
			if existing.Title == "" && src.Title != "" {
				if _, err := tx.ExecContext(ctx,
					"UPDATE sources SET title = ?, snippet = ? WHERE id = ?",
					src.Title, src.Snippet, existing.ID); err != nil {
					return fmt.Errorf("failed to refresh source: %w", err)
				}
				existing.Title = src.Title
				existing.Snippet = src.Snippet
			}
			out = existing
		case errors.Is(err, ErrNotFound):
			res, err := tx.ExecContext(ctx,
				`INSERT INTO sources (url, title, domain, snippet, content, quality_score, is_academic, accessed_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				src.URL, src.Title, src.Domain, src.Snippet, src.Content,
				src.QualityScore, boolToInt(src.IsAcademic), time.Now().UnixNano())
			if err != nil {
				return fmt.Errorf("failed to insert source: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read source id: %w", err)
			}
			inserted := *src
			inserted.ID = id
			inserted.AccessedAt = time.Now()
			out = &inserted
		default:
			return err
		}

		// First link wins; a duplicate (task, source) pair is ignored.
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO task_sources (task_id, source_id, position) VALUES (?, ?, ?)",
			taskID, out.ID, position); err != nil {
			return fmt.Errorf("failed to link source to task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSourceByURL retrieves a source by its URL.
func (s *Store) GetSourceByURL(ctx context.Context, url string) (*models.Source, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sourceColumns+" FROM sources WHERE url = ?", url)
	return scanSource(row)
}

// SetSourceContent persists the scraped body text of a source.
func (s *Store) SetSourceContent(ctx context.Context, id int64, content string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE sources SET content = ? WHERE id = ?", content, id)
	if err != nil {
		return fmt.Errorf("failed to set source content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExtractedContent stores the per-task extraction for a linked source,
// so a restarted task can reuse it without re-scraping.
func (s *Store) SetExtractedContent(ctx context.Context, taskID, sourceID int64, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE task_sources SET extracted_content = ? WHERE task_id = ? AND source_id = ?",
		content, taskID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to set extracted content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskSourceRow is a source joined with its per-task link.
type TaskSourceRow struct {
	Source           models.Source
	Position         int
	ExtractedContent string
}

// SourcesForTask returns a task's sources ordered by presentation position.
func (s *Store) SourcesForTask(ctx context.Context, taskID int64) ([]TaskSourceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.url, s.title, s.domain, s.snippet, s.content,
			s.quality_score, s.is_academic, s.accessed_at,
			ts.position, ts.extracted_content
		 FROM task_sources ts
		 JOIN sources s ON s.id = ts.source_id
		 WHERE ts.task_id = ?
		 ORDER BY ts.position ASC, s.id ASC`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task sources: %w", err)
	}
	defer rows.Close()

	var out []TaskSourceRow
	for rows.Next() {
		var (
			r          TaskSourceRow
			accessedAt int64
		)
		err := rows.Scan(
			&r.Source.ID, &r.Source.URL, &r.Source.Title, &r.Source.Domain,
			&r.Source.Snippet, &r.Source.Content, &r.Source.QualityScore,
			&r.Source.IsAcademic, &accessedAt, &r.Position, &r.ExtractedContent,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task source: %w", err)
		}
		r.Source.AccessedAt = time.Unix(0, accessedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SourcesForSession returns every source cited by a session's tasks, ordered
// by first citation (lowest task id, then position).
func (s *Store) SourcesForSession(ctx context.Context, sessionID int64) ([]*models.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.url, s.title, s.domain, s.snippet, s.content,
			s.quality_score, s.is_academic, s.accessed_at
		 FROM sources s
		 WHERE s.id IN (
			SELECT ts.source_id FROM task_sources ts
			JOIN tasks t ON t.id = ts.task_id
			WHERE t.session_id = ?
		 )
		 ORDER BY (
			SELECT MIN(ts2.task_id * 1000 + ts2.position) FROM task_sources ts2
			JOIN tasks t2 ON t2.id = ts2.task_id
			WHERE ts2.source_id = s.id AND t2.session_id = ?
		 ) ASC`,
		sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session sources: %w", err)
	}
	defer rows.Close()

	var out []*models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// CountSessionSources returns the number of distinct sources a session cites.
func (s *Store) CountSessionSources(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ts.source_id) FROM task_sources ts
		 JOIN tasks t ON t.id = ts.task_id
		 WHERE t.session_id = ?`,
		sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count session sources: %w", err)
	}
	return n, nil
}

// AddGlossaryTerm inserts a term unless the session already defines it under
// case-insensitive comparison. Returns true when the term was inserted.
func (s *Store) AddGlossaryTerm(ctx context.Context, term *models.GlossaryTerm) (bool, error) {
	var inserted bool
	err := s.inTx(func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM glossary_terms WHERE session_id = ? AND LOWER(term) = ?",
			term.SessionID, strings.ToLower(term.Term)).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to check glossary term: %w", err)
		}
		if n > 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO glossary_terms (session_id, term, definition, task_id) VALUES (?, ?, ?, ?)",
			term.SessionID, term.Term, term.Definition, term.TaskID)
		if err != nil {
			return fmt.Errorf("failed to insert glossary term: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		term.ID = id
		inserted = true
		return nil
	})
	return inserted, err
}

// ListGlossaryTerms returns a session's glossary terms sorted alphabetically,
// case-insensitive.
func (s *Store) ListGlossaryTerms(ctx context.Context, sessionID int64) ([]*models.GlossaryTerm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, term, definition, task_id FROM glossary_terms
		 WHERE session_id = ? ORDER BY LOWER(term) ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query glossary terms: %w", err)
	}
	defer rows.Close()

	var out []*models.GlossaryTerm
	for rows.Next() {
		var (
			g      models.GlossaryTerm
			taskID sql.NullInt64
		)
		if err := rows.Scan(&g.ID, &g.SessionID, &g.Term, &g.Definition, &taskID); err != nil {
			return nil, fmt.Errorf("failed to scan glossary term: %w", err)
		}
		if taskID.Valid {
			g.TaskID = &taskID.Int64
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func scanSource(row rowScanner) (*models.Source, error) {
	var (
		src        models.Source
		accessedAt int64
	)
	err := row.Scan(
		&src.ID, &src.URL, &src.Title, &src.Domain, &src.Snippet, &src.Content,
		&src.QualityScore, &src.IsAcademic, &accessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	src.AccessedAt = time.Unix(0, accessedAt)
	return &src, nil
}
