package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomeworks/tome/pkg/models"
)

const sectionColumns = `id, session_id, title, description, position, status,
	synthesized_content, word_count, citation_count, is_gap_fill, created_at, updated_at`

// CreateSection inserts a planned section at the given position.
func (s *Store) CreateSection(ctx context.Context, sec *models.Section) (*models.Section, error) {
	if sec.Status == "" {
		sec.Status = models.SectionPlanned
	}
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sections (session_id, title, description, position, status, is_gap_fill, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sec.SessionID, sec.Title, sec.Description, sec.Position, sec.Status,
		boolToInt(sec.IsGapFill), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create section: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read section id: %w", err)
	}
	return s.GetSection(ctx, id)
}

// GetSection retrieves a section by id.
func (s *Store) GetSection(ctx context.Context, id int64) (*models.Section, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sectionColumns+" FROM sections WHERE id = ?", id)
	return scanSection(row)
}

// ListSections returns a session's sections in report order.
func (s *Store) ListSections(ctx context.Context, sessionID int64) ([]*models.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sectionColumns+" FROM sections WHERE session_id = ? ORDER BY position ASC, id ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []*models.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// SetSectionStatus updates a section's lifecycle status.
func (s *Store) SetSectionStatus(ctx context.Context, id int64, status models.SectionStatus) error {
	return s.execSectionUpdate(ctx,
		"UPDATE sections SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UnixNano(), id)
}

// SetSectionContent persists synthesized prose for a section and marks it
// complete.
func (s *Store) SetSectionContent(ctx context.Context, id int64, content string, wordCount, citationCount int) error {
	return s.execSectionUpdate(ctx,
		`UPDATE sections SET synthesized_content = ?, word_count = ?, citation_count = ?,
			status = ?, updated_at = ?
		 WHERE id = ?`,
		content, wordCount, citationCount, models.SectionComplete, time.Now().UnixNano(), id)
}

// MaxSectionPosition returns the highest position in use for a session, or 0
// when the session has no sections. Gap-fill sections append after it.
func (s *Store) MaxSectionPosition(ctx context.Context, sessionID int64) (int, error) {
	var pos sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(position) FROM sections WHERE session_id = ?", sessionID).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to read max section position: %w", err)
	}
	return int(pos.Int64), nil
}

func (s *Store) execSectionUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update section: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSection(row rowScanner) (*models.Section, error) {
	var (
		sec       models.Section
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&sec.ID, &sec.SessionID, &sec.Title, &sec.Description, &sec.Position, &sec.Status,
		&sec.SynthesizedContent, &sec.WordCount, &sec.CitationCount, &sec.IsGapFill,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan section: %w", err)
	}
	sec.CreatedAt = time.Unix(0, createdAt)
	sec.UpdatedAt = time.Unix(0, updatedAt)
	return &sec, nil
}
