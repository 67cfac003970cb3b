package store

import (
	"database/sql"
	"fmt"
)

// Schema creation statements. Timestamps are stored as unix nanoseconds so
// keyset comparisons are plain integer comparisons.
var createTables = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		refined_brief TEXT NOT NULL DEFAULT '',
		refinement_qa TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		phase TEXT NOT NULL DEFAULT 'idle',
		total_tasks INTEGER NOT NULL DEFAULT 0,
		completed_tasks INTEGER NOT NULL DEFAULT 0,
		total_words INTEGER NOT NULL DEFAULT 0,
		total_sources INTEGER NOT NULL DEFAULT 0,
		executive_summary TEXT NOT NULL DEFAULT '',
		conclusion TEXT NOT NULL DEFAULT '',
		markdown_path TEXT NOT NULL DEFAULT '',
		html_path TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS sections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'planned',
		synthesized_content TEXT NOT NULL DEFAULT '',
		word_count INTEGER NOT NULL DEFAULT 0,
		citation_count INTEGER NOT NULL DEFAULT 0,
		is_gap_fill INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		section_id INTEGER REFERENCES sections(id),
		parent_task_id INTEGER REFERENCES tasks(id),
		topic TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 0,
		depth INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		citation_count INTEGER NOT NULL DEFAULT 0,
		is_gap_fill INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		snippet TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		quality_score REAL NOT NULL DEFAULT 0,
		is_academic INTEGER NOT NULL DEFAULT 0,
		accessed_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_sources (
		task_id INTEGER NOT NULL REFERENCES tasks(id),
		source_id INTEGER NOT NULL REFERENCES sources(id),
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (task_id, source_id)
	)`,
	`CREATE TABLE IF NOT EXISTS glossary_terms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		term TEXT NOT NULL,
		definition TEXT NOT NULL DEFAULT '',
		task_id INTEGER REFERENCES tasks(id)
	)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id),
		task_id INTEGER,
		event_type TEXT NOT NULL,
		query_group TEXT NOT NULL DEFAULT '',
		query_text TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		snippet TEXT NOT NULL DEFAULT '',
		quality_score REAL NOT NULL DEFAULT 0,
		phase TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_claim
		ON tasks (session_id, status, priority DESC, depth ASC, id ASC)`,
	`CREATE INDEX IF NOT EXISTS idx_sections_session ON sections (session_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_task_sources_task ON task_sources (task_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_events_keyset ON run_events (session_id, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_glossary_session ON glossary_terms (session_id)`,
}

// columnAddition is a forward-only schema change: a column added to an
// existing table. Additions are applied idempotently by inspecting the
// table's current columns. Columns are never dropped or renamed.
type columnAddition struct {
	table      string
	column     string
	definition string
}

var columnAdditions = []columnAddition{
	{"sessions", "cancel_requested_at", "INTEGER"},
	{"tasks", "retry_count", "INTEGER NOT NULL DEFAULT 0"},
	{"task_sources", "extracted_content", "TEXT NOT NULL DEFAULT ''"},
}

// migrate creates missing tables and applies forward-only column additions.
// Safe to run any number of times.
func (s *Store) migrate() error {
	for _, stmt := range createTables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create statement failed: %w", err)
		}
	}

	for _, add := range columnAdditions {
		has, err := tableHasColumn(s.db, add.table, add.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", add.table, add.column, add.definition)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add column %s.%s: %w", add.table, add.column, err)
		}
	}
	return nil
}

func tableHasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
