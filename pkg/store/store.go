// Package store is the durable state store for research runs. It owns every
// entity (sessions, sections, tasks, sources, glossary terms, run events) and
// is the only shared mutable resource in the system: all writers serialize
// through it, readers may run concurrently with the single writer (WAL).
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/tomeworks/tome/pkg/models"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")
)

// Store wraps the sqlite database. Multi-statement write transactions are
// serialized through writeMu; single-statement writes rely on sqlite's own
// locking plus busy_timeout.
type Store struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// Open opens (creating if needed) the database file at path and applies
// migrations. Running migrations on an already-migrated database is a no-op.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// busy_timeout and foreign_keys are per-connection; a single pooled
	// connection keeps the pragmas in force for every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		// NORMAL is safe under WAL and avoids an fsync per transaction.
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// Tasks left in_progress by a crashed process can never complete.
	res, err := db.Exec("UPDATE tasks SET status = ? WHERE status = ?",
		models.TaskPending, models.TaskInProgress)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to recover orphaned tasks: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("Recovered orphaned in-progress tasks", "count", n)
	}

	slog.Info("State store opened", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// inTx runs fn inside an immediate-mode transaction under the write lock.
// The transaction is rolled back if fn returns an error, so no rows are left
// half-transitioned.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
