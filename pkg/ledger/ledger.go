// Package ledger is the citation-oriented view over the state store. Research
// records sources against tasks with presentation positions; synthesis and
// compilation read them back in citation order.
package ledger

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/store"
)

// GapFillOffset is the position base for sources discovered by per-task
// gap-fill queries. Keeping them at or above the offset sorts them after the
// initial block within the same task.
const GapFillOffset = 100

// Ledger wraps the store with citation numbering semantics.
type Ledger struct {
	store *store.Store
}

// New returns a ledger over the given store.
func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Entry is one source as a task cites it: the presentation position plus the
// best available text for downstream prompts.
type Entry struct {
	Source   models.Source
	Position int
	// Extracted is the per-(task, source) distilled text; empty when
	// extraction never ran or failed.
	Extracted string
}

/// Text returns the best content for prompting: the extraction when present,
// otherwise the raw scraped content, otherwise the search snippet. Missing
// extraction is not an error.
func (e Entry) Text() string {
	if e.Extracted != "" {
		return e.Extracted
	}
	if e.Source.Content != "" {
		return e.Source.Content
	}
	return e.Source.Snippet
}

// Record upserts a source by URL and attaches it to the task at the given
// position. The domain is derived from the URL when the caller left it empty.
func (l *Ledger) Record(ctx context.Context, taskID int64, src *models.Source, position int) (*models.Source, error) {
	if src.Domain == "" {
		src.Domain = DomainOf(src.URL)
	}
	out, err := l.store.AddSource(ctx, taskID, src, position)
	if err != nil {
		return nil, fmt.Errorf("failed to record source: %w", err)
	}
	return out, nil
}

// RecordGapFill attaches a gap-fill source at GapFillOffset plus the local
// index, so gap-fill citations number after the initial set.
func (l *Ledger) RecordGapFill(ctx context.Context, taskID int64, src *models.Source, index int) (*models.Source, error) {
	return l.Record(ctx, taskID, src, GapFillOffset+index)
}

// CacheExtraction stores the distilled text for one (task, source) pair.
func (l *Ledger) CacheExtraction(ctx context.Context, taskID, sourceID int64, text string) error {
	return l.store.SetExtractedContent(ctx, taskID, sourceID, text)
}

// ForTask returns a task's sources in presentation order: position ascending,
// then source id. The positions are what the task's notes cite as [N].
func (l *Ledger) ForTask(ctx context.Context, taskID int64) ([]Entry, error) {
	rows, err := l.store.SourcesForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{Source: r.Source, Position: r.Position, Extracted: r.ExtractedContent})
	}
	return entries, nil
}

// HasURL reports whether the task already cites the URL. Gap-fill queries use
// this to skip results already attached to the task.
func (l *Ledger) HasURL(ctx context.Context, taskID int64, rawURL string) (bool, error) {
	entries, err := l.ForTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Source.URL == rawURL {
			return true, nil
		}
	}
	return false, nil
}

// ForSection returns the distinct sources cited by a section's tasks,
// deduplicated by source id while preserving first-encounter order (tasks by
// id, positions ascending within each task). The compiler builds the global
// citation map from this ordering.
func (l *Ledger) ForSection(ctx context.Context, sectionID int64) ([]Entry, error) {
	tasks, err := l.store.TasksForSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return l.dedupeAcrossTasks(ctx, tasks)
}

// ForSession returns every distinct source a session cites in first-encounter
// order across all tasks.
func (l *Ledger) ForSession(ctx context.Context, sessionID int64) ([]Entry, error) {
	tasks, err := l.store.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return l.dedupeAcrossTasks(ctx, tasks)
}

func (l *Ledger) dedupeAcrossTasks(ctx context.Context, tasks []*models.Task) ([]Entry, error) {
	seen := make(map[int64]bool)
	var out []Entry
	for _, task := range tasks {
		entries, err := l.ForTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if seen[e.Source.ID] {
				continue
			}
			seen[e.Source.ID] = true
			out = append(out, e)
		}
	}
	return out, nil
}

// DomainOf extracts the registrable host from a URL, lowercased and without a
// www prefix. Unparseable URLs yield an empty domain.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
