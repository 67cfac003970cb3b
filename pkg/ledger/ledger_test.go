package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/store"
)

func newFixture(t *testing.T) (*Ledger, *store.Store, *models.Session) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sess, err := s.CreateSession(context.Background(), "q", "", "")
	require.NoError(t, err)
	return New(s), s, sess
}

func mkTask(t *testing.T, s *store.Store, sess *models.Session, sectionID *int64) *models.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), &models.Task{
		SessionID: sess.ID, SectionID: sectionID, Topic: "t",
	})
	require.NoError(t, err)
	return task
}

func TestEntryTextFallback(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{"extraction wins", Entry{Extracted: "distilled", Source: models.Source{Content: "raw", Snippet: "snip"}}, "distilled"},
		{"raw content next", Entry{Source: models.Source{Content: "raw", Snippet: "snip"}}, "raw"},
		{"snippet last", Entry{Source: models.Source{Snippet: "snip"}}, "snip"},
		{"nothing", Entry{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Text())
		})
	}
}

func TestRecordDerivesDomain(t *testing.T) {
	l, s, sess := newFixture(t)
	ctx := context.Background()
	task := mkTask(t, s, sess, nil)

	src, err := l.Record(ctx, task.ID, &models.Source{URL: "https://www.Example.ORG/paper?x=1"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "example.org", src.Domain)
}

func TestGapFillPositionsSortAfterInitialBlock(t *testing.T) {
	l, s, sess := newFixture(t)
	ctx := context.Background()
	task := mkTask(t, s, sess, nil)

	_, err := l.Record(ctx, task.ID, &models.Source{URL: "https://a.example/1"}, 1)
	require.NoError(t, err)
	_, err = l.Record(ctx, task.ID, &models.Source{URL: "https://a.example/2"}, 2)
	require.NoError(t, err)
	_, err = l.RecordGapFill(ctx, task.ID, &models.Source{URL: "https://a.example/gap"}, 0)
	require.NoError(t, err)

	entries, err := l.ForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "https://a.example/gap", entries[2].Source.URL)
	assert.Equal(t, GapFillOffset, entries[2].Position)
}

func TestHasURL(t *testing.T) {
	l, s, sess := newFixture(t)
	ctx := context.Background()
	task := mkTask(t, s, sess, nil)

	_, err := l.Record(ctx, task.ID, &models.Source{URL: "https://a.example/1"}, 1)
	require.NoError(t, err)

	has, err := l.HasURL(ctx, task.ID, "https://a.example/1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = l.HasURL(ctx, task.ID, "https://a.example/other")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestForSectionDedupesPreservingFirstEncounter(t *testing.T) {
	l, s, sess := newFixture(t)
	ctx := context.Background()

	sec, err := s.CreateSection(ctx, &models.Section{SessionID: sess.ID, Title: "A", Position: 1})
	require.NoError(t, err)

	t1 := mkTask(t, s, sess, &sec.ID)
	t2 := mkTask(t, s, sess, &sec.ID)

	// Task 1 cites shared then own; task 2 cites own then shared.
	_, err = l.Record(ctx, t1.ID, &models.Source{URL: "https://a.example/shared"}, 1)
	require.NoError(t, err)
	_, err = l.Record(ctx, t1.ID, &models.Source{URL: "https://a.example/one"}, 2)
	require.NoError(t, err)
	_, err = l.Record(ctx, t2.ID, &models.Source{URL: "https://a.example/two"}, 1)
	require.NoError(t, err)
	_, err = l.Record(ctx, t2.ID, &models.Source{URL: "https://a.example/shared"}, 2)
	require.NoError(t, err)

	entries, err := l.ForSection(ctx, sec.ID)
	require.NoError(t, err)

	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.Source.URL
	}
	// Shared appears once, at its first encounter (task 1 position 1).
	assert.Equal(t, []string{
		"https://a.example/shared",
		"https://a.example/one",
		"https://a.example/two",
	}, urls)
}

func TestForSessionCoversAllTasks(t *testing.T) {
	l, s, sess := newFixture(t)
	ctx := context.Background()

	t1 := mkTask(t, s, sess, nil)
	t2 := mkTask(t, s, sess, nil)

	_, err := l.Record(ctx, t1.ID, &models.Source{URL: "https://a.example/1"}, 1)
	require.NoError(t, err)
	_, err = l.Record(ctx, t2.ID, &models.Source{URL: "https://a.example/2"}, 1)
	require.NoError(t, err)

	entries, err := l.ForSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "arxiv.org", DomainOf("https://arxiv.org/abs/1234"))
	assert.Equal(t, "example.org", DomainOf("https://www.example.org/x"))
	assert.Equal(t, "", DomainOf("::bad::url"))
}
