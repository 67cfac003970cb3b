package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tome.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store) *models.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), "test query", "", "")
	require.NoError(t, err)
	return sess
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tome.db")

	s1, err := Open(path)
	require.NoError(t, err)
	sess := newTestSession(t, s1)
	require.NoError(t, s1.Close())

	// Reopening migrates again; existing data survives.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "test query", got.Query)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalizeSessionSetsTerminalOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	require.NoError(t, s.FinalizeSession(ctx, sess.ID, models.StatusCancelled))

	// A second finalize must not overwrite the terminal status.
	require.NoError(t, s.FinalizeSession(ctx, sess.ID, models.StatusCompleted))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	require.NotNil(t, got.EndedAt)

	// Finalizing a missing session reports not found.
	assert.ErrorIs(t, s.FinalizeSession(ctx, 9999, models.StatusCompleted), ErrNotFound)
}

func TestMarkCancelRequestedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	first := time.Now()
	require.NoError(t, s.MarkCancelRequested(ctx, sess.ID, first))
	require.NoError(t, s.MarkCancelRequested(ctx, sess.ID, first.Add(time.Hour)))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CancelRequestedAt)
	assert.Equal(t, first.UnixNano(), got.CancelRequestedAt.UnixNano())
}

func TestLatestSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestSession(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	newTestSession(t, s)
	second := newTestSession(t, s)

	got, err := s.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestClaimNextOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	mk := func(topic string, priority, depth int) *models.Task {
		task, err := s.CreateTask(ctx, &models.Task{
			SessionID: sess.ID, Topic: topic, Priority: priority, Depth: depth,
		})
		require.NoError(t, err)
		return task
	}

	low := mk("low priority", 0, 0)
	deep := mk("high priority deep", 5, 2)
	shallow := mk("high priority shallow", 5, 0)

	claimed, err := s.ClaimNext(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	// Priority descending, then depth ascending.
	assert.Equal(t, shallow.ID, claimed[0].ID)
	assert.Equal(t, deep.ID, claimed[1].ID)
	assert.Equal(t, models.TaskInProgress, claimed[0].Status)

	rest, err := s.ClaimNext(ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, low.ID, rest[0].ID)

	none, err := s.ClaimNext(ctx, sess.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClaimNextConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	const total = 20
	for i := 0; i < total; i++ {
		_, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "t"})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tasks, err := s.ClaimNext(ctx, sess.ID, 3)
				if err != nil || len(tasks) == 0 {
					return
				}
				mu.Lock()
				for _, task := range tasks {
					claimed[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every task claimed exactly once.
	require.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "task %d claimed %d times", id, n)
	}
}

func TestFailAndRetrySweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	task, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "flaky"})
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, sess.ID, 1)
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, task.ID, "fetch timed out"))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "fetch timed out", got.ErrorMessage)

	// Within the retry budget the sweep resets it to pending.
	n, err := s.RetryFailed(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	// Burn through the budget: after max_retries+1 failures the sweep skips it.
	for i := 0; i < 2; i++ {
		_, err = s.ClaimNext(ctx, sess.ID, 1)
		require.NoError(t, err)
		require.NoError(t, s.FailTask(ctx, task.ID, "still failing"))
		_, err = s.RetryFailed(ctx, sess.ID, 2)
		require.NoError(t, err)
	}
	_, err = s.ClaimNext(ctx, sess.ID, 1)
	require.NoError(t, err)
	require.NoError(t, s.FailTask(ctx, task.ID, "still failing"))

	n, err = s.RetryFailed(ctx, sess.ID, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Equal(t, 4, got.RetryCount)
}

func TestResetInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	for i := 0; i < 3; i++ {
		_, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "t"})
		require.NoError(t, err)
	}
	claimed, err := s.ClaimNext(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	n, err := s.ResetInProgress(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := s.CountTasks(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Pending)
	assert.Zero(t, counts.InProgress)
}

func TestAddSourceUpsertsByURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	t1, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "a"})
	require.NoError(t, err)
	t2, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "b"})
	require.NoError(t, err)

	src := &models.Source{URL: "https://example.org/paper", Title: "Paper", Domain: "example.org"}
	first, err := s.AddSource(ctx, t1.ID, src, 1)
	require.NoError(t, err)

	// Same URL from a second task only adds an edge.
	again, err := s.AddSource(ctx, t2.ID, &models.Source{URL: src.URL, Title: "Other title"}, 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Paper", again.Title)

	n, err := s.CountSessionSources(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Duplicate (task, source) link keeps the first position.
	_, err = s.AddSource(ctx, t1.ID, src, 7)
	require.NoError(t, err)
	rows, err := s.SourcesForTask(ctx, t1.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Position)
}

func TestSourcesForTaskOrderedByPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)
	task, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "a"})
	require.NoError(t, err)

	// Gap-fill sources carry offset positions and sort after the originals.
	_, err = s.AddSource(ctx, task.ID, &models.Source{URL: "https://a.example/1"}, 2)
	require.NoError(t, err)
	_, err = s.AddSource(ctx, task.ID, &models.Source{URL: "https://a.example/gap"}, 100)
	require.NoError(t, err)
	_, err = s.AddSource(ctx, task.ID, &models.Source{URL: "https://a.example/0"}, 1)
	require.NoError(t, err)

	rows, err := s.SourcesForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{1, 2, 100}, []int{rows[0].Position, rows[1].Position, rows[2].Position})
}

func TestExtractedContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)
	task, err := s.CreateTask(ctx, &models.Task{SessionID: sess.ID, Topic: "a"})
	require.NoError(t, err)

	src, err := s.AddSource(ctx, task.ID, &models.Source{URL: "https://a.example/x"}, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetExtractedContent(ctx, task.ID, src.ID, "relevant passage"))

	rows, err := s.SourcesForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "relevant passage", rows[0].ExtractedContent)
}

func TestGlossaryDedupeCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	ins, err := s.AddGlossaryTerm(ctx, &models.GlossaryTerm{SessionID: sess.ID, Term: "RAG", Definition: "retrieval-augmented generation"})
	require.NoError(t, err)
	assert.True(t, ins)

	ins, err = s.AddGlossaryTerm(ctx, &models.GlossaryTerm{SessionID: sess.ID, Term: "rag", Definition: "duplicate"})
	require.NoError(t, err)
	assert.False(t, ins)

	terms, err := s.ListGlossaryTerms(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "RAG", terms[0].Term)
}

func TestSectionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	sec, err := s.CreateSection(ctx, &models.Section{SessionID: sess.ID, Title: "Background", Position: 1})
	require.NoError(t, err)
	assert.Equal(t, models.SectionPlanned, sec.Status)

	require.NoError(t, s.SetSectionStatus(ctx, sec.ID, models.SectionSynthesizing))
	require.NoError(t, s.SetSectionContent(ctx, sec.ID, "Prose with citations [1].", 4, 1))

	got, err := s.GetSection(ctx, sec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SectionComplete, got.Status)
	assert.Equal(t, 4, got.WordCount)

	pos, err := s.MaxSectionPosition(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}
