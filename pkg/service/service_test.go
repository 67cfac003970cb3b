package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/store"
)

type rule struct {
	match   string
	content string
}

type scriptedLLM struct {
	rules []rule
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1].Content
	for _, r := range s.rules {
		if strings.Contains(last, r.match) {
			return &llm.Response{Content: r.content}, nil
		}
	}
	return nil, fmt.Errorf("no scripted response for: %.100s", last)
}

type scriptedSearch struct{}

func (scriptedSearch) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	return []search.Result{{URL: "https://example.org/doc", Title: "Doc", Snippet: "s", Score: 0.9}}, nil
}

type scriptedFetcher struct{}

func (scriptedFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	prose := strings.Repeat("A finding with numbers and careful qualification across several cohorts. ", 20)
	return &scrape.Page{URL: url, Title: "Doc", Content: prose}, nil
}

func fullRunRules() []rule {
	return []rule{
		{"Design the outline", `{"sections": [{"title": "Findings", "description": "the findings"}]}`},
		{"Plan research tasks", `{"tasks": [{"topic": "key question", "description": "d"}]}`},
		{"short web search queries (3-8 words each) to research", "key question evidence\n"},
		{"Extract the passages", "Extracted facts."},
		{"Write polished research notes", "Notes with a citation [1]."},
		{`Write the section "`, "Findings prose [1]."},
		{"Write an executive summary", "Summary."},
		{"Write the conclusion", "Conclusion."},
	}
}

func newService(t *testing.T, client llm.Client) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	cfg.Research.PrePlanningQueries = 0
	cfg.Research.MinInitialTasks = 1
	cfg.Research.TasksPerSection = 1
	cfg.Research.MaxTotalTasks = 5
	cfg.Research.QueriesPerTask = 1
	cfg.Research.GapFillQueries = 0
	cfg.Research.MaxRuntimeHours = 1
	cfg.Search.MinTavilyScore = 0
	cfg.Quality.MinSourceQuality = 0
	cfg.GapAnalysis.Enabled = false

	pb, err := prompts.NewBuilder(prompts.DefaultSet())
	require.NoError(t, err)

	return New(cfg, st, client, scriptedSearch{}, scriptedFetcher{}, pb), st
}

func TestStartRunBlockingCompletes(t *testing.T) {
	svc, st := newService(t, &scriptedLLM{rules: fullRunRules()})
	ctx := context.Background()

	resp, err := svc.StartRun(ctx, StartRequest{Query: "What is AI safety?", Blocking: true})
	require.NoError(t, err)
	assert.Equal(t, "started", resp.Status)
	require.NotZero(t, resp.RunID)

	sess, err := st.GetSession(ctx, resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sess.Status)

	status, err := svc.GetRunStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, status.RunID)
	assert.False(t, status.Running)
	assert.Equal(t, 100.0, status.Progress.Pct)
	assert.NotNil(t, status.Timing.EndedAt)

	result, err := svc.GetRunResult(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Artifacts.MarkdownPath)
	assert.Equal(t, "Summary.", result.Summary.ExecutiveSummary)
	require.Len(t, result.Summary.Sections, 1)
	assert.Equal(t, "Findings", result.Summary.Sections[0].Title)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://example.org/doc", result.Sources[0].URL)
}

func TestStartRunRejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	blocking := &scriptedLLM{}
	blockingClient := llmFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		<-release
		return blocking.Complete(ctx, req)
	})
	blocking.rules = fullRunRules()

	svc, _ := newService(t, blockingClient)
	ctx := context.Background()

	first, err := svc.StartRun(ctx, StartRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "started", first.Status)

	second, err := svc.StartRun(ctx, StartRequest{Query: "q2"})
	require.NoError(t, err)
	assert.Equal(t, "already_running", second.Status)
	assert.Equal(t, first.RunID, second.RunID)

	close(release)
	svc.Wait()
}

type llmFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

func (f llmFunc) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}

func TestCancelRunIsIdempotentOnState(t *testing.T) {
	release := make(chan struct{})
	var once atomic.Bool
	client := llmFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if once.CompareAndSwap(false, true) {
			<-release
		}
		return (&scriptedLLM{rules: fullRunRules()}).Complete(ctx, req)
	})

	svc, st := newService(t, client)
	ctx := context.Background()

	started, err := svc.StartRun(ctx, StartRequest{Query: "q"})
	require.NoError(t, err)

	resp, err := svc.CancelRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cancelling", resp.Status)
	assert.Equal(t, started.RunID, resp.RunID)

	// A second cancel does not move cancel_requested_at.
	first, err := st.GetSession(ctx, started.RunID)
	require.NoError(t, err)
	require.NotNil(t, first.CancelRequestedAt)

	time.Sleep(10 * time.Millisecond)
	_, err = svc.CancelRun(ctx)
	require.NoError(t, err)

	again, err := st.GetSession(ctx, started.RunID)
	require.NoError(t, err)
	assert.Equal(t, *first.CancelRequestedAt, *again.CancelRequestedAt)

	close(release)
	svc.Wait()

	final, err := st.GetSession(ctx, started.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)

	after, err := svc.CancelRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not_running", after.Status)
}

func TestResumeRequiresPendingTasks(t *testing.T) {
	svc, st := newService(t, &scriptedLLM{rules: fullRunRules()})
	ctx := context.Background()

	_, err := svc.StartRun(ctx, StartRequest{Query: "done run", Blocking: true})
	require.NoError(t, err)

	_, err = svc.StartRun(ctx, StartRequest{Resume: true, Blocking: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending tasks")

	// A session left with pending work resumes into researching.
	sess, err := st.CreateSession(ctx, "interrupted", "", "")
	require.NoError(t, err)
	sec, err := st.CreateSection(ctx, &models.Section{SessionID: sess.ID, Title: "Findings", Position: 1})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, &models.Task{SessionID: sess.ID, SectionID: &sec.ID, Topic: "pending work"})
	require.NoError(t, err)
	require.NoError(t, st.FinalizeSession(ctx, sess.ID, models.StatusPartial))

	resp, err := svc.StartRun(ctx, StartRequest{Resume: true, Blocking: true})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resp.RunID)

	resumed, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, resumed.Status)
}

func TestGetRunStatusNoSessions(t *testing.T) {
	svc, _ := newService(t, &scriptedLLM{})
	_, err := svc.GetRunStatus(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEventsPageRoundTrip(t *testing.T) {
	svc, st := newService(t, &scriptedLLM{rules: fullRunRules()})
	ctx := context.Background()

	resp, err := svc.StartRun(ctx, StartRequest{Query: "q", Blocking: true})
	require.NoError(t, err)

	page, err := svc.GetRunEventsPage(ctx, nil, "", 3)
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, page.SessionID)
	require.Len(t, page.Events, 3)
	require.True(t, page.HasMore)

	total, err := st.CountEvents(ctx, resp.RunID)
	require.NoError(t, err)

	seen := len(page.Events)
	for page.HasMore {
		page, err = svc.GetRunEventsPage(ctx, nil, page.NextCursor, 3)
		require.NoError(t, err)
		seen += len(page.Events)
	}
	assert.Equal(t, total, seen)
}

func TestListPresets(t *testing.T) {
	svc, _ := newService(t, &scriptedLLM{})
	presets := svc.ListPresets()
	assert.NotEmpty(t, presets)
}
