package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/service"
	"github.com/tomeworks/tome/pkg/store"
)

type scriptedLLM struct {
	rules []struct{ match, content string }
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

func (scriptedSearch) Search(_ context.Context, _ string, _ int) ([]search.Result, error) {
	return []search.Result{{URL: "https://example.org/doc", Title: "Doc", Snippet: "s", Score: 0.9}}, nil
}

type scriptedFetcher struct{}

func (scriptedFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	prose := strings.Repeat("A finding stated plainly with figures and supporting qualification. ", 20)
	return &scrape.Page{URL: url, Title: "Doc", Content: prose}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	cfg.Research.PrePlanningQueries = 0
	cfg.Research.MinInitialTasks = 1
	cfg.Research.TasksPerSection = 1
	cfg.Research.QueriesPerTask = 1
	cfg.Research.GapFillQueries = 0
	cfg.Research.MaxRuntimeHours = 1
	cfg.Search.MinTavilyScore = 0
	cfg.Quality.MinSourceQuality = 0
	cfg.GapAnalysis.Enabled = false

	client := &scriptedLLM{rules: []struct{ match, content string }{
		{"Design the outline", `{"sections": [{"title": "Findings", "description": "d"}]}`},
		{"Plan research tasks", `{"tasks": [{"topic": "one question", "description": "d"}]}`},
		{"short web search queries (3-8 words each) to research", "one question evidence\n"},
		{"Extract the passages", "Extracted facts."},
		{"Write polished research notes", "Notes [1]."},
		{`Write the section "`, "Findings prose [1]."},
		{"Write an executive summary", "Summary."},
		{"Write the conclusion", "Conclusion."},
	}}

	pb, err := prompts.NewBuilder(prompts.DefaultSet())
	require.NoError(t, err)

	svc := service.New(cfg, st, client, scriptedSearch{}, scriptedFetcher{}, pb)
	return NewServer(svc, "127.0.0.1", 0)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusBeforeAnyRun(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/research/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_started", body["status"])
}

func TestStartStatusResultFlow(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/research/start",
		`{"query": "What is AI safety?", "blocking": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "started", body["status"])
	runID := int64(body["run_id"].(float64))
	require.NotZero(t, runID)

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/research/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	progress := body["progress"].(map[string]any)
	assert.Equal(t, 100.0, progress["pct"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/v1/research/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	artifacts := body["artifacts"].(map[string]any)
	assert.NotEmpty(t, artifacts["markdown_path"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "Summary.", summary["executive_summary"])

	rec, body = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/v1/research/events?session_id=%d&limit=5", runID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["events"].([]any), 5)
	assert.NotEmpty(t, body["next_cursor"])
}

func TestStartRejectsMissingQuery(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/research/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelWithoutRun(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/research/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_running", body["status"])
}

func TestEventsRejectsBadParams(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/research/events?session_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/research/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresets(t *testing.T) {
	srv := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/presets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["presets"])
}

func TestResultForUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/research/result?session_id=999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
