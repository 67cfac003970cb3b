package research

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/ledger"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/store"
)

// scriptedLLM answers by matching a substring of the last message.
type scriptedLLM struct {
	rules []llmRule
}

type llmRule struct {
	match string
	resp  llm.Response
	err   error
}

func (s *scriptedLLM) on(match string, resp llm.Response) *scriptedLLM {
	s.rules = append(s.rules, llmRule{match: match, resp: resp})
	return s
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1].Content
	for _, r := range s.rules {
		if strings.Contains(last, r.match) {
			if r.err != nil {
				return nil, r.err
			}
			resp := r.resp
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("no scripted response for message: %.80s", last)
}

// scriptedSearch returns canned hits per query substring.
type scriptedSearch struct {
	hits map[string][]search.Result
}

func (s *scriptedSearch) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	for k, v := range s.hits {
		if strings.Contains(query, k) {
			return v, nil
		}
	}
	return nil, nil
}

// scriptedFetcher serves pages from a map; missing URLs fail.
type scriptedFetcher struct {
	pages map[string]string
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return &scrape.Page{URL: url, Title: "Page " + url, Content: body}, nil
}

func toolCallResponse(queries ...string) llm.Response {
	args, _ := json.Marshal(map[string][]string{"queries": queries})
	return llm.Response{ToolCalls: []llm.ToolCall{{Name: "generate_queries", Arguments: args}}}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Research.QueriesPerTask = 2
	cfg.Research.ResultsPerQuery = 2
	cfg.Research.GapFillQueries = 0
	cfg.Search.MinTavilyScore = 0.3
	cfg.Quality.MinSourceQuality = 0 // accept everything scrapeable
	return cfg
}

func newStageFixture(t *testing.T, cfg *config.Config, client llm.Client,
	provider search.Provider, fetcher scrape.Fetcher) (*Stage, *store.Store, *models.Task) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess, err := st.CreateSession(context.Background(), "q", "", "")
	require.NoError(t, err)
	task, err := st.CreateTask(context.Background(), &models.Task{
		SessionID: sess.ID, Topic: "vector databases", Description: "index structures and tradeoffs",
	})
	require.NoError(t, err)

	pb, err := prompts.NewBuilder(prompts.DefaultSet())
	require.NoError(t, err)

	stage := NewStage(cfg, client, provider, fetcher, st, ledger.New(st), pb)
	return stage, st, task
}

const longProse = `Vector databases organize embeddings into approximate nearest neighbor indexes.
The main families are graph-based structures and quantization approaches, each with different tradeoffs.
Graph methods give strong recall at higher memory cost, while quantization compresses vectors aggressively.
Operational concerns include index build time, incremental updates, and filtering support during search.
Most production systems combine coarse quantization with a graph layer to balance cost against quality.`

func TestRunHappyPath(t *testing.T) {
	client := (&scriptedLLM{}).
		on("Generate 2 short web search queries", toolCallResponse("vector db indexes", "hnsw tradeoffs")).
		on("Extract the passages", llm.Response{Content: "Extracted facts about indexes."}).
		on("Write polished research notes", llm.Response{
			Content: "Indexes use graphs [1] and quantization [2].\n\n```json\n{\"new_tasks\": [{\"topic\": \"product quantization\", \"description\": \"compression detail\"}], \"glossary_terms\": [{\"term\": \"HNSW\", \"definition\": \"hierarchical navigable small world graph\"}]}\n```",
		})

	provider := &scriptedSearch{hits: map[string][]search.Result{
		"vector db indexes": {
			{URL: "https://a.example/1", Title: "One", Score: 0.9},
			{URL: "https://a.example/2", Title: "Two", Score: 0.8},
		},
		"hnsw tradeoffs": {
			{URL: "https://a.example/2", Title: "Two again", Score: 0.8}, // dedupe
			{URL: "https://a.example/3", Title: "Three", Score: 0.7},
		},
	}}
	fetcher := &scriptedFetcher{pages: map[string]string{
		"https://a.example/1": longProse,
		"https://a.example/2": longProse,
		"https://a.example/3": longProse,
	}}

	stage, st, task := newStageFixture(t, testConfig(), client, provider, fetcher)
	outcome, err := stage.Run(context.Background(), task, "")
	require.NoError(t, err)

	assert.Contains(t, outcome.Notes, "graphs [1]")
	assert.NotContains(t, outcome.Notes, "new_tasks")
	assert.Equal(t, 2, outcome.CitationCount)
	assert.Equal(t, 3, outcome.SourceCount)
	require.Len(t, outcome.NewTasks, 1)
	assert.Equal(t, "product quantization", outcome.NewTasks[0].Topic)
	require.Len(t, outcome.GlossaryTerms, 1)

	// Sources persisted in position order with extraction cached.
	rows, err := st.SourcesForTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{rows[0].Position, rows[1].Position, rows[2].Position})
	assert.Equal(t, "Extracted facts about indexes.", rows[0].ExtractedContent)

	// Query and result events were recorded.
	page, err := st.EventsAfter(context.Background(), task.SessionID, "", 100)
	require.NoError(t, err)
	var queries, results int
	for _, ev := range page.Events {
		switch ev.Type {
		case models.EventQuery:
			queries++
		case models.EventResult:
			results++
		}
	}
	assert.Equal(t, 2, queries)
	assert.Equal(t, 3, results)
}

func TestRunZeroSourcesStripsPhantomCitations(t *testing.T) {
	client := (&scriptedLLM{}).
		on("Generate 2 short web search queries", toolCallResponse("q1", "q2")).
		on("No usable web sources were found", llm.Response{
			Content: "From prior knowledge, indexes matter [1] a great deal.",
		})

	stage, _, task := newStageFixture(t, testConfig(), client,
		&scriptedSearch{}, &scriptedFetcher{})

	outcome, err := stage.Run(context.Background(), task, "")
	require.NoError(t, err)
	assert.NotContains(t, outcome.Notes, "[1]")
	assert.Zero(t, outcome.CitationCount)
	assert.Zero(t, outcome.SourceCount)
}

func TestRunQueryGenerationFallsBackToJSONMode(t *testing.T) {
	calls := 0
	client := &fallbackLLM{inner: (&scriptedLLM{}).
		on("Generate 2 short web search queries", llm.Response{Content: `{"queries": ["json mode query"]}`}).
		on("No usable web sources", llm.Response{Content: "notes"}),
		failToolCalls: true, toolCallCount: &calls}

	stage, _, task := newStageFixture(t, testConfig(), client,
		&scriptedSearch{}, &scriptedFetcher{})

	_, err := stage.Run(context.Background(), task, "")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// fallbackLLM fails tool-call requests so the JSON-mode path is exercised.
type fallbackLLM struct {
	inner         llm.Client
	failToolCalls bool
	toolCallCount *int
}

func (f *fallbackLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if f.failToolCalls && len(req.Tools) > 0 {
		*f.toolCallCount++
		return nil, fmt.Errorf("tools unsupported")
	}
	return f.inner.Complete(ctx, req)
}

func TestRunGapFillAddsOffsetPositions(t *testing.T) {
	cfg := testConfig()
	cfg.Research.GapFillQueries = 2

	client := (&scriptedLLM{}).
		on("Generate 2 short web search queries", toolCallResponse("initial query")).
		on("Extract the passages", llm.Response{Content: "extract"}).
		on("Judge whether coverage is sufficient", llm.Response{
			Content: `{"sufficient": false, "queries": ["gap query"]}`,
		}).
		on("Write polished research notes", llm.Response{Content: "notes [1]"})

	provider := &scriptedSearch{hits: map[string][]search.Result{
		"initial query": {{URL: "https://a.example/1", Score: 0.9}},
		"gap query": {
			{URL: "https://a.example/1", Score: 0.9}, // already attached, skipped
			{URL: "https://a.example/gap", Score: 0.9},
		},
	}}
	fetcher := &scriptedFetcher{pages: map[string]string{
		"https://a.example/1":   longProse,
		"https://a.example/gap": longProse,
	}}

	stage, st, task := newStageFixture(t, cfg, client, provider, fetcher)
	outcome, err := stage.Run(context.Background(), task, "")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.SourceCount)

	rows, err := st.SourcesForTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Position)
	assert.Equal(t, ledger.GapFillOffset, rows[1].Position)
	assert.Equal(t, "https://a.example/gap", rows[1].Source.URL)
}

func TestRunRejectsLowProviderScore(t *testing.T) {
	cfg := testConfig()
	cfg.Search.MinTavilyScore = 0.5

	client := (&scriptedLLM{}).
		on("Generate 2 short web search queries", toolCallResponse("only query")).
		on("No usable web sources", llm.Response{Content: "notes"})

	provider := &scriptedSearch{hits: map[string][]search.Result{
		"only query": {{URL: "https://a.example/low", Score: 0.2}},
	}}

	stage, _, task := newStageFixture(t, cfg, client, provider, &scriptedFetcher{})
	outcome, err := stage.Run(context.Background(), task, "")
	require.NoError(t, err)
	assert.Zero(t, outcome.SourceCount)
}

func TestTopUpQueries(t *testing.T) {
	got := topUpQueries([]string{"existing"}, "topic", "a long description of the subject under study", 3)
	require.Len(t, got, 3)
	assert.Equal(t, "existing", got[0])
	assert.Equal(t, "topic", got[1])
	assert.Equal(t, "topic overview", got[2])
}
