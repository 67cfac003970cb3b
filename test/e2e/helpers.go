// Package e2e exercises the full pipeline through the service facade with
// scripted model, search, and scrape collaborators. Each scenario runs against
// a fresh on-disk store in a temp directory.
package e2e

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/queue"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/service"
	"github.com/tomeworks/tome/pkg/store"
)

// Rule maps a prompt fragment to a canned completion. Rules are evaluated in
// order; Err simulates a model failure and Hook (when set) runs before the
// response is returned, letting scenarios block or count calls.
type Rule struct {
	Match   string
	Content string
	Err     error
	Hook    func()
}

// ScriptedLLM replays canned completions.
type ScriptedLLM struct {
	rules []Rule
}

func NewScriptedLLM(rules ...Rule) *ScriptedLLM {
	return &ScriptedLLM{rules: rules}
}

func (s *ScriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1].Content
	for _, r := range s.rules {
		if !strings.Contains(last, r.Match) {
			continue
		}
		if r.Hook != nil {
			r.Hook()
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return &llm.Response{Content: r.Content}, nil
	}
	return nil, fmt.Errorf("no scripted response for: %.120s", last)
}

// ScriptedSearch derives per-query URLs so distinct topics yield distinct
// sources.
type ScriptedSearch struct {
	PerQuery int
}

func (s ScriptedSearch) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	n := s.PerQuery
	if n <= 0 {
		n = 2
	}
	slug := queue.SanitizeTopic(query)
	results := make([]search.Result, 0, n)
	for i := 1; i <= n; i++ {
		results = append(results, search.Result{
			URL:     fmt.Sprintf("https://example.org/%s/%d", slug, i),
			Title:   fmt.Sprintf("Result %d for %s", i, query),
			Snippet: "snippet text",
			Score:   0.9,
		})
	}
	return results, nil
}

// ScriptedFetcher returns substantial canned prose for every URL.
type ScriptedFetcher struct{}

func (ScriptedFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	prose := strings.Repeat("The report documents specific figures and dates across multiple independent cohorts. ", 20)
	return &scrape.Page{URL: url, Title: "Fetched: " + url, Content: prose}, nil
}

// App bundles one scenario's wiring.
type App struct {
	Cfg     *config.Config
	Store   *store.Store
	Service *service.Service
}

// NewApp builds a scenario app around the given model script.
func NewApp(t *testing.T, client llm.Client, mutate func(*config.Config)) *App {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()
	cfg.Research.PrePlanningQueries = 0
	cfg.Research.MinInitialTasks = 2
	cfg.Research.TasksPerSection = 2
	cfg.Research.MaxTotalTasks = 12
	cfg.Research.MaxConcurrentTasks = 1
	cfg.Research.QueriesPerTask = 1
	cfg.Research.ResultsPerQuery = 2
	cfg.Research.GapFillQueries = 0
	cfg.Research.MaxRetries = 2
	cfg.Research.MaxConsecutiveFailures = 3
	cfg.Research.MaxLoops = 10000
	cfg.Research.MaxRuntimeHours = 1
	cfg.Research.MaxTaskDepth = 1
	cfg.Search.MinTavilyScore = 0
	cfg.Quality.MinSourceQuality = 0
	cfg.GapAnalysis.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	pb, err := prompts.NewBuilder(prompts.DefaultSet())
	require.NoError(t, err)

	svc := service.New(cfg, st, client, ScriptedSearch{PerQuery: cfg.Research.ResultsPerQuery},
		ScriptedFetcher{}, pb)
	return &App{Cfg: cfg, Store: st, Service: svc}
}

// PlannerRules scripts planning for the standard two-section scenario:
// Background and Core Analysis, two tasks each.
func PlannerRules() []Rule {
	return []Rule{
		{Match: "Design the outline", Content: `{"sections": [
			{"title": "Background", "description": "history and framing"},
			{"title": "Core Analysis", "description": "the substantive findings"}]}`},
		{Match: "Section: Background", Content: `{"tasks": [
			{"topic": "background origins", "description": "how it began"},
			{"topic": "background definitions", "description": "key terms"}]}`},
		{Match: "Section: Core Analysis", Content: `{"tasks": [
			{"topic": "analysis evidence", "description": "what the data shows"},
			{"topic": "analysis debates", "description": "where experts disagree"}]}`},
	}
}

// ResearchRules scripts the per-task pipeline: query generation echoes the
// topic so search produces topic-specific URLs, and notes cite both sources.
func ResearchRules() []Rule {
	return []Rule{
		{Match: "Topic: background origins", Content: "background origins history\n"},
		{Match: "Topic: background definitions", Content: "background definitions glossary\n"},
		{Match: "Topic: analysis evidence", Content: "analysis evidence data\n"},
		{Match: "Topic: analysis debates", Content: "analysis debates experts\n"},
		{Match: "Extract the passages", Content: "Extracted: the figures and dates that matter."},
		{Match: "Write polished research notes", Content: "A finding [1] and a counterpoint [2]."},
	}
}

// SynthesisRules scripts section prose and the framing pieces.
func SynthesisRules() []Rule {
	return []Rule{
		{Match: `Write the section "Background"`, Content: "Background prose citing [1] and [2]."},
		{Match: `Write the section "Core Analysis"`, Content: "Analysis prose citing [1] and [2]."},
		{Match: "Write an executive summary", Content: "Executive summary of the findings."},
		{Match: "Write the conclusion", Content: "Concluding synthesis."},
	}
}

func allRules(extra ...Rule) []Rule {
	rules := append([]Rule{}, extra...)
	rules = append(rules, PlannerRules()...)
	rules = append(rules, ResearchRules()...)
	rules = append(rules, SynthesisRules()...)
	return rules
}
