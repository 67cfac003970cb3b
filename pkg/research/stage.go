// Package research runs the per-task pipeline: query generation, web search,
// filter and scrape, per-source extraction, per-task gap fill, and note
// synthesis. One Run call turns a claimed task into polished notes plus
// proposed follow-up tasks and glossary terms.
package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/ledger"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/store"
)

// extractionPoolSize bounds per-source extraction concurrency within a task.
const extractionPoolSize = 4

// Stage wires the per-task pipeline's dependencies. Stateless across tasks;
// safe for concurrent Run calls from multiple workers.
type Stage struct {
	cfg     *config.Config
	llm     llm.Client
	search  search.Provider
	fetcher scrape.Fetcher
	store   *store.Store
	ledger  *ledger.Ledger
	block   *scrape.Blocklist
	prompts *prompts.Builder
	logger  *slog.Logger
}

// NewStage builds the research stage.
func NewStage(cfg *config.Config, client llm.Client, provider search.Provider,
	fetcher scrape.Fetcher, st *store.Store, led *ledger.Ledger, pb *prompts.Builder) *Stage {
	return &Stage{
		cfg:     cfg,
		llm:     client,
		search:  provider,
		fetcher: fetcher,
		store:   st,
		ledger:  led,
		block:   scrape.NewBlocklist(cfg.Quality),
		prompts: pb,
		logger:  slog.With("component", "research"),
	}
}

// Outcome is what one completed task produced.
type Outcome struct {
	Notes         string
	WordCount     int
	CitationCount int
	SourceCount   int
	NewTasks      []TaskSpec
	GlossaryTerms []TermSpec
}

// Run executes the full pipeline for one claimed task. otherSections is a
// one-line summary of the rest of the outline, fed to note synthesis so tasks
// stay in their lane. Any error propagates; the scheduler marks the task
// failed.
func (s *Stage) Run(ctx context.Context, task *models.Task, otherSections string) (*Outcome, error) {
	logger := s.logger.With("task_id", task.ID, "topic", task.Topic)

	queries, err := s.generateQueries(ctx, task.Topic, task.Description, s.cfg.Research.QueriesPerTask)
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}
	logger.Info("Generated search queries", "count", len(queries))

	groupID := uuid.NewString()
	resultsByQuery := s.searchAll(ctx, task, queries, groupID)

	accepted, err := s.filterAndScrape(ctx, task, queries, resultsByQuery, groupID, 1, nil)
	if err != nil {
		return nil, err
	}
	logger.Info("Accepted sources", "count", len(accepted))

	if err := s.extractAll(ctx, task, accepted); err != nil {
		return nil, err
	}

	if s.cfg.Research.GapFillQueries > 0 && len(accepted) > 0 {
		added, err := s.gapFill(ctx, task, accepted)
		if err != nil {
			logger.Warn("Per-task gap fill failed, continuing", "error", err)
		} else if added > 0 {
			logger.Info("Gap fill added sources", "count", added)
		}
	}

	outcome, err := s.synthesizeNotes(ctx, task, otherSections)
	if err != nil {
		return nil, fmt.Errorf("note synthesis failed: %w", err)
	}
	return outcome, nil
}

// searchAll runs every query in parallel and records query events. A failed
// query contributes no results but does not fail the task.
func (s *Stage) searchAll(ctx context.Context, task *models.Task, queries []string, groupID string) [][]search.Result {
	maxResults := 3 * s.cfg.Research.ResultsPerQuery

	results := make([][]search.Result, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		s.recordEvent(ctx, task, models.EventQuery, groupID, q, nil)

		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			hits, err := s.search.Search(ctx, q, maxResults)
			if err != nil {
				s.logger.Warn("Search query failed", "task_id", task.ID, "query", q, "error", err)
				return
			}
			results[i] = hits
		}(i, q)
	}
	wg.Wait()
	return results
}

// filterAndScrape walks each query's candidates in order and persists the
// ones that pass the blocklist, provider-score, and quality filters. Returns
// the accepted sources; positions start at startPosition. skipURLs excludes
// URLs already attached to the task (gap-fill path).
func (s *Stage) filterAndScrape(ctx context.Context, task *models.Task, queries []string,
	resultsByQuery [][]search.Result, groupID string, startPosition int, skipURLs map[string]bool) ([]*models.Source, error) {

	seen := map[string]bool{}
	for url := range skipURLs {
		seen[url] = true
	}

	var accepted []*models.Source
	position := startPosition

	for qi, candidates := range resultsByQuery {
		contributed := 0
		for _, cand := range candidates {
			if err := ctx.Err(); err != nil {
				return accepted, err
			}
			if contributed >= s.cfg.Research.ResultsPerQuery {
				break
			}
			if seen[cand.URL] {
				continue
			}
			seen[cand.URL] = true

			if blocked, reason := s.block.Blocked(cand.URL); blocked {
				s.logger.Debug("Rejected by blocklist", "url", cand.URL, "reason", reason)
				continue
			}
			if cand.Score < s.cfg.Search.MinTavilyScore {
				continue
			}

			page, err := s.fetcher.Fetch(ctx, cand.URL)
			if err != nil {
				s.logger.Debug("Scrape failed, skipping url", "url", cand.URL, "error", err)
				continue
			}

			academic := s.block.Academic(cand.URL)
			quality := scrape.ScoreQuality(page.Content, academic)
			if quality < s.cfg.Quality.MinSourceQuality {
				s.logger.Debug("Rejected by quality score", "url", cand.URL, "quality", quality)
				continue
			}

			title := page.Title
			if title == "" {
				title = cand.Title
			}
			src, err := s.ledger.Record(ctx, task.ID, &models.Source{
				URL:          cand.URL,
				Title:        title,
				Snippet:      cand.Snippet,
				Content:      page.Content,
				QualityScore: quality,
				IsAcademic:   academic,
			}, position)
			if err != nil {
				return accepted, err
			}
			if src.Content == "" && page.Content != "" {
				// URL raced in from another task without content.
				if err := s.store.SetSourceContent(ctx, src.ID, page.Content); err != nil {
					return accepted, err
				}
				src.Content = page.Content
			}

			var query string
			if qi < len(queries) {
				query = queries[qi]
			}
			s.recordEvent(ctx, task, models.EventResult, groupID, query, src)

			accepted = append(accepted, src)
			position++
			contributed++
		}
	}
	return accepted, nil
}

// extractAll runs LLM extraction over each accepted source, bounded to
// extractionPoolSize in flight, writing results to the TaskSource edge.
// A failed extraction leaves the edge empty; synthesis falls back to raw
// content.
func (s *Stage) extractAll(ctx context.Context, task *models.Task, sources []*models.Source) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionPoolSize)

	for _, src := range sources {
		g.Go(func() error {
			prompt, err := s.prompts.Render(prompts.PromptExtraction, map[string]any{
				"Topic":   task.Topic,
				"Title":   src.Title,
				"URL":     src.URL,
				"Content": truncateChars(src.Content, s.contextCharBudget()),
			})
			if err != nil {
				return err
			}
			resp, err := s.llm.Complete(gctx, llm.Request{
				Model:       s.cfg.LLM.Model,
				Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
				Temperature: s.cfg.LLM.Temperature,
			})
			if err != nil {
				s.logger.Warn("Extraction failed, will use raw content",
					"task_id", task.ID, "url", src.URL, "error", err)
				return nil
			}
			return s.ledger.CacheExtraction(gctx, task.ID, src.ID, resp.Content)
		})
	}
	return g.Wait()
}

// gapFill asks the model whether coverage is sufficient and, if not, runs the
// follow-up queries it proposes. New sources land at positions >= 100.
func (s *Stage) gapFill(ctx context.Context, task *models.Task, accepted []*models.Source) (int, error) {
	var list strings.Builder
	for i, src := range accepted {
		fmt.Fprintf(&list, "%d. %s (%s)\n", i+1, src.Title, src.URL)
	}

	prompt, err := s.prompts.Render(prompts.PromptTaskGapAnalysis, map[string]any{
		"Topic":      task.Topic,
		"SourceList": list.String(),
		"MaxQueries": s.cfg.Research.GapFillQueries,
	})
	if err != nil {
		return 0, err
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.cfg.LLM.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return 0, err
	}

	var verdict struct {
		Sufficient bool     `json:"sufficient"`
		Queries    []string `json:"queries"`
	}
	if err := ParseJSONObject(resp.Content, &verdict); err != nil {
		return 0, fmt.Errorf("gap analysis returned invalid JSON: %w", err)
	}
	if verdict.Sufficient || len(verdict.Queries) == 0 {
		return 0, nil
	}

	queries := cleanQueries(verdict.Queries, s.cfg.Research.GapFillQueries)
	groupID := uuid.NewString()
	resultsByQuery := s.searchAll(ctx, task, queries, groupID)

	skip := make(map[string]bool, len(accepted))
	for _, src := range accepted {
		skip[src.URL] = true
	}

	added, err := s.filterAndScrape(ctx, task, queries, resultsByQuery, groupID,
		ledger.GapFillOffset, skip)
	if err != nil {
		return len(added), err
	}
	if err := s.extractAll(ctx, task, added); err != nil {
		return len(added), err
	}
	return len(added), nil
}

// synthesizeNotes builds the source context and asks the model for structured
// notes. With zero sources the prompt switches to the no-sources variant and
// a post-pass strips any phantom [N] markers.
func (s *Stage) synthesizeNotes(ctx context.Context, task *models.Task, otherSections string) (*Outcome, error) {
	entries, err := s.ledger.ForTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	var prompt string
	if len(entries) == 0 {
		prompt, err = s.prompts.Render(prompts.PromptNotesNoSources, map[string]any{
			"Topic":       task.Topic,
			"Description": task.Description,
		})
	} else {
		perSource := s.contextCharBudget() / len(entries)
		var sb strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&sb, "Source %d: %s (%s)\n%s\n\n",
				e.Position, e.Source.Title, e.Source.URL, truncateChars(e.Text(), perSource))
		}
		prompt, err = s.prompts.Render(prompts.PromptNotes, map[string]any{
			"Topic":         task.Topic,
			"OtherSections": otherSections,
			"Sources":       sb.String(),
		})
	}
	if err != nil {
		return nil, err
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.cfg.LLM.Temperature,
		MaxTokens:   s.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	notes, meta := ExtractMetadata(resp.Content)
	if len(entries) == 0 {
		notes = StripCitations(notes)
	}

	return &Outcome{
		Notes:         notes,
		WordCount:     len(strings.Fields(notes)),
		CitationCount: CountCitations(notes),
		SourceCount:   len(entries),
		NewTasks:      meta.NewTasks,
		GlossaryTerms: meta.GlossaryTerms,
	}, nil
}

// recordEvent appends a run event; event-log failures are logged, never
// propagated into the pipeline.
func (s *Stage) recordEvent(ctx context.Context, task *models.Task, typ models.EventType,
	groupID, query string, src *models.Source) {
	req := models.AddEventRequest{
		SessionID:  task.SessionID,
		TaskID:     &task.ID,
		Type:       typ,
		QueryGroup: groupID,
		QueryText:  query,
		Phase:      string(models.PhaseResearching),
	}
	if src != nil {
		req.URL = src.URL
		req.Title = src.Title
		req.Snippet = src.Snippet
		req.QualityScore = src.QualityScore
	}
	if _, err := s.store.AddEvent(ctx, req); err != nil {
		s.logger.Warn("Failed to record event", "task_id", task.ID, "error", err)
	}
}

func (s *Stage) contextCharBudget() int {
	tokens := s.cfg.Synthesis.ContextTokenBudget
	if tokens <= 0 {
		tokens = 12000
	}
	// ~4 chars per token.
	return tokens * 4
}

func truncateChars(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
