package phases

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/search"
)

// prePlanResults bounds how many results each pre-planning query contributes.
const prePlanResults = 3

// previewChars is the fallback excerpt length when page analysis fails.
const previewChars = 500

// prePlan builds a landscape-context string for outline design: diverse
// queries run in parallel, top results scraped and analyzed per page. Every
// step degrades instead of failing; the worst case is an empty context.
func (r *Runner) prePlan(ctx context.Context, session *models.Session) string {
	logger := r.logger.With("session_id", session.ID, "phase", "pre_planning")

	queries := r.prePlanQueries(ctx, session)
	if len(queries) == 0 {
		logger.Warn("Pre-planning produced no queries, outline proceeds without context")
		return ""
	}
	logger.Info("Pre-planning queries generated", "count", len(queries))

	var (
		mu      sync.Mutex
		results []search.Result
		seen    = map[string]bool{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for _, query := range queries {
		g.Go(func() error {
			found, err := r.search.Search(gctx, query, prePlanResults)
			if err != nil {
				logger.Warn("Pre-planning search failed", "query", query, "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, res := range found {
				if !seen[res.URL] {
					seen[res.URL] = true
					results = append(results, res)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	analyses := make([]string, len(results))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for i, res := range results {
		g.Go(func() error {
			analyses[i] = r.analyzePage(gctx, session.Query, res)
			return nil
		})
	}
	_ = g.Wait()

	var sb strings.Builder
	for _, a := range analyses {
		if a != "" {
			sb.WriteString(a)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func (r *Runner) prePlanQueries(ctx context.Context, session *models.Session) []string {
	count := r.cfg.Research.PrePlanningQueries
	if count <= 0 {
		return nil
	}
	var parsed struct {
		Queries []string `json:"queries"`
	}
	err := r.completeJSON(ctx, prompts.PromptPrePlanningQueries, map[string]any{
		"Count": count,
		"Query": session.Query,
	}, &parsed)
	if err != nil {
		r.logger.Warn("Pre-planning query generation failed", "error", err)
		return nil
	}
	queries := parsed.Queries
	if len(queries) > count {
		queries = queries[:count]
	}
	return queries
}

// analyzePage scrapes one result and runs per-page analysis. Scrape failure
// falls back to the search snippet; analysis failure falls back to a content
// preview.
func (r *Runner) analyzePage(ctx context.Context, query string, res search.Result) string {
	page, err := r.fetcher.Fetch(ctx, res.URL)
	if err != nil {
		if res.Snippet == "" {
			return ""
		}
		return fmt.Sprintf("%s (%s): %s", res.Title, res.URL, res.Snippet)
	}

	prompt, err := r.pb.Render(prompts.PromptPageAnalysis, map[string]any{
		"Query":   query,
		"Title":   page.Title,
		"URL":     res.URL,
		"Content": clampChars(page.Content, r.cfg.Scraping.MaxContentChars),
	})
	if err != nil {
		return preview(res, page.Content)
	}
	resp, err := r.llm.Complete(ctx, llm.Request{
		Model:       r.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: r.cfg.LLM.Temperature,
	})
	if err != nil {
		r.logger.Warn("Page analysis failed, using preview", "url", res.URL, "error", err)
		return preview(res, page.Content)
	}
	return strings.TrimSpace(resp.Content)
}

func clampChars(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func preview(res search.Result, content string) string {
	excerpt := content
	if len(excerpt) > previewChars {
		excerpt = excerpt[:previewChars] + "..."
	}
	return fmt.Sprintf("%s (%s): %s", res.Title, res.URL, excerpt)
}
