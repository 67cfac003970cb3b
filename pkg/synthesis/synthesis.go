// Package synthesis turns research notes into report prose: per-section
// synthesis, plus the executive summary and conclusion produced at compile
// time. Word and citation targets are advisory, communicated to the model but
// never enforced.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/research"
	"github.com/tomeworks/tome/pkg/store"
)

// sectionPoolSize bounds concurrent section syntheses.
const sectionPoolSize = 4

// summaryWordCap truncates each section's contribution to the executive
// summary and conclusion prompts.
const summaryWordCap = 500

// Stage runs all synthesis steps for a session.
type Stage struct {
	cfg    *config.Config
	llm    llm.Client
	store  *store.Store
	pb     *prompts.Builder
	logger *slog.Logger
}

// NewStage builds the synthesis stage.
func NewStage(cfg *config.Config, client llm.Client, st *store.Store, pb *prompts.Builder) *Stage {
	return &Stage{
		cfg:    cfg,
		llm:    client,
		store:  st,
		pb:     pb,
		logger: slog.With("component", "synthesis"),
	}
}

// SynthesizeSections produces prose for every section that has at least one
// completed task and is not already complete, in parallel. Returns the number
// of sections synthesized; individual failures are reported after all
// sections have been attempted.
func (s *Stage) SynthesizeSections(ctx context.Context, sessionID int64) (int, error) {
	sections, err := s.store.ListSections(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sectionPoolSize)
	done := 0

	for i, sec := range sections {
		if sec.Status == models.SectionComplete {
			continue
		}
		notes, err := s.collectNotes(ctx, sec.ID)
		if err != nil {
			return done, err
		}
		if notes == "" {
			// No completed research; the section stays unsynthesized.
			continue
		}
		done++

		prev, next := adjacentDescriptions(sections, i)
		g.Go(func() error {
			return s.synthesizeOne(gctx, sections, sec, notes, prev, next)
		})
	}

	if err := g.Wait(); err != nil {
		return done, err
	}
	return done, nil
}

func (s *Stage) synthesizeOne(ctx context.Context, outline []*models.Section,
	sec *models.Section, notes, prev, next string) error {

	if err := s.store.SetSectionStatus(ctx, sec.ID, models.SectionSynthesizing); err != nil {
		return err
	}

	prompt, err := s.pb.Render(prompts.PromptSectionSynthesis, map[string]any{
		"StyleFragment": prompts.StyleFragment(s.cfg.Synthesis.StyleProfile),
		"Title":         sec.Title,
		"Description":   sec.Description,
		"Outline":       formatOutline(outline),
		"Previous":      prev,
		"Next":          next,
		"MinWords":      s.cfg.Synthesis.MinWordsPerSection,
		"MaxWords":      s.cfg.Synthesis.MaxWordsPerSection,
		"MinCitations":  s.cfg.Synthesis.MinCitationsPerSection,
		"Notes":         notes,
	})
	if err != nil {
		return err
	}

	resp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.cfg.LLM.Temperature,
		MaxTokens:   s.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("section %q synthesis failed: %w", sec.Title, err)
	}

	content := strings.TrimSpace(resp.Content)
	words := len(strings.Fields(content))
	citations := research.CountCitations(content)

	s.logger.Info("Section synthesized", "section", sec.Title,
		"words", words, "citations", citations)
	return s.store.SetSectionContent(ctx, sec.ID, content, words, citations)
}

// collectNotes concatenates a section's completed task notes, task topics as
// headings.
func (s *Stage) collectNotes(ctx context.Context, sectionID int64) (string, error) {
	tasks, err := s.store.TasksForSection(ctx, sectionID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, task := range tasks {
		if task.Status != models.TaskCompleted || task.FilePath == "" {
			continue
		}
		data, err := os.ReadFile(task.FilePath)
		if err != nil {
			s.logger.Warn("Notes file unreadable, skipping",
				"task_id", task.ID, "path", task.FilePath, "error", err)
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", task.Topic, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(sb.String()), nil
}

// Summaries holds the compile-time framing pieces.
type Summaries struct {
	ExecutiveSummary string
	Conclusion       string
}

// ProduceSummaries generates the executive summary and conclusion in
// parallel from per-section summaries.
func (s *Stage) ProduceSummaries(ctx context.Context, session *models.Session,
	sections []*models.Section) (*Summaries, error) {

	sectionSummaries := buildSectionSummaries(sections)
	totalWords := 0
	for _, sec := range sections {
		totalWords += sec.WordCount
	}

	var out Summaries
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		prompt, err := s.pb.Render(prompts.PromptExecutiveSummary, map[string]any{
			"Query":            session.Query,
			"SectionSummaries": sectionSummaries,
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
			return fmt.Errorf("executive summary failed: %w", err)
		}
		out.ExecutiveSummary = strings.TrimSpace(resp.Content)
		return nil
	})

	g.Go(func() error {
		prompt, err := s.pb.Render(prompts.PromptConclusion, map[string]any{
			"Query":            session.Query,
			"SectionCount":     len(sections),
			"TotalWords":       totalWords,
			"SectionSummaries": sectionSummaries,
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
			return fmt.Errorf("conclusion failed: %w", err)
		}
		out.Conclusion = strings.TrimSpace(resp.Content)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// buildSectionSummaries takes the first 500 words of each synthesized
// section, suffixed with an ellipsis when truncated.
func buildSectionSummaries(sections []*models.Section) string {
	var sb strings.Builder
	for _, sec := range sections {
		if sec.SynthesizedContent == "" {
			continue
		}
		words := strings.Fields(sec.SynthesizedContent)
		summary := sec.SynthesizedContent
		if len(words) > summaryWordCap {
			summary = strings.Join(words[:summaryWordCap], " ") + "..."
		}
		fmt.Fprintf(&sb, "### %s\n%s\n\n", sec.Title, summary)
	}
	return sb.String()
}

func formatOutline(sections []*models.Section) string {
	var sb strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&sb, "%d. %s\n", sec.Position, sec.Title)
	}
	return sb.String()
}

func adjacentDescriptions(sections []*models.Section, i int) (string, string) {
	var prev, next string
	if i > 0 {
		prev = sections[i-1].Description
	}
	if i < len(sections)-1 {
		next = sections[i+1].Description
	}
	return prev, next
}
