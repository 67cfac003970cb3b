package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
)

type gapFillSpec struct {
	SectionTitle string `json:"section_title"`
	Topic        string `json:"topic"`
	Description  string `json:"description"`
}

type gapAnalysisResponse struct {
	GapFillTasks []gapFillSpec `json:"gap_fill_tasks"`
	NewSections  []sectionSpec `json:"new_sections"`
}

// analyzeGaps reviews section coverage after the first research pass and
// creates gap-fill tasks and new sections, clamped by the gap-analysis limits
// and the global task budget. Returns the number of tasks created; a positive
// count sends the pipeline back into researching once.
func (r *Runner) analyzeGaps(ctx context.Context, session *models.Session) (int, error) {
	if !r.cfg.GapAnalysis.Enabled {
		r.recordGapOutcome(ctx, session.ID, 0, 0)
		return 0, nil
	}

	sections, err := r.store.ListSections(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	coverage, err := r.buildCoverage(ctx, sections)
	if err != nil {
		return 0, err
	}

	var parsed gapAnalysisResponse
	err = r.completeJSON(ctx, prompts.PromptSessionGapAnalysis, map[string]any{
		"Query":           session.Query,
		"Coverage":        coverage,
		"MaxGapFillTasks": r.cfg.GapAnalysis.MaxGapFillTasks,
		"MaxNewSections":  r.cfg.GapAnalysis.MaxNewSections,
	}, &parsed)
	if err != nil {
		return 0, err
	}

	if n := r.cfg.GapAnalysis.MaxGapFillTasks; len(parsed.GapFillTasks) > n {
		parsed.GapFillTasks = parsed.GapFillTasks[:n]
	}
	if n := r.cfg.GapAnalysis.MaxNewSections; len(parsed.NewSections) > n {
		parsed.NewSections = parsed.NewSections[:n]
	}

	counts, err := r.store.CountTasks(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	budget := r.cfg.Research.MaxTotalTasks - counts.Total

	byTitle := map[string]int64{}
	for _, sec := range sections {
		byTitle[strings.ToLower(sec.Title)] = sec.ID
	}

	created := 0
	for _, spec := range parsed.GapFillTasks {
		if budget-created <= 0 {
			break
		}
		if spec.Topic == "" {
			continue
		}
		task := &models.Task{
			SessionID:   session.ID,
			Topic:       spec.Topic,
			Description: spec.Description,
			IsGapFill:   true,
		}
		if id, ok := byTitle[strings.ToLower(spec.SectionTitle)]; ok {
			task.SectionID = &id
		}
		if _, err := r.store.CreateTask(ctx, task); err != nil {
			return created, err
		}
		created++
	}

	newSections := 0
	position, err := r.store.MaxSectionPosition(ctx, session.ID)
	if err != nil {
		return created, err
	}
	for _, spec := range parsed.NewSections {
		if budget-created <= 0 {
			break
		}
		if spec.Title == "" {
			continue
		}
		position++
		sec, err := r.store.CreateSection(ctx, &models.Section{
			SessionID:   session.ID,
			Title:       spec.Title,
			Description: spec.Description,
			Position:    position,
			IsGapFill:   true,
		})
		if err != nil {
			return created, err
		}
		newSections++

		_, err = r.store.CreateTask(ctx, &models.Task{
			SessionID:   session.ID,
			SectionID:   &sec.ID,
			Topic:       spec.Title,
			Description: spec.Description,
			IsGapFill:   true,
		})
		if err != nil {
			return created, err
		}
		created++
	}

	r.logger.Info("Gap analysis finished", "session_id", session.ID,
		"new_tasks", created, "new_sections", newSections)
	r.recordGapOutcome(ctx, session.ID, created, newSections)
	return created, nil
}

// buildCoverage summarizes each section's research yield for the gap prompt.
func (r *Runner) buildCoverage(ctx context.Context, sections []*models.Section) (string, error) {
	var sb strings.Builder
	for _, sec := range sections {
		tasks, err := r.store.TasksForSection(ctx, sec.ID)
		if err != nil {
			return "", err
		}
		completed, words := 0, 0
		topics := make([]string, 0, len(tasks))
		for _, task := range tasks {
			if task.Status == models.TaskCompleted {
				completed++
				words += task.WordCount
			}
			topics = append(topics, task.Topic)
		}
		fmt.Fprintf(&sb, "- %s: %s. Tasks (%d completed, %d words): %s\n",
			sec.Title, sec.Description, completed, words, strings.Join(topics, "; "))
	}
	return sb.String(), nil
}

func (r *Runner) recordGapOutcome(ctx context.Context, sessionID int64, newTasks, newSections int) {
	_, err := r.store.AddEvent(ctx, models.AddEventRequest{
		SessionID: sessionID,
		Type:      models.EventAgentAction,
		Phase:     string(models.PhaseGapAnalysis),
		Payload:   map[string]any{"new_tasks": newTasks, "new_sections": newSections},
	})
	if err != nil {
		r.logger.Error("Failed to record gap analysis event", "error", err)
	}
}
