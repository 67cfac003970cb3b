package phases

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
)

type sectionSpec struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// designOutline produces the report's sections. The model is asked for the
// configured target count; an oversized answer is truncated at the hard cap
// max(target+2, ceil(target*1.5)). Zero usable sections fails the phase.
func (r *Runner) designOutline(ctx context.Context, session *models.Session, planContext string) ([]*models.Section, error) {
	target := r.cfg.Research.MinInitialTasks
	if target < 1 {
		target = 1
	}

	var parsed struct {
		Sections []sectionSpec `json:"sections"`
	}
	err := r.completeJSON(ctx, prompts.PromptOutline, map[string]any{
		"Query":   session.Query,
		"Context": planContext,
		"Target":  target,
	}, &parsed)
	if err != nil {
		return nil, err
	}

	specs := parsed.Sections[:0]
	for _, spec := range parsed.Sections {
		if spec.Title != "" {
			specs = append(specs, spec)
		}
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("outline produced zero sections")
	}

	hardCap := target + 2
	if alt := int(math.Ceil(float64(target) * 1.5)); alt > hardCap {
		hardCap = alt
	}
	if len(specs) > hardCap {
		r.logger.Warn("Outline oversized, truncating",
			"session_id", session.ID, "got", len(specs), "cap", hardCap)
		specs = specs[:hardCap]
	}

	sections := make([]*models.Section, 0, len(specs))
	for i, spec := range specs {
		sec, err := r.store.CreateSection(ctx, &models.Section{
			SessionID:   session.ID,
			Title:       spec.Title,
			Description: spec.Description,
			Position:    i + 1,
		})
		if err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	r.logger.Info("Outline designed", "session_id", session.ID, "sections", len(sections))
	return sections, nil
}

type taskSpec struct {
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// planTasks plans research tasks per section in parallel. Each section gets
// min(tasks_per_section, max_total_tasks / #sections) tasks; a section the
// model leaves empty gets one fallback task from its own description.
func (r *Runner) planTasks(ctx context.Context, session *models.Session, sections []*models.Section) error {
	perSection := r.cfg.Research.TasksPerSection
	if budget := r.cfg.Research.MaxTotalTasks / len(sections); budget < perSection {
		perSection = budget
	}
	if perSection < 1 {
		perSection = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)
	for _, sec := range sections {
		g.Go(func() error {
			return r.planSectionTasks(gctx, session, sec, perSection)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	counts, err := r.store.CountTasks(ctx, session.ID)
	if err != nil {
		return err
	}
	r.logger.Info("Tasks planned", "session_id", session.ID, "total", counts.Total)
	return r.store.UpdateSessionCounters(ctx, session.ID, counts.Total, counts.Completed, 0, 0)
}

func (r *Runner) planSectionTasks(ctx context.Context, session *models.Session,
	sec *models.Section, count int) error {

	var parsed struct {
		Tasks []taskSpec `json:"tasks"`
	}
	err := r.completeJSON(ctx, prompts.PromptSectionTasks, map[string]any{
		"Query":       session.Query,
		"Title":       sec.Title,
		"Description": sec.Description,
		"Count":       count,
	}, &parsed)
	if err != nil {
		return fmt.Errorf("task planning for section %q failed: %w", sec.Title, err)
	}

	specs := parsed.Tasks
	if len(specs) > count {
		specs = specs[:count]
	}
	inserted := 0
	for _, spec := range specs {
		if spec.Topic == "" {
			continue
		}
		_, err := r.store.CreateTask(ctx, &models.Task{
			SessionID:   session.ID,
			SectionID:   &sec.ID,
			Topic:       spec.Topic,
			Description: spec.Description,
		})
		if err != nil {
			return err
		}
		inserted++
	}

	if inserted == 0 {
		// The model gave nothing usable; research the section wholesale.
		_, err := r.store.CreateTask(ctx, &models.Task{
			SessionID:   session.ID,
			SectionID:   &sec.ID,
			Topic:       sec.Title,
			Description: sec.Description,
		})
		return err
	}
	return nil
}
