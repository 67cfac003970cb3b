// Package phases drives a session through the research pipeline:
//
//	idle → pre_planning → outline_design → task_planning
//	     → researching  → gap_analysis   → synthesizing
//	     → compiling    → complete
//
// Transitions are linear except that gap_analysis may cycle back into
// researching at most once. Every transition leaves a phase_changed event.
package phases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tomeworks/tome/pkg/compile"
	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/ledger"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/queue"
	"github.com/tomeworks/tome/pkg/research"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/store"
	"github.com/tomeworks/tome/pkg/synthesis"
)

// poolSize bounds per-phase fan-out (task planning, pre-planning scrapes).
const poolSize = 4

// Runner owns one session's pipeline from planning through compile.
type Runner struct {
	cfg    *config.Config
	store  *store.Store
	llm    llm.Client
	pb     *prompts.Builder
	sched  *queue.Scheduler
	synth  *synthesis.Stage
	comp   *compile.Compiler
	cancel *queue.CancelFlag
	logger *slog.Logger

	search  search.Provider
	fetcher scrape.Fetcher
}

// NewRunner wires the full pipeline around the store and the external
// clients. cancel is shared with the service facade.
func NewRunner(cfg *config.Config, st *store.Store, client llm.Client,
	provider search.Provider, fetcher scrape.Fetcher,
	pb *prompts.Builder, cancel *queue.CancelFlag) *Runner {

	led := ledger.New(st)
	stage := research.NewStage(cfg, client, provider, fetcher, st, led, pb)
	synth := synthesis.NewStage(cfg, client, st, pb)

	return &Runner{
		cfg:     cfg,
		store:   st,
		llm:     client,
		pb:      pb,
		sched:   queue.NewScheduler(cfg, st, queue.ExecutorFunc(stage.Run), cancel),
		synth:   synth,
		comp:    compile.New(cfg, st, led, synth),
		cancel:  cancel,
		search:  provider,
		fetcher: fetcher,
		logger:  slog.With("component", "phases"),
	}
}

// Run executes the pipeline for a session and finalizes it with exactly one
// terminal status. When resume is true, planning is skipped and the session
// re-enters researching with its existing sections and tasks.
func (r *Runner) Run(ctx context.Context, session *models.Session, resume bool) error {
	phaseErr := r.runPhases(ctx, session, resume)
	if phaseErr != nil || r.cancel.Requested() {
		// Failure or soft cancel: write whatever partial report exists.
		if phaseErr != nil {
			r.logger.Error("Pipeline phase failed", "session_id", session.ID, "error", phaseErr)
		}
		if _, msg := r.comp.EmergencyCompile(ctx, session); msg != "" {
			r.logger.Error("Emergency compile failed", "session_id", session.ID, "error", msg)
		}
	}
	return r.finalize(ctx, session, phaseErr)
}

func (r *Runner) runPhases(ctx context.Context, session *models.Session, resume bool) error {
	if !resume {
		if err := r.transition(ctx, session, models.PhasePrePlanning); err != nil {
			return err
		}
		planContext := r.prePlan(ctx, session)

		if err := r.transition(ctx, session, models.PhaseOutlineDesign); err != nil {
			return err
		}
		sections, err := r.designOutline(ctx, session, planContext)
		if err != nil {
			return fmt.Errorf("outline design failed: %w", err)
		}

		if err := r.transition(ctx, session, models.PhaseTaskPlanning); err != nil {
			return err
		}
		if err := r.planTasks(ctx, session, sections); err != nil {
			return fmt.Errorf("task planning failed: %w", err)
		}
	}

	if err := r.research(ctx, session); err != nil {
		return err
	}
	if r.cancel.Requested() {
		return nil
	}

	if err := r.transition(ctx, session, models.PhaseGapAnalysis); err != nil {
		return err
	}
	created, err := r.analyzeGaps(ctx, session)
	if err != nil {
		return fmt.Errorf("gap analysis failed: %w", err)
	}
	if created > 0 {
		// The single allowed cycle back into researching.
		if err := r.research(ctx, session); err != nil {
			return err
		}
	}
	if r.cancel.Requested() {
		return nil
	}

	if err := r.transition(ctx, session, models.PhaseSynthesizing); err != nil {
		return err
	}
	n, err := r.synth.SynthesizeSections(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	r.logger.Info("Sections synthesized", "session_id", session.ID, "count", n)

	if err := r.transition(ctx, session, models.PhaseCompiling); err != nil {
		return err
	}
	result, err := r.comp.Compile(ctx, session)
	if err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}
	r.logger.Info("Report compiled", "session_id", session.ID,
		"markdown", result.MarkdownPath, "sources", result.SourceCount)
	return nil
}

// research drives the scheduler until quiescent. Sections still planned are
// advanced to researching first.
func (r *Runner) research(ctx context.Context, session *models.Session) error {
	if err := r.transition(ctx, session, models.PhaseResearching); err != nil {
		return err
	}
	sections, err := r.store.ListSections(ctx, session.ID)
	if err != nil {
		return err
	}
	for _, sec := range sections {
		if sec.Status == models.SectionPlanned {
			if err := r.store.SetSectionStatus(ctx, sec.ID, models.SectionResearching); err != nil {
				return err
			}
		}
	}
	return r.sched.Run(ctx, session)
}

// transition advances the session phase and leaves a phase_changed event.
// Repeated transitions into the current phase are no-ops.
func (r *Runner) transition(ctx context.Context, session *models.Session, next models.Phase) error {
	old := session.Phase
	if old == next {
		return nil
	}
	if err := r.store.UpdateSessionPhase(ctx, session.ID, next); err != nil {
		return err
	}
	session.Phase = next
	r.logger.Info("Phase transition", "session_id", session.ID, "old", old, "new", next)

	_, err := r.store.AddEvent(ctx, models.AddEventRequest{
		SessionID: session.ID,
		Type:      models.EventPhaseChanged,
		Phase:     string(next),
		Payload:   map[string]any{"old": string(old), "new": string(next)},
	})
	if err != nil {
		r.logger.Error("Failed to record phase event", "error", err)
	}
	return nil
}

// finalize computes the terminal status in priority order and sets it once.
func (r *Runner) finalize(ctx context.Context, session *models.Session, phaseErr error) error {
	counts, err := r.store.CountTasks(ctx, session.ID)
	if err != nil {
		return err
	}

	status := terminalStatus(r.cancel.Requested(), counts, phaseErr)
	if err := r.store.FinalizeSession(ctx, session.ID, status); err != nil {
		return err
	}
	session.Status = status
	session.Phase = models.PhaseComplete
	r.logger.Info("Session finalized", "session_id", session.ID, "status", status,
		"completed", counts.Completed, "pending", counts.Pending, "failed", counts.Failed)

	if phaseErr != nil {
		return phaseErr
	}
	return nil
}

func terminalStatus(cancelled bool, counts store.TaskCounts, phaseErr error) models.SessionStatus {
	errored := counts.Failed > 0 || phaseErr != nil
	switch {
	case cancelled:
		return models.StatusCancelled
	case phaseErr != nil && counts.Completed == 0:
		return models.StatusFailed
	case counts.Pending > 0 && errored:
		return models.StatusPartialWithErrors
	case counts.Pending > 0:
		return models.StatusPartial
	case errored:
		return models.StatusCompletedWithErrors
	default:
		return models.StatusCompleted
	}
}

// completeJSON renders a prompt, requests a JSON-mode completion, and decodes
// it. A parse failure triggers exactly one alternate attempt before giving up.
func (r *Runner) completeJSON(ctx context.Context, name string, data map[string]any, dst any) error {
	prompt, err := r.pb.Render(name, data)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.llm.Complete(ctx, llm.Request{
			Model:       r.cfg.LLM.Model,
			Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
			Temperature: r.cfg.LLM.Temperature,
			MaxTokens:   r.cfg.LLM.MaxTokens,
			JSONMode:    attempt == 0,
		})
		if err != nil {
			return err
		}
		if err := research.ParseJSONObject(resp.Content, dst); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("structured output unparseable after retry: %w", lastErr)
}
