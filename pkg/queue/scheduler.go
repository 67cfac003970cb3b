// Package queue drives a session's research tasks through a bounded worker
// pool: atomic claim, execution, retry sweep, follow-up admission, and
// soft cancellation.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/research"
	"github.com/tomeworks/tome/pkg/store"
)

// waitTimeout bounds each scheduler wait so cancellation flags are observed
// promptly even while tasks run long.
const waitTimeout = 2 * time.Second

// Executor runs the research pipeline for one claimed task. Production wires
// the research stage; tests script it.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, otherSections string) (*research.Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *models.Task, otherSections string) (*research.Outcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.Task, otherSections string) (*research.Outcome, error) {
	return f(ctx, task, otherSections)
}

// Scheduler executes one session's pending tasks until quiescent.
type Scheduler struct {
	cfg    *config.Config
	store  *store.Store
	exec   Executor
	cancel *CancelFlag
	logger *slog.Logger

	mu            sync.Mutex
	nextFileIndex int
}

// NewScheduler builds a scheduler for one run. cancel is shared with the
// service facade.
func NewScheduler(cfg *config.Config, st *store.Store, exec Executor, cancel *CancelFlag) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  st,
		exec:   exec,
		cancel: cancel,
		logger: slog.With("component", "scheduler"),
	}
}

type taskResult struct {
	task    *models.Task
	outcome *research.Outcome
	err     error
}

// Run drives the session's tasks until no work remains or a termination
// condition fires: max_loops, max_runtime_hours, cancellation, or too many
// consecutive failures. In-flight tasks always finish and persist before Run
// returns.
func (s *Scheduler) Run(ctx context.Context, session *models.Session) error {
	logger := s.logger.With("session_id", session.ID)

	fileIndex, err := s.store.MaxFileIndex(ctx, session.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nextFileIndex = fileIndex
	s.mu.Unlock()

	otherSections, err := s.sectionContext(ctx, session.ID)
	if err != nil {
		return err
	}

	maxWorkers := s.cfg.Research.MaxConcurrentTasks
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	results := make(chan taskResult, maxWorkers)

	var (
		wg                  sync.WaitGroup
		inflight            int
		loops               int
		consecutiveFailures int
		abortReason         string
	)

	deadline := session.StartedAt.Add(time.Duration(s.cfg.Research.MaxRuntimeHours * float64(time.Hour)))

	for {
		loops++
		if s.cfg.Research.MaxLoops > 0 && loops > s.cfg.Research.MaxLoops {
			abortReason = "max loops reached"
			break
		}
		if time.Now().After(deadline) {
			abortReason = "max runtime exceeded"
			break
		}
		if s.cancel.Requested() || ctx.Err() != nil {
			logger.Info("Cancellation observed, stopping scheduler")
			break
		}
		if max := s.cfg.Research.MaxConsecutiveFailures; max > 0 && consecutiveFailures >= max {
			abortReason = fmt.Sprintf("%d consecutive task failures", consecutiveFailures)
			break
		}

		// Fill free worker slots.
		if free := maxWorkers - inflight; free > 0 {
			claimed, err := s.store.ClaimNext(ctx, session.ID, free)
			if err != nil {
				return err
			}
			for _, task := range claimed {
				inflight++
				wg.Add(1)
				go func(task *models.Task) {
					defer wg.Done()
					outcome, err := s.exec.Execute(ctx, task, otherSections)
					results <- taskResult{task: task, outcome: outcome, err: err}
				}(task)
			}
		}

		if inflight == 0 {
			// Quiescent: sweep retryable failures; exit if nothing reset.
			reset, err := s.store.RetryFailed(ctx, session.ID, s.cfg.Research.MaxRetries)
			if err != nil {
				return err
			}
			if reset == 0 {
				logger.Info("No work remaining, scheduler exiting", "loops", loops)
				break
			}
			logger.Info("Retry sweep re-enqueued failed tasks", "count", reset)
			continue
		}

		// Wait for at least one completion, bounded so flags are re-checked.
		select {
		case res := <-results:
			inflight--
			if s.handleResult(ctx, session, res) {
				consecutiveFailures = 0
			} else {
				consecutiveFailures++
			}
		case <-time.After(waitTimeout):
		}
	}

	// Soft stop: let in-flight work finish and persist its results.
	go func() {
		wg.Wait()
		close(results)
	}()
	for res := range results {
		s.handleResult(ctx, session, res)
	}

	if abortReason != "" {
		logger.Warn("Scheduler aborted", "reason", abortReason)
		s.recordWarning(ctx, session.ID, "scheduler aborted: "+abortReason)
	}
	return nil
}

// handleResult persists one finished task. Returns true on success.
func (s *Scheduler) handleResult(ctx context.Context, session *models.Session, res taskResult) bool {
	logger := s.logger.With("session_id", session.ID, "task_id", res.task.ID)

	if res.err != nil {
		logger.Warn("Task failed", "topic", res.task.Topic, "error", res.err)
		if err := s.store.FailTask(ctx, res.task.ID, res.err.Error()); err != nil {
			logger.Error("Failed to mark task failed", "error", err)
		}
		return false
	}

	path, err := s.writeNotes(res.task, res.outcome.Notes)
	if err != nil {
		logger.Error("Failed to write notes file", "error", err)
		if err := s.store.FailTask(ctx, res.task.ID, "failed to write notes: "+err.Error()); err != nil {
			logger.Error("Failed to mark task failed", "error", err)
		}
		return false
	}
	if err := s.store.SetTaskFilePath(ctx, res.task.ID, path); err != nil {
		logger.Error("Failed to record notes path", "error", err)
	}
	if err := s.store.CompleteTask(ctx, res.task.ID,
		res.outcome.WordCount, res.outcome.CitationCount); err != nil {
		logger.Error("Failed to mark task completed", "error", err)
		return false
	}
	logger.Info("Task completed", "topic", res.task.Topic,
		"words", res.outcome.WordCount, "citations", res.outcome.CitationCount,
		"sources", res.outcome.SourceCount)

	s.admitFollowUps(ctx, session, res.task, res.outcome.NewTasks)
	s.insertGlossary(ctx, session.ID, res.task.ID, res.outcome.GlossaryTerms)
	s.refreshCounters(ctx, session.ID)
	return true
}

// admitFollowUps inserts at most one follow-up task, clamped against the
// session's total-task budget and the recursion depth limit. A dropped
// follow-up leaves a warning event, never a partial insert.
func (s *Scheduler) admitFollowUps(ctx context.Context, session *models.Session,
	parent *models.Task, specs []research.TaskSpec) {
	if len(specs) == 0 {
		return
	}
	spec := specs[0]
	if strings.TrimSpace(spec.Topic) == "" {
		return
	}

	if parent.Depth+1 > s.cfg.Research.MaxTaskDepth {
		s.recordWarning(ctx, session.ID,
			fmt.Sprintf("follow-up %q dropped: max task depth reached", spec.Topic))
		return
	}

	counts, err := s.store.CountTasks(ctx, session.ID)
	if err != nil {
		s.logger.Error("Failed to count tasks for follow-up admission", "error", err)
		return
	}
	if counts.Total >= s.cfg.Research.MaxTotalTasks {
		s.recordWarning(ctx, session.ID,
			fmt.Sprintf("follow-up %q dropped: task budget exhausted", spec.Topic))
		return
	}

	_, err = s.store.CreateTask(ctx, &models.Task{
		SessionID:    session.ID,
		SectionID:    parent.SectionID,
		ParentTaskID: &parent.ID,
		Topic:        spec.Topic,
		Description:  spec.Description,
		Depth:        parent.Depth + 1,
	})
	if err != nil {
		s.logger.Error("Failed to insert follow-up task", "error", err)
		return
	}
	s.logger.Info("Follow-up task admitted", "session_id", session.ID,
		"parent_id", parent.ID, "topic", spec.Topic)
}

func (s *Scheduler) insertGlossary(ctx context.Context, sessionID, taskID int64, terms []research.TermSpec) {
	for _, term := range terms {
		if strings.TrimSpace(term.Term) == "" {
			continue
		}
		_, err := s.store.AddGlossaryTerm(ctx, &models.GlossaryTerm{
			SessionID:  sessionID,
			Term:       term.Term,
			Definition: term.Definition,
			TaskID:     &taskID,
		})
		if err != nil {
			s.logger.Error("Failed to insert glossary term", "term", term.Term, "error", err)
		}
	}
}

func (s *Scheduler) refreshCounters(ctx context.Context, sessionID int64) {
	counts, err := s.store.CountTasks(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to refresh counters", "error", err)
		return
	}
	sources, err := s.store.CountSessionSources(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to count sources", "error", err)
		return
	}
	tasks, err := s.store.ListTasks(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to list tasks", "error", err)
		return
	}
	words := 0
	for _, t := range tasks {
		words += t.WordCount
	}
	if err := s.store.UpdateSessionCounters(ctx, sessionID,
		counts.Total, counts.Completed, words, sources); err != nil {
		s.logger.Error("Failed to update session counters", "error", err)
	}
}

// writeNotes writes a task's notes under the output directory as
// NN_<sanitized_topic>.md, where NN is the next global file index.
func (s *Scheduler) writeNotes(task *models.Task, notes string) (string, error) {
	s.mu.Lock()
	s.nextFileIndex++
	index := s.nextFileIndex
	s.mu.Unlock()

	dir := s.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("%02d_%s.md", index, SanitizeTopic(task.Topic))
	path := filepath.Join(dir, name)

	content := fmt.Sprintf("# %s\n\n%s\n", task.Topic, notes)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write notes file: %w", err)
	}
	return path, nil
}

func (s *Scheduler) sectionContext(ctx context.Context, sessionID int64) (string, error) {
	sections, err := s.store.ListSections(ctx, sessionID)
	if err != nil {
		return "", err
	}
	titles := make([]string, 0, len(sections))
	for _, sec := range sections {
		titles = append(titles, sec.Title)
	}
	return strings.Join(titles, "; "), nil
}

func (s *Scheduler) recordWarning(ctx context.Context, sessionID int64, message string) {
	_, err := s.store.AddEvent(ctx, models.AddEventRequest{
		SessionID: sessionID,
		Type:      models.EventAgentAction,
		Severity:  "warning",
		Phase:     string(models.PhaseResearching),
		Payload:   map[string]any{"data": message},
	})
	if err != nil {
		s.logger.Error("Failed to record warning event", "error", err)
	}
}

var topicSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeTopic converts a topic into a filesystem-safe slug, truncated to
// keep paths short.
func SanitizeTopic(topic string) string {
	slug := topicSanitizer.ReplaceAllString(strings.ToLower(topic), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 60 {
		slug = slug[:60]
		slug = strings.Trim(slug, "_")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}
