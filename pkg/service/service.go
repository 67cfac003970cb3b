// Package service is the run-lifecycle facade: it owns the single background
// run and exposes start/status/cancel/events/result to the HTTP API, the CLI,
// and tests. All state lives in the store; the facade only tracks the active
// run's goroutine and cancel flag.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/phases"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/queue"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/store"
)

// ErrNoSession is returned when no session exists to report on.
var ErrNoSession = errors.New("no research session found")

// Service coordinates at most one background run at a time.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	llm     llm.Client
	search  search.Provider
	fetcher scrape.Fetcher
	pb      *prompts.Builder
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	runID   int64
	cancel  *queue.CancelFlag
	done    chan struct{}
}

// New builds the facade around the store and external clients.
func New(cfg *config.Config, st *store.Store, client llm.Client,
	provider search.Provider, fetcher scrape.Fetcher, pb *prompts.Builder) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		llm:     client,
		search:  provider,
		fetcher: fetcher,
		pb:      pb,
		logger:  slog.With("component", "service"),
	}
}

// StartRequest carries the parameters for starting a run.
type StartRequest struct {
	Query        string
	Preset       string
	Overrides    map[string]string
	RefinedBrief string
	RefinementQA string
	Resume       bool
	Blocking     bool
}

// StartResponse reports whether a run was started.
type StartResponse struct {
	Status string `json:"status"` // started | already_running
	RunID  int64  `json:"run_id,omitempty"`
}

// StartRun launches a background research run. A second start while one is
// active reports already_running with the active run's id.
func (s *Service) StartRun(ctx context.Context, req StartRequest) (*StartResponse, error) {
	s.mu.Lock()
	if s.running {
		id := s.runID
		s.mu.Unlock()
		return &StartResponse{Status: "already_running", RunID: id}, nil
	}
	// Hold the slot while the session row is created.
	s.running = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}

	cfg, err := s.runConfig(req)
	if err != nil {
		release()
		return nil, err
	}

	session, err := s.resolveSession(ctx, req)
	if err != nil {
		release()
		return nil, err
	}

	flag := &queue.CancelFlag{}
	done := make(chan struct{})
	s.mu.Lock()
	s.runID = session.ID
	s.cancel = flag
	s.done = done
	s.mu.Unlock()

	runner := phases.NewRunner(cfg, s.store, s.llm, s.search, s.fetcher, s.pb, flag)
	go func() {
		defer close(done)
		defer release()
		// The run outlives the caller's request context.
		if err := runner.Run(context.Background(), session, req.Resume); err != nil {
			s.logger.Error("Run finished with error", "run_id", session.ID, "error", err)
		}
	}()

	if req.Blocking {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &StartResponse{Status: "started", RunID: session.ID}, nil
}

// runConfig clones the base config with the request's preset and overrides.
func (s *Service) runConfig(req StartRequest) (*config.Config, error) {
	if req.Preset == "" && len(req.Overrides) == 0 {
		return s.cfg, nil
	}
	cfg := *s.cfg
	if req.Preset != "" {
		preset, ok := config.Presets()[req.Preset]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", req.Preset)
		}
		if err := config.ApplyOverrides(&cfg, preset); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyOverrides(&cfg, req.Overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveSession creates a new session, or on resume reactivates the latest
// one when it still has pending work.
func (s *Service) resolveSession(ctx context.Context, req StartRequest) (*models.Session, error) {
	if !req.Resume {
		return s.store.CreateSession(ctx, req.Query, req.RefinedBrief, req.RefinementQA)
	}

	session, err := s.store.LatestSession(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("nothing to resume: %w", ErrNoSession)
		}
		return nil, err
	}
	counts, err := s.store.CountTasks(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if counts.Pending == 0 && counts.InProgress == 0 {
		return nil, fmt.Errorf("session %d has no pending tasks to resume", session.ID)
	}
	if _, err := s.store.ResetInProgress(ctx, session.ID); err != nil {
		return nil, err
	}
	if err := s.store.SetSessionStatus(ctx, session.ID, models.StatusRunning); err != nil {
		return nil, err
	}
	session.Status = models.StatusRunning
	return session, nil
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Status string `json:"status"` // cancelling | not_running
	RunID  int64  `json:"run_id,omitempty"`
}

// CancelRun requests soft cancellation of the active run. In-flight work
// finishes and persists; the session finalizes as cancelled.
func (s *Service) CancelRun(ctx context.Context) (*CancelResponse, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return &CancelResponse{Status: "not_running"}, nil
	}
	id := s.runID
	flag := s.cancel
	s.mu.Unlock()

	flag.Set()
	if err := s.store.MarkCancelRequested(ctx, id, time.Now()); err != nil {
		return nil, err
	}
	_, err := s.store.AddEvent(ctx, models.AddEventRequest{
		SessionID: id,
		Type:      models.EventCancellationRequested,
	})
	if err != nil {
		s.logger.Error("Failed to record cancellation event", "error", err)
	}
	s.logger.Info("Cancellation requested", "run_id", id)
	return &CancelResponse{Status: "cancelling", RunID: id}, nil
}

// Wait blocks until the active run (if any) finishes. Used by the CLI after a
// Ctrl-C cancel so progress is saved before exit.
func (s *Service) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// ListPresets returns the named configuration presets.
func (s *Service) ListPresets() map[string]map[string]string {
	return config.Presets()
}

// session resolves an optional explicit session id, defaulting to the latest.
func (s *Service) session(ctx context.Context, sessionID *int64) (*models.Session, error) {
	if sessionID != nil {
		return s.store.GetSession(ctx, *sessionID)
	}
	session, err := s.store.LatestSession(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	return session, err
}
