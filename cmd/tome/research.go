package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/models"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/research"
	"github.com/tomeworks/tome/pkg/service"
)

func newResearchCmd(opts *rootOptions) *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run a research session to completion",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !resume && len(args) == 0 {
				return fmt.Errorf("a query is required unless --resume is given")
			}
			query := ""
			if len(args) > 0 {
				query = args[0]
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging, true)

			svc, st, err := buildService(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			req := service.StartRequest{
				Query:  query,
				Preset: opts.preset,
				Resume: resume,
			}
			if !resume && cfg.QueryRefinement.Enabled {
				brief, qa, err := refineQuery(cmd.Context(), cfg, query)
				if err != nil {
					return err
				}
				req.RefinedBrief = brief
				req.RefinementQA = qa
			}

			resp, err := svc.StartRun(cmd.Context(), req)
			if err != nil {
				return err
			}
			if resp.Status == "already_running" {
				return fmt.Errorf("a run is already active (run %d)", resp.RunID)
			}
			color.Cyan("Research started (run %d). Press Ctrl-C to cancel and save progress.", resp.RunID)

			// Ctrl-C requests soft cancellation; in-flight work persists and
			// the command still exits 0 with progress saved.
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				svc.Wait()
				close(done)
			}()

			select {
			case <-sigs:
				color.Yellow("Cancelling, letting in-flight work finish...")
				if _, err := svc.CancelRun(context.Background()); err != nil {
					return err
				}
				<-done
			case <-done:
			}
			signal.Stop(sigs)

			return printOutcome(cmd.Context(), svc, resp.RunID)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the most recent session's pending tasks")
	return cmd
}

func printOutcome(ctx context.Context, svc *service.Service, runID int64) error {
	status, err := svc.GetRunStatus(ctx, &runID)
	if err != nil {
		return err
	}

	switch status.Status {
	case models.StatusCompleted:
		color.Green("Research completed: %d/%d tasks, %d sources, %d words.",
			status.Progress.Completed, status.Progress.Total,
			status.Counts.Sources, status.Counts.Words)
	case models.StatusCancelled:
		color.Yellow("Research cancelled: %d/%d tasks finished. Resume with: tome research --resume",
			status.Progress.Completed, status.Progress.Total)
	case models.StatusFailed:
		return fmt.Errorf("research failed (run %d)", runID)
	default:
		color.Yellow("Research ended with status %s: %d/%d tasks, %d failed.",
			status.Status, status.Progress.Completed, status.Progress.Total,
			status.Counts.FailedTasks)
	}

	result, err := svc.GetRunResult(ctx, &runID)
	if err != nil {
		return err
	}
	if result.Artifacts.MarkdownPath != "" {
		fmt.Printf("Report: %s\n", result.Artifacts.MarkdownPath)
	}
	return nil
}

// refineQuery asks the model for clarifying questions and collects answers
// interactively. The transcript is stored with the session; an empty answer
// skips a question.
func refineQuery(ctx context.Context, cfg *config.Config, query string) (brief, qa string, err error) {
	client, err := llm.NewHTTPClient(cfg.LLM)
	if err != nil {
		return "", "", err
	}
	pb, err := prompts.NewBuilder(prompts.DefaultSet())
	if err != nil {
		return "", "", err
	}
	prompt, err := pb.Render(prompts.PromptQueryRefinement, map[string]any{
		"Query":        query,
		"MaxQuestions": cfg.QueryRefinement.MaxQuestions,
	})
	if err != nil {
		return "", "", err
	}

	resp, err := client.Complete(ctx, llm.Request{
		Model:       cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: cfg.LLM.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return "", "", err
	}
	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := research.ParseJSONObject(resp.Content, &parsed); err != nil {
		// Refinement is best-effort; proceed with the raw query.
		return "", "", nil
	}
	if max := cfg.QueryRefinement.MaxQuestions; max > 0 && len(parsed.Questions) > max {
		parsed.Questions = parsed.Questions[:max]
	}
	if len(parsed.Questions) == 0 {
		return "", "", nil
	}

	rl, err := readline.New("> ")
	if err != nil {
		return "", "", err
	}
	defer rl.Close()

	var transcript strings.Builder
	for _, question := range parsed.Questions {
		color.Cyan("%s", question)
		answer, err := rl.Readline()
		if err != nil {
			// Ctrl-C/Ctrl-D during refinement skips the remaining questions.
			break
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			continue
		}
		fmt.Fprintf(&transcript, "Q: %s\nA: %s\n", question, answer)
	}

	qa = strings.TrimSpace(transcript.String())
	if qa == "" {
		return "", "", nil
	}
	brief = fmt.Sprintf("%s\n\nClarifications:\n%s", query, qa)
	return brief, qa, nil
}
