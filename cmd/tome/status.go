package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/service"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent session's progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			status, err := svc.GetRunStatus(cmd.Context(), nil)
			if err != nil {
				if errors.Is(err, service.ErrNoSession) {
					fmt.Println("No research sessions yet.")
					return nil
				}
				return err
			}

			color.Cyan("Run %d — %s (phase: %s)", status.RunID, status.Status, status.Phase)
			fmt.Printf("  Tasks:   %d/%d (%.0f%%), %d failed\n",
				status.Progress.Completed, status.Progress.Total,
				status.Progress.Pct, status.Counts.FailedTasks)
			fmt.Printf("  Sources: %d   Words: %d\n", status.Counts.Sources, status.Counts.Words)
			fmt.Printf("  Elapsed: %.0fs\n", status.Timing.ElapsedSeconds)
			if status.CancelRequestedAt != nil {
				color.Yellow("  Cancellation requested at %s", status.CancelRequestedAt.Format("15:04:05"))
			}
			return nil
		},
	}
}
