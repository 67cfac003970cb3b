package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newResetCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the state database and start fresh",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging, true)

			path := cfg.Database.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("Nothing to reset: no database at", path)
				return nil
			}

			if !force {
				rl, err := readline.New(fmt.Sprintf("Delete %s and all session history? [y/N] ", path))
				if err != nil {
					return err
				}
				answer, err := rl.Readline()
				rl.Close()
				if err != nil || !strings.EqualFold(strings.TrimSpace(answer), "y") {
					fmt.Println("Aborted.")
					return nil
				}
			}

			// Remove the database and its WAL sidecars.
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			fmt.Println("State database removed.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}
