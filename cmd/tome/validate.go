package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/search"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check configuration and credentials without running anything",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			setupLogging(cfg.Logging, true)
			color.Green("✓ config valid (%s)", opts.configPath)

			failed := false
			if llm.HasCredentials() {
				color.Green("✓ llm credentials present")
			} else {
				color.Red("✗ %v", llm.ErrNoCredentials)
				failed = true
			}
			if os.Getenv(search.EnvTavilyAPIKey) != "" {
				color.Green("✓ search credentials present")
			} else {
				color.Red("✗ %v", search.ErrNoSearchKey)
				failed = true
			}

			if dir := filepath.Dir(cfg.Database.Path); dirWritable(dir) {
				color.Green("✓ database directory writable (%s)", dir)
			} else {
				color.Red("✗ database directory not writable (%s)", dir)
				failed = true
			}
			if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
				color.Red("✗ output directory: %v", err)
				failed = true
			} else {
				color.Green("✓ output directory ready (%s)", cfg.Output.Directory)
			}

			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".tome-validate-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
