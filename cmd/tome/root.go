package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/config"
	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/prompts"
	"github.com/tomeworks/tome/pkg/scrape"
	"github.com/tomeworks/tome/pkg/search"
	"github.com/tomeworks/tome/pkg/service"
	"github.com/tomeworks/tome/pkg/store"
)

type rootOptions struct {
	configPath string
	preset     string
	overrides  []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tome",
		Short:         "Automated long-form research agent",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.preset, "preset", "", "named config preset (quick, standard, deep, exhaustive)")
	cmd.PersistentFlags().StringArrayVar(&opts.overrides, "set", nil, "config override as dotted.key=value (repeatable)")

	cmd.AddCommand(
		newResearchCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newExportCmd(opts),
		newValidateCmd(opts),
		newModelSmokeCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// loadConfig loads .env, the YAML config, preset, and --set overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := godotenv.Load(); err == nil {
		slog.Debug("Loaded .env file")
	}

	overrides, err := config.ParseOverrideArgs(opts.overrides)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath, opts.preset, overrides)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildService wires the production dependencies behind the facade.
func buildService(cfg *config.Config) (*service.Service, *store.Store, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	client, err := llm.NewHTTPClient(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	provider, err := search.NewTavilyClient(search.NewLimiter(cfg.Search.CallsPerMinute))
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	scraper := scrape.New(cfg.Scraping, search.NewLimiter(cfg.Scraping.RequestsPerMinute))

	pb, err := prompts.NewBuilder(prompts.DefaultSet())
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return service.New(cfg, st, client, provider, scraper, pb), st, nil
}
