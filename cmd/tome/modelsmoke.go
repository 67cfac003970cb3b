package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/llm"
)

// smokeTool is a trivial function definition used to verify tool calling.
var smokeTool = llm.ToolDef{
	Name:        "echo",
	Description: "Echo the given text back.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	},
}

func newModelSmokeCmd(opts *rootOptions) *cobra.Command {
	var modelsCSV string
	var skipToolCalling bool

	cmd := &cobra.Command{
		Use:   "model-smoke",
		Short: "Send tiny probe requests to verify model access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging, true)

			client, err := llm.NewHTTPClient(cfg.LLM)
			if err != nil {
				return err
			}

			models := []string{cfg.LLM.Model}
			if modelsCSV != "" {
				models = models[:0]
				for _, m := range strings.Split(modelsCSV, ",") {
					if m = strings.TrimSpace(m); m != "" {
						models = append(models, m)
					}
				}
			}

			anyFailed := false
			for _, model := range models {
				if err := smokeModel(cmd.Context(), client, model, skipToolCalling); err != nil {
					color.Red("✗ %s: %v", model, err)
					anyFailed = true
				} else {
					color.Green("✓ %s", model)
				}
			}
			if anyFailed {
				return fmt.Errorf("model smoke test failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelsCSV, "models", "", "comma-separated model names (defaults to llm.model)")
	cmd.Flags().BoolVar(&skipToolCalling, "skip-tool-calling", false, "skip the tool-calling probe")
	return cmd
}

func smokeModel(ctx context.Context, client llm.Client, model string, skipTools bool) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := client.Complete(ctx, llm.Request{
		Model:     model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Reply with the single word: ok"}},
		MaxTokens: 10,
	})
	if err != nil {
		return fmt.Errorf("completion probe: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" && len(resp.ToolCalls) == 0 {
		return fmt.Errorf("completion probe: empty response")
	}

	if skipTools {
		return nil
	}
	resp, err = client.Complete(ctx, llm.Request{
		Model:      model,
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: `Call the echo function with text "ok".`}},
		Tools:      []llm.ToolDef{smokeTool},
		ToolChoice: "auto",
	})
	if err != nil {
		return fmt.Errorf("tool-calling probe: %w", err)
	}
	if len(resp.ToolCalls) == 0 {
		return fmt.Errorf("tool-calling probe: model returned no tool call")
	}
	return nil
}
