package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomeworks/tome/pkg/llm"
	"github.com/tomeworks/tome/pkg/prompts"
)

// queryTool is the function the model is asked to call for query generation.
var queryTool = llm.ToolDef{
	Name:        "generate_queries",
	Description: "Submit the generated web search queries.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queries": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"queries"},
	},
}

// generateQueries asks the model for count search queries. Preference order:
// native tool call, then JSON mode, then plain text. Short lists are topped
// up deterministically; the result is never empty.
func (s *Stage) generateQueries(ctx context.Context, topic, description string, count int) ([]string, error) {
	prompt, err := s.prompts.Render(prompts.PromptQueryGeneration, map[string]any{
		"Count":       count,
		"Topic":       topic,
		"Description": description,
	})
	if err != nil {
		return nil, err
	}

	queries := s.queriesViaTool(ctx, prompt, count)
	if len(queries) == 0 {
		queries = s.queriesViaJSON(ctx, prompt, count)
	}
	if len(queries) == 0 {
		queries = s.queriesViaText(ctx, prompt, count)
	}

	queries = topUpQueries(queries, topic, description, count)
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries produced for topic %q", topic)
	}
	return queries, nil
}

func (s *Stage) queriesViaTool(ctx context.Context, prompt string, count int) []string {
	resp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.cfg.LLM.Temperature,
		Tools:       []llm.ToolDef{queryTool},
		ToolChoice:  queryTool.Name,
	})
	if err != nil {
		s.logger.Debug("Tool-call query generation failed", "error", err)
		return nil
	}
	for _, tc := range resp.ToolCalls {
		if tc.Name != queryTool.Name {
			continue
		}
		var args struct {
			Queries []string `json:"queries"`
		}
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			continue
		}
		if qs := cleanQueries(args.Queries, count); len(qs) > 0 {
			return qs
		}
	}
	return nil
}

func (s *Stage) queriesViaJSON(ctx context.Context, prompt string, count int) []string {
	resp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.cfg.LLM.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		s.logger.Debug("JSON-mode query generation failed", "error", err)
		return nil
	}
	return ParseQueryList(resp.Content, count)
}

func (s *Stage) queriesViaText(ctx context.Context, prompt string, count int) []string {
	resp, err := s.llm.Complete(ctx, llm.Request{
		Model:       s.cfg.LLM.Model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: s.cfg.LLM.Temperature,
	})
	if err != nil {
		s.logger.Debug("Plain-text query generation failed", "error", err)
		return nil
	}
	return ParseQueryList(resp.Content, count)
}

// topUpQueries pads a short list from a fixed template so research always has
// count queries to run.
func topUpQueries(queries []string, topic, description string, count int) []string {
	candidates := []string{
		topic,
		topic + " overview",
		topic + " " + firstWords(description, 12),
		topic + " latest developments",
		topic + " examples",
	}
	seen := map[string]bool{}
	for _, q := range queries {
		seen[strings.ToLower(q)] = true
	}
	for _, c := range candidates {
		if len(queries) >= count {
			break
		}
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		queries = append(queries, c)
	}
	return queries
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
