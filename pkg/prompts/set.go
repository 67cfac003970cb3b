// Package prompts owns every model-facing prompt template. Templates live in
// a named set; the built-in defaults may be overridden from a YAML file,
// validated strictly so a typoed name fails at load rather than at run time.
package prompts

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Prompt names. Each names one template in a Set.
const (
	PromptPrePlanningQueries = "pre_planning_queries"
	PromptPageAnalysis       = "page_analysis"
	PromptOutline            = "outline"
	PromptSectionTasks       = "section_tasks"
	PromptQueryGeneration    = "query_generation"
	PromptExtraction         = "extraction"
	PromptTaskGapAnalysis    = "task_gap_analysis"
	PromptNotes              = "notes"
	PromptNotesNoSources     = "notes_no_sources"
	PromptSectionSynthesis   = "section_synthesis"
	PromptExecutiveSummary   = "executive_summary"
	PromptConclusion         = "conclusion"
	PromptSessionGapAnalysis = "session_gap_analysis"
	PromptQueryRefinement    = "query_refinement"
)

// Set maps prompt names to Go text/template sources.
type Set map[string]string

// DefaultSet returns the built-in templates.
func DefaultSet() Set {
	out := make(Set, len(defaultTemplates))
	for k, v := range defaultTemplates {
		out[k] = v
	}
	return out
}

// LoadSet reads template overrides from a YAML file and merges them over the
// defaults. Unknown prompt names are an error; absent names keep the default.
// An empty path returns the defaults unchanged.
func LoadSet(path string) (Set, error) {
	set := DefaultSet()
	if path == "" {
		return set, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt set: %w", err)
	}

	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse prompt set: %w", err)
	}

	for name, tmpl := range overrides {
		if _, ok := set[name]; !ok {
			return nil, fmt.Errorf("unknown prompt name %q (known: %v)", name, knownNames())
		}
		if tmpl == "" {
			return nil, fmt.Errorf("prompt %q is empty", name)
		}
		set[name] = tmpl
	}
	return set, nil
}

func knownNames() []string {
	names := make([]string, 0, len(defaultTemplates))
	for k := range defaultTemplates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
