package config

// Presets returns the named override bundles. Each bundle is applied through
// the same dotted-key path as explicit CLI overrides, so a preset can never
// set a value an override could not.
func Presets() map[string]map[string]string {
	return map[string]map[string]string{
		"quick": {
			"research.min_initial_tasks":      "3",
			"research.tasks_per_section":      "1",
			"research.max_total_tasks":        "6",
			"research.queries_per_task":       "2",
			"research.results_per_query":      "2",
			"research.gap_fill_queries":       "0",
			"gap_analysis.enabled":            "false",
			"synthesis.min_words_per_section": "400",
			"synthesis.max_words_per_section": "900",
		},
		"standard": {
			"research.min_initial_tasks": "5",
			"research.tasks_per_section": "3",
			"research.max_total_tasks":   "20",
		},
		"deep": {
			"research.min_initial_tasks":      "7",
			"research.tasks_per_section":      "4",
			"research.max_total_tasks":        "40",
			"research.queries_per_task":       "4",
			"research.results_per_query":      "4",
			"gap_analysis.max_gap_fill_tasks": "8",
		},
		"exhaustive": {
			"research.min_initial_tasks":      "10",
			"research.tasks_per_section":      "5",
			"research.max_total_tasks":        "80",
			"research.queries_per_task":       "5",
			"research.results_per_query":      "5",
			"research.max_concurrent_tasks":   "4",
			"gap_analysis.max_gap_fill_tasks": "12",
			"gap_analysis.max_new_sections":   "4",
			"synthesis.max_words_per_section": "3000",
		},
	}
}
