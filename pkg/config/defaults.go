package config

import "time"

// Default returns the built-in configuration. User YAML and dotted-key
// overrides are merged on top; value coercion uses these fields' types.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "tome.db",
		},
		Research: ResearchConfig{
			MaxConcurrentTasks:     1,
			MaxTotalTasks:          30,
			MinInitialTasks:        5,
			TasksPerSection:        3,
			QueriesPerTask:         3,
			ResultsPerQuery:        3,
			GapFillQueries:         2,
			MaxRetries:             2,
			MaxConsecutiveFailures: 3,
			MaxLoops:               200,
			MaxRuntimeHours:        4,
			MaxTaskDepth:           1,
			PrePlanningQueries:     4,
		},
		LLM: LLMConfig{
			Model:          "gpt-4o",
			Temperature:    0.4,
			MaxTokens:      8192,
			RequestTimeout: 180 * time.Second,
			MaxAttempts:    3,
		},
		Search: SearchConfig{
			Provider:       "tavily",
			MinTavilyScore: 0.3,
			CallsPerMinute: 60,
		},
		Scraping: ScrapingConfig{
			TimeoutSeconds:    20,
			RequestsPerMinute: 60,
			MaxContentChars:   40000,
			UserAgent:         "tome-research-agent/1.0",
		},
		Synthesis: SynthesisConfig{
			MinWordsPerSection:     800,
			MaxWordsPerSection:     2000,
			MinCitationsPerSection: 3,
			StyleProfile:           "balanced",
			ContextTokenBudget:     6000,
		},
		GapAnalysis: GapAnalysisConfig{
			Enabled:         true,
			MaxGapFillTasks: 5,
			MaxNewSections:  2,
		},
		Quality: QualityConfig{
			MinSourceQuality: 0.35,
			BlockedDomains: []string{
				"pinterest.com",
				"facebook.com",
				"instagram.com",
				"tiktok.com",
				"quora.com",
			},
			BlockedExtensions: []string{
				".zip", ".tar", ".gz", ".csv", ".json", ".xml", ".sql",
			},
			AcademicDomains: []string{
				"arxiv.org",
				"nature.com",
				"sciencedirect.com",
				"springer.com",
				"ieee.org",
				"acm.org",
				"nih.gov",
				"edu",
			},
		},
		Output: OutputConfig{
			Directory: "output",
		},
		QueryRefinement: QueryRefinementConfig{
			Enabled:      false,
			MaxQuestions: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
