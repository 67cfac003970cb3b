package config

import "time"

// Config is the umbrella configuration object returned by Load and used
// throughout the application. Sections map 1:1 to the YAML file.
type Config struct {
	Database        DatabaseConfig        `yaml:"database"`
	Research        ResearchConfig        `yaml:"research"`
	LLM             LLMConfig             `yaml:"llm"`
	Search          SearchConfig          `yaml:"search"`
	Scraping        ScrapingConfig        `yaml:"scraping"`
	Synthesis       SynthesisConfig       `yaml:"synthesis"`
	GapAnalysis     GapAnalysisConfig     `yaml:"gap_analysis"`
	Quality         QualityConfig         `yaml:"quality"`
	Output          OutputConfig          `yaml:"output"`
	QueryRefinement QueryRefinementConfig `yaml:"query_refinement"`
	Logging         LoggingConfig         `yaml:"logging"`
}

// DatabaseConfig locates the single-file state store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ResearchConfig controls the scheduler and task budgets.
type ResearchConfig struct {
	// MaxConcurrentTasks is the worker pool size W.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// MaxTotalTasks is the global task budget for a session, including
	// follow-ups and gap-fill tasks.
	MaxTotalTasks int `yaml:"max_total_tasks"`

	// MinInitialTasks is the target section count for outline design.
	MinInitialTasks int `yaml:"min_initial_tasks"`

	// TasksPerSection caps tasks planned per section.
	TasksPerSection int `yaml:"tasks_per_section"`

	// QueriesPerTask is the number of search queries generated per task.
	QueriesPerTask int `yaml:"queries_per_task"`

	// ResultsPerQuery is how many sources each query may contribute.
	ResultsPerQuery int `yaml:"results_per_query"`

	// GapFillQueries is the number of per-task gap-fill queries (0 disables).
	GapFillQueries int `yaml:"gap_fill_queries"`

	// MaxRetries bounds per-task retry sweeps.
	MaxRetries int `yaml:"max_retries"`

	// MaxConsecutiveFailures aborts the scheduler when reached.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// MaxLoops bounds scheduler iterations.
	MaxLoops int `yaml:"max_loops"`

	// MaxRuntimeHours bounds session wall-clock time.
	MaxRuntimeHours float64 `yaml:"max_runtime_hours"`

	// MaxTaskDepth bounds recursive follow-up tasks.
	MaxTaskDepth int `yaml:"max_task_depth"`

	// PrePlanningQueries is the number of diverse queries in pre-planning.
	PrePlanningQueries int `yaml:"pre_planning_queries"`
}

// LLMConfig configures the chat endpoint.
type LLMConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// BaseURL overrides the provider endpoint (AZURE_BASE_URL env wins).
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Provider string `yaml:"provider"`

	// MinTavilyScore rejects results below the provider's own relevance score.
	MinTavilyScore float64 `yaml:"min_tavily_score"`

	// CallsPerMinute feeds the global search rate limiter.
	CallsPerMinute int `yaml:"calls_per_minute"`
}

// ScrapingConfig configures page fetching.
type ScrapingConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RequestsPerMinute feeds the global scrape rate limiter.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// MaxContentChars truncates extracted page text.
	MaxContentChars int    `yaml:"max_content_chars"`
	UserAgent       string `yaml:"user_agent"`
}

// SynthesisConfig carries advisory targets communicated to the model.
// They are not enforced programmatically.
type SynthesisConfig struct {
	MinWordsPerSection     int    `yaml:"min_words_per_section"`
	MaxWordsPerSection     int    `yaml:"max_words_per_section"`
	MinCitationsPerSection int    `yaml:"min_citations_per_section"`
	StyleProfile           string `yaml:"style_profile"` // confident | balanced | cautious

	// ContextTokenBudget truncates per-source context fed to note synthesis.
	ContextTokenBudget int `yaml:"context_token_budget"`
}

// GapAnalysisConfig controls the post-research gap phase.
type GapAnalysisConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxGapFillTasks int  `yaml:"max_gap_fill_tasks"`
	MaxNewSections  int  `yaml:"max_new_sections"`
}

// QualityConfig holds source filtering heuristics. Blocklists are data, not
// code: built-in defaults may be replaced wholesale from YAML.
type QualityConfig struct {
	MinSourceQuality  float64  `yaml:"min_source_quality"`
	BlockedDomains    []string `yaml:"blocked_domains"`
	BlockedExtensions []string `yaml:"blocked_extensions"`
	AcademicDomains   []string `yaml:"academic_domains"`
}

// OutputConfig locates report artifacts.
type OutputConfig struct {
	Directory string `yaml:"directory"`
	EnablePDF bool   `yaml:"enable_pdf"`
}

// QueryRefinementConfig controls the optional pre-run brief refinement.
type QueryRefinementConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxQuestions int  `yaml:"max_questions"`
}

// LoggingConfig selects log level and the CLI pretty sink.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Pretty enables the colored CLI sink. Never enabled under serve.
	Pretty bool `yaml:"pretty"`
}
