package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies env expansion, merges it
// over the built-in defaults, applies dotted-key overrides, and validates.
//
// Steps performed:
//  1. Start from Default()
//  2. Read + env-expand the YAML file (optional; missing file uses defaults)
//  3. Merge user YAML over defaults (non-zero values override)
//  4. Apply the named preset, then explicit overrides (both dotted keys)
//  5. Validate
func Load(path, preset string, overrides map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			slog.Warn("Config file not found, using defaults", "path", path)
		} else {
			expanded := ExpandEnv(data)
			var fileCfg Config
			if err := yaml.Unmarshal(expanded, &fileCfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config: %w", err)
			}
		}
	}

	if preset != "" {
		bundle, ok := Presets()[preset]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", preset)
		}
		if err := ApplyOverrides(cfg, bundle); err != nil {
			return nil, fmt.Errorf("failed to apply preset %q: %w", preset, err)
		}
	}

	if len(overrides) > 0 {
		if err := ApplyOverrides(cfg, overrides); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded",
		"path", path,
		"preset", preset,
		"overrides", len(overrides))
	return cfg, nil
}

// Validate checks cross-field constraints. Invalid values are configuration
// errors, fatal at CLI entry.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Research.MaxConcurrentTasks < 1 || c.Research.MaxConcurrentTasks > 16 {
		return fmt.Errorf("research.max_concurrent_tasks must be between 1 and 16")
	}
	if c.Research.MaxTotalTasks < 1 {
		return fmt.Errorf("research.max_total_tasks must be at least 1")
	}
	if c.Research.MinInitialTasks < 1 {
		return fmt.Errorf("research.min_initial_tasks must be at least 1")
	}
	if c.Research.QueriesPerTask < 1 {
		return fmt.Errorf("research.queries_per_task must be at least 1")
	}
	if c.Research.MaxRetries < 0 {
		return fmt.Errorf("research.max_retries must not be negative")
	}
	if c.Research.MaxRuntimeHours <= 0 {
		return fmt.Errorf("research.max_runtime_hours must be positive")
	}
	if c.Search.CallsPerMinute < 1 {
		return fmt.Errorf("search.calls_per_minute must be at least 1")
	}
	if c.Scraping.RequestsPerMinute < 1 {
		return fmt.Errorf("scraping.requests_per_minute must be at least 1")
	}
	if c.Quality.MinSourceQuality < 0 || c.Quality.MinSourceQuality > 1 {
		return fmt.Errorf("quality.min_source_quality must be within [0, 1]")
	}
	switch c.Synthesis.StyleProfile {
	case "confident", "balanced", "cautious":
	default:
		return fmt.Errorf("synthesis.style_profile must be one of confident, balanced, cautious")
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory must not be empty")
	}
	return nil
}
