package config

import "fmt"

// RunSettings bounds run execution and retention.
type RunSettings struct {
	MaxRunsPerScenario int    `yaml:"max_runs_per_scenario" json:"max_runs_per_scenario"` // Retention cap, 0 = unlimited
	KeptOutputLines    int    `yaml:"kept_output_lines" json:"kept_output_lines"`         // Rolling engine output buffer
	ErrorExcerptLines  int    `yaml:"error_excerpt_lines" json:"error_excerpt_lines"`     // Lines quoted in engine failures
	SubscriberGrace    string `yaml:"subscriber_grace" json:"subscriber_grace"`           // Wait for first telemetry subscriber
}

// BundleSettings bounds workspace bundle import/export.
type BundleSettings struct {
	MaxImportBytes int64    `yaml:"max_import_bytes" json:"max_import_bytes"` // Hard import cap
	ExcludeGlobs   []string `yaml:"exclude_globs" json:"exclude_globs"`       // Transient files left out of exports
}

// ValidateLimits checks that operational limits are within acceptable ranges.
func (s *Settings) ValidateLimits() error {
	if s.StorageLimitGB <= 0 {
		return fmt.Errorf("storage_limit_gb must be > 0")
	}
	if s.MaxConcurrentSimulations < 1 {
		return fmt.Errorf("max_concurrent_simulations must be >= 1")
	}
	if s.TelemetryIntervalMS < 0 {
		return fmt.Errorf("telemetry_interval_ms must be >= 0")
	}
	if s.RecentEventsLimit < 1 {
		return fmt.Errorf("recent_events_limit must be >= 1")
	}
	if s.Runs.MaxRunsPerScenario < 0 {
		return fmt.Errorf("runs max_runs_per_scenario must be >= 0")
	}
	if s.Runs.KeptOutputLines < 1 {
		return fmt.Errorf("runs kept_output_lines must be >= 1")
	}
	if s.Telemetry.SubscriberBuffer < 1 {
		return fmt.Errorf("telemetry subscriber_buffer must be >= 1")
	}
	if s.Bundle.MaxImportBytes < 1 {
		return fmt.Errorf("bundle max_import_bytes must be >= 1")
	}
	return nil
}
