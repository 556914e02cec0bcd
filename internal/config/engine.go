package config

import (
	"fmt"
	"time"
)

// EngineSettings configures how the simulation engine subprocess is launched
// and cleaned up around.
type EngineSettings struct {
	// PythonBin is the interpreter used to launch the simulator. Ignored
	// when SimulatorPath points at a self-contained executable.
	PythonBin string `yaml:"python_bin" json:"python_bin"`

	// SimulatorPath is the engine entry point (script or binary).
	SimulatorPath string `yaml:"simulator_path" json:"simulator_path"`

	// GlobalSeedsDir is the engine's shared seed directory; per-scenario
	// seeds are mirrored here before launch. Empty disables mirroring.
	GlobalSeedsDir string `yaml:"global_seeds_dir" json:"global_seeds_dir"`

	// CensusPath is the default census file checked before launch. A
	// scenario config may override it under census.parquet_path.
	CensusPath string `yaml:"census_path" json:"census_path"`

	// CleanupTables lists engine tables purged of rows outside the
	// simulated year range before each run. Best effort.
	CleanupTables []string `yaml:"cleanup_tables" json:"cleanup_tables"`

	// GlobalDatabasePath is a project-wide fallback database consulted when
	// neither the scenario nor the workspace has one. Reads from it carry a
	// warning since its rows may come from other scenarios.
	GlobalDatabasePath string `yaml:"global_database_path" json:"global_database_path"`

	// TerminateGrace is how long a cancelled engine gets between SIGTERM
	// and SIGKILL.
	TerminateGrace string `yaml:"terminate_grace" json:"terminate_grace"`

	// DriverName is the database/sql driver for engine result databases.
	DriverName string `yaml:"driver_name" json:"driver_name"`
}

// Validate checks engine settings.
func (e *EngineSettings) Validate() error {
	if e.SimulatorPath == "" {
		return fmt.Errorf("engine simulator_path must be configured")
	}
	if e.DriverName == "" {
		return fmt.Errorf("engine driver_name must not be empty")
	}
	if _, err := time.ParseDuration(e.TerminateGrace); err != nil {
		return fmt.Errorf("invalid engine terminate_grace: %w", err)
	}
	return nil
}

// GetTerminateGrace returns the SIGTERM-to-SIGKILL window as a duration.
func (e *EngineSettings) GetTerminateGrace() time.Duration {
	d, err := time.ParseDuration(e.TerminateGrace)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
