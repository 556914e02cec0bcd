package workspace

import "path/filepath"

// File and directory names under the workspaces root. Stable external
// contract; bundles copy these trees verbatim.
const (
	WorkspaceMetaFile = "workspace.json"
	BaseConfigFile    = "base_config.yaml"
	ScenarioMetaFile  = "scenario.json"
	OverridesFile     = "overrides.yaml"
	DatabaseFile      = "simulation.duckdb"
	RunConfigFile     = "config.yaml"
	RunMetadataFile   = "run_metadata.json"
	ScenariosDirName  = "scenarios"
	SeedsDirName      = "seeds"
	ResultsDirName    = "results"
	RunsDirName       = "runs"
)

// Root returns the workspaces root directory.
func (s *Store) Root() string { return s.root }

// WorkspaceDir returns <root>/<workspace_id>.
func (s *Store) WorkspaceDir(workspaceID string) string {
	return filepath.Join(s.root, workspaceID)
}

// ScenarioDir returns <root>/<workspace_id>/scenarios/<scenario_id>.
func (s *Store) ScenarioDir(workspaceID, scenarioID string) string {
	return filepath.Join(s.root, workspaceID, ScenariosDirName, scenarioID)
}

// SeedsDir returns the scenario-local seed CSV directory.
func (s *Store) SeedsDir(workspaceID, scenarioID string) string {
	return filepath.Join(s.ScenarioDir(workspaceID, scenarioID), SeedsDirName)
}

// ResultsDir returns the latest-run artifact directory for a scenario.
func (s *Store) ResultsDir(workspaceID, scenarioID string) string {
	return filepath.Join(s.ScenarioDir(workspaceID, scenarioID), ResultsDirName)
}

// RunsDir returns the archived-runs directory for a scenario.
func (s *Store) RunsDir(workspaceID, scenarioID string) string {
	return filepath.Join(s.ScenarioDir(workspaceID, scenarioID), RunsDirName)
}

// RunDir returns the archive directory for one run.
func (s *Store) RunDir(workspaceID, scenarioID, runID string) string {
	return filepath.Join(s.RunsDir(workspaceID, scenarioID), runID)
}

// DatabasePath returns the scenario's active engine database path.
func (s *Store) DatabasePath(workspaceID, scenarioID string) string {
	return filepath.Join(s.ScenarioDir(workspaceID, scenarioID), DatabaseFile)
}

// RunConfigPath returns the scenario's persisted effective config path.
func (s *Store) RunConfigPath(workspaceID, scenarioID string) string {
	return filepath.Join(s.ScenarioDir(workspaceID, scenarioID), RunConfigFile)
}

// WorkspaceDatabasePath returns the workspace-level fallback database.
func (s *Store) WorkspaceDatabasePath(workspaceID string) string {
	return filepath.Join(s.root, workspaceID, DatabaseFile)
}
