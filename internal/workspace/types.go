// Package workspace implements the filesystem-backed store for workspaces,
// scenarios, and their configuration. The store is the sole writer of
// workspace/scenario JSON and YAML files; run execution state lives with the
// executor and reaches disk only through the archiver.
package workspace

import "time"

// ScenarioStatus tracks where a scenario is in its run lifecycle.
type ScenarioStatus string

const (
	ScenarioNotRun    ScenarioStatus = "not_run"
	ScenarioQueued    ScenarioStatus = "queued"
	ScenarioRunning   ScenarioStatus = "running"
	ScenarioCompleted ScenarioStatus = "completed"
	ScenarioFailed    ScenarioStatus = "failed"
	ScenarioCancelled ScenarioStatus = "cancelled"
)

// RunStatus is the lifecycle state of a single execution attempt.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status is write-once final.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Workspace is the root container for configuration and scenarios.
// BaseConfig is stored beside the metadata in base_config.yaml.
type Workspace struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	BaseConfig map[string]interface{} `json:"-"`
}

// WorkspaceSummary is the listing view of a workspace.
type WorkspaceSummary struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ScenarioCount    int        `json:"scenario_count"`
	LastRunAt        *time.Time `json:"last_run_at,omitempty"`
	StorageUsedBytes int64      `json:"storage_used_bytes"`
}

// Scenario is a named set of configuration overrides on a workspace.
// Overrides are stored beside the metadata in overrides.yaml.
type Scenario struct {
	ID             string                 `json:"id"`
	WorkspaceID    string                 `json:"workspace_id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Status         ScenarioStatus         `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	LastRunAt      *time.Time             `json:"last_run_at,omitempty"`
	LastRunID      string                 `json:"last_run_id,omitempty"`
	ResultsSummary map[string]interface{} `json:"results_summary,omitempty"`

	Overrides map[string]interface{} `json:"-"`
}

// Run is one execution attempt of a scenario. Live runs are tracked by the
// executor; the archiver persists the terminal record as run_metadata.json.
type Run struct {
	ID              string     `json:"run_id"`
	WorkspaceID     string     `json:"workspace_id"`
	ScenarioID      string     `json:"scenario_id"`
	ScenarioName    string     `json:"scenario_name,omitempty"`
	Status          RunStatus  `json:"status"`
	Progress        int        `json:"progress"`
	CurrentStage    string     `json:"current_stage,omitempty"`
	CurrentYear     int        `json:"current_year,omitempty"`
	StartYear       int        `json:"start_year"`
	EndYear         int        `json:"end_year"`
	TotalYears      int        `json:"total_years"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	EventsGenerated int        `json:"events_generated,omitempty"`
	RandomSeed      int64      `json:"random_seed,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// WorkspaceUpdate is a partial update; nil fields are left unchanged.
type WorkspaceUpdate struct {
	Name        *string
	Description *string
	BaseConfig  map[string]interface{}
}

// ScenarioUpdate is a partial update; nil fields are left unchanged.
type ScenarioUpdate struct {
	Name        *string
	Description *string
	Overrides   map[string]interface{}
}
