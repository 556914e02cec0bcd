package results

import (
	"os"

	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Source says which fallback level a results database was found at.
type Source string

const (
	SourceScenario  Source = "scenario"
	SourceWorkspace Source = "workspace"
	SourceGlobal    Source = "global"
	SourceAbsent    Source = "absent"
)

// Location is a resolved results database. Warning is set when the data may
// not belong exclusively to the requested scenario.
type Location struct {
	Path    string `json:"path,omitempty"`
	Source  Source `json:"source"`
	Warning string `json:"warning,omitempty"`
}

// Resolve finds the database to read for a scenario: the scenario's own,
// then the workspace-level one, then the project-global fallback.
func Resolve(store *workspace.Store, settings *config.Settings, workspaceID, scenarioID string) Location {
	if path := store.DatabasePath(workspaceID, scenarioID); fileExists(path) {
		return Location{Path: path, Source: SourceScenario}
	}
	if path := store.WorkspaceDatabasePath(workspaceID); fileExists(path) {
		return Location{Path: path, Source: SourceWorkspace}
	}
	if path := settings.Engine.GlobalDatabasePath; path != "" && fileExists(path) {
		logging.ResultsWarn("scenario %s reading from global database %s", scenarioID, path)
		return Location{
			Path:    path,
			Source:  SourceGlobal,
			Warning: "reading the project-global database; rows may come from other scenarios",
		}
	}
	return Location{Source: SourceAbsent}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
