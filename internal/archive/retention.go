package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// PruneReport summarizes one retention pass over a scenario's archived runs.
type PruneReport struct {
	RemovedCount  int      `json:"removed_count"`
	BytesFreed    int64    `json:"bytes_freed"`
	RemovedRunIDs []string `json:"removed_run_ids"`
	Failures      []string `json:"failures,omitempty"`
}

// Prune keeps the newest maxRuns archived runs of a scenario and deletes the
// rest, oldest first by started_at. maxRuns <= 0 means unlimited retention.
// Run directories with missing or corrupt metadata sort as oldest. Pruning
// never touches the scenario's active database and refuses to run while the
// scenario is mid-simulation.
func Prune(store *workspace.Store, workspaceID, scenarioID string, maxRuns int) (*PruneReport, error) {
	report := &PruneReport{RemovedRunIDs: []string{}}
	if maxRuns <= 0 {
		return report, nil
	}

	scenario, ok, err := store.GetScenario(workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "scenario %s not found in workspace %s", scenarioID, workspaceID)
	}
	if scenario.Status == workspace.ScenarioRunning || scenario.Status == workspace.ScenarioQueued {
		return nil, faults.New(faults.Conflict, "scenario %q is busy; retention deferred", scenario.Name)
	}

	runsDir := store.RunsDir(workspaceID, scenarioID)
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, faults.Wrap(faults.IO, err, "failed to read runs directory")
	}

	type agedRun struct {
		id        string
		startedAt time.Time
	}
	runs := make([]agedRun, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		aged := agedRun{id: e.Name()}
		if meta, err := ReadMetadata(filepath.Join(runsDir, e.Name())); err == nil {
			aged.startedAt = meta.StartedAt
		}
		runs = append(runs, aged)
	}
	if len(runs) <= maxRuns {
		return report, nil
	}

	// Oldest first; zero timestamps (unreadable metadata) land at the front.
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].startedAt.Equal(runs[j].startedAt) {
			return runs[i].id < runs[j].id
		}
		return runs[i].startedAt.Before(runs[j].startedAt)
	})

	for _, victim := range runs[:len(runs)-maxRuns] {
		dir := filepath.Join(runsDir, victim.id)
		size, err := dirSize(dir)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("%s: size: %v", victim.id, err))
		}
		if err := os.RemoveAll(dir); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("%s: remove: %v", victim.id, err))
			continue
		}
		report.RemovedCount++
		report.BytesFreed += size
		report.RemovedRunIDs = append(report.RemovedRunIDs, victim.id)
	}

	if report.RemovedCount > 0 {
		logging.Archive("pruned %d run(s) from %s/%s, freed %d bytes",
			report.RemovedCount, workspaceID, scenarioID, report.BytesFreed)
		logging.Audit(logging.AuditEvent{
			Type:        logging.AuditRetentionPrune,
			WorkspaceID: workspaceID,
			ScenarioID:  scenarioID,
			Detail:      fmt.Sprintf("removed %d run(s)", report.RemovedCount),
			Fields: map[string]interface{}{
				"removed_run_ids": report.RemovedRunIDs,
				"bytes_freed":     report.BytesFreed,
			},
		})
	}
	return report, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
