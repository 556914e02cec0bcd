package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// ListScenarios returns every scenario of a workspace, oldest first.
func (s *Store) ListScenarios(workspaceID string) ([]Scenario, error) {
	if _, ok, err := s.readWorkspaceMeta(workspaceID); err != nil {
		return nil, err
	} else if !ok {
		return nil, faults.New(faults.NotFound, "workspace %s", workspaceID)
	}

	dir := filepath.Join(s.WorkspaceDir(workspaceID), ScenariosDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Scenario{}, nil
		}
		return nil, faults.Wrap(faults.IO, err, "failed to read scenarios dir")
	}

	scenarios := make([]Scenario, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sc, ok, err := s.readScenarioMeta(workspaceID, e.Name())
		if err != nil {
			logging.StoreWarn("skipping unreadable scenario %s: %v", e.Name(), err)
			continue
		}
		if ok {
			scenarios = append(scenarios, *sc)
		}
	}

	sort.Slice(scenarios, func(i, j int) bool {
		return scenarios[i].CreatedAt.Before(scenarios[j].CreatedAt)
	})
	return scenarios, nil
}

// CreateScenario creates a scenario with the given overrides.
func (s *Store) CreateScenario(workspaceID, name, description string, overrides map[string]interface{}) (*Scenario, error) {
	if _, ok, err := s.readWorkspaceMeta(workspaceID); err != nil {
		return nil, err
	} else if !ok {
		return nil, faults.New(faults.NotFound, "workspace %s", workspaceID)
	}
	if strings.TrimSpace(name) == "" {
		return nil, faults.New(faults.Validation, "scenario name must not be empty")
	}
	if overrides == nil {
		overrides = map[string]interface{}{}
	}
	if err := validateSeedSections(overrides); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sc := &Scenario{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		Status:      ScenarioNotRun,
		CreatedAt:   now,
		UpdatedAt:   now,
		Overrides:   overrides,
	}

	dir := s.ScenarioDir(workspaceID, sc.ID)
	for _, sub := range []string{ResultsDirName, RunsDirName, SeedsDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, faults.Wrap(faults.IO, err, "failed to create scenario directory")
		}
	}
	if err := writeYAMLAtomic(filepath.Join(dir, OverridesFile), overrides); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := writeJSONAtomic(filepath.Join(dir, ScenarioMetaFile), sc); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	logging.Store("created scenario %s (%q) in workspace %s", sc.ID, name, workspaceID)
	logging.Audit(logging.AuditEvent{Type: logging.AuditScenarioCreate, WorkspaceID: workspaceID, ScenarioID: sc.ID, Detail: name})
	return sc, nil
}

// GetScenario loads a scenario with its overrides. ok=false means absent.
func (s *Store) GetScenario(workspaceID, scenarioID string) (*Scenario, bool, error) {
	sc, ok, err := s.readScenarioMeta(workspaceID, scenarioID)
	if err != nil || !ok {
		return nil, ok, err
	}
	ov, err := readYAMLMap(filepath.Join(s.ScenarioDir(workspaceID, scenarioID), OverridesFile))
	if err != nil {
		return nil, false, err
	}
	sc.Overrides = ov
	return sc, true, nil
}

// UpdateScenario applies a partial update. Overrides passing nil are left
// unchanged; callers must not update a running scenario.
func (s *Store) UpdateScenario(workspaceID, scenarioID string, upd ScenarioUpdate) (*Scenario, error) {
	lock := s.scenarioLock(workspaceID, scenarioID)
	lock.Lock()
	defer lock.Unlock()

	sc, ok, err := s.GetScenario(workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "scenario %s", scenarioID)
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, faults.New(faults.Validation, "scenario name must not be empty")
		}
		sc.Name = *upd.Name
	}
	if upd.Description != nil {
		sc.Description = *upd.Description
	}
	if upd.Overrides != nil {
		if err := validateSeedSections(upd.Overrides); err != nil {
			return nil, err
		}
		sc.Overrides = upd.Overrides
	}
	sc.UpdatedAt = time.Now().UTC()

	dir := s.ScenarioDir(workspaceID, scenarioID)
	if upd.Overrides != nil {
		if err := writeYAMLAtomic(filepath.Join(dir, OverridesFile), sc.Overrides); err != nil {
			return nil, err
		}
	}
	if err := writeJSONAtomic(filepath.Join(dir, ScenarioMetaFile), sc); err != nil {
		return nil, err
	}

	logging.Audit(logging.AuditEvent{Type: logging.AuditScenarioUpdate, WorkspaceID: workspaceID, ScenarioID: scenarioID})
	return sc, nil
}

// DeleteScenario removes the scenario tree recursively.
func (s *Store) DeleteScenario(workspaceID, scenarioID string) error {
	lock := s.scenarioLock(workspaceID, scenarioID)
	lock.Lock()
	defer lock.Unlock()

	sc, ok, err := s.readScenarioMeta(workspaceID, scenarioID)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.NotFound, "scenario %s", scenarioID)
	}
	if sc.Status == ScenarioRunning {
		return faults.New(faults.Conflict, "scenario %s is running", scenarioID)
	}
	if err := os.RemoveAll(s.ScenarioDir(workspaceID, scenarioID)); err != nil {
		return faults.Wrap(faults.IO, err, "failed to delete scenario %s", scenarioID)
	}
	logging.Audit(logging.AuditEvent{Type: logging.AuditScenarioDelete, WorkspaceID: workspaceID, ScenarioID: scenarioID})
	return nil
}

// UpdateScenarioStatus is the executor's hook for status transitions. When
// runID is non-empty, last_run_id and last_run_at are refreshed. A non-nil
// resultsSummary replaces the stored summary.
func (s *Store) UpdateScenarioStatus(workspaceID, scenarioID string, status ScenarioStatus, runID string, resultsSummary map[string]interface{}) error {
	lock := s.scenarioLock(workspaceID, scenarioID)
	lock.Lock()
	defer lock.Unlock()

	sc, ok, err := s.readScenarioMeta(workspaceID, scenarioID)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.NotFound, "scenario %s", scenarioID)
	}

	sc.Status = status
	sc.UpdatedAt = time.Now().UTC()
	if runID != "" {
		now := time.Now().UTC()
		sc.LastRunAt = &now
		sc.LastRunID = runID
	}
	if resultsSummary != nil {
		sc.ResultsSummary = resultsSummary
	}

	path := filepath.Join(s.ScenarioDir(workspaceID, scenarioID), ScenarioMetaFile)
	if err := writeJSONAtomic(path, sc); err != nil {
		return err
	}
	logging.StoreDebug("scenario %s status -> %s (run %s)", scenarioID, status, runID)
	return nil
}

// ScenarioStatusOf reads just the status field.
func (s *Store) ScenarioStatusOf(workspaceID, scenarioID string) (ScenarioStatus, error) {
	sc, ok, err := s.readScenarioMeta(workspaceID, scenarioID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", faults.New(faults.NotFound, "scenario %s", scenarioID)
	}
	return sc.Status, nil
}

// AnyScenarioRunning reports whether any scenario in the workspace is
// currently running. Bundle export and retention use this gate.
func (s *Store) AnyScenarioRunning(workspaceID string) (bool, error) {
	scenarios, err := s.ListScenarios(workspaceID)
	if err != nil {
		return false, err
	}
	for i := range scenarios {
		if scenarios[i].Status == ScenarioRunning || scenarios[i].Status == ScenarioQueued {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) readScenarioMeta(workspaceID, scenarioID string) (*Scenario, bool, error) {
	path := filepath.Join(s.ScenarioDir(workspaceID, scenarioID), ScenarioMetaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, faults.Wrap(faults.IO, err, "failed to read %s", path)
	}
	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, false, faults.Wrap(faults.IO, err, "corrupt scenario.json for %s", scenarioID)
	}
	return &sc, true, nil
}
