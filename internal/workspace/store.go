package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/seeds"
)

// Store provides filesystem-backed CRUD for workspaces and scenarios.
// All JSON/YAML writes go through write-temp-then-rename so readers never
// observe a partial file.
type Store struct {
	mu          sync.Mutex
	root        string
	defaultPath string // optional built-in base config
	scenarioMu  map[string]*sync.Mutex
}

// New creates a Store rooted at root. defaultConfigPath may be empty.
func New(root, defaultConfigPath string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("workspaces root required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to create workspaces root")
	}
	return &Store{
		root:        root,
		defaultPath: defaultConfigPath,
		scenarioMu:  make(map[string]*sync.Mutex),
	}, nil
}

// scenarioLock returns the mutex guarding one scenario's status and files.
func (s *Store) scenarioLock(workspaceID, scenarioID string) *sync.Mutex {
	key := workspaceID + "/" + scenarioID
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.scenarioMu[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.scenarioMu[key] = m
	return m
}

// ListWorkspaces returns summaries for every workspace under the root.
// Directories without workspace.json are treated as not-yet-created.
func (s *Store) ListWorkspaces() ([]WorkspaceSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to read workspaces root")
	}

	summaries := make([]WorkspaceSummary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ws, ok, err := s.readWorkspaceMeta(e.Name())
		if err != nil {
			logging.StoreWarn("skipping unreadable workspace %s: %v", e.Name(), err)
			continue
		}
		if !ok {
			continue
		}

		scenarios, err := s.ListScenarios(ws.ID)
		if err != nil {
			logging.StoreWarn("listing scenarios for %s: %v", ws.ID, err)
		}
		var lastRun *time.Time
		for i := range scenarios {
			if t := scenarios[i].LastRunAt; t != nil {
				if lastRun == nil || t.After(*lastRun) {
					lastRun = t
				}
			}
		}

		summaries = append(summaries, WorkspaceSummary{
			ID:               ws.ID,
			Name:             ws.Name,
			Description:      ws.Description,
			CreatedAt:        ws.CreatedAt,
			UpdatedAt:        ws.UpdatedAt,
			ScenarioCount:    len(scenarios),
			LastRunAt:        lastRun,
			StorageUsedBytes: dirSize(s.WorkspaceDir(ws.ID)),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// CreateWorkspace creates the directory tree and metadata for a new
// workspace. A nil baseConfig falls back to the configured defaults file,
// or an empty mapping when none is configured.
func (s *Store) CreateWorkspace(name, description string, baseConfig map[string]interface{}) (*Workspace, error) {
	if strings.TrimSpace(name) == "" {
		return nil, faults.New(faults.Validation, "workspace name must not be empty")
	}
	if baseConfig == nil {
		var err error
		baseConfig, err = s.loadDefaultConfig()
		if err != nil {
			return nil, err
		}
	}
	if err := validateSeedSections(baseConfig); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ws := &Workspace{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		BaseConfig:  baseConfig,
	}

	dir := s.WorkspaceDir(ws.ID)
	if err := os.MkdirAll(filepath.Join(dir, ScenariosDirName), 0755); err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to create workspace directory")
	}
	// base_config.yaml first; workspace.json last so readers treat a
	// directory without it as not-yet-created.
	if err := writeYAMLAtomic(filepath.Join(dir, BaseConfigFile), baseConfig); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := writeJSONAtomic(filepath.Join(dir, WorkspaceMetaFile), ws); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	logging.Store("created workspace %s (%q)", ws.ID, ws.Name)
	logging.Audit(logging.AuditEvent{Type: logging.AuditWorkspaceCreate, WorkspaceID: ws.ID, Detail: ws.Name})
	return ws, nil
}

// GetWorkspace loads a workspace with its base config. The boolean is false
// when the workspace does not exist.
func (s *Store) GetWorkspace(id string) (*Workspace, bool, error) {
	ws, ok, err := s.readWorkspaceMeta(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	cfg, err := readYAMLMap(filepath.Join(s.WorkspaceDir(id), BaseConfigFile))
	if err != nil {
		return nil, false, err
	}
	ws.BaseConfig = cfg
	return ws, true, nil
}

// UpdateWorkspace applies a partial update. Nil fields are unchanged.
func (s *Store) UpdateWorkspace(id string, upd WorkspaceUpdate) (*Workspace, error) {
	ws, ok, err := s.GetWorkspace(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "workspace %s", id)
	}

	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return nil, faults.New(faults.Validation, "workspace name must not be empty")
		}
		ws.Name = *upd.Name
	}
	if upd.Description != nil {
		ws.Description = *upd.Description
	}
	if upd.BaseConfig != nil {
		if err := validateSeedSections(upd.BaseConfig); err != nil {
			return nil, err
		}
		ws.BaseConfig = upd.BaseConfig
	}
	ws.UpdatedAt = time.Now().UTC()

	dir := s.WorkspaceDir(id)
	if upd.BaseConfig != nil {
		if err := writeYAMLAtomic(filepath.Join(dir, BaseConfigFile), ws.BaseConfig); err != nil {
			return nil, err
		}
	}
	if err := writeJSONAtomic(filepath.Join(dir, WorkspaceMetaFile), ws); err != nil {
		return nil, err
	}

	logging.Audit(logging.AuditEvent{Type: logging.AuditWorkspaceUpdate, WorkspaceID: id})
	return ws, nil
}

// DeleteWorkspace removes the workspace tree recursively.
func (s *Store) DeleteWorkspace(id string) error {
	_, ok, err := s.readWorkspaceMeta(id)
	if err != nil {
		return err
	}
	if !ok {
		return faults.New(faults.NotFound, "workspace %s", id)
	}
	if err := os.RemoveAll(s.WorkspaceDir(id)); err != nil {
		return faults.Wrap(faults.IO, err, "failed to delete workspace %s", id)
	}
	logging.Store("deleted workspace %s", id)
	logging.Audit(logging.AuditEvent{Type: logging.AuditWorkspaceDelete, WorkspaceID: id})
	return nil
}

// FindWorkspaceByName returns the first workspace whose name matches
// case-insensitively. Used by bundle import collision detection.
func (s *Store) FindWorkspaceByName(name string) (*Workspace, bool, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, false, faults.Wrap(faults.IO, err, "failed to read workspaces root")
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ws, ok, err := s.readWorkspaceMeta(e.Name())
		if err != nil || !ok {
			continue
		}
		if strings.ToLower(ws.Name) == want {
			return ws, true, nil
		}
	}
	return nil, false, nil
}

// WorkspaceNames returns every workspace name (for import conflict
// suggestions).
func (s *Store) WorkspaceNames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to read workspaces root")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ws, ok, err := s.readWorkspaceMeta(e.Name())
		if err != nil || !ok {
			continue
		}
		names = append(names, ws.Name)
	}
	return names, nil
}

// MergedConfig returns deep-merge(base_config, overrides) for a scenario.
func (s *Store) MergedConfig(workspaceID, scenarioID string) (map[string]interface{}, error) {
	ws, ok, err := s.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "workspace %s", workspaceID)
	}
	sc, ok, err := s.GetScenario(workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "scenario %s", scenarioID)
	}
	return DeepMerge(ws.BaseConfig, sc.Overrides), nil
}

// readWorkspaceMeta loads workspace.json only. ok=false means absent.
func (s *Store) readWorkspaceMeta(id string) (*Workspace, bool, error) {
	path := filepath.Join(s.WorkspaceDir(id), WorkspaceMetaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, faults.Wrap(faults.IO, err, "failed to read %s", path)
	}
	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, false, faults.Wrap(faults.IO, err, "corrupt workspace.json for %s", id)
	}
	return &ws, true, nil
}

// loadDefaultConfig reads the configured defaults file, or returns an empty
// mapping when none is configured.
func (s *Store) loadDefaultConfig() (map[string]interface{}, error) {
	if s.defaultPath == "" {
		return map[string]interface{}{}, nil
	}
	cfg, err := readYAMLMap(s.defaultPath)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to load default config %s", s.defaultPath)
	}
	return cfg, nil
}

// validateSeedSections rejects configs whose hazard or band sections fail
// validation. Mixed valid/invalid updates are rejected wholesale.
func validateSeedSections(cfg map[string]interface{}) error {
	issues := seeds.ValidateConfigSections(cfg)
	if len(issues) == 0 {
		return nil
	}
	return faults.Wrap(faults.Validation, issues, "seed configuration rejected")
}

// --- atomic file helpers ---

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to marshal %s", filepath.Base(path))
	}
	return writeFileAtomic(path, data)
}

func writeYAMLAtomic(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to marshal %s", filepath.Base(path))
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return faults.Wrap(faults.IO, err, "failed to write %s", filepath.Base(path))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return faults.Wrap(faults.IO, err, "failed to replace %s", filepath.Base(path))
	}
	return nil
}

func readYAMLMap(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, faults.Wrap(faults.IO, err, "failed to read %s", path)
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to parse %s", path)
	}
	return out, nil
}
