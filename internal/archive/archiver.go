// Package archive persists terminal run artifacts under
// <scenario>/runs/<run_id>/ and enforces the per-scenario retention cap.
// Archiving is best-effort throughout: the run is already terminal when any
// of this executes, so individual step failures are logged, not raised.
package archive

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Exporter turns a run's result database into a human-readable artifact
// (spreadsheet or similar) inside the run directory. Optional.
type Exporter interface {
	Export(dbPath, runDir string, run *workspace.Run) (artifact string, err error)
}

// Artifact describes one archived file, digested for later integrity checks.
type Artifact struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Blake3    string `json:"blake3"`
}

// Archiver copies run outputs into the per-run archive directory.
type Archiver struct {
	store    *workspace.Store
	exporter Exporter // may be nil
}

// NewArchiver creates an archiver over the store. exporter may be nil.
func NewArchiver(store *workspace.Store, exporter Exporter) *Archiver {
	return &Archiver{store: store, exporter: exporter}
}

// Archive writes the run directory: config.yaml, run_metadata.json, a
// snapshot of the engine database, the optional export, and a digest list.
// Only the directory creation itself can fail the call.
func (a *Archiver) Archive(run *workspace.Run, effectiveConfig map[string]interface{}) (string, error) {
	runDir := a.store.RunDir(run.WorkspaceID, run.ScenarioID, run.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", faults.Wrap(faults.IO, err, "failed to create run directory")
	}
	timer := logging.StartTimer(logging.CategoryArchive, "archive "+run.ID)
	defer timer.Stop()

	if err := writeYAML(filepath.Join(runDir, workspace.RunConfigFile), effectiveConfig); err != nil {
		logging.ArchiveWarn("run %s: config snapshot: %v", run.ID, err)
	}
	if err := writeJSON(filepath.Join(runDir, workspace.RunMetadataFile), run); err != nil {
		logging.ArchiveWarn("run %s: metadata: %v", run.ID, err)
	}

	dbPath := a.store.DatabasePath(run.WorkspaceID, run.ScenarioID)
	if _, err := os.Stat(dbPath); err == nil {
		snapshot := filepath.Join(runDir, workspace.DatabaseFile)
		if err := copyFile(dbPath, snapshot); err != nil {
			logging.ArchiveWarn("run %s: database snapshot: %v", run.ID, err)
		}
		if a.exporter != nil && run.Status == workspace.RunCompleted {
			if artifact, err := a.exporter.Export(dbPath, runDir, run); err != nil {
				logging.ArchiveWarn("run %s: export: %v", run.ID, err)
			} else if artifact != "" {
				logging.Archive("run %s: exported %s", run.ID, artifact)
			}
		}
	}

	a.writeDigests(runDir, run.ID)

	logging.Audit(logging.AuditEvent{
		Type:        auditTypeFor(run.Status),
		WorkspaceID: run.WorkspaceID,
		ScenarioID:  run.ScenarioID,
		RunID:       run.ID,
		Detail:      string(run.Status),
	})
	return runDir, nil
}

func auditTypeFor(status workspace.RunStatus) logging.AuditEventType {
	switch status {
	case workspace.RunFailed:
		return logging.AuditRunFail
	case workspace.RunCancelled:
		return logging.AuditRunCancel
	default:
		return logging.AuditRunComplete
	}
}

// writeDigests records a blake3 digest per archived file in artifacts.json.
func (a *Archiver) writeDigests(runDir, runID string) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		logging.ArchiveWarn("run %s: digest listing: %v", runID, err)
		return
	}
	artifacts := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == artifactsFile {
			continue
		}
		path := filepath.Join(runDir, e.Name())
		sum, size, err := digestFile(path)
		if err != nil {
			logging.ArchiveWarn("run %s: digest %s: %v", runID, e.Name(), err)
			continue
		}
		artifacts = append(artifacts, Artifact{Name: e.Name(), SizeBytes: size, Blake3: sum})
	}
	if err := writeJSON(filepath.Join(runDir, artifactsFile), artifacts); err != nil {
		logging.ArchiveWarn("run %s: digest write: %v", runID, err)
	}
}

const artifactsFile = "artifacts.json"

// ReadMetadata loads the archived run record from a run directory.
func ReadMetadata(runDir string) (*workspace.Run, error) {
	data, err := os.ReadFile(filepath.Join(runDir, workspace.RunMetadataFile))
	if err != nil {
		return nil, err
	}
	var run workspace.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, faults.Wrap(faults.IO, err, "corrupt run metadata in %s", runDir)
	}
	return &run, nil
}

// ListArchivedRuns returns metadata for each archived run of a scenario,
// newest first. Directories without readable metadata are skipped.
func ListArchivedRuns(store *workspace.Store, workspaceID, scenarioID string) ([]workspace.Run, error) {
	runsDir := store.RunsDir(workspaceID, scenarioID)
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []workspace.Run{}, nil
		}
		return nil, faults.Wrap(faults.IO, err, "failed to read runs directory")
	}
	runs := make([]workspace.Run, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := ReadMetadata(filepath.Join(runsDir, e.Name()))
		if err != nil {
			logging.ArchiveDebug("skipping %s: %v", e.Name(), err)
			continue
		}
		runs = append(runs, *run)
	}
	sortRunsNewestFirst(runs)
	return runs, nil
}

func sortRunsNewestFirst(runs []workspace.Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

func digestFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := blake3.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
