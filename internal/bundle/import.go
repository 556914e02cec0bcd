package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Conflict resolutions accepted by Import.
const (
	ResolutionRename  = "rename"
	ResolutionReplace = "replace"
	ResolutionSkip    = "skip"
)

// Import outcome statuses. Partial means the workspace landed but some of
// its metadata had to be rebuilt or left untouched.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// A bundle's uncompressed payload may exceed the on-disk cap, but not
// without limit.
const maxExpansionFactor = 8

// NameConflict reports that a bundle's workspace name is already taken.
type NameConflict struct {
	ExistingID    string `json:"existing_id"`
	Name          string `json:"name"`
	SuggestedName string `json:"suggested_name"`
}

// Validation is the pre-import report on a bundle file.
type Validation struct {
	Path      string        `json:"path"`
	SizeBytes int64         `json:"size_bytes"`
	Manifest  *Manifest     `json:"manifest"`
	Conflict  *NameConflict `json:"conflict,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// ImportResult is the terminal record of one import.
type ImportResult struct {
	WorkspaceID   string   `json:"workspace_id,omitempty"`
	Name          string   `json:"name"`
	ScenarioCount int      `json:"scenario_count"`
	Status        string   `json:"status"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Validate inspects a bundle without importing it: size cap, archive
// integrity, manifest schema, and name collisions. A failed check is an
// error; survivable oddities come back as warnings.
func (b *Bundler) Validate(path string) (*Validation, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, faults.New(faults.NotFound, "bundle %s does not exist", path)
		}
		return nil, faults.Wrap(faults.IO, err, "failed to stat bundle")
	}
	if info.Size() > b.settings.Bundle.MaxImportBytes {
		return nil, faults.New(faults.ResourceLimit, "bundle is %d bytes; the import limit is %d",
			info.Size(), b.settings.Bundle.MaxImportBytes)
	}

	manifest, err := readManifest(path)
	if err != nil {
		return nil, err
	}

	v := &Validation{Path: path, SizeBytes: info.Size(), Manifest: manifest}
	if newerFormat(manifest.Version) {
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"bundle format %s is newer than this build writes (%s); some content may be ignored",
			manifest.Version, ManifestVersion))
	}

	existing, ok, err := b.store.FindWorkspaceByName(manifest.WorkspaceName)
	if err != nil {
		return nil, err
	}
	if ok {
		names, err := b.store.WorkspaceNames()
		if err != nil {
			return nil, err
		}
		v.Conflict = &NameConflict{
			ExistingID:    existing.ID,
			Name:          manifest.WorkspaceName,
			SuggestedName: suggestName(names, manifest.WorkspaceName),
		}
	}
	return v, nil
}

// Import brings a bundle into the store as a new workspace. resolution picks
// what to do when the bundle's name is already taken; with no conflict it is
// ignored (rename with an explicit newName still applies). The imported tree
// is assembled in a hidden staging directory and committed with one rename.
func (b *Bundler) Import(path, resolution, newName string) (*ImportResult, error) {
	switch resolution {
	case "", ResolutionRename, ResolutionReplace, ResolutionSkip:
	default:
		return nil, faults.New(faults.Validation, "unknown conflict resolution %q", resolution)
	}

	v, err := b.Validate(path)
	if err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryBundle, "import "+filepath.Base(path))
	defer timer.Stop()

	manifest := v.Manifest
	name := manifest.WorkspaceName
	warnings := append([]string{}, v.Warnings...)

	var replaceID string
	if v.Conflict != nil {
		switch resolution {
		case ResolutionSkip:
			logging.Bundle("import %s skipped: workspace %q already exists", filepath.Base(path), name)
			return &ImportResult{
				Name:          name,
				ScenarioCount: manifest.Contents.ScenarioCount,
				Status:        StatusSkipped,
				Warnings:      warnings,
			}, nil
		case ResolutionRename:
			name = v.Conflict.SuggestedName
			if newName != "" {
				name = newName
			}
		case ResolutionReplace:
			replaceID = v.Conflict.ExistingID
		default:
			return nil, faults.New(faults.Conflict,
				"workspace %q already exists; resolve with rename, replace, or skip (suggested name: %s)",
				name, v.Conflict.SuggestedName)
		}
	} else if resolution == ResolutionRename && newName != "" {
		name = newName
	}

	staging, err := os.MkdirTemp(b.store.Root(), ".import-")
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)

	maxExtracted := b.settings.Bundle.MaxImportBytes * maxExpansionFactor
	if err := extractBundle(path, staging, maxExtracted); err != nil {
		return nil, err
	}

	degraded := false
	metaPath := filepath.Join(staging, workspace.WorkspaceMetaFile)
	if sum, err := checksumFile(metaPath); err == nil {
		if sum != manifest.Contents.ChecksumSHA256 {
			warnings = append(warnings, "workspace.json does not match the manifest checksum; the bundle was modified after export")
			logging.BundleWarn("import %s: workspace.json checksum mismatch", filepath.Base(path))
		}
	}

	now := time.Now().UTC()
	ws := &workspace.Workspace{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
	if data, err := os.ReadFile(metaPath); err != nil {
		degraded = true
		warnings = append(warnings, "bundle has no workspace.json; metadata rebuilt from the manifest")
	} else {
		var prev workspace.Workspace
		if err := json.Unmarshal(data, &prev); err != nil {
			degraded = true
			warnings = append(warnings, "workspace.json in the bundle is corrupt; metadata rebuilt from the manifest")
		} else {
			ws.Description = prev.Description
			if !prev.CreatedAt.IsZero() {
				ws.CreatedAt = prev.CreatedAt
			}
		}
	}
	if err := writeJSONFile(metaPath, ws); err != nil {
		return nil, err
	}

	count, scenarioWarnings := rehomeScenarios(staging, ws.ID)
	if len(scenarioWarnings) > 0 {
		degraded = true
		warnings = append(warnings, scenarioWarnings...)
	}

	// The replaced workspace survives until the incoming tree is fully staged,
	// so a bad bundle cannot take out the original.
	if replaceID != "" {
		if err := b.store.DeleteWorkspace(replaceID); err != nil {
			return nil, err
		}
	}
	destDir := b.store.WorkspaceDir(ws.ID)
	if err := os.Rename(staging, destDir); err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to move imported workspace into place")
	}

	status := StatusSuccess
	if degraded {
		status = StatusPartial
	}
	logging.Bundle("imported %s as workspace %s (%q): %d scenarios, %s",
		filepath.Base(path), ws.ID, name, count, status)
	logging.Audit(logging.AuditEvent{
		Type:        logging.AuditBundleImport,
		WorkspaceID: ws.ID,
		Detail:      name,
		Fields: map[string]interface{}{
			"source":         filepath.Base(path),
			"status":         status,
			"scenario_count": count,
		},
	})
	return &ImportResult{
		WorkspaceID:   ws.ID,
		Name:          name,
		ScenarioCount: count,
		Status:        status,
		Warnings:      warnings,
	}, nil
}

// readManifest pulls manifest.json out of the archive without extracting
// anything else.
func readManifest(path string) (*Manifest, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "%s is not a valid bundle archive", filepath.Base(path))
	}
	defer r.Close()

	for _, f := range r.File {
		if filepath.ToSlash(f.Name) != ManifestFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, faults.Wrap(faults.IO, err, "failed to open manifest entry")
		}
		data, err := io.ReadAll(io.LimitReader(rc, 1<<20))
		rc.Close()
		if err != nil {
			return nil, faults.Wrap(faults.IO, err, "failed to read manifest entry")
		}
		return parseManifest(data)
	}
	return nil, faults.New(faults.Validation, "bundle has no manifest.json")
}

// extractBundle unpacks every entry except the manifest into destDir. Entry
// paths must stay inside destDir; the uncompressed total is capped.
func extractBundle(path, destDir string, maxBytes int64) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return faults.Wrap(faults.IO, err, "%s is not a valid bundle archive", filepath.Base(path))
	}
	defer r.Close()

	var total int64
	for _, f := range r.File {
		name := filepath.ToSlash(f.Name)
		if name == ManifestFile || f.FileInfo().IsDir() {
			continue
		}
		local := filepath.FromSlash(name)
		if !filepath.IsLocal(local) {
			return faults.New(faults.Validation, "bundle entry %q escapes the extraction root", f.Name)
		}

		target := filepath.Join(destDir, local)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return faults.Wrap(faults.IO, err, "failed to create directory for %s", name)
		}
		n, err := extractEntry(f, target, maxBytes-total)
		if err != nil {
			return err
		}
		total += n
		if total > maxBytes {
			return faults.New(faults.ResourceLimit, "bundle expands past %d bytes", maxBytes)
		}
	}
	return nil
}

func extractEntry(f *zip.File, target string, budget int64) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, faults.Wrap(faults.IO, err, "failed to open bundle entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return 0, faults.Wrap(faults.IO, err, "failed to create %s", target)
	}
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		out.Close()
		return n, faults.Wrap(faults.IO, err, "failed to extract %s", f.Name)
	}
	if err := out.Close(); err != nil {
		return n, faults.Wrap(faults.IO, err, "failed to close %s", target)
	}
	return n, nil
}

// rehomeScenarios points every extracted scenario.json at the new workspace
// id. Unreadable metadata is left in place and reported, not fatal.
func rehomeScenarios(stagingDir, workspaceID string) (count int, warnings []string) {
	scenariosDir := filepath.Join(stagingDir, workspace.ScenariosDirName)
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		return 0, nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		metaPath := filepath.Join(scenariosDir, e.Name(), workspace.ScenarioMetaFile)
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		count++
		var sc workspace.Scenario
		if err := json.Unmarshal(data, &sc); err != nil {
			warnings = append(warnings, fmt.Sprintf("scenario %s has corrupt metadata and was imported as-is", e.Name()))
			continue
		}
		sc.WorkspaceID = workspaceID
		if err := writeJSONFile(metaPath, &sc); err != nil {
			warnings = append(warnings, fmt.Sprintf("scenario %s metadata could not be rewritten: %v", e.Name(), err))
		}
	}
	return count, warnings
}

// suggestName proposes "base (k)". k starts one past the number of
// workspaces already wearing the base name, then probes upward until free.
// Matching is case-insensitive throughout.
func suggestName(existing []string, base string) string {
	lowerBase := strings.ToLower(base)
	taken := make(map[string]bool, len(existing))
	count := 0
	for _, n := range existing {
		ln := strings.ToLower(n)
		taken[ln] = true
		if ln == lowerBase || isNumberedVariant(ln, lowerBase) {
			count++
		}
	}
	for k := count + 1; ; k++ {
		candidate := fmt.Sprintf("%s (%d)", base, k)
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

// isNumberedVariant reports whether name is base followed by " (<digits>)".
func isNumberedVariant(name, base string) bool {
	rest, ok := strings.CutPrefix(name, base+" (")
	if !ok || !strings.HasSuffix(rest, ")") {
		return false
	}
	digits := strings.TrimSuffix(rest, ")")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func writeJSONFile(path string, v interface{}) error {
	data, err := jsonIndent(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return faults.Wrap(faults.IO, err, "failed to write %s", filepath.Base(path))
	}
	return nil
}
