// Package bundle moves whole workspaces in and out of the store as single
// compressed files: a manifest.json header plus a verbatim copy of the
// workspace tree. Import never trusts a bundle: the manifest is
// schema-checked, sizes are capped, and entry paths are confined to the
// destination.
package bundle

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/flate"

	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/version"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Bundler exports and imports workspace bundles and tracks bulk operations.
type Bundler struct {
	store    *workspace.Store
	settings *config.Settings

	mu  sync.Mutex
	ops map[string]*Operation
}

// New creates a bundler over the store.
func New(store *workspace.Store, settings *config.Settings) *Bundler {
	return &Bundler{store: store, settings: settings, ops: map[string]*Operation{}}
}

// ExportResult describes one written bundle.
type ExportResult struct {
	Path          string `json:"path"`
	FileName      string `json:"file_name"`
	SizeBytes     int64  `json:"size_bytes"`
	FileCount     int    `json:"file_count"`
	ScenarioCount int    `json:"scenario_count"`
}

// Export writes a workspace bundle into outDir and returns where it landed.
// It refuses while any scenario of the workspace is running: the engine
// holds the scenario database read-write and a snapshot would be torn.
func (b *Bundler) Export(workspaceID, outDir string) (*ExportResult, error) {
	ws, ok, err := b.store.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "workspace %s", workspaceID)
	}
	running, err := b.store.AnyScenarioRunning(workspaceID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, faults.New(faults.Conflict, "workspace %q has a running simulation; export after it finishes", ws.Name)
	}
	timer := logging.StartTimer(logging.CategoryBundle, "export "+workspaceID)
	defer timer.Stop()

	scenarios, err := b.store.ListScenarios(workspaceID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name
	}

	wsDir := b.store.WorkspaceDir(workspaceID)
	files, totalBytes, err := b.collectFiles(wsDir)
	if err != nil {
		return nil, err
	}
	checksum, err := checksumFile(filepath.Join(wsDir, workspace.WorkspaceMetaFile))
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to checksum workspace metadata")
	}

	manifest := &Manifest{
		Version:       ManifestVersion,
		ExportDate:    time.Now().UTC(),
		AppVersion:    version.Version,
		WorkspaceID:   ws.ID,
		WorkspaceName: ws.Name,
		Contents: Contents{
			ScenarioCount:  len(scenarios),
			Scenarios:      names,
			FileCount:      len(files),
			TotalSizeBytes: totalBytes,
			ChecksumSHA256: checksum,
		},
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to create export directory")
	}
	fileName := bundleFileName(ws.Name, manifest.ExportDate)
	outPath := filepath.Join(outDir, fileName)
	if err := writeBundle(outPath, wsDir, files, manifest); err != nil {
		os.Remove(outPath)
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "bundle vanished after write")
	}

	logging.Bundle("exported workspace %s (%q) to %s: %d files, %d bytes",
		ws.ID, ws.Name, outPath, len(files), info.Size())
	logging.Audit(logging.AuditEvent{
		Type:        logging.AuditBundleExport,
		WorkspaceID: ws.ID,
		Detail:      fileName,
		Fields:      map[string]interface{}{"size_bytes": info.Size(), "file_count": len(files)},
	})
	return &ExportResult{
		Path:          outPath,
		FileName:      fileName,
		SizeBytes:     info.Size(),
		FileCount:     len(files),
		ScenarioCount: len(scenarios),
	}, nil
}

// collectFiles walks the workspace tree and returns the slash-relative paths
// going into the bundle, excluding transient files per settings.
func (b *Bundler) collectFiles(wsDir string) ([]string, int64, error) {
	var files []string
	var total int64
	err := filepath.WalkDir(wsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(wsDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if b.excluded(rel) {
			logging.BundleDebug("excluding %s", rel)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, rel)
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, faults.Wrap(faults.IO, err, "failed to walk workspace tree")
	}
	return files, total, nil
}

func (b *Bundler) excluded(rel string) bool {
	for _, pattern := range b.settings.Bundle.ExcludeGlobs {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// writeBundle streams the manifest and the workspace files into a zip
// container. No staging copy is made; entries are read straight from the
// workspace tree.
func writeBundle(outPath, wsDir string, files []string, manifest *Manifest) error {
	out, err := os.Create(outPath)
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to create bundle file")
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	err = writeManifestEntry(zw, manifest)
	for _, rel := range files {
		if err != nil {
			break
		}
		if e := writeFileEntry(zw, filepath.Join(wsDir, filepath.FromSlash(rel)), rel); e != nil {
			err = faults.Wrap(faults.IO, e, "failed to add %s to bundle", rel)
		}
	}
	if err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return faults.Wrap(faults.IO, err, "failed to finalize bundle")
	}
	if err := out.Close(); err != nil {
		return faults.Wrap(faults.IO, err, "failed to close bundle file")
	}
	return nil
}

func writeManifestEntry(zw *zip.Writer, manifest *Manifest) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ManifestFile,
		Method:   zip.Deflate,
		Modified: manifest.ExportDate,
	})
	if err != nil {
		return faults.Wrap(faults.IO, err, "failed to start manifest entry")
	}
	data, err := jsonIndent(manifest)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return faults.Wrap(faults.IO, err, "failed to write manifest entry")
	}
	return nil
}

func writeFileEntry(zw *zip.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     rel,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// bundleFileName builds <safe_name>_YYYYMMDD_HHMMSS.zip from the workspace
// name and a UTC timestamp.
func bundleFileName(workspaceName string, at time.Time) string {
	safe := unsafeNameChars.ReplaceAllString(workspaceName, "_")
	return safe + "_" + at.UTC().Format("20060102_150405") + BundleExt
}
