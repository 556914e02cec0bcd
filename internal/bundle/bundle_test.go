package bundle

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

type testRig struct {
	bundler  *Bundler
	store    *workspace.Store
	settings *config.Settings
	outDir   string
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	store, err := workspace.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	settings := config.DefaultSettings()
	return &testRig{
		bundler:  New(store, settings),
		store:    store,
		settings: settings,
		outDir:   t.TempDir(),
	}
}

func baseConfig() map[string]interface{} {
	return map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026, "random_seed": 42},
	}
}

// seedWorkspace creates a workspace with two scenarios and one stray file.
func (rig *testRig) seedWorkspace(t *testing.T, name string) *workspace.Workspace {
	t.Helper()
	ws, err := rig.store.CreateWorkspace(name, "bundle fixture", baseConfig())
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	for _, scName := range []string{"Baseline", "High Growth"} {
		if _, err := rig.store.CreateScenario(ws.ID, scName, "", nil); err != nil {
			t.Fatalf("CreateScenario(%s): %v", scName, err)
		}
	}
	stray := filepath.Join(rig.store.WorkspaceDir(ws.ID), "scratch.tmp")
	if err := os.WriteFile(stray, []byte("transient"), 0644); err != nil {
		t.Fatal(err)
	}
	return ws
}

func (rig *testRig) export(t *testing.T, workspaceID string) *ExportResult {
	t.Helper()
	res, err := rig.bundler.Export(workspaceID, rig.outDir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	return res
}

func bundleEntries(t *testing.T, path string) map[string]bool {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	defer r.Close()
	entries := map[string]bool{}
	for _, f := range r.File {
		entries[filepath.ToSlash(f.Name)] = true
	}
	return entries
}

var bundleNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+_\d{8}_\d{6}\.zip$`)

func TestExport_WritesBundle(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Acme Retirement (2025)")

	res := rig.export(t, ws.ID)
	if !bundleNamePattern.MatchString(res.FileName) {
		t.Fatalf("bundle name %q does not match the naming contract", res.FileName)
	}
	if !strings.HasPrefix(res.FileName, "Acme_Retirement__2025_") {
		t.Fatalf("unsafe characters survived in %q", res.FileName)
	}
	if res.ScenarioCount != 2 || res.SizeBytes <= 0 {
		t.Fatalf("export result = %+v", res)
	}

	entries := bundleEntries(t, res.Path)
	if !entries[ManifestFile] || !entries[workspace.WorkspaceMetaFile] || !entries[workspace.BaseConfigFile] {
		t.Fatalf("bundle missing core entries: %v", entries)
	}
	if entries["scratch.tmp"] {
		t.Fatalf("excluded glob leaked into the bundle: %v", entries)
	}
	for name := range entries {
		if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
			t.Fatalf("suspicious entry path %q", name)
		}
	}
}

func TestExport_ManifestContents(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	m, err := readManifest(res.Path)
	if err != nil {
		t.Fatalf("readManifest: %v", err)
	}
	if m.Version != ManifestVersion || m.WorkspaceID != ws.ID || m.WorkspaceName != "Alpha" {
		t.Fatalf("manifest = %+v", m)
	}
	if m.Contents.ScenarioCount != 2 || len(m.Contents.Scenarios) != 2 {
		t.Fatalf("manifest contents = %+v", m.Contents)
	}
	wsJSON := filepath.Join(rig.store.WorkspaceDir(ws.ID), workspace.WorkspaceMetaFile)
	sum, err := checksumFile(wsJSON)
	if err != nil {
		t.Fatal(err)
	}
	if m.Contents.ChecksumSHA256 != sum {
		t.Fatalf("checksum = %s, want %s", m.Contents.ChecksumSHA256, sum)
	}
	if m.Contents.FileCount < 2 || m.Contents.TotalSizeBytes <= 0 {
		t.Fatalf("manifest counts = %+v", m.Contents)
	}
}

func TestExport_RefusesWhileRunning(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	scenarios, err := rig.store.ListScenarios(ws.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := rig.store.UpdateScenarioStatus(ws.ID, scenarios[0].ID, workspace.ScenarioRunning, "01RUN", nil); err != nil {
		t.Fatal(err)
	}

	_, err = rig.bundler.Export(ws.ID, rig.outDir)
	if !faults.IsKind(err, faults.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestExport_UnknownWorkspace(t *testing.T) {
	rig := newRig(t)
	_, err := rig.bundler.Export("nope", rig.outDir)
	if !faults.IsKind(err, faults.NotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestValidate_CleanBundle(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)
	if err := rig.store.DeleteWorkspace(ws.ID); err != nil {
		t.Fatal(err)
	}

	v, err := rig.bundler.Validate(res.Path)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Conflict != nil || len(v.Warnings) != 0 {
		t.Fatalf("clean bundle flagged: %+v", v)
	}
	if v.Manifest.WorkspaceName != "Alpha" || v.SizeBytes != res.SizeBytes {
		t.Fatalf("validation = %+v", v)
	}
}

func TestValidate_NameConflictSuggestsNext(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	v, err := rig.bundler.Validate(res.Path)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Conflict == nil {
		t.Fatal("expected a name conflict")
	}
	if v.Conflict.SuggestedName != "Alpha (2)" {
		t.Fatalf("suggested name = %q, want Alpha (2)", v.Conflict.SuggestedName)
	}
	if v.Conflict.ExistingID != ws.ID {
		t.Fatalf("conflict existing id = %s", v.Conflict.ExistingID)
	}
}

func TestValidate_SizeLimit(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)
	rig.settings.Bundle.MaxImportBytes = 16

	_, err := rig.bundler.Validate(res.Path)
	if !faults.IsKind(err, faults.ResourceLimit) {
		t.Fatalf("expected resource_limit, got %v", err)
	}
}

func TestValidate_RejectsNonArchive(t *testing.T) {
	rig := newRig(t)
	path := filepath.Join(t.TempDir(), "noise.zip")
	if err := os.WriteFile(path, []byte("not a zip at all"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := rig.bundler.Validate(path)
	if !faults.IsKind(err, faults.IO) {
		t.Fatalf("expected io fault, got %v", err)
	}
}

func TestValidate_MissingManifest(t *testing.T) {
	rig := newRig(t)
	path := makeBundle(t, nil, map[string]string{"workspace.json": "{}"})
	_, err := rig.bundler.Validate(path)
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestValidate_SchemaViolation(t *testing.T) {
	rig := newRig(t)
	manifest := map[string]interface{}{
		"version": "1.0",
		// workspace_id and the rest are missing.
	}
	path := makeBundle(t, manifest, nil)
	_, err := rig.bundler.Validate(path)
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestValidate_WarnsOnNewerFormat(t *testing.T) {
	rig := newRig(t)
	manifest := map[string]interface{}{
		"version":        "9.9",
		"export_date":    "2025-01-01T00:00:00Z",
		"app_version":    "99.0.0",
		"workspace_id":   "w-future",
		"workspace_name": "Ghost",
		"contents": map[string]interface{}{
			"scenario_count":  0,
			"checksum_sha256": strings.Repeat("a", 64),
		},
	}
	path := makeBundle(t, manifest, map[string]string{"workspace.json": "{}"})

	v, err := rig.bundler.Validate(path)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(v.Warnings) != 1 || !strings.Contains(v.Warnings[0], "newer") {
		t.Fatalf("warnings = %v", v.Warnings)
	}
}

func TestImport_RenameRoundTrip(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	out, err := rig.bundler.Import(res.Path, ResolutionRename, "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, warnings = %v", out.Status, out.Warnings)
	}
	if out.Name != "Alpha (2)" {
		t.Fatalf("imported name = %q, want Alpha (2)", out.Name)
	}
	if out.WorkspaceID == ws.ID || out.WorkspaceID == "" {
		t.Fatalf("imported workspace id = %q", out.WorkspaceID)
	}
	if out.ScenarioCount != 2 {
		t.Fatalf("scenario count = %d, want 2", out.ScenarioCount)
	}

	imported, ok, err := rig.store.GetWorkspace(out.WorkspaceID)
	if err != nil || !ok {
		t.Fatalf("imported workspace unreadable: ok=%v err=%v", ok, err)
	}
	if imported.Name != "Alpha (2)" {
		t.Fatalf("stored name = %q", imported.Name)
	}
	scenarios, err := rig.store.ListScenarios(out.WorkspaceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(scenarios) != 2 {
		t.Fatalf("imported scenarios = %d", len(scenarios))
	}
	for _, sc := range scenarios {
		if sc.WorkspaceID != out.WorkspaceID {
			t.Fatalf("scenario %s still points at %s", sc.ID, sc.WorkspaceID)
		}
	}
}

func TestImport_ExplicitNewName(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	out, err := rig.bundler.Import(res.Path, ResolutionRename, "Alpha Copy")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if out.Name != "Alpha Copy" {
		t.Fatalf("imported name = %q", out.Name)
	}
}

func TestImport_Replace(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	out, err := rig.bundler.Import(res.Path, ResolutionReplace, "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if out.Name != "Alpha" {
		t.Fatalf("imported name = %q", out.Name)
	}
	if _, ok, _ := rig.store.GetWorkspace(ws.ID); ok {
		t.Fatal("replaced workspace still exists")
	}
	if _, ok, _ := rig.store.GetWorkspace(out.WorkspaceID); !ok {
		t.Fatal("imported workspace missing")
	}
}

func TestImport_Skip(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	out, err := rig.bundler.Import(res.Path, ResolutionSkip, "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if out.Status != StatusSkipped || out.WorkspaceID != "" {
		t.Fatalf("skip result = %+v", out)
	}

	summaries, err := rig.store.ListWorkspaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].ID != ws.ID {
		t.Fatalf("workspaces after skip = %+v", summaries)
	}
}

func TestImport_ConflictWithoutResolution(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)

	_, err := rig.bundler.Import(res.Path, "", "")
	if !faults.IsKind(err, faults.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "Alpha (2)") {
		t.Fatalf("conflict error lacks suggestion: %v", err)
	}
}

func TestImport_UnknownResolution(t *testing.T) {
	rig := newRig(t)
	_, err := rig.bundler.Import("whatever.zip", "merge", "")
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

func TestImport_ChecksumMismatchWarnsOnly(t *testing.T) {
	rig := newRig(t)
	ws := rig.seedWorkspace(t, "Alpha")
	res := rig.export(t, ws.ID)
	if err := rig.store.DeleteWorkspace(ws.ID); err != nil {
		t.Fatal(err)
	}
	tampered := tamperEntry(t, res.Path, workspace.WorkspaceMetaFile)

	out, err := rig.bundler.Import(tampered, "", "")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success despite checksum warning", out.Status)
	}
	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "checksum") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no checksum warning in %v", out.Warnings)
	}
}

func TestImport_RejectsEscapingEntry(t *testing.T) {
	rig := newRig(t)
	manifest := map[string]interface{}{
		"version":        "1.0",
		"export_date":    "2025-01-01T00:00:00Z",
		"app_version":    "0.9.0",
		"workspace_id":   "w-evil",
		"workspace_name": "Evil",
		"contents": map[string]interface{}{
			"scenario_count":  0,
			"checksum_sha256": strings.Repeat("a", 64),
		},
	}
	path := makeBundle(t, manifest, map[string]string{
		"workspace.json": "{}",
		"../evil.txt":    "outside",
	})

	_, err := rig.bundler.Import(path, "", "")
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(rig.store.Root(), "evil.txt")); statErr == nil {
		t.Fatal("escaping entry reached the filesystem")
	}
}

func TestSuggestName(t *testing.T) {
	cases := []struct {
		existing []string
		base     string
		want     string
	}{
		{[]string{"Alpha"}, "Alpha", "Alpha (2)"},
		{[]string{"Alpha", "Alpha (2)"}, "Alpha", "Alpha (3)"},
		{[]string{"alpha"}, "Alpha", "Alpha (2)"},
		{[]string{"Alpha", "Beta"}, "Alpha", "Alpha (2)"},
		{[]string{"Alpha", "Alpha (2)", "Alpha (3)"}, "Alpha", "Alpha (4)"},
	}
	for _, c := range cases {
		if got := suggestName(c.existing, c.base); got != c.want {
			t.Errorf("suggestName(%v, %q) = %q, want %q", c.existing, c.base, got, c.want)
		}
	}
}

func TestNewerFormat(t *testing.T) {
	cases := []struct {
		version string
		want    bool
	}{
		{"1.0", false}, {"0.9", false}, {"1.1", true}, {"2.0", true}, {"junk", false},
	}
	for _, c := range cases {
		if got := newerFormat(c.version); got != c.want {
			t.Errorf("newerFormat(%q) = %v, want %v", c.version, got, c.want)
		}
	}
}

func TestBulkExport(t *testing.T) {
	rig := newRig(t)
	wsA := rig.seedWorkspace(t, "Alpha")
	wsB := rig.seedWorkspace(t, "Beta")

	op, err := rig.bundler.BulkExport(context.Background(), []string{wsA.ID, wsB.ID, "missing"}, rig.outDir)
	if err != nil {
		t.Fatalf("BulkExport: %v", err)
	}
	if !op.Done || len(op.Items) != 3 {
		t.Fatalf("operation = %+v", op)
	}
	if op.Items[0].Status != StatusSuccess || op.Items[1].Status != StatusSuccess {
		t.Fatalf("items = %+v", op.Items)
	}
	if op.Items[2].Status != StatusFailed || op.Items[2].Detail == "" {
		t.Fatalf("missing workspace item = %+v", op.Items[2])
	}

	fetched, ok := rig.bundler.GetOperation(op.ID)
	if !ok || fetched.Kind != OpBulkExport || len(fetched.Items) != 3 {
		t.Fatalf("GetOperation = %+v ok=%v", fetched, ok)
	}
}

func TestBulkImport(t *testing.T) {
	rig := newRig(t)
	wsA := rig.seedWorkspace(t, "Alpha")
	wsB := rig.seedWorkspace(t, "Beta")
	resA := rig.export(t, wsA.ID)
	resB := rig.export(t, wsB.ID)
	if err := rig.store.DeleteWorkspace(wsA.ID); err != nil {
		t.Fatal(err)
	}
	if err := rig.store.DeleteWorkspace(wsB.ID); err != nil {
		t.Fatal(err)
	}

	op, err := rig.bundler.BulkImport(context.Background(), []string{resA.Path, resB.Path}, ResolutionRename)
	if err != nil {
		t.Fatalf("BulkImport: %v", err)
	}
	if len(op.Items) != 2 {
		t.Fatalf("items = %+v", op.Items)
	}
	for _, item := range op.Items {
		if item.Status != StatusSuccess || item.Path == "" {
			t.Fatalf("item = %+v", item)
		}
	}
	summaries, err := rig.store.ListWorkspaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("workspaces after bulk import = %d", len(summaries))
	}
}

func TestBulkExport_EmptyRequest(t *testing.T) {
	rig := newRig(t)
	_, err := rig.bundler.BulkExport(context.Background(), nil, rig.outDir)
	if !faults.IsKind(err, faults.Validation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
}

// makeBundle writes a zip with an optional manifest plus literal entries.
func makeBundle(t *testing.T, manifest interface{}, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.zip")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(out)
	if manifest != nil {
		w, err := zw.Create(ManifestFile)
		if err != nil {
			t.Fatal(err)
		}
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// tamperEntry rewrites a bundle, appending a byte to one entry so its
// checksum no longer matches the manifest.
func tamperEntry(t *testing.T, src, entry string) string {
	t.Helper()
	r, err := zip.OpenReader(src)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	dst := filepath.Join(t.TempDir(), "tampered.zip")
	out, err := os.Create(dst)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(out)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		if filepath.ToSlash(f.Name) == entry {
			data = append(data, '\n')
		}
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
	return dst
}
