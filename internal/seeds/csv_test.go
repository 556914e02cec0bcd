package seeds

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func seedConfig() map[string]interface{} {
	return map[string]interface{}{
		"promotion_hazard": validHazard(),
		"age_bands": []interface{}{
			map[string]interface{}{"band_id": "a1", "band_label": "<30", "min_value": 0, "max_value": 30, "display_order": 1},
			map[string]interface{}{"band_id": "a2", "band_label": "30+", "min_value": 30, "max_value": 99, "display_order": 2},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestWriteScenarioSeeds(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteScenarioSeeds(dir, seedConfig())
	if err != nil {
		t.Fatalf("WriteScenarioSeeds failed: %v", err)
	}

	wantFiles := map[string]bool{
		FileHazardBase:        true,
		FileAgeMultipliers:    true,
		FileTenureMultipliers: true,
		FileAgeBands:          true,
	}
	for _, name := range written {
		delete(wantFiles, name)
	}
	if len(wantFiles) != 0 {
		t.Errorf("missing seed files: %v (wrote %v)", wantFiles, written)
	}
	// No tenure_bands section, so no tenure bands file.
	if _, err := os.Stat(filepath.Join(dir, FileTenureBands)); !os.IsNotExist(err) {
		t.Error("tenure bands file should not exist")
	}

	rows := readCSV(t, filepath.Join(dir, FileHazardBase))
	if len(rows) != 2 {
		t.Fatalf("hazard base should have header + 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "base_rate" || rows[0][1] != "level_dampener_factor" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "0.1" || rows[1][1] != "0.15" {
		t.Errorf("unexpected data row: %v", rows[1])
	}

	bandRows := readCSV(t, filepath.Join(dir, FileAgeBands))
	if len(bandRows) != 3 {
		t.Fatalf("age bands should have header + 2 rows, got %d", len(bandRows))
	}
	if bandRows[1][1] != "<30" || bandRows[1][2] != "0" || bandRows[1][3] != "30" {
		t.Errorf("unexpected band row: %v", bandRows[1])
	}
}

func TestWriteScenarioSeeds_NoSections(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteScenarioSeeds(dir, map[string]interface{}{"simulation": map[string]interface{}{}})
	if err != nil {
		t.Fatalf("WriteScenarioSeeds failed: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("no seed sections should write no files, wrote %v", written)
	}
}

func TestWriteScenarioSeeds_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteScenarioSeeds(dir, seedConfig()); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestMirrorSeeds(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	written, err := WriteScenarioSeeds(src, seedConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := MirrorSeeds(src, dst, written); err != nil {
		t.Fatalf("MirrorSeeds failed: %v", err)
	}
	for _, name := range written {
		srcData, _ := os.ReadFile(filepath.Join(src, name))
		dstData, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Errorf("mirrored file missing: %s", name)
			continue
		}
		if string(srcData) != string(dstData) {
			t.Errorf("mirror differs for %s", name)
		}
	}
}

func TestMirrorSeeds_EmptyDestIsNoop(t *testing.T) {
	if err := MirrorSeeds(t.TempDir(), "", []string{FileHazardBase}); err != nil {
		t.Errorf("empty destination should be a no-op, got %v", err)
	}
}
