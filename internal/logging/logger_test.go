package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func reset() {
	CloseAll()
	logsDir = ""
	Configure(Options{})
}

func TestInitializeDisabledWritesNothing(t *testing.T) {
	defer reset()
	root := t.TempDir()

	if err := Initialize(root, Options{DebugMode: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Store("should not appear")

	if _, err := os.Stat(filepath.Join(root, ".navigator", "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestInitializeDebugWritesCategoryFile(t *testing.T) {
	defer reset()
	root := t.TempDir()

	if err := Initialize(root, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Executor("run %s started", "01ABC")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(root, ".navigator", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	var found bool
	for _, e := range entries {
		if strings.Contains(e.Name(), "executor") {
			data, _ := os.ReadFile(filepath.Join(root, ".navigator", "logs", e.Name()))
			if !strings.Contains(string(data), "run 01ABC started") {
				t.Errorf("executor log missing message: %s", data)
			}
			found = true
		}
	}
	if !found {
		t.Error("no executor log file created")
	}
}

func TestCategoryFilter(t *testing.T) {
	defer reset()
	root := t.TempDir()

	err := Initialize(root, Options{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"batch": false},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if IsCategoryEnabled(CategoryBatch) {
		t.Error("batch category should be disabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("unlisted categories default to enabled")
	}
}

func TestLevelGate(t *testing.T) {
	defer reset()
	root := t.TempDir()

	if err := Initialize(root, Options{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	l := Get(CategoryResults)
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("visible warn")
	l.Error("visible error")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(root, ".navigator", "logs"))
	for _, e := range entries {
		if !strings.Contains(e.Name(), "results") {
			continue
		}
		data, _ := os.ReadFile(filepath.Join(root, ".navigator", "logs", e.Name()))
		s := string(data)
		if strings.Contains(s, "hidden") {
			t.Errorf("level gate leaked: %s", s)
		}
		if !strings.Contains(s, "visible warn") || !strings.Contains(s, "visible error") {
			t.Errorf("warn/error missing: %s", s)
		}
	}
}

func TestReloadFromFile(t *testing.T) {
	defer reset()
	root := t.TempDir()

	if err := Initialize(root, Options{DebugMode: true, Level: "info"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	path := filepath.Join(root, "navigator.yaml")
	yaml := "logging:\n  debug_mode: true\n  level: error\n  json_format: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ReloadFromFile(path); err != nil {
		t.Fatalf("ReloadFromFile failed: %v", err)
	}

	optsMu.RLock()
	defer optsMu.RUnlock()
	if logLevel != LevelError {
		t.Errorf("logLevel = %d, want %d", logLevel, LevelError)
	}
	if !opts.JSONFormat {
		t.Error("json_format not applied")
	}
}

func TestAuditTrail(t *testing.T) {
	defer CloseAudit()
	root := t.TempDir()

	if err := InitializeAudit(root); err != nil {
		t.Fatalf("InitializeAudit failed: %v", err)
	}
	AuditRun(AuditRunStart, "ws-1", "sc-1", "01RUN", "single-year run")
	CloseAudit()

	entries, err := os.ReadDir(filepath.Join(root, ".navigator", "audit"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("audit file missing: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, ".navigator", "audit", entries[0].Name()))
	s := string(data)
	if !strings.Contains(s, `"type":"run_start"`) || !strings.Contains(s, `"run_id":"01RUN"`) {
		t.Errorf("audit record malformed: %s", s)
	}
}

func TestAuditBeforeInitializeIsNoop(t *testing.T) {
	CloseAudit()
	// Must not panic or create files anywhere
	Audit(AuditEvent{Type: AuditRunCancel, RunID: "01X"})
}
