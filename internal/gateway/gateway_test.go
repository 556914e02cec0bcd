package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/crzyc98/planwise-navigator-sub000/internal/archive"
	"github.com/crzyc98/planwise-navigator-sub000/internal/batch"
	"github.com/crzyc98/planwise-navigator-sub000/internal/bundle"
	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/metrics"
	"github.com/crzyc98/planwise-navigator-sub000/internal/results"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRig struct {
	srv      *Server
	router   http.Handler
	store    *workspace.Store
	hub      *telemetry.Hub
	settings *config.Settings
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	store, err := workspace.New(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	settings := config.DefaultSettings()
	settings.WorkspacesRoot = store.Root()
	settings.Engine.DriverName = "sqlite"
	settings.Engine.CensusPath = filepath.Join(store.Root(), "nonexistent-census.parquet")

	hub := telemetry.NewHub(0)
	exec := executor.New(store, hub, archive.NewArchiver(store, nil), settings)
	srv := New(Deps{
		Store:    store,
		Executor: exec,
		Batches:  batch.NewScheduler(exec, store, hub, settings),
		Reader:   results.NewReader(store, settings),
		Bundler:  bundle.New(store, settings),
		Hub:      hub,
		Settings: settings,
		Metrics:  metrics.New(store, hub, exec),
	})
	return &testRig{srv: srv, router: srv.Router(), store: store, hub: hub, settings: settings}
}

func (rig *testRig) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, code, w.Body.String())
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodPost, "/api/workspaces", map[string]interface{}{
		"name":        "Acme Retirement",
		"description": "FY26 planning",
		"base_config": map[string]interface{}{
			"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2027},
		},
	})
	wantStatus(t, w, http.StatusCreated)
	var created struct {
		ID         string                 `json:"id"`
		Name       string                 `json:"name"`
		BaseConfig map[string]interface{} `json:"base_config"`
	}
	decode(t, w, &created)
	if created.ID == "" || created.Name != "Acme Retirement" {
		t.Fatalf("created = %+v", created)
	}
	if created.BaseConfig["simulation"] == nil {
		t.Fatal("base_config missing from create response")
	}

	w = rig.do(t, http.MethodGet, "/api/workspaces", nil)
	wantStatus(t, w, http.StatusOK)
	var list []workspace.WorkspaceSummary
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	w = rig.do(t, http.MethodPatch, "/api/workspaces/"+created.ID, map[string]interface{}{
		"description": "FY27 planning",
	})
	wantStatus(t, w, http.StatusOK)
	var patched struct {
		Description string `json:"description"`
	}
	decode(t, w, &patched)
	if patched.Description != "FY27 planning" {
		t.Fatalf("description = %q", patched.Description)
	}

	w = rig.do(t, http.MethodDelete, "/api/workspaces/"+created.ID, nil)
	wantStatus(t, w, http.StatusOK)

	w = rig.do(t, http.MethodGet, "/api/workspaces/"+created.ID, nil)
	wantStatus(t, w, http.StatusNotFound)
	var apiErr apiError
	decode(t, w, &apiErr)
	if apiErr.Kind != "not_found" {
		t.Fatalf("kind = %q", apiErr.Kind)
	}
}

func TestScenarioMergedConfig(t *testing.T) {
	rig := newRig(t)
	wsID := rig.createWorkspace(t, "Base", map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026},
		"plan":       map[string]interface{}{"match_rate": 0.5, "auto_enroll": true},
	})

	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/scenarios", map[string]interface{}{
		"name":      "Generous Match",
		"overrides": map[string]interface{}{"plan": map[string]interface{}{"match_rate": 0.8}},
	})
	wantStatus(t, w, http.StatusCreated)
	var sc struct {
		ID string `json:"id"`
	}
	decode(t, w, &sc)

	w = rig.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/scenarios/"+sc.ID+"/config", nil)
	wantStatus(t, w, http.StatusOK)
	var merged map[string]interface{}
	decode(t, w, &merged)
	plan := merged["plan"].(map[string]interface{})
	if plan["match_rate"] != 0.8 {
		t.Fatalf("match_rate = %v, want override to win", plan["match_rate"])
	}
	if plan["auto_enroll"] != true {
		t.Fatal("base keys must survive the merge")
	}
}

func TestBadRequestBodies(t *testing.T) {
	rig := newRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)
	wantStatus(t, w, http.StatusBadRequest)
	var apiErr apiError
	decode(t, w, &apiErr)
	if apiErr.Kind != "validation" {
		t.Fatalf("kind = %q", apiErr.Kind)
	}
}

func TestCompareRequiresTwoScenarios(t *testing.T) {
	rig := newRig(t)
	wsID := rig.createWorkspace(t, "Cmp", map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026},
	})
	scID := rig.createScenario(t, wsID, "Only One")

	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/compare", map[string]interface{}{
		"baseline_id":  scID,
		"scenario_ids": []string{scID},
	})
	wantStatus(t, w, http.StatusBadRequest)
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	rig := newRig(t)
	wsID := rig.createWorkspace(t, "Runs", map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026},
	})
	scID := rig.createScenario(t, wsID, "Quick Fail")

	// The census file does not exist, so the run is admitted and then
	// fails pre-flight. The start response must still be the queued record.
	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/scenarios/"+scID+"/runs", nil)
	wantStatus(t, w, http.StatusAccepted)
	var started workspace.Run
	decode(t, w, &started)
	if started.ID == "" {
		t.Fatalf("run = %+v", started)
	}

	run := rig.awaitTerminal(t, started.ID)
	if run.Status != workspace.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "census") {
		t.Fatalf("error = %q", run.ErrorMessage)
	}

	// The archive record lands moments after the status turns terminal.
	deadline := time.Now().Add(5 * time.Second)
	for {
		w = rig.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/scenarios/"+scID+"/runs", nil)
		wantStatus(t, w, http.StatusOK)
		var archived []workspace.Run
		decode(t, w, &archived)
		if len(archived) == 1 && archived[0].ID == started.ID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("archived = %+v", archived)
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = rig.do(t, http.MethodGet, "/api/runs/does-not-exist", nil)
	wantStatus(t, w, http.StatusNotFound)
}

func TestCancelRunOverHTTP(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake engine needs a unix shell")
	}
	rig := newRig(t)

	tmp := t.TempDir()
	simPath := filepath.Join(tmp, "simulator.sh")
	script := "#!/bin/sh\necho \"Initializing setup\"\nsleep 30\n"
	if err := os.WriteFile(simPath, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	censusPath := filepath.Join(tmp, "census.parquet")
	if err := os.WriteFile(censusPath, []byte("parquet"), 0644); err != nil {
		t.Fatal(err)
	}
	rig.settings.Engine.PythonBin = "/bin/sh"
	rig.settings.Engine.SimulatorPath = simPath
	rig.settings.Engine.CensusPath = censusPath
	rig.settings.Engine.TerminateGrace = "1s"
	rig.settings.Runs.SubscriberGrace = "10ms"

	wsID := rig.createWorkspace(t, "Cancelable", map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026},
	})
	scID := rig.createScenario(t, wsID, "Long Haul")

	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/scenarios/"+scID+"/runs", nil)
	wantStatus(t, w, http.StatusAccepted)
	var started workspace.Run
	decode(t, w, &started)

	// The scenario is queued before the start response goes out, so a
	// second start conflicts for as long as the run is alive.
	w = rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/scenarios/"+scID+"/runs", nil)
	wantStatus(t, w, http.StatusConflict)

	w = rig.do(t, http.MethodPost, "/api/runs/"+started.ID+"/cancel", nil)
	wantStatus(t, w, http.StatusOK)

	run := rig.awaitTerminal(t, started.ID)
	if run.Status != workspace.RunCancelled {
		t.Fatalf("status = %s, want cancelled", run.Status)
	}
}

func TestBatchOverHTTP(t *testing.T) {
	rig := newRig(t)
	wsID := rig.createWorkspace(t, "Batch", map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026},
	})
	rig.createScenario(t, wsID, "First")
	rig.createScenario(t, wsID, "Second")

	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/batches", map[string]interface{}{
		"scenario_ids": []string{},
		"parallel":     false,
	})
	wantStatus(t, w, http.StatusAccepted)
	var job struct {
		ID      string `json:"batch_id"`
		Members []struct {
			ScenarioName string `json:"scenario_name"`
		} `json:"members"`
	}
	decode(t, w, &job)
	if job.ID == "" || len(job.Members) != 2 {
		t.Fatalf("job = %+v", job)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w = rig.do(t, http.MethodGet, "/api/batches/"+job.ID, nil)
		wantStatus(t, w, http.StatusOK)
		var got struct {
			Status      string     `json:"status"`
			CompletedAt *time.Time `json:"completed_at"`
		}
		decode(t, w, &got)
		if got.CompletedAt != nil {
			if got.Status != string(batch.StatusFailed) {
				t.Fatalf("batch status = %s, want failed (no census)", got.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("batch never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBundleRoundTripOverHTTP(t *testing.T) {
	rig := newRig(t)
	wsID := rig.createWorkspace(t, "Alpha", map[string]interface{}{
		"simulation": map[string]interface{}{"start_year": 2025, "end_year": 2026},
	})
	rig.createScenario(t, wsID, "Baseline")

	outDir := filepath.Join(t.TempDir(), "exports")
	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/export", map[string]interface{}{
		"out_dir": outDir,
	})
	wantStatus(t, w, http.StatusOK)
	var exported bundle.ExportResult
	decode(t, w, &exported)
	if exported.ScenarioCount != 1 || !strings.HasSuffix(exported.FileName, ".zip") {
		t.Fatalf("export = %+v", exported)
	}

	w = rig.do(t, http.MethodPost, "/api/bundles/validate", map[string]interface{}{
		"path": exported.Path,
	})
	wantStatus(t, w, http.StatusOK)
	var report bundle.Validation
	decode(t, w, &report)
	if report.Conflict == nil || report.Conflict.SuggestedName != "Alpha (2)" {
		t.Fatalf("conflict = %+v", report.Conflict)
	}

	// Import without a resolution is a conflict, with one it succeeds.
	w = rig.do(t, http.MethodPost, "/api/bundles/import", map[string]interface{}{
		"path": exported.Path,
	})
	wantStatus(t, w, http.StatusConflict)

	w = rig.do(t, http.MethodPost, "/api/bundles/import", map[string]interface{}{
		"path":       exported.Path,
		"resolution": "rename",
	})
	wantStatus(t, w, http.StatusCreated)
	var imported bundle.ImportResult
	decode(t, w, &imported)
	if imported.Name != "Alpha (2)" || imported.Status != bundle.StatusSuccess {
		t.Fatalf("import = %+v", imported)
	}

	w = rig.do(t, http.MethodGet, "/api/workspaces", nil)
	var list []workspace.WorkspaceSummary
	decode(t, w, &list)
	if len(list) != 2 {
		t.Fatalf("want 2 workspaces after import, got %d", len(list))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	rig := newRig(t)

	w := rig.do(t, http.MethodGet, "/api/health", nil)
	wantStatus(t, w, http.StatusOK)
	var health struct {
		Status string `json:"status"`
	}
	decode(t, w, &health)
	if health.Status != "ok" {
		t.Fatalf("health = %+v", health)
	}

	w = rig.do(t, http.MethodGet, "/metrics", nil)
	wantStatus(t, w, http.StatusOK)
	body := w.Body.String()
	for _, want := range []string{"navigator_http_requests_total", "navigator_active_runs", "navigator_storage_used_bytes"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestStreamRunDeliversSnapshots(t *testing.T) {
	rig := newRig(t)
	ts := httptest.NewServer(rig.router)
	defer ts.Close()

	rig.hub.Publish("01RUN", telemetry.Snapshot{RunID: "01RUN", Progress: 40, Timestamp: time.Now().UTC()})

	conn := dialWS(t, ts, "/ws/runs/01RUN", nil)
	defer conn.Close()

	var snap telemetry.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if snap.Progress != 40 {
		t.Fatalf("replayed progress = %d", snap.Progress)
	}

	rig.hub.Publish("01RUN", telemetry.Snapshot{RunID: "01RUN", Progress: 70, Timestamp: time.Now().UTC()})
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if snap.Progress != 70 {
		t.Fatalf("live progress = %d", snap.Progress)
	}

	rig.hub.CloseRun("01RUN")
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
		t.Fatalf("want normal close, got %v", err)
	}
}

func TestStreamRunHeartbeats(t *testing.T) {
	rig := newRig(t)
	rig.settings.Telemetry.HeartbeatInterval = "30ms"
	ts := httptest.NewServer(rig.router)
	defer ts.Close()

	conn := dialWS(t, ts, "/ws/runs/01IDLE", nil)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	var beat struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &beat); err != nil || beat.Type != "heartbeat" {
		t.Fatalf("frame = %s", frame)
	}
}

func TestStreamRunRefusesForeignOrigin(t *testing.T) {
	rig := newRig(t)
	rig.settings.Gateway.AllowedOrigins = []string{"http://localhost:5173"}
	ts := httptest.NewServer(rig.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs/01RUN"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, rsp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("handshake should fail for a foreign origin")
	}
	if rsp == nil || rsp.StatusCode != http.StatusForbidden {
		t.Fatalf("rsp = %+v", rsp)
	}

	// The allowed origin still connects.
	header = http.Header{"Origin": []string{"http://localhost:5173"}}
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}

func dialWS(t *testing.T, ts *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func (rig *testRig) createWorkspace(t *testing.T, name string, baseConfig map[string]interface{}) string {
	t.Helper()
	w := rig.do(t, http.MethodPost, "/api/workspaces", map[string]interface{}{
		"name":        name,
		"base_config": baseConfig,
	})
	wantStatus(t, w, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)
	return created.ID
}

func (rig *testRig) createScenario(t *testing.T, wsID, name string) string {
	t.Helper()
	w := rig.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/scenarios", map[string]interface{}{
		"name": name,
	})
	wantStatus(t, w, http.StatusCreated)
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)
	return created.ID
}

// awaitTerminal polls the run endpoint until the run settles.
func (rig *testRig) awaitTerminal(t *testing.T, runID string) workspace.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := rig.do(t, http.MethodGet, "/api/runs/"+runID, nil)
		wantStatus(t, w, http.StatusOK)
		var run workspace.Run
		decode(t, w, &run)
		if run.Status.IsTerminal() {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s never settled (status %s)", runID, run.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
