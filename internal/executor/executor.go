// Package executor drives simulation runs end to end: it prepares scenario
// inputs, launches the engine subprocess, turns its output into telemetry,
// and settles the terminal state before archiving. One call to Execute owns
// one run; concurrency across runs is capped by a semaphore.
package executor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/crzyc98/planwise-navigator-sub000/internal/archive"
	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/engine"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/seeds"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Request asks for one simulation run. Config is the effective (merged)
// simulation config; nil means merge base and overrides from the store.
// An empty RunID gets a fresh ULID.
type Request struct {
	WorkspaceID string
	ScenarioID  string
	RunID       string
	Config      map[string]interface{}
	Resume      bool
}

// Executor runs simulations one subprocess at a time per run, at most
// MaxConcurrentSimulations at once overall.
type Executor struct {
	store    *workspace.Store
	hub      *telemetry.Hub
	archiver *archive.Archiver
	settings *config.Settings
	sem      chan struct{}
	onSettle func(workspace.Run)

	mu   sync.Mutex
	runs map[string]*runHandle
}

// OnSettle registers fn to be called once per run as it reaches a terminal
// state, after archiving. Set it before the first run starts; fn must not
// block.
func (e *Executor) OnSettle(fn func(workspace.Run)) { e.onSettle = fn }

// runHandle tracks one run from registration to terminal state.
type runHandle struct {
	mu        sync.Mutex
	run       workspace.Run
	resume    bool
	cancelled atomic.Bool
	proc      *engine.Proc
}

func (h *runHandle) snapshotRun() workspace.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run
}

func (h *runHandle) setProc(p *engine.Proc) {
	h.mu.Lock()
	h.proc = p
	h.mu.Unlock()
}

func (h *runHandle) getProc() *engine.Proc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proc
}

// New creates an executor. The semaphore size comes from
// max_concurrent_simulations.
func New(store *workspace.Store, hub *telemetry.Hub, archiver *archive.Archiver, settings *config.Settings) *Executor {
	limit := settings.MaxConcurrentSimulations
	if limit < 1 {
		limit = 1
	}
	return &Executor{
		store:    store,
		hub:      hub,
		archiver: archiver,
		settings: settings,
		sem:      make(chan struct{}, limit),
		runs:     make(map[string]*runHandle),
	}
}

// Execute runs one simulation to a terminal state and returns the final run
// record. The returned error is non-nil for failed runs; cancelled runs
// return a nil error with status cancelled.
func (e *Executor) Execute(ctx context.Context, req Request) (*workspace.Run, error) {
	handle, cfg, err := e.admit(req)
	if err != nil {
		return nil, err
	}
	return e.perform(ctx, handle, cfg)
}

// Start admits a run and performs it on a background goroutine, for callers
// that must answer before the simulation finishes. The returned record is
// the queued run; completion lands in the hub and the archive as usual.
func (e *Executor) Start(req Request) (*workspace.Run, error) {
	handle, cfg, err := e.admit(req)
	if err != nil {
		return nil, err
	}
	go e.perform(context.Background(), handle, cfg)
	run := handle.snapshotRun()
	return &run, nil
}

// admit validates the request, registers the run and marks the scenario
// queued. Once admit succeeds the run exists and perform must take it to a
// terminal state.
func (e *Executor) admit(req Request) (*runHandle, map[string]interface{}, error) {
	sc, ok, err := e.store.GetScenario(req.WorkspaceID, req.ScenarioID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, faults.New(faults.NotFound, "scenario %s not found in workspace %s", req.ScenarioID, req.WorkspaceID)
	}
	if sc.Status == workspace.ScenarioRunning || sc.Status == workspace.ScenarioQueued {
		return nil, nil, faults.New(faults.Conflict, "scenario %q already has a run in flight", sc.Name)
	}

	cfg := req.Config
	if cfg == nil {
		if cfg, err = e.store.MergedConfig(req.WorkspaceID, req.ScenarioID); err != nil {
			return nil, nil, err
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}
	startYear, _ := workspace.GetInt(cfg, "simulation", "start_year")
	endYear, _ := workspace.GetInt(cfg, "simulation", "end_year")
	if startYear == 0 || endYear < startYear {
		return nil, nil, faults.New(faults.Validation, "config must set simulation.start_year <= simulation.end_year")
	}
	seed, _ := workspace.GetInt(cfg, "simulation", "random_seed")

	handle := &runHandle{
		resume: req.Resume,
		run: workspace.Run{
			ID:           runID,
			WorkspaceID:  req.WorkspaceID,
			ScenarioID:   req.ScenarioID,
			ScenarioName: sc.Name,
			Status:       workspace.RunPending,
			StartYear:    startYear,
			EndYear:      endYear,
			TotalYears:   endYear - startYear + 1,
			StartedAt:    time.Now().UTC(),
			RandomSeed:   int64(seed),
		},
	}
	if err := e.register(handle); err != nil {
		return nil, nil, err
	}

	if err := e.store.UpdateScenarioStatus(req.WorkspaceID, req.ScenarioID, workspace.ScenarioQueued, runID, nil); err != nil {
		return nil, nil, err
	}
	return handle, cfg, nil
}

// perform waits for a concurrency slot, then launches and supervises the
// engine until the run settles.
func (e *Executor) perform(ctx context.Context, handle *runHandle, cfg map[string]interface{}) (*workspace.Run, error) {
	admitted := handle.snapshotRun()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		run := e.settle(handle, cfg, workspace.RunCancelled, nil, nil)
		return &run, nil
	}
	defer func() { <-e.sem }()

	if handle.cancelled.Load() {
		run := e.settle(handle, cfg, workspace.RunCancelled, nil, nil)
		return &run, nil
	}

	handle.mu.Lock()
	handle.run.Status = workspace.RunRunning
	handle.run.StartedAt = time.Now().UTC()
	handle.mu.Unlock()
	if err := e.store.UpdateScenarioStatus(admitted.WorkspaceID, admitted.ScenarioID, workspace.ScenarioRunning, admitted.ID, nil); err != nil {
		run := e.settle(handle, cfg, workspace.RunFailed, nil, err)
		return &run, err
	}
	logging.Executor("run %s: scenario %q years %d-%d", admitted.ID, admitted.ScenarioName, admitted.StartYear, admitted.EndYear)

	parser := engine.NewParser(admitted.StartYear, admitted.EndYear, e.settings.RecentEventsLimit)
	status, runErr := e.drive(ctx, handle, cfg, parser)

	run := e.settle(handle, cfg, status, parser, runErr)
	return &run, runErr
}

// drive performs the pre-flight steps, launches the engine and streams its
// output until exit. It returns the terminal status and the error for
// failures.
func (e *Executor) drive(ctx context.Context, handle *runHandle, cfg map[string]interface{}, parser *engine.Parser) (workspace.RunStatus, error) {
	run := handle.snapshotRun()
	eng := &e.settings.Engine

	censusPath := eng.CensusPath
	if p, ok := workspace.GetString(cfg, "census", "parquet_path"); ok && p != "" {
		censusPath = p
	}
	if _, err := os.Stat(censusPath); err != nil {
		return workspace.RunFailed, faults.New(faults.Precondition,
			"census file not found at %s; provide census.parquet_path or place the file", censusPath)
	}

	cfgPath := e.store.RunConfigPath(run.WorkspaceID, run.ScenarioID)
	if err := writeConfigYAML(cfgPath, cfg); err != nil {
		return workspace.RunFailed, faults.Wrap(faults.IO, err, "failed to persist effective config")
	}

	seedsDir := e.store.SeedsDir(run.WorkspaceID, run.ScenarioID)
	files, err := seeds.WriteScenarioSeeds(seedsDir, cfg)
	if err != nil {
		return workspace.RunFailed, err
	}
	if eng.GlobalSeedsDir != "" && len(files) > 0 {
		if err := seeds.MirrorSeeds(seedsDir, eng.GlobalSeedsDir, files); err != nil {
			return workspace.RunFailed, err
		}
	}

	dbPath := e.store.DatabasePath(run.WorkspaceID, run.ScenarioID)
	cleanupYearRange(eng.DriverName, dbPath, eng.CleanupTables, run.StartYear, run.EndYear)

	spec := engine.LaunchSpec{
		Command: eng.PythonBin,
		Dir:     e.store.ScenarioDir(run.WorkspaceID, run.ScenarioID),
		Env: []string{
			"NO_COLOR=1",
			"FORCE_COLOR=0",
			"TERM=dumb",
			"COLUMNS=200",
			"PYTHONUNBUFFERED=1",
		},
	}
	if spec.Command == "" {
		// Self-contained simulator binary, no interpreter.
		spec.Command = eng.SimulatorPath
	} else {
		spec.Args = append(spec.Args, eng.SimulatorPath)
	}
	spec.Args = append(spec.Args,
		"simulate", fmt.Sprintf("%d-%d", run.StartYear, run.EndYear),
		"--config", cfgPath,
		"--database", dbPath,
		"--verbose",
	)
	if requestResume(handle) {
		spec.Args = append(spec.Args, "--resume")
	}

	proc, err := engine.Launch(spec, eng.GetTerminateGrace())
	if err != nil {
		return workspace.RunFailed, err
	}
	handle.setProc(proc)
	if handle.cancelled.Load() {
		go proc.Terminate()
	}

	e.awaitFirstSubscriber(ctx, run.ID, handle)

	sampler := telemetry.NewMemorySampler(0)
	e.hub.Publish(run.ID, telemetry.Snapshot{
		RunID:           run.ID,
		Progress:        1,
		CurrentStage:    engine.StageInitialization,
		CurrentYear:     run.StartYear,
		TotalYears:      run.TotalYears,
		MemoryMB:        sampler.SampleMB(),
		MemoryPressure:  telemetry.PressureFor(sampler.SampleMB()),
		RecentEvents:    []telemetry.RecentEvent{},
		ElapsedSeconds:  0,
		EventsPerSecond: 0,
		Timestamp:       time.Now().UTC(),
	})

	buf := newRing(e.settings.Runs.KeptOutputLines)
	interval := e.settings.GetTelemetryInterval()
	lastPublish := time.Time{}

	for line := range proc.Lines() {
		buf.push(line)
		routeEngineLine(run.ID, line)

		prevStage, prevYear := parser.CurrentStage(), parser.CurrentYear()
		changed := parser.ParseLine(line)
		if changed {
			e.updateRunProgress(handle, parser)
			transition := parser.CurrentStage() != prevStage || parser.CurrentYear() != prevYear
			if transition || interval <= 0 || time.Since(lastPublish) >= interval {
				e.publishSnapshot(handle, parser, sampler)
				lastPublish = time.Now()
			}
		}

		if handle.cancelled.Load() {
			proc.Terminate()
			break
		}
	}
	// Keep draining after a cancel so the reader goroutine can finish and the
	// tail of the output lands in the error buffer.
	for line := range proc.Lines() {
		buf.push(line)
	}

	exitCode := proc.Wait()
	switch {
	case exitCode == 0:
		return workspace.RunCompleted, nil
	case handle.cancelled.Load():
		logging.Executor("run %s: cancelled (engine exit %d)", run.ID, exitCode)
		return workspace.RunCancelled, nil
	default:
		excerpt := buf.tail(e.settings.Runs.ErrorExcerptLines)
		return workspace.RunFailed, faults.New(faults.Engine,
			"engine exited with code %d\n%s", exitCode, strings.Join(excerpt, "\n"))
	}
}

// settle records the terminal state exactly once, publishes the final
// snapshot, closes the run's telemetry and archives the artifacts.
func (e *Executor) settle(handle *runHandle, cfg map[string]interface{}, status workspace.RunStatus, parser *engine.Parser, runErr error) workspace.Run {
	now := time.Now().UTC()

	handle.mu.Lock()
	if handle.run.Status.IsTerminal() {
		run := handle.run
		handle.mu.Unlock()
		return run
	}
	handle.run.Status = status
	handle.run.CompletedAt = &now
	handle.run.DurationSeconds = now.Sub(handle.run.StartedAt).Seconds()
	if runErr != nil {
		handle.run.ErrorMessage = runErr.Error()
	}
	switch status {
	case workspace.RunCompleted:
		handle.run.Progress = 100
		handle.run.CurrentStage = engine.StageCompleted
	case workspace.RunFailed:
		handle.run.CurrentStage = engine.StageFailed
	}
	run := handle.run
	handle.mu.Unlock()

	var summary map[string]interface{}
	if status == workspace.RunCompleted {
		summary = map[string]interface{}{
			"events_generated": run.EventsGenerated,
			"duration_seconds": run.DurationSeconds,
			"start_year":       run.StartYear,
			"end_year":         run.EndYear,
		}
	}
	if err := e.store.UpdateScenarioStatus(run.WorkspaceID, run.ScenarioID, scenarioStatusFor(status), run.ID, summary); err != nil {
		logging.ExecutorWarn("run %s: scenario status update: %v", run.ID, err)
	}

	e.hub.Publish(run.ID, e.terminalSnapshot(run, parser))
	e.hub.CloseRun(run.ID)

	if e.archiver != nil {
		if _, err := e.archiver.Archive(&run, cfg); err != nil {
			logging.ExecutorWarn("run %s: archive: %v", run.ID, err)
		}
		report, err := archive.Prune(e.store, run.WorkspaceID, run.ScenarioID, e.settings.Runs.MaxRunsPerScenario)
		if err != nil {
			logging.ExecutorWarn("run %s: retention: %v", run.ID, err)
		} else {
			for _, removed := range report.RemovedRunIDs {
				e.hub.Clear(removed)
			}
		}
	}

	if runErr != nil {
		logging.ExecutorError("run %s: %s: %v", run.ID, status, runErr)
	} else {
		logging.Executor("run %s: %s in %.1fs (%d events)", run.ID, status, run.DurationSeconds, run.EventsGenerated)
	}
	if e.onSettle != nil {
		e.onSettle(run)
	}
	return run
}

// terminalSnapshot is the last snapshot subscribers receive before their
// channels close. Completed runs always report 100/COMPLETED.
func (e *Executor) terminalSnapshot(run workspace.Run, parser *engine.Parser) telemetry.Snapshot {
	snap := telemetry.Snapshot{
		RunID:           run.ID,
		Progress:        run.Progress,
		CurrentStage:    run.CurrentStage,
		CurrentYear:     run.CurrentYear,
		TotalYears:      run.TotalYears,
		EventsGenerated: run.EventsGenerated,
		ElapsedSeconds:  run.DurationSeconds,
		RecentEvents:    []telemetry.RecentEvent{},
		Timestamp:       time.Now().UTC(),
	}
	if run.CurrentYear == 0 {
		snap.CurrentYear = run.StartYear
	}
	if parser != nil {
		snap.RecentEvents = parser.RecentEvents()
	}
	if run.DurationSeconds > 0 {
		snap.EventsPerSecond = float64(run.EventsGenerated) / run.DurationSeconds
	}
	return snap
}

func (e *Executor) publishSnapshot(handle *runHandle, parser *engine.Parser, sampler *telemetry.MemorySampler) {
	run := handle.snapshotRun()
	elapsed := time.Since(run.StartedAt).Seconds()
	mem := sampler.SampleMB()

	snap := telemetry.Snapshot{
		RunID:           run.ID,
		Progress:        run.Progress,
		CurrentStage:    parser.CurrentStage(),
		CurrentYear:     parser.CurrentYear(),
		TotalYears:      run.TotalYears,
		MemoryMB:        mem,
		EventsGenerated: parser.EventsGenerated(),
		ElapsedSeconds:  elapsed,
		MemoryPressure:  telemetry.PressureFor(mem),
		RecentEvents:    parser.RecentEvents(),
		Timestamp:       time.Now().UTC(),
	}
	if snap.CurrentYear == 0 {
		snap.CurrentYear = run.StartYear
	}
	if snap.CurrentStage == "" {
		snap.CurrentStage = engine.StageInitialization
	}
	if elapsed > 0 {
		snap.EventsPerSecond = float64(snap.EventsGenerated) / elapsed
	}
	e.hub.Publish(run.ID, snap)
}

// updateRunProgress folds parser state into the run record. Progress never
// moves backwards even if the engine revisits an earlier year in its output.
func (e *Executor) updateRunProgress(handle *runHandle, parser *engine.Parser) {
	handle.mu.Lock()
	defer handle.mu.Unlock()

	if p := parser.Progress(); p > handle.run.Progress {
		handle.run.Progress = p
	}
	if y := parser.CurrentYear(); y != 0 {
		handle.run.CurrentYear = y
	}
	if s := parser.CurrentStage(); s != "" {
		handle.run.CurrentStage = s
	}
	handle.run.EventsGenerated = parser.EventsGenerated()
}

// awaitFirstSubscriber gives the UI a short window to attach before output
// streaming starts. Runs proceed regardless.
func (e *Executor) awaitFirstSubscriber(ctx context.Context, runID string, handle *runHandle) {
	grace := e.settings.GetSubscriberGrace()
	if grace <= 0 {
		return
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if e.hub.Subscribers(runID) > 0 || handle.cancelled.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Cancel requests termination of a run. Safe to call at any point in the
// run's life, any number of times.
func (e *Executor) Cancel(runID string) error {
	e.mu.Lock()
	handle, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return faults.New(faults.NotFound, "run %s not found", runID)
	}
	if handle.cancelled.CompareAndSwap(false, true) {
		logging.Executor("run %s: cancellation requested", runID)
	}
	if proc := handle.getProc(); proc != nil {
		go proc.Terminate()
	}
	return nil
}

// GetRun returns the current record of an active or recently finished run.
func (e *Executor) GetRun(runID string) (*workspace.Run, bool) {
	e.mu.Lock()
	handle, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	run := handle.snapshotRun()
	return &run, true
}

// ActiveRuns lists runs that have not reached a terminal state.
func (e *Executor) ActiveRuns() []workspace.Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]workspace.Run, 0, len(e.runs))
	for _, handle := range e.runs {
		run := handle.snapshotRun()
		if !run.Status.IsTerminal() {
			out = append(out, run)
		}
	}
	return out
}

func (e *Executor) register(handle *runHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := handle.run.ID
	if _, exists := e.runs[id]; exists {
		return faults.New(faults.Conflict, "run %s already exists", id)
	}
	e.runs[id] = handle
	return nil
}

func scenarioStatusFor(status workspace.RunStatus) workspace.ScenarioStatus {
	switch status {
	case workspace.RunCompleted:
		return workspace.ScenarioCompleted
	case workspace.RunCancelled:
		return workspace.ScenarioCancelled
	default:
		return workspace.ScenarioFailed
	}
}

func requestResume(handle *runHandle) bool {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	return handle.resume
}

func routeEngineLine(runID, line string) {
	switch engine.ClassifyLine(line) {
	case engine.SeverityError:
		logging.EngineError("[%s] %s", runID, line)
	case engine.SeverityWarning:
		logging.EngineWarn("[%s] %s", runID, line)
	default:
		logging.EngineDebug("[%s] %s", runID, line)
	}
}

func writeConfigYAML(path string, cfg map[string]interface{}) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
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

// ring is a bounded buffer of the most recent engine output lines.
type ring struct {
	lines []string
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{lines: make([]string, capacity)}
}

func (r *ring) push(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// tail returns up to n of the most recent lines, oldest first.
func (r *ring) tail(n int) []string {
	size := r.next
	if r.full {
		size = len(r.lines)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}
