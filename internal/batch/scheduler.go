// Package batch runs several scenarios of one workspace as a single job,
// sequentially or with bounded parallelism. Jobs live in process memory
// only; a restart forgets them (runs themselves are archived by the
// executor either way).
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Status of a job or one of its members.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Member is one scenario's slot in a batch job.
type Member struct {
	ScenarioID   string `json:"scenario_id"`
	ScenarioName string `json:"scenario_name"`
	RunID        string `json:"run_id,omitempty"`
	Status       Status `json:"status"`
	Progress     int    `json:"progress"`
	Error        string `json:"error,omitempty"`
}

// Job is a batch of scenario runs with an overall status.
type Job struct {
	ID           string     `json:"batch_id"`
	WorkspaceID  string     `json:"workspace_id"`
	Parallel     bool       `json:"parallel"`
	ExportFormat string     `json:"export_format,omitempty"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Members      []Member   `json:"members"`
}

// jobState is the mutable registry entry behind the Job snapshots handed out.
type jobState struct {
	mu        sync.Mutex
	job       Job
	cancelled bool
}

// Scheduler creates and drives batch jobs.
type Scheduler struct {
	exec     *executor.Executor
	store    *workspace.Store
	hub      *telemetry.Hub
	settings *config.Settings

	mu   sync.Mutex
	jobs map[string]*jobState
}

// NewScheduler wires the scheduler over the executor it delegates runs to.
func NewScheduler(exec *executor.Executor, store *workspace.Store, hub *telemetry.Hub, settings *config.Settings) *Scheduler {
	return &Scheduler{
		exec:     exec,
		store:    store,
		hub:      hub,
		settings: settings,
		jobs:     make(map[string]*jobState),
	}
}

// Create registers a job over the given scenarios, or over every scenario in
// the workspace when scenarioIDs is empty. Members start pending; nothing
// executes until Run.
func (s *Scheduler) Create(workspaceID string, scenarioIDs []string, parallel bool, exportFormat string) (*Job, error) {
	scenarios, err := s.store.ListScenarios(workspaceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*workspace.Scenario, len(scenarios))
	for i := range scenarios {
		byID[scenarios[i].ID] = &scenarios[i]
	}

	if len(scenarioIDs) == 0 {
		scenarioIDs = make([]string, 0, len(scenarios))
		for i := range scenarios {
			scenarioIDs = append(scenarioIDs, scenarios[i].ID)
		}
	}
	if len(scenarioIDs) == 0 {
		return nil, faults.New(faults.Validation, "workspace has no scenarios to run")
	}

	members := make([]Member, 0, len(scenarioIDs))
	for _, id := range scenarioIDs {
		sc, ok := byID[id]
		if !ok {
			return nil, faults.New(faults.NotFound, "scenario %s not found in workspace %s", id, workspaceID)
		}
		members = append(members, Member{
			ScenarioID:   sc.ID,
			ScenarioName: sc.Name,
			Status:       StatusPending,
		})
	}

	state := &jobState{job: Job{
		ID:           ulid.Make().String(),
		WorkspaceID:  workspaceID,
		Parallel:     parallel,
		ExportFormat: exportFormat,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
		Members:      members,
	}}

	s.mu.Lock()
	s.jobs[state.job.ID] = state
	s.mu.Unlock()

	logging.Batch("job %s created: %d scenario(s), parallel=%v", state.job.ID, len(members), parallel)
	snapshot := state.snapshot()
	return &snapshot, nil
}

// Run drives a job to its terminal state and returns the final snapshot.
func (s *Scheduler) Run(ctx context.Context, jobID string) (*Job, error) {
	state, ok := s.get(jobID)
	if !ok {
		return nil, faults.New(faults.NotFound, "batch %s not found", jobID)
	}

	state.mu.Lock()
	if state.job.Status != StatusPending {
		status := state.job.Status
		state.mu.Unlock()
		return nil, faults.New(faults.Conflict, "batch %s already %s", jobID, status)
	}
	now := time.Now().UTC()
	state.job.Status = StatusRunning
	state.job.StartedAt = &now
	state.mu.Unlock()

	if state.job.Parallel {
		s.runParallel(ctx, state)
	} else {
		s.runSequential(ctx, state)
	}

	state.mu.Lock()
	done := time.Now().UTC()
	state.job.CompletedAt = &done
	state.job.Status = finalStatus(state.job.Members, state.cancelled)
	state.mu.Unlock()

	final := state.snapshot()
	logging.Batch("job %s finished: %s", jobID, final.Status)
	return &final, nil
}

func (s *Scheduler) runSequential(ctx context.Context, state *jobState) {
	for i := range state.job.Members {
		s.runMember(ctx, state, i)
	}
}

func (s *Scheduler) runParallel(ctx context.Context, state *jobState) {
	limit := s.settings.MaxConcurrentSimulations
	if limit < 1 {
		limit = 2
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range state.job.Members {
		i := i
		g.Go(func() error {
			s.runMember(gctx, state, i)
			return nil // member failures land on the member, not the group
		})
	}
	_ = g.Wait()
}

// runMember executes one scenario and mirrors its telemetry into the member
// record. A cancelled job skips members that have not started.
func (s *Scheduler) runMember(ctx context.Context, state *jobState, idx int) {
	state.mu.Lock()
	if state.cancelled {
		state.job.Members[idx].Status = StatusCancelled
		state.mu.Unlock()
		return
	}
	runID := ulid.Make().String()
	member := &state.job.Members[idx]
	member.RunID = runID
	member.Status = StatusRunning
	workspaceID := state.job.WorkspaceID
	scenarioID := member.ScenarioID
	state.mu.Unlock()

	sub := s.hub.Subscribe(runID)
	var pump sync.WaitGroup
	pump.Add(1)
	go func() {
		defer pump.Done()
		for snap := range sub.C() {
			state.mu.Lock()
			if snap.Progress > state.job.Members[idx].Progress {
				state.job.Members[idx].Progress = snap.Progress
			}
			state.mu.Unlock()
		}
	}()

	run, err := s.exec.Execute(ctx, executor.Request{
		WorkspaceID: workspaceID,
		ScenarioID:  scenarioID,
		RunID:       runID,
	})
	s.hub.Unsubscribe(sub)
	pump.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()
	member = &state.job.Members[idx]
	switch {
	case err != nil:
		member.Status = StatusFailed
		member.Error = err.Error()
	case run.Status == workspace.RunCancelled:
		member.Status = StatusCancelled
	default:
		member.Status = StatusCompleted
		member.Progress = 100
	}
}

// Cancel stops a job: in-flight members are cancelled through the executor,
// pending members never start. Idempotent.
func (s *Scheduler) Cancel(jobID string) error {
	state, ok := s.get(jobID)
	if !ok {
		return faults.New(faults.NotFound, "batch %s not found", jobID)
	}

	state.mu.Lock()
	state.cancelled = true
	var inFlight []string
	for i := range state.job.Members {
		m := state.job.Members[i]
		if m.Status == StatusRunning && m.RunID != "" {
			inFlight = append(inFlight, m.RunID)
		}
	}
	state.mu.Unlock()

	for _, runID := range inFlight {
		if err := s.exec.Cancel(runID); err != nil {
			logging.BatchWarn("job %s: cancel run %s: %v", jobID, runID, err)
		}
	}
	logging.Batch("job %s: cancellation requested (%d in flight)", jobID, len(inFlight))
	return nil
}

// GetJob returns a point-in-time copy of a job.
func (s *Scheduler) GetJob(jobID string) (*Job, bool) {
	state, ok := s.get(jobID)
	if !ok {
		return nil, false
	}
	snapshot := state.snapshot()
	return &snapshot, true
}

// ListJobs returns jobs for a workspace, newest first.
func (s *Scheduler) ListJobs(workspaceID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0)
	for _, state := range s.jobs {
		snap := state.snapshot()
		if snap.WorkspaceID == workspaceID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Scheduler) get(jobID string) (*jobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[jobID]
	return state, ok
}

func (st *jobState) snapshot() Job {
	st.mu.Lock()
	defer st.mu.Unlock()

	job := st.job
	job.Members = make([]Member, len(st.job.Members))
	copy(job.Members, st.job.Members)
	return job
}

// finalStatus settles the job-level outcome from its members: any failure
// wins, then cancellation, otherwise completed.
func finalStatus(members []Member, cancelled bool) Status {
	anyFailed, anyCancelled := false, false
	for _, m := range members {
		switch m.Status {
		case StatusFailed:
			anyFailed = true
		case StatusCancelled:
			anyCancelled = true
		}
	}
	switch {
	case anyFailed:
		return StatusFailed
	case anyCancelled || cancelled:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}
