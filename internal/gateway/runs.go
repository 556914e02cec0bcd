package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crzyc98/planwise-navigator-sub000/internal/archive"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
)

type startRunRequest struct {
	Config map[string]interface{} `json:"config"`
	Resume bool                   `json:"resume"`
}

type pruneRequest struct {
	MaxRuns *int `json:"max_runs"`
}

type startBatchRequest struct {
	ScenarioIDs  []string `json:"scenario_ids"`
	Parallel     bool     `json:"parallel"`
	ExportFormat string   `json:"export_format"`
}

// StartRun admits a run and returns the queued record immediately; progress
// flows over /ws/runs/:id. An empty body runs the merged scenario config.
func (s *Server) StartRun(c *gin.Context) {
	handle(c, s.startRun)
}

func (s *Server) startRun(c *gin.Context) (interface{}, error) {
	var req startRunRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return nil, err
		}
	}
	run, err := s.deps.Executor.Start(executor.Request{
		WorkspaceID: c.Param("id"),
		ScenarioID:  c.Param("scenario"),
		Config:      req.Config,
		Resume:      req.Resume,
	})
	if err != nil {
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunsStarted.Inc()
	}
	c.Status(http.StatusAccepted)
	return run, nil
}

// ListArchivedRuns returns the archived run records of a scenario, newest
// first.
func (s *Server) ListArchivedRuns(c *gin.Context) {
	handle(c, s.listArchivedRuns)
}

func (s *Server) listArchivedRuns(c *gin.Context) (interface{}, error) {
	return archive.ListArchivedRuns(s.deps.Store, c.Param("id"), c.Param("scenario"))
}

// PruneRuns trims a scenario's archive to max_runs (defaults to the
// configured retention cap) and reports what was removed.
func (s *Server) PruneRuns(c *gin.Context) {
	handle(c, s.pruneRuns)
}

func (s *Server) pruneRuns(c *gin.Context) (interface{}, error) {
	var req pruneRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return nil, err
		}
	}
	maxRuns := s.deps.Settings.Runs.MaxRunsPerScenario
	if req.MaxRuns != nil {
		maxRuns = *req.MaxRuns
	}
	return archive.Prune(s.deps.Store, c.Param("id"), c.Param("scenario"), maxRuns)
}

// ListActiveRuns returns every run that has not reached a terminal state.
func (s *Server) ListActiveRuns(c *gin.Context) {
	handle(c, s.listActiveRuns)
}

func (s *Server) listActiveRuns(*gin.Context) (interface{}, error) {
	return s.deps.Executor.ActiveRuns(), nil
}

func (s *Server) GetRun(c *gin.Context) {
	handle(c, s.getRun)
}

func (s *Server) getRun(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	run, ok := s.deps.Executor.GetRun(id)
	if !ok {
		return nil, faults.New(faults.NotFound, "run %s not found", id)
	}
	return run, nil
}

func (s *Server) CancelRun(c *gin.Context) {
	handle(c, s.cancelRun)
}

func (s *Server) cancelRun(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := s.deps.Executor.Cancel(id); err != nil {
		return nil, err
	}
	return gin.H{"id": id, "cancel_requested": true}, nil
}

// GetTelemetry returns the latest snapshot of a run, for clients that poll
// instead of holding a socket.
func (s *Server) GetTelemetry(c *gin.Context) {
	handle(c, s.getTelemetry)
}

func (s *Server) getTelemetry(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	snap, ok := s.deps.Hub.Latest(id)
	if !ok {
		return nil, faults.New(faults.NotFound, "no telemetry for run %s", id)
	}
	return snap, nil
}

// StartBatch creates a batch over the named scenarios (all of them when the
// list is empty) and begins executing it in the background.
func (s *Server) StartBatch(c *gin.Context) {
	handle(c, s.startBatch)
}

func (s *Server) startBatch(c *gin.Context) (interface{}, error) {
	var req startBatchRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	job, err := s.deps.Batches.Create(c.Param("id"), req.ScenarioIDs, req.Parallel, req.ExportFormat)
	if err != nil {
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RunsStarted.Add(float64(len(job.Members)))
	}
	go func() {
		if _, err := s.deps.Batches.Run(context.Background(), job.ID); err != nil {
			s.log.Warn("batch run", zap.String("job", job.ID), zap.Error(err))
		}
	}()
	c.Status(http.StatusAccepted)
	return job, nil
}

func (s *Server) ListBatches(c *gin.Context) {
	handle(c, s.listBatches)
}

func (s *Server) listBatches(c *gin.Context) (interface{}, error) {
	return s.deps.Batches.ListJobs(c.Param("id")), nil
}

func (s *Server) GetBatch(c *gin.Context) {
	handle(c, s.getBatch)
}

func (s *Server) getBatch(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	job, ok := s.deps.Batches.GetJob(id)
	if !ok {
		return nil, faults.New(faults.NotFound, "batch %s not found", id)
	}
	return job, nil
}

func (s *Server) CancelBatch(c *gin.Context) {
	handle(c, s.cancelBatch)
}

func (s *Server) cancelBatch(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := s.deps.Batches.Cancel(id); err != nil {
		return nil, err
	}
	return gin.H{"id": id, "cancel_requested": true}, nil
}
