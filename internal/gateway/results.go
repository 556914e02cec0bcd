package gateway

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crzyc98/planwise-navigator-sub000/internal/results"
)

type compareRequest struct {
	BaselineID  string   `json:"baseline_id"`
	ScenarioIDs []string `json:"scenario_ids"`
}

// observeQuery times one results query when metrics are wired.
func (s *Server) observeQuery() func() {
	if s.deps.Metrics == nil {
		return func() {}
	}
	t := prometheus.NewTimer(s.deps.Metrics.QueryDuration)
	return func() { t.ObserveDuration() }
}

func (s *Server) openResults(c *gin.Context) (*results.ScenarioResults, error) {
	return s.deps.Reader.Open(c.Param("id"), c.Param("scenario"))
}

// GetWorkforceProgression returns per-year headcount and compensation from
// the scenario's result database.
func (s *Server) GetWorkforceProgression(c *gin.Context) {
	handle(c, s.getWorkforceProgression)
}

func (s *Server) getWorkforceProgression(c *gin.Context) (interface{}, error) {
	defer s.observeQuery()()
	res, err := s.openResults(c)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return res.WorkforceProgression()
}

func (s *Server) GetCompensationBands(c *gin.Context) {
	handle(c, s.getCompensationBands)
}

func (s *Server) getCompensationBands(c *gin.Context) (interface{}, error) {
	defer s.observeQuery()()
	res, err := s.openResults(c)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return res.CompensationByStatus()
}

func (s *Server) GetEventTrends(c *gin.Context) {
	handle(c, s.getEventTrends)
}

func (s *Server) getEventTrends(c *gin.Context) (interface{}, error) {
	defer s.observeQuery()()
	res, err := s.openResults(c)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return res.EventTrends()
}

func (s *Server) GetDCPlan(c *gin.Context) {
	handle(c, s.getDCPlan)
}

func (s *Server) getDCPlan(c *gin.Context) (interface{}, error) {
	defer s.observeQuery()()
	res, err := s.openResults(c)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return res.DCPlanAggregates()
}

// CompareScenarios runs the multi-scenario comparison. The baseline leads
// the scenario set; deltas are against it.
func (s *Server) CompareScenarios(c *gin.Context) {
	handle(c, s.compareScenarios)
}

func (s *Server) compareScenarios(c *gin.Context) (interface{}, error) {
	var req compareRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	defer s.observeQuery()()
	return s.deps.Reader.Compare(c.Param("id"), req.BaselineID, req.ScenarioIDs)
}
