package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// workspaceView is a workspace plus the base config stored beside its
// metadata; the store keeps the two in separate files.
type workspaceView struct {
	*workspace.Workspace
	BaseConfig map[string]interface{} `json:"base_config,omitempty"`
}

// scenarioView is a scenario plus its override document.
type scenarioView struct {
	*workspace.Scenario
	Overrides map[string]interface{} `json:"overrides,omitempty"`
}

type createWorkspaceRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	BaseConfig  map[string]interface{} `json:"base_config"`
}

type patchWorkspaceRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	BaseConfig  map[string]interface{} `json:"base_config"`
}

type createScenarioRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Overrides   map[string]interface{} `json:"overrides"`
}

type patchScenarioRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Overrides   map[string]interface{} `json:"overrides"`
}

// ListWorkspaces returns summaries of every workspace, newest first.
func (s *Server) ListWorkspaces(c *gin.Context) {
	handle(c, s.listWorkspaces)
}

func (s *Server) listWorkspaces(*gin.Context) (interface{}, error) {
	return s.deps.Store.ListWorkspaces()
}

// CreateWorkspace makes a workspace from a name, optional description and
// optional base simulation config.
func (s *Server) CreateWorkspace(c *gin.Context) {
	handle(c, s.createWorkspace)
}

func (s *Server) createWorkspace(c *gin.Context) (interface{}, error) {
	var req createWorkspaceRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	ws, err := s.deps.Store.CreateWorkspace(req.Name, req.Description, req.BaseConfig)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return workspaceView{Workspace: ws, BaseConfig: ws.BaseConfig}, nil
}

func (s *Server) GetWorkspace(c *gin.Context) {
	handle(c, s.getWorkspace)
}

func (s *Server) getWorkspace(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	ws, ok, err := s.deps.Store.GetWorkspace(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "workspace %s not found", id)
	}
	return workspaceView{Workspace: ws, BaseConfig: ws.BaseConfig}, nil
}

// PatchWorkspace applies a partial update; absent fields are untouched.
func (s *Server) PatchWorkspace(c *gin.Context) {
	handle(c, s.patchWorkspace)
}

func (s *Server) patchWorkspace(c *gin.Context) (interface{}, error) {
	var req patchWorkspaceRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	ws, err := s.deps.Store.UpdateWorkspace(c.Param("id"), workspace.WorkspaceUpdate{
		Name:        req.Name,
		Description: req.Description,
		BaseConfig:  req.BaseConfig,
	})
	if err != nil {
		return nil, err
	}
	return workspaceView{Workspace: ws, BaseConfig: ws.BaseConfig}, nil
}

func (s *Server) DeleteWorkspace(c *gin.Context) {
	handle(c, s.deleteWorkspace)
}

func (s *Server) deleteWorkspace(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := s.deps.Store.DeleteWorkspace(id); err != nil {
		return nil, err
	}
	return gin.H{"id": id, "deleted": true}, nil
}

func (s *Server) ListScenarios(c *gin.Context) {
	handle(c, s.listScenarios)
}

func (s *Server) listScenarios(c *gin.Context) (interface{}, error) {
	return s.deps.Store.ListScenarios(c.Param("id"))
}

func (s *Server) CreateScenario(c *gin.Context) {
	handle(c, s.createScenario)
}

func (s *Server) createScenario(c *gin.Context) (interface{}, error) {
	var req createScenarioRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	sc, err := s.deps.Store.CreateScenario(c.Param("id"), req.Name, req.Description, req.Overrides)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return scenarioView{Scenario: sc, Overrides: sc.Overrides}, nil
}

func (s *Server) GetScenario(c *gin.Context) {
	handle(c, s.getScenario)
}

func (s *Server) getScenario(c *gin.Context) (interface{}, error) {
	sc, ok, err := s.deps.Store.GetScenario(c.Param("id"), c.Param("scenario"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "scenario %s not found in workspace %s",
			c.Param("scenario"), c.Param("id"))
	}
	return scenarioView{Scenario: sc, Overrides: sc.Overrides}, nil
}

func (s *Server) PatchScenario(c *gin.Context) {
	handle(c, s.patchScenario)
}

func (s *Server) patchScenario(c *gin.Context) (interface{}, error) {
	var req patchScenarioRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	sc, err := s.deps.Store.UpdateScenario(c.Param("id"), c.Param("scenario"), workspace.ScenarioUpdate{
		Name:        req.Name,
		Description: req.Description,
		Overrides:   req.Overrides,
	})
	if err != nil {
		return nil, err
	}
	return scenarioView{Scenario: sc, Overrides: sc.Overrides}, nil
}

func (s *Server) DeleteScenario(c *gin.Context) {
	handle(c, s.deleteScenario)
}

func (s *Server) deleteScenario(c *gin.Context) (interface{}, error) {
	id := c.Param("scenario")
	if err := s.deps.Store.DeleteScenario(c.Param("id"), id); err != nil {
		return nil, err
	}
	return gin.H{"id": id, "deleted": true}, nil
}

// GetMergedConfig returns the effective config a run of this scenario would
// use: defaults, workspace base, then scenario overrides.
func (s *Server) GetMergedConfig(c *gin.Context) {
	handle(c, s.getMergedConfig)
}

func (s *Server) getMergedConfig(c *gin.Context) (interface{}, error) {
	return s.deps.Store.MergedConfig(c.Param("id"), c.Param("scenario"))
}
