package gateway

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
)

type exportRequest struct {
	OutDir string `json:"out_dir"`
}

type validateBundleRequest struct {
	Path string `json:"path"`
}

type importBundleRequest struct {
	Path       string `json:"path"`
	Resolution string `json:"resolution"`
	NewName    string `json:"new_name"`
}

type bulkExportRequest struct {
	WorkspaceIDs []string `json:"workspace_ids"`
	OutDir       string   `json:"out_dir"`
}

type bulkImportRequest struct {
	Paths      []string `json:"paths"`
	Resolution string   `json:"resolution"`
}

// exportDir resolves the target directory for bundle writes; the default
// sits beside the workspaces.
func (s *Server) exportDir(requested string) string {
	if requested != "" {
		return requested
	}
	return filepath.Join(s.deps.Store.Root(), "exports")
}

// ExportWorkspace writes a workspace bundle and returns where it landed.
func (s *Server) ExportWorkspace(c *gin.Context) {
	handle(c, s.exportWorkspace)
}

func (s *Server) exportWorkspace(c *gin.Context) (interface{}, error) {
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return nil, err
		}
	}
	return s.deps.Bundler.Export(c.Param("id"), s.exportDir(req.OutDir))
}

// ValidateBundle inspects a bundle on disk without importing it: manifest,
// size cap, name conflicts, format version.
func (s *Server) ValidateBundle(c *gin.Context) {
	handle(c, s.validateBundle)
}

func (s *Server) validateBundle(c *gin.Context) (interface{}, error) {
	var req validateBundleRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, faults.New(faults.Validation, "path is required")
	}
	return s.deps.Bundler.Validate(req.Path)
}

// ImportBundle imports a bundle from disk. Name conflicts surface as 409s
// carrying a suggested rename unless the request provides a resolution.
func (s *Server) ImportBundle(c *gin.Context) {
	handle(c, s.importBundle)
}

func (s *Server) importBundle(c *gin.Context) (interface{}, error) {
	var req importBundleRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, faults.New(faults.Validation, "path is required")
	}
	res, err := s.deps.Bundler.Import(req.Path, req.Resolution, req.NewName)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return res, nil
}

// BulkExport exports several workspaces with bounded parallelism and
// returns the finished operation with per-item outcomes.
func (s *Server) BulkExport(c *gin.Context) {
	handle(c, s.bulkExport)
}

func (s *Server) bulkExport(c *gin.Context) (interface{}, error) {
	var req bulkExportRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	op, err := s.deps.Bundler.BulkExport(c.Request.Context(), req.WorkspaceIDs, s.exportDir(req.OutDir))
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Server) BulkImport(c *gin.Context) {
	handle(c, s.bulkImport)
}

func (s *Server) bulkImport(c *gin.Context) (interface{}, error) {
	var req bulkImportRequest
	if err := bindJSON(c, &req); err != nil {
		return nil, err
	}
	op, err := s.deps.Bundler.BulkImport(c.Request.Context(), req.Paths, req.Resolution)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (s *Server) ListBundleOperations(c *gin.Context) {
	handle(c, s.listBundleOperations)
}

func (s *Server) listBundleOperations(*gin.Context) (interface{}, error) {
	return s.deps.Bundler.ListOperations(), nil
}

func (s *Server) GetBundleOperation(c *gin.Context) {
	handle(c, s.getBundleOperation)
}

func (s *Server) getBundleOperation(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	op, ok := s.deps.Bundler.GetOperation(id)
	if !ok {
		return nil, faults.New(faults.NotFound, "operation %s not found", id)
	}
	return op, nil
}
