// Package gateway exposes the studio over HTTP and websockets. It is a thin
// adapter: every route delegates to a core package and serializes whatever
// comes back, so no business rule lives here. Faults map onto HTTP statuses
// by kind; everything else is a 500.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crzyc98/planwise-navigator-sub000/internal/batch"
	"github.com/crzyc98/planwise-navigator-sub000/internal/bundle"
	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/executor"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/metrics"
	"github.com/crzyc98/planwise-navigator-sub000/internal/results"
	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Deps are the core services the gateway fronts. All fields are required
// except Logger, which defaults to a nop logger.
type Deps struct {
	Store    *workspace.Store
	Executor *executor.Executor
	Batches  *batch.Scheduler
	Reader   *results.Reader
	Bundler  *bundle.Bundler
	Hub      *telemetry.Hub
	Settings *config.Settings
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server is the HTTP/websocket front of the studio.
type Server struct {
	deps     Deps
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New wires a server. It does not listen; call Run or mount Router yourself.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{deps: deps, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the gin engine with every route attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), s.observe())

	api := e.Group("/api")
	{
		api.GET("health", s.Health)

		api.GET("workspaces", s.ListWorkspaces)
		api.POST("workspaces", s.CreateWorkspace)
		api.GET("workspaces/:id", s.GetWorkspace)
		api.PATCH("workspaces/:id", s.PatchWorkspace)
		api.DELETE("workspaces/:id", s.DeleteWorkspace)

		api.GET("workspaces/:id/scenarios", s.ListScenarios)
		api.POST("workspaces/:id/scenarios", s.CreateScenario)
		api.GET("workspaces/:id/scenarios/:scenario", s.GetScenario)
		api.PATCH("workspaces/:id/scenarios/:scenario", s.PatchScenario)
		api.DELETE("workspaces/:id/scenarios/:scenario", s.DeleteScenario)
		api.GET("workspaces/:id/scenarios/:scenario/config", s.GetMergedConfig)

		api.POST("workspaces/:id/scenarios/:scenario/runs", s.StartRun)
		api.GET("workspaces/:id/scenarios/:scenario/runs", s.ListArchivedRuns)
		api.POST("workspaces/:id/scenarios/:scenario/prune", s.PruneRuns)
		api.GET("runs", s.ListActiveRuns)
		api.GET("runs/:id", s.GetRun)
		api.POST("runs/:id/cancel", s.CancelRun)
		api.GET("runs/:id/telemetry", s.GetTelemetry)

		api.GET("workspaces/:id/batches", s.ListBatches)
		api.POST("workspaces/:id/batches", s.StartBatch)
		api.GET("batches/:id", s.GetBatch)
		api.POST("batches/:id/cancel", s.CancelBatch)

		api.GET("workspaces/:id/scenarios/:scenario/results/workforce", s.GetWorkforceProgression)
		api.GET("workspaces/:id/scenarios/:scenario/results/compensation", s.GetCompensationBands)
		api.GET("workspaces/:id/scenarios/:scenario/results/events", s.GetEventTrends)
		api.GET("workspaces/:id/scenarios/:scenario/results/dc-plan", s.GetDCPlan)
		api.POST("workspaces/:id/compare", s.CompareScenarios)

		api.POST("workspaces/:id/export", s.ExportWorkspace)
		api.POST("bundles/validate", s.ValidateBundle)
		api.POST("bundles/import", s.ImportBundle)
		api.POST("bundles/bulk-export", s.BulkExport)
		api.POST("bundles/bulk-import", s.BulkImport)
		api.GET("bundles/operations", s.ListBundleOperations)
		api.GET("bundles/operations/:id", s.GetBundleOperation)
	}

	e.GET("/ws/runs/:id", s.StreamRun)
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{})))
	return e
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.deps.Settings.Gateway.ListenAddr,
		Handler: s.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

// handleFunc is a route body that returns a response value or an error. The
// wrapper owns serialization and error mapping so bodies stay declarative.
type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		abortWithFault(c, err)
		return
	}
	code := http.StatusOK
	if c.Writer.Status() > 0 && c.Writer.Status() != http.StatusOK {
		code = c.Writer.Status()
	}
	c.JSON(code, rsp)
}

// apiError is the JSON error envelope. Kind mirrors the fault taxonomy so
// clients can branch without parsing messages.
type apiError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func abortWithFault(c *gin.Context, err error) {
	kind := faults.KindOf(err)
	c.AbortWithStatusJSON(statusFor(kind), apiError{Kind: string(kind), Message: err.Error()})
}

func statusFor(kind faults.Kind) int {
	switch kind {
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Validation:
		return http.StatusBadRequest
	case faults.Conflict, faults.Cancelled:
		return http.StatusConflict
	case faults.Precondition:
		return http.StatusPreconditionFailed
	case faults.ResourceLimit:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// observe logs each request and feeds the request counter. Websocket
// upgrades skip the counter; they have their own.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.deps.Metrics != nil {
			s.deps.Metrics.Requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		}
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Health reports liveness plus the two numbers operators ask for first.
func (s *Server) Health(c *gin.Context) {
	handle(c, s.health)
}

func (s *Server) health(*gin.Context) (interface{}, error) {
	active := len(s.deps.Executor.ActiveRuns())
	return gin.H{
		"status":       "ok",
		"active_runs":  active,
		"storage_used": s.deps.Store.TotalStorageBytes(),
	}, nil
}

// bindJSON decodes a request body, translating decode failures into
// validation faults so they surface as 400s.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return faults.Wrap(faults.Validation, err, "invalid request body")
	}
	return nil
}
