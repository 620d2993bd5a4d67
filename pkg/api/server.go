package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/vinci4d/engine/pkg/batcher"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/log"
	"github.com/vinci4d/engine/pkg/manager"
	"github.com/vinci4d/engine/pkg/metrics"
	"github.com/vinci4d/engine/pkg/scheduler"
)

// Server exposes the engine over REST
type Server struct {
	mgr    *manager.Manager
	sched  *scheduler.Scheduler
	batch  *batcher.Batcher
	router *gin.Engine
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the API server over a manager
func NewServer(mgr *manager.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		mgr:    mgr,
		sched:  scheduler.New(mgr),
		batch:  batcher.New(mgr),
		logger: log.WithComponent("api"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.instrument())

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api")
	{
		grids := v1.Group("/grids")
		{
			grids.POST("", s.createGrid)
			grids.GET("", s.listGrids)
			grids.GET("/:uid", s.getGrid)
			grids.DELETE("/:uid", s.terminateGrid)
			grids.POST("/:uid/activate", s.activateGrid)
			grids.POST("/:uid/pause", s.pauseGrid)
			grids.POST("/:uid/recompute", s.recomputeGrid)
			grids.GET("/:uid/workers", s.listGridWorkers)
		}

		workers := v1.Group("/workers")
		{
			workers.POST("", s.createWorker)
			workers.GET("", s.listWorkers)
			workers.GET("/:uid", s.getWorker)
			workers.DELETE("/:uid", s.deleteWorker)
			workers.POST("/:uid/online", s.workerOnline)
			workers.POST("/:uid/offline", s.workerOffline)
			workers.POST("/:uid/heartbeat", s.workerHeartbeat)
		}

		functions := v1.Group("/functions")
		{
			functions.POST("", s.createFunction)
			functions.GET("", s.listFunctions)
			functions.GET("/:uid", s.getFunction)
			functions.PUT("/:uid", s.updateFunction)
			functions.DELETE("/:uid", s.deleteFunction)
			functions.POST("/:uid/start", s.startFunction)
			functions.POST("/:uid/cancel", s.cancelFunction)
			functions.GET("/:uid/tasks", s.listFunctionTasks)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.POST("/claim", s.claimTask)
			tasks.GET("/:uid", s.getTask)
			tasks.POST("/:uid/report", s.reportTask)
		}

		cluster := v1.Group("/cluster")
		{
			cluster.POST("/join", s.joinCluster)
			cluster.GET("/servers", s.listClusterServers)
			cluster.POST("/token", s.generateToken)
		}

		v1.GET("/events", s.streamEvents)
	}

	s.router = router
	return s
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start begins serving on the given address
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	s.logger.Info().Str("addr", addr).Msg("api listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// instrument records request metrics and logs
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method + " " + route

		timer.ObserveDuration(metrics.APIRequestDuration.WithLabelValues(method))
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(c.Writer.Status())).Inc()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", timer.Duration()).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) ready(c *gin.Context) {
	stats := s.mgr.GetRaftStats()
	if stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "raft not initialized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"leader": s.mgr.LeaderAddr(),
		"raft":   stats,
	})
}

// abortWithError maps the error taxonomy onto HTTP statuses
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
	case errdefs.IsInvalidState(err),
		errdefs.IsConflictingClaim(err),
		errdefs.IsResourceExhausted(err):
		status = http.StatusConflict
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error":     err.Error(),
		"retryable": errdefs.IsRetryable(err),
	})
}
