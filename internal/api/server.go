// Package api exposes the worker pull protocol, the training progress
// channel, and the dashboard event stream over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/config"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/events"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB   *gorm.DB
	Bus  *events.Bus
	Cfg  *config.Config
	Port int
	Out  io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("api: db is required")
	}
	if opts.Bus == nil {
		return fmt.Errorf("api: event bus is required")
	}
	if opts.Cfg == nil {
		return fmt.Errorf("api: config is required")
	}
	if opts.Port <= 0 {
		opts.Port = opts.Cfg.Server.Port
	}

	router := NewRouter(opts.DB, opts.Bus, opts.Cfg)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Scheduler API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the Gin router with all routes registered. Split out from
// Start so tests can drive it with httptest.
func NewRouter(db *gorm.DB, bus *events.Bus, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &server{db: db, bus: bus, cfg: cfg}
	s.registerRoutes(router)
	return router
}

type server struct {
	db  *gorm.DB
	bus *events.Bus
	cfg *config.Config
}

func (s *server) registerRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")

	// Job submission and lifecycle.
	apiGroup.POST("/jobs", s.handleEnqueueJob)
	apiGroup.GET("/jobs/:id", s.handleGetJob)
	apiGroup.POST("/jobs/:id/release", s.handleReleaseJob)
	apiGroup.POST("/jobs/:id/fail", s.handleFailJob)
	apiGroup.POST("/jobs/:id/cancel", s.handleCancelJob)

	// Worker pull protocol.
	apiGroup.POST("/workers/:node/claim", s.handleClaim)

	// Telemetry collaborator.
	apiGroup.POST("/snapshots", s.handleRecordSnapshot)

	// Queue health.
	apiGroup.GET("/queue/status", s.handleQueueStatus)

	// Training progress channel.
	apiGroup.POST("/runs", s.handleCreateRun)
	apiGroup.GET("/runs", s.handleListRuns)
	apiGroup.GET("/runs/stats", s.handleRunStats)
	apiGroup.GET("/runs/:id", s.handleGetRun)
	apiGroup.GET("/runs/:id/metrics", s.handleRunMetrics)
	apiGroup.POST("/runs/:id/start", s.handleStartRun)
	apiGroup.POST("/runs/:id/progress", s.handleProgress)
	apiGroup.POST("/runs/:id/checkpoint", s.handleCheckpoint)
	apiGroup.POST("/runs/:id/complete", s.handleCompleteRun)
	apiGroup.POST("/runs/:id/cancel", s.handleCancelRun)
	apiGroup.POST("/runs/:id/fail", s.handleFailRun)

	// Event stream.
	apiGroup.GET("/runs/:id/events", s.handleRunEvents)
	apiGroup.GET("/events/stats", s.handleEventStats)
}

// respondErr maps the error taxonomy onto HTTP status codes.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrInsufficientResource):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
