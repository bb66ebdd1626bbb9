package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/harvester/internal/api/middleware"
	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Params holds the parameters for creating a new API server.
type Params struct {
	Config  config.ServerConfig
	Logger  logger.Logger
	Jobs    JobService
	Lister  JobLister
	Metrics http.Handler
	// Checks are run by GET /health, keyed by dependency name.
	Checks map[string]HealthCheck
}

// Server is the harvester HTTP API.
type Server struct {
	httpServer *http.Server
	logger     logger.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(p Params) *gin.Engine {
	log := p.Logger
	if log == nil {
		log = logger.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.SecurityHeaders(), middleware.RequestLogger(log))

	router.GET("/health", healthHandler(p.Checks))
	if p.Metrics != nil {
		router.GET("/metrics", gin.WrapH(p.Metrics))
	}

	jobs := NewJobsHandler(p.Jobs, p.Lister)
	v1 := router.Group("/api/v1", middleware.APIKey(p.Config.APIKey))
	v1.POST("/jobs", jobs.CreateJob)
	v1.GET("/jobs/:id", jobs.GetJob)
	v1.POST("/jobs/:id/cancel", jobs.CancelJob)
	if p.Lister != nil {
		v1.GET("/jobs", jobs.ListJobs)
	}

	return router
}

// NewServer creates a new API server instance.
func NewServer(p Params) *Server {
	if p.Logger == nil {
		p.Logger = logger.NewNop()
	}
	readTimeout := p.Config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	writeTimeout := p.Config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              p.Config.Address(),
			Handler:           NewRouter(p),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
		},
		logger: p.Logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", logger.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
