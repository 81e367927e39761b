package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/config"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
	"github.com/t77yq/alertd/internal/scheduler"
)

// DefaultTriggerPath is where the evaluation trigger is mounted when none is configured
const DefaultTriggerPath = "/api/cron/evaluate-alerts"

// TriggerService is the trigger storage behind the operator API
type TriggerService interface {
	GetTrigger(ctx context.Context, id string) (*model.AlertTrigger, error)
	ListActive(ctx context.Context, now time.Time, filter model.TriggerFilter) ([]*model.AlertTrigger, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*model.AlertTrigger, error)
	Resolve(ctx context.Context, id string, at time.Time) (*model.AlertTrigger, error)
}

// Server serves the evaluation trigger, the operator API, health and metrics
type Server struct {
	logger    *zap.Logger
	cfg       config.HTTPConfig
	secret    string
	runner    scheduler.Runner
	triggers  TriggerService
	publisher scheduler.EventPublisher
	router    *gin.Engine
	now       func() time.Time

	runTimeout time.Duration
}

// NewServer creates the API server. A nil publisher discards lifecycle events.
func NewServer(
	logger *zap.Logger,
	cfg config.HTTPConfig,
	secret string,
	runner scheduler.Runner,
	triggers TriggerService,
	publisher scheduler.EventPublisher,
) *Server {
	if cfg.TriggerPath == "" {
		cfg.TriggerPath = DefaultTriggerPath
	}
	if publisher == nil {
		publisher = monitor.NopPublisher{}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		logger:    logger.Named("api"),
		cfg:       cfg,
		secret:    secret,
		runner:    runner,
		triggers:  triggers,
		publisher: publisher,
		router:    router,
		now:       time.Now,
	}

	router.Use(s.recovery(), s.observe())
	s.setupRoutes()
	return s
}

// WithRunTimeout bounds each evaluation run started over HTTP. Zero leaves runs
// bounded only by the request.
func (s *Server) WithRunTimeout(d time.Duration) *Server {
	s.runTimeout = d
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET(s.cfg.TriggerPath, s.triggerStatus)
	s.router.POST(s.cfg.TriggerPath, s.authorize(), s.evaluate)

	alerts := s.router.Group("/api/alerts", s.authorize())
	{
		alerts.GET("/active", s.listActive)
		alerts.GET("/:id", s.getTrigger)
		alerts.POST("/:id/acknowledge", s.acknowledge)
		alerts.POST("/:id/resolve", s.resolve)
	}
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			zap.String("addr", s.cfg.Addr),
			zap.String("trigger_path", s.cfg.TriggerPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
