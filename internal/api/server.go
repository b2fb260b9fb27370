// Package api exposes the diagnosis pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leafscan/leafnet-go/internal/analytics"
	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/diagnosis"
	"github.com/leafscan/leafnet-go/internal/logging"
	"github.com/leafscan/leafnet-go/internal/observability"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = logging.ForService("api")
	})
	return logger
}

// Server is the HTTP server wrapping the diagnosis and analytics services.
type Server struct {
	Echo *echo.Echo

	settings  *conf.Settings
	diagnosis *diagnosis.Service
	analytics *analytics.Service
	metrics   *observability.Metrics
}

// New creates the server and registers all routes. metrics may be nil, in
// which case no /metrics endpoint is exposed.
func New(settings *conf.Settings, diagnosisService *diagnosis.Service, analyticsService *analytics.Service, metrics *observability.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		Echo:      e,
		settings:  settings,
		diagnosis: diagnosisService,
		analytics: analyticsService,
		metrics:   metrics,
	}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	v1 := s.Echo.Group("/api/v1")

	v1.POST("/diagnosis/upload", s.handleUpload)
	v1.POST("/diagnosis/mobile", s.handleMobileUpsert)
	v1.PUT("/diagnosis/mobile", s.handleMobileUpsert)
	v1.PUT("/diagnosis/:serverId/manual", s.handleManualUpdate)
	v1.POST("/diagnosis/:serverId/reset", s.handleReset)
	v1.GET("/diagnosis", s.handleList)

	v1.GET("/analytics/report", s.handleReport)
	v1.GET("/analytics/system", s.handleSystemReport)

	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.settings.WebServer.Port)
	getLogger().Info("starting HTTP server", "addr", addr)
	return s.Echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}
