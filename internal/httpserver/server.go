// Package httpserver assembles the Echo server: middleware, the JSON API,
// the SSE stream endpoints and the Prometheus exposition endpoint.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/theRAGEhero/world-cafe/internal/api"
	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
	"github.com/theRAGEhero/world-cafe/internal/registry"
	"github.com/theRAGEhero/world-cafe/internal/transcript"
)

// Server wraps the Echo instance and its wiring.
type Server struct {
	Echo     *echo.Echo
	API      *api.Controller
	Settings *conf.Settings

	logger        *slog.Logger
	requestLog    *slog.Logger
	closeLogFiles func() error
}

// New builds the HTTP server with all routes registered.
func New(settings *conf.Settings, ds datastore.Interface, reg *registry.Registry,
	manager *transcript.Manager, hub *broadcast.Hub, metrics *observability.Metrics) *Server {

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	s := &Server{
		Echo:     e,
		Settings: settings,
		logger:   logging.ForService("httpserver"),
	}
	s.requestLog = s.logger
	if settings.WebServer.Log.Enabled {
		fileLogger, closer, err := logging.NewFileLogger(
			settings.WebServer.Log.Path, "webserver", slog.LevelInfo, logging.FileConfig{
				MaxSizeMB:  settings.WebServer.Log.MaxSizeMB,
				MaxBackups: settings.WebServer.Log.MaxBackups,
				MaxAgeDays: settings.WebServer.Log.MaxAgeDays,
			})
		if err != nil {
			s.logger.Warn("request log file unavailable, using stdout", "error", err)
		} else {
			s.requestLog = fileLogger
			s.closeLogFiles = closer
		}
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))
	e.Use(s.requestLogger())

	s.API = api.New(e, ds, settings, reg, manager, hub, metrics)

	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}
	return s
}

// requestLogger logs each request with the structured logger. SSE streams
// are skipped: they are long-lived and logged by the stream handler itself.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Accept") == "text/event-stream"
		},
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.requestLog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"ip", c.RealIP())
			return nil
		},
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	addr := fmt.Sprintf(":%s", s.Settings.WebServer.Port)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server, waiting up to the given timeout for in-flight
// requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Echo.Shutdown(ctx)
	if s.closeLogFiles != nil {
		if closeErr := s.closeLogFiles(); closeErr != nil {
			s.logger.Warn("closing request log", "error", closeErr)
		}
	}
	return err
}
