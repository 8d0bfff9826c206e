// Package api exposes the REST and SSE surface of the service under /api/v1.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/datastore"
	"github.com/theRAGEhero/world-cafe/internal/errors"
	"github.com/theRAGEhero/world-cafe/internal/logging"
	"github.com/theRAGEhero/world-cafe/internal/observability"
	"github.com/theRAGEhero/world-cafe/internal/registry"
	"github.com/theRAGEhero/world-cafe/internal/transcript"
)

// snapshotCacheTTL bounds how stale a cached session snapshot may get. Reads
// are heavy during an event; one second of staleness is invisible next to
// the SSE stream that carries the real-time truth.
const snapshotCacheTTL = time.Second

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	registry   *registry.Registry
	transcript *transcript.Manager
	hub        *broadcast.Hub
	metrics    *observability.Metrics

	snapshotCache *cache.Cache
	logger        *slog.Logger
}

// ErrorResponse is the JSON body returned for any handler error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// New creates the API controller and registers its routes on e.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	reg *registry.Registry, manager *transcript.Manager, hub *broadcast.Hub,
	metrics *observability.Metrics) *Controller {

	c := &Controller{
		Echo:          e,
		DS:            ds,
		Settings:      settings,
		registry:      reg,
		transcript:    manager,
		hub:           hub,
		metrics:       metrics,
		snapshotCache: cache.New(snapshotCacheTTL, time.Minute),
		logger:        logging.ForService("api"),
	}
	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initSessionRoutes()
	c.initTableRoutes()
	c.initRecordingRoutes()
	c.initStreamRoutes()
}

// HealthCheck reports process liveness.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": c.Settings.Version,
	})
}

// HandleError logs the error and returns the mapped JSON response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusForError(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}

	c.logger.Error("request failed",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", err,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())

	return ctx.JSON(code, resp)
}

// statusForError maps domain error categories to HTTP status codes.
func statusForError(err error) int {
	var enhanced *errors.EnhancedError
	if !errors.As(err, &enhanced) {
		return http.StatusInternalServerError
	}
	switch errors.ErrorCategory(enhanced.GetCategory()) {
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryValidation, errors.CategoryConfiguration:
		return http.StatusBadRequest
	case errors.CategoryCapacity, errors.CategoryState, errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
