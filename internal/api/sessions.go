package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/theRAGEhero/world-cafe/internal/registry"
)

// initSessionRoutes registers session administration endpoints.
func (c *Controller) initSessionRoutes() {
	c.Group.POST("/sessions", c.CreateSession)
	c.Group.GET("/sessions", c.ListSessions)
	c.Group.GET("/sessions/:id", c.GetSession)
	c.Group.POST("/sessions/:id/close", c.CloseSession)
	c.Group.POST("/sessions/:id/reopen", c.ReopenSession)
	c.Group.DELETE("/sessions/:id", c.DeleteSession)
}

// createSessionRequest is the body of POST /sessions. Zero values fall back
// to the configured session defaults.
type createSessionRequest struct {
	Title      string `json:"title"`
	TableCount int    `json:"tableCount"`
	MaxSize    int    `json:"maxSize"`
	Language   string `json:"language"`
}

// CreateSession creates a session with its tables.
func (c *Controller) CreateSession(ctx echo.Context) error {
	var req createSessionRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body", Code: http.StatusBadRequest})
	}
	if req.Title == "" {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "title is required", Code: http.StatusBadRequest})
	}

	settings := c.Settings.Session
	if req.TableCount > 0 {
		settings.DefaultTableCount = req.TableCount
	}
	if req.MaxSize > 0 {
		settings.DefaultMaxSize = req.MaxSize
	}
	if req.Language != "" {
		settings.DefaultLanguage = req.Language
	}

	snapshot, err := c.registry.CreateSession(req.Title, &settings)
	if err != nil {
		return c.HandleError(ctx, err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, snapshot)
}

// ListSessions returns all sessions, newest first.
func (c *Controller) ListSessions(ctx echo.Context) error {
	sessions, err := c.DS.ListSessions()
	if err != nil {
		return c.HandleError(ctx, err, "listing sessions")
	}
	return ctx.JSON(http.StatusOK, sessions)
}

// GetSession returns a point-in-time snapshot of a session and its tables.
// Snapshots are cached briefly; the SSE stream carries live updates.
func (c *Controller) GetSession(ctx echo.Context) error {
	sessionID := ctx.Param("id")
	if cached, found := c.snapshotCache.Get(sessionID); found {
		return ctx.JSON(http.StatusOK, cached.(*registry.SessionSnapshot))
	}

	snapshot, err := c.registry.GetSessionSnapshot(sessionID)
	if err != nil {
		return c.HandleError(ctx, err, "getting session")
	}
	c.snapshotCache.SetDefault(sessionID, snapshot)
	return ctx.JSON(http.StatusOK, snapshot)
}

// CloseSession stops admissions to a session.
func (c *Controller) CloseSession(ctx echo.Context) error {
	if err := c.registry.CloseSession(ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "closing session")
	}
	c.snapshotCache.Delete(ctx.Param("id"))
	return ctx.NoContent(http.StatusNoContent)
}

// ReopenSession reactivates a closed session.
func (c *Controller) ReopenSession(ctx echo.Context) error {
	if err := c.registry.ReopenSession(ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err, "reopening session")
	}
	c.snapshotCache.Delete(ctx.Param("id"))
	return ctx.NoContent(http.StatusNoContent)
}

// DeleteSession soft-deletes a session record.
func (c *Controller) DeleteSession(ctx echo.Context) error {
	session, err := c.DS.GetSessionByPublicID(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "getting session")
	}
	if err := c.DS.DeleteSession(session.ID); err != nil {
		return c.HandleError(ctx, err, "deleting session")
	}
	c.snapshotCache.Delete(ctx.Param("id"))
	return ctx.NoContent(http.StatusNoContent)
}

// paramUint parses a numeric path parameter.
func paramUint(ctx echo.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}
