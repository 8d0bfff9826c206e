package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/theRAGEhero/world-cafe/internal/broadcast"
)

// initStreamRoutes registers the SSE endpoints observers connect to.
func (c *Controller) initStreamRoutes() {
	c.Group.GET("/sessions/:id/stream", c.StreamSession)
	c.Group.GET("/sessions/:id/tables/:tableId/stream", c.StreamTable)
}

// StreamSession streams every event of a session as SSE.
func (c *Controller) StreamSession(ctx echo.Context) error {
	return c.stream(ctx, ctx.Param("id"), 0)
}

// StreamTable streams the events of one table plus session-wide events.
func (c *Controller) StreamTable(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "tableId")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	return c.stream(ctx, ctx.Param("id"), tableID)
}

// stream bridges one hub subscription onto an SSE response. The subscription
// is torn down when the client disconnects; if the hub disconnects us for
// falling behind, the channel closes and the response ends.
func (c *Controller) stream(ctx echo.Context, sessionID string, tableID uint) error {
	// Reject unknown sessions before committing to the stream.
	if _, err := c.registry.GetSessionSnapshot(sessionID); err != nil {
		return c.HandleError(ctx, err, "getting session")
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	sub := c.hub.Subscribe(sessionID, tableID)
	defer sub.Unsubscribe()

	c.logger.Debug("sse observer connected",
		"session_id", sessionID, "table_id", tableID, "subscription_id", sub.ID)

	heartbeat := time.NewTicker(c.heartbeatInterval())
	defer heartbeat.Stop()

	clientGone := ctx.Request().Context().Done()
	for {
		select {
		case event, open := <-sub.C:
			if !open {
				// Disconnected by the hub for falling behind.
				return nil
			}
			if err := writeSSE(resp, event); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case <-clientGone:
			c.logger.Debug("sse observer disconnected",
				"session_id", sessionID, "subscription_id", sub.ID)
			return nil
		}
	}
}

// writeSSE encodes one event in SSE framing and flushes it.
func writeSSE(resp *echo.Response, event broadcast.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (c *Controller) heartbeatInterval() time.Duration {
	seconds := c.Settings.Realtime.HeartbeatSeconds
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}
