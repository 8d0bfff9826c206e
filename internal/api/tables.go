package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/theRAGEhero/world-cafe/internal/registry"
)

// initTableRoutes registers membership and table lifecycle endpoints.
func (c *Controller) initTableRoutes() {
	c.Group.POST("/sessions/:id/tables/:number/join", c.JoinTable)
	c.Group.GET("/tables/:id", c.GetTable)
	c.Group.GET("/tables/:id/transcriptions", c.GetTableTranscriptions)
	c.Group.POST("/tables/:id/pause", c.PauseTable)
	c.Group.POST("/tables/:id/resume", c.ResumeTable)
	c.Group.POST("/tables/:id/complete", c.CompleteTable)

	c.Group.POST("/participants/:id/leave", c.LeaveTable)
	c.Group.POST("/participants/:id/move", c.MoveParticipant)
	c.Group.POST("/participants/:id/facilitator", c.MakeFacilitator)
}

type joinRequest struct {
	Name string `json:"name"`
}

// JoinTable seats a participant at a table of a session.
func (c *Controller) JoinTable(ctx echo.Context) error {
	tableNumber, err := strconv.Atoi(ctx.Param("number"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table number", Code: http.StatusBadRequest})
	}
	var req joinRequest
	if err := ctx.Bind(&req); err != nil || req.Name == "" {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "name is required", Code: http.StatusBadRequest})
	}

	participant, err := c.registry.Join(ctx.Param("id"), tableNumber, req.Name)
	if err != nil {
		return c.HandleError(ctx, err, "joining table")
	}
	c.snapshotCache.Delete(ctx.Param("id"))
	return ctx.JSON(http.StatusCreated, participant)
}

// GetTable returns a point-in-time snapshot of one table.
func (c *Controller) GetTable(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	snapshot, err := c.registry.GetTableSnapshot(tableID)
	if err != nil {
		return c.HandleError(ctx, err, "getting table")
	}
	return ctx.JSON(http.StatusOK, snapshot)
}

// GetTableTranscriptions lists the persisted transcriptions of a table.
func (c *Controller) GetTableTranscriptions(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	transcriptions, err := c.DS.GetTableTranscriptions(tableID)
	if err != nil {
		return c.HandleError(ctx, err, "listing transcriptions")
	}
	return ctx.JSON(http.StatusOK, transcriptions)
}

// LeaveTable removes a participant from their table.
func (c *Controller) LeaveTable(ctx echo.Context) error {
	participantID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid participant id", Code: http.StatusBadRequest})
	}
	if err := c.registry.Leave(participantID); err != nil {
		return c.HandleError(ctx, err, "leaving table")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type moveRequest struct {
	TableID uint `json:"tableId"`
}

// MoveParticipant relocates a participant to another table of the same
// session.
func (c *Controller) MoveParticipant(ctx echo.Context) error {
	participantID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid participant id", Code: http.StatusBadRequest})
	}
	var req moveRequest
	if err := ctx.Bind(&req); err != nil || req.TableID == 0 {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "tableId is required", Code: http.StatusBadRequest})
	}

	participant, err := c.registry.Move(participantID, req.TableID)
	if err != nil {
		return c.HandleError(ctx, err, "moving participant")
	}
	return ctx.JSON(http.StatusOK, participant)
}

// MakeFacilitator hands the facilitator role to a participant.
func (c *Controller) MakeFacilitator(ctx echo.Context) error {
	participantID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid participant id", Code: http.StatusBadRequest})
	}
	participant, err := c.registry.MakeFacilitator(participantID)
	if err != nil {
		return c.HandleError(ctx, err, "assigning facilitator")
	}
	return ctx.JSON(http.StatusOK, participant)
}

// PauseTable suspends a table.
func (c *Controller) PauseTable(ctx echo.Context) error {
	return c.transitionTable(ctx, c.registry.PauseTable, "pausing table")
}

// ResumeTable restores a paused table.
func (c *Controller) ResumeTable(ctx echo.Context) error {
	return c.transitionTable(ctx, c.registry.ResumeTable, "resuming table")
}

// CompleteTable ends a table's round.
func (c *Controller) CompleteTable(ctx echo.Context) error {
	return c.transitionTable(ctx, c.registry.CompleteTable, "completing table")
}

func (c *Controller) transitionTable(ctx echo.Context, fn func(uint) (*registry.TableSnapshot, error), message string) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	snapshot, err := fn(tableID)
	if err != nil {
		return c.HandleError(ctx, err, message)
	}
	return ctx.JSON(http.StatusOK, snapshot)
}
