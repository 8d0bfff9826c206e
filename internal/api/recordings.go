package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxUploadBytes caps uploaded audio files at 100 MB.
const maxUploadBytes = 100 << 20

// maxChunkBytes caps one live audio chunk request.
const maxChunkBytes = 1 << 20

// initRecordingRoutes registers recording lifecycle and audio ingestion
// endpoints.
func (c *Controller) initRecordingRoutes() {
	c.Group.POST("/tables/:id/recordings/start", c.StartRecording)
	c.Group.POST("/tables/:id/recordings/stop", c.StopRecording)
	c.Group.POST("/tables/:id/recordings/audio", c.IngestAudio)
	c.Group.POST("/tables/:id/recordings/upload", c.UploadAudio)
}

// StartRecording opens a live speech stream for a table.
func (c *Controller) StartRecording(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	recordingID, err := c.transcript.StartRecording(ctx.Request().Context(), tableID)
	if err != nil {
		return c.HandleError(ctx, err, "starting recording")
	}
	return ctx.JSON(http.StatusCreated, map[string]any{
		"recordingId": recordingID,
		"tableId":     tableID,
	})
}

// StopRecording ends the table's live recording and persists the
// transcription. Stopping a table that is not recording is a no-op.
func (c *Controller) StopRecording(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	if err := c.transcript.StopRecording(tableID); err != nil {
		return c.HandleError(ctx, err, "stopping recording")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// IngestAudio feeds one raw audio chunk into the table's live stream. The
// body is the chunk, linear16 at the configured sample rate.
func (c *Controller) IngestAudio(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	chunk, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxChunkBytes))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "unreadable audio chunk", Code: http.StatusBadRequest})
	}
	if err := c.transcript.WriteAudio(tableID, chunk); err != nil {
		return c.HandleError(ctx, err, "ingesting audio")
	}
	return ctx.NoContent(http.StatusAccepted)
}

// UploadAudio transcribes a complete audio file for a table through the
// batch path. The file comes as multipart field "audio".
func (c *Controller) UploadAudio(ctx echo.Context) error {
	tableID, ok := paramUint(ctx, "id")
	if !ok {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid table id", Code: http.StatusBadRequest})
	}
	table, err := c.registry.GetTableSnapshot(tableID)
	if err != nil {
		return c.HandleError(ctx, err, "getting table")
	}

	file, err := ctx.FormFile("audio")
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "multipart field 'audio' is required", Code: http.StatusBadRequest})
	}
	if file.Size > maxUploadBytes {
		return ctx.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "audio file too large", Code: http.StatusRequestEntityTooLarge})
	}
	src, err := file.Open()
	if err != nil {
		return c.HandleError(ctx, err, "opening upload")
	}
	defer src.Close()
	audio, err := io.ReadAll(io.LimitReader(src, maxUploadBytes))
	if err != nil {
		return c.HandleError(ctx, err, "reading upload")
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	transcription, err := c.transcript.TranscribeUpload(
		ctx.Request().Context(), table.SessionID, tableID, audio, contentType)
	if err != nil {
		return c.HandleError(ctx, err, "transcribing upload")
	}
	return ctx.JSON(http.StatusCreated, transcription)
}
