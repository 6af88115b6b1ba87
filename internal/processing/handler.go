package processing

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/posnetek/backend/internal/middleware"
	"github.com/posnetek/backend/internal/recordings"
	"github.com/posnetek/backend/pkg/response"
)

// Runner is what the handler needs from Processor.
type Runner interface {
	Process(ctx context.Context, userID, recordingID uuid.UUID) (*Result, error)
}

// Handler serves POST /process.
type Handler struct {
	runner Runner
	dev    bool
	logger *zap.Logger
}

// NewHandler creates a processing handler. dev enables diagnostic details on 400 responses.
func NewHandler(runner Runner, dev bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{runner: runner, dev: dev, logger: logger}
}

type processRequest struct {
	RecordingID string `json:"recordingId"`
}

// Process handles POST /process.
func (h *Handler) Process(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, response.CodeUnauthorized)
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "INVALID_JSON")
		return
	}
	recordingID, err := uuid.Parse(req.RecordingID)
	if err != nil {
		h.badRequest(c, "INVALID_RECORDING_ID")
		return
	}

	res, err := h.runner.Process(c.Request.Context(), userID, recordingID)
	switch {
	case err == nil:
		response.OK(c, res)
	case errors.Is(err, recordings.ErrNotFound):
		response.NotFound(c, response.CodeNotFound)
	case errors.Is(err, ErrAlreadyProcessing):
		response.Conflict(c, response.CodeConflict)
	default:
		h.logger.Error("process request failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, response.CodeInternal)
	}
}

func (h *Handler) badRequest(c *gin.Context, detail string) {
	if !h.dev {
		detail = ""
	}
	response.BadRequest(c, detail)
}
