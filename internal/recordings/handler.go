package recordings

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/posnetek/backend/internal/middleware"
	"github.com/posnetek/backend/internal/models"
	"github.com/posnetek/backend/pkg/queue"
	"github.com/posnetek/backend/pkg/response"
	"github.com/posnetek/backend/pkg/storage"
)

const (
	defaultFilename    = "recording.webm"
	defaultContentType = "application/octet-stream"
)

// Store is the recording persistence used by the handler.
type Store interface {
	GetByID(ctx context.Context, userID, id uuid.UUID) (*models.Recording, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Recording, error)
	Create(ctx context.Context, userID uuid.UUID, rec *models.Recording) error
	Update(ctx context.Context, userID, id uuid.UUID, patch models.RecordingPatch) (*models.Recording, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// BlobStore stores recording audio.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Enqueuer schedules background processing.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, payload queue.ProcessPayload) error
}

// HandlerOptions tunes upload behaviour.
type HandlerOptions struct {
	// MaxUploadBytes rejects larger request bodies; zero disables the limit.
	MaxUploadBytes int64
	// Development adds diagnostic details to 400 responses.
	Development bool
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo     Store
	blobs    BlobStore
	enqueuer Enqueuer // optional: processing after upload
	opts     HandlerOptions
	logger   *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo Store, blobs BlobStore, opts HandlerOptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, blobs: blobs, opts: opts, logger: logger}
}

// SetEnqueuer enables processing of new uploads in the background.
func (h *Handler) SetEnqueuer(e Enqueuer) { h.enqueuer = e }

type recordingResponse struct {
	Recording *models.Recording `json:"recording"`
	AudioURL  string            `json:"audioUrl,omitempty"`
}

// Upload handles POST /upload. Stores the audio field and creates a recording in processing state.
func (h *Handler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, response.CodeUnauthorized)
		return
	}
	if h.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.badRequest(c, "AUDIO_TOO_LARGE")
		case errors.Is(err, http.ErrMissingFile):
			h.badRequest(c, "MISSING_AUDIO_FIELD")
		default:
			h.badRequest(c, "FORMDATA_PARSE_FAILED")
		}
		return
	}
	if fh.Size == 0 {
		h.badRequest(c, "EMPTY_AUDIO_FILE")
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.badRequest(c, "FORMDATA_PARSE_FAILED")
		return
	}
	audio, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		h.badRequest(c, "FORMDATA_PARSE_FAILED")
		return
	}
	if len(audio) == 0 {
		h.badRequest(c, "EMPTY_AUDIO_FILE")
		return
	}

	filename := fh.Filename
	if filename == "" {
		filename = defaultFilename
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	ctx := c.Request.Context()
	rec := &models.Recording{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    models.PlaceholderTitle,
		Status:   models.RecordingStatusProcessing,
		Language: models.DefaultLanguage,
	}
	rec.R2Key = storage.RecordingKey(userID.String(), rec.ID.String(), storage.ExtensionFor(contentType, filename))

	if err := h.blobs.Upload(ctx, rec.R2Key, contentType, audio); err != nil {
		h.logger.Error("upload audio failed", zap.Error(err), zap.String("key", rec.R2Key))
		response.Internal(c, response.CodeInternal)
		return
	}
	if err := h.repo.Create(ctx, userID, rec); err != nil {
		h.logger.Error("create recording failed", zap.Error(err), zap.String("key", rec.R2Key))
		response.Internal(c, response.CodeInternal)
		return
	}
	h.logger.Info("recording uploaded",
		zap.String("recording_id", rec.ID.String()),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(audio)))

	if h.enqueuer != nil {
		payload := queue.ProcessPayload{RecordingID: rec.ID, UserID: userID}
		if err := h.enqueuer.EnqueueProcess(ctx, payload); err != nil {
			h.logger.Warn("enqueue processing failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		}
	}
	response.OK(c, gin.H{"recordingId": rec.ID})
}

// List handles GET /recordings.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, response.CodeUnauthorized)
		return
	}
	list, err := h.repo.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, response.CodeInternal)
		return
	}
	response.OK(c, gin.H{"recordings": list})
}

// Get handles GET /recordings/:id. The audio URL is left out when it cannot be signed.
func (h *Handler) Get(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, ok := h.load(c, userID, id)
	if !ok {
		return
	}
	out := recordingResponse{Recording: rec}
	if rec.R2Key != "" {
		url, err := h.blobs.SignedURL(c.Request.Context(), rec.R2Key, storage.SignedURLTTLUser)
		if err != nil {
			h.logger.Warn("sign audio url failed", zap.Error(err), zap.String("recording_id", id.String()))
		} else {
			out.AudioURL = url
		}
	}
	response.OK(c, out)
}

type patchRequest struct {
	Title *string `json:"title"`
}

// Patch handles PATCH /recordings/:id. Only the title is editable.
func (h *Handler) Patch(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "INVALID_JSON")
		return
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		h.badRequest(c, "TITLE_REQUIRED")
		return
	}
	rec, err := h.repo.Update(c.Request.Context(), userID, id, models.RecordingPatch{Title: req.Title})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, response.CodeNotFound)
			return
		}
		h.logger.Error("update recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, response.CodeInternal)
		return
	}
	response.OK(c, recordingResponse{Recording: rec})
}

// Delete handles DELETE /recordings/:id. The audio is removed first; if that fails the row is kept.
func (h *Handler) Delete(c *gin.Context) {
	userID, id, ok := h.target(c)
	if !ok {
		return
	}
	rec, ok := h.load(c, userID, id)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if rec.R2Key != "" {
		if err := h.blobs.Delete(ctx, rec.R2Key); err != nil {
			h.logger.Error("delete audio failed", zap.Error(err), zap.String("recording_id", id.String()))
			response.ServiceUnavailable(c, response.CodeStorageUnavailable)
			return
		}
	}
	if err := h.repo.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, response.CodeNotFound)
			return
		}
		h.logger.Error("delete recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, response.CodeInternal)
		return
	}
	response.NoContent(c)
}

// target resolves the caller and the :id parameter. A malformed id is reported as not found.
func (h *Handler) target(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, response.CodeUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.NotFound(c, response.CodeNotFound)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func (h *Handler) load(c *gin.Context, userID, id uuid.UUID) (*models.Recording, bool) {
	rec, err := h.repo.GetByID(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, response.CodeNotFound)
		} else {
			h.logger.Error("get recording failed", zap.Error(err), zap.String("recording_id", id.String()))
			response.Internal(c, response.CodeInternal)
		}
		return nil, false
	}
	return rec, true
}

func (h *Handler) badRequest(c *gin.Context, detail string) {
	if !h.opts.Development {
		detail = ""
	}
	response.BadRequest(c, detail)
}
