package webhooks

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-stream/backend/internal/store"
	"github.com/aura-stream/backend/pkg/response"
)

// EncoderPayload is the callback body. nginx-rtmp posts it form-encoded; other encoders send JSON.
type EncoderPayload struct {
	Name string `form:"name" json:"name"`
	// Reason is only read by the error callback.
	Reason string `form:"reason" json:"reason"`
}

// Handler exposes Service over HTTP for the ingest tier.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// StreamStart handles POST /webhooks/stream-start.
func (h *Handler) StreamStart(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	if _, err := h.svc.OnStreamStart(c.Request.Context(), key); err != nil {
		h.writeError(c, err, key)
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}

// StreamStop handles POST /webhooks/stream-stop.
func (h *Handler) StreamStop(c *gin.Context) {
	key, ok := bindKey(c)
	if !ok {
		return
	}
	closed, err := h.svc.OnStreamStop(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, err, key)
		return
	}
	response.OK(c, gin.H{"status": "ok", "sessions_closed": closed})
}

// StreamError handles POST /webhooks/stream-error from the transcoder.
func (h *Handler) StreamError(c *gin.Context) {
	body, ok := bind(c)
	if !ok {
		return
	}
	if _, err := h.svc.OnStreamError(c.Request.Context(), body.Name, body.Reason); err != nil {
		h.writeError(c, err, body.Name)
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}

func bindKey(c *gin.Context) (string, bool) {
	body, ok := bind(c)
	return body.Name, ok
}

func bind(c *gin.Context) (EncoderPayload, bool) {
	var body EncoderPayload
	if err := c.ShouldBind(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return body, false
	}
	if body.Name == "" {
		response.BadRequest(c, "name required")
		return body, false
	}
	return body, true
}

func (h *Handler) writeError(c *gin.Context, err error, key string) {
	if errors.Is(err, store.ErrNotFound) {
		response.NotFound(c, "stream not found")
		return
	}
	h.logger.Error("webhook failed", zap.String("stream_key", key), zap.String("path", c.FullPath()), zap.Error(err))
	response.Internal(c, "internal error")
}
