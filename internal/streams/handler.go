package streams

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-stream/backend/internal/models"
	"github.com/aura-stream/backend/internal/store"
	"github.com/aura-stream/backend/pkg/response"
)

// Handler serves read-only stream endpoints.
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHandler creates a streams handler.
func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, logger: logger}
}

// List handles GET /streams?status=ONLINE.
func (h *Handler) List(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context(), models.StreamStatus(c.Query("status")))
	if err != nil {
		if errors.Is(err, ErrInvalidStatus) {
			response.BadRequest(c, "invalid status filter")
			return
		}
		h.logger.Error("list streams failed", zap.Error(err))
		response.Internal(c, "failed to list streams")
		return
	}
	response.OK(c, gin.H{"streams": emptyIfNil(list)})
}

// Live handles GET /streams/live.
func (h *Handler) Live(c *gin.Context) {
	list, err := h.registry.Live(c.Request.Context())
	if err != nil {
		h.logger.Error("list live streams failed", zap.Error(err))
		response.Internal(c, "failed to list streams")
		return
	}
	response.OK(c, gin.H{"streams": emptyIfNil(list)})
}

// GetByID handles GET /streams/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	s, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "stream not found")
			return
		}
		h.logger.Error("get stream failed", zap.Error(err), zap.String("stream_id", id.String()))
		response.Internal(c, "failed to load stream")
		return
	}
	response.OK(c, s)
}

func emptyIfNil(list []models.Stream) []models.Stream {
	if list == nil {
		return []models.Stream{}
	}
	return list
}
