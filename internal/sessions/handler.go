package sessions

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-stream/backend/internal/middleware"
	"github.com/aura-stream/backend/internal/models"
	"github.com/aura-stream/backend/internal/store"
	"github.com/aura-stream/backend/pkg/response"
)

// PlaybackRequest is the body for POST /streams/:id/playback-url. Both fields are optional.
type PlaybackRequest struct {
	Quality    string `json:"quality"`
	DeviceType string `json:"device_type"`
}

// PlaybackResponse is returned when playback is granted.
type PlaybackResponse struct {
	StreamURL          string   `json:"stream_url"`
	SessionID          string   `json:"session_id"`
	Quality            string   `json:"quality"`
	AvailableQualities []string `json:"available_qualities"`
	ExpiresIn          int64    `json:"expires_in"`
}

// EndResponse is returned by POST /sessions/:id/end.
type EndResponse struct {
	Status        string `json:"status"`
	WatchDuration int64  `json:"watch_duration"`
	DataConsumed  int64  `json:"data_consumed"`
}

// Handler serves playback and session endpoints for authenticated users.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, logger: logger}
}

// PlaybackURL handles POST /streams/:id/playback-url.
func (h *Handler) PlaybackURL(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	var req PlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	grant, err := h.manager.StartPlayback(c.Request.Context(), StartParams{
		UserID:     userID,
		StreamID:   streamID,
		Quality:    req.Quality,
		DeviceType: req.DeviceType,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err, "stream not found")
		return
	}

	qualities := grant.AvailableQualities
	if qualities == nil {
		qualities = []string{}
	}
	response.OK(c, PlaybackResponse{
		StreamURL:          grant.StreamURL,
		SessionID:          grant.Session.SessionID,
		Quality:            grant.Quality,
		AvailableQualities: qualities,
		ExpiresIn:          grant.ExpiresIn,
	})
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	response.OK(c, sess)
}

// Heartbeat handles POST /sessions/:id/heartbeat. Any subset of the QoE fields may be sent.
func (h *Handler) Heartbeat(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	var upd HeartbeatUpdate
	if err := c.ShouldBindJSON(&upd); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, err := h.manager.Heartbeat(c.Request.Context(), sess.SessionID, upd); err != nil {
		h.writeError(c, err, "session not found")
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}

// End handles POST /sessions/:id/end. Repeating it returns the same totals.
func (h *Handler) End(c *gin.Context) {
	sess, ok := h.ownedSession(c)
	if !ok {
		return
	}
	ended, err := h.manager.EndSession(c.Request.Context(), sess.SessionID)
	if err != nil {
		h.writeError(c, err, "session not found")
		return
	}
	response.OK(c, EndResponse{
		Status:        "ended",
		WatchDuration: ended.WatchDuration,
		DataConsumed:  ended.DataConsumed,
	})
}

// Stats handles GET /users/me/stats.
func (h *Handler) Stats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	stats, err := h.manager.UserStats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "user not found")
		return
	}
	response.OK(c, stats)
}

// ownedSession loads the :id session and hides sessions of other users behind a 404.
func (h *Handler) ownedSession(c *gin.Context) (*models.ViewSession, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	sess, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err == nil && sess.UserID != userID {
		err = store.ErrNotFound
	}
	if err != nil {
		h.writeError(c, err, "session not found")
		return nil, false
	}
	return sess, true
}

func (h *Handler) writeError(c *gin.Context, err error, notFoundMsg string) {
	var forbidden *QualityForbiddenError
	switch {
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"success":     false,
			"error":       forbidden.Error(),
			"max_quality": forbidden.MaxQuality,
		})
	case errors.Is(err, store.ErrNotFound):
		response.NotFound(c, notFoundMsg)
	case errors.Is(err, ErrStreamOffline):
		response.BadRequest(c, ErrStreamOffline.Error())
	case errors.Is(err, ErrQualityUnavailable), errors.Is(err, ErrInvalidHeartbeat):
		response.BadRequest(c, err.Error())
	case errors.Is(err, store.ErrConflict):
		response.Conflict(c, "concurrent update, please retry")
	default:
		h.logger.Error("session request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error")
	}
}
