// Package webhooks applies encoder lifecycle callbacks to streams and their sessions.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-stream/backend/internal/events"
	"github.com/aura-stream/backend/internal/metrics"
	"github.com/aura-stream/backend/internal/models"
	"github.com/aura-stream/backend/internal/sessions"
	"github.com/aura-stream/backend/internal/store"
	"github.com/aura-stream/backend/internal/streams"
)

const (
	eventStart = "stream_start"
	eventStop  = "stream_stop"
	eventError = "stream_error"
)

// Service reacts to encoder start/stop notifications.
type Service struct {
	registry  *streams.Registry
	sessions  *sessions.Manager
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a webhook service. publisher, m and logger may be nil; now defaults to time.Now.
func NewService(registry *streams.Registry, mgr *sessions.Manager, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger, now func() time.Time) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{registry: registry, sessions: mgr, publisher: publisher, metrics: m, logger: logger, now: now}
}

// OnStreamStart marks the stream ONLINE. Repeated starts restart the live window.
func (s *Service) OnStreamStart(ctx context.Context, streamKey string) (*models.Stream, error) {
	stream, err := s.registry.GetByKey(ctx, streamKey)
	if err != nil {
		s.observe(eventStart, err)
		return nil, err
	}
	now := s.now()
	stream, err = s.registry.Transition(ctx, stream.ID, models.StreamOnline, now)
	s.observe(eventStart, err)
	if err != nil {
		return nil, fmt.Errorf("start stream %s: %w", streamKey, err)
	}
	s.publish(ctx, events.Event{Type: events.StreamStarted, StreamID: stream.ID, StreamKey: stream.StreamKey, At: now})
	s.logger.Info("stream started", zap.String("stream_key", streamKey), zap.String("stream_id", stream.ID.String()))
	return stream, nil
}

// OnStreamStop marks the stream OFFLINE and ends its ACTIVE sessions. It returns how many
// sessions it closed; a stop with no viewers, or a repeated stop, closes zero.
//
// The encoder does not retry a stop, so the work runs to completion even if the caller's
// context is cancelled once it has begun.
func (s *Service) OnStreamStop(ctx context.Context, streamKey string) (int, error) {
	ctx = context.WithoutCancel(ctx)
	stream, err := s.registry.GetByKey(ctx, streamKey)
	if err != nil {
		s.observe(eventStop, err)
		return 0, err
	}
	now := s.now()
	if _, err := s.registry.Transition(ctx, stream.ID, models.StreamOffline, now); err != nil {
		s.observe(eventStop, err)
		return 0, fmt.Errorf("stop stream %s: %w", streamKey, err)
	}
	closed, err := s.sessions.EndAllForStream(ctx, stream.ID)
	s.observe(eventStop, err)
	if err != nil {
		s.logger.Error("stream stop left sessions open",
			zap.String("stream_key", streamKey), zap.Int("sessions_closed", closed), zap.Error(err))
		return closed, fmt.Errorf("stop stream %s: %w", streamKey, err)
	}
	s.publish(ctx, events.Event{
		Type:      events.StreamStopped,
		StreamID:  stream.ID,
		StreamKey: stream.StreamKey,
		At:        now,
		Data:      map[string]any{"sessions_closed": closed},
	})
	s.logger.Info("stream stopped", zap.String("stream_key", streamKey), zap.Int("sessions_closed", closed))
	return closed, nil
}

// OnStreamError marks the stream ERROR after the transcoder reports a failure. Viewer
// counts are left alone; sessions end when clients leave or the encoder stops.
func (s *Service) OnStreamError(ctx context.Context, streamKey, reason string) (*models.Stream, error) {
	stream, err := s.registry.GetByKey(ctx, streamKey)
	if err != nil {
		s.observe(eventError, err)
		return nil, err
	}
	now := s.now()
	stream, err = s.registry.Transition(ctx, stream.ID, models.StreamError, now)
	s.observe(eventError, err)
	if err != nil {
		return nil, fmt.Errorf("fail stream %s: %w", streamKey, err)
	}
	s.publish(ctx, events.Event{
		Type:      events.StreamFailed,
		StreamID:  stream.ID,
		StreamKey: stream.StreamKey,
		At:        now,
		Data:      map[string]any{"reason": reason},
	})
	s.logger.Warn("stream error", zap.String("stream_key", streamKey), zap.String("reason", reason))
	return stream, nil
}

func (s *Service) observe(event string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	s.metrics.Webhook(event, outcome)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
