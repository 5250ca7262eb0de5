// Package sessions runs the view-session state machine and the usage accounting tied to it.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-stream/backend/internal/events"
	"github.com/aura-stream/backend/internal/metrics"
	"github.com/aura-stream/backend/internal/models"
	"github.com/aura-stream/backend/internal/playback"
	"github.com/aura-stream/backend/internal/store"
	"github.com/aura-stream/backend/internal/streams"
)

var (
	// ErrStreamOffline is returned when playback is requested for a stream that is not ONLINE.
	ErrStreamOffline = streams.ErrOffline
	// ErrQualityUnavailable is returned when the stream has no such rendition.
	ErrQualityUnavailable = errors.New("quality not available for this stream")
	// ErrInvalidHeartbeat is returned for negative counters in a heartbeat.
	ErrInvalidHeartbeat = errors.New("heartbeat values must not be negative")
)

// QualityForbiddenError is returned when the user's tier does not cover the requested quality.
type QualityForbiddenError struct {
	Quality    string
	MaxQuality string
}

func (e *QualityForbiddenError) Error() string {
	return fmt.Sprintf("your subscription does not allow %s quality", e.Quality)
}

const (
	// DefaultURLTTL is the lifetime of a signed playback URL in seconds.
	DefaultURLTTL int64 = 3600
	// DefaultEndAllConcurrency bounds parallel session closes on stream stop.
	DefaultEndAllConcurrency = 8

	defaultDeviceType = "unknown"
	recentSessions    = 10

	causeClient     = "client"
	causeStreamStop = "stream_stop"
)

// Config tunes a Manager. Zero values pick the defaults.
type Config struct {
	URLTTL            int64
	EndAllConcurrency int
	// HighViewers publishes a stream.high_viewers alert each time the live count climbs
	// to this value. Zero disables it.
	HighViewers int
	Now         func() time.Time
}

// StartParams describes a playback request.
type StartParams struct {
	UserID     uuid.UUID
	StreamID   uuid.UUID
	Quality    string
	DeviceType string
	IPAddress  string
	UserAgent  string
}

// HeartbeatUpdate carries the QoE fields a client reports. Nil fields are left unchanged.
type HeartbeatUpdate struct {
	BufferCount     *int   `json:"buffer_count"`
	QualitySwitches *int   `json:"quality_switches"`
	DataConsumed    *int64 `json:"data_consumed"`
	AverageBitrate  *int   `json:"average_bitrate"`
}

// Grant is a started session plus the signed URL that plays it.
type Grant struct {
	Session            *models.ViewSession
	StreamURL          string
	Quality            string
	AvailableQualities []string
	ExpiresIn          int64
	ExpiresAt          int64
}

// UserStats summarises a user's viewing.
type UserStats struct {
	TotalSessions    int                  `json:"total_sessions"`
	TotalWatchTime   int64                `json:"total_watch_time"`
	TotalWatchHours  float64              `json:"total_watch_hours"`
	TotalDataUsed    int64                `json:"total_data_used"`
	TotalDataGB      float64              `json:"total_data_gb"`
	SubscriptionTier models.Tier          `json:"subscription_tier"`
	MaxQuality       string               `json:"max_quality"`
	IsPremium        bool                 `json:"is_premium"`
	RecentSessions   []models.ViewSession `json:"recent_sessions"`
}

// Manager owns view sessions while they are active.
type Manager struct {
	store     store.Store
	registry  *streams.Registry
	signer    *playback.Signer
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// NewManager creates a session manager. publisher, m and logger may be nil.
func NewManager(st store.Store, registry *streams.Registry, signer *playback.Signer, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Manager {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = DefaultURLTTL
	}
	if cfg.EndAllConcurrency <= 0 {
		cfg.EndAllConcurrency = DefaultEndAllConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:     st,
		registry:  registry,
		signer:    signer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// StartPlayback authorizes the request, signs a URL and starts the session.
func (m *Manager) StartPlayback(ctx context.Context, p StartParams) (*Grant, error) {
	stream, quality, err := m.authorize(ctx, p)
	if err != nil {
		return nil, err
	}
	now := m.cfg.Now()
	url, expiresAt, err := m.signer.Sign(stream.StreamKey, quality, m.cfg.URLTTL, now)
	if err != nil {
		return nil, fmt.Errorf("sign playback url: %w", err)
	}
	sess, err := m.create(ctx, stream, p, quality, now)
	if err != nil {
		return nil, err
	}
	return &Grant{
		Session:            sess,
		StreamURL:          url,
		Quality:            quality,
		AvailableQualities: stream.AvailableQualities,
		ExpiresIn:          m.cfg.URLTTL,
		ExpiresAt:          expiresAt,
	}, nil
}

// StartSession creates an ACTIVE session and counts the viewer. It is the only way a
// session comes into existence.
func (m *Manager) StartSession(ctx context.Context, p StartParams) (*models.ViewSession, error) {
	stream, quality, err := m.authorize(ctx, p)
	if err != nil {
		return nil, err
	}
	return m.create(ctx, stream, p, quality, m.cfg.Now())
}

func (m *Manager) authorize(ctx context.Context, p StartParams) (*models.Stream, string, error) {
	stream, err := m.registry.Get(ctx, p.StreamID)
	if err != nil {
		return nil, "", err
	}
	if stream.Status != models.StreamOnline {
		m.metrics.PlaybackDenied("offline")
		return nil, "", ErrStreamOffline
	}
	user, err := m.store.GetUser(ctx, p.UserID)
	if err != nil {
		return nil, "", err
	}

	quality := p.Quality
	if quality == "" {
		quality = playback.QualityAuto
	}
	if quality != playback.QualityAuto {
		if !playback.CanWatch(user.SubscriptionTier, quality) {
			m.metrics.PlaybackDenied("quality_forbidden")
			return nil, "", &QualityForbiddenError{Quality: quality, MaxQuality: playback.MaxQuality(user.SubscriptionTier)}
		}
		if !stream.HasQuality(quality) {
			m.metrics.PlaybackDenied("quality_unavailable")
			return nil, "", ErrQualityUnavailable
		}
	}
	return stream, quality, nil
}

func (m *Manager) create(ctx context.Context, stream *models.Stream, p StartParams, quality string, now time.Time) (*models.ViewSession, error) {
	deviceType := p.DeviceType
	if deviceType == "" {
		deviceType = defaultDeviceType
	}
	sess := &models.ViewSession{
		SessionID:     uuid.NewString(),
		UserID:        p.UserID,
		StreamID:      stream.ID,
		Quality:       quality,
		DeviceType:    deviceType,
		IPAddress:     p.IPAddress,
		UserAgent:     p.UserAgent,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	var viewers int
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		admitted, err := m.registry.AdmitViewerTx(ctx, tx, stream.ID)
		if err != nil {
			return err
		}
		viewers = admitted.CurrentViewers
		return tx.InsertSession(ctx, sess)
	})
	if err != nil {
		if errors.Is(err, streams.ErrOffline) {
			m.metrics.PlaybackDenied("offline")
		}
		return nil, err
	}

	m.metrics.SessionStarted()
	userID := sess.UserID
	m.publish(ctx, events.Event{
		Type:      events.SessionStarted,
		StreamID:  stream.ID,
		StreamKey: stream.StreamKey,
		SessionID: sess.SessionID,
		UserID:    &userID,
		At:        now,
		Data:      map[string]any{"quality": quality, "device_type": deviceType},
	})
	if m.cfg.HighViewers > 0 && viewers == m.cfg.HighViewers {
		m.publish(ctx, events.Event{
			Type:      events.StreamHighViewers,
			StreamID:  stream.ID,
			StreamKey: stream.StreamKey,
			At:        now,
			Data:      map[string]any{"current_viewers": viewers, "threshold": m.cfg.HighViewers},
		})
		m.logger.Warn("stream reached viewer threshold",
			zap.String("stream_id", stream.ID.String()), zap.Int("current_viewers", viewers))
	}
	m.logger.Info("session started",
		zap.String("session_id", sess.SessionID),
		zap.String("stream_id", stream.ID.String()),
		zap.String("user_id", sess.UserID.String()),
		zap.String("quality", quality),
	)
	return sess, nil
}

// Get returns a session by its public ID.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.ViewSession, error) {
	return m.store.GetSession(ctx, sessionID)
}

// Heartbeat refreshes last_heartbeat and merges the provided QoE fields. On an ENDED
// session it changes nothing and returns the stored record.
func (m *Manager) Heartbeat(ctx context.Context, sessionID string, upd HeartbeatUpdate) (*models.ViewSession, error) {
	if upd.negative() {
		return nil, ErrInvalidHeartbeat
	}
	var out *models.ViewSession
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := tx.SessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		out = s
		if s.State() == models.SessionEnded {
			return nil
		}
		s.LastHeartbeat = m.cfg.Now()
		upd.apply(s)
		return tx.UpdateSession(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EndSession moves a session to ENDED and charges its usage. The session write, the
// viewer decrement and the user totals commit together. Ending an ENDED session
// returns the stored values and charges nothing.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*models.ViewSession, error) {
	s, _, err := m.endSession(ctx, sessionID, causeClient)
	return s, err
}

func (m *Manager) endSession(ctx context.Context, sessionID, cause string) (*models.ViewSession, bool, error) {
	var (
		out   *models.ViewSession
		ended bool
	)
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ended = false
		s, err := tx.SessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		out = s
		if s.State() == models.SessionEnded {
			return nil
		}

		now := m.cfg.Now()
		s.EndedAt = &now
		s.WatchDuration = watchSeconds(s.StartedAt, now)
		if err := tx.UpdateSession(ctx, s); err != nil {
			return err
		}
		if _, err := m.registry.UpdateViewerCountTx(ctx, tx, s.StreamID, -1); err != nil {
			return fmt.Errorf("decrement viewers: %w", err)
		}
		if err := tx.AddUserUsage(ctx, s.UserID, s.WatchDuration, s.DataConsumed); err != nil {
			return fmt.Errorf("charge usage: %w", err)
		}
		ended = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if ended {
		m.metrics.SessionEnded(cause)
		userID := out.UserID
		m.publish(ctx, events.Event{
			Type:      events.SessionEnded,
			StreamID:  out.StreamID,
			SessionID: out.SessionID,
			UserID:    &userID,
			At:        *out.EndedAt,
			Data: map[string]any{
				"watch_duration": out.WatchDuration,
				"data_consumed":  out.DataConsumed,
				"cause":          cause,
			},
		})
		m.logger.Info("session ended",
			zap.String("session_id", out.SessionID),
			zap.Int64("watch_duration", out.WatchDuration),
			zap.Int64("data_consumed", out.DataConsumed),
			zap.String("cause", cause),
		)
	}
	return out, ended, nil
}

// EndAllForStream ends every ACTIVE session of a stream and returns how many it ended.
// Each session commits on its own; one failure does not stop the others.
func (m *Manager) EndAllForStream(ctx context.Context, streamID uuid.UUID) (int, error) {
	ids, err := m.store.ListActiveSessionIDs(ctx, streamID)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	var n atomic.Int64
	var g errgroup.Group
	g.SetLimit(m.cfg.EndAllConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, ended, err := m.endSession(ctx, id, causeStreamStop)
			if err != nil {
				m.logger.Error("end session on stream stop failed", zap.String("session_id", id), zap.Error(err))
				return fmt.Errorf("end session %s: %w", id, err)
			}
			if ended {
				n.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(n.Load()), err
}

// UserStats aggregates a user's usage and recent sessions.
func (m *Manager) UserStats(ctx context.Context, userID uuid.UUID) (*UserStats, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := m.store.CountSessionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	recent, err := m.store.ListSessionsByUser(ctx, userID, recentSessions)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if recent == nil {
		recent = []models.ViewSession{}
	}
	return &UserStats{
		TotalSessions:    total,
		TotalWatchTime:   user.TotalWatchTime,
		TotalWatchHours:  round2(float64(user.TotalWatchTime) / 3600),
		TotalDataUsed:    user.MonthlyDataUsed,
		TotalDataGB:      round2(float64(user.MonthlyDataUsed) / (1 << 30)),
		SubscriptionTier: user.SubscriptionTier,
		MaxQuality:       playback.MaxQuality(user.SubscriptionTier),
		IsPremium:        user.IsPremium(m.cfg.Now()),
		RecentSessions:   recent,
	}, nil
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.Warn("publish event failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func (u HeartbeatUpdate) negative() bool {
	return (u.BufferCount != nil && *u.BufferCount < 0) ||
		(u.QualitySwitches != nil && *u.QualitySwitches < 0) ||
		(u.DataConsumed != nil && *u.DataConsumed < 0) ||
		(u.AverageBitrate != nil && *u.AverageBitrate < 0)
}

func (u HeartbeatUpdate) apply(s *models.ViewSession) {
	if u.BufferCount != nil {
		s.BufferCount = *u.BufferCount
	}
	if u.QualitySwitches != nil {
		s.QualitySwitches = *u.QualitySwitches
	}
	if u.DataConsumed != nil {
		s.DataConsumed = *u.DataConsumed
	}
	if u.AverageBitrate != nil {
		s.AverageBitrate = *u.AverageBitrate
	}
}

// watchSeconds is the whole seconds between start and end, never negative.
func watchSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
