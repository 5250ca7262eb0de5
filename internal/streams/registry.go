// Package streams owns stream status and viewer aggregates. Nothing else writes them.
package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-stream/backend/internal/models"
	"github.com/aura-stream/backend/internal/store"
)

var (
	// ErrOffline is returned when a viewer is admitted to a stream that is not ONLINE.
	ErrOffline = errors.New("stream is not currently online")
	// ErrInvalidStatus is returned for transitions to an unknown status.
	ErrInvalidStatus = errors.New("invalid stream status")
)

// Registry is the single writer of Stream status and counters.
type Registry struct {
	store  store.Store
	logger *zap.Logger
}

// NewRegistry creates a stream registry.
func NewRegistry(s store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: s, logger: logger}
}

// Get returns a stream by ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	return r.store.GetStream(ctx, id)
}

// GetByKey returns a stream by its encoder stream key.
func (r *Registry) GetByKey(ctx context.Context, key string) (*models.Stream, error) {
	return r.store.GetStreamByKey(ctx, key)
}

// List returns streams, filtered by status when status is non-empty.
func (r *Registry) List(ctx context.Context, status models.StreamStatus) ([]models.Stream, error) {
	if status != "" && !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return r.store.ListStreams(ctx, status)
}

// Live returns the ONLINE streams.
func (r *Registry) Live(ctx context.Context) ([]models.Stream, error) {
	return r.store.ListStreams(ctx, models.StreamOnline)
}

// UpdateViewerCount applies delta in its own transaction and returns the new count.
func (r *Registry) UpdateViewerCount(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var count int
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := r.UpdateViewerCountTx(ctx, tx, id, delta)
		if err != nil {
			return err
		}
		count = s.CurrentViewers
		return nil
	})
	return count, err
}

// UpdateViewerCountTx applies delta inside tx with the stream row locked.
func (r *Registry) UpdateViewerCountTx(ctx context.Context, tx store.Tx, id uuid.UUID, delta int) (*models.Stream, error) {
	s, err := tx.StreamForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	applyViewerDelta(s, delta)
	if err := tx.UpdateStream(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AdmitViewerTx counts one new viewer and one view. The stream must be ONLINE at the
// moment its row is locked, so a concurrent stop webhook cannot be overtaken.
func (r *Registry) AdmitViewerTx(ctx context.Context, tx store.Tx, id uuid.UUID) (*models.Stream, error) {
	s, err := tx.StreamForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.StreamOnline {
		return nil, ErrOffline
	}
	applyViewerDelta(s, 1)
	s.TotalViews++
	if err := tx.UpdateStream(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Transition moves a stream to status. The encoder is authoritative: going ONLINE or
// OFFLINE resets the live viewer count. Repeating a transition is harmless.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, status models.StreamStatus, now time.Time) (*models.Stream, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var (
		out  *models.Stream
		prev models.StreamStatus
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		s, err := tx.StreamForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prev = s.Status
		applyTransition(s, status, now)
		if err := tx.UpdateStream(ctx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("stream transition",
		zap.String("stream_id", id.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
	)
	return out, nil
}

func applyViewerDelta(s *models.Stream, delta int) {
	s.CurrentViewers += delta
	if s.CurrentViewers < 0 {
		s.CurrentViewers = 0
	}
	if s.CurrentViewers > s.PeakViewers {
		s.PeakViewers = s.CurrentViewers
	}
}

func applyTransition(s *models.Stream, status models.StreamStatus, now time.Time) {
	s.Status = status
	switch status {
	case models.StreamOnline:
		t := now
		s.StartedAt = &t
		s.CurrentViewers = 0
	case models.StreamOffline:
		t := now
		s.EndedAt = &t
		s.CurrentViewers = 0
	}
}
