// Package store persists streams, users and view sessions. Writes that touch shared
// aggregates go through WithTx with the affected rows locked until commit.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aura-stream/backend/internal/models"
)

var (
	// ErrNotFound is returned for unknown streams, users and sessions.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a transaction kept losing to concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
)

// DefaultMaxRetries bounds how often a conflicting transaction is re-run.
const DefaultMaxRetries = 3

// Tx is a unit of work. Rows returned by the *ForUpdate methods stay locked until the
// transaction ends. Lock order is session, then stream, then user.
type Tx interface {
	StreamForUpdate(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	UpdateStream(ctx context.Context, s *models.Stream) error
	SessionForUpdate(ctx context.Context, sessionID string) (*models.ViewSession, error)
	InsertSession(ctx context.Context, s *models.ViewSession) error
	UpdateSession(ctx context.Context, s *models.ViewSession) error
	AddUserUsage(ctx context.Context, userID uuid.UUID, watchSeconds, dataBytes int64) error
}

// TxFunc may run more than once when the store retries a conflict.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is implemented by Postgres and Memory.
type Store interface {
	WithTx(ctx context.Context, fn TxFunc) error

	GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	GetStreamByKey(ctx context.Context, key string) (*models.Stream, error)
	// ListStreams returns all streams when status is empty.
	ListStreams(ctx context.Context, status models.StreamStatus) ([]models.Stream, error)

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	GetSession(ctx context.Context, sessionID string) (*models.ViewSession, error)
	ListActiveSessionIDs(ctx context.Context, streamID uuid.UUID) ([]string, error)
	ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.ViewSession, error)
	CountSessionsByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
