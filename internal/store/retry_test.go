package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWithRetry_retriesSerializationFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: sqlStateSerializationFailure}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_surfacesConflictWhenExhausted(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 2, func() error {
		calls++
		return &pgconn.PgError{Code: sqlStateDeadlockDetected}
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_doesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
