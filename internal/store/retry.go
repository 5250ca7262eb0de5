package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// isRetryable reports whether Postgres aborted the transaction because of a concurrent one.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

// withRetry runs attempt until it succeeds, fails for a non-retryable reason, or
// maxRetries extra attempts are used up.
func withRetry(ctx context.Context, maxRetries int, attempt func() error) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		if err = attempt(); err == nil || !isRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}
