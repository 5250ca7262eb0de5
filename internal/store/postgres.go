package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-stream/backend/internal/models"
)

const (
	streamColumns = `id, stream_key, name, description, status, available_qualities, default_quality,
		current_viewers, peak_viewers, total_views, started_at, ended_at, created_at, updated_at`
	userColumns    = `id, email, subscription_tier, subscription_expires, total_watch_time, monthly_data_used, created_at, updated_at`
	sessionColumns = `session_id, user_id, stream_id, quality, device_type, ip_address, user_agent,
		started_at, last_heartbeat, ended_at, watch_duration, data_consumed, buffer_count, quality_switches, average_bitrate`
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store.
type Postgres struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPostgres creates a Postgres store. maxRetries <= 0 uses DefaultMaxRetries.
func NewPostgres(pool *pgxpool.Pool, maxRetries int) *Postgres {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Postgres{pool: pool, maxRetries: maxRetries}
}

// WithTx runs fn in a read-committed transaction, retrying serialization failures and deadlocks.
func (p *Postgres) WithTx(ctx context.Context, fn TxFunc) error {
	return withRetry(ctx, p.maxRetries, func() error {
		return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{tx: tx})
		})
	})
}

func (p *Postgres) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	return getStream(ctx, p.pool, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
}

func (p *Postgres) GetStreamByKey(ctx context.Context, key string) (*models.Stream, error) {
	return getStream(ctx, p.pool, `SELECT `+streamColumns+` FROM streams WHERE stream_key = $1`, key)
}

func (p *Postgres) ListStreams(ctx context.Context, status models.StreamStatus) ([]models.Stream, error) {
	q := `SELECT ` + streamColumns + ` FROM streams`
	var args []any
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	rows, err := p.pool.Query(ctx, q+` ORDER BY name, stream_key`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var u models.User
	err := p.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.SubscriptionTier, &u.SubscriptionExpires,
		&u.TotalWatchTime, &u.MonthlyDataUsed, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*models.ViewSession, error) {
	return getSession(ctx, p.pool, `SELECT `+sessionColumns+` FROM view_sessions WHERE session_id = $1`, sessionID)
}

func (p *Postgres) ListActiveSessionIDs(ctx context.Context, streamID uuid.UUID) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT session_id FROM view_sessions WHERE stream_id = $1 AND ended_at IS NULL`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) ListSessionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.ViewSession, error) {
	// LIMIT NULL is no limit
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM view_sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`,
		userID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ViewSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (p *Postgres) CountSessionsByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM view_sessions WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

// pgTx implements Tx on a pgx transaction using SELECT ... FOR UPDATE row locks.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) StreamForUpdate(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	return getStream(ctx, t.tx, `SELECT `+streamColumns+` FROM streams WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateStream(ctx context.Context, s *models.Stream) error {
	const q = `UPDATE streams SET status = $1, current_viewers = $2, peak_viewers = $3, total_views = $4,
		started_at = $5, ended_at = $6, updated_at = NOW() WHERE id = $7`
	tag, err := t.tx.Exec(ctx, q, string(s.Status), s.CurrentViewers, s.PeakViewers, s.TotalViews, s.StartedAt, s.EndedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SessionForUpdate(ctx context.Context, sessionID string) (*models.ViewSession, error) {
	return getSession(ctx, t.tx, `SELECT `+sessionColumns+` FROM view_sessions WHERE session_id = $1 FOR UPDATE`, sessionID)
}

func (t *pgTx) InsertSession(ctx context.Context, s *models.ViewSession) error {
	const q = `INSERT INTO view_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := t.tx.Exec(ctx, q, s.SessionID, s.UserID, s.StreamID, s.Quality, s.DeviceType, s.IPAddress, s.UserAgent,
		s.StartedAt, s.LastHeartbeat, s.EndedAt, s.WatchDuration, s.DataConsumed, s.BufferCount, s.QualitySwitches, s.AverageBitrate)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateSession(ctx context.Context, s *models.ViewSession) error {
	const q = `UPDATE view_sessions SET quality = $1, last_heartbeat = $2, ended_at = $3, watch_duration = $4,
		data_consumed = $5, buffer_count = $6, quality_switches = $7, average_bitrate = $8 WHERE session_id = $9`
	tag, err := t.tx.Exec(ctx, q, s.Quality, s.LastHeartbeat, s.EndedAt, s.WatchDuration,
		s.DataConsumed, s.BufferCount, s.QualitySwitches, s.AverageBitrate, s.SessionID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUserUsage increments in place, so the row lock is taken by the UPDATE itself.
func (t *pgTx) AddUserUsage(ctx context.Context, userID uuid.UUID, watchSeconds, dataBytes int64) error {
	const q = `UPDATE users SET total_watch_time = total_watch_time + $1, monthly_data_used = monthly_data_used + $2,
		updated_at = NOW() WHERE id = $3`
	tag, err := t.tx.Exec(ctx, q, watchSeconds, dataBytes, userID)
	if err != nil {
		return fmt.Errorf("add user usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func getStream(ctx context.Context, db querier, q string, arg any) (*models.Stream, error) {
	s, err := scanStream(db.QueryRow(ctx, q, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func getSession(ctx context.Context, db querier, q string, arg any) (*models.ViewSession, error) {
	s, err := scanSession(db.QueryRow(ctx, q, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func scanStream(row pgx.Row) (*models.Stream, error) {
	var s models.Stream
	err := row.Scan(&s.ID, &s.StreamKey, &s.Name, &s.Description, &s.Status, &s.AvailableQualities, &s.DefaultQuality,
		&s.CurrentViewers, &s.PeakViewers, &s.TotalViews, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSession(row pgx.Row) (*models.ViewSession, error) {
	var s models.ViewSession
	err := row.Scan(&s.SessionID, &s.UserID, &s.StreamID, &s.Quality, &s.DeviceType, &s.IPAddress, &s.UserAgent,
		&s.StartedAt, &s.LastHeartbeat, &s.EndedAt, &s.WatchDuration, &s.DataConsumed, &s.BufferCount, &s.QualitySwitches, &s.AverageBitrate)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
