package streams

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-stream/backend/internal/models"
	"github.com/aura-stream/backend/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewRegistry(mem, nil), mem
}

func TestUpdateViewerCount_clampsAndTracksPeak(t *testing.T) {
	ctx := context.Background()
	reg, mem := newTestRegistry(t)
	s := mem.PutStream(&models.Stream{StreamKey: "abc"})

	rng := rand.New(rand.NewSource(42))
	current, peak := 0, 0
	for i := 0; i < 500; i++ {
		delta := rng.Intn(7) - 3
		n, err := reg.UpdateViewerCount(ctx, s.ID, delta)
		require.NoError(t, err)

		current += delta
		if current < 0 {
			current = 0
		}
		if current > peak {
			peak = current
		}
		require.Equal(t, current, n)

		got, _ := reg.Get(ctx, s.ID)
		require.GreaterOrEqual(t, got.CurrentViewers, 0)
		require.GreaterOrEqual(t, got.PeakViewers, got.CurrentViewers)
		require.Equal(t, peak, got.PeakViewers)
	}
}

func TestUpdateViewerCount_unknownStream(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.UpdateViewerCount(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateViewerCount_concurrent(t *testing.T) {
	ctx := context.Background()
	reg, mem := newTestRegistry(t)
	a := mem.PutStream(&models.Stream{StreamKey: "a"})
	b := mem.PutStream(&models.Stream{StreamKey: "b"})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := reg.UpdateViewerCount(ctx, a.ID, 1)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := reg.UpdateViewerCount(ctx, b.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	gotA, _ := reg.Get(ctx, a.ID)
	gotB, _ := reg.Get(ctx, b.ID)
	assert.Equal(t, n, gotA.CurrentViewers)
	assert.Equal(t, n, gotA.PeakViewers)
	assert.Equal(t, n, gotB.CurrentViewers)
}

func TestTransition(t *testing.T) {
	ctx := context.Background()
	reg, mem := newTestRegistry(t)
	s := mem.PutStream(&models.Stream{StreamKey: "abc"})
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	on, err := reg.Transition(ctx, s.ID, models.StreamOnline, t0)
	require.NoError(t, err)
	assert.Equal(t, models.StreamOnline, on.Status)
	require.NotNil(t, on.StartedAt)
	assert.True(t, on.StartedAt.Equal(t0))

	_, err = reg.UpdateViewerCount(ctx, s.ID, 4)
	require.NoError(t, err)

	t1 := t0.Add(time.Minute)
	again, err := reg.Transition(ctx, s.ID, models.StreamOnline, t1)
	require.NoError(t, err)
	assert.True(t, again.StartedAt.Equal(t1), "repeated ONLINE refreshes started_at")
	assert.Equal(t, 0, again.CurrentViewers)
	assert.Equal(t, 4, again.PeakViewers)

	t2 := t1.Add(time.Hour)
	off, err := reg.Transition(ctx, s.ID, models.StreamOffline, t2)
	require.NoError(t, err)
	assert.Equal(t, models.StreamOffline, off.Status)
	require.NotNil(t, off.EndedAt)
	assert.True(t, off.EndedAt.Equal(t2))
	assert.Equal(t, 0, off.CurrentViewers)

	_, err = reg.Transition(ctx, s.ID, models.StreamOffline, t2)
	assert.NoError(t, err, "stop is idempotent")
}

func TestTransition_errors(t *testing.T) {
	ctx := context.Background()
	reg, mem := newTestRegistry(t)
	s := mem.PutStream(&models.Stream{StreamKey: "abc"})

	_, err := reg.Transition(ctx, uuid.New(), models.StreamOnline, time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = reg.Transition(ctx, s.ID, models.StreamStatus("PAUSED"), time.Now())
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAdmitViewerTx_requiresOnline(t *testing.T) {
	ctx := context.Background()
	reg, mem := newTestRegistry(t)
	s := mem.PutStream(&models.Stream{StreamKey: "abc"})

	err := mem.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := reg.AdmitViewerTx(ctx, tx, s.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrOffline)

	_, err = reg.Transition(ctx, s.ID, models.StreamOnline, time.Now())
	require.NoError(t, err)
	err = mem.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := reg.AdmitViewerTx(ctx, tx, s.ID)
		return err
	})
	require.NoError(t, err)

	got, _ := reg.Get(ctx, s.ID)
	assert.Equal(t, 1, got.CurrentViewers)
	assert.Equal(t, int64(1), got.TotalViews)
}
