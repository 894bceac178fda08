package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"camcoord/pkg/models"
	"camcoord/pkg/storage/memory"
	"camcoord/pkg/sweeper"
)

type stubLeadership struct{ leader bool }

func (s *stubLeadership) IsLeader() bool { return s.leader }

type countingFlusher struct{ calls int }

func (f *countingFlusher) Flush(context.Context) error {
	f.calls++
	return nil
}

func TestSweep_PurgesBeyondRetention(t *testing.T) {
	now := time.Now()
	store := memory.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := store.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	_, err = store.Release(ctx, rec.LeaseID)
	require.NoError(t, err)

	sw := sweeper.New(sweeper.Config{Retention: time.Hour},
		store, &stubLeadership{leader: true}, nil, zap.NewNop())

	// Inside retention the dead record survives the sweep.
	now = now.Add(30 * time.Minute)
	sw.Sweep(ctx)
	next, err := store.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	assert.Greater(t, next.Version, rec.Version)
	_, err = store.Release(ctx, next.LeaseID)
	require.NoError(t, err)

	// Far beyond retention the record is reclaimed.
	now = now.Add(3 * time.Hour)
	sw.Sweep(ctx)
	fresh, err := store.Acquire(ctx, "cam-1", "node-c", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Version)
}

func TestSweep_FollowerSkipsPurge(t *testing.T) {
	now := time.Now()
	store := memory.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := store.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	_, err = store.Release(ctx, rec.LeaseID)
	require.NoError(t, err)

	sw := sweeper.New(sweeper.Config{Retention: time.Minute},
		store, &stubLeadership{leader: false}, nil, zap.NewNop())

	now = now.Add(2 * time.Hour)
	sw.Sweep(ctx)

	// Version continuity proves the record was not purged.
	next, err := store.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, rec.Version+1, next.Version)
}

func TestSweep_DrivesFlusher(t *testing.T) {
	store := memory.NewMemoryStore()
	flusher := &countingFlusher{}

	sw := sweeper.New(sweeper.Config{},
		store, &stubLeadership{leader: true}, flusher, zap.NewNop())

	sw.Sweep(context.Background())
	sw.Sweep(context.Background())

	assert.Equal(t, 2, flusher.calls)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	sw := sweeper.New(sweeper.Config{Schedule: "not a schedule"},
		memory.NewMemoryStore(), &stubLeadership{leader: true}, nil, zap.NewNop())

	assert.Error(t, sw.Start(context.Background()))
}
