package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camcoord/pkg/models"
	"camcoord/pkg/storage"
)

func TestAcquire_GrantsFreshLease(t *testing.T) {
	s := NewMemoryStore()

	rec, err := s.Acquire(context.Background(), "cam-1", "recorder-node-1", models.LeaseKindRecorder, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", rec.ResourceID)
	assert.Equal(t, "recorder-node-1", rec.HolderID)
	assert.Equal(t, int64(1), rec.Version)
	assert.NotEqual(t, uuid.Nil, rec.LeaseID)
}

func TestAcquire_ConflictWhileHeld(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)

	_, err = s.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 30*time.Second)
	var conflict *storage.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "node-a", conflict.Existing.HolderID)
	assert.Equal(t, first.LeaseID, conflict.Existing.LeaseID)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestAcquire_SameHolderGetsFreshLeaseID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)

	second, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)

	assert.NotEqual(t, first.LeaseID, second.LeaseID)
	assert.Equal(t, int64(2), second.Version)

	// The superseded ID is dead even though the holder is unchanged.
	_, err = s.Renew(ctx, first.LeaseID, 30*time.Second)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAcquire_AfterExpiry(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)

	// Another holder is refused while the lease lives.
	_, err = s.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 30*time.Second)
	require.ErrorIs(t, err, storage.ErrConflict)

	// Past expiry the resource is free, no sweep needed, and the version
	// continues from the dead record.
	now = now.Add(31 * time.Second)
	rec, err := s.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "node-b", rec.HolderID)
	assert.Equal(t, int64(2), rec.Version)
}

func TestRenew_ExtendsAndBumpsVersion(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindAI, 10*time.Second)
	require.NoError(t, err)

	now = now.Add(5 * time.Second)
	renewed, err := s.Renew(ctx, rec.LeaseID, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, rec.Version+1, renewed.Version)
	assert.Equal(t, now.Add(10*time.Second), renewed.ExpiresAt)
}

func TestRenew_ExpiredLease(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	_, err = s.Renew(ctx, rec.LeaseID, 10*time.Second)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRelease_Idempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)

	released, err := s.Release(ctx, rec.LeaseID)
	require.NoError(t, err)
	assert.True(t, released)

	// Second release is a no-op, not an error.
	released, err = s.Release(ctx, rec.LeaseID)
	require.NoError(t, err)
	assert.False(t, released)

	// Unknown lease IDs behave the same way.
	released, err = s.Release(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, released)
}

func TestRelease_FreesResourceAndKeepsVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)

	_, err = s.Release(ctx, rec.LeaseID)
	require.NoError(t, err)

	_, err = s.Get(ctx, "cam-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	next, err := s.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 30*time.Second)
	require.NoError(t, err)
	assert.Greater(t, next.Version, rec.Version)
}

func TestList_SkipsExpired(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	_, err = s.Acquire(ctx, "cam-2", "node-a", models.LeaseKindStream, 60*time.Second)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cam-2", recs[0].ResourceID)
}

func TestPurgeExpired_RespectsRetention(t *testing.T) {
	now := time.Now()
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	rec, err := s.Acquire(ctx, "cam-1", "node-a", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	_, err = s.Release(ctx, rec.LeaseID)
	require.NoError(t, err)

	// Dead but inside retention: kept for version continuity.
	now = now.Add(30 * time.Minute)
	purged, err := s.PurgeExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)

	now = now.Add(time.Hour)
	purged, err = s.PurgeExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	// After the purge the version restarts; exclusivity is unaffected.
	fresh, err := s.Acquire(ctx, "cam-1", "node-b", models.LeaseKindStream, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fresh.Version)
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const holders = 16
	var wg sync.WaitGroup
	granted := make(chan string, holders)

	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			holder := string(rune('a' + id))
			if _, err := s.Acquire(ctx, "cam-1", holder, models.LeaseKindStream, 30*time.Second); err == nil {
				granted <- holder
			}
		}(i)
	}
	wg.Wait()
	close(granted)

	require.Len(t, granted, 1)
}
