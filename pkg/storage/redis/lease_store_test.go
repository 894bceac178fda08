package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"camcoord/pkg/models"
	"camcoord/pkg/storage"
)

// RedisStoreSuite runs the lease lifecycle against a real Redis instance.
// Skips when no server is reachable so unit runs stay self-contained.
type RedisStoreSuite struct {
	suite.Suite
	store *RedisStore
	ctx   context.Context
}

func (s *RedisStoreSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	addr := fmt.Sprintf("%s:%s",
		getEnv("TEST_REDIS_HOST", "localhost"),
		getEnv("TEST_REDIS_PORT", "6379"),
	)
	store, err := NewRedisStore(addr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

// resource returns a unique resource ID per test so runs never collide
// with leftovers from earlier suites.
func (s *RedisStoreSuite) resource() string {
	return "it-cam-" + uuid.NewString()
}

func (s *RedisStoreSuite) TestAcquireRenewRelease() {
	res := s.resource()

	rec, err := s.store.Acquire(s.ctx, res, "node-a", models.LeaseKindStream, 30*time.Second)
	s.Require().NoError(err)
	s.Equal(res, rec.ResourceID)
	s.Equal("node-a", rec.HolderID)
	s.EqualValues(1, rec.Version)

	renewed, err := s.store.Renew(s.ctx, rec.LeaseID, 30*time.Second)
	s.Require().NoError(err)
	s.Equal(rec.LeaseID, renewed.LeaseID)
	s.EqualValues(2, renewed.Version)

	released, err := s.store.Release(s.ctx, rec.LeaseID)
	s.Require().NoError(err)
	s.True(released)

	released, err = s.store.Release(s.ctx, rec.LeaseID)
	s.Require().NoError(err)
	s.False(released)

	_, err = s.store.Get(s.ctx, res)
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *RedisStoreSuite) TestConflictReportsHolder() {
	res := s.resource()

	first, err := s.store.Acquire(s.ctx, res, "node-a", models.LeaseKindRecorder, 30*time.Second)
	s.Require().NoError(err)

	_, err = s.store.Acquire(s.ctx, res, "node-b", models.LeaseKindRecorder, 30*time.Second)
	var conflict *storage.ConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal("node-a", conflict.Existing.HolderID)
	s.Equal(first.LeaseID, conflict.Existing.LeaseID)
}

func (s *RedisStoreSuite) TestExpiredLeaseIsTakenOver() {
	res := s.resource()

	first, err := s.store.Acquire(s.ctx, res, "node-a", models.LeaseKindStream, 100*time.Millisecond)
	s.Require().NoError(err)

	time.Sleep(150 * time.Millisecond)

	second, err := s.store.Acquire(s.ctx, res, "node-b", models.LeaseKindStream, 30*time.Second)
	s.Require().NoError(err)
	s.NotEqual(first.LeaseID, second.LeaseID)
	s.EqualValues(first.Version+1, second.Version)

	// The superseded ID must be dead for renewal.
	_, err = s.store.Renew(s.ctx, first.LeaseID, 30*time.Second)
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *RedisStoreSuite) TestRenewExpiredFails() {
	res := s.resource()

	rec, err := s.store.Acquire(s.ctx, res, "node-a", models.LeaseKindAI, 100*time.Millisecond)
	s.Require().NoError(err)

	time.Sleep(150 * time.Millisecond)

	_, err = s.store.Renew(s.ctx, rec.LeaseID, 30*time.Second)
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *RedisStoreSuite) TestListAndPurge() {
	res := s.resource()

	rec, err := s.store.Acquire(s.ctx, res, "node-a", models.LeaseKindPipeline, 30*time.Second)
	s.Require().NoError(err)

	recs, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	found := false
	for _, r := range recs {
		if r.ResourceID == res {
			found = true
		}
	}
	s.True(found, "live lease should be listed")

	released, err := s.store.Release(s.ctx, rec.LeaseID)
	s.Require().NoError(err)
	s.True(released)

	// Released just now, inside any sane retention window: not purged.
	_, err = s.store.PurgeExpired(s.ctx, time.Hour)
	s.Require().NoError(err)
	exists, err := s.store.client.Exists(s.ctx, resourceKeyPrefix+res).Result()
	s.Require().NoError(err)
	s.EqualValues(1, exists, "record inside retention should survive the sweep")

	// Zero retention sweeps it immediately.
	_, err = s.store.PurgeExpired(s.ctx, 0)
	s.Require().NoError(err)
	exists, err = s.store.client.Exists(s.ctx, resourceKeyPrefix+res).Result()
	s.Require().NoError(err)
	s.EqualValues(0, exists, "record past retention should be swept")
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
