package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"camcoord/pkg/models"
	"camcoord/pkg/storage"
)

// MemoryStore is the single-node LeaseStore backend. It keeps every record
// in a plain map under one mutex; good enough for a lone coordinator or for
// tests, useless across restarts.
type MemoryStore struct {
	mu sync.Mutex

	// byResource owns the records. Expired entries linger until the sweep
	// so the per-resource version keeps climbing across re-grants.
	byResource map[string]*models.LeaseRecord

	// byLease maps live and recently dead lease IDs back to resources for
	// renew/release lookups.
	byLease map[uuid.UUID]string

	clock func() time.Time
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byResource: make(map[string]*models.LeaseRecord),
		byLease:    make(map[uuid.UUID]string),
		clock:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Close() error { return nil }

// Acquire grants the resource to holderID unless a live lease belongs to
// someone else. A same-holder re-grant gets a fresh lease ID, refreshed TTL
// and a bumped version; the old ID is dead from that point on.
func (s *MemoryStore) Acquire(ctx context.Context, resourceID, holderID string, kind models.LeaseKind, ttl time.Duration) (*models.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	existing := s.byResource[resourceID]

	if existing != nil && !existing.Expired(now) && existing.HolderID != holderID {
		return nil, &storage.ConflictError{Existing: existing.Clone()}
	}

	version := int64(1)
	if existing != nil {
		version = existing.Version + 1
		delete(s.byLease, existing.LeaseID)
	}

	rec := &models.LeaseRecord{
		LeaseID:    uuid.New(),
		ResourceID: resourceID,
		HolderID:   holderID,
		Kind:       kind,
		ExpiresAt:  now.Add(ttl),
		Version:    version,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.byResource[resourceID] = rec
	s.byLease[rec.LeaseID] = resourceID

	return rec.Clone(), nil
}

// Renew extends the lease if leaseID still names the live record.
func (s *MemoryStore) Renew(ctx context.Context, leaseID uuid.UUID, ttl time.Duration) (*models.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	rec := s.liveRecord(leaseID, now)
	if rec == nil {
		return nil, storage.ErrNotFound
	}

	rec.ExpiresAt = now.Add(ttl)
	rec.Version++
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

// Release marks the lease expired. Releasing a dead or unknown lease is a
// no-op returning false.
func (s *MemoryStore) Release(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	rec := s.liveRecord(leaseID, now)
	if rec == nil {
		return false, nil
	}

	// Keep the record around (expired) so the next grant continues the
	// version sequence; the sweep reclaims it later.
	rec.ExpiresAt = now
	rec.UpdatedAt = now
	return true, nil
}

// Get returns the live lease for the resource.
func (s *MemoryStore) Get(ctx context.Context, resourceID string) (*models.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.byResource[resourceID]
	if rec == nil || rec.Expired(s.clock()) {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns all live leases.
func (s *MemoryStore) List(ctx context.Context) ([]models.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	out := make([]models.LeaseRecord, 0, len(s.byResource))
	for _, rec := range s.byResource {
		if !rec.Expired(now) {
			out = append(out, *rec.Clone())
		}
	}
	return out, nil
}

// PurgeExpired drops records dead for longer than retention.
func (s *MemoryStore) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-retention)
	var purged int64
	for resourceID, rec := range s.byResource {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.byResource, resourceID)
			delete(s.byLease, rec.LeaseID)
			purged++
		}
	}
	return purged, nil
}

// liveRecord resolves a lease ID to its record iff it is still the live
// lease for its resource. Must hold s.mu.
func (s *MemoryStore) liveRecord(leaseID uuid.UUID, now time.Time) *models.LeaseRecord {
	resourceID, ok := s.byLease[leaseID]
	if !ok {
		return nil
	}
	rec := s.byResource[resourceID]
	if rec == nil || rec.LeaseID != leaseID || rec.Expired(now) {
		return nil
	}
	return rec
}
