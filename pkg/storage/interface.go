package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"camcoord/pkg/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lease ID no longer matches the live
	// record for its resource (expired or superseded).
	ErrNotFound = errors.New("lease not found")

	// ErrConflict is returned when a live lease for the resource belongs
	// to a different holder.
	ErrConflict = errors.New("resource already leased")
)

// ConflictError carries the live record that caused an acquire to be denied,
// so callers can report the current holder. Unwraps to ErrConflict.
type ConflictError struct {
	Existing *models.LeaseRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %q already leased by %q until %s",
		e.Existing.ResourceID, e.Existing.HolderID, e.Existing.ExpiresAt.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// LeaseStore defines the data access layer for lease records. All backends
// (memory, postgres, redis) implement the same contract; callers never see
// backend internals, so the backend swap is transparent.
//
// Expiry is lazy: every operation treats a record past its ExpiresAt as
// absent before deciding anything else. PurgeExpired only bounds storage,
// correctness never depends on it running.
type LeaseStore interface {
	// Acquire grants a lease on resourceID to holderID for ttl.
	// A live lease held by a different holder yields a *ConflictError.
	// Re-acquiring a resource the holder already owns issues a fresh
	// lease ID, refreshes the TTL and bumps the version.
	Acquire(ctx context.Context, resourceID, holderID string, kind models.LeaseKind, ttl time.Duration) (*models.LeaseRecord, error)

	// Renew extends the lease identified by leaseID. ErrNotFound when the
	// ID no longer matches the live record (expired or superseded), so a
	// holder can never renew a lease it already lost.
	Renew(ctx context.Context, leaseID uuid.UUID, ttl time.Duration) (*models.LeaseRecord, error)

	// Release ends the lease. Idempotent: a dead or unknown leaseID
	// returns false with no error.
	Release(ctx context.Context, leaseID uuid.UUID) (bool, error)

	// Get returns the live lease for a resource, ErrNotFound if none.
	Get(ctx context.Context, resourceID string) (*models.LeaseRecord, error)

	// List returns all live leases, for operator tooling.
	List(ctx context.Context) ([]models.LeaseRecord, error)

	// PurgeExpired deletes records that have been expired for longer than
	// retention and returns how many were removed. The retention window
	// keeps recently superseded rows around so versions stay monotonic
	// across re-grants.
	PurgeExpired(ctx context.Context, retention time.Duration) (int64, error)

	Close() error
}
