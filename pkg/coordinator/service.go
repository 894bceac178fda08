package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"camcoord/pkg/audit"
	"camcoord/pkg/cluster"
	"camcoord/pkg/metrics"
	"camcoord/pkg/models"
	"camcoord/pkg/resilience"
	"camcoord/pkg/storage"
)

// Leadership is the slice of the cluster manager the service consults
// before mutating lease state. Tests stub it.
type Leadership interface {
	IsLeader() bool
	Leader() (id, addr string)
	Term() uint64
}

// ValidationError reports a malformed request. Never retried; the caller
// must fix its input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NotLeaderError tells the caller to retry against the leader it names.
type NotLeaderError struct {
	LeaderAddr string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderAddr == "" {
		return "not the leader, no leader known"
	}
	return "not the leader, try " + e.LeaderAddr
}

func (e *NotLeaderError) Unwrap() error { return cluster.ErrNotLeader }

// StorageError wraps backend failures so the API maps them to 5xx and the
// caller knows a backoff-retry is reasonable.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return "lease store failure: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// Config holds the TTL policy and node identity.
type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	NodeID     string
}

// Service is the leadership-gated lease service behind the HTTP handlers.
// It owns no lease state itself: everything flows through the injected
// store, and role decisions come from the injected leadership view.
type Service struct {
	store      storage.LeaseStore
	leadership Leadership
	breaker    *resilience.CircuitBreaker
	recorder   audit.Recorder
	cfg        Config
	logger     *zap.Logger
}

// NewService wires the lease service.
func NewService(cfg Config, store storage.LeaseStore, leadership Leadership, breaker *resilience.CircuitBreaker, recorder audit.Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Service{
		store:      store,
		leadership: leadership,
		breaker:    breaker,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
	}
}

// Healthy reports whether the lease store is currently usable.
func (s *Service) Healthy() bool {
	return s.breaker == nil || s.breaker.Healthy()
}

// Acquire grants a lease if this node leads and no other holder owns the
// resource.
func (s *Service) Acquire(ctx context.Context, resourceID, holderID string, kind models.LeaseKind, ttlSecs int) (*models.LeaseRecord, error) {
	if resourceID == "" {
		return nil, &ValidationError{Field: "resource_id", Message: "must not be empty"}
	}
	if holderID == "" {
		return nil, &ValidationError{Field: "holder_id", Message: "must not be empty"}
	}
	if !models.ValidKind(kind) {
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown lease kind %q", kind)}
	}
	ttl, err := s.normalizeTTL(ttlSecs)
	if err != nil {
		return nil, err
	}
	if err := s.requireLeadership(); err != nil {
		metrics.RecordAcquire("not_leader", string(kind))
		return nil, err
	}

	var rec *models.LeaseRecord
	var opErr error
	err = s.guard(func() error {
		rec, opErr = s.store.Acquire(ctx, resourceID, holderID, kind, ttl)
		if opErr != nil && !errors.Is(opErr, storage.ErrConflict) {
			return opErr
		}
		return nil
	})
	if err != nil {
		metrics.RecordAcquire("error", string(kind))
		return nil, err
	}
	if opErr != nil {
		metrics.RecordAcquire("denied", string(kind))
		s.recorder.Record(s.event(audit.ActionDenied, resourceID, holderID, uuid.Nil, string(kind), 0))
		return nil, opErr
	}

	metrics.RecordAcquire("granted", string(kind))
	s.recorder.Record(s.event(audit.ActionGranted, resourceID, holderID, rec.LeaseID, string(kind), rec.Version))
	s.logger.Info("lease granted",
		zap.String("resource_id", resourceID),
		zap.String("holder_id", holderID),
		zap.Int64("version", rec.Version),
		zap.Time("expires_at", rec.ExpiresAt))
	return rec, nil
}

// Renew extends a lease the caller still holds.
func (s *Service) Renew(ctx context.Context, leaseID uuid.UUID, ttlSecs int) (*models.LeaseRecord, error) {
	if leaseID == uuid.Nil {
		return nil, &ValidationError{Field: "lease_id", Message: "must not be empty"}
	}
	ttl, err := s.normalizeTTL(ttlSecs)
	if err != nil {
		return nil, err
	}
	if err := s.requireLeadership(); err != nil {
		metrics.RenewalsTotal.WithLabelValues("not_leader").Inc()
		return nil, err
	}

	var rec *models.LeaseRecord
	var opErr error
	err = s.guard(func() error {
		rec, opErr = s.store.Renew(ctx, leaseID, ttl)
		if opErr != nil && !errors.Is(opErr, storage.ErrNotFound) {
			return opErr
		}
		return nil
	})
	if err != nil {
		metrics.RenewalsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if opErr != nil {
		metrics.RenewalsTotal.WithLabelValues("not_found").Inc()
		return nil, opErr
	}

	metrics.RenewalsTotal.WithLabelValues("renewed").Inc()
	s.recorder.Record(s.event(audit.ActionRenewed, rec.ResourceID, rec.HolderID, rec.LeaseID, string(rec.Kind), rec.Version))
	return rec, nil
}

// Release ends a lease. Idempotent: a dead lease yields released=false.
func (s *Service) Release(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	if leaseID == uuid.Nil {
		return false, &ValidationError{Field: "lease_id", Message: "must not be empty"}
	}
	if err := s.requireLeadership(); err != nil {
		metrics.ReleasesTotal.WithLabelValues("not_leader").Inc()
		return false, err
	}

	var released bool
	err := s.guard(func() error {
		var opErr error
		released, opErr = s.store.Release(ctx, leaseID)
		return opErr
	})
	if err != nil {
		metrics.ReleasesTotal.WithLabelValues("error").Inc()
		return false, err
	}

	if released {
		metrics.ReleasesTotal.WithLabelValues("released").Inc()
		s.recorder.Record(s.event(audit.ActionReleased, "", "", leaseID, "", 0))
	} else {
		metrics.ReleasesTotal.WithLabelValues("noop").Inc()
	}
	return released, nil
}

// Get returns the live lease for a resource. Served by any node; stale is
// true when this node is not the leader, so callers know the answer may
// lag behind the leader's view.
func (s *Service) Get(ctx context.Context, resourceID string) (rec *models.LeaseRecord, stale bool, err error) {
	if resourceID == "" {
		return nil, false, &ValidationError{Field: "resource_id", Message: "must not be empty"}
	}

	stale = !s.leadership.IsLeader()
	var opErr error
	if gerr := s.guard(func() error {
		rec, opErr = s.store.Get(ctx, resourceID)
		if opErr != nil && !errors.Is(opErr, storage.ErrNotFound) {
			return opErr
		}
		return nil
	}); gerr != nil {
		return nil, stale, gerr
	}
	if opErr != nil {
		return nil, stale, opErr
	}
	return rec, stale, nil
}

// List returns all live leases with the same staleness disclosure as Get.
func (s *Service) List(ctx context.Context) (recs []models.LeaseRecord, stale bool, err error) {
	stale = !s.leadership.IsLeader()
	err = s.guard(func() error {
		var opErr error
		recs, opErr = s.store.List(ctx)
		return opErr
	})
	return recs, stale, err
}

// normalizeTTL applies the TTL policy: absent falls back to the default,
// excess is clamped down to the max, below-minimum is rejected so caller
// bugs stay visible.
func (s *Service) normalizeTTL(ttlSecs int) (time.Duration, error) {
	if ttlSecs == 0 {
		return s.cfg.DefaultTTL, nil
	}
	ttl := time.Duration(ttlSecs) * time.Second
	if ttl < time.Second {
		return 0, &ValidationError{Field: "ttl_secs", Message: "must be at least 1 second"}
	}
	if ttl > s.cfg.MaxTTL {
		return s.cfg.MaxTTL, nil
	}
	return ttl, nil
}

// requireLeadership rejects mutations on non-leader nodes so two nodes can
// never grant conflicting leases during a split-brain window.
func (s *Service) requireLeadership() error {
	if s.leadership.IsLeader() {
		return nil
	}
	metrics.NotLeaderRejections.Inc()
	_, addr := s.leadership.Leader()
	return &NotLeaderError{LeaderAddr: addr}
}

// guard routes a store call through the circuit breaker and converts real
// failures into StorageError.
func (s *Service) guard(fn func() error) error {
	run := fn
	if s.breaker != nil {
		inner := fn
		run = func() error {
			return s.breaker.Execute(context.Background(), inner)
		}
	}
	if err := run(); err != nil {
		metrics.StorageErrors.Inc()
		s.logger.Error("lease store call failed", zap.Error(err))
		return &StorageError{Err: err}
	}
	return nil
}

func (s *Service) event(action audit.Action, resourceID, holderID string, leaseID uuid.UUID, kind string, version int64) audit.Event {
	return audit.Event{
		Time:       time.Now().UTC(),
		Action:     action,
		ResourceID: resourceID,
		HolderID:   holderID,
		LeaseID:    leaseID,
		Kind:       kind,
		Version:    version,
		NodeID:     s.cfg.NodeID,
		Term:       s.leadership.Term(),
	}
}
