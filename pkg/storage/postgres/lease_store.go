package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"camcoord/pkg/models"
	"camcoord/pkg/storage"
)

// PostgresStore is the durable LeaseStore backend. Lease state and versions
// survive restarts; every mutation runs in a transaction that takes a
// SELECT ... FOR UPDATE row lock on the resource, so concurrent
// acquire/renew/release attempts on one resource are totally ordered across
// connections and nodes.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes the GORM connection and migrates the schema.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&models.LeaseRecord{}); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Acquire grants or denies a lease inside a single locking transaction.
func (s *PostgresStore) Acquire(ctx context.Context, resourceID, holderID string, kind models.LeaseKind, ttl time.Duration) (*models.LeaseRecord, error) {
	var granted *models.LeaseRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var existing models.LeaseRecord
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("resource_id = ?", resourceID).
			First(&existing)

		switch {
		case result.Error == nil:
			if !existing.Expired(now) && existing.HolderID != holderID {
				return &storage.ConflictError{Existing: existing.Clone()}
			}
			// Expired row or same-holder re-grant: take the row over,
			// continuing the version sequence. The primary key changes,
			// so the update is keyed on the old lease ID.
			next := models.LeaseRecord{
				LeaseID:    uuid.New(),
				ResourceID: resourceID,
				HolderID:   holderID,
				Kind:       kind,
				ExpiresAt:  now.Add(ttl),
				Version:    existing.Version + 1,
				CreatedAt:  existing.CreatedAt,
				UpdatedAt:  now,
			}
			update := tx.Model(&models.LeaseRecord{}).
				Where("lease_id = ?", existing.LeaseID).
				Updates(map[string]interface{}{
					"lease_id":   next.LeaseID,
					"holder_id":  next.HolderID,
					"kind":       next.Kind,
					"expires_at": next.ExpiresAt,
					"version":    next.Version,
					"updated_at": now,
				})
			if update.Error != nil {
				return fmt.Errorf("failed to update lease: %w", update.Error)
			}
			granted = next.Clone()
			return nil

		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			rec := models.LeaseRecord{
				LeaseID:    uuid.New(),
				ResourceID: resourceID,
				HolderID:   holderID,
				Kind:       kind,
				ExpiresAt:  now.Add(ttl),
				Version:    1,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to create lease: %w", err)
			}
			granted = rec.Clone()
			return nil

		default:
			return fmt.Errorf("failed to load lease: %w", result.Error)
		}
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

// Renew extends the lease if leaseID still names the live record for its
// resource. The WHERE clause is the CAS: a stale or expired ID matches no
// row and surfaces as ErrNotFound.
func (s *PostgresStore) Renew(ctx context.Context, leaseID uuid.UUID, ttl time.Duration) (*models.LeaseRecord, error) {
	var renewed *models.LeaseRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var rec models.LeaseRecord
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lease_id = ?", leaseID).
			First(&rec)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("failed to load lease: %w", result.Error)
		}
		if rec.Expired(now) {
			return storage.ErrNotFound
		}

		rec.ExpiresAt = now.Add(ttl)
		rec.Version++
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("failed to renew lease: %w", err)
		}
		renewed = rec.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}

// Release marks the lease expired rather than deleting the row, preserving
// the version sequence for the next grant. Idempotent.
func (s *PostgresStore) Release(ctx context.Context, leaseID uuid.UUID) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.LeaseRecord{}).
		Where("lease_id = ? AND expires_at > ?", leaseID, now).
		Update("expires_at", now)

	if result.Error != nil {
		return false, fmt.Errorf("failed to release lease: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Get returns the live lease for a resource.
func (s *PostgresStore) Get(ctx context.Context, resourceID string) (*models.LeaseRecord, error) {
	var rec models.LeaseRecord
	result := s.db.WithContext(ctx).
		Where("resource_id = ? AND expires_at > ?", resourceID, time.Now()).
		First(&rec)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lease: %w", result.Error)
	}
	return &rec, nil
}

// List returns all live leases ordered by resource.
func (s *PostgresStore) List(ctx context.Context) ([]models.LeaseRecord, error) {
	var recs []models.LeaseRecord
	result := s.db.WithContext(ctx).
		Where("expires_at > ?", time.Now()).
		Order("resource_id asc").
		Find(&recs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list leases: %w", result.Error)
	}
	return recs, nil
}

// PurgeExpired hard-deletes rows that have been dead longer than retention.
func (s *PostgresStore) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := s.db.WithContext(ctx).
		Unscoped().
		Where("expires_at < ?", cutoff).
		Delete(&models.LeaseRecord{})

	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge expired leases: %w", result.Error)
	}
	return result.RowsAffected, nil
}
