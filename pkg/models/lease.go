package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeaseKind categorizes the resource a lease protects. The category feeds
// policy and metrics; exclusivity is keyed by ResourceID alone.
type LeaseKind string

const (
	LeaseKindStream   LeaseKind = "STREAM"
	LeaseKindRecorder LeaseKind = "RECORDER"
	LeaseKindPipeline LeaseKind = "PIPELINE"
	LeaseKindAI       LeaseKind = "AI"
)

// ValidKind reports whether k is one of the known lease kinds.
func ValidKind(k LeaseKind) bool {
	switch k {
	case LeaseKindStream, LeaseKindRecorder, LeaseKindPipeline, LeaseKindAI:
		return true
	}
	return false
}

// LeaseRecord is the durable record of who holds a resource, until when,
// at what version. There is at most one row per resource; version only
// ever increases for a given resource.
type LeaseRecord struct {
	LeaseID    uuid.UUID      `json:"lease_id" gorm:"type:uuid;primaryKey"`
	ResourceID string         `json:"resource_id" gorm:"uniqueIndex;not null"`
	HolderID   string         `json:"holder_id" gorm:"not null"`
	Kind       LeaseKind      `json:"kind" gorm:"type:varchar(20);not null"`
	ExpiresAt  time.Time      `json:"expires_at" gorm:"not null;index"` // Index for the sweep
	Version    int64          `json:"version" gorm:"not null;default:1"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate hook to generate a lease ID if not present.
func (l *LeaseRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if l.LeaseID == uuid.Nil {
		l.LeaseID = uuid.New()
	}
	return
}

// Expired reports whether the lease is dead as of now. Expiry is evaluated
// lazily everywhere; a record past ExpiresAt is treated as absent.
func (l *LeaseRecord) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Clone returns a copy safe to hand to callers while the original stays
// under the store's lock.
func (l *LeaseRecord) Clone() *LeaseRecord {
	c := *l
	return &c
}
