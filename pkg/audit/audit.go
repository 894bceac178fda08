package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action identifies what happened to a lease.
type Action string

const (
	ActionGranted  Action = "granted"
	ActionDenied   Action = "denied"
	ActionRenewed  Action = "renewed"
	ActionReleased Action = "released"
	ActionPurged   Action = "purged"
)

// Event is one entry in the lease audit trail. The trail answers "which
// node held cam-X at 14:32" during incident review; correctness of the
// coordinator never depends on it.
type Event struct {
	Time       time.Time `json:"time"`
	Action     Action    `json:"action"`
	ResourceID string    `json:"resource_id"`
	HolderID   string    `json:"holder_id,omitempty"`
	LeaseID    uuid.UUID `json:"lease_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Version    int64     `json:"version,omitempty"`
	NodeID     string    `json:"node_id"`
	Term       uint64    `json:"term"`
}

// Recorder accepts audit events. Record must be cheap and non-blocking;
// shipping happens out of band.
type Recorder interface {
	Record(e Event)
}

// NopRecorder drops everything. Used when auditing is not configured.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
