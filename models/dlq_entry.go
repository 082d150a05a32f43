package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DlqEntry is a dead-lettered audit event awaiting replay. Entries are
// produced by the external writer when persistence fails and are mutated
// only by the replay service, which marks them replayed whether or not the
// re-insert produced a fresh row: the goal is to stop retrying the entry,
// not to guarantee net-new writes.
type DlqEntry struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	LastError    *string         `json:"last_error,omitempty" db:"last_error"`
	AttemptCount int             `json:"attempt_count" db:"attempt_count"`
	DeadAt       time.Time       `json:"dead_at" db:"dead_at"`
	ReplayedAt   *time.Time      `json:"replayed_at,omitempty" db:"replayed_at"`
	ReplayedBy   *string         `json:"replayed_by,omitempty" db:"replayed_by"`
	ReplayCount  int             `json:"replay_count" db:"replay_count"`
}

// TableName returns the table name for the DlqEntry model
func (DlqEntry) TableName() string {
	return "audit_dlq"
}
