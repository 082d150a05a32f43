package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SecurityEventType represents the kind of security event being recorded
type SecurityEventType string

const (
	SecurityEventAuditAccess     SecurityEventType = "audit_access"
	SecurityEventReplayCompleted SecurityEventType = "audit_replay_completed"
	SecurityEventEmergencyToggle SecurityEventType = "emergency_mode_toggled"
)

// SecurityEvent is an audit-of-audit record: access to the audit log itself,
// replay completions, and emergency-mode toggles are recorded here so there
// is oversight of who viewed or rebuilt sensitive history. Writing these is
// best-effort and must never block the primary operation.
type SecurityEvent struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	TenantID    string            `json:"tenant_id" db:"tenant_id"`
	EventType   SecurityEventType `json:"event_type" db:"event_type"`
	ActorUserID *string           `json:"actor_user_id,omitempty" db:"actor_user_id"`
	Details     json.RawMessage   `json:"details,omitempty" db:"details"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the SecurityEvent model
func (SecurityEvent) TableName() string {
	return "security_event"
}

// NewSecurityEvent creates a new SecurityEvent instance
func NewSecurityEvent(tenantID string, eventType SecurityEventType) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
	}
}

// WithActor sets the acting user
func (s *SecurityEvent) WithActor(userID string) *SecurityEvent {
	s.ActorUserID = &userID
	return s
}

// WithDetails sets the details payload
func (s *SecurityEvent) WithDetails(details interface{}) *SecurityEvent {
	if data, err := json.Marshal(details); err == nil {
		s.Details = data
	}
	return s
}
