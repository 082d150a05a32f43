package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsValid reports whether the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// AuditEvent represents one immutable record per audited action.
// Events are hash-chained per tenant: HashCurr is the digest of HashPrev
// concatenated with the canonical serialization of the event fields, so
// retroactive tampering breaks the chain from that point forward.
type AuditEvent struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	InstanceID     *string    `json:"instance_id,omitempty" db:"instance_id"`
	StepID         *string    `json:"step_id,omitempty" db:"step_id"`
	EventType      string     `json:"event_type" db:"event_type"`
	EventTimestamp time.Time  `json:"event_timestamp" db:"event_timestamp"`
	ActorUserID    *string    `json:"actor_user_id,omitempty" db:"actor_user_id"`
	Severity       Severity   `json:"severity" db:"severity"`
	EntityType     *string    `json:"entity_type,omitempty" db:"entity_type"`
	EntityID       *string    `json:"entity_id,omitempty" db:"entity_id"`
	CorrelationID  string     `json:"correlation_id" db:"correlation_id"`
	Comment        *string    `json:"comment,omitempty" db:"comment"`
	IPAddress      *string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      *string    `json:"user_agent,omitempty" db:"user_agent"`
	HashPrev       string     `json:"hash_prev" db:"hash_prev"`
	HashCurr       string     `json:"hash_curr" db:"hash_curr"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the AuditEvent model
func (AuditEvent) TableName() string {
	return "audit_event"
}

// NewAuditEvent creates a new AuditEvent instance
func NewAuditEvent(tenantID, eventType, correlationID string, severity Severity) *AuditEvent {
	return &AuditEvent{
		ID:             uuid.New(),
		TenantID:       tenantID,
		EventType:      eventType,
		CorrelationID:  correlationID,
		Severity:       severity,
		EventTimestamp: time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
}

// WithActor sets the acting user
func (e *AuditEvent) WithActor(userID string) *AuditEvent {
	e.ActorUserID = &userID
	return e
}

// WithEntity sets the affected entity
func (e *AuditEvent) WithEntity(entityType, entityID string) *AuditEvent {
	e.EntityType = &entityType
	e.EntityID = &entityID
	return e
}

// WithInstance sets the workflow instance and step identifiers
func (e *AuditEvent) WithInstance(instanceID, stepID string) *AuditEvent {
	e.InstanceID = &instanceID
	e.StepID = &stepID
	return e
}

// WithComment sets a free-form comment
func (e *AuditEvent) WithComment(comment string) *AuditEvent {
	e.Comment = &comment
	return e
}

// WithRequest sets request metadata
func (e *AuditEvent) WithRequest(ipAddress, userAgent string) *AuditEvent {
	e.IPAddress = &ipAddress
	e.UserAgent = &userAgent
	return e
}

// EventQuery represents a read query against the stored event log.
// Filters are merged with the caller's permission before execution:
// enforced values always win over caller-supplied ones.
type EventQuery struct {
	TenantID    string
	EventType   *string
	Severity    *Severity
	ActorUserID *string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}
