package models

import (
	"time"

	"github.com/google/uuid"
)

// Disposition represents what the gate does with events matching a policy
type Disposition string

const (
	DispositionRequired Disposition = "required"
	DispositionSampled  Disposition = "sampled"
	DispositionDisabled Disposition = "disabled"
)

// WildcardCategory matches any event category within a policy scope
const WildcardCategory = "*"

// LoadSheddingPolicy controls admission of audit events per tenant and
// category. Tenant-specific rows take precedence over global rows
// (TenantID == nil); the wildcard category is the fallback within a scope.
type LoadSheddingPolicy struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	TenantID      *string     `json:"tenant_id,omitempty" db:"tenant_id"`
	EventCategory string      `json:"event_category" db:"event_category"`
	Disposition   Disposition `json:"disposition" db:"disposition"`
	SampleRate    float64     `json:"sample_rate" db:"sample_rate"`
	Enabled       bool        `json:"enabled" db:"enabled"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the LoadSheddingPolicy model
func (LoadSheddingPolicy) TableName() string {
	return "audit_policy"
}

// IsGlobal reports whether the policy applies to all tenants
func (p *LoadSheddingPolicy) IsGlobal() bool {
	return p.TenantID == nil
}

// DefaultPolicy returns the policy applied when no stored row matches:
// capture everything. Losing audit data silently is worse than over-capturing.
func DefaultPolicy() *LoadSheddingPolicy {
	return &LoadSheddingPolicy{
		EventCategory: WildcardCategory,
		Disposition:   DispositionRequired,
		SampleRate:    1.0,
		Enabled:       true,
	}
}
