package models

import (
	"time"

	"github.com/google/uuid"
)

// ReportType represents the kind of integrity verification performed
type ReportType string

const (
	ReportTypeRange  ReportType = "range"
	ReportTypeExport ReportType = "export"
)

// ReportStatus represents the outcome of a verification run
type ReportStatus string

const (
	ReportStatusPassed ReportStatus = "passed"
	ReportStatusFailed ReportStatus = "failed"
)

// IntegrityReport records the outcome of a hash-chain or export verification
// run. Reports are immutable once written and readable by administrators only.
// A detected mismatch is the intended positive signal of the system, so the
// broken position is recorded precisely for investigation.
type IntegrityReport struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	TenantID        string       `json:"tenant_id" db:"tenant_id"`
	Type            ReportType   `json:"type" db:"type"`
	Status          ReportStatus `json:"status" db:"status"`
	Scope           string       `json:"scope" db:"scope"`
	BrokenAtEventID *uuid.UUID   `json:"broken_at_event_id,omitempty" db:"broken_at_event_id"`
	BrokenAtIndex   *int         `json:"broken_at_index,omitempty" db:"broken_at_index"`
	EventsChecked   int          `json:"events_checked" db:"events_checked"`
	Message         string       `json:"message" db:"message"`
	InitiatedBy     string       `json:"initiated_by" db:"initiated_by"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the IntegrityReport model
func (IntegrityReport) TableName() string {
	return "integrity_report"
}

// NewIntegrityReport creates a new IntegrityReport instance
func NewIntegrityReport(tenantID string, reportType ReportType, initiatedBy string) *IntegrityReport {
	return &IntegrityReport{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Type:        reportType,
		InitiatedBy: initiatedBy,
		CreatedAt:   time.Now().UTC(),
	}
}
