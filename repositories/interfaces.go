package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/audit-governance/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// AuditEventRepository defines the interface for audit event storage.
// The event log is append-only: rows are inserted once and never updated.
type AuditEventRepository interface {
	// InsertIdempotent inserts an event, doing nothing if a row with the same
	// deduplication tuple (tenant, correlation, timestamp, type, actor)
	// already exists. Returns true when a fresh row was written.
	InsertIdempotent(ctx context.Context, event *models.AuditEvent) (bool, error)

	// ListByTenantRange returns all events for a tenant within [start, end],
	// ordered by event timestamp then insertion order. This is the
	// point-in-time snapshot used for chain verification.
	ListByTenantRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.AuditEvent, error)

	// LastEvent returns the most recent event for a tenant by chain order,
	// or ErrNotFound when the tenant has no events.
	LastEvent(ctx context.Context, tenantID string) (*models.AuditEvent, error)

	// Query returns events matching the (permission-merged) query
	Query(ctx context.Context, q *models.EventQuery) ([]*models.AuditEvent, error)
}

// PolicyRepository defines the interface for load shedding policy storage
type PolicyRepository interface {
	// ListForTenant returns all enabled policies visible to a tenant:
	// the tenant's own rows plus global (tenant IS NULL) rows.
	ListForTenant(ctx context.Context, tenantID string) ([]*models.LoadSheddingPolicy, error)
}

// IntegrityReportRepository defines the interface for integrity report storage
type IntegrityReportRepository interface {
	Insert(ctx context.Context, report *models.IntegrityReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrityReport, error)
	List(ctx context.Context, limit int) ([]*models.IntegrityReport, error)
}

// DlqRepository defines the interface for the audit dead-letter queue
type DlqRepository interface {
	// ListUnreplayed returns entries for a tenant that have not been replayed yet
	ListUnreplayed(ctx context.Context, tenantID string, limit int) ([]*models.DlqEntry, error)

	// MarkReplayed stamps an entry as replayed and increments its replay count
	MarkReplayed(ctx context.Context, id uuid.UUID, replayedBy string) error
}

// SecurityEventRepository defines the interface for audit-of-audit storage
type SecurityEventRepository interface {
	Insert(ctx context.Context, event *models.SecurityEvent) error
}

// Repositories holds all repository instances
type Repositories struct {
	AuditEvents      AuditEventRepository
	Policies         PolicyRepository
	IntegrityReports IntegrityReportRepository
	Dlq              DlqRepository
	SecurityEvents   SecurityEventRepository
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// TransactionManager manages database transactions
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}
