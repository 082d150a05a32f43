package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

// auditEventColumns is the column list shared by every SELECT against audit_event
const auditEventColumns = `id, tenant_id, instance_id, step_id, event_type, event_timestamp,
	       actor_user_id, severity, entity_type, entity_id, correlation_id, comment,
	       ip_address, user_agent, hash_prev, hash_curr, created_at`

// AuditEventRepository implements the repositories.AuditEventRepository interface
type AuditEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditEventRepository creates a new audit event repository
func NewAuditEventRepository(db *DB, logger *zap.Logger) repositories.AuditEventRepository {
	return &AuditEventRepository{
		db:     db,
		logger: logger,
	}
}

// InsertIdempotent inserts an event, relying on the partial unique index over
// the deduplication tuple: a conflicting row makes the insert a no-op.
// Returns true when a fresh row was written.
func (r *AuditEventRepository) InsertIdempotent(ctx context.Context, event *models.AuditEvent) (bool, error) {
	query := `
		INSERT INTO audit_event (
			id, tenant_id, instance_id, step_id, event_type, event_timestamp,
			actor_user_id, severity, entity_type, entity_id, correlation_id, comment,
			ip_address, user_agent, hash_prev, hash_curr, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.InstanceID,
		event.StepID,
		event.EventType,
		event.EventTimestamp,
		event.ActorUserID,
		event.Severity,
		event.EntityType,
		event.EntityID,
		event.CorrelationID,
		event.Comment,
		event.IPAddress,
		event.UserAgent,
		event.HashPrev,
		event.HashCurr,
		event.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert audit event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	inserted := rows > 0
	if inserted {
		r.logger.Debug("audit event inserted",
			zap.String("id", event.ID.String()),
			zap.String("tenant_id", event.TenantID),
			zap.String("event_type", event.EventType))
	} else {
		r.logger.Debug("audit event deduplicated",
			zap.String("tenant_id", event.TenantID),
			zap.String("correlation_id", event.CorrelationID))
	}
	return inserted, nil
}

// ListByTenantRange returns the ordered point-in-time snapshot used for
// chain verification: events within [start, end] ordered by event timestamp
// then insertion order.
func (r *AuditEventRepository) ListByTenantRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.AuditEvent, error) {
	query := `
		SELECT ` + auditEventColumns + `
		FROM audit_event
		WHERE tenant_id = $1 AND event_timestamp >= $2 AND event_timestamp <= $3
		ORDER BY event_timestamp ASC, created_at ASC
	`

	return r.queryEvents(ctx, query, tenantID, start, end)
}

// LastEvent returns the chain tip for a tenant: the most recent event by
// event timestamp then insertion order.
func (r *AuditEventRepository) LastEvent(ctx context.Context, tenantID string) (*models.AuditEvent, error) {
	query := `
		SELECT ` + auditEventColumns + `
		FROM audit_event
		WHERE tenant_id = $1
		ORDER BY event_timestamp DESC, created_at DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	event := &models.AuditEvent{}
	err := scanEvent(executor.QueryRowContext(ctx, query, tenantID), event)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last audit event: %w", err)
	}
	return event, nil
}

// Query returns events matching the permission-merged query, newest first
func (r *AuditEventRepository) Query(ctx context.Context, q *models.EventQuery) ([]*models.AuditEvent, error) {
	var (
		conditions = []string{"tenant_id = $1"}
		args       = []interface{}{q.TenantID}
	)

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, clause+" $"+strconv.Itoa(len(args)))
	}

	if q.EventType != nil {
		addCondition("event_type =", *q.EventType)
	}
	if q.Severity != nil {
		addCondition("severity =", *q.Severity)
	}
	if q.ActorUserID != nil {
		addCondition("actor_user_id =", *q.ActorUserID)
	}
	if q.StartDate != nil {
		addCondition("event_timestamp >=", *q.StartDate)
	}
	if q.EndDate != nil {
		addCondition("event_timestamp <=", *q.EndDate)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)

	query := `
		SELECT ` + auditEventColumns + `
		FROM audit_event
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY event_timestamp DESC, created_at DESC
		LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	return r.queryEvents(ctx, query, args...)
}

// queryEvents is a helper method to query multiple audit events
func (r *AuditEventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.AuditEvent, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		if err := scanEvent(rows, event); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit event rows: %w", err)
	}

	return events, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEvent
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner, event *models.AuditEvent) error {
	return row.Scan(
		&event.ID,
		&event.TenantID,
		&event.InstanceID,
		&event.StepID,
		&event.EventType,
		&event.EventTimestamp,
		&event.ActorUserID,
		&event.Severity,
		&event.EntityType,
		&event.EntityID,
		&event.CorrelationID,
		&event.Comment,
		&event.IPAddress,
		&event.UserAgent,
		&event.HashPrev,
		&event.HashCurr,
		&event.CreatedAt,
	)
}
