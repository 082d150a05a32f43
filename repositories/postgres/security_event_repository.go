package postgres

import (
	"context"
	"fmt"

	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

// SecurityEventRepository implements the repositories.SecurityEventRepository interface
type SecurityEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB, logger *zap.Logger) repositories.SecurityEventRepository {
	return &SecurityEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new security event
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_event (id, tenant_id, event_type, actor_user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.EventType,
		event.ActorUserID,
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	r.logger.Debug("security event inserted",
		zap.String("id", event.ID.String()),
		zap.String("event_type", string(event.EventType)))
	return nil
}
