package postgres

import (
	"context"
	"fmt"

	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// ListForTenant returns all enabled policies visible to a tenant: the
// tenant's own rows plus global rows (tenant_id IS NULL). Resolution
// precedence is applied by the gate, not here.
func (r *PolicyRepository) ListForTenant(ctx context.Context, tenantID string) ([]*models.LoadSheddingPolicy, error) {
	query := `
		SELECT id, tenant_id, event_category, disposition, sample_rate, enabled, created_at, updated_at
		FROM audit_policy
		WHERE (tenant_id = $1 OR tenant_id IS NULL) AND enabled = true
		ORDER BY tenant_id NULLS LAST, event_category
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query load shedding policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.LoadSheddingPolicy
	for rows.Next() {
		policy := &models.LoadSheddingPolicy{}
		err := rows.Scan(
			&policy.ID,
			&policy.TenantID,
			&policy.EventCategory,
			&policy.Disposition,
			&policy.SampleRate,
			&policy.Enabled,
			&policy.CreatedAt,
			&policy.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan load shedding policy: %w", err)
		}
		policies = append(policies, policy)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy rows: %w", err)
	}

	r.logger.Debug("loaded policies for tenant",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(policies)))

	return policies, nil
}
