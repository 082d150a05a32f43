package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

// DlqRepository implements the repositories.DlqRepository interface
type DlqRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDlqRepository creates a new dead-letter queue repository
func NewDlqRepository(db *DB, logger *zap.Logger) repositories.DlqRepository {
	return &DlqRepository{
		db:     db,
		logger: logger,
	}
}

// ListUnreplayed returns entries for a tenant that have not been replayed yet,
// oldest first so replay preserves the original arrival order.
func (r *DlqRepository) ListUnreplayed(ctx context.Context, tenantID string, limit int) ([]*models.DlqEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, tenant_id, payload, last_error, attempt_count, dead_at,
		       replayed_at, replayed_by, replay_count
		FROM audit_dlq
		WHERE tenant_id = $1 AND replayed_at IS NULL
		ORDER BY dead_at ASC
		LIMIT $2
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.DlqEntry
	for rows.Next() {
		entry := &models.DlqEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.Payload,
			&entry.LastError,
			&entry.AttemptCount,
			&entry.DeadAt,
			&entry.ReplayedAt,
			&entry.ReplayedBy,
			&entry.ReplayCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dlq entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dlq rows: %w", err)
	}

	return entries, nil
}

// MarkReplayed stamps an entry as replayed and increments its replay count
func (r *DlqRepository) MarkReplayed(ctx context.Context, id uuid.UUID, replayedBy string) error {
	query := `
		UPDATE audit_dlq
		SET replayed_at = CURRENT_TIMESTAMP, replayed_by = $2, replay_count = replay_count + 1
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, replayedBy)
	if err != nil {
		return fmt.Errorf("failed to mark dlq entry replayed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("dlq entry marked replayed",
		zap.String("id", id.String()),
		zap.String("replayed_by", replayedBy))
	return nil
}
