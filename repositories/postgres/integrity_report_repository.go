package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

const integrityReportColumns = `id, tenant_id, type, status, scope, broken_at_event_id,
	       broken_at_index, events_checked, message, initiated_by, created_at`

// IntegrityReportRepository implements the repositories.IntegrityReportRepository interface
type IntegrityReportRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewIntegrityReportRepository creates a new integrity report repository
func NewIntegrityReportRepository(db *DB, logger *zap.Logger) repositories.IntegrityReportRepository {
	return &IntegrityReportRepository{
		db:     db,
		logger: logger,
	}
}

// Insert persists a new integrity report. Reports are immutable once written.
func (r *IntegrityReportRepository) Insert(ctx context.Context, report *models.IntegrityReport) error {
	query := `
		INSERT INTO integrity_report (
			id, tenant_id, type, status, scope, broken_at_event_id,
			broken_at_index, events_checked, message, initiated_by, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		report.ID,
		report.TenantID,
		report.Type,
		report.Status,
		report.Scope,
		report.BrokenAtEventID,
		report.BrokenAtIndex,
		report.EventsChecked,
		report.Message,
		report.InitiatedBy,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert integrity report: %w", err)
	}

	r.logger.Debug("integrity report inserted",
		zap.String("id", report.ID.String()),
		zap.String("status", string(report.Status)))
	return nil
}

// GetByID retrieves an integrity report by ID
func (r *IntegrityReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IntegrityReport, error) {
	query := `
		SELECT ` + integrityReportColumns + `
		FROM integrity_report
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	report := &models.IntegrityReport{}
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&report.ID,
		&report.TenantID,
		&report.Type,
		&report.Status,
		&report.Scope,
		&report.BrokenAtEventID,
		&report.BrokenAtIndex,
		&report.EventsChecked,
		&report.Message,
		&report.InitiatedBy,
		&report.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get integrity report: %w", err)
	}

	return report, nil
}

// List retrieves the most recent integrity reports
func (r *IntegrityReportRepository) List(ctx context.Context, limit int) ([]*models.IntegrityReport, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + integrityReportColumns + `
		FROM integrity_report
		ORDER BY created_at DESC
		LIMIT $1
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrity reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.IntegrityReport
	for rows.Next() {
		report := &models.IntegrityReport{}
		err := rows.Scan(
			&report.ID,
			&report.TenantID,
			&report.Type,
			&report.Status,
			&report.Scope,
			&report.BrokenAtEventID,
			&report.BrokenAtIndex,
			&report.EventsChecked,
			&report.Message,
			&report.InitiatedBy,
			&report.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integrity report: %w", err)
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating integrity report rows: %w", err)
	}

	return reports, nil
}
