package postgres

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/upb/audit-governance/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var policyColumns = []string{
	"id", "tenant_id", "event_category", "disposition", "sample_rate", "enabled", "created_at", "updated_at",
}

func policyRow(policy *models.LoadSheddingPolicy) []driver.Value {
	var tenantID driver.Value
	if policy.TenantID != nil {
		tenantID = *policy.TenantID
	}
	return []driver.Value{
		policy.ID.String(), tenantID, policy.EventCategory, string(policy.Disposition),
		policy.SampleRate, policy.Enabled, policy.CreatedAt, policy.UpdatedAt,
	}
}

func TestPolicyRepositoryListForTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("returns tenant and global rows", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyRepository(db, zap.NewNop())

		tenant := "tenant-a"
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		tenantPolicy := models.DefaultPolicy()
		tenantPolicy.TenantID = &tenant
		tenantPolicy.EventCategory = "workflow"
		tenantPolicy.CreatedAt, tenantPolicy.UpdatedAt = now, now

		globalPolicy := models.DefaultPolicy()
		globalPolicy.CreatedAt, globalPolicy.UpdatedAt = now, now

		mock.ExpectQuery("FROM audit_policy").
			WithArgs("tenant-a").
			WillReturnRows(sqlmock.NewRows(policyColumns).
				AddRow(policyRow(tenantPolicy)...).
				AddRow(policyRow(globalPolicy)...))

		policies, err := repo.ListForTenant(ctx, "tenant-a")

		require.NoError(t, err)
		require.Len(t, policies, 2)
		require.NotNil(t, policies[0].TenantID)
		assert.Equal(t, "tenant-a", *policies[0].TenantID)
		assert.Equal(t, "workflow", policies[0].EventCategory)
		assert.Nil(t, policies[1].TenantID, "global rows carry a NULL tenant")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows yields an empty slice", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyRepository(db, zap.NewNop())

		mock.ExpectQuery("FROM audit_policy").
			WithArgs("tenant-empty").
			WillReturnRows(sqlmock.NewRows(policyColumns))

		policies, err := repo.ListForTenant(ctx, "tenant-empty")

		require.NoError(t, err)
		assert.Empty(t, policies)
	})

	t.Run("query failure surfaces as an error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPolicyRepository(db, zap.NewNop())

		mock.ExpectQuery("FROM audit_policy").
			WillReturnError(assert.AnError)

		_, err := repo.ListForTenant(ctx, "tenant-a")

		assert.Error(t, err)
	})
}
