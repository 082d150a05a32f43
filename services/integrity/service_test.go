package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/services/hashchain"
	"github.com/upb/audit-governance/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEventRepo serves a canned event range
type fakeEventRepo struct {
	events []*models.AuditEvent
	err    error
}

func (r *fakeEventRepo) InsertIdempotent(context.Context, *models.AuditEvent) (bool, error) {
	return false, nil
}

func (r *fakeEventRepo) ListByTenantRange(context.Context, string, time.Time, time.Time) ([]*models.AuditEvent, error) {
	return r.events, r.err
}

func (r *fakeEventRepo) LastEvent(context.Context, string) (*models.AuditEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) Query(context.Context, *models.EventQuery) ([]*models.AuditEvent, error) {
	return nil, nil
}

// fakeReportRepo stores persisted reports in memory
type fakeReportRepo struct {
	reports []*models.IntegrityReport
	err     error
}

func (r *fakeReportRepo) Insert(_ context.Context, report *models.IntegrityReport) error {
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *fakeReportRepo) GetByID(context.Context, uuid.UUID) (*models.IntegrityReport, error) {
	return nil, nil
}

func (r *fakeReportRepo) List(context.Context, int) ([]*models.IntegrityReport, error) {
	return r.reports, nil
}

func chainedEvents(chain *hashchain.Service, tenantID string, count int) []*models.AuditEvent {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]*models.AuditEvent, count)
	for i := range events {
		event := models.NewAuditEvent(tenantID, "step_completed", fmt.Sprintf("corr-%d", i), models.SeverityInfo)
		event.EventTimestamp = base.Add(time.Duration(i) * time.Second)
		event.HashPrev, event.HashCurr = chain.ComputeHash(tenantID, event)
		events[i] = event
	}
	return events
}

func newTestService(events *fakeEventRepo, reports *fakeReportRepo, store storage.ObjectStore) *Service {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	return NewService(events, reports, hashchain.NewService(zap.NewNop()), store, nil, zap.NewNop())
}

func TestVerifyTenantRange(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	t.Run("intact range passes and persists a report", func(t *testing.T) {
		builder := hashchain.NewService(zap.NewNop())
		events := &fakeEventRepo{events: chainedEvents(builder, "tenant-a", 4)}
		reports := &fakeReportRepo{}
		service := newTestService(events, reports, nil)

		report, err := service.VerifyTenantRange(ctx, "tenant-a", start, end, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusPassed, report.Status)
		assert.Equal(t, 4, report.EventsChecked)
		assert.Equal(t, "Verified 4 events", report.Message)
		assert.Equal(t, "admin-1", report.InitiatedBy)
		require.Len(t, reports.reports, 1)
		assert.Equal(t, report, reports.reports[0])
	})

	t.Run("tampered event produces a failed report with position", func(t *testing.T) {
		builder := hashchain.NewService(zap.NewNop())
		tampered := chainedEvents(builder, "tenant-a", 4)
		edit := "edited"
		tampered[1].Comment = &edit

		events := &fakeEventRepo{events: tampered}
		reports := &fakeReportRepo{}
		service := newTestService(events, reports, nil)

		report, err := service.VerifyTenantRange(ctx, "tenant-a", start, end, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailed, report.Status)
		require.NotNil(t, report.BrokenAtIndex)
		assert.Equal(t, 1, *report.BrokenAtIndex)
		require.NotNil(t, report.BrokenAtEventID)
		assert.Equal(t, tampered[1].ID, *report.BrokenAtEventID)
		assert.Equal(t, 2, report.EventsChecked)
		require.Len(t, reports.reports, 1)
	})

	t.Run("empty range passes with zero events", func(t *testing.T) {
		reports := &fakeReportRepo{}
		service := newTestService(&fakeEventRepo{}, reports, nil)

		report, err := service.VerifyTenantRange(ctx, "tenant-a", start, end, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusPassed, report.Status)
		assert.Equal(t, 0, report.EventsChecked)
		assert.Equal(t, "No events to verify", report.Message)
	})

	t.Run("store failure yields a failed report, not silence", func(t *testing.T) {
		events := &fakeEventRepo{err: fmt.Errorf("connection refused")}
		reports := &fakeReportRepo{}
		service := newTestService(events, reports, nil)

		report, err := service.VerifyTenantRange(ctx, "tenant-a", start, end, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailed, report.Status)
		assert.Contains(t, report.Message, "verification aborted")
		require.Len(t, reports.reports, 1)
	})

	t.Run("report persistence failure surfaces as an error", func(t *testing.T) {
		reports := &fakeReportRepo{err: fmt.Errorf("insert failed")}
		service := newTestService(&fakeEventRepo{}, reports, nil)

		_, err := service.VerifyTenantRange(ctx, "tenant-a", start, end, "admin-1")

		assert.Error(t, err)
	})
}

func TestVerifyExport(t *testing.T) {
	ctx := context.Background()

	putExport := func(t *testing.T, store *storage.MemoryStore, tenantID string, body []byte, checksum string) string {
		t.Helper()

		require.NoError(t, store.Put(ctx, "exports/tenant-a.ndjson", body))

		manifest, err := json.Marshal(ExportManifest{
			TenantID:   tenantID,
			Sha256:     checksum,
			NdjsonKey:  "exports/tenant-a.ndjson",
			EventCount: 3,
		})
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "manifests/tenant-a.json", manifest))
		return "manifests/tenant-a.json"
	}

	t.Run("matching checksum passes", func(t *testing.T) {
		store := storage.NewMemoryStore()
		body := []byte(`{"a":1}` + "\n" + `{"a":2}` + "\n")
		digest := sha256.Sum256(body)
		key := putExport(t, store, "tenant-a", body, hex.EncodeToString(digest[:]))

		reports := &fakeReportRepo{}
		service := newTestService(&fakeEventRepo{}, reports, store)

		report, err := service.VerifyExport(ctx, key, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusPassed, report.Status)
		assert.Equal(t, "tenant-a", report.TenantID)
		assert.Equal(t, 3, report.EventsChecked)
		require.Len(t, reports.reports, 1)
	})

	t.Run("checksum comparison ignores hex case", func(t *testing.T) {
		store := storage.NewMemoryStore()
		body := []byte(`{"a":1}` + "\n")
		digest := sha256.Sum256(body)
		upper := hex.EncodeToString(digest[:])
		key := putExport(t, store, "tenant-a", body, upper)

		service := newTestService(&fakeEventRepo{}, &fakeReportRepo{}, store)

		report, err := service.VerifyExport(ctx, key, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusPassed, report.Status)
	})

	t.Run("altered content fails with mismatch message", func(t *testing.T) {
		store := storage.NewMemoryStore()
		body := []byte(`{"a":1}` + "\n")
		key := putExport(t, store, "tenant-a", body, "0000000000000000000000000000000000000000000000000000000000000000")

		reports := &fakeReportRepo{}
		service := newTestService(&fakeEventRepo{}, reports, store)

		report, err := service.VerifyExport(ctx, key, "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailed, report.Status)
		assert.Contains(t, report.Message, "checksum mismatch")
		require.Len(t, reports.reports, 1)
	})

	t.Run("missing manifest fails with explicit message", func(t *testing.T) {
		reports := &fakeReportRepo{}
		service := newTestService(&fakeEventRepo{}, reports, storage.NewMemoryStore())

		report, err := service.VerifyExport(ctx, "manifests/nowhere.json", "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailed, report.Status)
		assert.Contains(t, report.Message, "manifest not found")
		require.Len(t, reports.reports, 1)
	})

	t.Run("missing export object fails with explicit message", func(t *testing.T) {
		store := storage.NewMemoryStore()
		manifest, err := json.Marshal(ExportManifest{
			TenantID:  "tenant-a",
			Sha256:    "abc",
			NdjsonKey: "exports/missing.ndjson",
		})
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, "manifests/tenant-a.json", manifest))

		service := newTestService(&fakeEventRepo{}, &fakeReportRepo{}, store)

		report, err := service.VerifyExport(ctx, "manifests/tenant-a.json", "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailed, report.Status)
		assert.Contains(t, report.Message, "export object not found")
	})

	t.Run("malformed manifest fails", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "manifests/bad.json", []byte("{not json")))

		service := newTestService(&fakeEventRepo{}, &fakeReportRepo{}, store)

		report, err := service.VerifyExport(ctx, "manifests/bad.json", "admin-1")

		require.NoError(t, err)
		assert.Equal(t, models.ReportStatusFailed, report.Status)
		assert.Contains(t, report.Message, "malformed manifest")
	})
}
