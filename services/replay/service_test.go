package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/services/hashchain"
	"github.com/upb/audit-governance/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEventRepo deduplicates on the event tuple, like the real constraint
type fakeEventRepo struct {
	seen      map[string]bool
	inOrder   []*models.AuditEvent
	insertErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{seen: make(map[string]bool)}
}

func dedupKey(e *models.AuditEvent) string {
	actor := ""
	if e.ActorUserID != nil {
		actor = *e.ActorUserID
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		e.TenantID, e.CorrelationID, e.EventTimestamp.UTC().Format(time.RFC3339Nano), e.EventType, actor)
}

func (r *fakeEventRepo) InsertIdempotent(_ context.Context, event *models.AuditEvent) (bool, error) {
	if r.insertErr != nil {
		return false, r.insertErr
	}
	key := dedupKey(event)
	if r.seen[key] {
		return false, nil
	}
	r.seen[key] = true
	r.inOrder = append(r.inOrder, event)
	return true, nil
}

func (r *fakeEventRepo) ListByTenantRange(context.Context, string, time.Time, time.Time) ([]*models.AuditEvent, error) {
	return r.inOrder, nil
}

func (r *fakeEventRepo) LastEvent(context.Context, string) (*models.AuditEvent, error) {
	if len(r.inOrder) == 0 {
		return nil, repositories.ErrNotFound
	}
	return r.inOrder[len(r.inOrder)-1], nil
}

func (r *fakeEventRepo) Query(context.Context, *models.EventQuery) ([]*models.AuditEvent, error) {
	return nil, nil
}

// fakeDlqRepo serves canned entries and records replay marks
type fakeDlqRepo struct {
	entries  []*models.DlqEntry
	replayed map[uuid.UUID]string
	markErr  error
}

func newFakeDlqRepo(entries ...*models.DlqEntry) *fakeDlqRepo {
	return &fakeDlqRepo{entries: entries, replayed: make(map[uuid.UUID]string)}
}

func (r *fakeDlqRepo) ListUnreplayed(context.Context, string, int) ([]*models.DlqEntry, error) {
	return r.entries, nil
}

func (r *fakeDlqRepo) MarkReplayed(_ context.Context, id uuid.UUID, replayedBy string) error {
	if r.markErr != nil {
		return r.markErr
	}
	r.replayed[id] = replayedBy
	return nil
}

// fakeTxManager runs the function directly, without a real transaction
type fakeTxManager struct {
	calls int
}

func (m *fakeTxManager) Begin(context.Context) (repositories.Transaction, error) {
	return nil, fmt.Errorf("not used")
}

func (m *fakeTxManager) InTransaction(ctx context.Context, fn func(context.Context, repositories.Transaction) error) error {
	m.calls++
	return fn(ctx, nil)
}

// fakeSecurityRepo swallows security events
type fakeSecurityRepo struct{}

func (fakeSecurityRepo) Insert(context.Context, *models.SecurityEvent) error { return nil }

func testEvents(tenantID string, count int) []*models.AuditEvent {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := make([]*models.AuditEvent, count)
	for i := range events {
		event := models.NewAuditEvent(tenantID, "step_completed", fmt.Sprintf("corr-%d", i), models.SeverityInfo)
		event.EventTimestamp = base.Add(time.Duration(i) * time.Second)
		event.HashPrev = hashchain.GenesisHash
		event.HashCurr = fmt.Sprintf("%064d", i)
		events[i] = event
	}
	return events
}

func ndjsonBody(t *testing.T, events []*models.AuditEvent) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, event := range events {
		line, err := json.Marshal(event)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func newTestService(events *fakeEventRepo, dlq *fakeDlqRepo, store storage.ObjectStore) (*Service, *hashchain.Service) {
	chain := hashchain.NewService(zap.NewNop())
	if dlq == nil {
		dlq = newFakeDlqRepo()
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	service := NewService(events, dlq, fakeSecurityRepo{}, &fakeTxManager{}, chain, store, 500, 0, zap.NewNop())
	return service, chain
}

func TestReplayFromNdjson(t *testing.T) {
	ctx := context.Background()

	t.Run("first replay inserts everything and rebuilds the chain", func(t *testing.T) {
		events := testEvents("tenant-a", 3)
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "exports/a.ndjson", ndjsonBody(t, events)))

		repo := newFakeEventRepo()
		service, chain := newTestService(repo, nil, store)

		result, err := service.ReplayFromNdjson(ctx, NdjsonRequest{
			TenantID:   "tenant-a",
			NdjsonKey:  "exports/a.ndjson",
			ReplayedBy: "admin-1",
		})

		require.NoError(t, err)
		assert.Equal(t, 3, result.Inserted)
		assert.Equal(t, 0, result.Duplicates)
		assert.Equal(t, 0, result.Errors)
		assert.Equal(t, 3, result.Total)
		assert.Equal(t, events[2].HashCurr, chain.Tip("tenant-a"), "tip reseeds from the last persisted event")
	})

	t.Run("second replay is a no-op with duplicate counts", func(t *testing.T) {
		events := testEvents("tenant-a", 3)
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "exports/a.ndjson", ndjsonBody(t, events)))

		repo := newFakeEventRepo()
		service, chain := newTestService(repo, nil, store)

		_, err := service.ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})
		require.NoError(t, err)

		// A rebuild after the duplicate-only run would pick this up
		repo.inOrder[len(repo.inOrder)-1].HashCurr = "sentinel-tip"

		result, err := service.ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})

		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 3, result.Duplicates)
		assert.Equal(t, 3, result.Total)
		assert.NotEqual(t, "sentinel-tip", chain.Tip("tenant-a"), "duplicate-only replay must not rebuild the chain")
	})

	t.Run("malformed lines are counted and skipped", func(t *testing.T) {
		events := testEvents("tenant-a", 2)
		body := ndjsonBody(t, events)
		body = append(body, []byte("{broken json\n")...)
		body = append(body, '\n') // blank lines are ignored entirely

		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "exports/a.ndjson", body))

		service, _ := newTestService(newFakeEventRepo(), nil, store)

		result, err := service.ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Inserted)
		assert.Equal(t, 1, result.Errors)
		assert.Equal(t, 3, result.Total)
	})

	t.Run("insert failures are isolated per line", func(t *testing.T) {
		events := testEvents("tenant-a", 3)
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "exports/a.ndjson", ndjsonBody(t, events)))

		repo := newFakeEventRepo()
		repo.insertErr = fmt.Errorf("disk full")
		service, _ := newTestService(repo, nil, store)

		result, err := service.ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})

		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 3, result.Errors)
		assert.Equal(t, 3, result.Total)
	})

	t.Run("missing export object is an error", func(t *testing.T) {
		service, _ := newTestService(newFakeEventRepo(), nil, nil)

		_, err := service.ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/nowhere.ndjson"})

		assert.Error(t, err)
	})

	t.Run("progress fires per batch with running counters", func(t *testing.T) {
		events := testEvents("tenant-a", 5)
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "exports/a.ndjson", ndjsonBody(t, events)))

		service, _ := newTestService(newFakeEventRepo(), nil, store)

		var totals []int
		_, err := service.ReplayFromNdjson(ctx, NdjsonRequest{
			TenantID:  "tenant-a",
			NdjsonKey: "exports/a.ndjson",
			BatchSize: 2,
			OnProgress: func(r Result) {
				totals = append(totals, r.Total)
			},
		})

		require.NoError(t, err)
		assert.Equal(t, []int{2, 4, 5}, totals)
	})

	t.Run("cancellation stops between lines", func(t *testing.T) {
		events := testEvents("tenant-a", 3)
		store := storage.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "exports/a.ndjson", ndjsonBody(t, events)))

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		service, _ := newTestService(newFakeEventRepo(), nil, store)

		result, err := service.ReplayFromNdjson(cancelled, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, result.Total)
	})
}

func TestReplayFromDlq(t *testing.T) {
	ctx := context.Background()

	dlqEntry := func(t *testing.T, event *models.AuditEvent) *models.DlqEntry {
		t.Helper()

		payload, err := json.Marshal(event)
		require.NoError(t, err)
		return &models.DlqEntry{
			ID:       uuid.New(),
			TenantID: event.TenantID,
			Payload:  payload,
			DeadAt:   time.Now().UTC(),
		}
	}

	t.Run("replays entries and marks them replayed", func(t *testing.T) {
		events := testEvents("tenant-a", 2)
		dlq := newFakeDlqRepo(dlqEntry(t, events[0]), dlqEntry(t, events[1]))
		service, chain := newTestService(newFakeEventRepo(), dlq, nil)

		result, err := service.ReplayFromDlq(ctx, DlqRequest{TenantID: "tenant-a", ReplayedBy: "admin-1"})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Inserted)
		assert.Len(t, dlq.replayed, 2)
		for _, by := range dlq.replayed {
			assert.Equal(t, "admin-1", by)
		}
		assert.Equal(t, events[1].HashCurr, chain.Tip("tenant-a"))
	})

	t.Run("duplicates are still marked replayed", func(t *testing.T) {
		events := testEvents("tenant-a", 1)
		repo := newFakeEventRepo()
		_, err := repo.InsertIdempotent(ctx, events[0])
		require.NoError(t, err)

		entry := dlqEntry(t, events[0])
		dlq := newFakeDlqRepo(entry)
		service, _ := newTestService(repo, dlq, nil)

		result, err := service.ReplayFromDlq(ctx, DlqRequest{TenantID: "tenant-a", ReplayedBy: "admin-1"})

		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 1, result.Duplicates)
		assert.Contains(t, dlq.replayed, entry.ID, "duplicate entries must stop being retried")
	})

	t.Run("insert and mark share one transaction", func(t *testing.T) {
		events := testEvents("tenant-a", 2)
		dlq := newFakeDlqRepo(dlqEntry(t, events[0]), dlqEntry(t, events[1]))
		tm := &fakeTxManager{}
		chain := hashchain.NewService(zap.NewNop())
		service := NewService(newFakeEventRepo(), dlq, fakeSecurityRepo{}, tm, chain, storage.NewMemoryStore(), 500, 0, zap.NewNop())

		result, err := service.ReplayFromDlq(ctx, DlqRequest{TenantID: "tenant-a", ReplayedBy: "admin-1"})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Inserted)
		assert.Equal(t, 2, tm.calls, "one transaction per entry")
	})

	t.Run("mark failure counts as an error and leaves the entry dead", func(t *testing.T) {
		events := testEvents("tenant-a", 1)
		entry := dlqEntry(t, events[0])
		dlq := newFakeDlqRepo(entry)
		dlq.markErr = fmt.Errorf("dlq store down")
		service, _ := newTestService(newFakeEventRepo(), dlq, nil)

		result, err := service.ReplayFromDlq(ctx, DlqRequest{TenantID: "tenant-a", ReplayedBy: "admin-1"})

		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 1, result.Errors)
		assert.NotContains(t, dlq.replayed, entry.ID)
	})

	t.Run("malformed payloads are not marked replayed", func(t *testing.T) {
		entry := &models.DlqEntry{
			ID:       uuid.New(),
			TenantID: "tenant-a",
			Payload:  json.RawMessage("{broken"),
			DeadAt:   time.Now().UTC(),
		}
		dlq := newFakeDlqRepo(entry)
		service, _ := newTestService(newFakeEventRepo(), dlq, nil)

		result, err := service.ReplayFromDlq(ctx, DlqRequest{TenantID: "tenant-a"})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Errors)
		assert.NotContains(t, dlq.replayed, entry.ID)
	})

	t.Run("duplicate-only run skips the chain rebuild", func(t *testing.T) {
		events := testEvents("tenant-a", 1)
		repo := newFakeEventRepo()
		_, err := repo.InsertIdempotent(ctx, events[0])
		require.NoError(t, err)

		dlq := newFakeDlqRepo(dlqEntry(t, events[0]))
		service, chain := newTestService(repo, dlq, nil)

		repo.inOrder[0].HashCurr = "sentinel-tip"

		_, err = service.ReplayFromDlq(ctx, DlqRequest{TenantID: "tenant-a"})

		require.NoError(t, err)
		assert.NotEqual(t, "sentinel-tip", chain.Tip("tenant-a"))
	})
}

// deadlineStore records whether Get ran under a context deadline
type deadlineStore struct {
	inner       storage.ObjectStore
	sawDeadline bool
}

func (s *deadlineStore) Get(ctx context.Context, key string) ([]byte, error) {
	_, s.sawDeadline = ctx.Deadline()
	return s.inner.Get(ctx, key)
}

func TestOperationTimeout(t *testing.T) {
	ctx := context.Background()

	newService := func(store storage.ObjectStore, opTimeout time.Duration) *Service {
		chain := hashchain.NewService(zap.NewNop())
		return NewService(newFakeEventRepo(), newFakeDlqRepo(), fakeSecurityRepo{}, &fakeTxManager{}, chain, store, 500, opTimeout, zap.NewNop())
	}

	t.Run("configured timeout bounds the export fetch", func(t *testing.T) {
		backing := storage.NewMemoryStore()
		require.NoError(t, backing.Put(ctx, "exports/a.ndjson", ndjsonBody(t, testEvents("tenant-a", 1))))
		store := &deadlineStore{inner: backing}

		_, err := newService(store, time.Minute).ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})

		require.NoError(t, err)
		assert.True(t, store.sawDeadline)
	})

	t.Run("zero timeout leaves the context unbounded", func(t *testing.T) {
		backing := storage.NewMemoryStore()
		require.NoError(t, backing.Put(ctx, "exports/a.ndjson", ndjsonBody(t, testEvents("tenant-a", 1))))
		store := &deadlineStore{inner: backing}

		_, err := newService(store, 0).ReplayFromNdjson(ctx, NdjsonRequest{TenantID: "tenant-a", NdjsonKey: "exports/a.ndjson"})

		require.NoError(t, err)
		assert.False(t, store.sawDeadline)
	})
}
