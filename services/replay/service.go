// Package replay idempotently re-inserts audit events from NDJSON exports
// or the dead-letter queue. Inserts rely on the storage-layer dedup
// constraint, so replaying the same source twice has no additional effect;
// a successful replay ends with a hash chain rebuild for the tenant.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/services/hashchain"
	"github.com/upb/audit-governance/storage"
	"go.uber.org/zap"
)

// maxLineBytes bounds a single NDJSON line
const maxLineBytes = 5 * 1024 * 1024

// Result holds the running counters of a replay run
type Result struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Total      int `json:"total"`
}

// NdjsonRequest describes a replay from an exported NDJSON object
type NdjsonRequest struct {
	TenantID   string
	NdjsonKey  string
	ReplayedBy string
	BatchSize  int
	OnProgress func(Result)
}

// DlqRequest describes a replay of dead-lettered entries
type DlqRequest struct {
	TenantID   string
	ReplayedBy string
	Limit      int
	BatchSize  int
	OnProgress func(Result)
}

// Service re-inserts events and rebuilds the chain afterwards
type Service struct {
	events           repositories.AuditEventRepository
	dlq              repositories.DlqRepository
	securityEvents   repositories.SecurityEventRepository
	tx               repositories.TransactionManager
	chain            *hashchain.Service
	store            storage.ObjectStore
	defaultBatchSize int
	opTimeout        time.Duration
	logger           *zap.Logger
}

// NewService creates a new replay service. opTimeout bounds each single
// object-storage or database call; zero disables the bound.
func NewService(
	events repositories.AuditEventRepository,
	dlq repositories.DlqRepository,
	securityEvents repositories.SecurityEventRepository,
	tx repositories.TransactionManager,
	chain *hashchain.Service,
	store storage.ObjectStore,
	defaultBatchSize int,
	opTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		events:           events,
		dlq:              dlq,
		securityEvents:   securityEvents,
		tx:               tx,
		chain:            chain,
		store:            store,
		defaultBatchSize: defaultBatchSize,
		opTimeout:        opTimeout,
		logger:           logger,
	}
}

// opCtx bounds a single backing call when an operation timeout is configured
func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// ReplayFromNdjson fetches an export and re-inserts its events one JSON
// object per line. A parse or insert error for one line increments the
// error counter without aborting the batch. OnProgress fires after each
// batch with the running counters.
func (s *Service) ReplayFromNdjson(ctx context.Context, req NdjsonRequest) (*Result, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.defaultBatchSize
	}

	getCtx, cancel := s.opCtx(ctx)
	body, err := s.store.Get(getCtx, req.NdjsonKey)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch export %s: %w", req.NdjsonKey, err)
	}

	result := &Result{}
	inBatch := 0

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		// Only fully-committed inserts count; stop cleanly on cancellation
		if err := ctx.Err(); err != nil {
			return result, err
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		result.Total++
		inBatch++

		var event models.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			result.Errors++
			s.logger.Warn("skipping malformed export line",
				zap.Int("line", result.Total),
				zap.Error(err))
		} else {
			s.insertOne(ctx, &event, result)
		}

		if inBatch >= batchSize {
			inBatch = 0
			if req.OnProgress != nil {
				req.OnProgress(*result)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to scan export: %w", err)
	}
	if inBatch > 0 && req.OnProgress != nil {
		req.OnProgress(*result)
	}

	if err := s.rebuildChain(ctx, req.TenantID, result); err != nil {
		return result, err
	}

	s.logReplayCompleted(req.TenantID, req.ReplayedBy, "ndjson", req.NdjsonKey, *result)
	s.logger.Info("ndjson replay completed",
		zap.String("tenant_id", req.TenantID),
		zap.String("ndjson_key", req.NdjsonKey),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("errors", result.Errors),
		zap.Int("total", result.Total))

	return result, nil
}

// ReplayFromDlq re-inserts unreplayed dead-letter entries. Every entry whose
// insert succeeds, fresh row or duplicate, is marked replayed in the same
// transaction as the insert: the goal is to stop retrying the entry, not to
// guarantee net-new writes.
func (s *Service) ReplayFromDlq(ctx context.Context, req DlqRequest) (*Result, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.defaultBatchSize
	}

	listCtx, cancel := s.opCtx(ctx)
	entries, err := s.dlq.ListUnreplayed(listCtx, req.TenantID, req.Limit)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to list dlq entries: %w", err)
	}

	result := &Result{}
	inBatch := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Total++
		inBatch++
		s.replayEntry(ctx, entry, req.ReplayedBy, result)

		if inBatch >= batchSize {
			inBatch = 0
			if req.OnProgress != nil {
				req.OnProgress(*result)
			}
		}
	}
	if inBatch > 0 && req.OnProgress != nil {
		req.OnProgress(*result)
	}

	if err := s.rebuildChain(ctx, req.TenantID, result); err != nil {
		return result, err
	}

	s.logReplayCompleted(req.TenantID, req.ReplayedBy, "dlq", "", *result)
	s.logger.Info("dlq replay completed",
		zap.String("tenant_id", req.TenantID),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("errors", result.Errors),
		zap.Int("total", result.Total))

	return result, nil
}

// replayEntry re-inserts one dead-letter entry and marks it replayed in the
// same transaction, so an entry is never stamped without its event landing
// and never left half-done. A landed insert, fresh row or duplicate, counts;
// any transaction failure counts as an error and leaves the entry unreplayed.
func (s *Service) replayEntry(ctx context.Context, entry *models.DlqEntry, replayedBy string, result *Result) {
	var event models.AuditEvent
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		result.Errors++
		s.logger.Warn("skipping malformed dlq payload",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err))
		return
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var inserted bool
	err := s.tx.InTransaction(opCtx, func(txCtx context.Context, _ repositories.Transaction) error {
		var err error
		inserted, err = s.events.InsertIdempotent(txCtx, &event)
		if err != nil {
			return err
		}
		return s.dlq.MarkReplayed(txCtx, entry.ID, replayedBy)
	})
	if err != nil {
		result.Errors++
		s.logger.Warn("failed to replay dlq entry",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err))
		return
	}

	if inserted {
		result.Inserted++
	} else {
		result.Duplicates++
	}
}

// insertOne attempts an idempotent insert and updates the counters.
// Returns true when the event landed, as a fresh row or a duplicate.
func (s *Service) insertOne(ctx context.Context, event *models.AuditEvent, result *Result) bool {
	inserted, err := s.events.InsertIdempotent(ctx, event)
	if err != nil {
		result.Errors++
		s.logger.Warn("failed to replay event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
		return false
	}
	if inserted {
		result.Inserted++
	} else {
		result.Duplicates++
	}
	return true
}

// rebuildChain reseeds the tenant's chain tip from the database. It only
// runs when the replay actually inserted rows: a run that found nothing but
// duplicates leaves the live tip untouched.
func (s *Service) rebuildChain(ctx context.Context, tenantID string, result *Result) error {
	if result.Inserted == 0 {
		return nil
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	s.chain.ResetTenant(tenantID)
	if err := s.chain.InitFromDB(opCtx, s.events, tenantID); err != nil {
		return fmt.Errorf("replay committed but chain rebuild failed: %w", err)
	}

	s.logger.Info("chain rebuilt after replay", zap.String("tenant_id", tenantID))
	return nil
}

// logReplayCompleted records a replay completion as a security event.
// Best-effort with its own error boundary.
func (s *Service) logReplayCompleted(tenantID, replayedBy, source, key string, result Result) {
	event := models.NewSecurityEvent(tenantID, models.SecurityEventReplayCompleted).
		WithActor(replayedBy).
		WithDetails(map[string]interface{}{
			"source":     source,
			"key":        key,
			"inserted":   result.Inserted,
			"duplicates": result.Duplicates,
			"errors":     result.Errors,
			"total":      result.Total,
		})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.securityEvents.Insert(ctx, event); err != nil {
			s.logger.Warn("failed to record replay completion event",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}()
}
