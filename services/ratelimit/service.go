// Package ratelimit implements a per-tenant, per-event-type quota check over
// a PostgreSQL sliding window. It is a second admission layer consulted by
// the load shedding gate, not a replacement for shedding policy.
//
// The limiter fails open: an unavailable backing store must never itself
// become the reason audit data is lost.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Window is the sliding window length for all audit rate-limit keys
const Window = time.Minute

// Result represents the outcome of a quota check
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter *time.Duration
}

// Service handles rate limiting using PostgreSQL
type Service struct {
	db     *sql.DB
	limit  int
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new rate limit service. limit is the per-key budget
// within the sliding window.
func NewService(db *sql.DB, limit int, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		limit:  limit,
		logger: logger,
		now:    time.Now,
	}
}

// Key builds the scope key for a tenant and event type
func Key(tenantID, eventType string) string {
	return fmt.Sprintf("audit:rate:%s:%s", tenantID, eventType)
}

// Consume records cost units against a key and reports whether the key is
// within budget. On backing-store failure it returns allowed=true and logs
// the fault.
func (s *Service) Consume(ctx context.Context, key string, cost int) Result {
	if cost <= 0 {
		cost = 1
	}

	now := s.now()
	used, err := s.windowUsage(ctx, key, now)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, failing open",
			zap.String("key", key),
			zap.Error(err))
		return Result{Allowed: true, Remaining: s.limit, ResetAt: resetAt(now)}
	}

	if used+cost > s.limit {
		retry := resetAt(now).Sub(now)
		return Result{
			Allowed:    false,
			Remaining:  max(s.limit-used, 0),
			ResetAt:    resetAt(now),
			RetryAfter: &retry,
		}
	}

	if err := s.record(ctx, key, cost, now); err != nil {
		s.logger.Warn("failed to record rate limit event, failing open",
			zap.String("key", key),
			zap.Error(err))
		return Result{Allowed: true, Remaining: max(s.limit-used, 0), ResetAt: resetAt(now)}
	}

	return Result{
		Allowed:   true,
		Remaining: max(s.limit-used-cost, 0),
		ResetAt:   resetAt(now),
	}
}

// Check reports current usage for a key without consuming quota
func (s *Service) Check(ctx context.Context, key string) Result {
	now := s.now()
	used, err := s.windowUsage(ctx, key, now)
	if err != nil {
		s.logger.Warn("rate limiter unavailable, failing open",
			zap.String("key", key),
			zap.Error(err))
		return Result{Allowed: true, Remaining: s.limit, ResetAt: resetAt(now)}
	}

	result := Result{
		Allowed:   used < s.limit,
		Remaining: max(s.limit-used, 0),
		ResetAt:   resetAt(now),
	}
	if !result.Allowed {
		retry := resetAt(now).Sub(now)
		result.RetryAfter = &retry
	}
	return result
}

// Reset clears all recorded usage for a key
func (s *Service) Reset(ctx context.Context, key string) error {
	query := `DELETE FROM rate_limit_events WHERE scope_key = $1`

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to reset rate limit key: %w", err)
	}

	s.logger.Debug("rate limit key reset", zap.String("key", key))
	return nil
}

// windowUsage sums consumed cost for a key within the sliding window
func (s *Service) windowUsage(ctx context.Context, key string, now time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM rate_limit_events
		WHERE scope_key = $1 AND ts >= $2 AND ts <= $3
	`

	var used int
	err := s.db.QueryRowContext(ctx, query, key, now.Add(-Window), now).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to query rate limit usage: %w", err)
	}
	return used, nil
}

// record inserts a usage row for a key
func (s *Service) record(ctx context.Context, key string, cost int, now time.Time) error {
	query := `INSERT INTO rate_limit_events (scope_key, cost, ts) VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, key, cost, now); err != nil {
		return fmt.Errorf("failed to insert rate limit event: %w", err)
	}
	return nil
}

// resetAt returns the next minute boundary
func resetAt(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}

// CleanupOldEvents removes usage rows older than the retention period
func (s *Service) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_events WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limit events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info("cleaned up old rate limit events",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff", cutoff))

	return rowsAffected, nil
}

// StartCleanupWorker starts a background worker to periodically clean up old events
func (s *Service) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupOldEvents(ctx, retention); err != nil {
				s.logger.Error("failed to cleanup rate limit events", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
