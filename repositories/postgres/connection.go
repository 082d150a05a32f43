package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/audit-governance/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Audit event log (append-only, hash-chained per tenant)
		CREATE TABLE IF NOT EXISTS audit_event (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			instance_id VARCHAR(255),
			step_id VARCHAR(255),
			event_type VARCHAR(100) NOT NULL,
			event_timestamp TIMESTAMPTZ NOT NULL,
			actor_user_id VARCHAR(255),
			severity VARCHAR(20) NOT NULL,
			entity_type VARCHAR(100),
			entity_id VARCHAR(255),
			correlation_id VARCHAR(255) NOT NULL,
			comment TEXT,
			ip_address VARCHAR(45),
			user_agent TEXT,
			hash_prev CHAR(64) NOT NULL,
			hash_curr CHAR(64) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Deduplication tuple: at most one row per
		-- (tenant, correlation, timestamp, type, actor). Partial indexes
		-- because actor_user_id is nullable.
		CREATE UNIQUE INDEX IF NOT EXISTS uq_audit_event_dedup
			ON audit_event(tenant_id, correlation_id, event_timestamp, event_type, actor_user_id)
			WHERE actor_user_id IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS uq_audit_event_dedup_noactor
			ON audit_event(tenant_id, correlation_id, event_timestamp, event_type)
			WHERE actor_user_id IS NULL;

		-- Load shedding policies (tenant_id IS NULL means global scope)
		CREATE TABLE IF NOT EXISTS audit_policy (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255),
			event_category VARCHAR(100) NOT NULL,
			disposition VARCHAR(20) NOT NULL,
			sample_rate DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Integrity verification reports (immutable once written)
		CREATE TABLE IF NOT EXISTS integrity_report (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			scope TEXT NOT NULL,
			broken_at_event_id UUID,
			broken_at_index INTEGER,
			events_checked INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL,
			initiated_by VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Dead-letter queue for failed audit writes
		CREATE TABLE IF NOT EXISTS audit_dlq (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			payload JSONB NOT NULL,
			last_error TEXT,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			dead_at TIMESTAMPTZ NOT NULL,
			replayed_at TIMESTAMPTZ,
			replayed_by VARCHAR(255),
			replay_count INTEGER NOT NULL DEFAULT 0
		);

		-- Audit-of-audit security events
		CREATE TABLE IF NOT EXISTS security_event (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			actor_user_id VARCHAR(255),
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Sliding-window rate limit counters
		CREATE TABLE IF NOT EXISTS rate_limit_events (
			scope_key VARCHAR(512) NOT NULL,
			cost INTEGER NOT NULL DEFAULT 1,
			ts TIMESTAMPTZ NOT NULL
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_audit_event_tenant_ts ON audit_event(tenant_id, event_timestamp, created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_event_actor ON audit_event(actor_user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_event(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_policy_scope ON audit_policy(tenant_id, event_category, enabled);
		CREATE INDEX IF NOT EXISTS idx_integrity_report_tenant ON integrity_report(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_integrity_report_created ON integrity_report(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_dlq_tenant_unreplayed ON audit_dlq(tenant_id, dead_at) WHERE replayed_at IS NULL;
		CREATE INDEX IF NOT EXISTS idx_security_event_tenant ON security_event(tenant_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_rate_limit_events_key_ts ON rate_limit_events(scope_key, ts);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
