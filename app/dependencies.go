// Package app wires the application together: config, database,
// repositories, services, and HTTP middleware. This is the central
// dependency injection point.
package app

import (
	"context"
	"fmt"

	"github.com/upb/audit-governance/config"
	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/repositories/postgres"
	"github.com/upb/audit-governance/services/gate"
	"github.com/upb/audit-governance/services/hashchain"
	"github.com/upb/audit-governance/services/integrity"
	"github.com/upb/audit-governance/services/querypolicy"
	"github.com/upb/audit-governance/services/ratelimit"
	"github.com/upb/audit-governance/services/replay"
	"github.com/upb/audit-governance/storage"
	"github.com/upb/audit-governance/telemetry"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos *repositories.Repositories

	// Object storage for exports and manifests
	ObjectStore storage.ObjectStore

	// Services
	Chain       *hashchain.Service
	RateLimiter *ratelimit.Service
	Gate        *gate.Service
	QueryPolicy *querypolicy.Service
	Integrity   *integrity.Service
	Replay      *replay.Service

	// Telemetry
	Metrics *telemetry.Metrics

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initTelemetry(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := deps.initServices(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.DB()

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.Logger.Info("repositories initialized")
}

// initTelemetry initializes the metric instruments
func (d *Dependencies) initTelemetry(cfg *config.Config) error {
	if !cfg.Observability.MetricsEnabled {
		d.Logger.Info("metrics disabled")
		return nil
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}
	d.Metrics = metrics
	return nil
}

// initServices wires the domain services, seeding each tenant's chain tip
// lazily on first write rather than eagerly at startup.
func (d *Dependencies) initServices(ctx context.Context, cfg *config.Config) error {
	d.ObjectStore = storage.NewMemoryStore()

	d.Chain = hashchain.NewService(d.Logger)

	d.RateLimiter = ratelimit.NewService(d.DB.DB, cfg.RateLimit.EventsPerMinute, d.Logger)

	d.Gate = gate.NewService(
		d.Repos.Policies,
		d.RateLimiter,
		cfg.Gate.PolicyCacheSize,
		cfg.Gate.PolicyCacheTTL,
		d.Logger,
	)
	d.Gate.SetEmergencyMode(cfg.Gate.EmergencyMode)

	d.QueryPolicy = querypolicy.NewService(d.Repos.SecurityEvents, d.Logger)

	d.Integrity = integrity.NewService(
		d.Repos.AuditEvents,
		d.Repos.IntegrityReports,
		d.Chain,
		d.ObjectStore,
		d.Metrics,
		d.Logger,
	)

	d.Replay = replay.NewService(
		d.Repos.AuditEvents,
		d.Repos.Dlq,
		d.Repos.SecurityEvents,
		d.RepoFactory.TransactionManager(),
		d.Chain,
		d.ObjectStore,
		cfg.Replay.DefaultBatchSize,
		cfg.Replay.OpTimeout,
		d.Logger,
	)

	d.Logger.Info("services initialized")
	return nil
}

// initAuth initializes the JWT validator and auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT secret not configured, protected routes will reject all requests")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	validator := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("auth middleware initialized")
}

// rejectAllValidator rejects all tokens (used when no secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
