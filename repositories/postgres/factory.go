package postgres

import (
	"github.com/upb/audit-governance/config"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		AuditEvents:      NewAuditEventRepository(f.db, f.logger),
		Policies:         NewPolicyRepository(f.db, f.logger),
		IntegrityReports: NewIntegrityReportRepository(f.db, f.logger),
		Dlq:              NewDlqRepository(f.db, f.logger),
		SecurityEvents:   NewSecurityEventRepository(f.db, f.logger),
	}
}

// TransactionManager returns a transaction manager backed by the pool
func (f *RepositoryFactory) TransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// DB returns the underlying database connection
func (f *RepositoryFactory) DB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
