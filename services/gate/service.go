// Package gate implements admission control for incoming audit events:
// producers consult the gate before writing. Decisions combine a hardcoded
// never-drop rule, a process-wide emergency switch, cached load shedding
// policies, and a rate-limit check.
package gate

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/services/ratelimit"
	"github.com/upb/audit-governance/services/taxonomy"
	"go.uber.org/zap"
)

// Decision reasons returned by Evaluate
const (
	ReasonNeverDrop      = "never_drop"
	ReasonEmergencyMode  = "emergency_mode"
	ReasonPolicyDisabled = "policy_disabled"
	ReasonRateLimited    = "rate_limited"
	ReasonRequired       = "required"
	ReasonSampled        = "sampled"
	ReasonSampledOut     = "sampled_out"
)

// neverDropEventTypes bypass all shedding regardless of policy or emergency
// mode. Process-wide constants, not runtime configuration.
var neverDropEventTypes = map[string]bool{
	"tamper_detected":  true,
	"integrity_failed": true,
	"chain_rebuilt":    true,
	"tenant_disabled":  true,
}

// neverDropCategories bypass all shedding: losing the record of an admin
// action or a log repair would blind any later investigation.
var neverDropCategories = map[string]bool{
	taxonomy.CategoryAdmin:    true,
	taxonomy.CategoryRecovery: true,
}

// Decision is the outcome of an admission check
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Sampled  bool   `json:"sampled"`
}

// Limiter is the rate-limit surface the gate consumes
type Limiter interface {
	Consume(ctx context.Context, key string, cost int) ratelimit.Result
}

// Service evaluates admission-control policy before any event write
type Service struct {
	policies  repositories.PolicyRepository
	limiter   Limiter
	cache     *PolicyCache
	logger    *zap.Logger
	emergency atomic.Bool
	randFloat func() float64 // injectable for deterministic sampling tests
}

// NewService creates a new load shedding gate
func NewService(policies repositories.PolicyRepository, limiter Limiter, cacheSize int, cacheTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		policies:  policies,
		limiter:   limiter,
		cache:     NewPolicyCache(cacheSize, cacheTTL),
		logger:    logger,
		randFloat: rand.Float64,
	}
}

// Evaluate decides whether an event is admitted. The never-drop override is
// checked first and cannot be disabled by policy or emergency mode.
func (s *Service) Evaluate(ctx context.Context, tenantID, eventType string, severity models.Severity) Decision {
	severity = taxonomy.NormalizeSeverity(eventType, severity)
	category := taxonomy.Category(eventType)

	// Step 1: never-drop override precedes everything else
	if severity == models.SeverityCritical || neverDropEventTypes[eventType] || neverDropCategories[category] {
		return Decision{Accepted: true, Reason: ReasonNeverDrop}
	}

	// Step 2: emergency mode rejects everything not covered by step 1
	if s.IsEmergencyMode() {
		return Decision{Accepted: false, Reason: ReasonEmergencyMode}
	}

	// Step 3: resolve effective policy for (tenant, category)
	policy := ResolvePolicy(s.tenantPolicies(ctx, tenantID), tenantID, category)

	if policy.Disposition == models.DispositionDisabled {
		return Decision{Accepted: false, Reason: ReasonPolicyDisabled}
	}

	// Second admission layer: the limiter constrains non-never-drop events
	// before the sampled/required disposition is finalized
	if result := s.limiter.Consume(ctx, ratelimit.Key(tenantID, eventType), 1); !result.Allowed {
		return Decision{Accepted: false, Reason: ReasonRateLimited}
	}

	// Step 4: apply disposition
	if policy.Disposition == models.DispositionSampled {
		if s.randFloat() < policy.SampleRate {
			return Decision{Accepted: true, Reason: ReasonSampled, Sampled: true}
		}
		return Decision{Accepted: false, Reason: ReasonSampledOut}
	}

	return Decision{Accepted: true, Reason: ReasonRequired}
}

// SetEmergencyMode toggles the process-wide emergency switch used for
// incident response load relief.
func (s *Service) SetEmergencyMode(enabled bool) {
	previous := s.emergency.Swap(enabled)
	if previous != enabled {
		s.logger.Warn("emergency mode toggled", zap.Bool("enabled", enabled))
	}
}

// IsEmergencyMode reports whether emergency mode is active
func (s *Service) IsEmergencyMode() bool {
	return s.emergency.Load()
}

// InvalidateTenant drops the cached policy set for one tenant
func (s *Service) InvalidateTenant(tenantID string) {
	s.cache.Invalidate(tenantID)
}

// InvalidateAll drops every cached policy set
func (s *Service) InvalidateAll() {
	s.cache.InvalidateAll()
}

// CacheStats returns policy cache statistics
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// tenantPolicies returns the cached policy set for a tenant, refreshing it
// from the store on expiry. A store failure yields an empty set: the
// resolution default is then required/1.0, so admission fails open rather
// than silently losing audit data. Never returns an error to the caller.
func (s *Service) tenantPolicies(ctx context.Context, tenantID string) []*models.LoadSheddingPolicy {
	if cached, ok := s.cache.Get(tenantID); ok {
		return cached
	}

	policies, err := s.policies.ListForTenant(ctx, tenantID)
	if err != nil {
		s.logger.Warn("policy store unavailable, treating policy set as empty",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil
	}

	s.cache.Set(tenantID, policies)
	return policies
}

// ResolvePolicy finds the effective policy for a (tenant, category) pair as
// an ordered list of lookup strategies evaluated short-circuit:
// tenant-specific category row, tenant wildcard, global category row, global
// wildcard, then the capture-everything default.
func ResolvePolicy(policies []*models.LoadSheddingPolicy, tenantID, category string) *models.LoadSheddingPolicy {
	strategies := []func(*models.LoadSheddingPolicy) bool{
		func(p *models.LoadSheddingPolicy) bool {
			return !p.IsGlobal() && *p.TenantID == tenantID && p.EventCategory == category
		},
		func(p *models.LoadSheddingPolicy) bool {
			return !p.IsGlobal() && *p.TenantID == tenantID && p.EventCategory == models.WildcardCategory
		},
		func(p *models.LoadSheddingPolicy) bool {
			return p.IsGlobal() && p.EventCategory == category
		},
		func(p *models.LoadSheddingPolicy) bool {
			return p.IsGlobal() && p.EventCategory == models.WildcardCategory
		},
	}

	for _, match := range strategies {
		for _, policy := range policies {
			if policy.Enabled && match(policy) {
				return policy
			}
		}
	}

	return models.DefaultPolicy()
}
