package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/services/gate"
	"github.com/upb/audit-governance/utils"
	"go.uber.org/zap"
)

// EvaluateRequest represents an admission check from a producer
type EvaluateRequest struct {
	EventType string `json:"event_type" validate:"required"`
	Severity  string `json:"severity"`
}

// EmergencyModeRequest represents a toggle of the emergency switch
type EmergencyModeRequest struct {
	Enabled bool `json:"enabled"`
}

// InvalidateCacheRequest represents a policy cache invalidation
type InvalidateCacheRequest struct {
	TenantID string `json:"tenant_id"`
}

// GateHandler handles admission-control HTTP requests
type GateHandler struct {
	service        *gate.Service
	securityEvents repositories.SecurityEventRepository
	logger         *zap.Logger
}

// NewGateHandler creates a new GateHandler
func NewGateHandler(service *gate.Service, securityEvents repositories.SecurityEventRepository, logger *zap.Logger) *GateHandler {
	return &GateHandler{
		service:        service,
		securityEvents: securityEvents,
		logger:         logger,
	}
}

// HandleEvaluate handles POST /v1/gate/evaluate. Producers consult this
// before writing an event; the decision is advisory and always 200.
func (h *GateHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	severity := models.Severity(req.Severity)
	if req.Severity != "" && !severity.IsValid() {
		_ = utils.WriteBadRequest(w, "Invalid severity", nil)
		return
	}

	decision := h.service.Evaluate(ctx, claims.TenantID, req.EventType, severity)

	h.logger.Debug("gate decision",
		zap.String("request_id", requestID),
		zap.String("tenant_id", claims.TenantID),
		zap.String("event_type", req.EventType),
		zap.Bool("accepted", decision.Accepted),
		zap.String("reason", decision.Reason))

	_ = utils.WriteOK(w, decision)
}

// HandleEmergencyMode handles POST /v1/admin/gate/emergency
func (h *GateHandler) HandleEmergencyMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req EmergencyModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	h.service.SetEmergencyMode(req.Enabled)
	h.logToggle(claims, req.Enabled)

	h.logger.Warn("emergency mode set via admin API",
		zap.String("request_id", requestID),
		zap.String("user_id", claims.Subject),
		zap.Bool("enabled", req.Enabled))

	_ = utils.WriteOK(w, map[string]bool{"emergency_mode": h.service.IsEmergencyMode()})
}

// HandleInvalidateCache handles POST /v1/admin/gate/invalidate.
// With a tenant_id it drops one tenant's cached policy set; without one it
// drops the whole cache.
func (h *GateHandler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req InvalidateCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if req.TenantID != "" {
		h.service.InvalidateTenant(req.TenantID)
	} else {
		h.service.InvalidateAll()
	}

	h.logger.Info("policy cache invalidated",
		zap.String("request_id", requestID),
		zap.String("tenant_id", req.TenantID))

	utils.WriteNoContent(w)
}

// HandleGateStats handles GET /v1/admin/gate/stats
func (h *GateHandler) HandleGateStats(w http.ResponseWriter, r *http.Request) {
	stats := h.service.CacheStats()
	_ = utils.WriteOK(w, map[string]interface{}{
		"emergency_mode": h.service.IsEmergencyMode(),
		"policy_cache":   stats,
	})
}

// logToggle records the emergency toggle as a security event, best-effort
func (h *GateHandler) logToggle(claims *middleware.Claims, enabled bool) {
	event := models.NewSecurityEvent(claims.TenantID, models.SecurityEventEmergencyToggle).
		WithActor(claims.Subject).
		WithDetails(map[string]interface{}{"enabled": enabled})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.securityEvents.Insert(ctx, event); err != nil {
			h.logger.Warn("failed to record emergency toggle event",
				zap.String("user_id", claims.Subject),
				zap.Error(err))
		}
	}()
}
