package handlers

import (
	"net/http"

	"github.com/upb/audit-governance/repositories/postgres"
	"github.com/upb/audit-governance/utils"
	"go.uber.org/zap"
)

// HealthHandler handles liveness and readiness checks
type HealthHandler struct {
	db     *postgres.DB
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *postgres.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Error("database health check failed", zap.Error(err))
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": "unreachable",
		})
		return
	}

	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "healthy",
	})
}
