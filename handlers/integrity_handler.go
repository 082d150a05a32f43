package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/services/integrity"
	"github.com/upb/audit-governance/utils"
	"go.uber.org/zap"
)

// VerifyRangeRequest represents a request to verify a tenant's chain
type VerifyRangeRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

// VerifyExportRequest represents a request to verify an exported snapshot
type VerifyExportRequest struct {
	ManifestKey string `json:"manifest_key" validate:"required"`
}

// IntegrityHandler handles integrity verification HTTP requests
type IntegrityHandler struct {
	service *integrity.Service
	logger  *zap.Logger
}

// NewIntegrityHandler creates a new IntegrityHandler
func NewIntegrityHandler(service *integrity.Service, logger *zap.Logger) *IntegrityHandler {
	return &IntegrityHandler{
		service: service,
		logger:  logger,
	}
}

// HandleVerifyRange handles POST /v1/integrity/verify-range
func (h *IntegrityHandler) HandleVerifyRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req VerifyRangeRequest
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

	start, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid start_date: must be RFC3339", nil)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid end_date: must be RFC3339", nil)
		return
	}
	if end.Before(start) {
		_ = utils.WriteBadRequest(w, "end_date must not precede start_date", nil)
		return
	}

	report, err := h.service.VerifyTenantRange(ctx, req.TenantID, start, end, claims.Subject)
	if err != nil {
		h.logger.Error("range verification failed",
			zap.String("request_id", requestID),
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to run verification")
		return
	}

	_ = utils.WriteOK(w, report)
}

// HandleVerifyExport handles POST /v1/integrity/verify-export
func (h *IntegrityHandler) HandleVerifyExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req VerifyExportRequest
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

	report, err := h.service.VerifyExport(ctx, req.ManifestKey, claims.Subject)
	if err != nil {
		h.logger.Error("export verification failed",
			zap.String("request_id", requestID),
			zap.String("manifest_key", req.ManifestKey),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to run verification")
		return
	}

	_ = utils.WriteOK(w, report)
}

// HandleListReports handles GET /v1/integrity/reports
func (h *IntegrityHandler) HandleListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			_ = utils.WriteBadRequest(w, "Invalid limit", nil)
			return
		}
		limit = parsed
	}

	reports, err := h.service.ListReports(ctx, limit)
	if err != nil {
		h.logger.Error("failed to list reports",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve reports")
		return
	}

	_ = utils.WriteOK(w, reports)
}

// HandleGetReport handles GET /v1/integrity/reports/{id}
func (h *IntegrityHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	reportID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid report ID format", nil)
		return
	}

	report, err := h.service.GetReport(ctx, reportID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Report not found")
			return
		}
		h.logger.Error("failed to fetch report",
			zap.String("request_id", requestID),
			zap.String("report_id", reportID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve report")
		return
	}

	_ = utils.WriteOK(w, report)
}
