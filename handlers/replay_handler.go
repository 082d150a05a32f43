package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/services/replay"
	"github.com/upb/audit-governance/utils"
	"go.uber.org/zap"
)

// NdjsonReplayRequest represents a request to replay an NDJSON export
type NdjsonReplayRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	NdjsonKey string `json:"ndjson_key" validate:"required"`
	BatchSize int    `json:"batch_size" validate:"gte=0"`
}

// DlqReplayRequest represents a request to replay dead-letter entries
type DlqReplayRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	Limit     int    `json:"limit" validate:"gte=0"`
	BatchSize int    `json:"batch_size" validate:"gte=0"`
}

// ReplayHandler handles replay HTTP requests
type ReplayHandler struct {
	service *replay.Service
	logger  *zap.Logger
}

// NewReplayHandler creates a new ReplayHandler
func NewReplayHandler(service *replay.Service, logger *zap.Logger) *ReplayHandler {
	return &ReplayHandler{
		service: service,
		logger:  logger,
	}
}

// HandleReplayNdjson handles POST /v1/admin/replay/ndjson
func (h *ReplayHandler) HandleReplayNdjson(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req NdjsonReplayRequest
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

	result, err := h.service.ReplayFromNdjson(ctx, replay.NdjsonRequest{
		TenantID:   req.TenantID,
		NdjsonKey:  req.NdjsonKey,
		ReplayedBy: claims.Subject,
		BatchSize:  req.BatchSize,
	})
	if err != nil {
		h.logger.Error("ndjson replay failed",
			zap.String("request_id", requestID),
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Replay failed")
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleReplayDlq handles POST /v1/admin/replay/dlq
func (h *ReplayHandler) HandleReplayDlq(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DlqReplayRequest
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

	result, err := h.service.ReplayFromDlq(ctx, replay.DlqRequest{
		TenantID:   req.TenantID,
		ReplayedBy: claims.Subject,
		Limit:      req.Limit,
		BatchSize:  req.BatchSize,
	})
	if err != nil {
		h.logger.Error("dlq replay failed",
			zap.String("request_id", requestID),
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Replay failed")
		return
	}

	_ = utils.WriteOK(w, result)
}
