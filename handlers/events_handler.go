package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/upb/audit-governance/middleware"
	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"github.com/upb/audit-governance/services/querypolicy"
	"github.com/upb/audit-governance/utils"
	"go.uber.org/zap"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// EventsHandler handles read queries against the stored event log
type EventsHandler struct {
	events repositories.AuditEventRepository
	policy *querypolicy.Service
	logger *zap.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(events repositories.AuditEventRepository, policy *querypolicy.Service, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		policy: policy,
		logger: logger,
	}
}

// HandleListEvents handles GET /v1/events
func (h *EventsHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		h.logger.Error("claims not found in context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	caller := querypolicy.Caller{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Roles:    claims.Roles,
	}

	query, err := parseEventQuery(r, caller)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	permission := h.policy.Authorize(caller, query)
	if !permission.Allowed {
		h.logger.Warn("event query denied",
			zap.String("request_id", requestID),
			zap.String("user_id", caller.UserID),
			zap.String("reason", permission.Reason))
		_ = utils.WriteForbidden(w, "Access to audit events denied")
		return
	}

	query = h.policy.ApplyPermission(query, permission)

	events, err := h.events.Query(ctx, query)
	if err != nil {
		h.logger.Error("failed to query events",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve events")
		return
	}

	events = h.policy.RedactResults(events, permission)
	h.policy.LogAccess(caller, query)

	h.logger.Info("listed events",
		zap.String("request_id", requestID),
		zap.String("tenant_id", query.TenantID),
		zap.Int("count", len(events)))

	_ = utils.WriteOK(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// parseEventQuery builds an EventQuery from the request. The query always
// starts scoped to the caller's tenant; only security admins may target a
// different tenant via the tenant_id parameter.
func parseEventQuery(r *http.Request, caller querypolicy.Caller) (*models.EventQuery, error) {
	q := r.URL.Query()

	query := &models.EventQuery{
		TenantID: caller.TenantID,
		Limit:    defaultQueryLimit,
	}

	if tenantID := q.Get("tenant_id"); tenantID != "" && caller.HasRole(querypolicy.RoleSecurityAdmin) {
		query.TenantID = tenantID
	}

	if eventType := q.Get("event_type"); eventType != "" {
		query.EventType = &eventType
	}
	if severityStr := q.Get("severity"); severityStr != "" {
		severity := models.Severity(severityStr)
		if !severity.IsValid() {
			return nil, &queryParamError{param: "severity", value: severityStr}
		}
		query.Severity = &severity
	}
	if actorID := q.Get("actor_user_id"); actorID != "" {
		query.ActorUserID = &actorID
	}
	if startStr := q.Get("start_date"); startStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return nil, &queryParamError{param: "start_date", value: startStr}
		}
		query.StartDate = &start
	}
	if endStr := q.Get("end_date"); endStr != "" {
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return nil, &queryParamError{param: "end_date", value: endStr}
		}
		query.EndDate = &end
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return nil, &queryParamError{param: "limit", value: limitStr}
		}
		if limit > maxQueryLimit {
			limit = maxQueryLimit
		}
		query.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return nil, &queryParamError{param: "offset", value: offsetStr}
		}
		query.Offset = offset
	}

	return query, nil
}

// queryParamError reports an unparseable query parameter
type queryParamError struct {
	param string
	value string
}

func (e *queryParamError) Error() string {
	return "invalid " + e.param + ": " + e.value
}
