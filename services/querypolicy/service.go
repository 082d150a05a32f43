// Package querypolicy authorizes and redacts read queries against the
// stored event log. Roles form a closed set with one authorization function
// per role, so adding a role forces an explicit decision about its scope.
package querypolicy

import (
	"context"
	"time"

	"github.com/upb/audit-governance/models"
	"github.com/upb/audit-governance/repositories"
	"go.uber.org/zap"
)

// Roles recognized by the gate, most to least privileged
const (
	RoleSecurityAdmin    = "security_admin"
	RoleViewTenantEvents = "view_tenant_events"
	RoleViewOwnEvents    = "view_own_events"
)

// Redactable field names, matching the event's JSON representation
const (
	FieldIPAddress = "ip_address"
	FieldUserAgent = "user_agent"
)

// Caller identifies who is issuing a query
type Caller struct {
	UserID   string
	TenantID string
	Roles    []string
}

// HasRole reports whether the caller carries a role
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Permission is the outcome of authorizing a query
type Permission struct {
	Allowed         bool
	Reason          string
	EnforcedFilters map[string]string
	RedactedFields  []string
}

// Service is the query policy gate
type Service struct {
	securityEvents repositories.SecurityEventRepository
	logger         *zap.Logger
}

// NewService creates a new query policy gate
func NewService(securityEvents repositories.SecurityEventRepository, logger *zap.Logger) *Service {
	return &Service{
		securityEvents: securityEvents,
		logger:         logger,
	}
}

// authorizeFn computes the permission for one role
type authorizeFn func(caller Caller) Permission

// roleAuthorizers maps each role to its authorization function, evaluated in
// privilege order. A caller gets the permission of the most privileged role
// they hold.
var roleAuthorizers = []struct {
	role      string
	authorize authorizeFn
}{
	{RoleSecurityAdmin, func(Caller) Permission {
		return Permission{Allowed: true}
	}},
	{RoleViewTenantEvents, func(Caller) Permission {
		return Permission{
			Allowed:        true,
			RedactedFields: []string{FieldIPAddress, FieldUserAgent},
		}
	}},
	{RoleViewOwnEvents, func(caller Caller) Permission {
		return Permission{
			Allowed:         true,
			EnforcedFilters: map[string]string{"actor_user_id": caller.UserID},
			RedactedFields:  []string{FieldIPAddress, FieldUserAgent},
		}
	}},
}

// Authorize computes the caller's permission for a query. Callers holding
// none of the recognized roles are denied.
func (s *Service) Authorize(caller Caller, query *models.EventQuery) Permission {
	for _, entry := range roleAuthorizers {
		if caller.HasRole(entry.role) {
			return entry.authorize(caller)
		}
	}

	s.logger.Warn("query denied: no audit read role",
		zap.String("user_id", caller.UserID),
		zap.String("tenant_id", caller.TenantID))
	return Permission{Allowed: false, Reason: "missing audit read role"}
}

// ApplyPermission merges enforced filters into the caller-supplied query.
// Enforced values always win: a caller cannot widen scope by passing
// conflicting filters.
func (s *Service) ApplyPermission(query *models.EventQuery, permission Permission) *models.EventQuery {
	for field, value := range permission.EnforcedFilters {
		switch field {
		case "actor_user_id":
			v := value
			query.ActorUserID = &v
		case "tenant_id":
			query.TenantID = value
		}
	}
	return query
}

// RedactResults strips the permission's redacted fields from each result
// row. Redaction applies to the response copy only, never the stored row.
func (s *Service) RedactResults(events []*models.AuditEvent, permission Permission) []*models.AuditEvent {
	if len(permission.RedactedFields) == 0 {
		return events
	}

	redacted := make([]*models.AuditEvent, len(events))
	for i, event := range events {
		clone := *event
		for _, field := range permission.RedactedFields {
			switch field {
			case FieldIPAddress:
				clone.IPAddress = nil
			case FieldUserAgent:
				clone.UserAgent = nil
			}
		}
		redacted[i] = &clone
	}
	return redacted
}

// LogAccess records an authorized query as a security event ("audit-of-audit").
// Best-effort: it runs detached with its own timeout and error boundary, so a
// failure to record access can never block or fail the underlying query.
func (s *Service) LogAccess(caller Caller, query *models.EventQuery) {
	event := models.NewSecurityEvent(caller.TenantID, models.SecurityEventAuditAccess).
		WithActor(caller.UserID).
		WithDetails(map[string]interface{}{
			"event_type":    query.EventType,
			"actor_user_id": query.ActorUserID,
			"start_date":    query.StartDate,
			"end_date":      query.EndDate,
			"limit":         query.Limit,
		})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.securityEvents.Insert(ctx, event); err != nil {
			s.logger.Warn("failed to record audit access event",
				zap.String("user_id", caller.UserID),
				zap.Error(err))
		}
	}()
}
