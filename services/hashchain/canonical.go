package hashchain

import (
	"strings"
	"time"

	"github.com/upb/audit-governance/models"
)

// Canonicalize serializes the hashed fields of an event in a fixed order.
// The serialization is part of the chain contract: any change to field
// order or formatting invalidates every stored hash, so this must stay
// stable across releases. Timestamps are RFC 3339 in UTC with nanosecond
// precision; absent optional fields serialize as the empty string.
func Canonicalize(event *models.AuditEvent) string {
	fields := []string{
		event.TenantID,
		deref(event.InstanceID),
		deref(event.StepID),
		event.EventType,
		event.EventTimestamp.UTC().Format(time.RFC3339Nano),
		deref(event.ActorUserID),
		string(event.Severity),
		deref(event.EntityType),
		deref(event.EntityID),
		event.CorrelationID,
		deref(event.Comment),
	}
	return strings.Join(fields, "|")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
