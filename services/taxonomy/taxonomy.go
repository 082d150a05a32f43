// Package taxonomy maps event-type strings to a category and default
// severity. The table is static configuration: the pipeline does not decide
// what is worth auditing, only how admitted events are classified.
package taxonomy

import "github.com/upb/audit-governance/models"

// Entry describes the classification of an event type
type Entry struct {
	Category        string
	DefaultSeverity models.Severity
}

// Category names used across the gate's never-drop rules
const (
	CategoryAdmin     = "admin"
	CategoryRecovery  = "recovery"
	CategorySecurity  = "security"
	CategoryWorkflow  = "workflow"
	CategoryData      = "data"
	CategoryAccess    = "access"
	CategoryGeneral   = "general"
)

// table is the static event-type classification. Unknown event types fall
// back to CategoryGeneral with severity info.
var table = map[string]Entry{
	// Workflow lifecycle
	"workflow_started":   {CategoryWorkflow, models.SeverityInfo},
	"workflow_completed": {CategoryWorkflow, models.SeverityInfo},
	"workflow_failed":    {CategoryWorkflow, models.SeverityError},
	"step_started":       {CategoryWorkflow, models.SeverityInfo},
	"step_completed":     {CategoryWorkflow, models.SeverityInfo},
	"step_failed":        {CategoryWorkflow, models.SeverityWarning},
	"step_retried":       {CategoryWorkflow, models.SeverityWarning},

	// Data mutations
	"record_created": {CategoryData, models.SeverityInfo},
	"record_updated": {CategoryData, models.SeverityInfo},
	"record_deleted": {CategoryData, models.SeverityWarning},
	"bulk_import":    {CategoryData, models.SeverityInfo},
	"bulk_export":    {CategoryData, models.SeverityWarning},

	// Access
	"login_succeeded":   {CategoryAccess, models.SeverityInfo},
	"login_failed":      {CategoryAccess, models.SeverityWarning},
	"permission_denied": {CategoryAccess, models.SeverityWarning},
	"session_revoked":   {CategoryAccess, models.SeverityWarning},

	// Security
	"policy_violation":  {CategorySecurity, models.SeverityError},
	"tamper_detected":   {CategorySecurity, models.SeverityCritical},
	"credential_rotate": {CategorySecurity, models.SeverityWarning},

	// Administration: never shed, these document who changed the system
	"tenant_created":  {CategoryAdmin, models.SeverityWarning},
	"tenant_disabled": {CategoryAdmin, models.SeverityCritical},
	"role_granted":    {CategoryAdmin, models.SeverityWarning},
	"role_revoked":    {CategoryAdmin, models.SeverityWarning},
	"config_changed":  {CategoryAdmin, models.SeverityWarning},

	// Recovery: never shed, these document repairs to the log itself
	"chain_rebuilt":    {CategoryRecovery, models.SeverityCritical},
	"dlq_replayed":     {CategoryRecovery, models.SeverityWarning},
	"export_replayed":  {CategoryRecovery, models.SeverityWarning},
	"integrity_failed": {CategoryRecovery, models.SeverityCritical},
}

// Lookup returns the classification for an event type. Unknown types map to
// the general category with default severity info.
func Lookup(eventType string) Entry {
	if entry, ok := table[eventType]; ok {
		return entry
	}
	return Entry{Category: CategoryGeneral, DefaultSeverity: models.SeverityInfo}
}

// Category returns just the category for an event type
func Category(eventType string) string {
	return Lookup(eventType).Category
}

// NormalizeSeverity returns the given severity if valid, otherwise the
// event type's default severity.
func NormalizeSeverity(eventType string, severity models.Severity) models.Severity {
	if severity.IsValid() {
		return severity
	}
	return Lookup(eventType).DefaultSeverity
}
