package audit

import (
	"time"

	id "controlplane/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention (e.g., 7 years).
	// Examples: run materializations, overrides, tailoring decisions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring.
	// Examples: rejected actor attribution, cross-tenant access attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	// Examples: run started, snapshot appended, catalog edits.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from engine logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	TenantID  id.TenantID
	// Subject names what was acted on: a run ID, control code, framework
	// code or payload ID depending on the action.
	Subject  string
	Action   string
	Decision string
	Reason   string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
	// Actor is who triggered the action, from the authenticated request.
	// Empty for system-initiated work such as scheduled re-runs.
	Actor string
}

type AuditEvent string

const (
	// Resolution events
	EventRunStarted      AuditEvent = "run_started"
	EventRunMaterialized AuditEvent = "run_materialized"
	EventRunFailed       AuditEvent = "run_failed"

	// Snapshot events
	EventSnapshotAppended  AuditEvent = "snapshot_appended"
	EventSnapshotFinalized AuditEvent = "snapshot_finalized"

	// Explainability events
	EventDecisionExplained  AuditEvent = "decision_explained"
	EventDecisionOverridden AuditEvent = "decision_overridden"

	// Tailoring events
	EventControlTailored AuditEvent = "control_tailored"

	// Catalog events
	EventCatalogControlAdded AuditEvent = "catalog_control_added"
	EventCatalogEdgeAdded    AuditEvent = "catalog_edge_added"
	EventCatalogRuleAdded    AuditEvent = "catalog_rule_added"
	EventCatalogMappingAdded AuditEvent = "catalog_mapping_added"

	// Access events
	EventTenantMismatch AuditEvent = "tenant_mismatch"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events - require tamper-proof storage
	EventRunMaterialized:    CategoryCompliance,
	EventDecisionOverridden: CategoryCompliance,
	EventControlTailored:    CategoryCompliance,
	EventSnapshotFinalized:  CategoryCompliance,

	// Security events - feed into SIEM and alerting
	EventTenantMismatch: CategorySecurity,

	// Operations events - routine activity, can be sampled
	EventRunStarted:          CategoryOperations,
	EventRunFailed:           CategoryOperations,
	EventSnapshotAppended:    CategoryOperations,
	EventDecisionExplained:   CategoryOperations,
	EventCatalogControlAdded: CategoryOperations,
	EventCatalogEdgeAdded:    CategoryOperations,
	EventCatalogRuleAdded:    CategoryOperations,
	EventCatalogMappingAdded: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
