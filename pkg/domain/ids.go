package domain

import "github.com/google/uuid"

// Typed IDs keep tenant, catalog and resolution identifiers from being mixed
// up at call sites. All are UUID-backed and share the same accessors.
type (
	// TenantID identifies the organization a resolution run belongs to.
	TenantID uuid.UUID

	// ControlID identifies a catalog control record. A new version of a
	// control is a new ControlID; published records are never mutated.
	ControlID uuid.UUID

	// FrameworkID identifies a regulatory framework in the catalog.
	FrameworkID uuid.UUID

	// WizardID identifies an onboarding wizard whose answers feed snapshots.
	WizardID uuid.UUID

	// SnapshotID identifies one immutable answer snapshot row.
	SnapshotID uuid.UUID

	// RuleID identifies an applicability rule.
	RuleID uuid.UUID

	// OverlayID identifies a control overlay bundle.
	OverlayID uuid.UUID

	// RunID identifies one orchestrator materialization.
	RunID uuid.UUID

	// EntryID identifies a tenant control set entry.
	EntryID uuid.UUID

	// PayloadID identifies an explainability payload.
	PayloadID uuid.UUID

	// DecisionID identifies a tailoring decision.
	DecisionID uuid.UUID
)

func (id TenantID) String() string    { return uuid.UUID(id).String() }
func (id ControlID) String() string   { return uuid.UUID(id).String() }
func (id FrameworkID) String() string { return uuid.UUID(id).String() }
func (id WizardID) String() string    { return uuid.UUID(id).String() }
func (id SnapshotID) String() string  { return uuid.UUID(id).String() }
func (id RuleID) String() string      { return uuid.UUID(id).String() }
func (id OverlayID) String() string   { return uuid.UUID(id).String() }
func (id RunID) String() string       { return uuid.UUID(id).String() }
func (id EntryID) String() string     { return uuid.UUID(id).String() }
func (id PayloadID) String() string   { return uuid.UUID(id).String() }
func (id DecisionID) String() string  { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ControlID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id FrameworkID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id WizardID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SnapshotID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RuleID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id OverlayID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RunID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PayloadID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DecisionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// NewTenantID returns a fresh random tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewControlID returns a fresh random control ID.
func NewControlID() ControlID { return ControlID(uuid.New()) }

// NewFrameworkID returns a fresh random framework ID.
func NewFrameworkID() FrameworkID { return FrameworkID(uuid.New()) }

// NewRuleID returns a fresh random rule ID.
func NewRuleID() RuleID { return RuleID(uuid.New()) }

// NewOverlayID returns a fresh random overlay ID.
func NewOverlayID() OverlayID { return OverlayID(uuid.New()) }

// NewRunID returns a fresh random run ID.
func NewRunID() RunID { return RunID(uuid.New()) }

// NewWizardID returns a fresh random wizard ID.
func NewWizardID() WizardID { return WizardID(uuid.New()) }

// NewSnapshotID returns a fresh random snapshot ID.
func NewSnapshotID() SnapshotID { return SnapshotID(uuid.New()) }

// NewEntryID returns a fresh random control set entry ID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// NewPayloadID returns a fresh random explainability payload ID.
func NewPayloadID() PayloadID { return PayloadID(uuid.New()) }

// NewDecisionID returns a fresh random tailoring decision ID.
func NewDecisionID() DecisionID { return DecisionID(uuid.New()) }
