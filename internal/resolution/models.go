// Package resolution orchestrates a tenant's control resolution run: it
// builds an evaluation context from the tenant's wizard answers, evaluates
// applicability rules, resolves control inheritance, applies overlays and
// materializes the resulting control set, all under a per-tenant lock so a
// tenant never has two runs racing.
package resolution

import (
	"time"

	"controlplane/internal/overlay"
	"controlplane/internal/rules"
	id "controlplane/pkg/domain"
)

// RunState is a stage in the resolution state machine. Stages only move
// forward; a failed run keeps the stage it failed in plus the failure flag.
type RunState string

const (
	StateCreated             RunState = "created"
	StateContextBuilt        RunState = "context_built"
	StateRulesEvaluated      RunState = "rules_evaluated"
	StateInheritanceResolved RunState = "inheritance_resolved"
	StateOverlaysApplied     RunState = "overlays_applied"
	StateMaterialized        RunState = "materialized"
)

// stageOrder fixes the forward-only progression.
var stageOrder = map[RunState]int{
	StateCreated:             0,
	StateContextBuilt:        1,
	StateRulesEvaluated:      2,
	StateInheritanceResolved: 3,
	StateOverlaysApplied:     4,
	StateMaterialized:        5,
}

// CanAdvanceTo reports whether next is the immediate successor of s.
func (s RunState) CanAdvanceTo(next RunState) bool {
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	return ok && to == from+1
}

// Run is one resolution attempt. Every run materializes a fresh control set;
// earlier runs stay queryable for audit.
type Run struct {
	ID       id.RunID
	TenantID id.TenantID
	WizardID id.WizardID
	// SnapshotVersion pins the wizard answers this run evaluated.
	SnapshotVersion int
	State           RunState
	Failed          bool
	FailureReason   string
	StartedAt       time.Time
	FinishedAt      *time.Time
	Summary         Summary
}

// EntrySource records which engine stage produced a control set entry.
type EntrySource string

const (
	SourceFramework   EntrySource = "framework"
	SourceRule        EntrySource = "rule"
	SourceInheritance EntrySource = "inheritance"
	SourceOverlay     EntrySource = "overlay"
	SourceCanonical   EntrySource = "canonical_dedup"
	SourceTailoring   EntrySource = "tailoring"
)

// EntryStatus tracks supersession. Entries are never deleted; tailoring and
// re-runs supersede them.
type EntryStatus string

const (
	EntryActive     EntryStatus = "active"
	EntrySuperseded EntryStatus = "superseded"
	EntryRemoved    EntryStatus = "removed"
)

// ControlSetEntry is one materialized control obligation for a tenant.
type ControlSetEntry struct {
	ID            id.EntryID
	TenantID      id.TenantID
	RunID         id.RunID
	ControlID     id.ControlID
	ControlCode   string
	FrameworkCode string
	Mandatory     bool
	// EvidenceCadence is how often evidence must be collected, e.g.
	// "quarterly". Overlays and tailoring may tighten it.
	EvidenceCadence string
	Aspects         map[string]string
	Source          EntrySource
	// SourceCode names the rule, overlay or decision that produced the
	// entry, for traceability.
	SourceCode string
	Status     EntryStatus
	// SupersededBy links to the entry that replaced this one.
	SupersededBy id.EntryID
	// BaselineID links a tailored entry back to the entry it tailored.
	BaselineID id.EntryID
	DecisionID id.DecisionID
	CreatedAt  time.Time
}

// EvaluationLog is the immutable record of one rule-set pass: which snapshot
// fed it, every per-rule outcome, and how long the pass took. Replays compare
// against this row bit for bit.
type EvaluationLog struct {
	RunID    id.RunID
	TenantID id.TenantID
	// SnapshotVersion references the answer snapshot the context was built
	// from.
	SnapshotVersion int
	RuleSetCode     string
	RuleSetVersion  string
	Outcomes        []rules.Outcome
	Duration        time.Duration
	EvaluatedAt     time.Time
}

// SelectionReason says why a framework entered the tenant's scope.
type SelectionReason string

const (
	SelectionMandatory SelectionReason = "mandatory"
	SelectionExplicit  SelectionReason = "explicit"
	SelectionRule      SelectionReason = "rule"
)

// FrameworkSelection is one framework pulled into a run's scope.
type FrameworkSelection struct {
	FrameworkID   id.FrameworkID
	FrameworkCode string
	Name          string
	Reason        SelectionReason
	// RuleCode is set when Reason is SelectionRule.
	RuleCode  string
	Mandatory bool
}

// BoundaryKind classifies a scope boundary element.
type BoundaryKind string

const (
	BoundaryLegalEntity BoundaryKind = "legal_entity"
	BoundarySystem      BoundaryKind = "system"
	BoundaryLocation    BoundaryKind = "location"
	BoundaryExclusion   BoundaryKind = "exclusion"
)

// ScopeBoundary is one element of the tenant's assessment scope. Exclusions
// carry the rationale that justifies leaving them out.
type ScopeBoundary struct {
	Kind        BoundaryKind
	Name        string
	Criticality string
	Rationale   string
}

// RiskFactor is one weighted contributor to the tenant risk score.
type RiskFactor struct {
	Name    string
	Present bool
	Weight  int
}

// RiskProfile is the tenant's computed risk classification with its
// breakdown, so the score is explainable factor by factor.
type RiskProfile struct {
	Score   int
	Tier    string
	Factors []RiskFactor
}

// Summary is what a run reports back: everything a caller needs to render
// the result without walking the stores.
type Summary struct {
	RunID               id.RunID
	TenantID            id.TenantID
	SnapshotVersion     int
	State               RunState
	FrameworkSelections []FrameworkSelection
	OverlaysApplied     []overlay.Applied
	ControlsResolved    int
	ScopeBoundaries     []ScopeBoundary
	RiskProfile         RiskProfile
	ExplanationsCount   int
	Warnings            []string
	Errors              []string
	CompletedAt         time.Time
}
