// Package explain records why the engine decided what it decided.
//
// Every framework selection, overlay application, applicability outcome and
// risk classification produced by a resolution run lands here as a payload a
// compliance officer (or an auditor, years later) can read without re-running
// the engine. Payloads are immutable apart from a single override slot.
package explain

import (
	"time"

	id "controlplane/pkg/domain"
)

// DecisionType classifies what kind of engine decision a payload explains.
type DecisionType string

const (
	DecisionFrameworkSelection   DecisionType = "framework_selection"
	DecisionOverlayApplication   DecisionType = "overlay_application"
	DecisionControlApplicability DecisionType = "control_applicability"
	DecisionRiskClassification   DecisionType = "risk_classification"
)

// Override captures a human reversal of an engine decision. At most one per
// payload; further overrides become follow-up payloads.
type Override struct {
	By            string    `json:"by"`
	Decision      string    `json:"decision"`
	Justification string    `json:"justification"`
	At            time.Time `json:"at"`
}

// Payload is one explainability record.
type Payload struct {
	ID       id.PayloadID
	TenantID id.TenantID
	RunID    id.RunID
	Type     DecisionType
	// SubjectCode names what was decided about (framework code, control
	// code, overlay code, or risk tier).
	SubjectCode string
	SubjectName string
	Decision    string
	Reason      string
	ReasonAr    string
	// Factors is the slice of evaluation context the decision depended on,
	// rendered as strings for display.
	Factors    map[string]string
	References []string
	// Confidence is 0-100.
	Confidence  int
	GeneratedAt time.Time
	// Override is the one-shot override slot. Nil until a human overrides.
	Override *Override
	// SupersedesID links a follow-up payload to the payload whose override
	// slot was already occupied. Zero for first-hand payloads.
	SupersedesID id.PayloadID
}

// Overridden reports whether the override slot is occupied.
func (p Payload) Overridden() bool { return p.Override != nil }
