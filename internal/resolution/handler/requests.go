package handler

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"controlplane/internal/tailoring"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

// AppendSnapshotRequest is the HTTP request body for POST /snapshots.
type AppendSnapshotRequest struct {
	WizardID      string          `json:"wizard_id"`
	CompletedStep int             `json:"completed_step"`
	Answers       json.RawMessage `json:"answers"`

	parsedWizardID id.WizardID
}

// Validate validates and parses the request. Payload-level checks (valid
// JSON, finalized wizard) live in the snapshot service.
func (r *AppendSnapshotRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.WizardID = strings.TrimSpace(r.WizardID)
	if r.WizardID == "" {
		return dErrors.New(dErrors.CodeValidation, "wizard_id is required")
	}
	wizardUUID, err := uuid.Parse(r.WizardID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "wizard_id must be a UUID")
	}
	if r.CompletedStep < 0 {
		return dErrors.New(dErrors.CodeValidation, "completed_step must not be negative")
	}
	if len(r.Answers) == 0 {
		return dErrors.New(dErrors.CodeValidation, "answers payload is required")
	}
	r.parsedWizardID = id.WizardID(wizardUUID)
	return nil
}

// ParsedWizardID returns the validated wizard ID.
func (r *AppendSnapshotRequest) ParsedWizardID() id.WizardID {
	return r.parsedWizardID
}

// RunRequest is the HTTP request body for POST /resolution/run.
type RunRequest struct {
	WizardID string `json:"wizard_id"`

	parsedWizardID id.WizardID
}

// Validate validates and parses the request.
func (r *RunRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.WizardID = strings.TrimSpace(r.WizardID)
	if r.WizardID == "" {
		return dErrors.New(dErrors.CodeValidation, "wizard_id is required")
	}
	wizardUUID, err := uuid.Parse(r.WizardID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "wizard_id must be a UUID")
	}
	r.parsedWizardID = id.WizardID(wizardUUID)
	return nil
}

// ParsedWizardID returns the validated wizard ID.
func (r *RunRequest) ParsedWizardID() id.WizardID {
	return r.parsedWizardID
}

// OverrideRequest is the HTTP request body for
// POST /explanations/{payloadID}/override.
type OverrideRequest struct {
	Decision      string `json:"decision"`
	Justification string `json:"justification"`
}

// Validate validates the request.
func (r *OverrideRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Decision = strings.TrimSpace(r.Decision)
	r.Justification = strings.TrimSpace(r.Justification)
	if r.Decision == "" {
		return dErrors.New(dErrors.CodeValidation, "decision is required")
	}
	if r.Justification == "" {
		return dErrors.New(dErrors.CodeValidation, "justification is required")
	}
	return nil
}

// TailorRequest is the HTTP request body for
// POST /controlset/{entryID}/tailor.
type TailorRequest struct {
	Type                string            `json:"type"`
	Justification       string            `json:"justification"`
	CompensatingControl string            `json:"compensating_control"`
	ModifiedAspects     map[string]string `json:"modified_aspects"`

	parsedType tailoring.DecisionType
}

// Validate validates and parses the request. Decision-type specific rules
// (justification requirements, compensating control resolution) live in the
// tailoring service.
func (r *TailorRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Type = strings.TrimSpace(strings.ToLower(r.Type))
	switch tailoring.DecisionType(r.Type) {
	case tailoring.DecisionAccept, tailoring.DecisionModify,
		tailoring.DecisionRemove, tailoring.DecisionCompensate:
		r.parsedType = tailoring.DecisionType(r.Type)
	case "":
		return dErrors.New(dErrors.CodeValidation, "type is required")
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown decision type %q", r.Type)
	}
	r.Justification = strings.TrimSpace(r.Justification)
	r.CompensatingControl = strings.TrimSpace(r.CompensatingControl)
	return nil
}

// ParsedType returns the validated decision type.
func (r *TailorRequest) ParsedType() tailoring.DecisionType {
	return r.parsedType
}
