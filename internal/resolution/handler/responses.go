package handler

import (
	"time"

	"github.com/google/uuid"

	"controlplane/internal/explain"
	"controlplane/internal/resolution"
	"controlplane/internal/snapshot"
)

// SnapshotResponse is the HTTP shape of an appended answer snapshot. The
// answers payload is omitted; clients read it back through history endpoints
// if they need it.
type SnapshotResponse struct {
	ID            string    `json:"id"`
	WizardID      string    `json:"wizard_id"`
	Version       int       `json:"version"`
	CompletedStep int       `json:"completed_step"`
	ContentHash   string    `json:"content_hash"`
	Final         bool      `json:"final"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// FromSnapshot converts an answer snapshot to its HTTP shape.
func FromSnapshot(s snapshot.AnswerSnapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:            uuid.UUID(s.ID).String(),
		WizardID:      uuid.UUID(s.WizardID).String(),
		Version:       s.Version,
		CompletedStep: s.CompletedStep,
		ContentHash:   s.ContentHash,
		Final:         s.Final,
		CreatedBy:     s.CreatedBy,
		CreatedAt:     s.CreatedAt,
	}
}

// SummaryResponse is the HTTP shape of a resolution summary.
type SummaryResponse struct {
	RunID               string                       `json:"run_id"`
	SnapshotVersion     int                          `json:"snapshot_version"`
	State               string                       `json:"state"`
	FrameworkSelections []FrameworkSelectionResponse `json:"framework_selections"`
	OverlaysApplied     []AppliedOverlayResponse     `json:"overlays_applied"`
	ControlsResolved    int                          `json:"controls_resolved"`
	ScopeBoundaries     []ScopeBoundaryResponse      `json:"scope_boundaries"`
	RiskProfile         RiskProfileResponse          `json:"risk_profile"`
	ExplanationsCount   int                          `json:"explanations_count"`
	Warnings            []string                     `json:"warnings,omitempty"`
	Errors              []string                     `json:"errors,omitempty"`
	CompletedAt         time.Time                    `json:"completed_at"`
}

// FrameworkSelectionResponse is one selected framework.
type FrameworkSelectionResponse struct {
	FrameworkCode string `json:"framework_code"`
	Name          string `json:"name"`
	Reason        string `json:"reason"`
	RuleCode      string `json:"rule_code,omitempty"`
	Mandatory     bool   `json:"mandatory"`
}

// AppliedOverlayResponse is one overlay that fired during the run.
type AppliedOverlayResponse struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	TriggerText   string   `json:"trigger_text"`
	AddedCodes    []string `json:"added_codes,omitempty"`
	ModifiedCodes []string `json:"modified_codes,omitempty"`
}

// ScopeBoundaryResponse is one element of the assessment scope.
type ScopeBoundaryResponse struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Criticality string `json:"criticality,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}

// RiskProfileResponse is the computed risk classification.
type RiskProfileResponse struct {
	Score   int                  `json:"score"`
	Tier    string               `json:"tier"`
	Factors []RiskFactorResponse `json:"factors"`
}

// RiskFactorResponse is one weighted risk contributor.
type RiskFactorResponse struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
	Weight  int    `json:"weight"`
}

// FromSummary converts a domain summary to its HTTP shape.
func FromSummary(s resolution.Summary) SummaryResponse {
	selections := make([]FrameworkSelectionResponse, 0, len(s.FrameworkSelections))
	for _, sel := range s.FrameworkSelections {
		selections = append(selections, FrameworkSelectionResponse{
			FrameworkCode: sel.FrameworkCode,
			Name:          sel.Name,
			Reason:        string(sel.Reason),
			RuleCode:      sel.RuleCode,
			Mandatory:     sel.Mandatory,
		})
	}
	overlays := make([]AppliedOverlayResponse, 0, len(s.OverlaysApplied))
	for _, a := range s.OverlaysApplied {
		overlays = append(overlays, AppliedOverlayResponse{
			Code:          a.Overlay.Code,
			Name:          a.Overlay.Name,
			TriggerText:   a.TriggerText,
			AddedCodes:    a.AddedCodes,
			ModifiedCodes: a.ModifiedCodes,
		})
	}
	boundaries := make([]ScopeBoundaryResponse, 0, len(s.ScopeBoundaries))
	for _, b := range s.ScopeBoundaries {
		boundaries = append(boundaries, ScopeBoundaryResponse{
			Kind:        string(b.Kind),
			Name:        b.Name,
			Criticality: b.Criticality,
			Rationale:   b.Rationale,
		})
	}
	factors := make([]RiskFactorResponse, 0, len(s.RiskProfile.Factors))
	for _, f := range s.RiskProfile.Factors {
		factors = append(factors, RiskFactorResponse{
			Name:    f.Name,
			Present: f.Present,
			Weight:  f.Weight,
		})
	}
	return SummaryResponse{
		RunID:               uuid.UUID(s.RunID).String(),
		SnapshotVersion:     s.SnapshotVersion,
		State:               string(s.State),
		FrameworkSelections: selections,
		OverlaysApplied:     overlays,
		ControlsResolved:    s.ControlsResolved,
		ScopeBoundaries:     boundaries,
		RiskProfile: RiskProfileResponse{
			Score:   s.RiskProfile.Score,
			Tier:    s.RiskProfile.Tier,
			Factors: factors,
		},
		ExplanationsCount: s.ExplanationsCount,
		Warnings:          s.Warnings,
		Errors:            s.Errors,
		CompletedAt:       s.CompletedAt,
	}
}

// EntryResponse is the HTTP shape of a control set entry.
type EntryResponse struct {
	ID              string            `json:"id"`
	RunID           string            `json:"run_id"`
	ControlCode     string            `json:"control_code"`
	FrameworkCode   string            `json:"framework_code"`
	Mandatory       bool              `json:"mandatory"`
	EvidenceCadence string            `json:"evidence_cadence,omitempty"`
	Aspects         map[string]string `json:"aspects,omitempty"`
	Source          string            `json:"source"`
	SourceCode      string            `json:"source_code,omitempty"`
	Status          string            `json:"status"`
	SupersededBy    string            `json:"superseded_by,omitempty"`
	BaselineID      string            `json:"baseline_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// FromEntry converts a control set entry to its HTTP shape.
func FromEntry(e resolution.ControlSetEntry) EntryResponse {
	resp := EntryResponse{
		ID:              uuid.UUID(e.ID).String(),
		RunID:           uuid.UUID(e.RunID).String(),
		ControlCode:     e.ControlCode,
		FrameworkCode:   e.FrameworkCode,
		Mandatory:       e.Mandatory,
		EvidenceCadence: e.EvidenceCadence,
		Aspects:         e.Aspects,
		Source:          string(e.Source),
		SourceCode:      e.SourceCode,
		Status:          string(e.Status),
		CreatedAt:       e.CreatedAt,
	}
	if !e.SupersededBy.IsNil() {
		resp.SupersededBy = uuid.UUID(e.SupersededBy).String()
	}
	if !e.BaselineID.IsNil() {
		resp.BaselineID = uuid.UUID(e.BaselineID).String()
	}
	return resp
}

// FromEntries converts a slice of entries.
func FromEntries(entries []resolution.ControlSetEntry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromEntry(e))
	}
	return out
}

// PayloadResponse is the HTTP shape of an explainability payload.
type PayloadResponse struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	Type         string            `json:"type"`
	SubjectCode  string            `json:"subject_code"`
	SubjectName  string            `json:"subject_name,omitempty"`
	Decision     string            `json:"decision"`
	Reason       string            `json:"reason"`
	ReasonAr     string            `json:"reason_ar,omitempty"`
	Factors      map[string]string `json:"factors,omitempty"`
	References   []string          `json:"references,omitempty"`
	Confidence   int               `json:"confidence"`
	GeneratedAt  time.Time         `json:"generated_at"`
	Override     *OverrideResponse `json:"override,omitempty"`
	SupersedesID string            `json:"supersedes_id,omitempty"`
}

// OverrideResponse is the occupied override slot.
type OverrideResponse struct {
	By            string    `json:"by"`
	Decision      string    `json:"decision"`
	Justification string    `json:"justification"`
	At            time.Time `json:"at"`
}

// FromPayload converts an explainability payload to its HTTP shape.
func FromPayload(p explain.Payload) PayloadResponse {
	resp := PayloadResponse{
		ID:          uuid.UUID(p.ID).String(),
		RunID:       uuid.UUID(p.RunID).String(),
		Type:        string(p.Type),
		SubjectCode: p.SubjectCode,
		SubjectName: p.SubjectName,
		Decision:    p.Decision,
		Reason:      p.Reason,
		ReasonAr:    p.ReasonAr,
		Factors:     p.Factors,
		References:  p.References,
		Confidence:  p.Confidence,
		GeneratedAt: p.GeneratedAt,
	}
	if p.Override != nil {
		resp.Override = &OverrideResponse{
			By:            p.Override.By,
			Decision:      p.Override.Decision,
			Justification: p.Override.Justification,
			At:            p.Override.At,
		}
	}
	if !p.SupersedesID.IsNil() {
		resp.SupersedesID = uuid.UUID(p.SupersedesID).String()
	}
	return resp
}

// FromPayloads converts a slice of payloads.
func FromPayloads(payloads []explain.Payload) []PayloadResponse {
	out := make([]PayloadResponse, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, FromPayload(p))
	}
	return out
}
