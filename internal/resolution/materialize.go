package resolution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"controlplane/internal/explain"
	"controlplane/internal/overlay"
	"controlplane/internal/rules"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/requestcontext"
)

// materializationInput carries everything the final stage writes.
type materializationInput struct {
	answers      Answers
	evalCtx      rules.Context
	evalLog      EvaluationLog
	selections   []FrameworkSelection
	overlays     []overlay.Applied
	requirements []overlay.Requirement
	dedupDrops   []dedupDrop
	boundaries   []ScopeBoundary
	risk         RiskProfile
}

// materialize writes the control set, evaluation log and explainability
// payloads in one transaction and moves the run to its terminal state.
// Nothing before this stage has touched the tenant's control set, so a
// failure anywhere in the transaction leaves no partial materialization.
func (s *Service) materialize(ctx context.Context, run *Run, in materializationInput) (Summary, error) {
	_, span := s.tracer.Start(ctx, "resolution.materialize")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	now := requestcontext.Now(ctx)
	entries := s.buildEntries(run, in, now)
	payloads := s.buildPayloads(run, in, now)

	summary := Summary{
		RunID:               run.ID,
		TenantID:            run.TenantID,
		SnapshotVersion:     run.SnapshotVersion,
		State:               StateMaterialized,
		FrameworkSelections: in.selections,
		OverlaysApplied:     in.overlays,
		ControlsResolved:    len(entries),
		ScopeBoundaries:     in.boundaries,
		RiskProfile:         in.risk,
		ExplanationsCount:   len(payloads),
		CompletedAt:         now,
	}
	if len(in.selections) == 0 {
		summary.Warnings = append(summary.Warnings, "no frameworks selected; control set is empty")
	}
	for _, outcome := range in.evalLog.Outcomes {
		if outcome.Result == rules.OutcomeError {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("rule %s: %s", outcome.RuleCode, outcome.ErrorDetail))
		}
	}

	if !run.State.CanAdvanceTo(StateMaterialized) {
		return Summary{}, dErrors.Newf(dErrors.CodeInternal,
			"illegal run transition %s -> %s", run.State, StateMaterialized)
	}
	run.State = StateMaterialized
	run.Summary = summary
	run.FinishedAt = &now

	err := s.store.InTx(ctx, func(txCtx context.Context) error {
		if err := s.store.SaveRun(txCtx, *run); err != nil {
			return err
		}
		if err := s.store.SaveEntries(txCtx, entries); err != nil {
			return err
		}
		if err := s.store.SaveEvaluationLog(txCtx, in.evalLog); err != nil {
			return err
		}
		for _, p := range payloads {
			if err := s.explains.Create(txCtx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeResolution, "materialization failed")
	}
	return summary, nil
}

func (s *Service) buildEntries(run *Run, in materializationInput, now time.Time) []ControlSetEntry {
	entries := make([]ControlSetEntry, 0, len(in.requirements))
	for _, req := range in.requirements {
		entries = append(entries, ControlSetEntry{
			ID:              id.NewEntryID(),
			TenantID:        run.TenantID,
			RunID:           run.ID,
			ControlID:       req.ControlID,
			ControlCode:     req.ControlCode,
			FrameworkCode:   req.FrameworkCode,
			Mandatory:       req.Mandatory,
			EvidenceCadence: req.EvidenceCadence,
			Aspects:         req.Aspects,
			Source:          entrySource(req.Source),
			SourceCode:      req.SourceCode,
			Status:          EntryActive,
			CreatedAt:       now,
		})
	}
	return entries
}

func entrySource(source string) EntrySource {
	switch EntrySource(source) {
	case SourceFramework, SourceRule, SourceInheritance, SourceOverlay, SourceCanonical, SourceTailoring:
		return EntrySource(source)
	default:
		return SourceRule
	}
}

// buildPayloads emits one explanation per automated decision: each framework
// selection, each applied overlay, each canonical dedup suppression, and the
// risk classification.
func (s *Service) buildPayloads(run *Run, in materializationInput, now time.Time) []explain.Payload {
	factors := renderFactors(in.evalCtx)
	var payloads []explain.Payload

	for _, sel := range in.selections {
		payloads = append(payloads, explain.Payload{
			ID:          id.NewPayloadID(),
			TenantID:    run.TenantID,
			RunID:       run.ID,
			Type:        explain.DecisionFrameworkSelection,
			SubjectCode: sel.FrameworkCode,
			SubjectName: sel.Name,
			Decision:    "included",
			Reason:      selectionReason(sel),
			Factors:     factors,
			Confidence:  100,
			GeneratedAt: now,
		})
	}

	for _, applied := range in.overlays {
		payloads = append(payloads, explain.Payload{
			ID:          id.NewPayloadID(),
			TenantID:    run.TenantID,
			RunID:       run.ID,
			Type:        explain.DecisionOverlayApplication,
			SubjectCode: applied.Overlay.Code,
			SubjectName: applied.Overlay.Name,
			Decision:    "applied",
			Reason:      applied.Overlay.Reason,
			ReasonAr:    applied.Overlay.ReasonAr,
			Factors:     renderMatched(applied.MatchedFields),
			References:  []string{applied.TriggerText},
			Confidence:  100,
			GeneratedAt: now,
		})
	}

	for _, drop := range in.dedupDrops {
		payloads = append(payloads, explain.Payload{
			ID:          id.NewPayloadID(),
			TenantID:    run.TenantID,
			RunID:       run.ID,
			Type:        explain.DecisionControlApplicability,
			SubjectCode: drop.Requirement.ControlCode,
			Decision:    "deduplicated",
			Reason:      drop.Reason,
			References:  []string{drop.CoveredBy},
			Confidence:  100,
			GeneratedAt: now,
		})
	}

	payloads = append(payloads, explain.Payload{
		ID:          id.NewPayloadID(),
		TenantID:    run.TenantID,
		RunID:       run.ID,
		Type:        explain.DecisionRiskClassification,
		SubjectCode: in.risk.Tier,
		SubjectName: "tenant risk profile",
		Decision:    strconv.Itoa(in.risk.Score),
		Reason:      riskReason(in.risk),
		Factors:     factors,
		Confidence:  100,
		GeneratedAt: now,
	})
	return payloads
}

func selectionReason(sel FrameworkSelection) string {
	switch sel.Reason {
	case SelectionMandatory:
		return "mandatory for the organization's sector and country"
	case SelectionRule:
		return fmt.Sprintf("matched applicability rule %s", sel.RuleCode)
	default:
		return "explicitly selected by the organization"
	}
}

func riskReason(risk RiskProfile) string {
	var present []string
	for _, f := range risk.Factors {
		if f.Present {
			present = append(present, fmt.Sprintf("%s(+%d)", f.Name, f.Weight))
		}
	}
	if len(present) == 0 {
		return "no weighted risk factors present"
	}
	return "risk factors: " + strings.Join(present, ", ")
}

func renderFactors(evalCtx rules.Context) map[string]string {
	out := make(map[string]string, evalCtx.Len())
	for field, value := range evalCtx.Factors() {
		out[field] = value.Display()
	}
	return out
}

func renderMatched(fields map[string]rules.Value) map[string]string {
	out := make(map[string]string, len(fields))
	for field, value := range fields {
		out[field] = value.Display()
	}
	return out
}
