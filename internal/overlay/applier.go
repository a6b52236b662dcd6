// Package overlay applies conditionally-triggered control overlays on top of
// an inheritance-resolved baseline. Overlays are additive or modifying
// bundles (sector, jurisdiction, data-type, technology); they are not parent
// relationships and never touch the inheritance graph.
package overlay

import (
	"sort"

	"controlplane/internal/rules"
	id "controlplane/pkg/domain"
)

// Type classifies an overlay bundle.
type Type string

const (
	TypeJurisdiction Type = "Jurisdiction"
	TypeSector       Type = "Sector"
	TypeDataType     Type = "DataType"
	TypeTechnology   Type = "Technology"
	TypeGeneral      Type = "General"
)

// ControlDelta is one overlay entry: a new control to add or a set of field
// changes for an existing baseline control, keyed by control code.
type ControlDelta struct {
	ControlCode string
	// Add appends a new requirement instead of modifying an existing one.
	Add bool
	// Aspects to set or override on the target control. Zero-valued (empty
	// string) aspects are skipped under field-granularity merging so an
	// overlay never erases unrelated baseline fields by accident.
	Aspects map[string]string
	// Mandatory, when non-nil, overrides the mandatory flag.
	Mandatory *bool
	// EvidenceCadence, when non-empty, overrides the evidence cadence.
	EvidenceCadence string
}

// Overlay is a named, typed bundle with a structured trigger condition.
type Overlay struct {
	ID      id.OverlayID
	Code    string
	Name    string
	Type    Type
	Trigger rules.Condition
	// Priority orders application; lower applies first, so later (higher
	// priority number) overlays win conflicting fields.
	Priority int
	Active   bool
	Deltas   []ControlDelta
	// Reason is the human-readable explanation used when the overlay fires.
	Reason   string
	ReasonAr string
}

// MergePolicy selects how a modifying delta combines with the baseline.
// Whether field-granularity or whole-record replacement is the intended
// business semantics is not settled; both are supported and the choice is
// configuration, not code.
type MergePolicy string

const (
	// MergeFieldGranularity merges per field: the overlay wins only the
	// fields it sets, untouched baseline fields survive.
	MergeFieldGranularity MergePolicy = "field"
	// MergeWholeRecord replaces the target's aspect map outright.
	MergeWholeRecord MergePolicy = "record"
)

// Requirement is a baseline or overlay-sourced control requirement flowing
// through the applier. Source distinguishes catalog baseline entries from
// overlay additions for the materialized control set.
type Requirement struct {
	ControlID       id.ControlID
	ControlCode     string
	FrameworkCode   string
	Aspects         map[string]string
	Mandatory       bool
	EvidenceCadence string
	Source          string
	SourceCode      string
}

// Applied is the audit record for one overlay that fired.
type Applied struct {
	Overlay     Overlay
	TriggerText string
	// MatchedFields snapshots the context fields the trigger consulted.
	MatchedFields map[string]rules.Value
	// AddedCodes and ModifiedCodes record the delta for explainability.
	AddedCodes    []string
	ModifiedCodes []string
}

// Result carries the merged requirement list and the applied-overlay log.
type Result struct {
	Merged  []Requirement
	Applied []Applied
}

// Apply evaluates each active overlay's trigger against the context and
// folds the firing overlays into the baseline in priority order. Overlays
// named in forced apply regardless of their trigger; applicability rules
// that target an overlay use this path.
//
// Conservation invariant: len(Merged) == len(baseline) + total added; a
// modifying delta whose target code is absent from the baseline is recorded
// as an addition rather than dropped silently.
func Apply(baseline []Requirement, overlays []Overlay, evalCtx rules.Context, policy MergePolicy, forced ...string) Result {
	forcedCodes := make(map[string]bool, len(forced))
	for _, code := range forced {
		forcedCodes[code] = true
	}
	ordered := make([]Overlay, 0, len(overlays))
	for _, o := range overlays {
		if o.Active {
			ordered = append(ordered, o)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Code < ordered[j].Code
	})

	merged := make([]Requirement, len(baseline))
	index := make(map[string]int, len(baseline))
	for i, req := range baseline {
		merged[i] = cloneRequirement(req)
		index[req.ControlCode] = i
	}

	result := Result{}
	for _, o := range ordered {
		fired, err := o.Trigger.Eval(evalCtx)
		if err != nil || !fired {
			// A trigger needing an absent field simply does not fire; the
			// rule evaluator stage already logged context gaps.
			if !forcedCodes[o.Code] {
				continue
			}
		}

		applied := Applied{
			Overlay:       o,
			TriggerText:   o.Trigger.String(),
			MatchedFields: triggerSnapshot(o.Trigger, evalCtx),
		}

		for _, delta := range o.Deltas {
			pos, exists := index[delta.ControlCode]
			if delta.Add || !exists {
				added := requirementFromDelta(o, delta)
				index[delta.ControlCode] = len(merged)
				merged = append(merged, added)
				applied.AddedCodes = append(applied.AddedCodes, delta.ControlCode)
				continue
			}
			merged[pos] = mergeDelta(merged[pos], delta, policy)
			applied.ModifiedCodes = append(applied.ModifiedCodes, delta.ControlCode)
		}

		result.Applied = append(result.Applied, applied)
	}

	result.Merged = merged
	return result
}

func cloneRequirement(req Requirement) Requirement {
	aspects := make(map[string]string, len(req.Aspects))
	for k, v := range req.Aspects {
		aspects[k] = v
	}
	req.Aspects = aspects
	return req
}

func requirementFromDelta(o Overlay, delta ControlDelta) Requirement {
	aspects := make(map[string]string, len(delta.Aspects))
	for k, v := range delta.Aspects {
		aspects[k] = v
	}
	req := Requirement{
		ControlCode:     delta.ControlCode,
		Aspects:         aspects,
		Source:          "overlay",
		SourceCode:      o.Code,
		EvidenceCadence: delta.EvidenceCadence,
	}
	if delta.Mandatory != nil {
		req.Mandatory = *delta.Mandatory
	}
	return req
}

// mergeDelta folds a modifying delta into an existing requirement under the
// configured policy. Later overlays win per field (or per record), never by
// discarding the whole baseline entry.
func mergeDelta(target Requirement, delta ControlDelta, policy MergePolicy) Requirement {
	switch policy {
	case MergeWholeRecord:
		aspects := make(map[string]string, len(delta.Aspects))
		for k, v := range delta.Aspects {
			aspects[k] = v
		}
		target.Aspects = aspects
	default:
		for k, v := range delta.Aspects {
			if v == "" {
				continue
			}
			target.Aspects[k] = v
		}
	}
	if delta.Mandatory != nil {
		target.Mandatory = *delta.Mandatory
	}
	if delta.EvidenceCadence != "" {
		target.EvidenceCadence = delta.EvidenceCadence
	}
	return target
}

func triggerSnapshot(cond rules.Condition, evalCtx rules.Context) map[string]rules.Value {
	snapshot := map[string]rules.Value{}
	if v, ok := evalCtx.Lookup(cond.Field); ok {
		snapshot[cond.Field] = v
	}
	return snapshot
}
