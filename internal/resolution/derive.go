package resolution

import (
	"fmt"
	"sort"

	"controlplane/internal/catalog"
	"controlplane/internal/overlay"
	"controlplane/internal/rules"
)

// deriveFrameworkSelections works out which frameworks are in scope for a
// tenant. Three paths pull a framework in, in precedence order: mandatory by
// country and sector, matched by an applicability rule, or explicitly
// selected in the wizard. A framework pulled in by more than one path keeps
// the strongest reason.
func deriveFrameworkSelections(a Answers, cat catalog.Snapshot, matched []rules.MatchedRule) []FrameworkSelection {
	reasons := map[string]FrameworkSelection{}

	for _, fw := range cat.Frameworks {
		if !fw.Active {
			continue
		}
		if fw.Mandatory && fw.CountryCode == a.Country && sectorApplies(fw.ApplicableSectors, a.Sector) {
			reasons[fw.Code] = FrameworkSelection{
				FrameworkID:   fw.ID,
				FrameworkCode: fw.Code,
				Name:          fw.Name,
				Reason:        SelectionMandatory,
				Mandatory:     true,
			}
		}
	}

	for _, m := range matched {
		if m.Rule.TargetKind != rules.TargetFramework {
			continue
		}
		fw, ok := cat.FrameworkByCode(m.Rule.TargetCode)
		if !ok || !fw.Active {
			continue
		}
		if existing, seen := reasons[fw.Code]; seen && existing.Reason == SelectionMandatory {
			continue
		}
		reasons[fw.Code] = FrameworkSelection{
			FrameworkID:   fw.ID,
			FrameworkCode: fw.Code,
			Name:          fw.Name,
			Reason:        SelectionRule,
			RuleCode:      m.Rule.Code,
			Mandatory:     fw.Mandatory,
		}
	}

	for _, code := range a.SelectedFrameworks {
		if _, seen := reasons[code]; seen {
			continue
		}
		fw, ok := cat.FrameworkByCode(code)
		if !ok || !fw.Active {
			continue
		}
		reasons[code] = FrameworkSelection{
			FrameworkID:   fw.ID,
			FrameworkCode: fw.Code,
			Name:          fw.Name,
			Reason:        SelectionExplicit,
		}
	}

	selections := make([]FrameworkSelection, 0, len(reasons))
	for _, sel := range reasons {
		selections = append(selections, sel)
	}
	sort.Slice(selections, func(i, j int) bool {
		return selections[i].FrameworkCode < selections[j].FrameworkCode
	})
	return selections
}

// sectorApplies treats an empty applicable-sector list as "all sectors".
func sectorApplies(applicable []string, sector string) bool {
	if len(applicable) == 0 {
		return true
	}
	for _, s := range applicable {
		if s == sector {
			return true
		}
	}
	return false
}

// deriveScopeBoundaries lists what the assessment covers and what it
// deliberately leaves out.
func deriveScopeBoundaries(a Answers) []ScopeBoundary {
	var boundaries []ScopeBoundary
	for _, entity := range a.LegalEntities {
		boundaries = append(boundaries, ScopeBoundary{
			Kind:        BoundaryLegalEntity,
			Name:        entity,
			Criticality: "tier2",
		})
	}
	for _, system := range a.Systems {
		boundaries = append(boundaries, ScopeBoundary{
			Kind:        BoundarySystem,
			Name:        system,
			Criticality: "tier2",
		})
	}
	for _, location := range a.Locations {
		boundaries = append(boundaries, ScopeBoundary{
			Kind:        BoundaryLocation,
			Name:        location,
			Criticality: "tier3",
		})
	}
	for _, exclusion := range a.Exclusions {
		boundaries = append(boundaries, ScopeBoundary{
			Kind:        BoundaryExclusion,
			Name:        exclusion,
			Criticality: "tier3",
			Rationale:   "excluded during onboarding",
		})
	}
	return boundaries
}

// Risk factor weights. The tier thresholds and weights come from the GRC
// methodology the catalog is calibrated against; changing them invalidates
// historical risk classifications.
var riskWeights = []struct {
	name    string
	weight  int
	present func(Answers) bool
}{
	{"pii", 15, func(a Answers) bool { return a.processesPII() }},
	{"pci", 25, func(a Answers) bool { return a.HasPaymentCardData }},
	{"phi", 20, func(a Answers) bool { return a.processesPHI() }},
	{"classified", 30, func(a Answers) bool { return a.processesClassified() }},
	{"crossBorder", 15, func(a Answers) bool { return a.HasCrossBorderTransfers }},
	{"thirdParty", 10, func(a Answers) bool { return a.HasThirdPartySharing }},
	{"internetFacing", 10, func(a Answers) bool { return a.HasInternetFacingSystems }},
	{"cloud", 5, func(a Answers) bool { return a.usesCloud() }},
}

// deriveRiskProfile scores the tenant and keeps the per-factor breakdown so
// the classification is explainable.
func deriveRiskProfile(a Answers) RiskProfile {
	profile := RiskProfile{Factors: make([]RiskFactor, 0, len(riskWeights))}
	for _, factor := range riskWeights {
		present := factor.present(a)
		profile.Factors = append(profile.Factors, RiskFactor{
			Name:    factor.name,
			Present: present,
			Weight:  factor.weight,
		})
		if present {
			profile.Score += factor.weight
		}
	}
	if profile.Score > 100 {
		profile.Score = 100
	}
	switch {
	case profile.Score >= 70:
		profile.Tier = "critical"
	case profile.Score >= 50:
		profile.Tier = "high"
	case profile.Score >= 30:
		profile.Tier = "medium"
	default:
		profile.Tier = "low"
	}
	return profile
}

// dedupeCanonical drops requirements already covered by an equivalent,
// verified mapping from a higher-priority framework. The dropped side is not
// silently discarded: the caller records a canonical-dedup explanation for
// it.
func dedupeCanonical(reqs []overlay.Requirement, cat catalog.Snapshot, selected []FrameworkSelection) (kept []overlay.Requirement, dropped []dedupDrop) {
	selectedCodes := map[string]bool{}
	for _, sel := range selected {
		selectedCodes[sel.FrameworkCode] = true
	}
	priority := map[string]int{}
	for _, fw := range cat.Frameworks {
		priority[fw.Code] = fw.Priority
	}
	codeByID := map[string]string{}
	for _, c := range cat.Controls {
		codeByID[c.ID.String()] = c.Code
	}

	// suppressed maps a control code to the code it is deduplicated by.
	suppressed := map[string]string{}
	for _, m := range cat.Mappings {
		if m.Strength != catalog.MappingEquivalent || !m.Verified {
			continue
		}
		if !selectedCodes[m.SourceFramework] || !selectedCodes[m.TargetFramework] {
			continue
		}
		sourceCode := codeByID[m.SourceControl.String()]
		targetCode := codeByID[m.TargetControl.String()]
		if sourceCode == "" || targetCode == "" {
			continue
		}
		// Lower numeric priority wins; the losing framework's control is
		// suppressed. Ties keep both instances.
		switch {
		case priority[m.SourceFramework] < priority[m.TargetFramework]:
			suppressed[targetCode] = sourceCode
		case priority[m.TargetFramework] < priority[m.SourceFramework]:
			suppressed[sourceCode] = targetCode
		}
	}

	for _, req := range reqs {
		if winner, ok := suppressed[req.ControlCode]; ok {
			dropped = append(dropped, dedupDrop{
				Requirement: req,
				CoveredBy:   winner,
				Reason:      fmt.Sprintf("equivalent to %s from a higher-priority framework", winner),
			})
			continue
		}
		kept = append(kept, req)
	}
	return kept, dropped
}

// dedupDrop records one requirement suppressed by canonical mapping dedup.
type dedupDrop struct {
	Requirement overlay.Requirement
	CoveredBy   string
	Reason      string
}
