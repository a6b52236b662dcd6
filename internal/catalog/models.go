// Package catalog is the read-mostly repository of canonical controls,
// frameworks, inheritance edges, cross-framework mappings, applicability
// rules and overlays. Published records are immutable; a new control version
// is a new record.
package catalog

import (
	"sort"
	"time"

	"controlplane/internal/inheritance"
	"controlplane/internal/overlay"
	"controlplane/internal/rules"
	id "controlplane/pkg/domain"
)

// ControlStatus tracks a control's catalog lifecycle.
type ControlStatus string

const (
	ControlDraft   ControlStatus = "Draft"
	ControlActive  ControlStatus = "Active"
	ControlRetired ControlStatus = "Retired"
)

// Control is one canonical catalog control.
type Control struct {
	ID            id.ControlID
	Code          string
	Name          string
	NameAr        string
	Domain        string
	FrameworkCode string
	Status        ControlStatus
	// Priority is the catalog priority code; lower numbers outrank higher
	// ones in inheritance tie-breaks and materialization order.
	Priority        int
	EvidenceCadence string
	Aspects         map[string]string
	EffectiveDate   time.Time
	Version         int
}

// Framework is a regulatory framework whose baseline the engine can select.
type Framework struct {
	ID          id.FrameworkID
	Code        string
	Name        string
	NameAr      string
	Version     string
	IssuingBody string
	CountryCode string
	// Mandatory marks frameworks that apply by regulation rather than
	// election, subject to ApplicableSectors.
	Mandatory bool
	// ApplicableSectors limits mandatory application; empty means all.
	ApplicableSectors []string
	Priority          int
	Active            bool
}

// MappingStrength grades a cross-framework control equivalence.
type MappingStrength string

const (
	MappingEquivalent MappingStrength = "Equivalent"
	MappingSubset     MappingStrength = "Subset"
	MappingRelated    MappingStrength = "Related"
)

// ControlMapping is a cross-framework equivalence edge used to avoid
// materializing the same obligation twice when both frameworks are selected.
type ControlMapping struct {
	SourceControl   id.ControlID
	TargetControl   id.ControlID
	SourceFramework string
	TargetFramework string
	Strength        MappingStrength
	// Confidence is 0-100.
	Confidence int
	Verified   bool
	VerifiedBy string
}

// Snapshot is the complete read-only catalog slice one resolution run works
// from: loaded once, passed by value through the pipeline stages.
type Snapshot struct {
	Controls   []Control
	Frameworks []Framework
	Mappings   []ControlMapping
	Edges      []inheritance.Edge
	RuleSet    rules.RuleSet
	Overlays   []overlay.Overlay
}

// ControlsByFramework returns the active controls owned by a framework code,
// ordered by priority then code so materialization order is stable.
func (s Snapshot) ControlsByFramework(frameworkCode string) []Control {
	var out []Control
	for _, c := range s.Controls {
		if c.FrameworkCode == frameworkCode && c.Status == ControlActive {
			out = append(out, c)
		}
	}
	sortControls(out)
	return out
}

// FrameworkByCode finds an active framework by code.
func (s Snapshot) FrameworkByCode(code string) (Framework, bool) {
	for _, f := range s.Frameworks {
		if f.Code == code && f.Active {
			return f, true
		}
	}
	return Framework{}, false
}

// Graph builds the inheritance graph over this catalog slice.
func (s Snapshot) Graph() *inheritance.Graph {
	nodes := make([]inheritance.Node, 0, len(s.Controls))
	for _, c := range s.Controls {
		nodes = append(nodes, inheritance.Node{
			ID:            c.ID,
			Code:          c.Code,
			Priority:      c.Priority,
			EffectiveDate: c.EffectiveDate,
			Aspects:       c.Aspects,
		})
	}
	return inheritance.NewGraph(nodes, s.Edges)
}

func sortControls(controls []Control) {
	sort.SliceStable(controls, func(i, j int) bool {
		if controls[i].Priority != controls[j].Priority {
			return controls[i].Priority < controls[j].Priority
		}
		return controls[i].Code < controls[j].Code
	})
}
