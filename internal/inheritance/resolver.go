package inheritance

import (
	"sort"
	"time"

	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

// Provenance records which parent contributed an inherited aspect, so the
// explainability generator can cite the winning edge.
type Provenance struct {
	Aspect     string
	ParentID   id.ControlID
	ParentCode string
	Percentage int
}

// EffectiveRequirement is the fully resolved requirement set for one control:
// the control's own aspects overlaid on everything it inherits.
type EffectiveRequirement struct {
	ControlID  id.ControlID
	Code       string
	Aspects    map[string]string
	Provenance []Provenance
}

// contribution is one parent's candidate value for an aspect during merge.
type contribution struct {
	value  string
	parent Node
	edge   Edge
}

// Resolve traverses parent edges breadth-first from the target control and
// merges inherited aspects. Resolution assumes a DAG; cycles are rejected at
// edge creation. A cycle observed here means catalog validation was bypassed
// and resolution must abort rather than loop.
//
// Aspect conflicts between parents are settled by a fixed total order:
// higher inheritance percentage, then lower parent catalog priority, then
// most recent parent EffectiveDate, then parent code ascending. The final
// code tie-break never decides between distinct well-formed catalogs; it
// exists so the order is total and output deterministic.
func Resolve(controlID id.ControlID, g *Graph, at time.Time) (EffectiveRequirement, error) {
	root, ok := g.Node(controlID)
	if !ok {
		return EffectiveRequirement{}, dErrors.Newf(dErrors.CodeResolution,
			"control %s not present in inheritance graph", controlID)
	}

	contributions := map[string][]contribution{}
	visited := map[id.ControlID]bool{controlID: true}
	frontier := []id.ControlID{controlID}
	// A DAG over n nodes can be exhausted in n BFS levels; one extra level
	// of progress past that means a cycle slipped through edge validation.
	for depth := 0; len(frontier) > 0; depth++ {
		if depth > len(g.nodes) {
			return EffectiveRequirement{}, dErrors.New(dErrors.CodeResolution,
				"inheritance graph contains a cycle; catalog validation was bypassed")
		}
		var next []id.ControlID
		for _, current := range frontier {
			for _, edge := range g.ParentEdges(current) {
				if !edge.ActiveAt(at) {
					continue
				}
				parent, ok := g.Node(edge.Parent)
				if !ok {
					return EffectiveRequirement{}, dErrors.Newf(dErrors.CodeResolution,
						"inheritance edge references unknown parent control %s", edge.Parent)
				}
				for aspect, value := range inheritedAspects(parent, edge) {
					contributions[aspect] = append(contributions[aspect], contribution{
						value:  value,
						parent: parent,
						edge:   edge,
					})
				}
				if !visited[edge.Parent] {
					visited[edge.Parent] = true
					next = append(next, edge.Parent)
				}
			}
		}
		frontier = next
	}

	effective := EffectiveRequirement{
		ControlID: controlID,
		Code:      root.Code,
		Aspects:   make(map[string]string, len(root.Aspects)+len(contributions)),
	}

	aspectNames := make([]string, 0, len(contributions))
	for aspect := range contributions {
		aspectNames = append(aspectNames, aspect)
	}
	sort.Strings(aspectNames)

	for _, aspect := range aspectNames {
		winner := pickWinner(contributions[aspect])
		effective.Aspects[aspect] = winner.value
		effective.Provenance = append(effective.Provenance, Provenance{
			Aspect:     aspect,
			ParentID:   winner.parent.ID,
			ParentCode: winner.parent.Code,
			Percentage: winner.edge.Percentage,
		})
	}

	// The control's own aspects always override anything inherited.
	for aspect, value := range root.Aspects {
		effective.Aspects[aspect] = value
	}

	return effective, nil
}

// inheritedAspects selects which of the parent's aspects flow down the edge.
func inheritedAspects(parent Node, edge Edge) map[string]string {
	if edge.Type == EdgeFull && len(edge.Aspects) == 0 {
		return parent.Aspects
	}
	selected := make(map[string]string, len(edge.Aspects))
	for _, name := range edge.Aspects {
		if value, ok := parent.Aspects[name]; ok {
			selected[name] = value
		}
	}
	return selected
}

// pickWinner applies the documented conflict order to one aspect's candidates.
func pickWinner(candidates []contribution) contribution {
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if beats(c, winner) {
			winner = c
		}
	}
	return winner
}

func beats(a, b contribution) bool {
	if a.edge.Percentage != b.edge.Percentage {
		return a.edge.Percentage > b.edge.Percentage
	}
	if a.parent.Priority != b.parent.Priority {
		return a.parent.Priority < b.parent.Priority
	}
	if !a.parent.EffectiveDate.Equal(b.parent.EffectiveDate) {
		return a.parent.EffectiveDate.After(b.parent.EffectiveDate)
	}
	return a.parent.Code < b.parent.Code
}
