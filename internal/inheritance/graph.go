// Package inheritance resolves the control inheritance DAG into effective
// per-control requirements. Nodes live in a flat index keyed by control ID
// and edges are explicit (parent, child) pairs; there are no object graphs
// with back-references.
package inheritance

import (
	"time"

	id "controlplane/pkg/domain"
)

// EdgeType classifies how much of the parent a child inherits.
type EdgeType string

const (
	EdgeFull      EdgeType = "Full"
	EdgePartial   EdgeType = "Partial"
	EdgeReference EdgeType = "Reference"
)

// Edge is a directed inheritance edge from a parent control to a child.
type Edge struct {
	Parent id.ControlID
	Child  id.ControlID
	Type   EdgeType
	// Percentage weighs this parent's contribution (0-100). Weights across a
	// child's parents need not sum to 100.
	Percentage int
	// Aspects names the inherited aspect keys. Empty means all of the
	// parent's aspects for EdgeFull, none otherwise.
	Aspects       []string
	EffectiveDate time.Time
	// ExpiryDate bounds the active window [EffectiveDate, ExpiryDate).
	// Nil means no expiry.
	ExpiryDate *time.Time
}

// ActiveAt reports whether the edge is inside its effective window.
func (e Edge) ActiveAt(t time.Time) bool {
	if t.Before(e.EffectiveDate) {
		return false
	}
	return e.ExpiryDate == nil || t.Before(*e.ExpiryDate)
}

// Node carries the catalog facts the merge tie-break order needs.
type Node struct {
	ID   id.ControlID
	Code string
	// Priority is the catalog priority code; lower wins ties.
	Priority      int
	EffectiveDate time.Time
	// Aspects are the control's own requirement aspects.
	Aspects map[string]string
}

// Graph indexes nodes and parent edges for traversal.
type Graph struct {
	nodes   map[id.ControlID]Node
	parents map[id.ControlID][]Edge
}

// NewGraph builds the arena from flat node and edge lists.
func NewGraph(nodes []Node, edges []Edge) *Graph {
	g := &Graph{
		nodes:   make(map[id.ControlID]Node, len(nodes)),
		parents: make(map[id.ControlID][]Edge, len(edges)),
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range edges {
		g.parents[e.Child] = append(g.parents[e.Child], e)
	}
	return g
}

// Node returns the node for a control ID.
func (g *Graph) Node(controlID id.ControlID) (Node, bool) {
	n, ok := g.nodes[controlID]
	return n, ok
}

// ParentEdges returns the inheritance edges pointing at child's parents.
func (g *Graph) ParentEdges(child id.ControlID) []Edge {
	return g.parents[child]
}

// WouldCycle reports whether adding candidate would close a cycle. Catalog
// writes call this so resolution can assume a DAG; it walks parent edges from
// the candidate's parent looking for the candidate's child.
func (g *Graph) WouldCycle(candidate Edge) bool {
	if candidate.Parent == candidate.Child {
		return true
	}
	seen := map[id.ControlID]bool{}
	stack := []id.ControlID{candidate.Parent}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == candidate.Child {
			return true
		}
		if seen[current] {
			continue
		}
		seen[current] = true
		for _, e := range g.parents[current] {
			stack = append(stack, e.Parent)
		}
	}
	return false
}
