// Package graph builds dependency graphs over canvas nodes and orders them
// for execution.
package graph

import "github.com/tcmartin/canvasrunner/pkg/models"

// DependencyGraph holds forward and reverse adjacency for a node set.
// Deps[n] lists the nodes in the set that must complete before n.
// Dependents[n] lists the nodes in the set that n feeds.
type DependencyGraph struct {
	Deps       map[string][]string
	Dependents map[string][]string
}

// Build constructs a dependency graph from the canvas edge list, restricted
// to the given node set. Edges with an endpoint outside the set are ignored:
// they represent inputs already satisfied by a prior run or external data,
// not something this execution must produce. Pure function of its inputs.
func Build(nodeIDs map[string]bool, edges []models.Edge) *DependencyGraph {
	g := &DependencyGraph{
		Deps:       make(map[string][]string, len(nodeIDs)),
		Dependents: make(map[string][]string, len(nodeIDs)),
	}

	// Every node in the set gets an entry, even if isolated
	for id := range nodeIDs {
		g.Deps[id] = nil
		g.Dependents[id] = nil
	}

	for _, edge := range edges {
		if !nodeIDs[edge.SourceNodeID] || !nodeIDs[edge.TargetNodeID] {
			continue
		}
		g.Deps[edge.TargetNodeID] = append(g.Deps[edge.TargetNodeID], edge.SourceNodeID)
		g.Dependents[edge.SourceNodeID] = append(g.Dependents[edge.SourceNodeID], edge.TargetNodeID)
	}

	return g
}

// TransitiveClosure walks reverse edges from the target nodes and returns
// the set of nodes required to satisfy them, targets included. Nodes that
// no longer exist in the canvas are skipped.
func TransitiveClosure(targetIDs []string, snapshot *models.CanvasSnapshot) map[string]bool {
	// Reverse adjacency over the full canvas
	upstream := make(map[string][]string)
	for _, edge := range snapshot.Edges {
		upstream[edge.TargetNodeID] = append(upstream[edge.TargetNodeID], edge.SourceNodeID)
	}

	set := make(map[string]bool)
	stack := make([]string, 0, len(targetIDs))
	for _, id := range targetIDs {
		if _, ok := snapshot.Nodes[id]; ok {
			stack = append(stack, id)
		}
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if set[id] {
			continue
		}
		set[id] = true
		for _, dep := range upstream[id] {
			if _, ok := snapshot.Nodes[dep]; ok && !set[dep] {
				stack = append(stack, dep)
			}
		}
	}

	return set
}
