package graph

import "errors"

// ErrCycleDetected is returned when the node set contains a dependency
// cycle. It is a distinct outcome rather than a panic so callers can apply
// a recovery policy (fail the affected tasks) instead of crashing.
var ErrCycleDetected = errors.New("cycle detected in dependency graph")

// TopologicalSort orders the node set so every node appears after all of
// its in-set dependencies. Uses Kahn's algorithm: repeatedly peel nodes
// whose remaining dependency count has dropped to zero. If nodes remain
// after the peel, they form (or depend on) a cycle and ErrCycleDetected is
// returned. Tie-break among equally ready nodes is unspecified; the
// scheduler, not the sorter, decides concurrent execution order.
func TopologicalSort(g *DependencyGraph) ([]string, error) {
	remaining := make(map[string]int, len(g.Deps))
	queue := make([]string, 0, len(g.Deps))

	for id, deps := range g.Deps {
		remaining[id] = len(deps)
		if len(deps) == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.Deps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dependent := range g.Dependents[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Deps) {
		return nil, ErrCycleDetected
	}

	return order, nil
}
