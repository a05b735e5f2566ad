// Package graph provides dependency ordering for named nodes. It is shared by
// the lifecycle registry and the bundle orchestrator so both resolve start
// order and detect cycles the same way.
package graph

import (
	"fmt"
	"sort"
)

// CycleError is returned when the dependency graph contains a cycle. Node is
// the node at which the cycle was detected.
type CycleError struct {
	Node string
}

// Error implements the error interface
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving %q", e.Node)
}

// Sort returns a topological ordering of nodes: every node appears after all
// of its known dependencies. Dependencies naming nodes outside the given set
// are skipped (callers that want strict validation re-check readiness at use
// time). Nodes are visited in sorted-name order so the result is deterministic
// for a given graph.
func Sort(nodes []string, deps func(string) []string) ([]string, error) {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n] = true
	}

	sorted := make([]string, len(nodes))
	copy(sorted, nodes)
	sort.Strings(sorted)

	visited := make(map[string]bool, len(nodes))
	// visiting tracks nodes on the current DFS path for cycle detection
	visiting := make(map[string]bool)
	order := make([]string, 0, len(nodes))

	var visit func(node string) error
	visit = func(node string) error {
		if visiting[node] {
			return &CycleError{Node: node}
		}
		if visited[node] {
			return nil
		}

		visiting[node] = true
		for _, dep := range deps(node) {
			// Skip dependencies that are not part of this graph
			if !known[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		visiting[node] = false
		visited[node] = true

		order = append(order, node)
		return nil
	}

	for _, node := range sorted {
		if !visited[node] {
			if err := visit(node); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

// Reverse returns a copy of order with the elements reversed. Used for
// dependency-ordered teardown.
func Reverse(order []string) []string {
	out := make([]string, len(order))
	for i, name := range order {
		out[len(order)-1-i] = name
	}
	return out
}
