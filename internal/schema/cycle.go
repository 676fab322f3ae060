package schema

import (
	"fmt"
	"sort"
	"strings"
)

// CycleWarning reports a recursive path through the relation graph.
//
// Recursive graphs are warnings, not errors, because they are often
// intentional:
//   - Trees (Category.parent → Category)
//   - Mutual references (User.team → Team, Team.members → User)
//
// A nested fill over such a graph is bounded at runtime by the engine's depth
// and cycle guards.
type CycleWarning struct {
	Path    []string `json:"path"`    // Type path: ["Category", "Category"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeCycles finds strongly connected components of the type graph, where
// every relation is an edge from its owner to its related type.
//
// Each component with more than one type, or a single type with a relation to
// itself, becomes one warning. Output is sorted by path for stable reports.
func AnalyzeCycles(r *Registry) []CycleWarning {
	graph := buildRelationGraph(r)
	if len(graph) == 0 {
		return []CycleWarning{}
	}

	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	sort.Slice(warnings, func(i, j int) bool {
		return strings.Join(warnings[i].Path, ",") < strings.Join(warnings[j].Path, ",")
	})
	return warnings
}

// relationGraph maps a type name to the sorted, distinct related type names.
type relationGraph map[string][]string

func buildRelationGraph(r *Registry) relationGraph {
	graph := make(relationGraph)
	for _, t := range r.Types() {
		seen := make(map[string]bool)
		edges := []string{}
		for _, rel := range t.Relations {
			if !seen[rel.Related] {
				seen[rel.Related] = true
				edges = append(edges, rel.Related)
			}
		}
		sort.Strings(edges)
		graph[t.Name] = edges
	}
	return graph
}

func hasSelfLoop(node string, graph relationGraph) bool {
	return hasEdge(graph, node, node)
}

func hasEdge(graph relationGraph, from, to string) bool {
	for _, neighbor := range graph[from] {
		if neighbor == to {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is deterministic.
func tarjanSCC(graph relationGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func cycleSCCToWarning(scc []string, graph relationGraph) CycleWarning {
	if len(scc) == 1 {
		name := scc[0]
		return CycleWarning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Self-referencing relation: %s → %s", name, name),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Recursive relation graph: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks edges inside the component from its first
// member until it returns to the start.
func reconstructCyclePath(scc []string, graph relationGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && !visited[neighbor] {
				next = neighbor
				break
			}
		}
		if next == "" && hasEdge(graph, current, start) {
			next = start
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
