// Package graph provides the dependency graph used to order local bindings
// and cross-file references. Nodes are visited in insertion order so that
// cycle reports and evaluation order are deterministic.
package graph

import (
	"fmt"
	"strings"
)

// Graph is a directed graph where an edge from -> to means "from depends on to".
type Graph struct {
	// nodes holds node IDs in insertion order
	nodes []string

	// index maps node IDs to their insertion position
	index map[string]int

	// adjacencyList maps node IDs to the nodes they depend on
	adjacencyList map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:         make(map[string]int),
		adjacencyList: make(map[string][]string),
	}
}

// AddNode registers id. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, exists := g.index[id]; exists {
		return
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, id)
}

// AddEdge records that from depends on to. Both nodes are added if missing.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	for _, existing := range g.adjacencyList[from] {
		if existing == to {
			return
		}
	}
	g.adjacencyList[from] = append(g.adjacencyList[from], to)
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.adjacencyList[id]...)
}

// CycleError reports a circular dependency.
type CycleError struct {
	// Cycle lists the nodes on the cycle; the first node is repeated at the end.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", FormatCycle(e.Cycle))
}

// FindCycles returns every cycle closed by a back edge during a depth-first
// search. Each cycle starts and ends with the same node.
func (g *Graph) FindCycles() [][]string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var cycles [][]string

	for _, id := range g.nodes {
		if !visited[id] {
			g.detectCyclesUtil(id, visited, recStack, nil, &cycles)
		}
	}

	return cycles
}

// detectCyclesUtil performs DFS and appends a cycle for every back edge.
func (g *Graph) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
	cycles *[][]string,
) {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dep := range g.adjacencyList[nodeID] {
		if !visited[dep] {
			g.detectCyclesUtil(dep, visited, recStack, path, cycles)
		} else if recStack[dep] {
			// Found a cycle - construct the cycle path
			for i, id := range path {
				if id == dep {
					cycle := append(append([]string(nil), path[i:]...), dep)
					*cycles = append(*cycles, cycle)
					break
				}
			}
		}
	}

	recStack[nodeID] = false
}

// Order returns the nodes so that every node comes after its dependencies.
// Ties follow insertion order. A cyclic graph yields a *CycleError for the
// first cycle found.
func (g *Graph) Order() ([]string, error) {
	if cycles := g.FindCycles(); len(cycles) > 0 {
		return nil, &CycleError{Cycle: cycles[0]}
	}

	done := make(map[string]bool, len(g.nodes))
	order := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if done[id] {
			return
		}
		done[id] = true
		for _, dep := range g.adjacencyList[id] {
			visit(dep)
		}
		order = append(order, id)
	}

	for _, id := range g.nodes {
		visit(id)
	}

	return order, nil
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT(name string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", name))
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, id := range g.nodes {
		sb.WriteString(fmt.Sprintf("  %q;\n", id))
	}
	for _, id := range g.nodes {
		for _, dep := range g.adjacencyList[id] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", id, dep))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// FormatCycle formats a cycle path for error messages.
func FormatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
