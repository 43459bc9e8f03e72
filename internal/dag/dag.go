// Package dag provides the directed acyclic graph backing model
// dependency resolution: cycle detection with full path reporting,
// deterministic topological ordering, topological layering for
// concurrent execution, and upstream/downstream closures for run
// selection.
package dag

import (
	"fmt"
	"sort"

	"github.com/strataform/strataform/pkg/core"
)

// Node is a vertex in the dependency graph. Data holds either a
// *core.Model or a *core.Source; sources are always leaves.
type Node struct {
	ID   string
	Data any
}

// IsSource reports whether the node is an external source.
func (n *Node) IsSource() bool {
	_, ok := n.Data.(*core.Source)
	return ok
}

// Model returns the node's model, or nil for source nodes.
func (n *Node) Model() *core.Model {
	m, _ := n.Data.(*core.Model)
	return m
}

// Graph is a directed acyclic graph of models and sources. Edges point
// from a dependency to its dependents.
type Graph struct {
	nodes    map[string]*Node
	children map[string][]string // dependency -> dependents
	parents  map[string][]string // dependent -> dependencies
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds a node, replacing the data of an existing one.
func (g *Graph) AddNode(id string, data any) {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.children[id] = nil
	g.parents[id] = nil
}

// AddEdge records that child depends on parent.
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, ok := g.nodes[parentID]; !ok {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, ok := g.nodes[childID]; !ok {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return &core.CycleError{Path: []string{parentID, childID}}
	}
	if !contains(g.children[parentID], childID) {
		g.children[parentID] = append(g.children[parentID], childID)
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the dependencies of a node, sorted by name.
func (g *Graph) Parents(id string) []string {
	return sortedCopy(g.parents[id])
}

// Children returns the dependents of a node, sorted by name.
func (g *Graph) Children(id string) []string {
	return sortedCopy(g.children[id])
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, c := range g.children {
		count += len(c)
	}
	return count
}

// findCycle returns a *core.CycleError naming every node in one cycle,
// or nil when the graph is acyclic. Iteration order is sorted so the
// reported cycle is deterministic.
func (g *Graph) findCycle() *core.CycleError {
	const (
		white = iota // unvisited
		grey         // on the current DFS stack
		black        // fully explored
	)
	color := make(map[string]int, len(g.nodes))
	prev := make(map[string]string)

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = grey
		for _, child := range sortedCopy(g.children[id]) {
			switch color[child] {
			case white:
				prev[child] = id
				if dfs(child) {
					return true
				}
			case grey:
				cycle = []string{child}
				for curr := id; curr != child; curr = prev[curr] {
					cycle = append([]string{curr}, cycle...)
				}
				cycle = append([]string{child}, cycle...)
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range sortedKeys(g.nodes) {
		if color[id] == white && dfs(id) {
			return &core.CycleError{Path: cycle}
		}
	}
	return nil
}

// TopologicalSort returns nodes in dependency order: every node
// appears after all of its parents. Ties are broken by node ID
// ascending so run ordering is deterministic. Fails with a
// *core.CycleError when the graph is cyclic.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if err := g.findCycle(); err != nil {
		return nil, err
	}

	// Kahn's algorithm with a sorted frontier for the name-ascending
	// tie-break.
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.parents[id])
	}

	var frontier []string
	for _, id := range sortedKeys(g.nodes) {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	result := make([]*Node, 0, len(g.nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		result = append(result, g.nodes[id])

		released := make([]string, 0, len(g.children[id]))
		for _, child := range g.children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				released = append(released, child)
			}
		}
		sort.Strings(released)
		frontier = mergeSorted(frontier, released)
	}
	return result, nil
}

// Layers groups node IDs by topological layer: nodes within a layer
// have no dependency relationship among them and may run concurrently.
// Layer 0 holds nodes with no dependencies. Each layer is sorted by
// name.
func (g *Graph) Layers() ([][]string, error) {
	if err := g.findCycle(); err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(g.nodes))
	var layerOf func(id string) int
	layerOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, parent := range g.parents[id] {
			if pd := layerOf(parent) + 1; pd > d {
				d = pd
			}
		}
		depth[id] = d
		return d
	}

	maxDepth := 0
	for id := range g.nodes {
		if d := layerOf(id); d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]string, maxDepth+1)
	for id, d := range depth {
		layers[d] = append(layers[d], id)
	}
	for i := range layers {
		sort.Strings(layers[i])
	}
	return layers, nil
}

// Layer returns the topological layer of a single node.
func (g *Graph) Layer(id string) int {
	seen := make(map[string]int)
	var layerOf func(id string) int
	layerOf = func(id string) int {
		if d, ok := seen[id]; ok {
			return d
		}
		d := 0
		for _, parent := range g.parents[id] {
			if pd := layerOf(parent) + 1; pd > d {
				d = pd
			}
		}
		seen[id] = d
		return d
	}
	return layerOf(id)
}

// Downstream returns the given nodes plus every transitive dependent,
// sorted by name.
func (g *Graph) Downstream(ids []string) []string {
	return g.closure(ids, g.children)
}

// Upstream returns the given nodes plus every transitive dependency,
// sorted by name.
func (g *Graph) Upstream(ids []string) []string {
	return g.closure(ids, g.parents)
}

func (g *Graph) closure(ids []string, next map[string][]string) []string {
	seen := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, n := range next[id] {
			walk(n)
		}
	}
	for _, id := range ids {
		if _, ok := g.nodes[id]; ok {
			walk(id)
		}
	}
	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Subgraph returns a new graph over the given nodes with the edges
// among them.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := New()
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			keep[id] = true
			sub.AddNode(id, n.Data)
		}
	}
	for _, id := range ids {
		for _, child := range g.children[id] {
			if keep[child] {
				_ = sub.AddEdge(id, child)
			}
		}
	}
	return sub
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

func sortedCopy(slice []string) []string {
	out := make([]string, len(slice))
	copy(out, slice)
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// mergeSorted merges two sorted string slices into one sorted slice.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
