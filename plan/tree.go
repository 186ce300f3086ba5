package plan

import (
	"fmt"
	"sort"
)

// NodeID indexes a stage in the tree's arena
type NodeID int

// Edge wires a parent stage to the child feeding its named input slot
type Edge struct {
	Parent NodeID
	Child  NodeID
	Slot   string
}

// Tree is an arena of stages plus explicit labeled edges. Trees are
// value-immutable: every operation returns a new tree, structurally
// sharing nothing that a holder of the old snapshot could observe
// changing.
type Tree struct {
	nodes []Stage
	edges []Edge
}

func NewTree() *Tree { return &Tree{} }

func (self *Tree) clone() *Tree {
	nodes := make([]Stage, len(self.nodes))
	copy(nodes, self.nodes)
	edges := make([]Edge, len(self.edges))
	copy(edges, self.edges)
	return &Tree{nodes: nodes, edges: edges}
}

func (self *Tree) NumNodes() int { return len(self.nodes) }

// Stage returns a copy of the node's stage so callers cannot reach
// into the arena and mutate a published tree
func (self *Tree) Stage(id NodeID) Stage { return self.nodes[id] }

// AddRoot appends one stage whose inputs are the given existing nodes,
// returning the grown tree and the new node's id. The new node only
// points backward, which is what keeps the plan an append-only DAG.
func (self *Tree) AddRoot(
	stage Stage,
	children map[string]NodeID,
) (*Tree, NodeID, error) {
	if len(children) != stage.NumInputs() {
		return nil, 0, fmt.Errorf(
			"stage %s consumes %d inputs, got %d",
			stage.Type.String(), stage.NumInputs(), len(children),
		)
	}
	out := self.clone()
	id := NodeID(len(out.nodes))
	out.nodes = append(out.nodes, stage)
	for slot, child := range children {
		if child < 0 || int(child) >= len(self.nodes) {
			return nil, 0, fmt.Errorf("child node %d does not exist", int(child))
		}
		out.edges = append(out.edges, Edge{Parent: id, Child: child, Slot: slot})
	}
	return out, id, nil
}

// Merge imports every node and edge of another tree, returning the
// combined tree and the id offset to apply to the other tree's ids
func (self *Tree) Merge(o *Tree) (*Tree, NodeID) {
	out := self.clone()
	offset := NodeID(len(out.nodes))
	out.nodes = append(out.nodes, o.nodes...)
	for _, e := range o.edges {
		out.edges = append(out.edges, Edge{
			Parent: e.Parent + offset,
			Child:  e.Child + offset,
			Slot:   e.Slot,
		})
	}
	return out, offset
}

// Children lists a node's outgoing edges ordered by slot label then
// child id. The ordering is what makes every traversal deterministic.
func (self *Tree) Children(id NodeID) []Edge {
	out := []Edge{}
	for _, e := range self.edges {
		if e.Parent == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].Child < out[j].Child
	})
	return out
}

// DFS returns, in deterministic depth-first pre-order from the root,
// every reachable node matching the predicate. A diamond-reachable
// node is reported once.
func DFS(
	t *Tree,
	root NodeID,
	pred func(s *Stage) bool,
) []NodeID {
	seen := make(map[NodeID]bool)
	out := []NodeID{}
	var walk func(id NodeID)
	walk = func(id NodeID) {
		if seen[id] {
			return
		}
		seen[id] = true
		s := t.nodes[id]
		if pred(&s) {
			out = append(out, id)
		}
		for _, e := range t.Children(id) {
			walk(e.Child)
		}
	}
	walk(root)
	return out
}

// spliceOut removes a single-input node, rewiring every edge that fed
// the node to feed its child instead, preserving slot labels. The
// removed node stays in the arena but becomes unreachable. Used by
// rewrite passes to drop pass-through stages.
func (self *Tree) spliceOut(
	id NodeID,
	root NodeID,
) (*Tree, NodeID, error) {
	children := self.Children(id)
	if len(children) != 1 {
		return nil, 0, fmt.Errorf(
			"cannot splice node %d with %d inputs", int(id), len(children),
		)
	}
	child := children[0].Child

	out := self.clone()
	edges := out.edges[:0]
	for _, e := range out.edges {
		switch {
		case e.Parent == id:
			// the node's own input edge disappears with it
		case e.Child == id:
			edges = append(edges, Edge{Parent: e.Parent, Child: child, Slot: e.Slot})
		default:
			edges = append(edges, e)
		}
	}
	out.edges = edges

	if id == root {
		root = child
	}
	return out, root, nil
}
