// Package whisker provides the tree-structured decision policy: a recursive
// partition of the observation space whose leaves map observations to
// congestion-control actions.
package whisker

import (
	"fmt"
	"strings"

	"github.com/whisker-sim/whisker-sim/sim"
)

// DefaultMaxMemory bounds the default root domain on every dimension.
// Observations routed through a default tree stay well inside it.
const DefaultMaxMemory = 163840

// DefaultAction is the neutral starting rule for an untrained tree:
// grow the window by one per ACK, pace sends 3 ms apart.
var DefaultAction = sim.Action{WindowIncrement: 1, WindowMultiple: 1.0, IntersendSeconds: 0.003}

// LeafID names a leaf for refinement and counting. IDs are arena indices:
// stable for the lifetime of a tree, never reused, and still valid (as the
// index of the now-internal node) after the leaf itself is refined.
type LeafID = int32

// Whisker is one leaf rule: the action applied to every observation that
// falls inside its domain.
type Whisker struct {
	Action sim.Action
	Domain sim.MemoryRange
}

func (w Whisker) String() string {
	return fmt.Sprintf("%s => %s", w.Domain, w.Action)
}

// node is one arena entry. A node with children is internal and its action
// is ignored; a node without children is a leaf.
type node struct {
	domain   sim.MemoryRange
	children []int32
	action   sim.Action
}

func (n *node) isLeaf() bool { return len(n.children) == 0 }

// Tree is the decision structure: an arena of nodes addressed by index,
// with the root at index 0. Internal nodes hold child indices whose domains
// partition the parent's domain; leaves hold actions. The arena is
// append-only, so node indices are stable across refinements.
//
// A Tree is not safe for concurrent mutation, but any number of goroutines
// may call SelectLeaf and Act concurrently as long as no Refine or
// SetAction runs.
type Tree struct {
	nodes []node
}

// NewTree returns a single-leaf tree in which action governs all of domain.
func NewTree(domain sim.MemoryRange, action sim.Action) (*Tree, error) {
	if err := domain.Validate(); err != nil {
		return nil, fmt.Errorf("root domain: %w", err)
	}
	return &Tree{nodes: []node{{domain: domain, action: action}}}, nil
}

// NewDefaultTree returns the canonical starting point for training: one
// leaf with DefaultAction covering [0, DefaultMaxMemory) on every
// dimension.
func NewDefaultTree() *Tree {
	t, err := NewTree(sim.MemoryRange{
		Upper: sim.Observation{
			AckEWMA:  DefaultMaxMemory,
			SendEWMA: DefaultMaxMemory,
			RTTRatio: DefaultMaxMemory,
		},
	}, DefaultAction)
	if err != nil {
		panic(err)
	}
	return t
}

// Domain returns the root domain, the full region of observation space the
// tree covers.
func (t *Tree) Domain() sim.MemoryRange { return t.nodes[0].domain }

// SelectLeaf descends from the root to the unique leaf whose domain
// contains obs. An observation outside the root domain, or falling between
// child domains, fails with DomainError; lookups never clamp.
func (t *Tree) SelectLeaf(obs sim.Observation) (LeafID, error) {
	if !t.nodes[0].domain.Contains(obs) {
		return -1, &sim.DomainError{Obs: obs}
	}
	id := int32(0)
	for {
		n := &t.nodes[id]
		if n.isLeaf() {
			return id, nil
		}
		next := int32(-1)
		for _, c := range n.children {
			if t.nodes[c].domain.Contains(obs) {
				next = c
				break
			}
		}
		if next < 0 {
			return -1, &sim.DomainError{Obs: obs}
		}
		id = next
	}
}

// Act implements sim.Policy: it returns the action of the leaf governing
// obs. The current window is unused here; callers compose it with the
// returned action.
func (t *Tree) Act(obs sim.Observation, _ uint32) (sim.Action, error) {
	id, err := t.SelectLeaf(obs)
	if err != nil {
		return sim.Action{}, err
	}
	return t.nodes[id].action, nil
}

// Leaf returns the whisker stored at id.
func (t *Tree) Leaf(id LeafID) (Whisker, error) {
	n, err := t.leafNode(id)
	if err != nil {
		return Whisker{}, err
	}
	return Whisker{Action: n.action, Domain: n.domain}, nil
}

// SetAction replaces the action of leaf id.
func (t *Tree) SetAction(id LeafID, action sim.Action) error {
	n, err := t.leafNode(id)
	if err != nil {
		return err
	}
	n.action = action
	return nil
}

func (t *Tree) leafNode(id LeafID) (*node, error) {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil, fmt.Errorf("no node %d in a tree of %d nodes", id, len(t.nodes))
	}
	n := &t.nodes[id]
	if !n.isLeaf() {
		return nil, fmt.Errorf("node %d is internal, not a leaf", id)
	}
	return n, nil
}

// Refine splits leaf id at point along dimension dim, replacing it with an
// internal node over two fresh leaves that partition the old domain. Both
// new leaves inherit the old leaf's action. The split point must lie
// strictly inside the leaf's extent on dim so neither child is empty.
func (t *Tree) Refine(id LeafID, dim int, point float64) ([2]LeafID, error) {
	var none [2]LeafID
	n, err := t.leafNode(id)
	if err != nil {
		return none, err
	}
	if dim < 0 || dim >= sim.NumDims {
		return none, fmt.Errorf("split dimension %d out of range", dim)
	}
	lo, hi := n.domain.Lower.Dim(dim), n.domain.Upper.Dim(dim)
	if !(point > lo && point < hi) {
		return none, fmt.Errorf("split point %g outside (%g, %g) on dimension %d", point, lo, hi, dim)
	}

	below, above := n.domain, n.domain
	below.Upper = below.Upper.WithDim(dim, point)
	above.Lower = above.Lower.WithDim(dim, point)
	inherited := n.action

	a := int32(len(t.nodes))
	b := a + 1
	t.nodes = append(t.nodes,
		node{domain: below, action: inherited},
		node{domain: above, action: inherited},
	)
	// The append may have moved the arena; re-resolve before mutating.
	parent := &t.nodes[id]
	parent.children = []int32{a, b}
	parent.action = sim.Action{}
	return [2]LeafID{a, b}, nil
}

// Clone returns a tree that shares no mutable state with t. Child index
// slices are shared: they are never modified once set, only replaced.
func (t *Tree) Clone() *Tree {
	nodes := make([]node, len(t.nodes))
	copy(nodes, t.nodes)
	return &Tree{nodes: nodes}
}

// NumNodes returns the arena size, counting internal nodes and leaves.
func (t *Tree) NumNodes() int { return len(t.nodes) }

// NumLeaves returns the number of leaf rules, the tree's complexity
// measure.
func (t *Tree) NumLeaves() int {
	leaves := 0
	for i := range t.nodes {
		if t.nodes[i].isLeaf() {
			leaves++
		}
	}
	return leaves
}

// Leaves returns every leaf ID in ascending arena order. The order is
// deterministic for a given refinement history.
func (t *Tree) Leaves() []LeafID {
	ids := make([]LeafID, 0, len(t.nodes))
	for i := range t.nodes {
		if t.nodes[i].isLeaf() {
			ids = append(ids, int32(i))
		}
	}
	return ids
}

// String renders the tree depth-first, one node per line.
func (t *Tree) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "whisker tree: %d leaves\n", t.NumLeaves())
	t.describe(&b, 0, 1)
	return b.String()
}

func (t *Tree) describe(b *strings.Builder, id int32, depth int) {
	n := &t.nodes[id]
	indent := strings.Repeat("  ", depth)
	if n.isLeaf() {
		fmt.Fprintf(b, "%s%s => %s\n", indent, n.domain, n.action)
		return
	}
	fmt.Fprintf(b, "%s%s\n", indent, n.domain)
	for _, c := range n.children {
		t.describe(b, c, depth+1)
	}
}
