package whisker

import (
	"fmt"
	"sync/atomic"

	"github.com/whisker-sim/whisker-sim/sim"
)

// Counter wraps a tree as a policy that records how often each leaf
// answers a lookup. Counts are atomic, so one Counter can observe lookups
// from many simulators sharing the same tree concurrently. The underlying
// tree must not be refined while the Counter is in use.
type Counter struct {
	tree   *Tree
	counts []atomic.Uint64
}

// NewCounter returns a counting view over t with all counts at zero.
func NewCounter(t *Tree) *Counter {
	return &Counter{tree: t, counts: make([]atomic.Uint64, len(t.nodes))}
}

// Act implements sim.Policy, incrementing the chosen leaf's count.
func (c *Counter) Act(obs sim.Observation, _ uint32) (sim.Action, error) {
	id, err := c.tree.SelectLeaf(obs)
	if err != nil {
		return sim.Action{}, err
	}
	c.counts[id].Add(1)
	return c.tree.nodes[id].action, nil
}

// Count returns the number of lookups leaf id has answered.
func (c *Counter) Count(id LeafID) uint64 {
	if id < 0 || int(id) >= len(c.counts) {
		return 0
	}
	return c.counts[id].Load()
}

// Total returns the number of lookups across all leaves.
func (c *Counter) Total() uint64 {
	var total uint64
	for i := range c.counts {
		total += c.counts[i].Load()
	}
	return total
}

// Tree returns the wrapped tree.
func (c *Counter) Tree() *Tree { return c.tree }

// Override presents a tree with exactly one leaf's action replaced,
// without copying the arena. It is the cheap candidate form for action
// perturbations: the base tree is read shared and never modified.
type Override struct {
	tree   *Tree
	leaf   LeafID
	action sim.Action
}

// NewOverride returns a view of t in which leaf id acts with action.
func NewOverride(t *Tree, id LeafID, action sim.Action) (*Override, error) {
	if _, err := t.leafNode(id); err != nil {
		return nil, fmt.Errorf("override: %w", err)
	}
	return &Override{tree: t, leaf: id, action: action}, nil
}

// Act implements sim.Policy.
func (o *Override) Act(obs sim.Observation, _ uint32) (sim.Action, error) {
	id, err := o.tree.SelectLeaf(obs)
	if err != nil {
		return sim.Action{}, err
	}
	if id == o.leaf {
		return o.action, nil
	}
	return o.tree.nodes[id].action, nil
}

// Materialize copies the base tree and applies the override, producing an
// independent tree. Called when an override candidate is promoted.
func (o *Override) Materialize() *Tree {
	t := o.tree.Clone()
	if err := t.SetAction(o.leaf, o.action); err != nil {
		panic(err)
	}
	return t
}
